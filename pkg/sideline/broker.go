package sideline

import (
	"context"
	"fmt"
)

// BrokerClient is the capability set the core needs from the underlying
// Kafka client: partition discovery, static assignment, seeking, position
// queries, and non-blocking polling. The broker's wire protocol itself is
// out of scope for this core — pkg/sideline/kafkabroker supplies the
// franz-go backed implementation of this contract.
type BrokerClient interface {
	// PartitionsFor returns the partition indexes of topic, ascending.
	PartitionsFor(ctx context.Context, topic string) ([]int32, error)
	// Assign replaces the broker client's static partition assignment.
	Assign(ctx context.Context, partitions []PartitionKey) error
	// Seek moves partition's read position to offset.
	Seek(ctx context.Context, partition PartitionKey, offset Offset) error
	// SeekToBeginning moves each partition's read position to the earliest
	// available offset.
	SeekToBeginning(ctx context.Context, partitions []PartitionKey) error
	// Position returns the offset that the next Poll would read for partition.
	Position(ctx context.Context, partition PartitionKey) (Offset, error)
	// Poll performs a single non-blocking fetch, returning up to maxRecords
	// newly available records across all assigned partitions.
	Poll(ctx context.Context, maxRecords int) ([]Record, error)
	// Close releases the broker client's resources.
	Close() error
}

// OffsetOutOfRangeError signals that a stored or requested offset no longer
// exists in the partition's log (truncated by retention or compaction),
// tagged with the partition it occurred on.
type OffsetOutOfRangeError struct {
	Partition PartitionKey
}

func (e *OffsetOutOfRangeError) Error() string {
	return fmt.Sprintf("offset out of range for partition %s/%d", e.Partition.Topic, e.Partition.Partition)
}

// BrokerUnavailableError signals a transient broker communication failure;
// the Consumer remains Open and the caller may retry.
type BrokerUnavailableError struct {
	Topic string
	Err   error
}

func (e *BrokerUnavailableError) Error() string {
	return fmt.Sprintf("broker unavailable for topic %s: %v", e.Topic, e.Err)
}

func (e *BrokerUnavailableError) Unwrap() error { return e.Err }
