package sideline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/grafana/kafka-sideline/pkg/sideline/sidelinelog"
)

type lifecycleState int

const (
	stateNew lifecycleState = iota
	stateOpen
	stateClosed
)

// Consumer is the New -> Open -> Closed state machine: it computes a
// partition assignment, initializes per-partition offset managers from
// persisted state (or the earliest available offset), recovers from
// invalid stored offsets, and drives fetch/ack/flush.
//
// A Consumer is single-threaded cooperative from the caller's perspective:
// one logical driver goroutine is expected to call NextRecord, CommitOffset,
// TimedFlushConsumerState and UnsubscribeTopicPartition in a serialized
// loop. The internal mutex exists to make misuse safe, not to offer a
// concurrent-access contract.
type Consumer struct {
	cfg         Config
	broker      BrokerClient
	persistence PersistenceAdapter
	clock       Clock
	metrics     *Metrics

	mu          sync.Mutex
	state       lifecycleState
	managers    map[PartitionKey]*PartitionOffsetManager
	buffer      *recordBuffer
	lastFlushAt time.Time

	// processed is updated under mu but read lock-free, so a monitoring
	// goroutine can observe throughput without contending with the
	// single-threaded fetch/ack loop.
	processed atomic.Int64
}

// NewConsumer constructs a Consumer in the New state. clock and metrics may
// be nil, in which case a WallClock and an unregistered Metrics are used.
func NewConsumer(cfg Config, broker BrokerClient, persistence PersistenceAdapter, clock Clock, metrics *Metrics) *Consumer {
	if clock == nil {
		clock = WallClock{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Consumer{
		cfg:         cfg,
		broker:      broker,
		persistence: persistence,
		clock:       clock,
		metrics:     metrics,
		state:       stateNew,
	}
}

func managerLabel(consumerID string, pk PartitionKey) string {
	return fmt.Sprintf("%s/%s/%d", consumerID, pk.Topic, pk.Partition)
}

// Open runs the startup protocol: discover the topic's partitions, shard
// them via AssignPartitions, assign them to the broker client, and seed a
// PartitionOffsetManager per owned partition from either persisted state or
// the broker's earliest available offset.
func (c *Consumer) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateNew {
		return ErrAlreadyOpen
	}

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.persistence.Open(ctx); err != nil {
		return fmt.Errorf("open persistence adapter: %w", err)
	}

	partitions, err := c.broker.PartitionsFor(ctx, c.cfg.Topic)
	if err != nil {
		return &BrokerUnavailableError{Topic: c.cfg.Topic, Err: err}
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	owned := AssignPartitions(partitions, c.cfg.NumberOfConsumers, c.cfg.IndexOfConsumer)
	ownedKeys := make([]PartitionKey, len(owned))
	for i, p := range owned {
		ownedKeys[i] = PartitionKey{Topic: c.cfg.Topic, Partition: p}
	}

	if err := c.broker.Assign(ctx, ownedKeys); err != nil {
		return &BrokerUnavailableError{Topic: c.cfg.Topic, Err: err}
	}

	managers := make(map[PartitionKey]*PartitionOffsetManager, len(ownedKeys))
	for _, pk := range ownedKeys {
		m, err := c.initPartition(ctx, pk)
		if err != nil {
			return err
		}
		managers[pk] = m
	}

	c.managers = managers
	c.buffer = newRecordBuffer(int(c.cfg.TupleBufferMaxSize))
	c.state = stateOpen
	c.lastFlushAt = c.clock.Now()
	return nil
}

// initPartition seeds a single owned partition's starting offset and
// PartitionOffsetManager.
func (c *Consumer) initPartition(ctx context.Context, pk PartitionKey) (*PartitionOffsetManager, error) {
	committed, found, err := c.persistence.RetrieveConsumerOffset(ctx, ConsumerID(c.cfg.ConsumerID), pk.Partition)
	if err != nil {
		return nil, fmt.Errorf("retrieve committed offset for %s/%d: %w", pk.Topic, pk.Partition, err)
	}

	if found {
		if err := c.broker.Seek(ctx, pk, committed+1); err != nil {
			return nil, fmt.Errorf("seek %s/%d to %d: %w", pk.Topic, pk.Partition, committed+1, err)
		}
		return NewPartitionOffsetManager(managerLabel(c.cfg.ConsumerID, pk), committed), nil
	}

	return c.resetToEarliest(ctx, pk)
}

// resetToEarliest seeks partition to the broker's earliest available offset
// and returns a freshly-initialized manager for it. Used both for
// partitions with no persisted state and for the invalid stored offset
// recovery path.
func (c *Consumer) resetToEarliest(ctx context.Context, pk PartitionKey) (*PartitionOffsetManager, error) {
	if err := c.broker.SeekToBeginning(ctx, []PartitionKey{pk}); err != nil {
		return nil, fmt.Errorf("seek %s/%d to beginning: %w", pk.Topic, pk.Partition, err)
	}
	earliest, err := c.broker.Position(ctx, pk)
	if err != nil {
		return nil, fmt.Errorf("read position for %s/%d: %w", pk.Topic, pk.Partition, err)
	}
	return NewPartitionOffsetManager(managerLabel(c.cfg.ConsumerID, pk), earliest-1), nil
}

// NextRecord returns the next staged record, or nil if none is currently
// available (the buffer is empty and a non-blocking fetch yielded nothing).
// Before returning a record it calls StartOffset on the owning partition's
// manager.
func (c *Consumer) NextRecord(ctx context.Context) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return nil, ErrNotOpen
	}

	if r, ok := c.buffer.tryPop(); ok {
		c.startOffsetLocked(r)
		return &r, nil
	}

	free := c.buffer.freeCapacity()
	if free <= 0 {
		return nil, nil
	}

	records, err := c.broker.Poll(ctx, free)
	if err != nil {
		var oor *OffsetOutOfRangeError
		if errors.As(err, &oor) {
			if recErr := c.recoverInvalidOffsetLocked(ctx, oor.Partition); recErr != nil {
				return nil, recErr
			}
			// Recovered locally; the caller retries on its next call.
			return nil, nil
		}
		var bu *BrokerUnavailableError
		if errors.As(err, &bu) {
			return nil, bu
		}
		return nil, err
	}

	for _, r := range records {
		if !c.buffer.tryPush(r) {
			break // buffer full: back-pressure, the rest of this batch is simply not staged
		}
	}

	r, ok := c.buffer.tryPop()
	if !ok {
		return nil, nil
	}
	c.startOffsetLocked(r)
	return &r, nil
}

// recoverInvalidOffsetLocked resets the single affected partition to the
// earliest available offset and reinitializes its manager, leaving every
// other partition untouched.
func (c *Consumer) recoverInvalidOffsetLocked(ctx context.Context, pk PartitionKey) error {
	m, err := c.resetToEarliest(ctx, pk)
	if err != nil {
		return err
	}
	level.Warn(sidelinelog.Logger).Log(
		"msg", "persisted offset out of range, reset partition to earliest", "topic", pk.Topic, "partition", pk.Partition)
	c.managers[pk] = m
	return nil
}

func (c *Consumer) startOffsetLocked(r Record) {
	m, ok := c.managers[r.Key]
	if !ok {
		level.Warn(sidelinelog.Logger).Log(
			"msg", "record for unowned partition, ignoring", "topic", r.Key.Topic, "partition", r.Key.Partition)
		return
	}
	m.StartOffset(r.Offset)
	c.processed.Inc()
	c.updatePartitionMetricsLocked(r.Key, m)
}

// RecordsProcessed returns the number of records handed out by NextRecord so
// far. Safe to call from a goroutine other than the one driving the
// fetch/ack loop, e.g. a metrics or health-check handler.
func (c *Consumer) RecordsProcessed() int64 {
	return c.processed.Load()
}

// CommitOffset acknowledges offset on the owning partition's manager. A
// commit for a partition this Consumer does not own is logged and ignored.
func (c *Consumer) CommitOffset(pk PartitionKey, offset Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return ErrNotOpen
	}

	m, ok := c.managers[pk]
	if !ok {
		level.Warn(sidelinelog.Logger).Log(
			"msg", "commit for unowned partition, ignoring", "topic", pk.Topic, "partition", pk.Partition)
		return nil
	}
	m.FinishOffset(offset)
	c.updatePartitionMetricsLocked(pk, m)
	return nil
}

// CommitRecord is CommitOffset(record.Key, record.Offset).
func (c *Consumer) CommitRecord(r Record) error {
	return c.CommitOffset(r.Key, r.Offset)
}

// FlushConsumerState builds a ConsumerState from every owned manager's
// LastFinishedOffset and persists each entry.
func (c *Consumer) FlushConsumerState(ctx context.Context) (ConsumerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return ConsumerState{}, ErrNotOpen
	}
	return c.flushLocked(ctx)
}

func (c *Consumer) flushLocked(ctx context.Context) (ConsumerState, error) {
	snapshot := make(map[PartitionKey]Offset, len(c.managers))
	for pk, m := range c.managers {
		snapshot[pk] = m.LastFinishedOffset()
	}
	for pk, off := range snapshot {
		if err := c.persistence.PersistConsumerOffset(ctx, ConsumerID(c.cfg.ConsumerID), pk.Partition, off); err != nil {
			return ConsumerState{}, fmt.Errorf("persist offset for %s/%d: %w", pk.Topic, pk.Partition, err)
		}
	}
	return newConsumerState(snapshot), nil
}

// TimedFlushConsumerState flushes only if auto-commit is enabled and at
// least AutoCommitInterval has elapsed since the last flush. It returns
// nil, nil when no flush was performed.
func (c *Consumer) TimedFlushConsumerState(ctx context.Context) (*ConsumerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return nil, ErrNotOpen
	}
	if !c.cfg.ConsumerStateAutoCommit {
		return nil, nil
	}
	if c.clock.Now().Sub(c.lastFlushAt) < c.cfg.AutoCommitInterval() {
		return nil, nil
	}

	st, err := c.flushLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.lastFlushAt = c.clock.Now()
	return &st, nil
}

// UnsubscribeTopicPartition drops an owned partition's manager and removes
// it from the broker client's assignment. It is idempotent: unsubscribing a
// partition this Consumer does not own returns false. The partition's
// persisted offset is not cleared by this operation alone.
func (c *Consumer) UnsubscribeTopicPartition(ctx context.Context, pk PartitionKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return false, ErrNotOpen
	}
	if _, ok := c.managers[pk]; !ok {
		return false, nil
	}
	delete(c.managers, pk)

	remaining := make([]PartitionKey, 0, len(c.managers))
	for k := range c.managers {
		remaining = append(remaining, k)
	}
	if err := c.broker.Assign(ctx, remaining); err != nil {
		return true, fmt.Errorf("reassign after unsubscribing %s/%d: %w", pk.Topic, pk.Partition, err)
	}
	return true, nil
}

// RemoveConsumerState flushes current state for durability, then clears
// every persisted offset for this ConsumerID, including partitions no
// longer assigned. Used when permanently decommissioning a consumer
// identity.
func (c *Consumer) RemoveConsumerState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return ErrNotOpen
	}
	if _, err := c.flushLocked(ctx); err != nil {
		return err
	}
	return c.persistence.RemoveConsumerState(ctx, ConsumerID(c.cfg.ConsumerID))
}

// CurrentState returns a live snapshot of every owned partition's
// LastFinishedOffset without persisting anything.
func (c *Consumer) CurrentState() (ConsumerState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return ConsumerState{}, ErrNotOpen
	}
	snapshot := make(map[PartitionKey]Offset, len(c.managers))
	for pk, m := range c.managers {
		snapshot[pk] = m.LastFinishedOffset()
	}
	return newConsumerState(snapshot), nil
}

// GetAssignedPartitions returns the partitions currently owned by this
// Consumer.
func (c *Consumer) GetAssignedPartitions() ([]PartitionKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateOpen {
		return nil, ErrNotOpen
	}
	keys := make([]PartitionKey, 0, len(c.managers))
	for k := range c.managers {
		keys = append(keys, k)
	}
	return keys, nil
}

// Close is idempotent: it releases the broker client and persistence
// adapter and transitions to Closed. Calling Close from New or Closed is a
// harmless no-op beyond releasing resources.
func (c *Consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}

	var errs []error
	if err := c.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close broker client: %w", err))
	}
	if err := c.persistence.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close persistence adapter: %w", err))
	}
	c.state = stateClosed

	return errors.Join(errs...)
}

func (c *Consumer) updatePartitionMetricsLocked(pk PartitionKey, m *PartitionOffsetManager) {
	labels := prometheus.Labels{"topic": pk.Topic, "partition": strconv.Itoa(int(pk.Partition))}
	c.metrics.trackedOffsets.With(labels).Set(float64(m.TrackedCount()))
	oooCount := m.FinishedOutOfOrderCount()
	c.metrics.finishedOutOfOrderCount.With(labels).Set(float64(oooCount))
	c.metrics.lastFinishedOffset.With(labels).Set(float64(m.LastFinishedOffset()))

	if c.cfg.FinishedOutOfOrderWarnThreshold > 0 && oooCount > c.cfg.FinishedOutOfOrderWarnThreshold {
		level.Warn(sidelinelog.Logger).Log(
			"msg", "finished_out_of_order set exceeds warn threshold",
			"topic", pk.Topic, "partition", pk.Partition, "size", oooCount,
			"threshold", c.cfg.FinishedOutOfOrderWarnThreshold)
	}
}
