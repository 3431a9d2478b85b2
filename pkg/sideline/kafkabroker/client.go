// Package kafkabroker is the franz-go backed implementation of
// sideline.BrokerClient: partition discovery and seeking go through
// kadm.Client, fetching and manual partition assignment go through
// kgo.Client configured for direct (non-group-managed) consumption, exactly
// the static-shard model AssignPartitions computes.
package kafkabroker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"

	"github.com/grafana/dskit/backoff"

	"github.com/grafana/kafka-sideline/pkg/sideline"
	"github.com/grafana/kafka-sideline/pkg/sideline/sidelinelog"
)

// pollTimeout bounds each individual Poll call so it behaves as the
// non-blocking fetch sideline.BrokerClient.Poll documents, rather than the
// long-poll kgo.Client.PollRecords defaults to.
const pollTimeout = 250 * time.Millisecond

// discoveryBackoff bounds retries around the ListTopics admin call in
// PartitionsFor, mirroring the retry shape grafana-tempo's Kafka config
// tests use around partition discovery. Other admin calls are not retried.
var discoveryBackoff = backoff.Config{
	MinBackoff: 100 * time.Millisecond,
	MaxBackoff: 2 * time.Second,
	MaxRetries: 5,
}

// Client wraps a kgo.Client configured for direct partition consumption.
// Unlike a group-managed consumer, all rebalancing is driven externally by
// AssignPartitions; Client.Assign simply applies whatever set it is given.
type Client struct {
	cl  *kgo.Client
	adm *kadm.Client

	mu        sync.Mutex
	positions map[sideline.PartitionKey]sideline.Offset
}

// New dials a Kafka cluster at cfg.BrokerHosts. reg may be nil to skip
// client-level metrics registration.
func New(cfg sideline.Config, reg prometheus.Registerer) (*Client, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.BrokerHosts...),
		kgo.ClientID(cfg.ConsumerID),
	}
	if reg != nil {
		m := kprom.NewMetrics("sideline_kafka", kprom.Registerer(reg))
		opts = append(opts, kgo.WithHooks(m))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Client{
		cl:        cl,
		adm:       kadm.NewClient(cl),
		positions: make(map[sideline.PartitionKey]sideline.Offset),
	}, nil
}

// PartitionsFor returns topic's partition indexes, ascending.
func (c *Client) PartitionsFor(ctx context.Context, topic string) ([]int32, error) {
	var numbers []int32

	b := backoff.New(ctx, discoveryBackoff)
	var lastErr error
	for b.Ongoing() {
		details, err := c.adm.ListTopics(ctx, topic)
		if err == nil {
			err = details.Error()
		}
		if err == nil {
			numbers = details[topic].Partitions.Numbers()
			lastErr = nil
			break
		}
		lastErr = err
		level.Warn(sidelinelog.Logger).Log("msg", "listing topic partitions failed, retrying", "topic", topic, "err", err)
		b.Wait()
	}
	if lastErr != nil {
		return nil, fmt.Errorf("list partitions for %s: %w", topic, lastErr)
	}

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers, nil
}

// Assign replaces the client's direct-consumption partition set with
// exactly partitions, adding and removing assignments relative to whatever
// was previously assigned.
func (c *Client) Assign(_ context.Context, partitions []sideline.PartitionKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := make(map[sideline.PartitionKey]bool, len(partitions))
	for _, pk := range partitions {
		want[pk] = true
	}

	toRemove := map[string][]int32{}
	for pk := range c.positions {
		if !want[pk] {
			toRemove[pk.Topic] = append(toRemove[pk.Topic], pk.Partition)
			delete(c.positions, pk)
		}
	}
	if len(toRemove) > 0 {
		c.cl.RemoveConsumePartitions(toRemove)
	}

	toAdd := map[string]map[int32]kgo.Offset{}
	for pk := range want {
		if _, already := c.positions[pk]; already {
			continue
		}
		if toAdd[pk.Topic] == nil {
			toAdd[pk.Topic] = map[int32]kgo.Offset{}
		}
		toAdd[pk.Topic][pk.Partition] = kgo.NewOffset().AtStart()
		c.positions[pk] = 0
	}
	if len(toAdd) > 0 {
		c.cl.AddConsumePartitions(toAdd)
	}

	return nil
}

// Seek moves partition's read position to offset.
func (c *Client) Seek(_ context.Context, partition sideline.PartitionKey, offset sideline.Offset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		partition.Topic: {partition.Partition: {Epoch: -1, Offset: int64(offset)}},
	})
	if err != nil {
		return fmt.Errorf("seek %s/%d to %d: %w", partition.Topic, partition.Partition, offset, err)
	}
	c.positions[partition] = offset
	return nil
}

// SeekToBeginning moves each listed partition's read position to the
// earliest offset the broker currently retains.
func (c *Client) SeekToBeginning(ctx context.Context, partitions []sideline.PartitionKey) error {
	byTopic := map[string][]int32{}
	for _, pk := range partitions {
		byTopic[pk.Topic] = append(byTopic[pk.Topic], pk.Partition)
	}

	for topic, wanted := range byTopic {
		listed, err := c.adm.ListStartOffsets(ctx, topic)
		if err != nil {
			return fmt.Errorf("list start offsets for %s: %w", topic, err)
		}

		wantSet := make(map[int32]bool, len(wanted))
		for _, p := range wanted {
			wantSet[p] = true
		}

		epochOffsets := map[int32]kgo.EpochOffset{}
		c.mu.Lock()
		listed.Each(func(lo kadm.ListedOffset) {
			if !wantSet[lo.Partition] {
				return
			}
			epochOffsets[lo.Partition] = kgo.EpochOffset{Epoch: -1, Offset: lo.Offset}
			c.positions[sideline.PartitionKey{Topic: topic, Partition: lo.Partition}] = sideline.Offset(lo.Offset)
		})
		c.mu.Unlock()

		if err := c.cl.SetOffsets(map[string]map[int32]kgo.EpochOffset{topic: epochOffsets}); err != nil {
			return fmt.Errorf("seek %s to beginning: %w", topic, err)
		}
	}
	return nil
}

// Position returns the offset this client last recorded for partition,
// via Assign, Seek, SeekToBeginning, or a prior Poll.
func (c *Client) Position(_ context.Context, partition sideline.PartitionKey) (sideline.Offset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.positions[partition]
	if !ok {
		return 0, fmt.Errorf("no known position for %s/%d: not assigned", partition.Topic, partition.Partition)
	}
	return o, nil
}

// Poll performs one bounded fetch across every assigned partition.
func (c *Client) Poll(ctx context.Context, maxRecords int) ([]sideline.Record, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	fetches := c.cl.PollRecords(pollCtx, maxRecords)

	var offsetErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, kerr.OffsetOutOfRange) {
			offsetErr = &sideline.OffsetOutOfRangeError{Partition: sideline.PartitionKey{Topic: topic, Partition: partition}}
			return
		}
		level.Warn(sidelinelog.Logger).Log("msg", "fetch error", "topic", topic, "partition", partition, "err", err)
	})
	if offsetErr != nil {
		return nil, offsetErr
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) && fetches.Empty() {
		return nil, nil
	}

	records := make([]sideline.Record, 0, maxRecords)
	c.mu.Lock()
	fetches.EachRecord(func(r *kgo.Record) {
		pk := sideline.PartitionKey{Topic: r.Topic, Partition: r.Partition}
		records = append(records, sideline.Record{
			Key:       pk,
			Offset:    sideline.Offset(r.Offset),
			Value:     r.Value,
			Timestamp: r.Timestamp.UnixMilli(),
		})
		c.positions[pk] = sideline.Offset(r.Offset + 1)
	})
	c.mu.Unlock()

	return records, nil
}

// Close releases the underlying Kafka client and its admin client.
func (c *Client) Close() error {
	c.adm.Close()
	c.cl.Close()
	return nil
}

var _ sideline.BrokerClient = (*Client)(nil)
