package kafkabroker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kfake"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"github.com/grafana/kafka-sideline/pkg/sideline"
)

func newTestCluster(t *testing.T, topic string, partitions int32) string {
	t.Helper()
	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(partitions, topic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	addrs := cluster.ListenAddrs()
	require.Len(t, addrs, 1)
	return addrs[0]
}

func TestClient_PartitionsForAndSeekRoundTrip(t *testing.T) {
	const topic = "sideline-test"
	addr := newTestCluster(t, topic, 2)
	ctx := context.Background()

	client, err := New(sideline.Config{BrokerHosts: []string{addr}, ConsumerID: "test"}, nil)
	require.NoError(t, err)
	defer client.Close()

	partitions, err := client.PartitionsFor(ctx, topic)
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1}, partitions)

	pk0 := sideline.PartitionKey{Topic: topic, Partition: 0}
	require.NoError(t, client.Assign(ctx, []sideline.PartitionKey{pk0}))
	require.NoError(t, client.SeekToBeginning(ctx, []sideline.PartitionKey{pk0}))

	pos, err := client.Position(ctx, pk0)
	require.NoError(t, err)
	require.Equal(t, sideline.Offset(0), pos)

	produceRecord(ctx, t, addr, topic, 0, []byte("hello"))

	records, err := client.Poll(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, []byte("hello"), records[0].Value)
	require.Equal(t, sideline.Offset(0), records[0].Offset)
}

// TestClient_PartitionsForRetriesTransientMetadataError injects a single
// failing Metadata response (the RPC kadm.ListTopics relies on) and checks
// that PartitionsFor's backoff loop retries rather than failing outright.
func TestClient_PartitionsForRetriesTransientMetadataError(t *testing.T) {
	const topic = "sideline-retry-test"
	ctx := context.Background()

	cluster, err := kfake.NewCluster(kfake.NumBrokers(1), kfake.SeedTopics(1, topic))
	require.NoError(t, err)
	t.Cleanup(cluster.Close)

	addrs := cluster.ListenAddrs()
	require.Len(t, addrs, 1)

	cluster.ControlKey(kmsg.Metadata, func(kreq kmsg.Request) (kmsg.Response, error, bool) {
		return nil, errors.New("injected transient failure"), true
	})

	client, err := New(sideline.Config{BrokerHosts: []string{addrs[0]}, ConsumerID: "test"}, nil)
	require.NoError(t, err)
	defer client.Close()

	partitions, err := client.PartitionsFor(ctx, topic)
	require.NoError(t, err)
	require.Equal(t, []int32{0}, partitions)
}

func produceRecord(ctx context.Context, t *testing.T, addr, topic string, partition int32, value []byte) {
	t.Helper()
	cl, err := kgo.NewClient(kgo.SeedBrokers(addr))
	require.NoError(t, err)
	defer cl.Close()

	res := cl.ProduceSync(ctx, &kgo.Record{Topic: topic, Partition: partition, Value: value})
	require.NoError(t, res.FirstErr())
}
