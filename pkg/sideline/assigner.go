package sideline

// AssignPartitions deterministically shards a topic's partitions across
// numConsumers peers by index. It is a pure function with no broker
// coordination: partitions must already be sorted ascending.
//
// The sorted list is split into numConsumers contiguous ranges as equal as
// possible in size, with any remainder distributed one-each to the
// lowest-indexed consumers. E.g. 5 partitions / 2 consumers: index 0 owns
// {0,1,2}, index 1 owns {3,4}.
func AssignPartitions(sortedPartitions []int32, numConsumers, consumerIndex int) []int32 {
	if numConsumers <= 0 || consumerIndex < 0 || consumerIndex >= numConsumers {
		return nil
	}

	n := len(sortedPartitions)
	base := n / numConsumers
	extra := n % numConsumers

	size := base
	if consumerIndex < extra {
		size++
	}

	start := consumerIndex*base + minInt(consumerIndex, extra)
	if size == 0 {
		return nil
	}

	owned := make([]int32, size)
	copy(owned, sortedPartitions[start:start+size])
	return owned
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
