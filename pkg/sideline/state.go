package sideline

// ConsumerState is an immutable snapshot of PartitionKey -> last-finished
// offset, produced by Consumer.FlushConsumerState and Consumer.CurrentState.
type ConsumerState struct {
	offsets map[PartitionKey]Offset
}

// newConsumerState copies src into a new immutable ConsumerState value.
func newConsumerState(src map[PartitionKey]Offset) ConsumerState {
	cp := make(map[PartitionKey]Offset, len(src))
	for k, v := range src {
		cp[k] = v
	}
	return ConsumerState{offsets: cp}
}

// Get returns the last-finished offset for key and whether it is present.
func (s ConsumerState) Get(key PartitionKey) (Offset, bool) {
	o, ok := s.offsets[key]
	return o, ok
}

// Contains reports whether key has an entry in this snapshot.
func (s ConsumerState) Contains(key PartitionKey) bool {
	_, ok := s.offsets[key]
	return ok
}

// Size returns the number of partitions captured in this snapshot.
func (s ConsumerState) Size() int {
	return len(s.offsets)
}

// Iter calls fn for every (PartitionKey, Offset) pair in the snapshot. fn
// returning false stops iteration early.
func (s ConsumerState) Iter(fn func(PartitionKey, Offset) bool) {
	for k, v := range s.offsets {
		if !fn(k, v) {
			return
		}
	}
}

// Equal reports whether two snapshots contain exactly the same entries.
func (s ConsumerState) Equal(other ConsumerState) bool {
	if len(s.offsets) != len(other.offsets) {
		return false
	}
	for k, v := range s.offsets {
		if ov, ok := other.offsets[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// AsMap returns a defensive copy of the snapshot's contents.
func (s ConsumerState) AsMap() map[PartitionKey]Offset {
	cp := make(map[PartitionKey]Offset, len(s.offsets))
	for k, v := range s.offsets {
		cp[k] = v
	}
	return cp
}
