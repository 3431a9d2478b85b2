package sideline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionOffsetManager_InOrder(t *testing.T) {
	// offsets {0..k} all started and all finished in order -> last_finished == k.
	m := NewPartitionOffsetManager("t/0", NoOffset)
	for i := Offset(0); i <= 4; i++ {
		m.StartOffset(i)
	}
	for i := Offset(0); i <= 4; i++ {
		m.FinishOffset(i)
	}
	assert.Equal(t, Offset(4), m.LastFinishedOffset())
}

func TestPartitionOffsetManager_OutOfOrderAck(t *testing.T) {
	// 9 records consumed, then acked out of order.
	m := NewPartitionOffsetManager("t/0", NoOffset)
	for i := Offset(0); i <= 8; i++ {
		m.StartOffset(i)
	}
	require.Equal(t, NoOffset, m.LastFinishedOffset())

	ackOrder := []Offset{2, 1, 0, 3, 4, 5, 7, 8, 6}
	wantAfter := []Offset{-1, -1, 2, 3, 4, 5, 5, 5, 8}
	for i, o := range ackOrder {
		m.FinishOffset(o)
		assert.Equal(t, wantAfter[i], m.LastFinishedOffset(), "after acking %d", o)
	}
}

func TestPartitionOffsetManager_FinishBeforeStart_NoOp(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	m.FinishOffset(0) // warning, no-op
	assert.Equal(t, NoOffset, m.LastFinishedOffset())
	assert.Equal(t, 0, m.TrackedCount())
}

func TestPartitionOffsetManager_DuplicateStartIsIdempotent(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	m.StartOffset(5)
	m.StartOffset(5)
	assert.Equal(t, 1, m.TrackedCount())
}

func TestPartitionOffsetManager_DuplicateFinishIsNoOp(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	m.StartOffset(0)
	m.FinishOffset(0)
	assert.Equal(t, Offset(0), m.LastFinishedOffset())

	m.FinishOffset(0) // second ack: 0 no longer tracked, no-op
	assert.Equal(t, Offset(0), m.LastFinishedOffset())
}

func TestPartitionOffsetManager_UnknownAckIsNoOp(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	m.StartOffset(0)
	m.FinishOffset(99) // never started
	assert.Equal(t, NoOffset, m.LastFinishedOffset())
	assert.Equal(t, 1, m.TrackedCount())
}

func TestPartitionOffsetManager_LastStartedOffset(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	// Nothing started yet: "what would I seek to" is one past last_finished.
	assert.Equal(t, Offset(0), m.LastStartedOffset())

	m.StartOffset(0)
	m.StartOffset(1)
	assert.Equal(t, Offset(1), m.LastStartedOffset())

	m.FinishOffset(0)
	m.FinishOffset(1)
	assert.Equal(t, Offset(2), m.LastStartedOffset())
}

func TestPartitionOffsetManager_StartOutOfOrderIsToleratedWithWarning(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", NoOffset)
	m.StartOffset(5)
	m.StartOffset(3) // suspicious but allowed; last_started stays 5
	assert.Equal(t, Offset(5), m.LastStartedOffset())
	assert.Equal(t, 2, m.TrackedCount())
}

func TestPartitionOffsetManager_PartialFinish(t *testing.T) {
	// {0..8} started, only a subset finished.
	m := NewPartitionOffsetManager("t/0", NoOffset)
	for i := Offset(0); i <= 8; i++ {
		m.StartOffset(i)
	}
	finished := map[Offset]bool{0: true, 1: true, 2: true, 4: true, 5: true}
	for o := range finished {
		m.FinishOffset(o)
	}
	// contiguous prefix from 0 is {0,1,2}; 3 is missing so we stop at 2.
	assert.Equal(t, Offset(2), m.LastFinishedOffset())
	assert.Equal(t, 2, m.FinishedOutOfOrderCount()) // {4,5} parked out of order
}

func TestPartitionOffsetManager_InvariantAfterEveryOp(t *testing.T) {
	// after every call, last_finished <= every tracked offset minus 1, or tracked is empty.
	m := NewPartitionOffsetManager("t/0", NoOffset)
	ops := []struct {
		start  bool
		offset Offset
	}{
		{true, 0}, {true, 1}, {true, 2}, {true, 3},
		{false, 2}, {false, 0}, {false, 1}, {false, 3},
	}
	for _, op := range ops {
		if op.start {
			m.StartOffset(op.offset)
		} else {
			m.FinishOffset(op.offset)
		}
		if earliest, ok := m.tracked.min(); ok {
			assert.LessOrEqual(t, int64(m.LastFinishedOffset()), int64(earliest)-1)
		}
	}
}

func TestPartitionOffsetManager_InitializedFromPersistedOffset(t *testing.T) {
	m := NewPartitionOffsetManager("t/0", Offset(41))
	assert.Equal(t, Offset(41), m.LastFinishedOffset())
	assert.Equal(t, Offset(42), m.LastStartedOffset())
}

func TestPartitionOffsetManager_OutOfOrderHighWaterMark(t *testing.T) {
	// the high-water mark tracks the largest finished_out_of_order set ever
	// seen, and does not fall back down once the prefix collapses.
	m := NewPartitionOffsetManager("t/0", NoOffset)
	for i := Offset(0); i <= 4; i++ {
		m.StartOffset(i)
	}
	assert.Equal(t, 0, m.OutOfOrderHighWaterMark())

	m.FinishOffset(2) // parked out of order: {2}
	m.FinishOffset(4) // parked out of order: {2,4}
	assert.Equal(t, 2, m.OutOfOrderHighWaterMark())

	m.FinishOffset(0)
	m.FinishOffset(1) // collapses {0,1,2}; {4} remains parked
	assert.Equal(t, 1, m.FinishedOutOfOrderCount())
	assert.Equal(t, 2, m.OutOfOrderHighWaterMark()) // peak is preserved
}
