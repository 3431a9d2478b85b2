package sideline

import (
	"github.com/go-kit/log/level"

	"github.com/grafana/kafka-sideline/pkg/sideline/sidelinelog"
)

// PartitionOffsetManager tracks started-but-unfinished offsets and
// out-of-order-finished offsets for a single owned partition, and computes
// the highest contiguous finished offset across concurrent out-of-order
// acknowledgements.
//
// A PartitionOffsetManager is not safe for concurrent use: the owning
// Consumer serializes operations against a given partition.
type PartitionOffsetManager struct {
	label string // diagnostic label, e.g. "<consumerID>/<topic>/<partition>"

	tracked     orderedOffsetSet
	finishedOOO orderedOffsetSet

	lastFinished Offset
	lastStarted  Offset

	oooHighWater int // largest finishedOOO.len() ever observed, for observability
}

// NewPartitionOffsetManager creates a manager for one partition. startingLastFinished
// is the offset to initialize last_finished to — typically the last persisted
// committed offset, or NoOffset when nothing has ever been persisted.
func NewPartitionOffsetManager(label string, startingLastFinished Offset) *PartitionOffsetManager {
	return &PartitionOffsetManager{
		label:        label,
		lastFinished: startingLastFinished,
		lastStarted:  NoOffset,
	}
}

// StartOffset records that offset o has been read and handed to the caller,
// but not yet acknowledged.
func (m *PartitionOffsetManager) StartOffset(o Offset) {
	m.tracked.insert(o)
	if o >= m.lastStarted {
		m.lastStarted = o
		return
	}
	level.Warn(sidelinelog.Logger).Log(
		"msg", "starting offset out of order", "partition", m.label, "offset", int64(o), "last_started", int64(m.lastStarted))
}

// FinishOffset records an acknowledgement for offset o. Acking an offset
// that was never started is tolerated and logged as a warning; it has no
// effect on the manager's state.
func (m *PartitionOffsetManager) FinishOffset(o Offset) {
	if !m.tracked.contains(o) {
		level.Warn(sidelinelog.Logger).Log(
			"msg", "finished unknown offset, ignoring", "partition", m.label, "offset", int64(o))
		return
	}

	earliest, _ := m.tracked.min() // tracked is non-empty: it contains o

	if o > earliest {
		// Out-of-order ack: stash it, last_finished does not move yet.
		m.tracked.remove(o)
		m.finishedOOO.insert(o)
		if m.finishedOOO.len() > m.oooHighWater {
			m.oooHighWater = m.finishedOOO.len()
		}
		return
	}

	// o == earliest: collapse the contiguous prefix as far as it now reaches.
	m.tracked.remove(o)
	m.lastFinished = o
	if m.finishedOOO.len() == 0 {
		return
	}

	next := o + 1
	for {
		smallest, ok := m.finishedOOO.min()
		if !ok || smallest != next {
			return // first gap (or exhausted): stop, last_finished stays at the last contiguous value
		}
		m.finishedOOO.remove(smallest)
		m.lastFinished = next
		next++
	}
}

// LastFinishedOffset returns the highest offset X such that every offset in
// [earliest_started … X] has been finished.
func (m *PartitionOffsetManager) LastFinishedOffset() Offset {
	return m.lastFinished
}

// LastStartedOffset answers "what offset would I seek to next?" without
// leaking the NoOffset sentinel: when nothing has been started yet, the next
// offset to read is one past the last finished offset.
func (m *PartitionOffsetManager) LastStartedOffset() Offset {
	next := m.lastFinished + 1
	if m.lastStarted > next {
		return m.lastStarted
	}
	return next
}

// TrackedCount returns the number of started-but-unfinished offsets.
func (m *PartitionOffsetManager) TrackedCount() int {
	return m.tracked.len()
}

// FinishedOutOfOrderCount returns the number of finished offsets not yet
// collapsed into the contiguous prefix. This set is potentially unbounded
// under a sufficiently out-of-order ack pattern; callers should surface it
// via observability rather than cap it, which would silently drop entries.
func (m *PartitionOffsetManager) FinishedOutOfOrderCount() int {
	return m.finishedOOO.len()
}

// OutOfOrderHighWaterMark returns the largest FinishedOutOfOrderCount ever
// observed by this manager.
func (m *PartitionOffsetManager) OutOfOrderHighWaterMark() int {
	return m.oooHighWater
}
