package sideline

import "sort"

// orderedOffsetSet is a small ascending set of offsets. tracked and
// finished_out_of_order are both small relative to partition throughput in
// the steady state, so a sorted slice with binary-search
// insert/remove is simpler to reason about than a heap that also needs
// arbitrary-element removal, and is plenty fast for this purpose.
type orderedOffsetSet struct {
	offsets []Offset
}

func (s *orderedOffsetSet) search(o Offset) int {
	return sort.Search(len(s.offsets), func(i int) bool { return s.offsets[i] >= o })
}

func (s *orderedOffsetSet) contains(o Offset) bool {
	i := s.search(o)
	return i < len(s.offsets) && s.offsets[i] == o
}

func (s *orderedOffsetSet) insert(o Offset) {
	i := s.search(o)
	if i < len(s.offsets) && s.offsets[i] == o {
		return // already present, set semantics
	}
	s.offsets = append(s.offsets, 0)
	copy(s.offsets[i+1:], s.offsets[i:])
	s.offsets[i] = o
}

// remove deletes o from the set and reports whether it was present.
func (s *orderedOffsetSet) remove(o Offset) bool {
	i := s.search(o)
	if i >= len(s.offsets) || s.offsets[i] != o {
		return false
	}
	s.offsets = append(s.offsets[:i], s.offsets[i+1:]...)
	return true
}

// min returns the smallest member and whether the set is non-empty.
func (s *orderedOffsetSet) min() (Offset, bool) {
	if len(s.offsets) == 0 {
		return 0, false
	}
	return s.offsets[0], true
}

func (s *orderedOffsetSet) len() int {
	return len(s.offsets)
}
