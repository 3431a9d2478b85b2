package sideline

import "errors"

// Lifecycle error sentinels. Ack-level anomalies (unknown ack, commit for an
// unowned partition) are logged as warnings and swallowed rather than
// surfaced as errors — see FinishOffset and Consumer.CommitOffset.
var (
	// ErrNotOpen is returned when an operation other than Open is called
	// before Open has succeeded.
	ErrNotOpen = errors.New("sideline: consumer is not open")
	// ErrAlreadyOpen is returned when Open is called on a Consumer that is
	// already Open or Closed.
	ErrAlreadyOpen = errors.New("sideline: consumer is already open")
)
