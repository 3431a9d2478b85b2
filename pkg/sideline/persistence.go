package sideline

import "context"

// SidelineRequestType distinguishes a sideline start request from a stop
// request.
type SidelineRequestType int

const (
	// SidelineRequestStart requests that a sideline consumer begin reading.
	SidelineRequestStart SidelineRequestType = iota
	// SidelineRequestStop requests that a sideline consumer stop reading.
	SidelineRequestStop
)

func (t SidelineRequestType) String() string {
	switch t {
	case SidelineRequestStart:
		return "Start"
	case SidelineRequestStop:
		return "Stop"
	default:
		return "Unknown"
	}
}

// SidelineRequest is opaque key/value metadata the core persists on behalf
// of the embedding application, orthogonal to offset tracking.
type SidelineRequest struct {
	Type          SidelineRequestType
	ID            string
	Body          []byte
	StartingState ConsumerState
	EndingState   *ConsumerState // nil until the request completes
}

// PersistenceAdapter is the capability set the core depends on for durable
// storage: per-(ConsumerID, partition) committed offsets, and sideline
// request metadata as opaque key/value storage. Implementations range from
// in-memory (testing, see pkg/sideline/memadapter) to external KV stores;
// the core depends only on this interface.
type PersistenceAdapter interface {
	// Open prepares the backing store for use.
	Open(ctx context.Context) error
	// Close releases backing-store resources.
	Close(ctx context.Context) error

	// PersistConsumerOffset durably records the committed offset for a
	// (consumerID, partition) pair.
	PersistConsumerOffset(ctx context.Context, consumerID ConsumerID, partition int32, offset Offset) error
	// RetrieveConsumerOffset returns the previously-persisted offset for a
	// (consumerID, partition) pair, or ok=false if none exists.
	RetrieveConsumerOffset(ctx context.Context, consumerID ConsumerID, partition int32) (offset Offset, ok bool, err error)
	// ClearConsumerOffset removes the persisted offset for a single partition.
	ClearConsumerOffset(ctx context.Context, consumerID ConsumerID, partition int32) error
	// RemoveConsumerState clears every persisted offset for consumerID,
	// including partitions no longer assigned (used when permanently
	// decommissioning a consumer identity).
	RemoveConsumerState(ctx context.Context, consumerID ConsumerID) error

	// PersistSidelineRequest stores sideline-request metadata.
	PersistSidelineRequest(ctx context.Context, req SidelineRequest) error
	// RetrieveSidelineRequest fetches sideline-request metadata by request ID.
	RetrieveSidelineRequest(ctx context.Context, requestID string) (req SidelineRequest, ok bool, err error)
	// ClearSidelineRequest deletes sideline-request metadata by request ID.
	ClearSidelineRequest(ctx context.Context, requestID string) error
	// ListSidelineRequests returns all currently-stored sideline requests.
	ListSidelineRequests(ctx context.Context) ([]SidelineRequest, error)
}
