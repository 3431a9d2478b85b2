// Package memadapter implements an in-memory PersistenceAdapter reference
// implementation: two mappings — committed offsets keyed by (consumer id,
// partition) and sideline-request metadata keyed by request id — both
// cleared on Close. It never fails and loses all state across process
// restarts.
package memadapter

import (
	"context"
	"sync"

	"github.com/grafana/kafka-sideline/pkg/sideline"
)

type offsetKey struct {
	consumerID sideline.ConsumerID
	partition  int32
}

// Adapter is the in-memory PersistenceAdapter reference implementation.
type Adapter struct {
	mu       sync.Mutex
	offsets  map[offsetKey]sideline.Offset
	sideline map[string]sideline.SidelineRequest
}

// New returns a ready-to-Open in-memory adapter.
func New() *Adapter {
	return &Adapter{}
}

// Open allocates the backing maps. Opening an adapter that is already open
// keeps its contents; only Close discards them.
func (a *Adapter) Open(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offsets == nil {
		a.offsets = make(map[offsetKey]sideline.Offset)
	}
	if a.sideline == nil {
		a.sideline = make(map[string]sideline.SidelineRequest)
	}
	return nil
}

// Close clears both mappings; all state is lost.
func (a *Adapter) Close(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offsets = nil
	a.sideline = nil
	return nil
}

// PersistConsumerOffset stores the committed offset for (consumerID, partition).
func (a *Adapter) PersistConsumerOffset(_ context.Context, consumerID sideline.ConsumerID, partition int32, offset sideline.Offset) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offsets[offsetKey{consumerID, partition}] = offset
	return nil
}

// RetrieveConsumerOffset returns the stored offset for (consumerID, partition), if any.
func (a *Adapter) RetrieveConsumerOffset(_ context.Context, consumerID sideline.ConsumerID, partition int32) (sideline.Offset, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.offsets[offsetKey{consumerID, partition}]
	return o, ok, nil
}

// ClearConsumerOffset removes the stored offset for a single partition.
func (a *Adapter) ClearConsumerOffset(_ context.Context, consumerID sideline.ConsumerID, partition int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.offsets, offsetKey{consumerID, partition})
	return nil
}

// RemoveConsumerState removes every persisted offset for consumerID,
// regardless of whether the partition is still assigned.
func (a *Adapter) RemoveConsumerState(_ context.Context, consumerID sideline.ConsumerID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.offsets {
		if k.consumerID == consumerID {
			delete(a.offsets, k)
		}
	}
	return nil
}

// PersistSidelineRequest stores opaque sideline-request metadata by request ID.
func (a *Adapter) PersistSidelineRequest(_ context.Context, req sideline.SidelineRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sideline[req.ID] = req
	return nil
}

// RetrieveSidelineRequest fetches sideline-request metadata by request ID.
func (a *Adapter) RetrieveSidelineRequest(_ context.Context, requestID string) (sideline.SidelineRequest, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.sideline[requestID]
	return req, ok, nil
}

// ClearSidelineRequest deletes sideline-request metadata by request ID.
func (a *Adapter) ClearSidelineRequest(_ context.Context, requestID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sideline, requestID)
	return nil
}

// ListSidelineRequests returns every stored sideline request.
func (a *Adapter) ListSidelineRequests(_ context.Context) ([]sideline.SidelineRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]sideline.SidelineRequest, 0, len(a.sideline))
	for _, req := range a.sideline {
		out = append(out, req)
	}
	return out, nil
}
