package mcpconn

import (
	"context"
	"sync"
)

// CancellationManager tracks the cancel controller for every in-flight
// cancellable request. An entry exists from Create until the first of Cancel
// or Complete removes it; whichever runs second observes the id as absent and
// is a no-op. That at-most-once removal is what resolves the race between a
// caller-initiated cancel and the call's own completion.
type CancellationManager struct {
	mu      sync.Mutex
	pending map[string]context.CancelFunc
}

// NewCancellationManager builds an empty manager.
func NewCancellationManager() *CancellationManager {
	return &CancellationManager{pending: make(map[string]context.CancelFunc)}
}

// Create registers a cancel controller for requestID and returns the context
// the request must be dispatched with. Create must run before the request is
// sent so a concurrently-arriving Cancel has something to act on.
func (m *CancellationManager) Create(parent context.Context, requestID string) context.Context {
	ctx, cancel := context.WithCancel(parent)
	m.mu.Lock()
	m.pending[requestID] = cancel
	m.mu.Unlock()
	return ctx
}

// Cancel aborts the request if it is still pending. It reports true only when
// an entry existed; callers use the result to decide whether a cancellation
// notification should also be sent to the server. The context is cancelled
// before the entry's removal becomes visible, so a Complete that loses the
// race always observes the abort signal.
func (m *CancellationManager) Cancel(requestID string) bool {
	m.mu.Lock()
	cancel, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
		cancel()
	}
	m.mu.Unlock()
	return ok
}

// Complete removes the entry on the normal completion path without signalling
// an abort to the caller. The stored controller is still invoked to release
// the derived context; the request has already finished, so the caller never
// observes it. Cancel after Complete returns false.
func (m *CancellationManager) Complete(requestID string) bool {
	m.mu.Lock()
	cancel, ok := m.pending[requestID]
	if ok {
		delete(m.pending, requestID)
		cancel()
	}
	m.mu.Unlock()
	return ok
}

// CancelAll aborts and clears every pending entry. Used on disconnect so no
// caller is left awaiting a request that can no longer complete.
func (m *CancellationManager) CancelAll() {
	m.mu.Lock()
	for _, cancel := range m.pending {
		cancel()
	}
	m.pending = make(map[string]context.CancelFunc)
	m.mu.Unlock()
}

// Pending reports the number of in-flight entries.
func (m *CancellationManager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
