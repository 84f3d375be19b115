package mcpconn

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the mcpconn package.
var (
	// ErrNotConnected is returned when an operation requires a connected
	// session and the Connection is not in StateConnected.
	ErrNotConnected = errors.New("mcpconn: not connected")

	// ErrAlreadyClosed is returned by Connect after Close has run. A closed
	// Connection keeps its last-known state for diagnostics but cannot be
	// redialed.
	ErrAlreadyClosed = errors.New("mcpconn: connection closed")

	// ErrAborted is returned when a wait-for-task operation is cancelled via
	// its context before reaching a terminal state.
	ErrAborted = errors.New("mcpconn: aborted")

	// ErrTasksUnsupported is returned by the go-sdk session adapter for task
	// operations until the SDK exposes the experimental tasks surface.
	ErrTasksUnsupported = errors.New("mcpconn: tasks not supported by session")
)

// ConnectError wraps a handshake failure for a named server.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mcpconn: connect %q: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TimeoutError reports that an operation exceeded its wall-clock deadline. It
// carries the deadline that was applied.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("mcpconn: %s timed out after %s", e.Op, e.Timeout)
}

// Is reports a match for context.DeadlineExceeded so callers can use a single
// errors.Is check regardless of which layer enforced the deadline.
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}
