package mcpconn

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultPollInterval = 500 * time.Millisecond

// WaitTaskOptions tune WaitForTask.
type WaitTaskOptions struct {
	// PollInterval is the delay between task snapshots. Defaults to 500ms.
	PollInterval time.Duration
	// Timeout bounds the whole wait measured from its start; partial progress
	// does not extend it. Zero means no deadline beyond ctx.
	Timeout time.Duration
	// OnStatus observes every snapshot: each poll result plus any status
	// notifications the server pushes while the wait is running.
	OnStatus TaskStatusFunc
}

func (o *WaitTaskOptions) normalized() WaitTaskOptions {
	var opts WaitTaskOptions
	if o != nil {
		opts = *o
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	return opts
}

// WaitForTask polls the task until it reaches a terminal state, then fetches
// and returns its result payload. Polling is the correctness backbone; the
// push subscription layered on top is an optimization, since status
// notifications are not guaranteed to arrive before the next poll tick.
//
// Cancelling ctx aborts the wait with ErrAborted, even during a pending sleep,
// and before any network call when ctx is already cancelled.
// Exceeding Timeout returns a TimeoutError. The status subscription is
// released on every exit path.
func (c *Connection) WaitForTask(ctx context.Context, taskID string, opts *WaitTaskOptions) (*mcp.CallToolResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	o := opts.normalized()
	if o.OnStatus != nil {
		unsubscribe := c.tasks.Subscribe(taskID, o.OnStatus)
		defer unsubscribe()
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", ErrAborted, taskID, err)
	}
	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: task %s: %v", ErrAborted, taskID, err)
		}
		if o.Timeout > 0 && time.Since(start) >= o.Timeout {
			return nil, &TimeoutError{Op: "wait for task " + taskID, Timeout: o.Timeout}
		}
		task, err := sess.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if o.OnStatus != nil {
			dispatchStatus(o.OnStatus, *task)
		}
		if task.State.Terminal() {
			return sess.GetTaskResult(ctx, taskID)
		}
		if err := sleepContext(ctx, o.PollInterval); err != nil {
			return nil, fmt.Errorf("%w: task %s: %v", ErrAborted, taskID, err)
		}
	}
}

// CancelTask asks the server to cancel a background task. The server is not
// required to honor the request; observe the task state to learn the outcome.
func (c *Connection) CancelTask(ctx context.Context, taskID string) error {
	sess, err := c.connectedSession()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.CancelTask(ctx, taskID)
}

// GetTask fetches the current snapshot of a background task.
func (c *Connection) GetTask(ctx context.Context, taskID string) (*Task, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.GetTask(ctx, taskID)
}

// sleepContext waits d, resolving early with ctx.Err() if ctx fires first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
