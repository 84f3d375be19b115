package mcpconn

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
)

// ProgressUpdate is what a registered progress callback receives. Total is nil
// when the server did not report one; Message is empty when absent.
type ProgressUpdate struct {
	Progress float64
	Total    *float64
	Message  string
}

// ProgressFunc handles progress updates for a single in-flight call.
type ProgressFunc func(ProgressUpdate)

// ProgressTracker correlates progress tokens with the callback of the call
// they annotate. Exactly one callback per token; tokens are valid only for
// the lifetime of the originating call.
type ProgressTracker struct {
	reg    *tokenRegistry[ProgressFunc]
	logger *slog.Logger
}

// NewProgressTracker builds an empty tracker. logger may be nil.
func NewProgressTracker(logger *slog.Logger) *ProgressTracker {
	return &ProgressTracker{
		reg:    newTokenRegistry[ProgressFunc]("pt"),
		logger: logger,
	}
}

// GenerateToken returns a progress token unique within this tracker.
func (pt *ProgressTracker) GenerateToken() string {
	return pt.reg.NextToken()
}

// Register associates fn with token, replacing any previous callback.
func (pt *ProgressTracker) Register(token string, fn ProgressFunc) {
	if fn == nil {
		return
	}
	pt.reg.Put(token, fn)
}

// Unregister drops the callback for token, if any.
func (pt *ProgressTracker) Unregister(token string) {
	pt.reg.Delete(token)
}

// HandleProgress routes a decoded progress notification to its callback. A
// notification for an unregistered token is dropped silently: the originating
// call may already have completed and released its token, which is normal, not
// a fault. A panicking callback is contained so it cannot take down the
// notification pump.
func (pt *ProgressTracker) HandleProgress(n ProgressNotification) {
	key, ok := progressTokenKey(n.Token)
	if !ok {
		if pt.logger != nil {
			pt.logger.Warn("progress token unsupported", "token", n.Token)
		}
		return
	}
	fn, ok := pt.reg.Get(key)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	fn(ProgressUpdate{Progress: n.Progress, Total: n.Total, Message: n.Message})
}

// Clear drops every registration; used on Connection teardown.
func (pt *ProgressTracker) Clear() {
	pt.reg.Clear()
}

// Len reports the number of live registrations.
func (pt *ProgressTracker) Len() int {
	return pt.reg.Len()
}

// progressTokenKey folds the wire token (string or number per the protocol)
// into the tracker's string key space. JSON decoding hands integer tokens back
// as float64, so integral floats map to their integer form.
func progressTokenKey(token any) (string, bool) {
	switch v := token.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case int:
		return fmt.Sprintf("%d", v), true
	case int32:
		return fmt.Sprintf("%d", v), true
	case int64:
		return fmt.Sprintf("%d", v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		if math.Trunc(v) == v {
			return fmt.Sprintf("%d", int64(v)), true
		}
		return fmt.Sprintf("%g", v), true
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return fmt.Sprintf("%d", i), true
		}
		return v.String(), true
	default:
		return "", false
	}
}
