// Package mcpconn manages a single client connection to a Model Context
// Protocol (MCP) server. It layers a small amount of orchestration on top of
// the modelcontextprotocol/go-sdk client: bounded-time connect with capability
// negotiation, idempotent close with guaranteed registry cleanup, progress
// token correlation, cooperative request cancellation, and polling of
// long-running server tasks to a terminal state.
//
// # Core entry points
//
//   - Connection is the long-lived per-server type. Construct it with New,
//     dial with Connect, and tear down with Close.
//   - CallToolWithProgress and ReadResourceWithProgress attach a fresh
//     progress token to a call and route matching notifications back to the
//     caller's callback.
//   - CallToolCancellable launches a tool call without blocking and returns a
//     handle whose Cancel method aborts the in-flight request.
//   - WaitForTask polls a server-tracked task until it completes, fails, or is
//     cancelled, honoring both a wall-clock timeout and context cancellation.
//
// Multi-server aggregation and namespaced routing live in the companion
// package mcphub.
package mcpconn
