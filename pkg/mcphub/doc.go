// Package mcphub maintains a named registry of MCP server connections and
// presents them as one surface: tools are namespaced as "<server>.<tool>",
// resources resolve across servers in registration order, and configuration
// loads from the standard .mcp.json shape with ${NAME} environment expansion.
// It builds on pkg/mcpconn for the per-server session lifecycle.
package mcphub
