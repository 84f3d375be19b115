package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolServer is the slice of a connection the tool directory needs.
// *mcpconn.Connection satisfies it.
type ToolServer interface {
	Name() string
	ServerInfo() *mcp.Implementation
	ListAllTools(ctx context.Context) ([]*mcp.Tool, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
}

// DirectoryEntry maps one namespaced tool name back to its origin.
type DirectoryEntry struct {
	Tool         *mcp.Tool
	Conn         ToolServer
	Namespace    string
	OriginalName string
}

// Directory indexes tools by their "<namespace>.<tool>" name.
type Directory map[string]DirectoryEntry

// BuildDirectory lists every server's tools and indexes them under
// "<namespace>.<tool>", where the namespace is the identity the server
// reported during the handshake ("unknown" when it reported none). When two
// servers produce the same key the later one wins and a warning is logged.
func BuildDirectory(ctx context.Context, conns []ToolServer, logger *slog.Logger) (Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := make(Directory)
	for _, conn := range conns {
		ns := "unknown"
		if info := conn.ServerInfo(); info != nil && info.Name != "" {
			ns = info.Name
		}
		tools, err := conn.ListAllTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcphub: list tools on %q: %w", conn.Name(), err)
		}
		for _, tool := range tools {
			key := ns + "." + tool.Name
			if prev, ok := dir[key]; ok {
				logger.Warn("tool name collision, keeping the later registration",
					"tool", key,
					"replaced", prev.Conn.Name(),
					"kept", conn.Name())
			}
			dir[key] = DirectoryEntry{
				Tool:         tool,
				Conn:         conn,
				Namespace:    ns,
				OriginalName: tool.Name,
			}
		}
	}
	return dir, nil
}

// Route looks up a namespaced tool name in dir and invokes it on the owning
// server with its original, unqualified name.
func Route(ctx context.Context, dir Directory, namespaced string, args any) (*mcp.CallToolResult, error) {
	entry, ok := dir[namespaced]
	if !ok {
		return nil, fmt.Errorf("mcphub: unknown tool %q; known tools use the <server>.<tool> form", namespaced)
	}
	return entry.Conn.CallTool(ctx, &mcp.CallToolParams{Name: entry.OriginalName, Arguments: args})
}

// BuildDirectory indexes the hub's current connections. See the package-level
// BuildDirectory for the key and collision rules.
func (h *Hub) BuildDirectory(ctx context.Context) (Directory, error) {
	conns := h.Connections()
	servers := make([]ToolServer, len(conns))
	for i, conn := range conns {
		servers[i] = conn
	}
	return BuildDirectory(ctx, servers, h.logger)
}

// FormatResult renders a tool result as display text. Error results render as
// "Error: <text>". Structured content takes precedence over the content
// blocks and renders as indented JSON. Otherwise the blocks are concatenated,
// with non-text blocks reduced to placeholders.
func FormatResult(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	if res.IsError {
		return "Error: " + flattenContent(res.Content)
	}
	if res.StructuredContent != nil {
		if data, err := json.MarshalIndent(res.StructuredContent, "", "  "); err == nil {
			return string(data)
		}
	}
	return flattenContent(res.Content)
}

func flattenContent(blocks []mcp.Content) string {
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		switch c := block.(type) {
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s]", c.MIMEType))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s]", c.MIMEType))
		case *mcp.EmbeddedResource:
			uri := ""
			if c.Resource != nil {
				uri = c.Resource.URI
			}
			parts = append(parts, fmt.Sprintf("[resource %s]", uri))
		case *mcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource %s]", c.URI))
		default:
			parts = append(parts, fmt.Sprintf("[%T]", block))
		}
	}
	return strings.Join(parts, "\n")
}
