package mcphub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-orchestra/orchestra-go/pkg/mcpconn"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub() *Hub {
	return NewHub(&Options{Logger: testLogger()})
}

// startUpstream serves a real MCP server over HTTP. Each tool replies with a
// fixed text; each resource maps a URI to its text content.
func startUpstream(t *testing.T, identity string, tools map[string]string, resources map[string]string) string {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: identity, Version: "0.1.0"}, nil)
	for name, reply := range tools {
		server.AddTool(&mcp.Tool{
			Name:        name,
			Description: "test tool " + name,
			InputSchema: &jsonschema.Schema{Type: "object"},
		}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: reply}},
			}, nil
		})
	}
	for uri, text := range resources {
		server.AddResource(&mcp.Resource{
			URI:      uri,
			Name:     uri,
			MIMEType: "text/plain",
		}, func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "text/plain", Text: text}},
			}, nil
		})
	}
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}

func addAndConnect(t *testing.T, h *Hub, name, url string) {
	t.Helper()
	if _, err := h.AddServer(name, ServerEntry{URL: url}); err != nil {
		t.Fatalf("AddServer(%s): %v", name, err)
	}
	if err := h.Connect(context.Background(), name); err != nil {
		t.Fatalf("Connect(%s): %v", name, err)
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result: %+v", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("first content block is %T, want text", res.Content[0])
	}
	return text.Text
}

func TestAddServerValidation(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	if _, err := h.AddServer("fs", ServerEntry{Command: "mcp-fs"}); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if _, err := h.AddServer("fs", ServerEntry{Command: "mcp-fs"}); !errors.Is(err, ErrServerExists) {
		t.Fatalf("duplicate AddServer = %v, want ErrServerExists", err)
	}
	if _, err := h.AddServer("", ServerEntry{Command: "x"}); err == nil {
		t.Fatalf("empty name accepted")
	}
	if _, err := h.AddServer("a.b", ServerEntry{Command: "x"}); err == nil {
		t.Fatalf("dotted name accepted")
	}
	if _, err := h.AddServer("bad", ServerEntry{Command: "x", URL: "http://example"}); err == nil {
		t.Fatalf("entry with both shapes accepted")
	}
	if h.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", h.Size())
	}
}

func TestServerNamesPreserveRegistrationOrder(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := h.AddServer(name, ServerEntry{Command: "bin-" + name}); err != nil {
			t.Fatalf("AddServer(%s): %v", name, err)
		}
	}
	want := []string{"zeta", "alpha", "mid"}
	if got := h.ServerNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ServerNames() = %v, want %v", got, want)
	}

	if !h.RemoveServer("alpha") {
		t.Fatalf("RemoveServer(alpha) = false")
	}
	if h.RemoveServer("alpha") {
		t.Fatalf("second RemoveServer(alpha) = true")
	}
	want = []string{"zeta", "mid"}
	if got := h.ServerNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ServerNames() after removal = %v, want %v", got, want)
	}
}

func TestCallToolRoutesToOwningServer(t *testing.T) {
	t.Parallel()

	fsURL := startUpstream(t, "fs-server", map[string]string{"run": "fs ran"}, nil)
	gitURL := startUpstream(t, "git-server", map[string]string{"run": "git ran"}, nil)

	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "fs", fsURL)
	addAndConnect(t, h, "git", gitURL)

	ctx := context.Background()
	res, err := h.CallTool(ctx, "fs.run", nil)
	if err != nil {
		t.Fatalf("CallTool(fs.run): %v", err)
	}
	if got := resultText(t, res); got != "fs ran" {
		t.Fatalf("fs.run = %q, want %q", got, "fs ran")
	}

	res, err = h.CallTool(ctx, "git.run", nil)
	if err != nil {
		t.Fatalf("CallTool(git.run): %v", err)
	}
	if got := resultText(t, res); got != "git ran" {
		t.Fatalf("git.run = %q, want %q", got, "git ran")
	}

	if _, err := h.CallTool(ctx, "run", nil); err == nil {
		t.Fatalf("unqualified name accepted")
	}
	if _, err := h.CallTool(ctx, ".run", nil); err == nil {
		t.Fatalf("empty server segment accepted")
	}
	if _, err := h.CallTool(ctx, "svn.run", nil); !errors.Is(err, ErrServerUnknown) {
		t.Fatalf("CallTool(svn.run) = %v, want ErrServerUnknown", err)
	}
}

func TestCallToolSplitsAtFirstDotOnly(t *testing.T) {
	t.Parallel()

	url := startUpstream(t, "fs-server", map[string]string{"file.read": "contents"}, nil)
	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "fs", url)

	res, err := h.CallTool(context.Background(), "fs.file.read", nil)
	if err != nil {
		t.Fatalf("CallTool(fs.file.read): %v", err)
	}
	if got := resultText(t, res); got != "contents" {
		t.Fatalf("fs.file.read = %q, want %q", got, "contents")
	}
}

func TestListAllToolsNamespacesAndTags(t *testing.T) {
	t.Parallel()

	fsURL := startUpstream(t, "fs-server", map[string]string{"run": "fs"}, nil)
	gitURL := startUpstream(t, "git-server", map[string]string{"run": "git"}, nil)

	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "fs", fsURL)
	addAndConnect(t, h, "git", gitURL)

	tools, err := h.ListAllTools(context.Background())
	if err != nil {
		t.Fatalf("ListAllTools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Tool.Name != "fs.run" || tools[0].Server != "fs" || tools[0].OriginalName != "run" {
		t.Fatalf("first entry = %+v, want fs.run from fs", tools[0])
	}
	if tools[1].Tool.Name != "git.run" || tools[1].Server != "git" {
		t.Fatalf("second entry = %+v, want git.run from git", tools[1])
	}
}

func TestReadResourceFallsBackInRegistrationOrder(t *testing.T) {
	t.Parallel()

	const uri = "test://shared/doc"
	aURL := startUpstream(t, "a-server", nil, nil)
	bURL := startUpstream(t, "b-server", nil, map[string]string{uri: "from b"})

	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "a", aURL)
	addAndConnect(t, h, "b", bURL)

	res, server, err := h.ReadResource(context.Background(), uri)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if server != "b" {
		t.Fatalf("resolved by %q, want b", server)
	}
	if len(res.Contents) != 1 || res.Contents[0].Text != "from b" {
		t.Fatalf("contents = %+v, want text from b", res.Contents)
	}
}

func TestReadResourceFirstOwnerWins(t *testing.T) {
	t.Parallel()

	const uri = "test://shared/doc"
	aURL := startUpstream(t, "a-server", nil, map[string]string{uri: "from a"})
	bURL := startUpstream(t, "b-server", nil, map[string]string{uri: "from b"})

	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "a", aURL)
	addAndConnect(t, h, "b", bURL)

	res, server, err := h.ReadResource(context.Background(), uri)
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if server != "a" {
		t.Fatalf("resolved by %q, want the first registered server", server)
	}
	if res.Contents[0].Text != "from a" {
		t.Fatalf("contents = %+v, want text from a", res.Contents)
	}
}

func TestReadResourceJoinsAllFailures(t *testing.T) {
	t.Parallel()

	aURL := startUpstream(t, "a-server", nil, nil)
	bURL := startUpstream(t, "b-server", nil, nil)

	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "a", aURL)
	addAndConnect(t, h, "b", bURL)

	_, _, err := h.ReadResource(context.Background(), "test://missing")
	if err == nil {
		t.Fatalf("expected failure for a URI no server owns")
	}
	for _, name := range []string{"a:", "b:"} {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error %q does not mention server %q", err, name)
		}
	}
}

func TestReadResourceWithoutConnectedServers(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	if _, err := h.AddServer("fs", ServerEntry{Command: "mcp-fs"}); err != nil {
		t.Fatalf("AddServer: %v", err)
	}
	if _, _, err := h.ReadResource(context.Background(), "test://x"); err == nil {
		t.Fatalf("expected error when no server is connected")
	}
}

func TestLoadConfigSequentialPropagatesFirstFailure(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	cfg := Config{
		"bad": {Command: "/nonexistent/mcp-server-binary"},
	}
	err := h.LoadConfig(context.Background(), cfg, nil)
	if err == nil {
		t.Fatalf("expected connect failure to propagate")
	}
	if h.Size() != 0 {
		t.Fatalf("failed server not evicted, size = %d", h.Size())
	}
}

func TestLoadConfigSequentialEvictsUnconnectedRemainder(t *testing.T) {
	t.Parallel()

	url := startUpstream(t, "good-server", map[string]string{"ping": "pong"}, nil)
	h := newTestHub()
	t.Cleanup(h.CloseAll)

	// Lexical order: a-good connects, m-bad fails, z-good is never attempted.
	cfg := Config{
		"a-good": {URL: url},
		"m-bad":  {Command: "/nonexistent/mcp-server-binary"},
		"z-good": {URL: url},
	}
	err := h.LoadConfig(context.Background(), cfg, nil)
	if err == nil {
		t.Fatalf("expected connect failure to propagate")
	}
	if h.HasServer("m-bad") {
		t.Fatalf("failed server still registered")
	}
	if h.HasServer("z-good") {
		t.Fatalf("never-connected server still registered")
	}
	if !h.HasServer("a-good") {
		t.Fatalf("connected server evicted")
	}
	if got := h.Size(); got != 1 {
		t.Fatalf("size = %d, want 1", got)
	}
	if _, err := h.ListAllTools(context.Background()); err != nil {
		t.Fatalf("ListAllTools over the surviving servers: %v", err)
	}
}

func TestLoadConfigParallelToleratesFailures(t *testing.T) {
	t.Parallel()

	goodURL := startUpstream(t, "good-server", map[string]string{"ping": "pong"}, nil)
	h := newTestHub()
	t.Cleanup(h.CloseAll)

	cfg := Config{
		"bad1": {Command: "/nonexistent/mcp-server-binary"},
		"bad2": {Command: "/nonexistent/other-missing-binary"},
		"good": {URL: goodURL},
	}
	err := h.LoadConfig(context.Background(), cfg, &LoadOptions{Parallel: true, MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("parallel LoadConfig: %v", err)
	}
	if h.Size() != 1 || !h.HasServer("good") {
		t.Fatalf("expected only the good server to survive, names = %v", h.ServerNames())
	}

	res, err := h.CallTool(context.Background(), "good.ping", nil)
	if err != nil {
		t.Fatalf("CallTool(good.ping): %v", err)
	}
	if got := resultText(t, res); got != "pong" {
		t.Fatalf("good.ping = %q, want pong", got)
	}
}

func TestLoadConfigRejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	h := newTestHub()
	cfg := Config{"broken": {}}
	if err := h.LoadConfig(context.Background(), cfg, nil); err == nil {
		t.Fatalf("shapeless entry accepted")
	}
}

func TestCloseAllClearsRegistry(t *testing.T) {
	t.Parallel()

	url := startUpstream(t, "fs-server", map[string]string{"run": "ok"}, nil)
	h := newTestHub()
	addAndConnect(t, h, "fs", url)

	h.CloseAll()
	if h.Size() != 0 || len(h.ServerNames()) != 0 {
		t.Fatalf("registry not cleared: size=%d names=%v", h.Size(), h.ServerNames())
	}
	if _, err := h.CallTool(context.Background(), "fs.run", nil); !errors.Is(err, ErrServerUnknown) {
		t.Fatalf("CallTool after CloseAll = %v, want ErrServerUnknown", err)
	}
}

func TestHubDirectoryUsesReportedIdentity(t *testing.T) {
	t.Parallel()

	url := startUpstream(t, "fs-server", map[string]string{"run": "ok"}, nil)
	h := newTestHub()
	t.Cleanup(h.CloseAll)
	addAndConnect(t, h, "fs", url)

	dir, err := h.BuildDirectory(context.Background())
	if err != nil {
		t.Fatalf("BuildDirectory: %v", err)
	}
	entry, ok := dir["fs-server.run"]
	if !ok {
		t.Fatalf("directory keys = %v, want fs-server.run", keysOf(dir))
	}
	if entry.OriginalName != "run" || entry.Namespace != "fs-server" {
		t.Fatalf("entry = %+v", entry)
	}

	res, err := Route(context.Background(), dir, "fs-server.run", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if got := resultText(t, res); got != "ok" {
		t.Fatalf("routed call = %q, want ok", got)
	}
}

func keysOf(dir Directory) []string {
	keys := make([]string, 0, len(dir))
	for k := range dir {
		keys = append(keys, k)
	}
	return keys
}

var _ ToolServer = (*mcpconn.Connection)(nil)
