package mcphub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/mcp-orchestra/orchestra-go/pkg/mcpconn"
)

// Sentinel errors for the mcphub package.
var (
	// ErrServerExists is returned by AddServer when the name is taken.
	ErrServerExists = errors.New("mcphub: server already registered")

	// ErrServerUnknown is returned when an operation names an unregistered
	// server.
	ErrServerUnknown = errors.New("mcphub: unknown server")
)

// Options configure a Hub.
type Options struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// Env is the snapshot used for ${NAME} expansion in server entries.
	// Defaults to an EnvSnapshot taken when the Hub is built.
	Env map[string]string
	// Connection supplies base options for every connection the hub creates.
	// Per-connection fields such as the client name are filled in by the hub.
	Connection *mcpconn.Options
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Env == nil {
		opts.Env = EnvSnapshot()
	}
	return opts
}

// LoadOptions tune Hub.LoadConfig.
type LoadOptions struct {
	// Parallel connects servers concurrently. Individual failures are logged
	// and the failed server evicted; the rest of the bring-up continues. In
	// sequential mode the first failure aborts the load.
	Parallel bool
	// MaxConcurrent caps how many servers connect at once in parallel mode.
	// Defaults to 4.
	MaxConcurrent int
}

func (o *LoadOptions) normalized() LoadOptions {
	var opts LoadOptions
	if o != nil {
		opts = *o
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	return opts
}

// Hub is a registry of named MCP server connections. Registration order is
// preserved: aggregate listings and resource fallback walk servers in the
// order they were added.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu    sync.RWMutex
	order []string
	conns map[string]*mcpconn.Connection
}

// NewHub builds an empty hub.
func NewHub(opts *Options) *Hub {
	options := opts.normalized()
	return &Hub{
		opts:   options,
		logger: options.Logger,
		conns:  make(map[string]*mcpconn.Connection),
	}
}

// AddServer validates the entry, builds its transport and registers a new
// connection under name. The connection starts disconnected; dial it with
// Connect or let LoadConfig do so. Duplicate names return ErrServerExists.
func (h *Hub) AddServer(name string, entry ServerEntry) (*mcpconn.Connection, error) {
	if name == "" {
		return nil, errors.New("mcphub: server name is required")
	}
	if strings.Contains(name, ".") {
		return nil, fmt.Errorf("mcphub: server name %q must not contain a dot", name)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	transport, err := h.buildTransport(name, entry.expanded(h.opts.Env))
	if err != nil {
		return nil, err
	}
	conn := mcpconn.New(name, transport, h.connectionOptions(name))

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrServerExists, name)
	}
	h.conns[name] = conn
	h.order = append(h.order, name)
	return conn, nil
}

func (h *Hub) connectionOptions(name string) *mcpconn.Options {
	var opts mcpconn.Options
	if h.opts.Connection != nil {
		opts = *h.opts.Connection
	}
	if opts.Logger == nil {
		opts.Logger = h.logger
	}
	if opts.ClientName == "" {
		opts.ClientName = name
	}
	return &opts
}

func (h *Hub) buildTransport(name string, entry ServerEntry) (mcp.Transport, error) {
	if entry.IsHTTP() {
		return buildHTTPTransport(entry), nil
	}
	cmd := exec.Command(entry.Command, entry.Args...)
	cmd.Dir = entry.Cwd
	if len(entry.Env) > 0 {
		env := os.Environ()
		for k, v := range entry.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func buildHTTPTransport(entry ServerEntry) mcp.Transport {
	client := http.DefaultClient
	if len(entry.Headers) > 0 {
		headers := make(http.Header, len(entry.Headers))
		for k, v := range entry.Headers {
			headers.Set(k, v)
		}
		clone := *client
		clone.Transport = &headerRoundTripper{next: http.DefaultTransport, headers: headers}
		client = &clone
	}
	if strings.HasSuffix(strings.TrimSpace(entry.URL), "/sse") {
		return &mcp.SSEClientTransport{Endpoint: entry.URL, HTTPClient: client}
	}
	return &mcp.StreamableClientTransport{Endpoint: entry.URL, HTTPClient: client}
}

// headerRoundTripper injects static headers into every outbound request.
type headerRoundTripper struct {
	next    http.RoundTripper
	headers http.Header
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range rt.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	return rt.next.RoundTrip(req)
}

// Connect dials the named server.
func (h *Hub) Connect(ctx context.Context, name string) error {
	conn, ok := h.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrServerUnknown, name)
	}
	return conn.Connect(ctx)
}

// LoadConfig registers and connects every server in cfg. Servers are processed
// in lexical name order so the hub's registration order is deterministic.
func (h *Hub) LoadConfig(ctx context.Context, cfg Config, opts *LoadOptions) error {
	o := opts.normalized()
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	conns := make(map[string]*mcpconn.Connection, len(names))
	for _, name := range names {
		conn, err := h.AddServer(name, cfg[name])
		if err != nil {
			return fmt.Errorf("mcphub: add %q: %w", name, err)
		}
		conns[name] = conn
	}

	if !o.Parallel {
		for i, name := range names {
			if err := conns[name].Connect(ctx); err != nil {
				// The failed server and everything after it never connected;
				// only servers that completed their handshake stay registered.
				for _, unconnected := range names[i:] {
					h.evict(unconnected)
				}
				return fmt.Errorf("mcphub: connect %q: %w", name, err)
			}
		}
		return nil
	}

	for start := 0; start < len(names); start += o.MaxConcurrent {
		end := min(start+o.MaxConcurrent, len(names))
		var g errgroup.Group
		for _, name := range names[start:end] {
			g.Go(func() error {
				if err := conns[name].Connect(ctx); err != nil {
					h.logger.Warn("server failed to connect, removing from hub",
						"server", name, "error", err)
					h.evict(name)
				}
				return nil
			})
		}
		// Goroutines report failures through the log, never the group.
		_ = g.Wait()
	}
	return nil
}

func (h *Hub) evict(name string) {
	h.mu.Lock()
	conn, ok := h.conns[name]
	if ok {
		delete(h.conns, name)
		for i, n := range h.order {
			if n == name {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()
	if ok {
		if err := conn.Close(); err != nil {
			h.logger.Warn("close failed during eviction", "server", name, "error", err)
		}
	}
}

// RemoveServer closes and deregisters the named server. It reports whether the
// server was known.
func (h *Hub) RemoveServer(name string) bool {
	h.mu.RLock()
	_, ok := h.conns[name]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	h.evict(name)
	return true
}

// HasServer reports whether a server is registered.
func (h *Hub) HasServer(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[name]
	return ok
}

// ServerNames returns registered names in registration order.
func (h *Hub) ServerNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

// Size returns the number of registered servers.
func (h *Hub) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Get returns the connection registered under name.
func (h *Hub) Get(name string) (*mcpconn.Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conn, ok := h.conns[name]
	return conn, ok
}

// Connections returns all connections in registration order.
func (h *Hub) Connections() []*mcpconn.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*mcpconn.Connection, 0, len(h.order))
	for _, name := range h.order {
		conns = append(conns, h.conns[name])
	}
	return conns
}

// ServerTool tags a tool with its owning server. The tool's Name carries the
// "<server>.<name>" form; the unqualified name is preserved in OriginalName.
type ServerTool struct {
	Server       string
	OriginalName string
	Tool         *mcp.Tool
}

// ServerResource tags a resource with its owning server.
type ServerResource struct {
	Server   string
	Resource *mcp.Resource
}

// ServerPrompt tags a prompt with its owning server. The prompt's Name carries
// the "<server>.<name>" form.
type ServerPrompt struct {
	Server       string
	OriginalName string
	Prompt       *mcp.Prompt
}

// ListAllTools aggregates the exhaustive tool lists of every registered server
// in registration order, renaming each tool to "<server>.<name>".
func (h *Hub) ListAllTools(ctx context.Context) ([]ServerTool, error) {
	var all []ServerTool
	for _, name := range h.ServerNames() {
		conn, ok := h.Get(name)
		if !ok {
			continue
		}
		tools, err := conn.ListAllTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcphub: list tools on %q: %w", name, err)
		}
		for _, tool := range tools {
			renamed := *tool
			renamed.Name = name + "." + tool.Name
			all = append(all, ServerTool{Server: name, OriginalName: tool.Name, Tool: &renamed})
		}
	}
	return all, nil
}

// ListAllResources aggregates the exhaustive resource lists of every
// registered server in registration order.
func (h *Hub) ListAllResources(ctx context.Context) ([]ServerResource, error) {
	var all []ServerResource
	for _, name := range h.ServerNames() {
		conn, ok := h.Get(name)
		if !ok {
			continue
		}
		resources, err := conn.ListAllResources(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcphub: list resources on %q: %w", name, err)
		}
		for _, res := range resources {
			all = append(all, ServerResource{Server: name, Resource: res})
		}
	}
	return all, nil
}

// ListAllPrompts aggregates the exhaustive prompt lists of every registered
// server in registration order, renaming each prompt to "<server>.<name>".
func (h *Hub) ListAllPrompts(ctx context.Context) ([]ServerPrompt, error) {
	var all []ServerPrompt
	for _, name := range h.ServerNames() {
		conn, ok := h.Get(name)
		if !ok {
			continue
		}
		prompts, err := conn.ListAllPrompts(ctx)
		if err != nil {
			return nil, fmt.Errorf("mcphub: list prompts on %q: %w", name, err)
		}
		for _, prompt := range prompts {
			renamed := *prompt
			renamed.Name = name + "." + prompt.Name
			all = append(all, ServerPrompt{Server: name, OriginalName: prompt.Name, Prompt: &renamed})
		}
	}
	return all, nil
}

// SplitName splits a "<server>.<name>" identifier at the first dot. The
// remainder may itself contain dots; only the server segment is interpreted.
func SplitName(namespaced string) (server, name string, err error) {
	server, name, ok := strings.Cut(namespaced, ".")
	if !ok {
		return "", "", fmt.Errorf("mcphub: %q is not of the form <server>.<name>", namespaced)
	}
	if server == "" {
		return "", "", fmt.Errorf("mcphub: %q has an empty server segment", namespaced)
	}
	return server, name, nil
}

// CallTool invokes a tool by its "<server>.<tool>" name. The tool segment is
// passed to the owning server verbatim.
func (h *Hub) CallTool(ctx context.Context, namespaced string, args any) (*mcp.CallToolResult, error) {
	server, tool, err := SplitName(namespaced)
	if err != nil {
		return nil, err
	}
	conn, ok := h.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServerUnknown, server)
	}
	return conn.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
}

// ReadResource resolves a URI by asking each connected server in registration
// order and returning the first success together with the owning server's
// name. When every attempt fails the individual errors are joined.
func (h *Hub) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, string, error) {
	var errs []error
	attempted := false
	for _, name := range h.ServerNames() {
		conn, ok := h.Get(name)
		if !ok || conn.State() != mcpconn.StateConnected {
			continue
		}
		attempted = true
		res, err := conn.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
		if err == nil {
			return res, name, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	if !attempted {
		return nil, "", fmt.Errorf("mcphub: no connected server to read %q", uri)
	}
	return nil, "", fmt.Errorf("mcphub: read %q failed on every server: %w", uri, errors.Join(errs...))
}

// CloseAll closes every connection concurrently and clears the registry. Close
// failures are logged, never propagated; the registry empties regardless.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*mcpconn.Connection)
	h.order = nil
	h.mu.Unlock()

	var wg sync.WaitGroup
	for name, conn := range conns {
		wg.Add(1)
		go func(name string, conn *mcpconn.Connection) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				h.logger.Warn("close failed", "server", name, "error", err)
			}
		}(name, conn)
	}
	wg.Wait()
}
