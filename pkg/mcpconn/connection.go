package mcpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// State represents the lifecycle of a Connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// SamplingHandler satisfies a server-initiated sampling request, typically by
// delegating to an LLM completion call.
type SamplingHandler func(context.Context, *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error)

// ElicitationHandler satisfies a server-initiated request for user input.
type ElicitationHandler func(context.Context, *mcp.ElicitRequest) (*mcp.ElicitResult, error)

// NotificationHandler observes every decoded inbound notification.
type NotificationHandler func(context.Context, Notification)

// Options configure a Connection.
type Options struct {
	// ClientName and ClientVersion identify this client during the handshake.
	// ClientName defaults to the connection's server name.
	ClientName    string
	ClientVersion string
	// ConnectTimeout bounds the handshake. Defaults to 30s.
	ConnectTimeout time.Duration
	// RequestTimeout is applied to each request-issuing operation when the
	// caller's context carries no tighter deadline of its own. Defaults to 30s.
	RequestTimeout time.Duration
	// KeepAlive is forwarded to the go-sdk client options.
	KeepAlive time.Duration
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// RPCLogger, when set, observes every JSON-RPC message on the wire.
	RPCLogger RPCLogger
	// Sampling, Elicitation and Roots advertise the corresponding client
	// capabilities and delegate server-initiated requests to the caller.
	Sampling    SamplingHandler
	Elicitation ElicitationHandler
	Roots       []*mcp.Root
	// OnNotification observes every decoded inbound notification after the
	// internal registries have seen it.
	OnNotification NotificationHandler
	// OnError is invoked when the underlying session terminates with an error.
	OnError func(error)
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Connection wraps a single MCP server session. It owns one instance each of
// ProgressTracker, CancellationManager and TaskStatusManager; Close clears all
// three unconditionally.
type Connection struct {
	name      string
	opts      Options
	transport mcp.Transport

	mu         sync.Mutex
	state      State
	closed     bool
	connecting bool
	connectCh  chan struct{}
	sess       session
	serverInfo *mcp.Implementation
	caps       *mcp.ServerCapabilities

	progress *ProgressTracker
	cancels  *CancellationManager
	tasks    *TaskStatusManager
}

// New builds a Connection over the given transport. The connection is
// disconnected until Connect is called.
func New(name string, transport mcp.Transport, opts *Options) *Connection {
	options := opts.normalized()
	if options.ClientName == "" {
		options.ClientName = name
	}
	return &Connection{
		name:      name,
		opts:      options,
		transport: transport,
		state:     StateDisconnected,
		progress:  NewProgressTracker(options.Logger),
		cancels:   NewCancellationManager(),
		tasks:     NewTaskStatusManager(),
	}
}

// Name returns the server name this connection was registered under.
func (c *Connection) Name() string { return c.name }

// State reports the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ServerInfo returns the identity the server reported during the handshake,
// or nil before the first successful connect.
func (c *Connection) ServerInfo() *mcp.Implementation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Capabilities returns the negotiated server capabilities, or nil before the
// first successful connect.
func (c *Connection) Capabilities() *mcp.ServerCapabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps
}

// SessionID returns the transport session identifier when one was negotiated.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.ID()
}

// Progress exposes the connection's progress tracker.
func (c *Connection) Progress() *ProgressTracker { return c.progress }

// Cancellations exposes the connection's cancellation manager.
func (c *Connection) Cancellations() *CancellationManager { return c.cancels }

// TaskStatuses exposes the connection's task status manager.
func (c *Connection) TaskStatuses() *TaskStatusManager { return c.tasks }

// Connect establishes the session. It is idempotent: a connected Connection
// returns nil immediately, and concurrent callers coalesce onto one dial
// attempt. The handshake races Options.ConnectTimeout; on timeout the
// half-open transport is closed best-effort (cleanup errors swallowed) and a
// TimeoutError is returned. Other handshake failures come back wrapped in a
// ConnectError. Connect after Close returns ErrAlreadyClosed.
func (c *Connection) Connect(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrAlreadyClosed
		}
		if c.state == StateConnected {
			c.mu.Unlock()
			return nil
		}
		if c.connecting {
			ch := c.connectCh
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ch:
				continue
			}
		}
		c.connecting = true
		c.state = StateConnecting
		c.connectCh = make(chan struct{})
		c.mu.Unlock()

		sess, err := c.dial(ctx)

		c.mu.Lock()
		c.connecting = false
		close(c.connectCh)
		if err != nil {
			c.state = StateDisconnected
			c.mu.Unlock()
			return err
		}
		if c.closed {
			// Close raced the dial; do not resurrect the session.
			c.mu.Unlock()
			_ = sess.Close()
			return ErrAlreadyClosed
		}
		c.sess = sess
		if init := sess.InitializeResult(); init != nil {
			c.serverInfo = init.ServerInfo
			c.caps = init.Capabilities
		}
		c.state = StateConnected
		c.mu.Unlock()
		go c.monitor(sess)
		return nil
	}
}

func (c *Connection) dial(ctx context.Context) (session, error) {
	impl := &mcp.Implementation{Name: c.opts.ClientName, Version: c.opts.ClientVersion}
	clientOpts := &mcp.ClientOptions{KeepAlive: c.opts.KeepAlive}
	if h := c.opts.Sampling; h != nil {
		clientOpts.CreateMessageHandler = func(ctx context.Context, req *mcp.CreateMessageRequest) (*mcp.CreateMessageResult, error) {
			return h(ctx, req)
		}
	}
	if h := c.opts.Elicitation; h != nil {
		clientOpts.ElicitationHandler = func(ctx context.Context, req *mcp.ElicitRequest) (*mcp.ElicitResult, error) {
			return h(ctx, req)
		}
	}
	client := mcp.NewClient(impl, clientOpts)
	client.AddReceivingMiddleware(c.receivingMiddleware())
	if len(c.opts.Roots) > 0 {
		client.AddRoots(c.opts.Roots...)
	}

	transport := c.transport
	if c.opts.RPCLogger != nil {
		transport = &loggingTransport{server: c.name, delegate: transport, logger: c.opts.RPCLogger}
	}

	type dialResult struct {
		sess *mcp.ClientSession
		err  error
	}
	dialCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := make(chan dialResult, 1)
	go func() {
		s, err := client.Connect(dialCtx, transport, nil)
		ch <- dialResult{sess: s, err: err}
	}()

	reap := func() {
		// Leaking a half-open session is worse than losing its close error.
		cancel()
		go func() {
			if r := <-ch; r.sess != nil {
				_ = r.sess.Close()
			}
		}()
	}

	timer := time.NewTimer(c.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		cancel()
		if r.err != nil {
			return nil, &ConnectError{Server: c.name, Err: r.err}
		}
		return &sdkSession{s: r.sess}, nil
	case <-timer.C:
		reap()
		return nil, &TimeoutError{Op: "connect " + c.name, Timeout: c.opts.ConnectTimeout}
	case <-ctx.Done():
		reap()
		return nil, ctx.Err()
	}
}

// monitor waits for the session to end and resets the connection state so a
// dropped transport is observable without an explicit Close.
func (c *Connection) monitor(sess session) {
	err := sess.Wait()
	c.mu.Lock()
	stale := c.sess != sess
	if !stale {
		c.sess = nil
		c.state = StateDisconnected
	}
	c.mu.Unlock()
	if stale {
		return
	}
	// Release anyone awaiting a request that can no longer complete.
	c.cancels.CancelAll()
	c.progress.Clear()
	c.tasks.Clear()
	if err != nil {
		c.opts.Logger.Warn("session ended", "server", c.name, "error", err)
		if c.opts.OnError != nil {
			c.opts.OnError(err)
		}
	}
}

// Close tears the connection down. It is idempotent. The three registries are
// cleared unconditionally, even when the transport close fails: resource
// cleanup must not be skippable by a transport error.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.sess
	c.sess = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	c.cancels.CancelAll()
	c.progress.Clear()
	c.tasks.Clear()
	return err
}

func (c *Connection) connectedSession() (session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, c.name)
	}
	return c.sess, nil
}

func (c *Connection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.opts.RequestTimeout)
}

// Ping sends a protocol-level ping.
func (c *Connection) Ping(ctx context.Context, params *mcp.PingParams) error {
	sess, err := c.connectedSession()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.Ping(ctx, params)
}

// ListTools retrieves one page of tools.
func (c *Connection) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ListTools(ctx, params)
}

// CallTool invokes a tool on the server.
func (c *Connection) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.CallTool(ctx, params)
}

// ListResources retrieves one page of resources.
func (c *Connection) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ListResources(ctx, params)
}

// ListResourceTemplates retrieves one page of resource templates.
func (c *Connection) ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ListResourceTemplates(ctx, params)
}

// ReadResource reads a resource by URI.
func (c *Connection) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ReadResource(ctx, params)
}

// SubscribeResource subscribes to update notifications for a resource.
func (c *Connection) SubscribeResource(ctx context.Context, params *mcp.SubscribeParams) error {
	sess, err := c.connectedSession()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.Subscribe(ctx, params)
}

// UnsubscribeResource cancels a resource subscription.
func (c *Connection) UnsubscribeResource(ctx context.Context, params *mcp.UnsubscribeParams) error {
	sess, err := c.connectedSession()
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.Unsubscribe(ctx, params)
}

// ListPrompts retrieves one page of prompts.
func (c *Connection) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ListPrompts(ctx, params)
}

// GetPrompt retrieves a single prompt definition.
func (c *Connection) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.GetPrompt(ctx, params)
}

// ListAllTools follows NextCursor until the server stops returning one and
// returns the concatenation of every page.
func (c *Connection) ListAllTools(ctx context.Context) ([]*mcp.Tool, error) {
	var all []*mcp.Tool
	var cursor string
	for {
		res, err := c.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Tools...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

// ListAllResources exhausts resource pagination.
func (c *Connection) ListAllResources(ctx context.Context) ([]*mcp.Resource, error) {
	var all []*mcp.Resource
	var cursor string
	for {
		res, err := c.ListResources(ctx, &mcp.ListResourcesParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Resources...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

// ListAllResourceTemplates exhausts resource template pagination.
func (c *Connection) ListAllResourceTemplates(ctx context.Context) ([]*mcp.ResourceTemplate, error) {
	var all []*mcp.ResourceTemplate
	var cursor string
	for {
		res, err := c.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, res.ResourceTemplates...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

// ListAllPrompts exhausts prompt pagination.
func (c *Connection) ListAllPrompts(ctx context.Context) ([]*mcp.Prompt, error) {
	var all []*mcp.Prompt
	var cursor string
	for {
		res, err := c.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		all = append(all, res.Prompts...)
		if res.NextCursor == "" {
			return all, nil
		}
		cursor = res.NextCursor
	}
}

// CallToolWithProgress calls a tool with a freshly generated progress token
// attached to the call metadata, routing matching progress notifications to
// fn. The token is always released when the call returns, regardless of
// outcome; a notification arriving after release is dropped by the tracker.
func (c *Connection) CallToolWithProgress(ctx context.Context, params *mcp.CallToolParams, fn ProgressFunc) (*mcp.CallToolResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	token := c.progress.GenerateToken()
	c.progress.Register(token, fn)
	defer c.progress.Unregister(token)
	attachProgressToken(params, token)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.CallTool(ctx, params)
}

// ReadResourceWithProgress reads a resource with progress correlation, with
// the same token lifecycle as CallToolWithProgress.
func (c *Connection) ReadResourceWithProgress(ctx context.Context, params *mcp.ReadResourceParams, fn ProgressFunc) (*mcp.ReadResourceResult, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	token := c.progress.GenerateToken()
	c.progress.Register(token, fn)
	defer c.progress.Unregister(token)
	attachProgressToken(params, token)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return sess.ReadResource(ctx, params)
}

type progressCarrier interface {
	mcp.Params
	GetProgressToken() any
	SetProgressToken(any)
}

func attachProgressToken(params progressCarrier, token string) {
	if params.GetMeta() == nil {
		params.SetMeta(map[string]any{})
	}
	params.SetProgressToken(token)
}

// CancellableCall is the handle returned by CallToolCancellable.
type CancellableCall struct {
	RequestID string

	cancels *CancellationManager
	done    chan struct{}
	res     *mcp.CallToolResult
	err     error
}

// Cancel aborts the call if it is still in flight. It reports false when the
// call already completed (or was already cancelled), in which case no
// cancellation is propagated: a message for a finished request would be noise.
func (cc *CancellableCall) Cancel() bool {
	return cc.cancels.Cancel(cc.RequestID)
}

// Done is closed once the call has settled.
func (cc *CancellableCall) Done() <-chan struct{} { return cc.done }

// Wait blocks until the call settles or ctx is done.
func (cc *CancellableCall) Wait(ctx context.Context) (*mcp.CallToolResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cc.done:
		return cc.res, cc.err
	}
}

// CallToolCancellable registers a cancellation entry, launches the call in the
// background and returns immediately. The call is detached from ctx's
// cancellation (its values are preserved) so the handle outlives the calling
// scope; Cancel is the one way to abort it. Aborting cancels the request
// context, which the go-sdk propagates to the server as a cancellation
// notification on a best-effort basis.
func (c *Connection) CallToolCancellable(ctx context.Context, params *mcp.CallToolParams) (*CancellableCall, error) {
	sess, err := c.connectedSession()
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	// The entry must exist before dispatch so a concurrent Cancel has
	// something to act on.
	callCtx := c.cancels.Create(context.WithoutCancel(ctx), requestID)
	call := &CancellableCall{
		RequestID: requestID,
		cancels:   c.cancels,
		done:      make(chan struct{}),
	}
	go func() {
		res, callErr := sess.CallTool(callCtx, params)
		if !c.cancels.Complete(requestID) && callCtx.Err() != nil {
			// Cancel won the race; surface the abort over the transport error.
			callErr = fmt.Errorf("%w: request %s", ErrAborted, requestID)
			res = nil
		}
		call.res = res
		call.err = callErr
		close(call.done)
	}()
	return call, nil
}

// receivingMiddleware intercepts inbound traffic on the session and feeds
// notifications through the typed decoder into the correlation registries.
func (c *Connection) receivingMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if strings.HasPrefix(method, "notifications/") {
				c.handleNotification(ctx, method, req)
			}
			return next(ctx, method, req)
		}
	}
}

func (c *Connection) handleNotification(ctx context.Context, method string, req mcp.Request) {
	var raw json.RawMessage
	if params := req.GetParams(); params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			c.opts.Logger.Warn("notification params not encodable", "server", c.name, "method", method, "error", err)
			return
		}
		raw = encoded
	}
	n, err := DecodeNotification(method, raw)
	if err != nil {
		c.opts.Logger.Warn("notification decode failed", "server", c.name, "method", method, "error", err)
		return
	}
	c.dispatch(ctx, n)
}

// dispatch routes a decoded notification to its registry and then to the
// caller's observer hook. Observer failures are contained at the dispatch
// site; a misbehaving observer must never crash the notification pump.
func (c *Connection) dispatch(ctx context.Context, n Notification) {
	switch v := n.(type) {
	case ProgressNotification:
		c.progress.HandleProgress(v)
	case TaskStatus:
		c.tasks.HandleStatus(v.Task)
	}
	if fn := c.opts.OnNotification; fn != nil {
		func() {
			defer func() { _ = recover() }()
			fn(ctx, n)
		}()
	}
}
