package mcpconn

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// session is the boundary between the orchestration layer and the underlying
// protocol session. The production implementation wraps the go-sdk client
// session; tests substitute fakes. Task operations sit at this boundary too so
// the polling machinery above it stays transport-agnostic.
type session interface {
	ID() string
	Ping(ctx context.Context, params *mcp.PingParams) error

	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)

	ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error)
	ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error)
	ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)
	Subscribe(ctx context.Context, params *mcp.SubscribeParams) error
	Unsubscribe(ctx context.Context, params *mcp.UnsubscribeParams) error

	ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error)
	GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error)

	GetTask(ctx context.Context, taskID string) (*Task, error)
	GetTaskResult(ctx context.Context, taskID string) (*mcp.CallToolResult, error)
	CancelTask(ctx context.Context, taskID string) error

	InitializeResult() *mcp.InitializeResult
	Close() error
	Wait() error
}

// sdkSession adapts *mcp.ClientSession to the session boundary.
type sdkSession struct {
	s *mcp.ClientSession
}

func (a *sdkSession) ID() string { return a.s.ID() }

func (a *sdkSession) Ping(ctx context.Context, params *mcp.PingParams) error {
	return a.s.Ping(ctx, params)
}

func (a *sdkSession) ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	return a.s.ListTools(ctx, params)
}

func (a *sdkSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	return a.s.CallTool(ctx, params)
}

func (a *sdkSession) ListResources(ctx context.Context, params *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	return a.s.ListResources(ctx, params)
}

func (a *sdkSession) ListResourceTemplates(ctx context.Context, params *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	return a.s.ListResourceTemplates(ctx, params)
}

func (a *sdkSession) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	return a.s.ReadResource(ctx, params)
}

func (a *sdkSession) Subscribe(ctx context.Context, params *mcp.SubscribeParams) error {
	return a.s.Subscribe(ctx, params)
}

func (a *sdkSession) Unsubscribe(ctx context.Context, params *mcp.UnsubscribeParams) error {
	return a.s.Unsubscribe(ctx, params)
}

func (a *sdkSession) ListPrompts(ctx context.Context, params *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	return a.s.ListPrompts(ctx, params)
}

func (a *sdkSession) GetPrompt(ctx context.Context, params *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	return a.s.GetPrompt(ctx, params)
}

// Task requests are part of the experimental tasks extension, which the
// go-sdk client does not expose yet. The orchestration layer above this
// boundary is complete; these return ErrTasksUnsupported until the SDK grows
// the corresponding calls.
func (a *sdkSession) GetTask(context.Context, string) (*Task, error) {
	return nil, ErrTasksUnsupported
}

func (a *sdkSession) GetTaskResult(context.Context, string) (*mcp.CallToolResult, error) {
	return nil, ErrTasksUnsupported
}

func (a *sdkSession) CancelTask(context.Context, string) error {
	return ErrTasksUnsupported
}

func (a *sdkSession) InitializeResult() *mcp.InitializeResult {
	return a.s.InitializeResult()
}

func (a *sdkSession) Close() error { return a.s.Close() }

func (a *sdkSession) Wait() error { return a.s.Wait() }
