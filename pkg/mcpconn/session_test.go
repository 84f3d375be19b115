package mcpconn

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeSession is a scriptable in-memory session implementation.
type fakeSession struct {
	mu sync.Mutex

	id   string
	init *mcp.InitializeResult

	toolPages     []*mcp.ListToolsResult
	toolPageIndex int
	listToolsErr  error

	callToolFn func(context.Context, *mcp.CallToolParams) (*mcp.CallToolResult, error)

	readResourceFn func(context.Context, *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error)

	taskStates  []Task
	taskIndex   int
	getTaskErr  error
	taskResult  *mcp.CallToolResult
	taskCalls   int
	resultCalls int

	closeCalls int
	closeErr   error
	waitCh     chan struct{}
	waitOnce   sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{id: "session-1", waitCh: make(chan struct{})}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Ping(context.Context, *mcp.PingParams) error { return nil }

func (f *fakeSession) ListTools(_ context.Context, _ *mcp.ListToolsParams) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listToolsErr != nil {
		return nil, f.listToolsErr
	}
	if f.toolPageIndex >= len(f.toolPages) {
		return &mcp.ListToolsResult{}, nil
	}
	page := f.toolPages[f.toolPageIndex]
	f.toolPageIndex++
	return page, nil
}

func (f *fakeSession) CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error) {
	if f.callToolFn != nil {
		return f.callToolFn(ctx, params)
	}
	return &mcp.CallToolResult{}, nil
}

func (f *fakeSession) ListResources(context.Context, *mcp.ListResourcesParams) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}

func (f *fakeSession) ListResourceTemplates(context.Context, *mcp.ListResourceTemplatesParams) (*mcp.ListResourceTemplatesResult, error) {
	return &mcp.ListResourceTemplatesResult{}, nil
}

func (f *fakeSession) ReadResource(ctx context.Context, params *mcp.ReadResourceParams) (*mcp.ReadResourceResult, error) {
	if f.readResourceFn != nil {
		return f.readResourceFn(ctx, params)
	}
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeSession) Subscribe(context.Context, *mcp.SubscribeParams) error { return nil }
func (f *fakeSession) Unsubscribe(context.Context, *mcp.UnsubscribeParams) error { return nil }

func (f *fakeSession) ListPrompts(context.Context, *mcp.ListPromptsParams) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}

func (f *fakeSession) GetPrompt(context.Context, *mcp.GetPromptParams) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (f *fakeSession) GetTask(_ context.Context, taskID string) (*Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskCalls++
	if f.getTaskErr != nil {
		return nil, f.getTaskErr
	}
	if len(f.taskStates) == 0 {
		return &Task{ID: taskID, State: TaskStateRunning}, nil
	}
	idx := f.taskIndex
	if idx >= len(f.taskStates) {
		idx = len(f.taskStates) - 1
	} else {
		f.taskIndex++
	}
	task := f.taskStates[idx]
	task.ID = taskID
	return &task, nil
}

func (f *fakeSession) GetTaskResult(context.Context, string) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultCalls++
	return f.taskResult, nil
}

func (f *fakeSession) CancelTask(context.Context, string) error { return nil }

func (f *fakeSession) InitializeResult() *mcp.InitializeResult { return f.init }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closeCalls++
	err := f.closeErr
	f.mu.Unlock()
	f.waitOnce.Do(func() { close(f.waitCh) })
	return err
}

func (f *fakeSession) Wait() error {
	<-f.waitCh
	return nil
}

func (f *fakeSession) taskCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.taskCalls
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestConnection wires a fake session directly into a Connection,
// bypassing the dial path.
func newTestConnection(t *testing.T, sess session) *Connection {
	t.Helper()
	c := New("test", nil, &Options{Logger: quietLogger()})
	c.mu.Lock()
	c.sess = sess
	c.state = StateConnected
	if sess != nil {
		if init := sess.InitializeResult(); init != nil {
			c.serverInfo = init.ServerInfo
			c.caps = init.Capabilities
		}
	}
	c.mu.Unlock()
	return c
}
