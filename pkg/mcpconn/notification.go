package mcpconn

import (
	"encoding/json"
	"fmt"
)

// NotificationMethod identifies an MCP notification consumed by the
// Connection layer. The set is closed: dispatch works over the typed union
// below, with UnknownNotification as the explicit fallback for methods outside
// the set.
type NotificationMethod string

const (
	MethodToolListChanged     NotificationMethod = "notifications/tools/list_changed"
	MethodPromptListChanged   NotificationMethod = "notifications/prompts/list_changed"
	MethodResourceListChanged NotificationMethod = "notifications/resources/list_changed"
	MethodResourceUpdated     NotificationMethod = "notifications/resources/updated"
	MethodProgress            NotificationMethod = "notifications/progress"
	MethodLoggingMessage      NotificationMethod = "notifications/message"
	MethodTaskStatus          NotificationMethod = "notifications/tasks/status"
	MethodCancelled           NotificationMethod = "notifications/cancelled"
)

// Notification is the decoded form of an inbound server notification.
type Notification interface {
	Method() NotificationMethod
}

// ToolListChanged signals that the server's tool list is stale.
type ToolListChanged struct{}

// PromptListChanged signals that the server's prompt list is stale.
type PromptListChanged struct{}

// ResourceListChanged signals that the server's resource list is stale.
type ResourceListChanged struct{}

// ResourceUpdated reports a change to a subscribed resource.
type ResourceUpdated struct {
	URI string `json:"uri"`
}

// ProgressNotification reports progress for an in-flight request. Total and
// Message are optional on the wire; absence is preserved rather than being
// collapsed to zero values.
type ProgressNotification struct {
	Token    any      `json:"progressToken"`
	Progress float64  `json:"progress"`
	Total    *float64 `json:"total,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// LoggingMessage carries a server-side log record.
type LoggingMessage struct {
	Level  string          `json:"level"`
	Logger string          `json:"logger,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// TaskStatus carries a task snapshot pushed by the server.
type TaskStatus struct {
	Task Task
}

// RequestCancelled reports that the server abandoned a request.
type RequestCancelled struct {
	RequestID string `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// UnknownNotification preserves methods outside the closed set so callers can
// still observe them.
type UnknownNotification struct {
	Name   string
	Params json.RawMessage
}

func (ToolListChanged) Method() NotificationMethod      { return MethodToolListChanged }
func (PromptListChanged) Method() NotificationMethod    { return MethodPromptListChanged }
func (ResourceListChanged) Method() NotificationMethod  { return MethodResourceListChanged }
func (ResourceUpdated) Method() NotificationMethod      { return MethodResourceUpdated }
func (ProgressNotification) Method() NotificationMethod { return MethodProgress }
func (LoggingMessage) Method() NotificationMethod       { return MethodLoggingMessage }
func (TaskStatus) Method() NotificationMethod           { return MethodTaskStatus }
func (RequestCancelled) Method() NotificationMethod     { return MethodCancelled }
func (u UnknownNotification) Method() NotificationMethod {
	return NotificationMethod(u.Name)
}

// DecodeNotification maps a raw notification onto the typed union. Methods
// outside the known set decode to UnknownNotification; malformed payloads for
// known methods return an error.
func DecodeNotification(method string, params json.RawMessage) (Notification, error) {
	switch NotificationMethod(method) {
	case MethodToolListChanged:
		return ToolListChanged{}, nil
	case MethodPromptListChanged:
		return PromptListChanged{}, nil
	case MethodResourceListChanged:
		return ResourceListChanged{}, nil
	case MethodResourceUpdated:
		var n ResourceUpdated
		if err := decodeParams(method, params, &n); err != nil {
			return nil, err
		}
		return n, nil
	case MethodProgress:
		var n ProgressNotification
		if err := decodeParams(method, params, &n); err != nil {
			return nil, err
		}
		return n, nil
	case MethodLoggingMessage:
		var n LoggingMessage
		if err := decodeParams(method, params, &n); err != nil {
			return nil, err
		}
		return n, nil
	case MethodTaskStatus:
		var t Task
		if err := decodeParams(method, params, &t); err != nil {
			return nil, err
		}
		return TaskStatus{Task: t}, nil
	case MethodCancelled:
		var n RequestCancelled
		if err := decodeParams(method, params, &n); err != nil {
			return nil, err
		}
		return n, nil
	default:
		return UnknownNotification{Name: method, Params: params}, nil
	}
}

func decodeParams(method string, params json.RawMessage, dst any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return fmt.Errorf("mcpconn: decode %s params: %w", method, err)
	}
	return nil
}
