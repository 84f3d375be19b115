package mcpconn

// TaskState is the lifecycle state of a server-tracked background task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether the state is one the task can never leave.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// Task is a snapshot of a background task as pushed or polled from the
// server. The client only observes snapshots; it never mutates State locally.
type Task struct {
	ID       string    `json:"taskId"`
	State    TaskState `json:"status"`
	Message  string    `json:"statusMessage,omitempty"`
	Progress *float64  `json:"progress,omitempty"`
}
