package mcpconn

import "sync"

// TaskStatusFunc observes task snapshots for a subscribed task.
type TaskStatusFunc func(Task)

// TaskStatusManager fans task status notifications out to per-task subscriber
// sets. Subscribers are isolated from each other: one panicking callback does
// not prevent delivery to the rest.
type TaskStatusManager struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]TaskStatusFunc
}

// NewTaskStatusManager builds an empty manager.
func NewTaskStatusManager() *TaskStatusManager {
	return &TaskStatusManager{subs: make(map[string]map[uint64]TaskStatusFunc)}
}

// Subscribe adds fn to the subscriber set for taskID and returns an
// unsubscribe closure that removes exactly that callback. Once a task's set is
// empty the task entry itself is evicted to bound memory.
func (m *TaskStatusManager) Subscribe(taskID string, fn TaskStatusFunc) func() {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	set := m.subs[taskID]
	if set == nil {
		set = make(map[uint64]TaskStatusFunc)
		m.subs[taskID] = set
	}
	set[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		if set, ok := m.subs[taskID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(m.subs, taskID)
			}
		}
		m.mu.Unlock()
	}
}

// HandleStatus dispatches the snapshot to every subscriber of task.ID.
func (m *TaskStatusManager) HandleStatus(task Task) {
	m.mu.Lock()
	set := m.subs[task.ID]
	fns := make([]TaskStatusFunc, 0, len(set))
	for _, fn := range set {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		dispatchStatus(fn, task)
	}
}

func dispatchStatus(fn TaskStatusFunc, task Task) {
	defer func() { _ = recover() }()
	fn(task)
}

// Clear drops all subscriptions; used on Connection teardown.
func (m *TaskStatusManager) Clear() {
	m.mu.Lock()
	m.subs = make(map[string]map[uint64]TaskStatusFunc)
	m.mu.Unlock()
}

// Len reports the number of tasks with at least one subscriber.
func (m *TaskStatusManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
