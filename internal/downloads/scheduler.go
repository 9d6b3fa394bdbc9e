package downloads

import "context"

// TaskState is the lifecycle state of one transfer task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskPaused
	TaskDone
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskPaused:
		return "paused"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Terminal reports whether no further events will follow for this state.
func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskFailed || s == TaskCancelled
}

// TaskSpec describes one file transfer to enqueue.
type TaskSpec struct {
	ItemID     string `json:"itemId"`
	FileID     string `json:"fileId"`
	URL        string `json:"url"`
	DestPath   string `json:"destPath"`
	TotalBytes int64  `json:"totalBytes"`
}

// Task is a scheduler-owned transfer, surviving process restarts.
type Task struct {
	ID string `json:"id"`
	TaskSpec
	Bytes int64     `json:"bytes"`
	State TaskState `json:"state"`
	Error string    `json:"error,omitempty"`
}

// TaskEvent reports task progress or a state change. Events carry the opaque
// task ID; consumers look state up in their own task-indexed maps.
type TaskEvent struct {
	TaskID     string
	ItemID     string
	FileID     string
	Bytes      int64
	TotalBytes int64
	State      TaskState
	Err        error
}

// Scheduler is the background transfer backend. Pause, Resume, and Cancel are
// commands, not instant-state guarantees: the new state is confirmed only by
// the next event for the task.
type Scheduler interface {
	// Enqueue registers and starts a transfer, returning its opaque task ID.
	Enqueue(ctx context.Context, spec TaskSpec) (string, error)

	// Pause stops a task's transfer, keeping its partial bytes.
	Pause(taskID string) error

	// Resume restarts a paused task from its partial bytes.
	Resume(taskID string) error

	// Cancel stops a task and removes it from tracking. Partial bytes are
	// left for the transfer backend to reclaim, never scrubbed here.
	Cancel(taskID string) error

	// Tasks returns the surviving task list, including tasks recovered from a
	// previous process.
	Tasks() []Task

	// Events returns the event stream. Closed by Close.
	Events() <-chan TaskEvent

	// Close stops all transfers and the event stream.
	Close() error
}
