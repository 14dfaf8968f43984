package model

import "time"

// EditMode identifies the kind of image edit a task performs.
// The set is closed; anything else is rejected at enqueue time.
type EditMode string

const (
	ModeHeadSwap         EditMode = "HEAD_SWAP"
	ModeBackgroundChange EditMode = "BACKGROUND_CHANGE"
	ModePoseChange       EditMode = "POSE_CHANGE"
)

// ParseMode converts a raw string into an EditMode.
func ParseMode(s string) (EditMode, bool) {
	switch EditMode(s) {
	case ModeHeadSwap, ModeBackgroundChange, ModePoseChange:
		return EditMode(s), true
	}
	return "", false
}

// TaskState is the lifecycle state of a task.
// Transitions: QUEUED -> PROCESSING -> {COMPLETED | FAILED}.
type TaskState string

const (
	StateQueued     TaskState = "QUEUED"
	StateProcessing TaskState = "PROCESSING"
	StateCompleted  TaskState = "COMPLETED"
	StateFailed     TaskState = "FAILED"
)

// Terminal reports whether no further transition may leave the state.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// TaskPayload is the durable blob handed from the producer to the worker
// through the queue. It carries everything needed to reconstruct processing
// intent without re-reading the task record.
type TaskPayload struct {
	UserID      string         `json:"user_id,omitempty"`
	Mode        EditMode       `json:"mode"`
	SourceImage string         `json:"source_image"`
	Config      map[string]any `json:"config,omitempty"`
}

// TaskResult holds the artifact references of a completed task.
// Image bytes live in file storage; only paths/URLs are stored here.
type TaskResult struct {
	OutputImage     string         `json:"output_image"`
	Thumbnail       string         `json:"thumbnail,omitempty"`
	ComparisonImage string         `json:"comparison_image,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// TaskError holds the normalized failure of a failed task.
type TaskError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Task is the authoritative lifecycle record of one edit request.
// It is created exactly once at enqueue time and mutated only through
// the task service.
type Task struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Mode        EditMode       `json:"mode"`
	SourceImage string         `json:"source_image"`
	Config      map[string]any `json:"config,omitempty"`
	State       TaskState      `json:"state"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"current_step,omitempty"`
	Result      *TaskResult    `json:"result,omitempty"`
	Error       *TaskError     `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Snapshot is the read-only view of a task returned to the route layer.
type Snapshot struct {
	ID          string      `json:"id"`
	Mode        EditMode    `json:"mode"`
	State       TaskState   `json:"state"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"current_step,omitempty"`
	Result      *TaskResult `json:"result,omitempty"`
	Error       *TaskError  `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}
