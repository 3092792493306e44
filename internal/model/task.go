package model

import "time"

// TaskStatus is the lifecycle state of a signing task.
type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskTrashed    TaskStatus = "trashed"
)

// TaskStatuses lists every known status in lifecycle order.
var TaskStatuses = []TaskStatus{TaskDraft, TaskInProgress, TaskCompleted, TaskCancelled, TaskTrashed}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	for _, known := range TaskStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Task is a signing job owned by a single user.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"ownerId"`
	OwnerEmail  string     `json:"ownerEmail,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
