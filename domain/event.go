package domain

import "encoding/json"

// Task event types published after a successful mutation.
const (
	TaskCreated       = "task-created"
	TaskUpdated       = "task-updated"
	TaskStatusChanged = "task-status-changed"
	TaskDeleted       = "task-deleted"
)

// TaskEvent describes a change to a user's board for downstream consumers.
type TaskEvent struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	UserID    string          `json:"userId"`
	TaskID    string          `json:"taskId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// User is the account record kept for a signed-in Google identity.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}
