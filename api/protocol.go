package api

import (
	"time"

	"taskboard/domain"
)

const maxBodySize = 64 * 1024 // 64 KiB

const idempotencyHeader = "Idempotency-Key"

type dataResponse[T any] struct {
	Data T `json:"data"`
}

// PUT /api/tasks/:id/status request body
type statusRequest struct {
	Status string `json:"status"`
}

// legacyTask is the task shape of the legacy web client, which addresses
// tasks by _id.
type legacyTask struct {
	domain.Task
	LegacyID string `json:"_id"`
}

// legacyTaskBody is what the legacy web client sends on create and edit.
type legacyTaskBody struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"createdAt"`
}

func toLegacy(tasks []domain.Task) []legacyTask {
	out := make([]legacyTask, len(tasks))
	for i, t := range tasks {
		out[i] = legacyTask{Task: t, LegacyID: t.ID}
	}
	return out
}

type sessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"userId,omitempty"`
	Email         string `json:"email,omitempty"`
}

func (b legacyTaskBody) newTask() domain.NewTask {
	var n domain.NewTask
	if b.Title != nil {
		n.Title = *b.Title
	}
	if b.Description != nil {
		n.Description = *b.Description
	}
	if b.Status != "" {
		if st, err := domain.ParseStatus(b.Status); err == nil {
			n.Status = st
		} else {
			n.Status = domain.Status(b.Status)
		}
	}
	if ts, err := time.Parse(time.RFC3339, b.CreatedAt); err == nil {
		n.CreatedAt = ts
	}
	return n
}
