package api

import (
	"context"

	"taskboard/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, userID string, task domain.Task) error
	UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error
	UpdateTaskStatus(ctx context.Context, userID, id string, status domain.Status) error
	DeleteTask(ctx context.Context, userID, id string) error
}

// UserStore records signed-in accounts.
type UserStore interface {
	UpsertUser(ctx context.Context, u domain.User) error
}

// EventSink receives task events from the publishing pool.
type EventSink interface {
	PublishEvent(ctx context.Context, ev domain.TaskEvent) error
}

// Authenticator is implemented by types able to resolve a session from an
// Authorization header value.
type Authenticator interface {
	SessionFromAuthHeader(string) (Session, error)
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}

// StateStore keeps OAuth state values between the redirect and the callback.
type StateStore interface {
	Save(ctx context.Context, state string) error
	// Consume deletes state and reports whether it was present.
	Consume(ctx context.Context, state string) (bool, error)
}

// Session identifies the caller of a request.
type Session struct {
	UserID string
	Email  string
}
