package board

import (
	"context"

	"taskboard/domain"
)

// Remote is the persistence collaborator behind the board. Every call may
// fail; a failure is always reported as an error.
type Remote interface {
	FetchAll(ctx context.Context) ([]domain.Task, error)
	Create(ctx context.Context, task domain.NewTask) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
}
