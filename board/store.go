package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Store holds the categorized tasks of the current session and mediates all
// remote persistence calls. Every mutation except Relocate is followed by a
// full reload.
type Store struct {
	remote Remote
	log    *log.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state State
}

// NewStore creates an empty board backed by remote.
func NewStore(remote Remote, logger *log.Logger) *Store {
	if remote == nil {
		panic("board.NewStore: remote is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Store{
		remote: remote,
		log:    logger,
		now:    time.Now,
		state:  State{Buckets: emptyBuckets()},
	}
}

// Snapshot returns a copy of the current board.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Load replaces the buckets with the remote collection. On failure the
// previous board is kept.
func (s *Store) Load(ctx context.Context) error {
	tasks, err := s.remote.FetchAll(ctx)
	if err != nil {
		return &FetchError{Err: err}
	}
	buckets, anomalies := partition(tasks)
	for _, a := range anomalies {
		s.log.WithField("op", "load").Warn(a)
	}

	s.mu.Lock()
	s.state.Buckets = buckets
	s.state.Generation++
	s.mu.Unlock()
	return nil
}

// Create validates the fields, persists a new todo task and reloads.
func (s *Store) Create(ctx context.Context, title, description string) error {
	if err := domain.ValidateFields(title, description); err != nil {
		return &ValidationError{Op: "create", Err: err}
	}
	task := domain.NewTask{
		Title:       title,
		Description: description,
		Status:      domain.StatusTodo,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := s.remote.Create(ctx, task); err != nil {
		return &PersistenceError{Op: "create", Err: err}
	}
	return s.Load(ctx)
}

// Update validates the fields, persists the new title and description and reloads.
func (s *Store) Update(ctx context.Context, id, title, description string) error {
	if err := domain.ValidateFields(title, description); err != nil {
		return &ValidationError{Op: "update", Err: err}
	}
	patch := domain.TaskPatch{Title: &title, Description: &description}
	if err := s.remote.Update(ctx, id, patch); err != nil {
		return &PersistenceError{Op: "update", TaskID: id, Err: err}
	}
	return s.Load(ctx)
}

// Delete removes the task remotely and reloads. Unknown ids are left to the
// remote store to reject.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.remote.Delete(ctx, id); err != nil {
		return &PersistenceError{Op: "delete", TaskID: id, Err: err}
	}
	return s.Load(ctx)
}

// Relocate moves a task to dest at index without waiting for the remote
// store. The returned Undo restores the previous position via Revert.
func (s *Store) Relocate(id string, dest domain.Status, index int) (State, Undo, error) {
	if !dest.Valid() {
		return s.Snapshot(), Undo{}, &ValidationError{Op: "relocate", Err: domain.ErrInvalidTask}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buckets := s.state.Buckets.clone()
	from, fromIdx, ok := buckets.move(id, dest, index)
	if !ok {
		return s.state.clone(), Undo{}, &NotFoundError{Op: "relocate", TaskID: id}
	}
	s.state.Buckets = buckets
	undo := Undo{TaskID: id, Status: from, Index: fromIdx, Generation: s.state.Generation}
	return s.state.clone(), undo, nil
}

// Revert puts a relocated task back where the undo token says it was.
func (s *Store) Revert(undo Undo) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if undo.Generation != s.state.Generation {
		return s.state.clone(), ErrStaleUndo
	}
	buckets := s.state.Buckets.clone()
	if _, _, ok := buckets.move(undo.TaskID, undo.Status, undo.Index); !ok {
		return s.state.clone(), ErrStaleUndo
	}
	s.state.Buckets = buckets
	return s.state.clone(), nil
}

// SetFilter changes the search term applied to the rendered columns.
func (s *Store) SetFilter(term string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.FilterTerm = term
	return s.state.clone()
}

// SetSort changes the ordering applied to the rendered columns.
func (s *Store) SetSort(mode SortMode) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.SortMode = mode
	return s.state.clone()
}

// PersistStatus sends a status change for an already relocated task.
func (s *Store) PersistStatus(ctx context.Context, id string, status domain.Status) error {
	if err := s.remote.UpdateStatus(ctx, id, status); err != nil {
		return &PersistenceError{Op: "update status", TaskID: id, Err: err}
	}
	return nil
}
