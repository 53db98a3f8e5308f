package board

import (
	"errors"
	"fmt"
)

// ErrStaleUndo is returned by Revert when the board was reloaded or the task
// disappeared after the relocation being undone.
var ErrStaleUndo = errors.New("undo token is stale")

// ValidationError reports input rejected before any remote call was made.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// NotFoundError reports a task id absent from local state.
type NotFoundError struct {
	Op     string
	TaskID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: task %q not found", e.Op, e.TaskID)
}

// FetchError reports a failed full reload of the board.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("load tasks: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError reports a mutating remote call that failed after local
// validation passed.
type PersistenceError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
