package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the board column a task belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = [...]Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s names one of the board columns.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Label returns the column heading for s.
func (s Status) Label() string {
	switch s {
	case StatusTodo:
		return "Todo"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	}
	return string(s)
}

// ParseStatus accepts the wire value of a status, ignoring case and
// separators so "in-progress" and "inprogress" both map to inProgress.
func ParseStatus(raw string) (Status, error) {
	norm := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.TrimSpace(raw)))
	for _, s := range Statuses {
		if strings.ToLower(string(s)) == norm {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTask, raw)
}

// Task represents a single board item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewTask carries the fields of a task that does not have an id yet.
type NewTask struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      Status    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TaskPatch carries partial edits of a task's text fields.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

var (
	// ErrTaskNotFound is returned when no task exists for the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTask wraps every task field validation failure.
	ErrInvalidTask = errors.New("invalid task")
)

// ValidateFields checks that title and description are both present.
func ValidateFields(title, description string) error {
	var missing []string
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(description) == "" {
		missing = append(missing, "description")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", ErrInvalidTask, strings.Join(missing, " and "))
	}
	return nil
}

// Validate checks the fields of a task about to be created and fills the
// defaults: status todo and a creation time of now.
func (n *NewTask) Validate(now time.Time) error {
	if err := ValidateFields(n.Title, n.Description); err != nil {
		return err
	}
	if n.Status == "" {
		n.Status = StatusTodo
	}
	if !n.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, n.Status)
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	return nil
}

// Validate checks that a patch changes at least one field and leaves no
// field blank.
func (p TaskPatch) Validate() error {
	if p.Title == nil && p.Description == nil {
		return fmt.Errorf("%w: nothing to update", ErrInvalidTask)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidTask)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		return fmt.Errorf("%w: description required", ErrInvalidTask)
	}
	return nil
}

// Trimmed returns a copy of p with surrounding whitespace removed from the
// set fields.
func (p TaskPatch) Trimmed() TaskPatch {
	out := TaskPatch{}
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		out.Title = &t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		out.Description = &d
	}
	return out
}
