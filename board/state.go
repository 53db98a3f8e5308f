package board

import (
	"fmt"
	"strings"

	"taskboard/domain"
)

// SortMode orders the rendered view of a bucket. The zero value keeps bucket order.
type SortMode string

const (
	SortNone    SortMode = ""
	SortByTitle SortMode = "title"
	SortByDate  SortMode = "date"
)

// ParseSortMode maps user input to a SortMode. "none" and "" both mean no sorting.
func ParseSortMode(raw string) (SortMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return SortNone, nil
	case "title", "bytitle":
		return SortByTitle, nil
	case "date", "bydate", "created", "createdat":
		return SortByDate, nil
	}
	return SortNone, fmt.Errorf("unknown sort mode %q", raw)
}

// Next cycles none → title → date → none.
func (m SortMode) Next() SortMode {
	switch m {
	case SortNone:
		return SortByTitle
	case SortByTitle:
		return SortByDate
	}
	return SortNone
}

func (m SortMode) String() string {
	if m == SortNone {
		return "none"
	}
	return string(m)
}

// Buckets maps each status to its ordered tasks.
type Buckets map[domain.Status][]domain.Task

// State is the board as seen by one session. Values returned by Store are
// copies and may be modified freely by the caller.
type State struct {
	Buckets    Buckets
	FilterTerm string
	SortMode   SortMode
	// Generation increases on every wholesale reload.
	Generation uint64
}

// Undo records where a task sat before a relocation.
type Undo struct {
	TaskID     string
	Status     domain.Status
	Index      int
	Generation uint64
}

func emptyBuckets() Buckets {
	b := make(Buckets, len(domain.Statuses))
	for _, s := range domain.Statuses {
		b[s] = []domain.Task{}
	}
	return b
}

func (b Buckets) clone() Buckets {
	out := make(Buckets, len(b))
	for s, tasks := range b {
		out[s] = append([]domain.Task(nil), tasks...)
	}
	for _, s := range domain.Statuses {
		if out[s] == nil {
			out[s] = []domain.Task{}
		}
	}
	return out
}

func (s State) clone() State {
	s.Buckets = s.Buckets.clone()
	return s
}

// Find returns the bucket and position of the task with the given id.
func (s State) Find(id string) (domain.Status, int, bool) {
	return s.Buckets.find(id)
}

// Task returns the task with the given id.
func (s State) Task(id string) (domain.Task, bool) {
	status, idx, ok := s.Buckets.find(id)
	if !ok {
		return domain.Task{}, false
	}
	return s.Buckets[status][idx], true
}

// Len returns the number of tasks across all buckets.
func (s State) Len() int {
	n := 0
	for _, tasks := range s.Buckets {
		n += len(tasks)
	}
	return n
}

func (b Buckets) find(id string) (domain.Status, int, bool) {
	for _, s := range domain.Statuses {
		for i, t := range b[s] {
			if t.ID == id {
				return s, i, true
			}
		}
	}
	return "", -1, false
}

// partition splits a fetched collection by status. Unknown statuses land in
// todo and duplicate ids keep their first occurrence; both are reported back.
func partition(tasks []domain.Task) (Buckets, []string) {
	b := emptyBuckets()
	seen := make(map[string]struct{}, len(tasks))
	var anomalies []string
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			anomalies = append(anomalies, fmt.Sprintf("duplicate task id %q dropped", t.ID))
			continue
		}
		seen[t.ID] = struct{}{}
		if !t.Status.Valid() {
			anomalies = append(anomalies, fmt.Sprintf("task %q has unknown status %q, moved to %s", t.ID, t.Status, domain.StatusTodo))
			t.Status = domain.StatusTodo
		}
		b[t.Status] = append(b[t.Status], t)
	}
	return b, anomalies
}

// move takes the task out of its bucket and inserts it into dest at idx,
// clamped to the destination bounds. The receiver must be a private copy.
func (b Buckets) move(id string, dest domain.Status, idx int) (from domain.Status, fromIdx int, ok bool) {
	from, fromIdx, ok = b.find(id)
	if !ok {
		return "", -1, false
	}
	src := b[from]
	task := src[fromIdx]
	b[from] = append(src[:fromIdx:fromIdx], src[fromIdx+1:]...)

	task.Status = dest
	target := b[dest]
	idx = min(max(idx, 0), len(target))
	target = append(target, domain.Task{})
	copy(target[idx+1:], target[idx:])
	target[idx] = task
	b[dest] = target
	return from, fromIdx, true
}
