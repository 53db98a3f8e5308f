package board

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"taskboard/domain"
)

type fakeRemote struct {
	mu     sync.Mutex
	tasks  []domain.Task
	nextID int
	calls  []string

	fetchErr  error
	createErr error
	updateErr error
	deleteErr error
	statusFn  func(ctx context.Context, id string, status domain.Status) error
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) FetchAll(ctx context.Context) ([]domain.Task, error) {
	f.record("fetch")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]domain.Task(nil), f.tasks...), nil
}

func (f *fakeRemote) Create(ctx context.Context, n domain.NewTask) (domain.Task, error) {
	f.record("create")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.Task{}, f.createErr
	}
	f.nextID++
	task := domain.Task{
		ID:          fmt.Sprintf("task-%d", f.nextID),
		Title:       n.Title,
		Description: n.Description,
		Status:      n.Status,
		CreatedAt:   n.CreatedAt,
	}
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeRemote) Update(ctx context.Context, id string, p domain.TaskPatch) error {
	f.record("update " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			if p.Title != nil {
				f.tasks[i].Title = *p.Title
			}
			if p.Description != nil {
				f.tasks[i].Description = *p.Description
			}
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	f.record("delete " + id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeRemote) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	f.record("status " + id + " " + string(status))
	if f.statusFn != nil {
		if err := f.statusFn(ctx, id, status); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks[i].Status = status
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

// Status returns the remote status of id.
func (f *fakeRemote) Status(id string) domain.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			return t.Status
		}
	}
	return ""
}

type noticeRecorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *noticeRecorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *noticeRecorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.notices))
	for i, n := range r.notices {
		out[i] = n.Message
	}
	return out
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func task(id, title string, status domain.Status, minutes int) domain.Task {
	return domain.Task{
		ID:          id,
		Title:       title,
		Description: title + " description",
		Status:      status,
		CreatedAt:   t0.Add(time.Duration(minutes) * time.Minute),
	}
}

func newTestStore(t *testing.T, remote *fakeRemote) (*Store, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	return NewStore(remote, logger), hook
}

func ids(tasks []domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

// assertPartitioned checks that each task sits in exactly the bucket named by
// its status and that ids are unique.
func assertPartitioned(t *testing.T, st State) {
	t.Helper()
	seen := map[string]domain.Status{}
	for status, tasks := range st.Buckets {
		if !status.Valid() {
			t.Fatalf("unexpected bucket %q", status)
		}
		for _, task := range tasks {
			if task.Status != status {
				t.Fatalf("task %s has status %q but sits in %q", task.ID, task.Status, status)
			}
			if prev, dup := seen[task.ID]; dup {
				t.Fatalf("task %s present in %q and %q", task.ID, prev, status)
			}
			seen[task.ID] = status
		}
	}
}
