package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/client"
	"taskboard/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	tasks     []domain.Task
	session   client.Session
	statusErr error
	calls     []string
	seq       int
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) FetchAll(context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch")
	return append([]domain.Task(nil), f.tasks...), nil
}

func (f *fakeBackend) Create(_ context.Context, n domain.NewTask) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	f.seq++
	t := domain.Task{ID: fmt.Sprintf("new-%d", f.seq), Title: n.Title, Description: n.Description, Status: n.Status, CreatedAt: n.CreatedAt}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeBackend) Update(_ context.Context, id string, p domain.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update " + id)
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

func (f *fakeBackend) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete " + id)
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeBackend) UpdateStatus(_ context.Context, id string, s domain.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status " + id + " " + string(s))
	if f.statusErr != nil {
		return f.statusErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks[i].Status = s
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (f *fakeBackend) Session(context.Context) (client.Session, error) {
	return f.session, nil
}

func sampleTasks() []domain.Task {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return []domain.Task{
		{ID: "aaaa1111", Title: "Write report", Description: "quarterly", Status: domain.StatusTodo, CreatedAt: base},
		{ID: "bbbb2222", Title: "Buy milk", Description: "2 liters", Status: domain.StatusTodo, CreatedAt: base.Add(time.Hour)},
		{ID: "cccc3333", Title: "Deploy", Description: "api", Status: domain.StatusDone, CreatedAt: base.Add(2 * time.Hour)},
	}
}

type harness struct {
	backend *fakeBackend
	app     *App
	config  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("TASKBOARD_SERVER", "")
	t.Setenv("TASKBOARD_TOKEN", "")
	logger, _ := newNullLogger()
	h := &harness{
		backend: &fakeBackend{tasks: sampleTasks()},
		config:  filepath.Join(t.TempDir(), "config.yaml"),
	}
	h.app = &App{
		log:        logger,
		NewBackend: func(Config) Backend { return h.backend },
	}
	return h
}

func newNullLogger() (*log.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := log.New()
	l.SetOutput(&buf)
	return l, &buf
}

func (h *harness) run(args ...string) (string, string, error) {
	cmd := NewRootCmd(h.app)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", h.config}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestListTable(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("list", "--sort", "title")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	buy := strings.Index(out, "Buy milk")
	write := strings.Index(out, "Write report")
	deploy := strings.Index(out, "Deploy")
	if buy < 0 || write < 0 || deploy < 0 {
		t.Fatalf("missing rows:\n%s", out)
	}
	if !(buy < write && write < deploy) {
		t.Fatalf("expected todo sorted by title before done:\n%s", out)
	}
	if !strings.Contains(out, "STATUS") || !strings.Contains(out, "Todo") || !strings.Contains(out, "Done") {
		t.Fatalf("unexpected table:\n%s", out)
	}
}

func TestListFilterJSON(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("list", "--filter", "MILK", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(tasks) != 1 || tasks[0].ID != "bbbb2222" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestListStatusAndBadSort(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("list", "--status", "done", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "cccc3333") || strings.Contains(out, "aaaa1111") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, _, err := h.run("list", "--sort", "priority"); err == nil {
		t.Fatal("expected unknown sort mode to fail")
	}
}

func TestAddTask(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("add", "New thing", "details")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if strings.TrimSpace(out) != "Task added!" {
		t.Fatalf("unexpected output: %q", out)
	}
	last := h.backend.tasks[len(h.backend.tasks)-1]
	if last.Title != "New thing" || last.Status != domain.StatusTodo {
		t.Fatalf("unexpected task: %+v", last)
	}
}

func TestAddTaskValidation(t *testing.T) {
	h := newHarness(t)
	_, errOut, err := h.run("add", "  ", "details")
	var verr *board.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if strings.TrimSpace(errOut) != "Please fill in all fields" {
		t.Fatalf("unexpected notice: %q", errOut)
	}
	for _, c := range h.backend.calls {
		if c == "create" {
			t.Fatal("create must not reach the server")
		}
	}
}

func TestEditByPrefix(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("edit", "bbbb", "--title", "Buy oat milk")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if strings.TrimSpace(out) != "Task updated!" {
		t.Fatalf("unexpected output: %q", out)
	}
	got := h.backend.tasks[1]
	if got.Title != "Buy oat milk" || got.Description != "2 liters" {
		t.Fatalf("unexpected task: %+v", got)
	}

	if _, _, err := h.run("edit", "bbbb"); err == nil {
		t.Fatal("expected error without changes")
	}
}

func TestRmUnknownAndAmbiguous(t *testing.T) {
	h := newHarness(t)
	h.backend.tasks = append(h.backend.tasks, domain.Task{ID: "aaaa9999", Title: "t", Description: "d", Status: domain.StatusTodo})

	_, _, err := h.run("rm", "zzz")
	var nf *board.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := h.run("rm", "aaaa"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	out, _, err := h.run("rm", "aaaa9999")
	if err != nil {
		t.Fatalf("rm: %v", err)
	}
	if strings.TrimSpace(out) != "Task deleted!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestMoveTask(t *testing.T) {
	h := newHarness(t)
	out, _, err := h.run("move", "aaaa", "in-progress")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if strings.TrimSpace(out) != "Task status updated!" {
		t.Fatalf("unexpected output: %q", out)
	}
	if h.backend.tasks[0].Status != domain.StatusInProgress {
		t.Fatalf("unexpected status: %s", h.backend.tasks[0].Status)
	}
}

func TestMoveTaskFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.statusErr = errors.New("boom")
	_, errOut, err := h.run("move", "aaaa1111", "done", "--index", "0")
	var perr *board.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if strings.TrimSpace(errOut) != "Failed to update task status." {
		t.Fatalf("unexpected notice: %q", errOut)
	}
	if _, _, err := h.run("move", "aaaa1111", "archived"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
}

func TestBoardCommandUsesRunner(t *testing.T) {
	h := newHarness(t)
	var got board.Remote
	h.app.RunBoard = func(_ context.Context, remote board.Remote, _ *log.Logger) error {
		got = remote
		return nil
	}
	if _, _, err := h.run("board"); err != nil {
		t.Fatalf("board: %v", err)
	}
	if got != h.backend {
		t.Fatal("board should run against the configured backend")
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)
	h.backend.session = client.Session{Authenticated: true, UserID: "u1", Email: "u1@example.com"}

	out, _, err := h.run("login")
	if err != nil || !strings.Contains(out, "/auth/google") {
		t.Fatalf("expected instructions, got %q %v", out, err)
	}

	out, _, err = h.run("login", "a.b.c")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "u1@example.com") {
		t.Fatalf("unexpected output: %q", out)
	}
	cfg, err := LoadConfig(h.config)
	if err != nil || cfg.Token != "a.b.c" {
		t.Fatalf("token not saved: %+v %v", cfg, err)
	}
	info, err := os.Stat(h.config)
	if err != nil || info.Mode().Perm() != 0o600 {
		t.Fatalf("config should be private: %v %v", info, err)
	}

	out, _, err = h.run("whoami")
	if err != nil || strings.TrimSpace(out) != "u1@example.com (u1)" {
		t.Fatalf("whoami: %q %v", out, err)
	}

	if _, _, err := h.run("logout"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := h.run("whoami"); !errors.Is(err, errNotLoggedIn) {
		t.Fatalf("expected not logged in, got %v", err)
	}
}

func TestLoginRejectedToken(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.run("login", "bad.to.ken"); err == nil {
		t.Fatal("expected rejection")
	}
	if _, err := os.Stat(h.config); !os.IsNotExist(err) {
		t.Fatal("rejected token must not be saved")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: http://board.local\ntoken: file-token\ntimeout: 3s\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TASKBOARD_SERVER", "")
	t.Setenv("TASKBOARD_TOKEN", "env-token")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != "http://board.local" || cfg.Token != "env-token" || cfg.Timeout != 3*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	missing, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if missing.Server != defaultServer || missing.Timeout != defaultTimeout {
		t.Fatalf("expected defaults, got %+v", missing)
	}

	if err := os.WriteFile(path, []byte("server: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	h := newHarness(t)
	var seen Config
	h.app.NewBackend = func(cfg Config) Backend {
		seen = cfg
		return h.backend
	}
	if err := SaveConfig(h.config, Config{Server: "http://file", Token: "file"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.run("--server", "http://flag", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if seen.Server != "http://flag" || seen.Token != "file" {
		t.Fatalf("unexpected config: %+v", seen)
	}
}
