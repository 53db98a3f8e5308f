package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// RollbackPolicy decides what happens to an optimistic relocation whose
// status update was rejected by the remote store.
type RollbackPolicy int

const (
	// RevertOnFailure moves the task back to where it was before the drag.
	RevertOnFailure RollbackPolicy = iota
	// KeepOptimistic leaves the local board diverged until the next Load.
	KeepOptimistic
)

// Location is a position on the board.
type Location struct {
	Status domain.Status
	Index  int
}

// DragEvent is the end of a drag gesture. A nil Destination means the card
// was dropped outside every column.
type DragEvent struct {
	TaskID      string
	Source      Location
	Destination *Location
}

// Option configures a Controller.
type Option func(*Controller)

// WithNotifier sends operation outcomes to n instead of the log.
func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithRollbackPolicy overrides the default RevertOnFailure policy.
func WithRollbackPolicy(p RollbackPolicy) Option {
	return func(c *Controller) { c.policy = p }
}

// Controller derives the rendered board from a Store and orchestrates
// optimistic relocations against the remote store.
type Controller struct {
	store    *Store
	log      *log.Logger
	notifier Notifier
	policy   RollbackPolicy

	mu     sync.Mutex
	chains map[string]*relocationChain
	wg     sync.WaitGroup
}

// relocationChain serializes the status requests of one task. base is the
// position the remote store is known to agree with.
type relocationChain struct {
	seq     uint64
	pending int
	tail    chan struct{}
	base    Undo
}

// NewController creates a controller over store.
func NewController(store *Store, logger *log.Logger, opts ...Option) *Controller {
	if store == nil {
		panic("board.NewController: store is nil")
	}
	if logger == nil {
		logger = store.log
	}
	c := &Controller{
		store:    store,
		log:      logger,
		notifier: logNotifier{log: logger},
		policy:   RevertOnFailure,
		chains:   make(map[string]*relocationChain),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the board.
func (c *Controller) Snapshot() State { return c.store.Snapshot() }

// Columns returns the filtered and sorted columns in display order.
func (c *Controller) Columns() []Column { return c.store.Snapshot().Columns() }

// SetFilter updates the search term.
func (c *Controller) SetFilter(term string) State { return c.store.SetFilter(term) }

// SetSort updates the sort mode.
func (c *Controller) SetSort(mode SortMode) State { return c.store.SetSort(mode) }

// Refresh reloads the whole board.
func (c *Controller) Refresh(ctx context.Context) error {
	if err := c.store.Load(ctx); err != nil {
		c.fail("load", "", err, "Failed to fetch tasks.")
		return err
	}
	c.notify(Notice{Level: LevelSuccess, Message: "Tasks loaded."})
	return nil
}

// SaveTask creates a task when id is empty and updates it otherwise.
func (c *Controller) SaveTask(ctx context.Context, id, title, description string) error {
	var err error
	if id == "" {
		err = c.store.Create(ctx, title, description)
	} else {
		err = c.store.Update(ctx, id, title, description)
	}

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.notify(Notice{Level: LevelError, Message: "Please fill in all fields", Err: err})
	case err != nil:
		c.fail("save", id, err, "Failed to save task.")
	case id == "":
		c.notify(Notice{Level: LevelSuccess, Message: "Task added!"})
	default:
		c.notify(Notice{Level: LevelSuccess, Message: "Task updated!"})
	}
	return err
}

// DeleteTask removes a task.
func (c *Controller) DeleteTask(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		c.fail("delete", id, err, "Failed to delete task.")
		return err
	}
	c.notify(Notice{Level: LevelSuccess, Message: "Task deleted!"})
	return nil
}

// HandleRelocation applies a drag result to the local board at once and
// persists the new status in the background. The returned handle reports
// the outcome of the remote request.
func (c *Controller) HandleRelocation(ctx context.Context, ev DragEvent) (*Relocation, error) {
	if ev.Destination == nil {
		r := newRelocation(ev.TaskID, ev.Source, Location{})
		r.finish(RelocationIdle, nil)
		return r, nil
	}
	dest := *ev.Destination

	// c.mu covers the local move and the chain registration so a finishing
	// relocation of the same task cannot revert in between.
	c.mu.Lock()
	st, undo, err := c.store.Relocate(ev.TaskID, dest.Status, dest.Index)
	if err != nil {
		c.mu.Unlock()
		c.fail("relocate", ev.TaskID, err, "Failed to update task status.")
		return nil, err
	}
	if _, idx, ok := st.Find(ev.TaskID); ok {
		dest.Index = idx
	}
	r := newRelocation(ev.TaskID, Location{Status: undo.Status, Index: undo.Index}, dest)

	ch := c.chains[ev.TaskID]
	if ch == nil {
		ch = &relocationChain{base: undo}
		c.chains[ev.TaskID] = ch
	} else if ch.base.Generation != undo.Generation {
		// The board was reloaded mid-chain; the reloaded position is the
		// newest known agreement with the remote store.
		ch.base = undo
	}
	ch.seq++
	ch.pending++
	seq, prev := ch.seq, ch.tail
	done := make(chan struct{})
	ch.tail = done
	c.mu.Unlock()

	c.wg.Add(1)
	go c.persist(ctx, r, undo.Generation, seq, prev, done)
	return r, nil
}

func (c *Controller) persist(ctx context.Context, r *Relocation, gen, seq uint64, prev <-chan struct{}, done chan struct{}) {
	defer c.wg.Done()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
		}
	}

	err := c.store.PersistStatus(ctx, r.TaskID, r.To.Status)
	close(done)

	state, rerr := c.reconcile(r, gen, seq, err)
	if err == nil {
		c.notify(Notice{Level: LevelSuccess, Message: "Task status updated!"})
		r.finish(state, nil)
		return
	}
	c.fail("relocate", r.TaskID, err, "Failed to update task status.")
	if rerr != nil {
		c.log.WithFields(log.Fields{"op": "relocate", "task_id": r.TaskID}).WithError(rerr).Debug("relocation not reverted")
	}
	r.finish(state, err)
}

// reconcile settles the chain of r after its remote request returned err.
// The revert decision and the revert itself happen under c.mu, so a newer
// relocation of the task is either fully registered first or starts from
// the reverted position.
func (c *Controller) reconcile(r *Relocation, gen, seq uint64, err error) (RelocationState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.chains[r.TaskID]
	ch.pending--
	if ch.pending == 0 {
		delete(c.chains, r.TaskID)
	}
	if err == nil {
		ch.base = Undo{TaskID: r.TaskID, Status: r.To.Status, Index: r.To.Index, Generation: max(gen, ch.base.Generation)}
		return RelocationConfirmed, nil
	}
	if c.policy != RevertOnFailure || ch.seq != seq {
		return RelocationFailed, nil
	}
	if _, rerr := c.store.Revert(ch.base); rerr != nil {
		return RelocationFailed, rerr
	}
	return RelocationReverted, nil
}

// Wait blocks until every relocation issued so far has been reconciled.
func (c *Controller) Wait() { c.wg.Wait() }

// DropIndex converts a position in the rendered destination column into a
// bucket index, ignoring the task being moved.
func (s State) DropIndex(dest domain.Status, viewIndex int, movingID string) int {
	bucket := make([]domain.Task, 0, len(s.Buckets[dest]))
	for _, t := range s.Buckets[dest] {
		if t.ID != movingID {
			bucket = append(bucket, t)
		}
	}
	view := Visible(bucket, s.FilterTerm, s.SortMode)
	if len(view) == 0 {
		return len(bucket)
	}
	anchor := view[len(view)-1].ID
	after := true
	if viewIndex >= 0 && viewIndex < len(view) {
		anchor = view[viewIndex].ID
		after = false
	}
	for i, t := range bucket {
		if t.ID == anchor {
			if after {
				return i + 1
			}
			return i
		}
	}
	return len(bucket)
}

func (c *Controller) notify(n Notice) { c.notifier.Notify(n) }

func (c *Controller) fail(op, taskID string, err error, msg string) {
	fields := log.Fields{"op": op}
	if taskID != "" {
		fields["task_id"] = taskID
	}
	c.log.WithFields(fields).WithError(err).Error(msg)
	c.notify(Notice{Level: LevelError, Message: msg, Err: err})
}
