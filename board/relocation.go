package board

import (
	"context"
	"sync"
)

// RelocationState is the position of one relocation in its lifecycle:
// Idle, or Applied followed by Confirmed, Failed or Reverted.
type RelocationState int

const (
	RelocationIdle RelocationState = iota
	RelocationApplied
	RelocationConfirmed
	RelocationFailed
	RelocationReverted
)

func (s RelocationState) String() string {
	switch s {
	case RelocationIdle:
		return "idle"
	case RelocationApplied:
		return "applied"
	case RelocationConfirmed:
		return "confirmed"
	case RelocationFailed:
		return "failed"
	case RelocationReverted:
		return "reverted"
	}
	return "unknown"
}

// Relocation tracks the remote reconciliation of one optimistic move.
type Relocation struct {
	TaskID string
	From   Location
	To     Location

	done chan struct{}

	mu    sync.Mutex
	state RelocationState
	err   error
}

func newRelocation(id string, from, to Location) *Relocation {
	return &Relocation{
		TaskID: id,
		From:   from,
		To:     to,
		done:   make(chan struct{}),
		state:  RelocationApplied,
	}
}

func (r *Relocation) finish(state RelocationState, err error) {
	r.mu.Lock()
	r.state = state
	r.err = err
	r.mu.Unlock()
	close(r.done)
}

// Done is closed once the relocation reached a final state.
func (r *Relocation) Done() <-chan struct{} { return r.done }

// State returns the current lifecycle state.
func (r *Relocation) State() RelocationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the remote failure, if any.
func (r *Relocation) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the relocation is reconciled or ctx ends.
func (r *Relocation) Wait(ctx context.Context) (RelocationState, error) {
	select {
	case <-r.done:
		return r.State(), r.Err()
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}
