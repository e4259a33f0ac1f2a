// Package control carries pause, resume and cancel requests from outside a
// running workflow to its phase loop, which observes them between phases.
package control

import (
	"context"
	"sync"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// ErrCancelled is the error reported once Cancel was requested.
func ErrCancelled() error {
	return core.ErrState(core.CodeCancelled, "workflow cancelled by user")
}

// Status is a snapshot of the requested state.
type Status struct {
	Paused    bool `json:"paused"`
	Cancelled bool `json:"cancelled"`
}

// ControlPlane is safe for concurrent use. The zero value is not usable;
// call New.
type ControlPlane struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	// resumed is closed and replaced by every Resume so waiters wake once.
	resumed    chan struct{}
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// New creates a plane in the running state.
func New() *ControlPlane {
	return &ControlPlane{
		resumed:  make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// Pause asks the workflow to hold before its next phase. It reports whether
// the state changed; a cancelled workflow cannot be paused.
func (cp *ControlPlane) Pause() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.paused || cp.cancelled {
		return false
	}
	cp.paused = true
	return true
}

// Resume releases a paused workflow. It reports whether the state changed.
func (cp *ControlPlane) Resume() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if !cp.paused {
		return false
	}
	cp.paused = false
	close(cp.resumed)
	cp.resumed = make(chan struct{})
	return true
}

// Cancel requests cancellation. It is idempotent and also releases a pause.
func (cp *ControlPlane) Cancel() {
	cp.mu.Lock()
	cp.cancelled = true
	cp.paused = false
	cp.mu.Unlock()
	cp.cancelOnce.Do(func() { close(cp.cancelCh) })
}

// Cancelled reports whether Cancel was called.
func (cp *ControlPlane) Cancelled() bool {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return cp.cancelled
}

// Status returns the current flags.
func (cp *ControlPlane) Status() Status {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return Status{Paused: cp.paused, Cancelled: cp.cancelled}
}

// Checkpoint is called by the workflow between phases. It fails once Cancel
// was requested and blocks while paused.
func (cp *ControlPlane) Checkpoint(ctx context.Context) error {
	for {
		cp.mu.Lock()
		cancelled, paused, resumed := cp.cancelled, cp.paused, cp.resumed
		cp.mu.Unlock()

		if cancelled {
			return ErrCancelled()
		}
		if !paused {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cp.cancelCh:
			return ErrCancelled()
		case <-resumed:
		}
	}
}

// Bind derives a context that is cancelled when parent is done or Cancel is
// called. Callers must call the returned cancel func.
func (cp *ControlPlane) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-cp.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
