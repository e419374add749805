package orchestrator

import (
	"context"
	"errors"
	"log"
	"sync"
)

// ErrStopped is returned by WaitIfPaused once Stop was called.
var ErrStopped = errors.New("orchestrator stopped")

// PauseController gates the run loop between plan steps. Pausing never
// interrupts a stage already in flight; Stop is terminal.
type PauseController struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

// NewPauseController returns a controller in the running state.
func NewPauseController() *PauseController {
	pc := &PauseController{}
	pc.cond = sync.NewCond(&pc.mu)
	return pc
}

// Pause holds the run before its next plan step.
func (pc *PauseController) Pause() {
	pc.set(func() bool {
		if pc.paused || pc.stopped {
			return false
		}
		pc.paused = true
		log.Printf("[orchestrator] paused before next plan step")
		return true
	})
}

// Resume releases a paused run.
func (pc *PauseController) Resume() {
	pc.set(func() bool {
		if !pc.paused {
			return false
		}
		pc.paused = false
		log.Printf("[orchestrator] resumed")
		return true
	})
}

// Stop ends the run at its next plan step and wakes any waiter.
func (pc *PauseController) Stop() {
	pc.set(func() bool {
		if pc.stopped {
			return false
		}
		pc.stopped = true
		return true
	})
}

// Rearm clears a previous Stop so the controller can gate a new run. A
// pause carries over.
func (pc *PauseController) Rearm() {
	pc.set(func() bool {
		if !pc.stopped {
			return false
		}
		pc.stopped = false
		return true
	})
}

// set applies change under the lock and wakes waiters if it reports a
// state change.
func (pc *PauseController) set(change func() bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if change() {
		pc.cond.Broadcast()
	}
}

// IsPaused reports whether the run is paused.
func (pc *PauseController) IsPaused() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.paused
}

// IsStopped reports whether Stop was called.
func (pc *PauseController) IsStopped() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.stopped
}

// WaitIfPaused returns immediately unless paused, in which case it blocks
// until Resume, Stop, or the end of ctx. It returns ErrStopped after Stop
// and ctx.Err() when ctx ends first.
func (pc *PauseController) WaitIfPaused(ctx context.Context) error {
	// Wake the cond wait when ctx ends.
	unhook := context.AfterFunc(ctx, func() {
		pc.mu.Lock()
		pc.cond.Broadcast()
		pc.mu.Unlock()
	})
	defer unhook()

	pc.mu.Lock()
	defer pc.mu.Unlock()
	for pc.paused && !pc.stopped {
		if err := ctx.Err(); err != nil {
			return err
		}
		pc.cond.Wait()
	}
	if pc.stopped {
		return ErrStopped
	}
	return nil
}
