package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// dropAfter is how long Emit waits on a full channel before giving up.
const dropAfter = 100 * time.Millisecond

// EventEmitter fans run events out to one subscriber. Nothing is queued
// until Events is called, so a run with no UI attached never fills the
// buffer.
type EventEmitter struct {
	ch       chan OrchestratorEvent
	listened atomic.Bool
	dropped  atomic.Uint64

	// mu guards closed against a concurrent send on a closed channel.
	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates an emitter buffering up to size events.
func NewEventEmitter(size int) *EventEmitter {
	return &EventEmitter{ch: make(chan OrchestratorEvent, size)}
}

// Emit queues ev for the subscriber, stamping its time if unset. A full
// buffer gets dropAfter to drain before the event is counted as dropped.
func (e *EventEmitter) Emit(ev OrchestratorEvent) {
	if !e.listened.Load() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.ch <- ev:
		return
	default:
	}

	timer := time.NewTimer(dropAfter)
	defer timer.Stop()
	select {
	case e.ch <- ev:
	case <-timer.C:
		if n := e.dropped.Add(1); n == 1 || n%10 == 0 {
			log.Printf("[orchestrator] event buffer full, dropped %s (%d dropped so far)", ev.Type, n)
		}
	}
}

// DroppedCount returns how many events were dropped on a full buffer.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.dropped.Load()
}

// Events subscribes and returns the event channel.
func (e *EventEmitter) Events() <-chan OrchestratorEvent {
	e.listened.Store(true)
	return e.ch
}

// Close closes the channel; later emits are ignored. Safe to call twice.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.ch)
	}
}
