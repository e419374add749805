// Package pool runs submitted tasks on a fixed set of workers draining a
// priority queue. Each task runs under its own timeout and ends in exactly
// one terminal status; the pool never retries.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/workstore"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// Defaults.
const (
	DefaultWorkers     = 10
	DefaultTaskTimeout = 300 * time.Second
	DefaultName        = "default"
)

var (
	// ErrPoolStopped is returned when submitting to, or waiting on, a stopped pool.
	ErrPoolStopped = errors.New("pool stopped")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("pool already started")
	// ErrTaskNotFound is returned for unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// ProcessFunc does the work for one task payload. It should return promptly
// once ctx is done; if it does not, the pool abandons the call.
type ProcessFunc func(ctx context.Context, payload map[string]any) (any, error)

// Stats is a point-in-time view of the pool.
type Stats struct {
	ByStatus      map[models.TaskStatus]int `json:"by_status"`
	QueueDepth    int                       `json:"queue_depth"`
	ActiveWorkers int                       `json:"active_workers"`
	Workers       int                       `json:"workers"`
	Stopped       bool                      `json:"stopped"`
}

type poolOptions struct {
	workers     int
	taskTimeout time.Duration
	name        string
	store       workstore.WorkStore
	health      *health.AgentHealth
	onComplete  func(models.Task)
}

// Option configures a WorkerPool.
type Option func(*poolOptions)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(o *poolOptions) { o.workers = n }
}

// WithTaskTimeout sets the per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *poolOptions) { o.taskTimeout = d }
}

// WithName names the pool; the name scopes its WorkStore keys.
func WithName(name string) Option {
	return func(o *poolOptions) { o.name = name }
}

// WithStore mirrors queued and active task ids into WorkStore sets.
func WithStore(s workstore.WorkStore) Option {
	return func(o *poolOptions) { o.store = s }
}

// WithHealth reports completion counters and processing time to h.
func WithHealth(h *health.AgentHealth) Option {
	return func(o *poolOptions) { o.health = h }
}

// WithOnComplete registers a hook called with every task that reaches a
// terminal status. It runs on the goroutine that finished the task.
func WithOnComplete(fn func(models.Task)) Option {
	return func(o *poolOptions) { o.onComplete = fn }
}

type entry struct {
	task models.Task
	done chan struct{}
}

// WorkerPool is a fixed-size priority worker pool. The task registry and
// active set are owned by the pool and only mutated under its mutex.
type WorkerPool struct {
	process ProcessFunc
	opts    poolOptions

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   map[string]*entry
	queue   *priorityQueue
	seq     uint64
	active  map[string]struct{}
	started bool
	stopped bool

	stopCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pool that runs process for every submitted payload.
func New(process ProcessFunc, opts ...Option) *WorkerPool {
	o := poolOptions{
		workers:     DefaultWorkers,
		taskTimeout: DefaultTaskTimeout,
		name:        DefaultName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		o.workers = 1
	}
	if o.taskTimeout <= 0 {
		o.taskTimeout = DefaultTaskTimeout
	}

	p := &WorkerPool{
		process: process,
		opts:    o,
		tasks:   make(map[string]*entry),
		queue:   newPriorityQueue(),
		active:  make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Name returns the pool name.
func (p *WorkerPool) Name() string {
	return p.opts.name
}

// QueuedKey is the WorkStore set holding ids of queued tasks.
func (p *WorkerPool) QueuedKey() string {
	return "pool:" + p.opts.name + ":queued"
}

// ActiveKey is the WorkStore set holding ids of running tasks.
func (p *WorkerPool) ActiveKey() string {
	return "pool:" + p.opts.name + ":active"
}

// Submit enqueues payload and returns the new task id. It never blocks on
// workers. Lower priority values run first.
func (p *WorkerPool) Submit(payload map[string]any, priority int) (string, error) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return "", ErrPoolStopped
	}

	id := uuid.New().String()
	p.seq++
	p.tasks[id] = &entry{
		task: models.Task{
			ID:        id,
			Seq:       p.seq,
			Payload:   payload,
			Priority:  priority,
			Status:    models.TaskStatusPending,
			CreatedAt: time.Now(),
		},
		done: make(chan struct{}),
	}
	p.queue.push(id, priority, p.seq)
	p.cond.Signal()
	p.mu.Unlock()

	p.mirror(func(s workstore.WorkStore) error { return s.AddToSet(p.QueuedKey(), id) })
	return id, nil
}

// Status returns a snapshot of the task.
func (p *WorkerPool) Status(id string) (models.Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return e.task.Clone(), true
}

// Cancel cancels a pending task. It returns false for unknown, running or
// finished tasks.
func (p *WorkerPool) Cancel(id string) bool {
	p.mu.Lock()
	e, ok := p.tasks[id]
	if !ok || e.task.Status != models.TaskStatusPending {
		p.mu.Unlock()
		return false
	}
	p.queue.remove(id)
	now := time.Now()
	e.task.Status = models.TaskStatusCancelled
	e.task.CompletedAt = &now
	snapshot := e.task.Clone()
	p.mu.Unlock()

	p.mirror(func(s workstore.WorkStore) error { return s.RemoveFromSet(p.QueuedKey(), id) })
	if p.opts.onComplete != nil {
		p.opts.onComplete(snapshot)
	}
	close(e.done)
	return true
}

// Wait blocks until the task reaches a terminal status, ctx is done, or the
// pool stops with the task still unfinished.
func (p *WorkerPool) Wait(ctx context.Context, id string) (models.Task, error) {
	p.mu.Lock()
	e, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return models.Task{}, fmt.Errorf("wait %s: %w", id, ErrTaskNotFound)
	}

	select {
	case <-e.done:
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	case <-p.stopCh:
		p.mu.Lock()
		pending := e.task.Status == models.TaskStatusPending
		p.mu.Unlock()
		if pending {
			return models.Task{}, fmt.Errorf("wait %s: %w", id, ErrPoolStopped)
		}
		// Running tasks are cancelled by Stop and finish promptly.
		select {
		case <-e.done:
		case <-ctx.Done():
			return models.Task{}, ctx.Err()
		}
	}

	t, _ := p.Status(id)
	return t, nil
}

// Start launches the worker goroutines. Cancelling ctx has the same effect
// as Stop.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrPoolStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()

	for i := 0; i < p.opts.workers; i++ {
		p.wg.Add(1)
		go p.worker(runCtx)
	}

	go func() {
		<-runCtx.Done()
		p.markStopped()
	}()

	if h := p.opts.health; h != nil {
		if err := h.SetStatus(models.AgentStatusRunning, map[string]any{
			"pool":    p.opts.name,
			"workers": p.opts.workers,
		}); err != nil {
			log.Printf("[pool] %s: set status: %v", p.opts.name, err)
		}
	}
	return nil
}

// markStopped flips the pool to non-accepting and wakes idle workers.
func (p *WorkerPool) markStopped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
	p.cond.Broadcast()
}

// Stop cancels in-flight tasks, stops accepting new ones, and waits for
// the workers to exit. Tasks still queued stay pending.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()

	p.markStopped()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if h := p.opts.health; h != nil {
		if err := h.SetStatus(models.AgentStatusDone, map[string]any{"pool": p.opts.name}); err != nil {
			log.Printf("[pool] %s: set status: %v", p.opts.name, err)
		}
	}
}

// Stats returns counts by status, queue depth and busy worker count.
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		ByStatus:      make(map[models.TaskStatus]int, len(models.AllTaskStatuses)),
		QueueDepth:    p.queue.len(),
		ActiveWorkers: len(p.active),
		Workers:       p.opts.workers,
		Stopped:       p.stopped,
	}
	for _, e := range p.tasks {
		s.ByStatus[e.task.Status]++
	}
	return s
}

// next blocks until a task is available or the pool stops. Popping and the
// stop check happen under one lock, so no task is taken after stop.
func (p *WorkerPool) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.stopped && p.queue.len() == 0 {
		p.cond.Wait()
	}
	if p.stopped {
		return "", false
	}

	id, _ := p.queue.pop()
	e := p.tasks[id]
	now := time.Now()
	e.task.Status = models.TaskStatusRunning
	e.task.StartedAt = &now
	p.active[id] = struct{}{}
	return id, true
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		id, ok := p.next()
		if !ok {
			return
		}
		p.mirror(func(s workstore.WorkStore) error {
			if err := s.RemoveFromSet(p.QueuedKey(), id); err != nil {
				return err
			}
			return s.AddToSet(p.ActiveKey(), id)
		})
		p.run(ctx, id)
	}
}

type outcome struct {
	result any
	err    error
}

// run executes one task and records its terminal status.
func (p *WorkerPool) run(ctx context.Context, id string) {
	p.mu.Lock()
	payload := p.tasks[id].task.Payload
	p.mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, p.opts.taskTimeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := p.process(taskCtx, payload)
		ch <- outcome{result: res, err: err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-taskCtx.Done():
		out = outcome{err: taskCtx.Err()}
	}

	status := models.TaskStatusCompleted
	switch {
	case out.err == nil:
	case ctx.Err() != nil:
		status = models.TaskStatusCancelled
	case errors.Is(out.err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		status = models.TaskStatusTimeout
	default:
		status = models.TaskStatusFailed
	}

	p.finish(id, status, out)
}

func (p *WorkerPool) finish(id string, status models.TaskStatus, out outcome) {
	p.mu.Lock()
	e := p.tasks[id]
	now := time.Now()
	e.task.Status = status
	e.task.CompletedAt = &now
	switch status {
	case models.TaskStatusCompleted:
		e.task.Result = out.result
	case models.TaskStatusTimeout:
		e.task.Error = fmt.Sprintf("timed out after %s", p.opts.taskTimeout)
	case models.TaskStatusCancelled:
		e.task.Error = "pool stopped"
	default:
		e.task.Error = out.err.Error()
	}
	delete(p.active, id)
	snapshot := e.task.Clone()
	p.mu.Unlock()

	p.mirror(func(s workstore.WorkStore) error { return s.RemoveFromSet(p.ActiveKey(), id) })
	p.report(snapshot)
	if p.opts.onComplete != nil {
		p.opts.onComplete(snapshot)
	}
	close(e.done)
}

// report increments the health counters for a finished task.
func (p *WorkerPool) report(t models.Task) {
	h := p.opts.health
	if h == nil {
		return
	}

	metric := models.MetricTasksFailed
	if t.Status == models.TaskStatusCompleted {
		metric = models.MetricTasksCompleted
	}
	if _, err := h.IncrementMetric(metric, 1); err != nil {
		log.Printf("[pool] %s: %v", p.opts.name, err)
	}
	if _, err := h.IncrementMetric(models.MetricProcessingMilli, t.Duration().Milliseconds()); err != nil {
		log.Printf("[pool] %s: %v", p.opts.name, err)
	}
}

// mirror applies fn to the configured store, logging failures.
func (p *WorkerPool) mirror(fn func(workstore.WorkStore) error) {
	if p.opts.store == nil {
		return
	}
	if err := fn(p.opts.store); err != nil {
		log.Printf("[pool] %s: store: %v", p.opts.name, err)
	}
}
