package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/cadre/internal/pool"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// runSerialStep processes the task at the current plan index. An escalated
// task is replaced in place by its sub-plan and the index stays put so the
// first subtask runs next.
func (o *Orchestrator) runSerialStep(ctx context.Context) error {
	o.mu.Lock()
	index := o.state.CurrentIndex
	task := o.state.Plan[index]
	o.mu.Unlock()

	ts, err := o.processTask(ctx, task)
	if err != nil {
		return err
	}
	if ts.Escalated {
		return o.escalate(ts, index, true)
	}
	o.recordCompleted(ts, true)
	return nil
}

// runParallel dispatches every remaining plan entry to a worker pool and
// folds the results in completion order. Sub-plans of escalated tasks are
// appended to the plan and picked up by the next dispatch.
func (o *Orchestrator) runParallel(ctx context.Context) error {
	o.mu.Lock()
	start := o.state.CurrentIndex
	tasks := append([]string{}, o.state.Plan[start:]...)
	o.state.CurrentIndex = len(o.state.Plan)
	runID := o.state.RunID
	o.mu.Unlock()

	workers := o.policy.Execution.MaxParallel
	if len(tasks) < workers {
		workers = len(tasks)
	}
	o.logHistory("dispatching %d tasks in parallel on %d workers", len(tasks), workers)

	var (
		mu       sync.Mutex
		finished []models.Task
	)
	p := pool.New(func(ctx context.Context, payload map[string]any) (any, error) {
		task, _ := payload["task"].(string)
		return o.processTask(ctx, task)
	},
		pool.WithName("orchestrator-"+runID),
		pool.WithWorkers(workers),
		pool.WithTaskTimeout(o.policy.Execution.TaskTimeout),
		pool.WithOnComplete(func(t models.Task) {
			mu.Lock()
			finished = append(finished, t)
			mu.Unlock()
		}),
	)
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start task pool: %w", err)
	}
	defer p.Stop()

	ids := make([]string, 0, len(tasks))
	for i, task := range tasks {
		// Priority follows plan order so idle workers pick tasks front to back.
		id, err := p.Submit(map[string]any{"task": task, "index": start + i}, i)
		if err != nil {
			return fmt.Errorf("submit %q: %w", task, err)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if _, err := p.Wait(ctx, id); err != nil {
			return fmt.Errorf("wait for parallel task: %w", err)
		}
	}

	mu.Lock()
	results := append([]models.Task{}, finished...)
	mu.Unlock()

	var firstErr error
	for _, t := range results {
		task, _ := t.Payload["task"].(string)
		switch t.Status {
		case models.TaskStatusCompleted:
			ts, ok := t.Result.(models.TaskState)
			if !ok {
				if firstErr == nil {
					firstErr = fmt.Errorf("task %q: unexpected result %T", task, t.Result)
				}
				continue
			}
			if ts.Escalated {
				if err := o.escalate(ts, 0, false); err != nil && firstErr == nil {
					firstErr = err
				}
				continue
			}
			o.recordCompleted(ts, false)
		case models.TaskStatusTimeout:
			if firstErr == nil {
				firstErr = fmt.Errorf("task %q: %s", task, t.Error)
			}
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("task %q %s: %s", task, t.Status, t.Error)
			}
		}
	}
	return firstErr
}
