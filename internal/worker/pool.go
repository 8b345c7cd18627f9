// Package worker implements the orchestration layer: two named queues
// of bounded concurrency (main for ingress normalization, workers for
// per-event pipelines), soft/hard per-task deadlines, and a
// requeue-once policy for tasks lost to the hard limit.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Task is one unit of queued work. Run's result lands in the
// TaskStore under the task's id.
type Task struct {
	ID       string
	Name     string
	Run      func(ctx context.Context) (interface{}, error)
	attempts int
}

// Queue is a named queue drained by a fixed pool of goroutines.
type Queue struct {
	name        string
	concurrency int
	softLimit   time.Duration
	hardLimit   time.Duration
	store       *TaskStore

	tasks chan *Task
	wg    sync.WaitGroup
}

func NewQueue(name string, concurrency int, softLimit, hardLimit time.Duration, store *TaskStore) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{
		name:        name,
		concurrency: concurrency,
		softLimit:   softLimit,
		hardLimit:   hardLimit,
		store:       store,
		tasks:       make(chan *Task, concurrency*8),
	}
}

// Enqueue submits a task. It blocks when the queue's backlog is full,
// which applies natural backpressure to the ingress.
func (q *Queue) Enqueue(ctx context.Context, t *Task) error {
	select {
	case q.tasks <- t:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue on %s: %w", q.name, ctx.Err())
	}
}

// Start launches the worker goroutines. They drain until ctx is
// cancelled; Wait blocks until all in-flight tasks settle.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-q.tasks:
					q.execute(ctx, t)
				}
			}
		}()
	}
}

func (q *Queue) Wait() { q.wg.Wait() }

// execute runs one task under the queue's deadlines. A soft-limit
// breach logs and lets the task continue; a hard-limit breach cancels
// the task's context and requeues it exactly once.
func (q *Queue) execute(ctx context.Context, t *Task) {
	log := logr.FromContextOrDiscard(ctx).WithName(q.name).WithValues("task", t.ID, "name", t.Name)
	q.store.MarkRunning(t.ID)

	taskCtx, cancel := context.WithTimeout(ctx, q.hardLimit)
	defer cancel()

	softTimer := time.AfterFunc(q.softLimit, func() {
		log.Info("task exceeded soft time limit", "softLimit", q.softLimit.String())
	})
	defer softTimer.Stop()

	start := time.Now()
	result, err := q.runGuarded(taskCtx, t)

	if taskCtx.Err() == context.DeadlineExceeded && t.attempts == 0 {
		t.attempts++
		log.Info("task hit hard time limit, requeueing once", "elapsed", time.Since(start).String())
		select {
		case q.tasks <- t:
			return
		default:
			err = fmt.Errorf("task exceeded hard limit and requeue failed: queue full")
		}
	}

	q.store.Finish(t.ID, result, err)
	if err != nil {
		log.Error(err, "task failed", "elapsed", time.Since(start).String())
	}
}

// runGuarded converts a panicking task into a failed one so a bad
// payload cannot take the whole queue down.
func (q *Queue) runGuarded(ctx context.Context, t *Task) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.Run(ctx)
}
