package curation

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of deferred work handed to the job queue.
type Task struct {
	Job *ProcessingJob
	Run func(ctx context.Context)
}

// EnqueueOptions tune delivery of a single task.
type EnqueueOptions struct {
	// Delay postpones execution; used for scheduled retries.
	Delay time.Duration
}

// JobQueue decouples submission from execution. Delivery is assumed
// at-least-once, so task bodies must be idempotent or checkpointed by
// asset ID.
type JobQueue interface {
	Enqueue(ctx context.Context, task Task, opts EnqueueOptions) error

	// Close drains in-flight tasks and stops accepting new ones.
	Close()
}

// MemoryQueue is the in-process JobQueue used by the reference wiring and
// tests. Delayed tasks wait on a timer; Close blocks until in-flight tasks
// finish.
type MemoryQueue struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewMemoryQueue creates an open in-process queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task Task, opts EnqueueOptions) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return &ConfigurationError{Reason: "job queue is closed"}
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if opts.Delay > 0 {
			timer := time.NewTimer(opts.Delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		task.Run(ctx)
	}()
	return nil
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
