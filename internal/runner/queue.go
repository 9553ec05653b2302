package runner

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Dequeue once the queue has shut down.
var ErrQueueClosed = errors.New("runner: queue closed")

// Queue hands job IDs from submission to the workers. Implementations must
// be safe for concurrent use.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until a job ID is available, the context is cancelled,
	// or the queue is closed.
	Dequeue(ctx context.Context) (string, error)
	Close() error
}

type memoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue returns an in-process queue backed by a buffered channel.
// Jobs queued here do not survive a restart; the runner re-enqueues queued
// jobs from the store on startup.
func NewMemoryQueue(size int) Queue {
	if size <= 0 {
		size = 64
	}
	return &memoryQueue{
		ch:   make(chan string, size),
		done: make(chan struct{}),
	}
}

func (q *memoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case jobID := <-q.ch:
		return jobID, nil
	case <-q.done:
		return "", ErrQueueClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *memoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
