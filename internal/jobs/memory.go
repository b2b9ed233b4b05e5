package jobs

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// MemoryTransport is an in-process queue for tests and single-binary runs.
// Publish never blocks: a full buffer is reported as ErrQueueFull.
type MemoryTransport struct {
	jobs      chan Job
	closeOnce sync.Once
	closed    chan struct{}
}

func NewMemoryTransport(capacity int) *MemoryTransport {
	if capacity <= 0 {
		capacity = 4096
	}
	return &MemoryTransport{jobs: make(chan Job, capacity), closed: make(chan struct{})}
}

func (m *MemoryTransport) Publish(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-m.closed:
		return ErrQueueClosed
	default:
	}
	select {
	case m.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (m *MemoryTransport) Consume(ctx context.Context, fn func(context.Context, Job) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return nil
		case job := <-m.jobs:
			_ = fn(ctx, job)
		}
	}
}

// Len reports the number of queued jobs.
func (m *MemoryTransport) Len() int {
	return len(m.jobs)
}

func (m *MemoryTransport) Close(context.Context) error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
