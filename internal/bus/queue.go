package bus

import (
	"context"
	"sync"

	"marketdesk/pkg/exception"
)

var (
	ErrQueueFull   = exception.ErrQueueFull
	ErrQueueClosed = exception.ErrQueueClosed
)

// Queue is a bounded, non-blocking frame queue with a single consumer.
type Queue struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan []byte, capacity)}
}

// TryPublish enqueues a frame without blocking.
func (q *Queue) TryPublish(frame []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new frames. Frames already queued
// can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// C exposes the receive side for consumers that multiplex with other events.
func (q *Queue) C() <-chan []byte {
	return q.ch
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run consumes frames until the context is done, the queue is closed and
// drained, or the handler fails.
func (q *Queue) Run(ctx context.Context, handler func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := handler(frame); err != nil {
				return err
			}
		}
	}
}
