package queue

import (
	"context"
	"errors"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 16

// ErrFull is returned by Push under PolicyReject when the queue has no room.
var ErrFull = errors.New("queue full")

// Policy decides what Push does when the queue is full.
type Policy int

const (
	// PolicyBlock waits for room or for the context to end.
	PolicyBlock Policy = iota
	// PolicyReject fails fast with ErrFull.
	PolicyReject
)

// Queue is a bounded FIFO with a single consumer. It lives in memory only;
// anything still queued when the process dies is recovered from the store.
type Queue[T any] struct {
	ch     chan T
	policy Policy
}

// New creates a queue holding at most capacity items.
func New[T any](capacity int, policy Policy) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity), policy: policy}
}

// Push appends item to the back of the queue.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	if q.policy == PolicyReject {
		select {
		case q.ch <- item:
			return nil
		default:
			return ErrFull
		}
	}
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case item := <-q.ch:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }
