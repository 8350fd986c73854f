// Package queue provides the unbounded FIFO queues that connect publishers,
// broadcasters and simulated nodes.
//
// Queues never apply backpressure: Send only fails once the queue has been
// closed. Bounded capacity is not implemented here; a capacity-aware queue
// would be a separate type satisfying the same Sender/Receiver shapes.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send after Close, and by Receive once a closed
// queue has been drained.
var ErrClosed = errors.New("queue is closed")

// Queue is an unbounded, multi-producer FIFO queue.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// signal carries at most one wake-up token for a blocked receiver.
	signal chan struct{}
	done   chan struct{}
}

// New creates an empty, open queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Sender returns a copyable producer handle for the queue.
func (q *Queue[T]) Sender() Sender[T] {
	return Sender[T]{q: q}
}

// Receiver returns a consumer handle for the queue.
func (q *Queue[T]) Receiver() Receiver[T] {
	return Receiver[T]{q: q}
}

// Pair creates a new queue and returns both of its handles.
func Pair[T any]() (Sender[T], Receiver[T]) {
	q := New[T]()
	return q.Sender(), q.Receiver()
}

func (q *Queue[T]) push(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *Queue[T]) pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if n := len(q.items); n > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := n > 1
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
		case <-q.done:
		}
	}
}

func (q *Queue[T]) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Close permanently closes the queue. Messages already queued can still be
// received. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// IsClosed reports whether Close has been called.
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued messages.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Sender is the producer side of a Queue. The zero value is closed.
type Sender[T any] struct {
	q *Queue[T]
}

// Send enqueues v. It never blocks on capacity.
func (s Sender[T]) Send(ctx context.Context, v T) error {
	if s.q == nil {
		return ErrClosed
	}
	return s.q.push(ctx, v)
}

// Close closes the underlying queue.
func (s Sender[T]) Close() {
	if s.q != nil {
		s.q.Close()
	}
}

// Len returns the number of queued messages.
func (s Sender[T]) Len() int {
	if s.q == nil {
		return 0
	}
	return s.q.Len()
}

// Receiver is the consumer side of a Queue. The zero value is closed.
type Receiver[T any] struct {
	q *Queue[T]
}

// Receive blocks until a message is available, the queue is closed and
// drained (ErrClosed), or ctx is done.
func (r Receiver[T]) Receive(ctx context.Context) (T, error) {
	if r.q == nil {
		var zero T
		return zero, ErrClosed
	}
	return r.q.pop(ctx)
}

// TryReceive returns the next message without blocking.
func (r Receiver[T]) TryReceive() (T, bool) {
	var zero T
	if r.q == nil {
		return zero, false
	}
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	if len(r.q.items) == 0 {
		return zero, false
	}
	v := r.q.items[0]
	r.q.items[0] = zero
	r.q.items = r.q.items[1:]
	return v, true
}

// Close closes the underlying queue.
func (r Receiver[T]) Close() {
	if r.q != nil {
		r.q.Close()
	}
}

// Len returns the number of queued messages.
func (r Receiver[T]) Len() int {
	if r.q == nil {
		return 0
	}
	return r.q.Len()
}
