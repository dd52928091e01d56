// Package queue provides the unbounded command queue that carries outbound
// intents from any number of producers to the single controller goroutine.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when sending through a closed handle, or when the
// consumer drains a queue whose producers have all gone away.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded multi-producer, single-consumer FIFO.
// Producers never block; only the consumer waits.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	senders int
	closed  bool

	// notify holds at most one pending wake-up for the consumer.
	notify chan struct{}
}

// Sender is a producer handle. Handles may be cloned freely; the queue
// closes once every handle has been closed.
type Sender[T any] struct {
	q      *Queue[T]
	closed atomic.Bool
}

// New returns a queue together with its first producer handle.
func New[T any]() (*Queue[T], *Sender[T]) {
	q := &Queue[T]{
		senders: 1,
		notify:  make(chan struct{}, 1),
	}
	return q, &Sender[T]{q: q}
}

// Send enqueues v without blocking.
func (s *Sender[T]) Send(v T) error {
	if s == nil || s.closed.Load() {
		return ErrClosed
	}
	q := s.q
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

// Clone returns a new handle on the same queue. Cloning a closed handle
// yields a closed handle.
func (s *Sender[T]) Clone() *Sender[T] {
	clone := &Sender[T]{q: s.q}
	if s.closed.Load() {
		clone.closed.Store(true)
		return clone
	}
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.q.closed {
		clone.closed.Store(true)
		return clone
	}
	s.q.senders++
	return clone
}

// Close releases this handle. It is safe to call more than once.
func (s *Sender[T]) Close() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	q := s.q
	q.mu.Lock()
	q.senders--
	last := q.senders == 0
	if last {
		q.closed = true
	}
	q.mu.Unlock()
	if last {
		q.wake()
	}
}

// Ready fires when an item may be available or the queue has closed.
// Wake-ups can be spurious; callers follow up with Next.
func (q *Queue[T]) Ready() <-chan struct{} {
	return q.notify
}

// Next pops the head of the queue. ok is false when nothing was popped;
// done additionally reports that the queue is drained and closed.
func (q *Queue[T]) Next() (v T, ok bool, done bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		done = q.closed
		q.mu.Unlock()
		return v, false, done
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	// A closed queue needs one more wake-up so the consumer sees done.
	more := len(q.items) > 0 || q.closed
	q.mu.Unlock()
	if more {
		q.wake()
	}
	return v, true, false
}

// Recv blocks until an item is available, the queue closes, or ctx ends.
func (q *Queue[T]) Recv(ctx context.Context) (T, error) {
	for {
		v, ok, done := q.Next()
		if ok {
			return v, nil
		}
		if done {
			return v, ErrClosed
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
