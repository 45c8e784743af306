// Package batchqueue implements the "queue of iterables" primitive the
// whole pipeline is built on: Put appends a whole batch at once, and
// Get atomically detaches and returns everything queued so far. This
// halves lock-acquire counts relative to a per-item queue and is the
// single most load-bearing optimization in the pipeline — every
// inter-stage transfer (receiver→decoder, decoder→writer, and the
// receiver's own free-buffer return path) uses this type, never a
// plain channel-per-item.
package batchqueue

import (
	"context"
	"sync"
	"time"
)

// Queue is a bounded-in-spirit (a single Put may push it over any
// nominal size) FIFO of batches of T. The zero value is not usable;
// construct with New.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	notify   chan struct{}
	depth    int
	highWater int
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Put appends batch to the queue in one locked section and wakes one
// waiting Get. A nil or empty batch is a no-op.
func (q *Queue[T]) Put(batch []T) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, batch...)
	q.depth = len(q.items)
	if q.depth > q.highWater {
		q.highWater = q.depth
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryTake detaches and returns the entire current item slice, leaving
// the queue empty, or returns (nil, false) if nothing is queued.
func (q *Queue[T]) tryTake() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	out := q.items
	q.items = nil
	q.depth = 0
	return out, true
}

// Get blocks until at least one item is queued or ctx is done,
// returning the entire queued batch at once (ok=false on context
// cancellation/deadline).
func (q *Queue[T]) Get(ctx context.Context) ([]T, bool) {
	for {
		if out, ok := q.tryTake(); ok {
			return out, true
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// GetTimeout blocks up to d for at least one item, returning the
// entire queued batch (ok=false on timeout).
func (q *Queue[T]) GetTimeout(d time.Duration) ([]T, bool) {
	if d <= 0 {
		return q.tryTake()
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return q.Get(ctx)
}

// TryGet is the non-blocking form: returns the queued batch if
// non-empty, else (nil, false) immediately.
func (q *Queue[T]) TryGet() ([]T, bool) {
	return q.tryTake()
}

// Len returns the current queue depth (number of items across all
// batches queued but not yet retrieved).
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// HighWater returns the largest depth observed since the last call,
// then resets it — matching the source's "resets on read" high-water
// mark semantics used by the SIGUSR1 status dump.
func (q *Queue[T]) HighWater() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	hw := q.highWater
	q.highWater = q.depth
	return hw
}
