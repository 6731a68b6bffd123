// Copyright 2018-2026 (c) Distributed Test Queue Authors. Issued under the Apache 2.0 License.

// Package staticqueue provides an in-memory, single-process Queue
// implementation. It applies the same requeue-cap arithmetic as the
// distributed store but needs no external service, which makes it the
// reference oracle for the coordination protocol's requeue policy and a
// practical choice for a single-worker build.
package staticqueue

import "math"

// Config controls requeue behavior. Zero value disables requeues
// entirely (MaxRequeues == 0).
type Config struct {
	MaxRequeues     int     // per-item cap
	RequeueTolerance float64 // global cap as a fraction of total items
}

// Queue is an in-memory FIFO over T with the same bounded-requeue policy
// as the distributed store.
type Queue[T comparable] struct {
	items    []T
	progress int
	total    int
	cfg      Config

	requeues      map[T]int
	globalRequeue int
}

// New builds a Queue preloaded with items, in the order given.
func New[T comparable](items []T, cfg Config) *Queue[T] {
	cp := make([]T, len(items))
	copy(cp, items)
	return &Queue[T]{
		items:    cp,
		total:    len(items),
		cfg:      cfg,
		requeues: make(map[T]int),
	}
}

// Total returns the item count the queue was constructed with.
func (q *Queue[T]) Total() int { return q.total }

// Len returns the number of items not yet dequeued by Next.
func (q *Queue[T]) Len() int { return len(q.items) }

// Progress returns how many items Next has handed out.
func (q *Queue[T]) Progress() int { return q.progress }

// IsEmpty reports whether Len() == 0.
func (q *Queue[T]) IsEmpty() bool { return len(q.items) == 0 }

// Next pops the head of the queue. ok is false once the queue is empty.
func (q *Queue[T]) Next() (item T, ok bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	q.progress++
	return item, true
}

// Acknowledge always succeeds: a static queue has no distributed lease
// to contend over.
func (q *Queue[T]) Acknowledge(item T) bool { return true }

func (q *Queue[T]) globalMaxRequeues() int {
	return int(math.Ceil(q.cfg.RequeueTolerance * float64(q.total)))
}

func (q *Queue[T]) shouldRequeue(item T) bool {
	if q.cfg.MaxRequeues == 0 || q.globalMaxRequeues() == 0 {
		return false
	}
	if q.requeues[item] >= q.cfg.MaxRequeues {
		return false
	}
	return q.globalRequeue < q.globalMaxRequeues()
}

// Requeue reinserts item at the head of the queue, provided neither the
// per-item cap nor the tolerance-derived global cap has been exhausted.
// ok is false when either cap rejects the requeue, leaving the queue
// unchanged.
func (q *Queue[T]) Requeue(item T) (ok bool) {
	if !q.shouldRequeue(item) {
		return false
	}
	q.requeues[item]++
	q.globalRequeue++
	q.items = append([]T{item}, q.items...)
	return true
}
