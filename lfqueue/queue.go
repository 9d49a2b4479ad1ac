// Copyright 2026 The VexFS Authors
// This file is part of the VexFS core library.
//
// The VexFS core library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The VexFS core library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the VexFS core library. If not, see <http://www.gnu.org/licenses/>.

// Package lfqueue implements C3: a Michael-Scott lock-free MPMC queue used
// to pipeline operations into the journal's background group-commit
// worker. Enqueue never blocks the producer; Dequeue on an empty queue
// returns ok=false rather than blocking, and IsEmpty is a non-destructive
// probe (spec.md §9 Design Notes point 2 — the original C source's batch-worker
// reschedule check uses a destructive dequeue as its probe, which this
// package deliberately does not reproduce).
package lfqueue

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/vexfs/vexfscore/internal/epoch"
)

const maxParticipants = 256

type node[T any] struct {
	value    T
	next     atomic.Pointer[node[T]]
	retiredAt uint64
}

// Queue is a Michael-Scott queue with a sentinel head node and
// epoch-based deferred reclamation: a node unlinked by Dequeue is only
// actually freed (dropped for the GC) once no participant's announced
// epoch could still observe it.
type Queue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]

	reg      *epoch.Registry
	slotMu   sync.Mutex
	nextSlot int

	retireMu sync.Mutex
	retired  []*node[T]

	length atomic.Int64
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	sentinel := &node[T]{}
	q := &Queue[T]{reg: epoch.NewRegistry(maxParticipants)}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

func (q *Queue[T]) guard() *epoch.Guard {
	q.slotMu.Lock()
	slot := q.nextSlot
	if slot >= maxParticipants {
		slot = slot % maxParticipants
	} else {
		q.nextSlot++
	}
	q.slotMu.Unlock()
	return q.reg.Join(slot)
}

// Enqueue appends value to the tail. Never blocks.
func (q *Queue[T]) Enqueue(value T) {
	n := &node[T]{value: value}
	g := q.guard()
	g.Enter()
	defer g.Exit()

	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail == q.tail.Load() {
			if next == nil {
				if tail.next.CompareAndSwap(nil, n) {
					q.tail.CompareAndSwap(tail, n)
					q.length.Add(1)
					return
				}
			} else {
				// Tail is lagging; help advance it.
				q.tail.CompareAndSwap(tail, next)
			}
		}
		runtime.Gosched()
	}
}

// Dequeue removes and returns the head value. ok is false if the queue
// was empty.
func (q *Queue[T]) Dequeue() (value T, ok bool) {
	g := q.guard()
	e := g.Enter()
	defer g.Exit()

	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head == q.head.Load() {
			if head == tail {
				if next == nil {
					var zero T
					return zero, false
				}
				// Tail is lagging behind an already-linked node; help.
				q.tail.CompareAndSwap(tail, next)
			} else {
				if next == nil {
					continue
				}
				v := next.value
				if q.head.CompareAndSwap(head, next) {
					q.length.Add(-1)
					q.retire(head, e)
					var zero T
					_ = zero
					return v, true
				}
			}
		}
		runtime.Gosched()
	}
}

// IsEmpty is a non-destructive probe: it never removes an element.
func (q *Queue[T]) IsEmpty() bool {
	head := q.head.Load()
	tail := q.tail.Load()
	return head == tail && head.next.Load() == nil
}

// Len returns an approximate length; useful for metrics, not for
// correctness decisions, since concurrent mutation can race past any
// single observation.
func (q *Queue[T]) Len() int64 { return q.length.Load() }

func (q *Queue[T]) retire(n *node[T], atEpoch uint64) {
	n.retiredAt = atEpoch
	q.retireMu.Lock()
	q.retired = append(q.retired, n)
	// Amortize the epoch bump and GC scan rather than doing it on every
	// dequeue, the way a production epoch-reclamation scheme batches.
	if len(q.retired) >= 64 {
		q.reclaimLocked()
	}
	q.retireMu.Unlock()
}

func (q *Queue[T]) reclaimLocked() {
	current := q.reg.Advance()
	kept := q.retired[:0]
	for _, n := range q.retired {
		if q.reg.SafeToReclaim(n.retiredAt) {
			n.next.Store(nil) // drop the reference so the GC can collect it
			continue
		}
		kept = append(kept, n)
	}
	_ = current
	q.retired = kept
}
