/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// inputQueue is the unbounded FIFO feeding the session loop. push never
// blocks, so a device may report events from inside a Connection method the
// loop itself is running.
type inputQueue struct {
	mu     sync.Mutex
	items  []any
	closed bool
	ready  chan struct{}
}

func newInputQueue(capacity int) *inputQueue {
	return &inputQueue{
		items: make([]any, 0, capacity),
		ready: make(chan struct{}, 1),
	}
}

// push appends in and reports whether the queue still accepts inputs
func (q *inputQueue) push(in any) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, in)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// take waits until at least one input is queued and returns every queued
// input in arrival order
func (q *inputQueue) take() []any {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			items := q.items
			q.items = make([]any, 0, cap(items))
			q.mu.Unlock()
			return items
		}
		q.mu.Unlock()
		<-q.ready
	}
}

// len returns the number of inputs waiting
func (q *inputQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close drops queued inputs and rejects later pushes
func (q *inputQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
