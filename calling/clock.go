/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"container/heap"
	"sync"
	"time"
)

// Clock is the time source used for every session timer. Tests drive a
// ManualClock; everything else uses RealClock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback
type Timer interface {
	Stop() bool
}

// RealClock uses wall-clock time
type RealClock struct{}

// Now returns the current wall-clock time
func (RealClock) Now() time.Time {
	return time.Now()
}

// AfterFunc runs f in its own goroutine after d
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock only moves when Advance is called. Due callbacks run on the
// goroutine that advances the clock, in firing order.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers timerHeap
	seq    uint64
}

// NewManualClock creates a manual clock starting at start (or a fixed date
// when start is zero)
func NewManualClock(start time.Time) *ManualClock {
	if start.IsZero() {
		start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &ManualClock{now: start}
}

// Now returns the clock's current time
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when an Advance reaches now+d
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	mt := &manualTimer{
		fireAt: c.now.Add(d),
		seq:    c.seq,
		fn:     f,
		clock:  c,
	}
	heap.Push(&c.timers, mt)
	return mt
}

// Advance moves time forward by d, firing every timer that falls due,
// including timers scheduled by callbacks during the advance.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for len(c.timers) > 0 {
		mt := c.timers[0]
		if mt.stopped {
			heap.Pop(&c.timers)
			continue
		}
		if mt.fireAt.After(target) {
			break
		}
		heap.Pop(&c.timers)
		mt.stopped = true
		if mt.fireAt.After(c.now) {
			c.now = mt.fireAt
		}
		c.mu.Unlock()
		mt.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, mt := range c.timers {
		if !mt.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	fireAt  time.Time
	seq     uint64
	fn      func()
	clock   *ManualClock
	stopped bool
	index   int
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// timerHeap orders timers by fire time, then by creation order.
type timerHeap []*manualTimer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	timer := x.(*manualTimer)
	timer.index = len(*h)
	*h = append(*h, timer)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	timer := old[n-1]
	old[n-1] = nil
	timer.index = -1
	*h = old[0 : n-1]
	return timer
}

// ticker calls fn every d until stopped. The next tick is scheduled from
// inside the current one so a ManualClock advance fires every due tick.
type ticker struct {
	mu      sync.Mutex
	clock   Clock
	d       time.Duration
	fn      func()
	timer   Timer
	stopped bool
}

func newTicker(clock Clock, d time.Duration, fn func()) *ticker {
	t := &ticker{clock: clock, d: d, fn: fn}
	t.schedule()
	return t
}

func (t *ticker) schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = t.clock.AfterFunc(t.d, t.fire)
}

func (t *ticker) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.fn()
	t.schedule()
}

func (t *ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}
