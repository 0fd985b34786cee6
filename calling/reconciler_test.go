/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"math"
	"sync"
	"testing"
	"time"
)

func TestReconcile(t *testing.T) {
	tests := []struct {
		status CallStatus
		want   UIStatus
	}{
		{StatusIdle, UIIdle},
		{StatusInitiating, UIInitiating},
		{StatusCalling, UICalling},
		{StatusRinging, UICalling},
		{StatusConnected, UIAnswered},
		{StatusCompleted, UIEnded},
		{StatusFailed, UIFailed},
		{StatusIncoming, UIIncoming},
	}

	for _, tc := range tests {
		if got := Reconcile(tc.status); got != tc.want {
			t.Errorf("Expected Reconcile(%s)=%s, got %s", tc.status, tc.want, got)
		}
	}
}

func TestDurationCounter(t *testing.T) {
	clock := NewManualClock(time.Time{})

	var mu sync.Mutex
	var runs []uint64
	counter := NewDurationCounter(clock, func(run uint64) {
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, run)
	})
	deliver := func() {
		mu.Lock()
		pending := runs
		runs = nil
		mu.Unlock()
		for _, run := range pending {
			counter.Tick(run)
		}
	}

	counter.Start()
	counter.Start()
	if clock.Pending() != 1 {
		t.Errorf("Expected one ticker after double Start, got %d timers", clock.Pending())
	}

	clock.Advance(3 * time.Second)
	deliver()
	if counter.Duration() != 3*time.Second {
		t.Errorf("Expected 3s, got %s", counter.Duration())
	}

	// A tick posted before Stop does not count afterwards
	clock.Advance(time.Second)
	counter.Stop()
	deliver()
	if counter.Duration() != 3*time.Second {
		t.Errorf("Expected 3s after stop, got %s", counter.Duration())
	}
	if counter.Running() {
		t.Error("Expected counter stopped")
	}
	if clock.Pending() != 0 {
		t.Errorf("Expected no timers after stop, got %d", clock.Pending())
	}

	counter.Start()
	clock.Advance(time.Second)
	deliver()
	if counter.Duration() != 4*time.Second {
		t.Errorf("Expected counting to resume at 4s, got %s", counter.Duration())
	}

	counter.Reset()
	if counter.Duration() != 0 || counter.Running() {
		t.Errorf("Expected reset counter, got %s running=%v", counter.Duration(), counter.Running())
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"0.60", 0.60, true},
		{"$0.02", 0.02, true},
		{" $1.5 ", 1.5, true},
		{"", 0, false},
		{"free", 0, false},
		{"-1", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseRate(tc.in)
		if ok != tc.ok || math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Expected ParseRate(%q)=%v,%v, got %v,%v", tc.in, tc.want, tc.ok, got, ok)
		}
	}
}

func TestCost(t *testing.T) {
	if got := Cost(5*time.Second, 0.60); math.Abs(got-0.05) > 1e-9 {
		t.Errorf("Expected 0.05, got %v", got)
	}
	if got := Cost(2*time.Minute, 0.02); math.Abs(got-0.04) > 1e-9 {
		t.Errorf("Expected 0.04, got %v", got)
	}
	if got := Cost(0, 1); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}
