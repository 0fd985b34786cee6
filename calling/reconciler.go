/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"strconv"
	"strings"
	"time"
)

// UIStatus is the small status vocabulary shown to users
type UIStatus string

const (
	UIIdle       UIStatus = "idle"
	UIInitiating UIStatus = "initiating"
	UICalling    UIStatus = "calling"
	UIAnswered   UIStatus = "answered"
	UIEnded      UIStatus = "ended"
	UIFailed     UIStatus = "failed"
	UIIncoming   UIStatus = "incoming"
)

// Reconcile maps a session status onto a UIStatus. It has no side effects.
// The loop applies every device event to the status before it publishes, so
// the status alone carries the last event's outcome.
func Reconcile(status CallStatus) UIStatus {
	switch status {
	case StatusInitiating:
		return UIInitiating
	case StatusCalling, StatusRinging:
		return UICalling
	case StatusConnected:
		return UIAnswered
	case StatusCompleted:
		return UIEnded
	case StatusFailed:
		return UIFailed
	case StatusIncoming:
		return UIIncoming
	}
	return UIIdle
}

// DurationCounter counts answered seconds. It is owned by the session loop;
// ticks are delivered back to the loop through post and only count while the
// counter runs and the tick belongs to the current run.
type DurationCounter struct {
	clock   Clock
	post    func(run uint64)
	seconds int
	run     uint64
	ticker  *ticker
}

// NewDurationCounter creates a stopped counter
func NewDurationCounter(clock Clock, post func(run uint64)) *DurationCounter {
	return &DurationCounter{clock: clock, post: post}
}

// Start begins counting. Calling Start on a running counter does nothing.
func (d *DurationCounter) Start() {
	if d.ticker != nil {
		return
	}
	d.run++
	run := d.run
	d.ticker = newTicker(d.clock, time.Second, func() { d.post(run) })
}

// Stop freezes the counter at its current value
func (d *DurationCounter) Stop() {
	if d.ticker == nil {
		return
	}
	d.ticker.Stop()
	d.ticker = nil
	d.run++
}

// Reset stops the counter and sets it back to zero
func (d *DurationCounter) Reset() {
	d.Stop()
	d.seconds = 0
}

// Tick applies one tick from run and reports whether it counted
func (d *DurationCounter) Tick(run uint64) bool {
	if d.ticker == nil || run != d.run {
		return false
	}
	d.seconds++
	return true
}

// Running reports whether the counter is counting
func (d *DurationCounter) Running() bool {
	return d.ticker != nil
}

// Duration returns the counted time
func (d *DurationCounter) Duration() time.Duration {
	return time.Duration(d.seconds) * time.Second
}

// ParseRate reads a per-minute rate passthrough. ok is false when rate is
// empty or not a number.
func ParseRate(rate string) (float64, bool) {
	rate = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rate), "$"))
	if rate == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(rate, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Cost is the estimated charge for d at ratePerMinute
func Cost(d time.Duration, ratePerMinute float64) float64 {
	return d.Seconds() / 60 * ratePerMinute
}
