/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// Recorder tracks the local recording toggle of a call and forwards start
// and stop to a RecordingService in the background. The local flag flips
// whatever the service answers.
type Recorder struct {
	mu           sync.Mutex
	service      RecordingService
	logger       dialersdk.Logger
	timeout      time.Duration
	recording    bool
	callSid      string
	recordingSid string
	wg           sync.WaitGroup
}

// NewRecorder creates a Recorder. A nil service keeps the toggle local.
func NewRecorder(service RecordingService, timeout time.Duration, logger dialersdk.Logger) *Recorder {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{
		service: service,
		logger:  logger,
		timeout: timeout,
	}
}

// Toggle starts recording callSid when idle and stops it otherwise. It
// returns the new local flag.
func (r *Recorder) Toggle(callSid string) bool {
	r.mu.Lock()
	recording := r.recording
	r.mu.Unlock()

	if recording {
		r.Stop(callSid)
		return false
	}
	r.Start(callSid)
	return true
}

// Start marks the call as recording and asks the service to start
func (r *Recorder) Start(callSid string) {
	r.mu.Lock()
	r.recording = true
	r.callSid = callSid
	r.mu.Unlock()

	if r.service == nil {
		dialersdk.Warnf(r.logger, "recording start for %s not sent: no recording service", callSid)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		sid, err := r.service.StartRecording(ctx, callSid)
		if err != nil {
			dialersdk.Warnf(r.logger, "recording start for %s failed: %v", callSid, err)
			return
		}

		r.mu.Lock()
		if r.callSid == callSid && sid != "" {
			r.recordingSid = sid
		}
		r.mu.Unlock()
		r.logger.Printf("Recording %s started for call %s", sid, callSid)
	}()
}

// Stop clears the recording flag and asks the service to stop the recording
// remembered from Start
func (r *Recorder) Stop(callSid string) {
	r.mu.Lock()
	r.recording = false
	recordingSid := r.recordingSid
	r.recordingSid = ""
	r.mu.Unlock()

	if r.service == nil {
		dialersdk.Warnf(r.logger, "recording stop for %s not sent: no recording service", callSid)
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		if err := r.service.StopRecording(ctx, callSid, recordingSid); err != nil {
			dialersdk.Warnf(r.logger, "recording stop for %s failed: %v", callSid, err)
		}
	}()
}

// Recording reports the local toggle state
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// RecordingSid returns the SID reported by the last successful start
func (r *Recorder) RecordingSid() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recordingSid
}

// Reset forgets the current call without contacting the service
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	r.callSid = ""
	r.recordingSid = ""
}

// Wait blocks until requests in flight have finished
func (r *Recorder) Wait() {
	r.wg.Wait()
}
