/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

const maxEarlyEvents = 16

// Collaborators are the services a Session depends on. Only Tokens is
// required: without Devices every dial fails with SdkLoadError, without
// Balance no polling happens and without Recordings the recording toggle
// stays local.
type Collaborators struct {
	Tokens     TokenProvider
	Devices    DeviceFactory
	Balance    BalanceFetcher
	Recordings RecordingService
}

// Snapshot is a consistent view of a Session
type Snapshot struct {
	Status       CallStatus
	UIStatus     UIStatus
	LastEvent    DeviceEventType
	Direction    CallDirection
	CallSid      string
	RetryCount   int
	Attempts     int
	Muted        bool
	Recording    bool
	Registered   bool
	Incoming     bool
	IncomingFrom string
	Duration     time.Duration
	Cost         float64
	HasRate      bool
	Balance      float64
	HasBalance   bool
	Err          *CallError
}

// Session is the call-session state machine. All state is owned by one
// goroutine that drains the input queue; public methods enqueue commands and
// wait for them to be handled. Emitter handlers run on that goroutine and
// must not call blocking Session methods.
type Session struct {
	config   *SessionConfig
	clock    Clock
	logger   dialersdk.Logger
	tokens   TokenProvider
	adapter  *DeviceAdapter
	poller   *BalancePoller
	recorder *Recorder
	duration *DurationCounter

	// Emitter publishes SessionEvent* keys
	Emitter *EventEmitter

	inbox   *inputQueue
	done    chan struct{}
	stopped chan struct{}

	// owned by the loop goroutine
	status     CallStatus
	ui         UIStatus
	lastEvent  DeviceEventType
	direction  CallDirection
	params     ConnectParams
	rate       float64
	hasRate    bool
	conn       Connection
	incoming   Connection
	accepting  Connection
	early      []DeviceEvent
	retryCount int
	attempts   int
	muted      bool
	registered bool
	lastErr    *CallError
	token      *tokens.Token
	balance    float64
	hasBalance bool
	closed     bool

	epoch         uint64
	cancelAttempt context.CancelFunc
	attemptTimer  Timer
	backoffTimer  Timer
	published     Snapshot
}

// ---- Queue inputs ----

type dialCmd struct {
	params ConnectParams
	reply  chan error
}

type hangUpCmd struct{ reply chan error }
type acceptCmd struct{ reply chan error }
type rejectCmd struct{ reply chan error }
type resetCmd struct{ reply chan error }
type closeCmd struct{ reply chan error }
type unregisterCmd struct{ reply chan error }

type muteCmd struct {
	muted  bool
	toggle bool
	reply  chan error
}

type digitsCmd struct {
	digits string
	reply  chan error
}

type recordCmd struct {
	recording *bool
	reply     chan error
}

type registerCmd struct {
	ctx   context.Context
	reply chan error
}

type snapshotCmd struct{ reply chan Snapshot }

type deviceInput struct{ ev DeviceEvent }

type attemptResult struct {
	epoch  uint64
	token  *tokens.Token
	handle *DeviceHandle
	conn   Connection
	err    error
}

type attemptTimeout struct{ epoch uint64 }
type backoffElapsed struct{ epoch uint64 }

type acceptResult struct {
	epoch uint64
	conn  Connection
	err   error
}

type registerResult struct {
	token  *tokens.Token
	handle *DeviceHandle
	err    error
	reply  chan error
}

type durationTick struct{ run uint64 }
type balanceUpdate struct{ balance float64 }

// NewSession creates a Session and starts its loop
func NewSession(collab Collaborators, config *SessionConfig) (*Session, error) {
	if collab.Tokens == nil {
		return nil, fmt.Errorf("a token provider is required")
	}
	if config == nil {
		config = DefaultSessionConfig()
	}

	clock := config.Clock
	if clock == nil {
		clock = RealClock{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	queueSize := config.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	s := &Session{
		config:  config,
		clock:   clock,
		logger:  logger,
		tokens:  collab.Tokens,
		Emitter: NewEventEmitter(),
		inbox:   newInputQueue(queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		status:  StatusIdle,
		ui:      UIIdle,
	}

	s.adapter = NewDeviceAdapter(collab.Devices, func(ev DeviceEvent) {
		s.send(deviceInput{ev: ev})
	}, logger)
	s.duration = NewDurationCounter(clock, func(run uint64) {
		s.send(durationTick{run: run})
	})
	s.poller = NewBalancePoller(collab.Balance, clock, config.BalancePollInterval, logger, func(balance float64) {
		s.send(balanceUpdate{balance: balance})
	})
	s.recorder = NewRecorder(collab.Recordings, config.RecordingTimeout, logger)
	s.published = s.snapshot()

	go s.run()
	return s, nil
}

// ---- Public API ----

// Dial starts an outbound call. It returns once the call is initiating; the
// outcome is reported through status events. Dialing while offline fails the
// session immediately with a NetworkError, which is also returned.
func (s *Session) Dial(params ConnectParams) error {
	reply := make(chan error, 1)
	return s.request(dialCmd{params: params, reply: reply}, reply)
}

// HangUp ends whatever the session is doing. It is safe in every state and
// always leaves the session resting, even if the device fails to disconnect.
func (s *Session) HangUp() error {
	reply := make(chan error, 1)
	return s.request(hangUpCmd{reply: reply}, reply)
}

// Accept answers the pending incoming call. It returns ErrNoIncomingCall
// when nothing is pending.
func (s *Session) Accept() error {
	reply := make(chan error, 1)
	return s.request(acceptCmd{reply: reply}, reply)
}

// Reject declines the pending incoming call. It returns ErrNoIncomingCall
// when nothing is pending.
func (s *Session) Reject() error {
	reply := make(chan error, 1)
	return s.request(rejectCmd{reply: reply}, reply)
}

// Mute mutes or unmutes the active call. Device failures are logged only.
func (s *Session) Mute(muted bool) error {
	reply := make(chan error, 1)
	return s.request(muteCmd{muted: muted, reply: reply}, reply)
}

// ToggleMute flips the mute state of the active call
func (s *Session) ToggleMute() error {
	reply := make(chan error, 1)
	return s.request(muteCmd{toggle: true, reply: reply}, reply)
}

// SendDigits plays DTMF digits (0-9, * and #) on the active call. Without an
// active call it logs a warning and returns nil.
func (s *Session) SendDigits(digits string) error {
	reply := make(chan error, 1)
	return s.request(digitsCmd{digits: digits, reply: reply}, reply)
}

// ToggleRecording starts or stops recording the answered call and returns
// the new local recording flag.
func (s *Session) ToggleRecording() (bool, error) {
	var recording bool
	reply := make(chan error, 1)
	err := s.request(recordCmd{recording: &recording, reply: reply}, reply)
	return recording, err
}

// Register initializes the device so incoming calls can arrive without
// dialing first. A registered session keeps its device between calls.
func (s *Session) Register(ctx context.Context) error {
	reply := make(chan error, 1)
	return s.request(registerCmd{ctx: ctx, reply: reply}, reply)
}

// Unregister undoes Register. The device is released once no call is active.
func (s *Session) Unregister() error {
	reply := make(chan error, 1)
	return s.request(unregisterCmd{reply: reply}, reply)
}

// Reset moves a completed or failed session back to idle
func (s *Session) Reset() error {
	reply := make(chan error, 1)
	return s.request(resetCmd{reply: reply}, reply)
}

// Close hangs up, destroys the device, stops every timer and stops the loop.
// Calling Close more than once is safe.
func (s *Session) Close() error {
	reply := make(chan error, 1)
	err := s.request(closeCmd{reply: reply}, reply)
	if errors.Is(err, ErrSessionClosed) {
		return nil
	}
	<-s.stopped
	return err
}

// Snapshot returns the current session state. After Close it returns the
// last published state.
func (s *Session) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !s.send(snapshotCmd{reply: reply}) {
		<-s.stopped
		return s.published
	}
	select {
	case snap := <-reply:
		return snap
	case <-s.stopped:
		select {
		case snap := <-reply:
			return snap
		default:
			return s.published
		}
	}
}

// Status returns the current call status
func (s *Session) Status() CallStatus {
	return s.Snapshot().Status
}

// Adapter exposes the device adapter for inspection
func (s *Session) Adapter() *DeviceAdapter {
	return s.adapter
}

// ---- Loop ----

// send queues in for the loop. It never blocks, so it is safe to call from
// the loop goroutine itself.
func (s *Session) send(in any) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	return s.inbox.push(in)
}

func (s *Session) request(in any, reply chan error) error {
	if !s.send(in) {
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.stopped:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

func (s *Session) run() {
	defer close(s.stopped)
	for {
		for _, in := range s.inbox.take() {
			after := s.handle(in)
			s.publish()
			if after != nil {
				after()
			}
			if s.closed {
				return
			}
		}
	}
}

// handle is the single transition point of the session. The returned
// function, if any, runs after the new state has been published.
func (s *Session) handle(in any) func() {
	switch in := in.(type) {
	case dialCmd:
		err := s.dial(in.params)
		return func() { in.reply <- err }
	case hangUpCmd:
		s.hangUp()
		return func() { in.reply <- nil }
	case acceptCmd:
		err := s.accept()
		return func() { in.reply <- err }
	case rejectCmd:
		err := s.reject()
		return func() { in.reply <- err }
	case muteCmd:
		err := s.mute(in.muted, in.toggle)
		return func() { in.reply <- err }
	case digitsCmd:
		err := s.sendDigits(in.digits)
		return func() { in.reply <- err }
	case recordCmd:
		*in.recording = s.toggleRecording()
		return func() { in.reply <- nil }
	case registerCmd:
		return s.register(in)
	case unregisterCmd:
		s.unregister()
		return func() { in.reply <- nil }
	case resetCmd:
		if s.status == StatusCompleted || s.status == StatusFailed {
			s.resetToIdle()
		}
		return func() { in.reply <- nil }
	case closeCmd:
		s.shutdown()
		return func() { in.reply <- nil }
	case snapshotCmd:
		return func() { in.reply <- s.published }

	case deviceInput:
		s.onDeviceEvent(in.ev)
	case attemptResult:
		s.onAttemptResult(in)
	case attemptTimeout:
		if in.epoch == s.epoch && s.status.connecting() {
			s.failAttempt(newCallError(KindTimeout,
				fmt.Sprintf("call not answered within %s", s.config.ConnectTimeout), context.DeadlineExceeded))
		}
	case backoffElapsed:
		if in.epoch == s.epoch && s.status.connecting() {
			s.startAttempt(true)
		}
	case acceptResult:
		s.onAcceptResult(in)
	case registerResult:
		return s.onRegisterResult(in)
	case durationTick:
		if s.duration.Tick(in.run) {
			s.Emitter.Emit(string(SessionEventDuration), s.duration.Duration())
		}
	case balanceUpdate:
		s.balance = in.balance
		s.hasBalance = true
		s.Emitter.Emit(string(SessionEventBalance), in.balance)
	}
	return nil
}

// publish applies the answered edge to the duration counter and the balance
// poller, then emits a status event if anything observable changed.
func (s *Session) publish() {
	ui := Reconcile(s.status)
	if ui != s.ui {
		prev := s.ui
		s.ui = ui
		if ui == UIAnswered {
			s.duration.Start()
			s.poller.Start()
		} else if prev == UIAnswered {
			s.duration.Stop()
			s.poller.Stop()
		}
	}

	snap := s.snapshot()
	if snap != s.published {
		s.published = snap
		s.Emitter.Emit(string(SessionEventStatus), snap)
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		Status:     s.status,
		UIStatus:   Reconcile(s.status),
		LastEvent:  s.lastEvent,
		Direction:  s.direction,
		RetryCount: s.retryCount,
		Attempts:   s.attempts,
		Muted:      s.muted,
		Recording:  s.recorder.Recording(),
		Registered: s.registered,
		Incoming:   s.incoming != nil,
		Duration:   s.duration.Duration(),
		HasRate:    s.hasRate,
		Balance:    s.balance,
		HasBalance: s.hasBalance,
		Err:        s.lastErr,
	}
	if s.hasRate {
		snap.Cost = Cost(snap.Duration, s.rate)
	}
	if s.conn != nil {
		snap.CallSid = s.conn.CallSid()
	}
	if s.incoming != nil {
		snap.IncomingFrom = s.incoming.Params()["From"]
	}
	return snap
}

func (s *Session) setStatus(next CallStatus) bool {
	if s.status == next {
		return true
	}
	if !s.status.CanTransitionTo(next) {
		dialersdk.Warnf(s.logger, "ignoring invalid call status transition %s -> %s", s.status, next)
		return false
	}
	s.logger.Printf("Call status: %s -> %s", s.status, next)
	s.status = next
	return true
}

// ---- Outbound ----

func (s *Session) dial(params ConnectParams) error {
	if params.To == "" {
		return ErrMissingDestination
	}
	if !s.status.IsResting() {
		return ErrCallInProgress
	}
	if s.status != StatusIdle {
		s.resetToIdle()
	}

	s.params = params
	s.rate, s.hasRate = ParseRate(params.Rate)
	s.direction = CallDirectionOutbound
	s.retryCount = 0
	s.attempts = 0
	s.lastErr = nil
	s.lastEvent = ""
	s.muted = false
	s.duration.Reset()
	s.recorder.Reset()

	if s.config.Online != nil && !s.config.Online() {
		s.fail(newCallError(KindNetwork, "no network connection", nil))
		return s.lastErr
	}

	s.setStatus(StatusInitiating)
	s.startAttempt(false)
	return nil
}

// startAttempt runs token fetch, device initialization and connect for one
// attempt in the background. The connect timeout covers all three.
func (s *Session) startAttempt(forceInit bool) {
	s.stopAttemptTimers()
	s.epoch++
	s.attempts++
	s.early = nil
	epoch := s.epoch

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelAttempt = cancel
	s.attemptTimer = s.clock.AfterFunc(s.config.ConnectTimeout, func() {
		s.send(attemptTimeout{epoch: epoch})
	})

	token := s.token
	refresh := token.Stale(s.clock.Now(), s.config.TokenRefreshMargin, s.config.TokenMaxAge)
	force := forceInit || refresh
	params := s.params

	s.logger.Printf("Call attempt %d to %s (retry %d/%d)", s.attempts, params.To, s.retryCount, s.config.MaxRetries)

	go func() {
		res := attemptResult{epoch: epoch}
		if refresh {
			fetched, err := s.tokens.FetchToken(ctx)
			if err != nil {
				res.err = newCallError(KindToken, "failed to fetch voice token", err)
				s.send(res)
				return
			}
			res.token = fetched
			token = fetched
		}

		handle, err := s.adapter.Initialize(ctx, token.Value, force)
		if err != nil {
			res.err = err
			s.send(res)
			return
		}
		res.handle = handle

		res.conn, res.err = s.adapter.Connect(ctx, handle, params)
		s.send(res)
	}()
}

func (s *Session) onAttemptResult(res attemptResult) {
	if res.token != nil {
		s.token = res.token
	}

	if res.epoch != s.epoch || !s.status.connecting() {
		if res.conn != nil {
			s.logger.Printf("Disconnecting connection from an abandoned attempt")
			if err := s.adapter.Disconnect(res.conn); err != nil {
				dialersdk.Warnf(s.logger, "%v", err)
			}
		}
		if res.handle != nil && !s.registered && s.status.IsResting() {
			s.adapter.Release(res.handle)
		}
		return
	}

	if res.err != nil {
		s.failAttempt(res.err)
		return
	}

	s.conn = res.conn
	if s.status == StatusInitiating {
		s.setStatus(StatusCalling)
	}

	early := s.early
	s.early = nil
	for _, ev := range early {
		s.onDeviceEvent(ev)
	}
}

// failAttempt folds a failed or timed out attempt into the retry policy
func (s *Session) failAttempt(err error) {
	ce := ClassifyError(err)
	s.abandonAttempt()

	if ce.Kind.Retryable() && s.retryCount < s.config.MaxRetries {
		s.retryCount++
		delay := s.config.backoff(s.retryCount)
		epoch := s.epoch
		s.logger.Printf("Call attempt %d failed: %v; retry %d/%d in %s",
			s.attempts, ce, s.retryCount, s.config.MaxRetries, delay)
		s.backoffTimer = s.clock.AfterFunc(delay, func() {
			s.send(backoffElapsed{epoch: epoch})
		})
		return
	}

	s.fail(ce)
}

// fail ends the current call with ce
func (s *Session) fail(ce *CallError) {
	s.abandonAttempt()
	s.lastErr = ce
	s.logger.Printf("Call failed: %v", ce)
	s.setStatus(StatusFailed)
	s.recorder.Reset()
	s.releaseDevice()
	s.Emitter.Emit(string(SessionEventError), ce)
}

// abandonAttempt cancels timers and work of the current attempt and drops
// its connection
func (s *Session) abandonAttempt() {
	s.stopAttemptTimers()
	s.epoch++
	s.early = nil
	if s.conn != nil {
		if err := s.adapter.Disconnect(s.conn); err != nil {
			dialersdk.Warnf(s.logger, "%v", err)
		}
		s.conn = nil
	}
}

func (s *Session) stopAttemptTimers() {
	if s.attemptTimer != nil {
		s.attemptTimer.Stop()
		s.attemptTimer = nil
	}
	if s.backoffTimer != nil {
		s.backoffTimer.Stop()
		s.backoffTimer = nil
	}
	if s.cancelAttempt != nil {
		s.cancelAttempt()
		s.cancelAttempt = nil
	}
}

func (s *Session) releaseDevice() {
	if !s.registered {
		s.adapter.Destroy()
	}
}

// ---- Device events ----

func (s *Session) onDeviceEvent(ev DeviceEvent) {
	if s.adapter.isStaleGeneration(ev) {
		s.logger.Printf("Dropping %s event from replaced device (generation %d)", ev.Type, ev.Generation)
		return
	}

	if s.awaitingConnection(ev) {
		if len(s.early) < maxEarlyEvents {
			s.early = append(s.early, ev)
		}
		return
	}

	switch ev.Type {
	case DeviceEventReady:
		s.logger.Printf("Voice device ready")

	case DeviceEventIncoming:
		s.onIncoming(ev.Conn)

	case DeviceEventRinging:
		if s.isActive(ev.Conn) && s.status == StatusCalling {
			s.lastEvent = ev.Type
			s.setStatus(StatusRinging)
		}

	case DeviceEventConnect, DeviceEventAccept:
		if s.isActive(ev.Conn) && (s.status == StatusCalling || s.status == StatusRinging) {
			s.stopAttemptTimers()
			s.retryCount = 0
			s.lastErr = nil
			s.lastEvent = ev.Type
			s.setStatus(StatusConnected)
		}

	case DeviceEventDisconnect, DeviceEventCancel:
		s.onRemoteEnd(ev)

	case DeviceEventError:
		// attemptTimer is nil while a retry backoff is pending
		if s.status.connecting() && s.attemptTimer != nil && (ev.Conn == nil || s.isActive(ev.Conn)) {
			err := ev.Err
			if err == nil {
				err = newCallError(KindDevice, "device reported an error", nil)
			}
			s.failAttempt(err)
			return
		}
		dialersdk.Warnf(s.logger, "device error in status %s: %v", s.status, ev.Err)

	case DeviceEventMute:
		if s.isActive(ev.Conn) {
			s.muted = ev.Muted
		}
	}
}

func (s *Session) onRemoteEnd(ev DeviceEvent) {
	switch {
	case ev.Conn == nil:
		return

	case ev.Conn == s.incoming:
		s.logger.Printf("Incoming call ended by caller (%s)", ev.Type)
		s.incoming = nil
		s.lastEvent = ""
		s.setStatus(StatusIdle)

	case ev.Conn == s.accepting:
		s.logger.Printf("Incoming call ended by caller while answering (%s)", ev.Type)
		s.accepting = nil
		s.epoch++
		s.lastEvent = ""
		s.setStatus(StatusIdle)

	case s.isActive(ev.Conn) && s.status.InCall():
		s.stopAttemptTimers()
		s.epoch++
		s.conn = nil
		s.lastEvent = ev.Type
		s.setStatus(StatusCompleted)
		s.recorder.Reset()
		s.releaseDevice()
	}
}

func (s *Session) isActive(conn Connection) bool {
	return conn != nil && conn == s.conn
}

// awaitingConnection reports whether ev belongs to an outbound leg whose
// connect result has not been handled yet
func (s *Session) awaitingConnection(ev DeviceEvent) bool {
	return ev.Conn != nil &&
		s.conn == nil &&
		s.status.connecting() &&
		ev.Type != DeviceEventIncoming &&
		ev.Conn.Direction() == CallDirectionOutbound
}

// ---- Incoming ----

func (s *Session) onIncoming(conn Connection) {
	if conn == nil {
		return
	}

	switch {
	case s.status.InCall():
		s.logger.Printf("Rejecting incoming call: another call is active")
		s.rejectQuietly(conn)

	case s.status == StatusIncoming:
		if s.config.IncomingPolicy == IncomingReplaceOlder && s.incoming != nil {
			s.logger.Printf("Replacing pending incoming call with a newer one")
			s.rejectQuietly(s.incoming)
			s.incoming = conn
			s.Emitter.Emit(string(SessionEventIncoming), conn)
			return
		}
		s.logger.Printf("Rejecting incoming call: another incoming call is pending")
		s.rejectQuietly(conn)

	default:
		if s.status != StatusIdle {
			s.resetToIdle()
		}
		s.incoming = conn
		s.direction = CallDirectionInbound
		s.lastEvent = DeviceEventIncoming
		s.setStatus(StatusIncoming)
		s.Emitter.Emit(string(SessionEventIncoming), conn)
	}
}

func (s *Session) accept() error {
	if s.incoming == nil {
		return ErrNoIncomingCall
	}

	conn := s.incoming
	s.incoming = nil
	s.accepting = conn
	s.epoch++
	epoch := s.epoch

	go func() {
		err := s.adapter.Accept(conn)
		s.send(acceptResult{epoch: epoch, conn: conn, err: err})
	}()
	return nil
}

func (s *Session) onAcceptResult(res acceptResult) {
	if res.epoch != s.epoch || res.conn != s.accepting {
		if res.err == nil {
			if err := s.adapter.Disconnect(res.conn); err != nil {
				dialersdk.Warnf(s.logger, "%v", err)
			}
		}
		return
	}
	s.accepting = nil

	if res.err != nil {
		s.fail(ClassifyError(res.err))
		return
	}

	params := res.conn.Params()
	s.params = ConnectParams{To: params["To"], From: params["From"], Rate: params["Rate"]}
	s.rate, s.hasRate = ParseRate(params["Rate"])
	s.duration.Reset()
	s.recorder.Reset()
	s.retryCount = 0
	s.attempts = 0
	s.lastErr = nil
	s.muted = res.conn.IsMuted()
	s.conn = res.conn
	s.lastEvent = DeviceEventAccept
	s.setStatus(StatusConnected)
}

func (s *Session) reject() error {
	if s.incoming == nil {
		return ErrNoIncomingCall
	}
	s.rejectQuietly(s.incoming)
	s.incoming = nil
	s.lastEvent = ""
	s.setStatus(StatusIdle)
	return nil
}

func (s *Session) rejectQuietly(conn Connection) {
	if err := s.adapter.Reject(conn); err != nil {
		dialersdk.Warnf(s.logger, "rejecting incoming call: %v", err)
	}
}

// ---- Pass-throughs ----

func (s *Session) mute(muted, toggle bool) error {
	if toggle {
		muted = !s.muted
	}
	if s.conn == nil {
		dialersdk.Warnf(s.logger, "mute(%v) ignored: no active call", muted)
		return nil
	}

	if s.config.MuteMode == MuteOptimistic {
		s.muted = muted
	}
	if err := s.adapter.Mute(s.conn, muted); err != nil {
		dialersdk.Warnf(s.logger, "mute(%v) failed: %v", muted, err)
	}
	if s.config.MuteMode == MuteConfirmed {
		s.muted = s.conn.IsMuted()
	}
	return nil
}

func (s *Session) sendDigits(digits string) error {
	if err := ValidateDigits(digits); err != nil {
		return err
	}
	if err := s.adapter.SendDigits(s.conn, digits); err != nil {
		dialersdk.Warnf(s.logger, "sendDigits(%q) failed: %v", digits, err)
	}
	return nil
}

func (s *Session) toggleRecording() bool {
	if s.conn == nil || s.status != StatusConnected {
		dialersdk.Warnf(s.logger, "recording toggle ignored: no answered call")
		return s.recorder.Recording()
	}
	callSid := s.conn.CallSid()
	if callSid == "" {
		dialersdk.Warnf(s.logger, "recording toggle ignored: call has no SID yet")
		return s.recorder.Recording()
	}
	return s.recorder.Toggle(callSid)
}

// ---- Registration and teardown ----

func (s *Session) register(in registerCmd) func() {
	if s.registered && s.adapter.Handle() != nil {
		return func() { in.reply <- nil }
	}

	ctx := in.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	token := s.token
	refresh := token.Stale(s.clock.Now(), s.config.TokenRefreshMargin, s.config.TokenMaxAge)
	force := refresh && s.status.IsResting()

	go func() {
		res := registerResult{reply: in.reply}
		if refresh {
			fetched, err := s.tokens.FetchToken(ctx)
			if err != nil {
				res.err = newCallError(KindToken, "failed to fetch voice token", err)
				s.send(res)
				return
			}
			res.token = fetched
			token = fetched
		}
		res.handle, res.err = s.adapter.Initialize(ctx, token.Value, force)
		if !s.send(res) {
			in.reply <- ErrSessionClosed
		}
	}()
	return nil
}

func (s *Session) onRegisterResult(res registerResult) func() {
	if res.token != nil {
		s.token = res.token
	}
	if res.err != nil {
		err := ClassifyError(res.err)
		s.logger.Printf("Device registration failed: %v", err)
		return func() { res.reply <- err }
	}
	s.registered = true
	s.logger.Printf("Device registered for incoming calls (generation %d)", res.handle.Generation())
	return func() { res.reply <- nil }
}

func (s *Session) unregister() {
	s.registered = false
	if s.status.IsResting() {
		s.adapter.Destroy()
	}
}

func (s *Session) hangUp() {
	s.stopAttemptTimers()
	s.epoch++
	s.early = nil

	if s.conn != nil {
		if err := s.adapter.Disconnect(s.conn); err != nil {
			dialersdk.Warnf(s.logger, "hang up: %v", err)
		}
		s.conn = nil
	}
	if s.incoming != nil {
		s.rejectQuietly(s.incoming)
		s.incoming = nil
	}
	if s.accepting != nil {
		if err := s.adapter.Disconnect(s.accepting); err != nil {
			dialersdk.Warnf(s.logger, "hang up: %v", err)
		}
		s.accepting = nil
	}

	switch s.status {
	case StatusIdle:
	case StatusCompleted, StatusFailed, StatusIncoming:
		s.resetToIdle()
	default:
		s.lastEvent = ""
		s.setStatus(StatusCompleted)
	}

	s.recorder.Reset()
	s.releaseDevice()
}

func (s *Session) resetToIdle() {
	s.lastEvent = ""
	s.lastErr = nil
	s.setStatus(StatusIdle)
}

func (s *Session) shutdown() {
	s.hangUp()
	s.registered = false
	s.adapter.Destroy()
	s.duration.Stop()
	s.poller.Stop()
	s.closed = true
	close(s.done)
	s.inbox.close()
}
