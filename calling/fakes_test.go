/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

// ---- Fake connection ----

type fakeConn struct {
	mu           sync.Mutex
	sid          string
	direction    CallDirection
	params       map[string]string
	muted        bool
	muteErr      error
	muteCalls    int
	digits       []string
	disconnects  int
	accepts      int
	rejects      int
	acceptErr    error
	disconnectFn func() error
	// onMute runs after a successful Mute, the way a device reports the change
	onMute func(muted bool)
	device *fakeDevice
}

func (c *fakeConn) CallSid() string           { return c.sid }
func (c *fakeConn) Direction() CallDirection  { return c.direction }
func (c *fakeConn) Params() map[string]string { return c.params }

func (c *fakeConn) emit(evType DeviceEventType) {
	c.device.emit(DeviceEvent{Type: evType, Conn: c})
}

func (c *fakeConn) emitMuted(muted bool) {
	c.device.emit(DeviceEvent{Type: DeviceEventMute, Conn: c, Muted: muted})
}

func (c *fakeConn) emitError(err error) {
	c.device.emit(DeviceEvent{Type: DeviceEventError, Conn: c, Err: err})
}

func (c *fakeConn) setMuteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muteErr = err
}

func (c *fakeConn) setOnMute(fn func(muted bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMute = fn
}

func (c *fakeConn) setDisconnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectFn = func() error { return err }
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	if c.disconnectFn != nil {
		return c.disconnectFn()
	}
	return nil
}

func (c *fakeConn) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepts++
	return c.acceptErr
}

func (c *fakeConn) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejects++
	return nil
}

func (c *fakeConn) Mute(muted bool) error {
	c.mu.Lock()
	c.muteCalls++
	if c.muteErr != nil {
		err := c.muteErr
		c.mu.Unlock()
		return err
	}
	c.muted = muted
	onMute := c.onMute
	c.mu.Unlock()

	if onMute != nil {
		onMute(muted)
	}
	return nil
}

func (c *fakeConn) IsMuted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *fakeConn) SendDigits(digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digits = append(c.digits, digits)
	return nil
}

func (c *fakeConn) counts() (disconnects, accepts, rejects int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects, c.accepts, c.rejects
}

// ---- Fake device and factory ----

type fakeDevice struct {
	mu        sync.Mutex
	factory   *fakeFactory
	token     string
	sink      EventSink
	destroyed int
}

func (d *fakeDevice) Connect(ctx context.Context, params map[string]string) (Connection, error) {
	return d.factory.connect(ctx, d, params)
}

func (d *fakeDevice) Destroy() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed++
	return nil
}

func (d *fakeDevice) destroyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

func (d *fakeDevice) emit(ev DeviceEvent) {
	d.sink(ev)
}

// incoming simulates an inbound call arriving on the device
func (d *fakeDevice) incoming(sid, from string) *fakeConn {
	conn := &fakeConn{
		sid:       sid,
		direction: CallDirectionInbound,
		params:    map[string]string{"From": from, "To": "client:me"},
		device:    d,
	}
	d.emit(DeviceEvent{Type: DeviceEventIncoming, Conn: conn})
	return conn
}

type fakeFactory struct {
	mu       sync.Mutex
	devices  []*fakeDevice
	conns    []*fakeConn
	initErr  error
	connects int
	// connectErr returns the error for the nth connect (1-based), or nil
	connectErr func(n int) error
	// gate, when set, blocks connect until it is closed
	gate chan struct{}
}

func (f *fakeFactory) NewDevice(ctx context.Context, token string, sink EventSink) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initErr != nil {
		return nil, f.initErr
	}
	d := &fakeDevice{factory: f, token: token, sink: sink}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeFactory) connect(ctx context.Context, d *fakeDevice, params map[string]string) (Connection, error) {
	f.mu.Lock()
	f.connects++
	n := f.connects
	gate := f.gate
	connectErr := f.connectErr
	conn := &fakeConn{
		sid:       fmt.Sprintf("CA%03d", n),
		direction: CallDirectionOutbound,
		params:    params,
		device:    d,
	}
	f.conns = append(f.conns, conn)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if connectErr != nil {
		if err := connectErr(n); err != nil {
			return nil, err
		}
	}
	return conn, nil
}

func (f *fakeFactory) deviceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *fakeFactory) device(i int) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[i]
}

func (f *fakeFactory) lastDevice() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[len(f.devices)-1]
}

func (f *fakeFactory) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeFactory) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeFactory) lastConn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

// ---- Fake collaborators ----

type fakeTokens struct {
	mu    sync.Mutex
	clock Clock
	calls int
	err   error
	block chan struct{}
}

func (t *fakeTokens) FetchToken(ctx context.Context) (*tokens.Token, error) {
	t.mu.Lock()
	t.calls++
	n := t.calls
	block := t.block
	err := t.err
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	now := t.clock.Now()
	return &tokens.Token{
		Value:     fmt.Sprintf("token-%d", n),
		Identity:  "agent",
		FetchedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}, nil
}

func (t *fakeTokens) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeBalance struct {
	mu    sync.Mutex
	calls int
	value float64
	err   error
}

func (b *fakeBalance) FetchBalance(ctx context.Context) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return 0, b.err
	}
	return b.value, nil
}

func (b *fakeBalance) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *fakeBalance) set(value float64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = value
	b.err = err
}

type recordingCall struct {
	op           string
	callSid      string
	recordingSid string
}

type fakeRecordings struct {
	mu       sync.Mutex
	calls    []recordingCall
	startErr error
}

func (r *fakeRecordings) StartRecording(ctx context.Context, callSid string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordingCall{op: "start", callSid: callSid})
	if r.startErr != nil {
		return "", r.startErr
	}
	return "RE-" + callSid, nil
}

func (r *fakeRecordings) StopRecording(ctx context.Context, callSid, recordingSid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordingCall{op: "stop", callSid: callSid, recordingSid: recordingSid})
	return nil
}

func (r *fakeRecordings) snapshot() []recordingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordingCall(nil), r.calls...)
}

// ---- Logger ----

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *captureLogger) contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

// ---- Harness ----

type harness struct {
	t          *testing.T
	clock      *ManualClock
	factory    *fakeFactory
	tokens     *fakeTokens
	balance    *fakeBalance
	recordings *fakeRecordings
	logger     *captureLogger
	session    *Session
}

func newHarness(t *testing.T, configure func(*SessionConfig, *harness)) *harness {
	t.Helper()
	clock := NewManualClock(time.Time{})
	h := &harness{
		t:          t,
		clock:      clock,
		factory:    &fakeFactory{},
		tokens:     &fakeTokens{clock: clock},
		balance:    &fakeBalance{value: 20},
		recordings: &fakeRecordings{},
		logger:     &captureLogger{},
	}

	config := DefaultSessionConfig()
	config.Clock = clock
	config.Logger = h.logger
	if configure != nil {
		configure(config, h)
	}

	session, err := NewSession(Collaborators{
		Tokens:     h.tokens,
		Devices:    h.factory,
		Balance:    h.balance,
		Recordings: h.recordings,
	}, config)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	h.session = session
	t.Cleanup(func() { _ = session.Close() })
	return h
}

var testParams = ConnectParams{
	To:          "+14155550100",
	From:        "+15550001111",
	Country:     "US",
	Rate:        "0.60",
	PhoneNumber: "+14155550100",
}

// waitFor polls the session until cond holds
func (h *harness) waitFor(desc string, cond func(Snapshot) bool) Snapshot {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := h.session.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			h.t.Fatalf("Timed out waiting for %s; last snapshot %+v", desc, snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) waitStatus(status CallStatus) Snapshot {
	h.t.Helper()
	return h.waitFor(string(status), func(s Snapshot) bool { return s.Status == status })
}

// dialConnected dials and answers the first attempt
func (h *harness) dialConnected() *fakeConn {
	h.t.Helper()
	if err := h.session.Dial(testParams); err != nil {
		h.t.Fatalf("Dial failed: %v", err)
	}
	h.waitStatus(StatusCalling)
	conn := h.factory.lastConn()
	conn.emit(DeviceEventAccept)
	h.waitStatus(StatusConnected)
	return conn
}

// register registers the session and returns its device
func (h *harness) register() *fakeDevice {
	h.t.Helper()
	if err := h.session.Register(context.Background()); err != nil {
		h.t.Fatalf("Register failed: %v", err)
	}
	return h.factory.lastDevice()
}

func eventually(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", desc)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
