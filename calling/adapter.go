/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
	"github.com/tejzpr/voip-dialer-go-sdk/tokens"
)

// ---- Collaborators ----

// TokenProvider issues voice capability tokens. *tokens.Client implements it.
type TokenProvider interface {
	FetchToken(ctx context.Context) (*tokens.Token, error)
}

// BalanceFetcher reads the account balance. *billing.Client implements it.
type BalanceFetcher interface {
	FetchBalance(ctx context.Context) (float64, error)
}

// RecordingService starts and stops call recordings. *recordings.Client implements it.
type RecordingService interface {
	StartRecording(ctx context.Context, callSid string) (string, error)
	StopRecording(ctx context.Context, callSid, recordingSid string) error
}

// ---- Device abstraction ----

// Connection is one signaling leg of a device
type Connection interface {
	// CallSid is the provider call identifier; it may be empty until the far
	// end assigns one
	CallSid() string
	Direction() CallDirection
	// Params are the connect params (outbound) or the caller's params (inbound)
	Params() map[string]string
	Disconnect() error
	Accept() error
	Reject() error
	Mute(muted bool) error
	IsMuted() bool
	SendDigits(digits string) error
}

// Device is one initialized voice device
type Device interface {
	Connect(ctx context.Context, params map[string]string) (Connection, error)
	Destroy() error
}

// DeviceFactory builds devices. The sink passed to NewDevice is the only
// event callback the device may use. The sink never blocks and may be called
// from inside any Device or Connection method.
type DeviceFactory interface {
	NewDevice(ctx context.Context, token string, sink EventSink) (Device, error)
}

// DeviceFactoryFunc adapts a function to DeviceFactory
type DeviceFactoryFunc func(ctx context.Context, token string, sink EventSink) (Device, error)

// NewDevice calls f
func (f DeviceFactoryFunc) NewDevice(ctx context.Context, token string, sink EventSink) (Device, error) {
	return f(ctx, token, sink)
}

// DeviceHandle is a live device together with its generation number
type DeviceHandle struct {
	device     Device
	generation uint64
}

// Generation identifies the device; events carry the same number
func (h *DeviceHandle) Generation() uint64 {
	return h.generation
}

// Device returns the wrapped device
func (h *DeviceHandle) Device() Device {
	return h.device
}

// ---- Adapter ----

// DeviceAdapter owns at most one device at a time and hides the concrete
// voice SDK behind a small set of operations. Every event of every device
// is forwarded to a single sink, stamped with the device generation.
type DeviceAdapter struct {
	initMu     sync.Mutex
	mu         sync.Mutex
	factory    DeviceFactory
	sink       EventSink
	logger     dialersdk.Logger
	handle     *DeviceHandle
	generation atomic.Uint64
}

// NewDeviceAdapter creates an adapter. A nil factory makes every Initialize
// fail with SdkLoadError.
func NewDeviceAdapter(factory DeviceFactory, sink EventSink, logger dialersdk.Logger) *DeviceAdapter {
	if logger == nil {
		logger = log.Default()
	}
	if sink == nil {
		sink = func(DeviceEvent) {}
	}
	return &DeviceAdapter{
		factory: factory,
		sink:    sink,
		logger:  logger,
	}
}

// Initialize returns the live device handle, creating it if needed. With
// force set any existing device is destroyed and replaced.
func (a *DeviceAdapter) Initialize(ctx context.Context, token string, force bool) (*DeviceHandle, error) {
	if token == "" {
		return nil, newCallError(KindToken, "no voice token", tokens.ErrMissingToken)
	}

	a.initMu.Lock()
	defer a.initMu.Unlock()

	a.mu.Lock()
	existing := a.handle
	a.mu.Unlock()

	if existing != nil && !force {
		return existing, nil
	}
	if existing != nil {
		a.destroyHandle(existing)
	}

	if a.factory == nil {
		return nil, newCallError(KindSdkLoad, "no voice device configured", ErrSDKUnavailable)
	}

	gen := a.generation.Load() + 1
	sink := a.sink
	device, err := a.factory.NewDevice(ctx, token, func(ev DeviceEvent) {
		ev.Generation = gen
		sink(ev)
	})
	if err != nil {
		ce := ClassifyError(err)
		switch ce.Kind {
		case KindPermission, KindSdkLoad, KindBrowserIncompatible, KindToken:
			return nil, ce
		}
		return nil, newCallError(KindDevice, "device initialization failed", err)
	}
	if device == nil {
		return nil, newCallError(KindSdkLoad, "voice device unavailable", ErrSDKUnavailable)
	}

	handle := &DeviceHandle{device: device, generation: gen}
	a.generation.Store(gen)
	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()

	a.logger.Printf("Voice device initialized (generation %d)", gen)
	return handle, nil
}

// Handle returns the live handle, or nil
func (a *DeviceAdapter) Handle() *DeviceHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}

// Generation returns the generation of the newest device
func (a *DeviceAdapter) Generation() uint64 {
	return a.generation.Load()
}

// Connect places an outbound call on handle
func (a *DeviceAdapter) Connect(ctx context.Context, handle *DeviceHandle, params ConnectParams) (Connection, error) {
	if params.To == "" {
		return nil, ErrMissingDestination
	}
	if handle == nil || a.Handle() != handle {
		return nil, newCallError(KindDevice, "device is not initialized", nil)
	}

	conn, err := handle.device.Connect(ctx, params.Map())
	if err != nil {
		return nil, ClassifyError(err)
	}
	if conn == nil {
		return nil, newCallError(KindDevice, "device returned no connection", nil)
	}
	return conn, nil
}

// Disconnect hangs up conn. A nil conn is a no-op.
func (a *DeviceAdapter) Disconnect(conn Connection) error {
	if conn == nil {
		return nil
	}
	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("disconnect failed: %w", err)
	}
	return nil
}

// Accept answers an inbound connection
func (a *DeviceAdapter) Accept(conn Connection) error {
	if conn == nil || conn.Direction() != CallDirectionInbound {
		return ErrNotIncoming
	}
	return conn.Accept()
}

// Reject declines an inbound connection
func (a *DeviceAdapter) Reject(conn Connection) error {
	if conn == nil || conn.Direction() != CallDirectionInbound {
		return ErrNotIncoming
	}
	return conn.Reject()
}

// Mute mutes or unmutes conn. Without a connection it only logs a warning.
func (a *DeviceAdapter) Mute(conn Connection, muted bool) error {
	if conn == nil {
		dialersdk.Warnf(a.logger, "mute(%v) ignored: no active connection", muted)
		return nil
	}
	return conn.Mute(muted)
}

// SendDigits plays DTMF digits on conn. Without a connection it only logs a
// warning.
func (a *DeviceAdapter) SendDigits(conn Connection, digits string) error {
	if err := ValidateDigits(digits); err != nil {
		return err
	}
	if conn == nil {
		dialersdk.Warnf(a.logger, "sendDigits(%q) ignored: no active connection", digits)
		return nil
	}
	return conn.SendDigits(digits)
}

// Release destroys handle if it is still the live device
func (a *DeviceAdapter) Release(handle *DeviceHandle) {
	if handle == nil {
		return
	}
	a.mu.Lock()
	live := a.handle == handle
	a.mu.Unlock()
	if live {
		a.destroyHandle(handle)
	}
}

// Destroy tears down the live device, if any. Safe to call repeatedly.
func (a *DeviceAdapter) Destroy() {
	if handle := a.Handle(); handle != nil {
		a.destroyHandle(handle)
	}
}

func (a *DeviceAdapter) destroyHandle(handle *DeviceHandle) {
	a.mu.Lock()
	if a.handle == handle {
		a.handle = nil
	}
	a.mu.Unlock()

	if err := handle.device.Destroy(); err != nil {
		dialersdk.Warnf(a.logger, "destroying voice device (generation %d): %v", handle.generation, err)
		return
	}
	a.logger.Printf("Voice device destroyed (generation %d)", handle.generation)
}

// ValidateDigits checks that digits only contains DTMF characters
func ValidateDigits(digits string) error {
	if digits == "" {
		return ErrInvalidDigits
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && r != '*' && r != '#' {
			return fmt.Errorf("%w: %q", ErrInvalidDigits, r)
		}
	}
	return nil
}

// isStaleGeneration reports whether an event came from a replaced device
func (a *DeviceAdapter) isStaleGeneration(ev DeviceEvent) bool {
	return ev.Generation != 0 && ev.Generation < a.generation.Load()
}

