/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package voice is a calling.Device backed by a WebRTC voice gateway: call
// signaling runs over a websocket and audio over a pion peer connection.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/voip-dialer-go-sdk/calling"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// Config holds the gateway and media settings of a voice device
type Config struct {
	// GatewayURL is the websocket URL of the voice gateway (ws:// or wss://)
	GatewayURL string
	// ICEServers is the list of STUN/TURN servers for media
	ICEServers []webrtc.ICEServer

	HandshakeTimeout time.Duration // Timeout for the websocket handshake and registration
	WriteTimeout     time.Duration // Deadline for each websocket write
	PingInterval     time.Duration // Interval between keepalive pings
	PongTimeout      time.Duration // Time to wait for a pong
	BackoffTimeReset time.Duration // Initial delay between connection attempts
	BackoffTimeMax   time.Duration // Maximum delay between connection attempts
	// InitialMaxRetries bounds retries of the first connection
	InitialMaxRetries int
	// MaxRetries bounds retries after an established socket drops
	MaxRetries int

	// Logger for device operations; nil means log.Default()
	Logger dialersdk.Logger
}

// DefaultConfig returns a Config with sensible defaults and a public STUN server
func DefaultConfig() *Config {
	return &Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		PongTimeout:       10 * time.Second,
		BackoffTimeReset:  1 * time.Second,
		BackoffTimeMax:    32 * time.Second,
		InitialMaxRetries: 2,
		MaxRetries:        5,
	}
}

// Factory creates voice devices. It implements calling.DeviceFactory.
type Factory struct {
	config *Config
}

// NewFactory creates a Factory. Zero durations in config fall back to
// DefaultConfig values.
func NewFactory(config *Config) *Factory {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	c := *config
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = defaults.PongTimeout
	}
	if c.BackoffTimeReset <= 0 {
		c.BackoffTimeReset = defaults.BackoffTimeReset
	}
	if c.BackoffTimeMax <= 0 {
		c.BackoffTimeMax = defaults.BackoffTimeMax
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return &Factory{config: &c}
}

// NewDevice connects to the gateway with token and registers. Device events
// are reported to sink.
func (f *Factory) NewDevice(ctx context.Context, token string, sink calling.EventSink) (calling.Device, error) {
	if f.config.GatewayURL == "" {
		return nil, fmt.Errorf("no gateway URL configured: %w", calling.ErrSDKUnavailable)
	}

	d := &Device{
		config:    f.config,
		logger:    f.config.Logger,
		sink:      sink,
		calls:     make(map[string]*Call),
		signaling: NewSignaling(f.config, token),
	}
	d.signaling.OnMessage(d.handleMessage)
	d.signaling.OnDrop(d.handleDrop)
	d.signaling.OnRestored(func() {
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventReady})
	})

	if err := d.signaling.Connect(ctx); err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.IsAuth() {
			return nil, &calling.CallError{Kind: calling.KindToken, Message: "voice gateway rejected the token", Err: err}
		}
		return nil, err
	}

	d.logger.Printf("Registered with voice gateway %s", f.config.GatewayURL)
	d.emit(calling.DeviceEvent{Type: calling.DeviceEventReady})
	return d, nil
}

// Device is one registration with the voice gateway
type Device struct {
	config    *Config
	logger    dialersdk.Logger
	sink      calling.EventSink
	signaling *Signaling

	mu        sync.Mutex
	calls     map[string]*Call
	destroyed bool
}

// Connect places an outbound call with params. The returned Call is
// answered asynchronously; progress arrives as device events.
func (d *Device) Connect(ctx context.Context, params map[string]string) (calling.Connection, error) {
	d.mu.Lock()
	destroyed := d.destroyed
	d.mu.Unlock()
	if destroyed {
		return nil, fmt.Errorf("device destroyed")
	}

	media, err := NewMediaEngine(d.config.ICEServers, d.logger)
	if err != nil {
		return nil, err
	}
	if _, err := media.AddAudioTrack(); err != nil {
		media.Close()
		return nil, err
	}
	offer, err := media.CreateOffer(ctx)
	if err != nil {
		media.Close()
		return nil, err
	}

	call := newCall(d, uuid.New().String(), calling.CallDirectionOutbound, params, media)
	d.track(call)

	if err := d.signaling.Send(&Message{
		Type:   MessageInvite,
		CallID: call.id,
		Params: params,
		SDP:    offer,
	}); err != nil {
		d.forget(call)
		media.Close()
		return nil, err
	}

	d.logger.Printf("Invite sent for call %s to %s", call.id, params["To"])
	return call, nil
}

// Destroy hangs up every call and closes the gateway connection
func (d *Device) Destroy() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil
	}
	d.destroyed = true
	calls := make([]*Call, 0, len(d.calls))
	for _, c := range d.calls {
		calls = append(calls, c)
	}
	d.calls = make(map[string]*Call)
	d.mu.Unlock()

	for _, c := range calls {
		_ = d.signaling.Send(&Message{Type: MessageHangup, CallID: c.id, CallSid: c.CallSid()})
		c.end()
	}
	return d.signaling.Close()
}

func (d *Device) emit(ev calling.DeviceEvent) {
	if d.sink != nil {
		d.sink(ev)
	}
}

func (d *Device) track(c *Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[c.id] = c
}

func (d *Device) forget(c *Call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.calls, c.id)
}

func (d *Device) lookup(id string) *Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

// handleMessage turns gateway frames into device events
func (d *Device) handleMessage(msg *Message) {
	if msg.Type == MessageInvite {
		d.handleInvite(msg)
		return
	}

	call := d.lookup(msg.CallID)
	if call == nil {
		if msg.Type == MessageError {
			d.emit(calling.DeviceEvent{Type: calling.DeviceEventError, Err: gatewayErr(msg)})
			return
		}
		d.logger.Printf("Ignoring %s for unknown call %q", msg.Type, msg.CallID)
		return
	}
	if msg.CallSid != "" {
		call.setCallSid(msg.CallSid)
	}

	switch msg.Type {
	case MessageRinging:
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventRinging, Conn: call})

	case MessageAnswer:
		if err := call.media.SetRemoteAnswer(msg.SDP); err != nil {
			d.emit(calling.DeviceEvent{Type: calling.DeviceEventError, Conn: call, Err: err})
			return
		}
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventAccept, Conn: call})

	case MessageHangup, MessageReject:
		d.forget(call)
		call.end()
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventDisconnect, Conn: call})

	case MessageCancel:
		d.forget(call)
		call.end()
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventCancel, Conn: call})

	case MessageMute:
		if err := call.media.SetMuted(msg.Muted); err == nil {
			d.emit(calling.DeviceEvent{Type: calling.DeviceEventMute, Conn: call, Muted: msg.Muted})
		}

	case MessageError:
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventError, Conn: call, Err: gatewayErr(msg)})

	default:
		d.logger.Printf("Ignoring gateway message %q", msg.Type)
	}
}

func (d *Device) handleInvite(msg *Message) {
	if msg.CallID == "" || msg.SDP == "" {
		dialersdk.Warnf(d.logger, "ignoring malformed invite")
		return
	}

	media, err := NewMediaEngine(d.config.ICEServers, d.logger)
	if err != nil {
		dialersdk.Warnf(d.logger, "rejecting invite %s: %v", msg.CallID, err)
		_ = d.signaling.Send(&Message{Type: MessageReject, CallID: msg.CallID, CallSid: msg.CallSid})
		return
	}

	call := newCall(d, msg.CallID, calling.CallDirectionInbound, msg.Params, media)
	call.callSid = msg.CallSid
	call.remoteOffer = msg.SDP
	d.track(call)

	d.logger.Printf("Incoming call %s from %s", msg.CallID, msg.Params["From"])
	d.emit(calling.DeviceEvent{Type: calling.DeviceEventIncoming, Conn: call})
}

// handleDrop ends every call when the gateway connection is lost
func (d *Device) handleDrop(err error) {
	d.mu.Lock()
	calls := make([]*Call, 0, len(d.calls))
	for _, c := range d.calls {
		calls = append(calls, c)
	}
	d.calls = make(map[string]*Call)
	d.mu.Unlock()

	for _, c := range calls {
		c.end()
		d.emit(calling.DeviceEvent{Type: calling.DeviceEventDisconnect, Conn: c})
	}
	d.emit(calling.DeviceEvent{Type: calling.DeviceEventError, Err: fmt.Errorf("voice gateway connection lost: %w", err)})
}

func gatewayErr(msg *Message) error {
	if msg.Error != nil {
		return msg.Error
	}
	return &GatewayError{Message: "unspecified gateway error"}
}
