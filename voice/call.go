/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package voice

import (
	"context"
	"fmt"
	"sync"

	"github.com/tejzpr/voip-dialer-go-sdk/calling"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// Call is one call leg on a Device. It implements calling.Connection.
type Call struct {
	device    *Device
	id        string
	direction calling.CallDirection
	params    map[string]string
	media     *MediaEngine

	mu          sync.Mutex
	callSid     string
	remoteOffer string
	answered    bool
	ended       bool
}

func newCall(d *Device, id string, direction calling.CallDirection, params map[string]string, media *MediaEngine) *Call {
	if params == nil {
		params = map[string]string{}
	}
	return &Call{
		device:    d,
		id:        id,
		direction: direction,
		params:    params,
		media:     media,
	}
}

// ID is the client-side call identifier used on the gateway socket
func (c *Call) ID() string {
	return c.id
}

// CallSid returns the gateway call identifier, empty until the gateway assigns one
func (c *Call) CallSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSid
}

func (c *Call) setCallSid(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callSid = sid
}

// Direction returns whether the call was placed or received
func (c *Call) Direction() calling.CallDirection {
	return c.direction
}

// Params returns the invite params of the call
func (c *Call) Params() map[string]string {
	return c.params
}

// Media exposes the peer connection of the call
func (c *Call) Media() *MediaEngine {
	return c.media
}

// Disconnect hangs up the call. Hanging up an ended call does nothing.
func (c *Call) Disconnect() error {
	if !c.end() {
		return nil
	}
	c.device.forget(c)
	return c.device.signaling.Send(&Message{Type: MessageHangup, CallID: c.id, CallSid: c.CallSid()})
}

// Accept answers an incoming call with a local SDP answer
func (c *Call) Accept() error {
	c.mu.Lock()
	if c.direction != calling.CallDirectionInbound {
		c.mu.Unlock()
		return calling.ErrNotIncoming
	}
	if c.ended {
		c.mu.Unlock()
		return fmt.Errorf("call %s already ended", c.id)
	}
	if c.answered {
		c.mu.Unlock()
		return nil
	}
	offer := c.remoteOffer
	c.mu.Unlock()

	if err := c.media.SetRemoteOffer(offer); err != nil {
		return fmt.Errorf("failed to apply remote offer: %w", err)
	}
	if _, err := c.media.AddAudioTrack(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.device.config.HandshakeTimeout)
	defer cancel()
	answer, err := c.media.CreateAnswer(ctx)
	if err != nil {
		return err
	}

	if err := c.device.signaling.Send(&Message{Type: MessageAccept, CallID: c.id, CallSid: c.CallSid(), SDP: answer}); err != nil {
		return err
	}

	c.mu.Lock()
	c.answered = true
	c.mu.Unlock()
	return nil
}

// Reject declines an incoming call
func (c *Call) Reject() error {
	if c.direction != calling.CallDirectionInbound {
		return calling.ErrNotIncoming
	}
	if !c.end() {
		return nil
	}
	c.device.forget(c)
	return c.device.signaling.Send(&Message{Type: MessageReject, CallID: c.id, CallSid: c.CallSid()})
}

// Mute stops or resumes sending microphone audio and tells the gateway.
// The change is reported back as a mute event.
func (c *Call) Mute(muted bool) error {
	if err := c.media.SetMuted(muted); err != nil {
		return err
	}
	if err := c.device.signaling.Send(&Message{Type: MessageMute, CallID: c.id, CallSid: c.CallSid(), Muted: muted}); err != nil {
		dialersdk.Warnf(c.device.logger, "mute notification for %s not sent: %v", c.id, err)
	}
	c.device.emit(calling.DeviceEvent{Type: calling.DeviceEventMute, Conn: c, Muted: muted})
	return nil
}

// IsMuted returns whether local audio is muted
func (c *Call) IsMuted() bool {
	return c.media.IsMuted()
}

// SendDigits sends DTMF digits through the gateway
func (c *Call) SendDigits(digits string) error {
	if err := calling.ValidateDigits(digits); err != nil {
		return err
	}
	return c.device.signaling.Send(&Message{Type: MessageDTMF, CallID: c.id, CallSid: c.CallSid(), Digits: digits})
}

// end marks the call ended and closes its media. It reports whether this
// call did the transition.
func (c *Call) end() bool {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return false
	}
	c.ended = true
	c.mu.Unlock()

	if err := c.media.Close(); err != nil {
		dialersdk.Warnf(c.device.logger, "closing media for %s: %v", c.id, err)
	}
	return true
}
