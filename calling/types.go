/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// ---- Enums / Constants ----

// CallStatus is the state of a Session
type CallStatus string

const (
	StatusIdle       CallStatus = "idle"
	StatusInitiating CallStatus = "initiating"
	StatusCalling    CallStatus = "calling"
	StatusRinging    CallStatus = "ringing"
	StatusConnected  CallStatus = "connected"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusIncoming   CallStatus = "incoming"
)

// validTransitions defines which status changes are allowed. Retries stay in
// the current status and are not listed.
var validTransitions = map[CallStatus][]CallStatus{
	StatusIdle:       {StatusInitiating, StatusIncoming, StatusFailed},
	StatusInitiating: {StatusCalling, StatusCompleted, StatusFailed},
	StatusCalling:    {StatusRinging, StatusConnected, StatusCompleted, StatusFailed},
	StatusRinging:    {StatusConnected, StatusCompleted, StatusFailed},
	StatusConnected:  {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusIdle},
	StatusFailed:     {StatusIdle},
	StatusIncoming:   {StatusConnected, StatusIdle, StatusFailed},
}

// CanTransitionTo checks if a transition from current status to next is valid
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == next {
			return true
		}
	}
	return false
}

// InCall reports whether a connect attempt or an answered call is in progress
func (s CallStatus) InCall() bool {
	switch s {
	case StatusInitiating, StatusCalling, StatusRinging, StatusConnected:
		return true
	}
	return false
}

// IsResting reports whether the session holds no call
func (s CallStatus) IsResting() bool {
	return s == StatusIdle || s == StatusCompleted || s == StatusFailed
}

func (s CallStatus) connecting() bool {
	return s == StatusInitiating || s == StatusCalling || s == StatusRinging
}

// CallDirection indicates whether a call is inbound or outbound
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// MuteMode selects how the session tracks the mute flag
type MuteMode int

const (
	// MuteConfirmed only trusts the device: the flag is read back after each
	// mute call and updated from device mute events.
	MuteConfirmed MuteMode = iota
	// MuteOptimistic flips the flag first and lets later device reports
	// correct it.
	MuteOptimistic
)

// IncomingPolicy decides what happens when a second inbound call arrives
// while one is already pending
type IncomingPolicy int

const (
	// IncomingRejectNewer keeps the pending call and rejects the new one
	IncomingRejectNewer IncomingPolicy = iota
	// IncomingReplaceOlder rejects the pending call and keeps the new one
	IncomingReplaceOlder
)

// ---- Connect Params ----

// ConnectParams are forwarded to the far end on connect. Everything except
// To and From is opaque billing metadata.
type ConnectParams struct {
	To           string
	From         string
	CallerIDType string
	// CallerIDInfo is a JSON document
	CallerIDInfo string
	PhoneNumber  string
	Country      string
	Rate         string
}

// Map renders the params with their wire keys. Empty optional fields are omitted.
func (p ConnectParams) Map() map[string]string {
	m := map[string]string{
		"To":   p.To,
		"From": p.From,
	}
	optional := map[string]string{
		"callerIdType": p.CallerIDType,
		"callerIdInfo": p.CallerIDInfo,
		"PhoneNumber":  p.PhoneNumber,
		"Country":      p.Country,
		"Rate":         p.Rate,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// ---- Configuration ----

// SessionConfig holds the retry, timer and policy settings of a Session
type SessionConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; each retry doubles it
	RetryBaseDelay time.Duration
	// ConnectTimeout bounds a single attempt from start to answer
	ConnectTimeout time.Duration
	// BalancePollInterval is the balance refresh period while answered
	BalancePollInterval time.Duration
	// TokenRefreshMargin refreshes a token this long before it expires
	TokenRefreshMargin time.Duration
	// TokenMaxAge is used for tokens without a readable expiry
	TokenMaxAge time.Duration
	// RecordingTimeout bounds each recording start/stop request
	RecordingTimeout time.Duration

	MuteMode       MuteMode
	IncomingPolicy IncomingPolicy

	// Online reports network availability; nil means always online
	Online func() bool

	// Clock drives every timer; nil means RealClock
	Clock Clock
	// Logger for session operations; nil means log.Default()
	Logger dialersdk.Logger
	// QueueSize is the initial capacity of the session input queue; the
	// queue grows as needed and never blocks a sender
	QueueSize int
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		MaxRetries:          2,
		RetryBaseDelay:      1 * time.Second,
		ConnectTimeout:      30 * time.Second,
		BalancePollInterval: 2 * time.Second,
		TokenRefreshMargin:  1 * time.Minute,
		TokenMaxAge:         50 * time.Minute,
		RecordingTimeout:    10 * time.Second,
		MuteMode:            MuteConfirmed,
		IncomingPolicy:      IncomingRejectNewer,
		QueueSize:           64,
	}
}

// backoff returns the delay before retry number retry (1-based)
func (c *SessionConfig) backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return c.RetryBaseDelay * time.Duration(1<<uint(retry-1))
}
