/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import "sync"

// ---- Device Event Enums ----

// DeviceEventType identifies a lifecycle event reported by a voice device
type DeviceEventType string

const (
	DeviceEventReady      DeviceEventType = "ready"
	DeviceEventError      DeviceEventType = "error"
	DeviceEventIncoming   DeviceEventType = "incoming"
	DeviceEventRinging    DeviceEventType = "ringing"
	DeviceEventConnect    DeviceEventType = "connect"
	DeviceEventAccept     DeviceEventType = "accept"
	DeviceEventDisconnect DeviceEventType = "disconnect"
	DeviceEventCancel     DeviceEventType = "cancel"
	DeviceEventMute       DeviceEventType = "mute"
)

// DeviceEvent is a single event from a device. Conn is nil for device-level
// events. Generation is stamped by the DeviceAdapter.
type DeviceEvent struct {
	Type       DeviceEventType
	Conn       Connection
	Muted      bool
	Err        error
	Generation uint64
}

// EventSink receives every event of one device
type EventSink func(DeviceEvent)

// ---- Session Event Keys ----

// SessionEventKey identifies an event published by a Session
type SessionEventKey string

const (
	// SessionEventStatus carries a Snapshot whenever any observable field changes
	SessionEventStatus SessionEventKey = "status"
	// SessionEventError carries the *CallError that failed a call
	SessionEventError SessionEventKey = "error"
	// SessionEventIncoming carries the pending inbound Connection
	SessionEventIncoming SessionEventKey = "incoming"
	// SessionEventBalance carries the latest balance as float64
	SessionEventBalance SessionEventKey = "balance"
	// SessionEventDuration carries the answered time as time.Duration
	SessionEventDuration SessionEventKey = "duration"
)

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}
