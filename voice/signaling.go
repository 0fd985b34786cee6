/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// Message types exchanged with the voice gateway
const (
	MessageRegister   = "register"
	MessageRegistered = "registered"
	MessageInvite     = "invite"
	MessageRinging    = "ringing"
	MessageAnswer     = "answer"
	MessageAccept     = "accept"
	MessageReject     = "reject"
	MessageCancel     = "cancel"
	MessageHangup     = "hangup"
	MessageDTMF       = "dtmf"
	MessageMute       = "mute"
	MessageError      = "error"
	MessagePing       = "ping"
	MessagePong       = "pong"
)

// Message is one JSON frame on the gateway websocket
type Message struct {
	Type string `json:"type"`
	// CallID is the client-side identifier of a call leg
	CallID  string            `json:"callId,omitempty"`
	CallSid string            `json:"callSid,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	SDP     string            `json:"sdp,omitempty"`
	Digits  string            `json:"digits,omitempty"`
	Muted   bool              `json:"muted,omitempty"`
	Error   *GatewayError     `json:"error,omitempty"`
}

// GatewayError is an error reported by the gateway, either in an error frame
// or as a failed websocket handshake
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d", e.Code)
	}
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// IsAuth reports whether the gateway refused the token
func (e *GatewayError) IsAuth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// Signaling is the websocket connection to the voice gateway. It registers
// with a token, keeps the socket alive with pings and reconnects with
// exponential backoff when the socket drops.
type Signaling struct {
	config *Config
	logger dialersdk.Logger
	token  string

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closed     bool
	closeCh    chan struct{}
	onMessage  func(*Message)
	onDrop     func(error)
	onRestored func()
}

// NewSignaling creates an unconnected Signaling client for token
func NewSignaling(config *Config, token string) *Signaling {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Signaling{
		config:  config,
		logger:  logger,
		token:   token,
		closeCh: make(chan struct{}),
	}
}

// OnMessage sets the handler for gateway frames other than ping and pong
func (s *Signaling) OnMessage(handler func(*Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onMessage = handler
}

// OnDrop sets the handler called when an established socket is lost
func (s *Signaling) OnDrop(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrop = handler
}

// OnRestored sets the handler called after a dropped socket reconnects
func (s *Signaling) OnRestored(handler func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRestored = handler
}

// Connect dials and registers, retrying with backoff. A token rejected by
// the gateway is not retried.
func (s *Signaling) Connect(ctx context.Context) error {
	return s.connectWithBackoff(ctx, s.config.InitialMaxRetries)
}

// IsConnected reports whether the socket is registered
func (s *Signaling) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Send writes msg to the gateway
func (s *Signaling) Send(msg *Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("signaling not connected")
	}
	return s.write(conn, msg)
}

// Close unregisters and closes the socket. It is safe to call twice.
func (s *Signaling) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "device destroyed"),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}

func (s *Signaling) write(conn *websocket.Conn, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}
	return nil
}

func (s *Signaling) connectWithBackoff(ctx context.Context, maxRetries int) error {
	backoff := s.config.BackoffTimeReset
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
				if backoff > s.config.BackoffTimeMax {
					backoff = s.config.BackoffTimeMax
				}
			case <-ctx.Done():
				return ctx.Err()
			case <-s.closeCh:
				return fmt.Errorf("signaling closed")
			}
		}

		err = s.attemptConnection(ctx)
		if err == nil {
			return nil
		}
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.IsAuth() {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dialersdk.Warnf(s.logger, "gateway connection attempt %d failed: %v", attempt+1, err)
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", maxRetries+1, err)
}

func (s *Signaling) attemptConnection(ctx context.Context) error {
	conn, err := s.dialWebSocket(ctx)
	if err != nil {
		return err
	}

	if err := s.register(ctx, conn); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("signaling closed")
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	done := make(chan struct{})
	go s.startPingPong(conn, done)
	go s.listen(conn, done)
	return nil
}

// dialWebSocket opens the socket with the token as a bearer credential
func (s *Signaling) dialWebSocket(ctx context.Context) (*websocket.Conn, error) {
	parsed, err := url.Parse(s.config.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+s.token)
	headers.Set("TrackingID", "dialer-go-sdk_"+uuid.New().String())

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, parsed.String(), headers)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &GatewayError{Code: resp.StatusCode, Message: resp.Status}
		}
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}
	return conn, nil
}

// register sends the register frame and waits for the gateway to confirm
func (s *Signaling) register(ctx context.Context, conn *websocket.Conn) error {
	if err := s.write(conn, &Message{Type: MessageRegister}); err != nil {
		return err
	}

	deadline := time.Now().Add(s.config.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("error reading registration response: %w", err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case MessageRegistered:
			return nil
		case MessageError:
			if msg.Error != nil {
				return msg.Error
			}
			return &GatewayError{Message: "registration refused"}
		}
	}
}

func (s *Signaling) listen(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleConnectionError(conn, err)
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			dialersdk.Warnf(s.logger, "dropping malformed gateway frame: %v", err)
			continue
		}

		switch msg.Type {
		case MessagePing:
			if err := s.write(conn, &Message{Type: MessagePong}); err != nil {
				dialersdk.Warnf(s.logger, "%v", err)
			}
			continue
		case MessagePong:
			continue
		}

		s.mu.Lock()
		handler := s.onMessage
		s.mu.Unlock()
		if handler != nil {
			handler(&msg)
		}
	}
}

// startPingPong keeps the socket alive; a missing pong trips the read
// deadline and ends listen
func (s *Signaling) startPingPong(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout)); err != nil {
				return
			}
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte(uuid.New().String()), time.Now().Add(s.config.WriteTimeout))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.closeCh:
			return
		case <-done:
			return
		}
	}
}

func (s *Signaling) handleConnectionError(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connected = false
	onDrop := s.onDrop
	s.mu.Unlock()
	conn.Close()

	s.logger.Printf("Gateway connection lost: %v", err)
	if onDrop != nil {
		onDrop(err)
	}
	go s.reconnect()
}

func (s *Signaling) reconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := s.connectWithBackoff(ctx, s.config.MaxRetries); err != nil {
		dialersdk.Warnf(s.logger, "gateway reconnect gave up: %v", err)
		return
	}

	s.logger.Printf("Gateway connection restored")
	s.mu.Lock()
	onRestored := s.onRestored
	s.mu.Unlock()
	if onRestored != nil {
		onRestored()
	}
}
