/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package voice

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// MediaEngine owns the WebRTC peer connection and the audio tracks of one
// call leg. Audio is negotiated as G.711 (PCMU, then PCMA).
type MediaEngine struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	localTrack     *webrtc.TrackLocalStaticRTP
	remoteTrack    *webrtc.TrackRemote
	muted          bool
	closed         bool
	onRemoteTrack  func(track *webrtc.TrackRemote)
	logger         dialersdk.Logger
}

// NewMediaEngine creates a peer connection using iceServers
func NewMediaEngine(iceServers []webrtc.ICEServer, logger dialersdk.Logger) (*MediaEngine, error) {
	if logger == nil {
		logger = log.Default()
	}
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMU: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register PCMA: %w", err)
	}

	// A custom MediaEngine needs the default interceptors for RTCP reports and NACK
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &MediaEngine{
		peerConnection: pc,
		logger:         logger,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		logger.Printf("Media connection state: %s", s.String())
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger.Printf("Remote audio track: codec=%s ssrc=%d", track.Codec().MimeType, track.SSRC())
		engine.mu.Lock()
		engine.remoteTrack = track
		handler := engine.onRemoteTrack
		engine.mu.Unlock()

		if handler != nil {
			handler(track)
		}
	})

	return engine, nil
}

// OnRemoteTrack sets the callback for the far end's audio track
func (me *MediaEngine) OnRemoteTrack(handler func(track *webrtc.TrackRemote)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onRemoteTrack = handler
}

// AddAudioTrack adds a sendrecv PCMU track for the local microphone
func (me *MediaEngine) AddAudioTrack() (*webrtc.TrackLocalStaticRTP, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.localTrack != nil {
		return me.localTrack, nil
	}

	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000},
		"audio",
		"voip-dialer",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio track: %w", err)
	}

	transceiver, err := me.peerConnection.AddTransceiverFromTrack(track,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to add audio transceiver: %w", err)
	}

	// Drain RTCP so the interceptors keep running
	go func() {
		sender := transceiver.Sender()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	me.localTrack = track
	return track, nil
}

// CreateOffer creates the local offer and returns it once ICE gathering
// has finished
func (me *MediaEngine) CreateOffer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	offer, err := me.peerConnection.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}
	return me.setLocalAndGather(ctx, offer)
}

// CreateAnswer answers a remote offer set with SetRemoteOffer
func (me *MediaEngine) CreateAnswer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	answer, err := me.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}
	return me.setLocalAndGather(ctx, answer)
}

func (me *MediaEngine) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (string, error) {
	gatherComplete := webrtc.GatheringCompletePromise(me.peerConnection)
	if err := me.peerConnection.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", fmt.Errorf("ICE gathering: %w", ctx.Err())
	}

	local := me.peerConnection.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}
	return local.SDP, nil
}

// SetRemoteOffer applies the far end's offer
func (me *MediaEngine) SetRemoteOffer(sdp string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	})
}

// SetRemoteAnswer applies the far end's answer. A duplicate answer is ignored.
func (me *MediaEngine) SetRemoteAnswer(sdp string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.peerConnection.SignalingState() == webrtc.SignalingStateStable {
		me.logger.Printf("Ignoring duplicate SDP answer")
		return nil
	}

	return me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

// SetMuted stops or resumes sending local audio
func (me *MediaEngine) SetMuted(muted bool) error {
	me.mu.Lock()
	defer me.mu.Unlock()
	if me.closed {
		return fmt.Errorf("media closed")
	}
	me.muted = muted
	return nil
}

// IsMuted returns whether the local audio is muted
func (me *MediaEngine) IsMuted() bool {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.muted
}

// WriteRTP sends one local audio packet. Packets are dropped while muted.
func (me *MediaEngine) WriteRTP(packet *rtp.Packet) error {
	me.mu.Lock()
	track := me.localTrack
	muted := me.muted
	me.mu.Unlock()

	if track == nil {
		return fmt.Errorf("no local audio track")
	}
	if muted {
		return nil
	}
	return track.WriteRTP(packet)
}

// RemoteTrack returns the far end's audio track once it has arrived
func (me *MediaEngine) RemoteTrack() *webrtc.TrackRemote {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.remoteTrack
}

// ConnectionState returns the peer connection state
func (me *MediaEngine) ConnectionState() webrtc.PeerConnectionState {
	return me.peerConnection.ConnectionState()
}

// Close closes the peer connection. It is safe to call twice.
func (me *MediaEngine) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.closed {
		return nil
	}
	me.closed = true
	if err := me.peerConnection.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection: %w", err)
	}
	return nil
}
