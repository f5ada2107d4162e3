// Package media performs WebRTC offer/answer/ICE negotiation and owns the
// local and remote media streams for the duration of one call.
package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/re-trade/chatlink/internal/domain"
)

// ErrClosed is returned for operations on a torn-down peer connection.
var ErrClosed = errors.New("media: peer connection closed")

// Engine builds one Peer per call using the configured ICE servers.
type Engine struct {
	ice    []domain.ICEServer
	logger zerolog.Logger
}

// NewEngine creates a media engine.
func NewEngine(ice []domain.ICEServer, logger *zerolog.Logger) *Engine {
	return &Engine{
		ice:    ice,
		logger: logger.With().Str("component", "media").Logger(),
	}
}

// NewPeer acquires local media (audio-only or audio+video), creates the
// peer connection and wires track and candidate callbacks.
// Implements domain.MediaEngine.
func (e *Engine) NewPeer(withVideo bool, onCandidate func(data json.RawMessage)) (domain.MediaPeer, error) {
	pc, local, err := newPeerConnection(withVideo, toPionServers(e.ice), e.logger)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:      pc,
		local:   local,
		logger:  e.logger,
		audioOn: local.hasKind(pion.RTPCodecTypeAudio),
		videoOn: local.hasKind(pion.RTPCodecTypeVideo),
	}

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			e.logger.Debug().Msg("ICE gathering complete")
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			e.logger.Error().Err(err).Msg("marshal ICE candidate")
			return
		}
		onCandidate(data)
	})

	// Remote tracks arrive incrementally; each one is drained until the
	// connection closes so RTCP keeps flowing.
	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		e.logger.Info().
			Str("kind", track.Kind().String()).
			Str("codec", codec.MimeType).
			Msg("remote track")
		p.trackAdded()
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					p.trackEnded()
					return
				}
			}
		}()
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		e.logger.Debug().Str("state", state.String()).Msg("peer connection state")
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		e.logger.Debug().Str("state", state.String()).Msg("ICE connection state")
	})

	return p, nil
}

func toPionServers(servers []domain.ICEServer) []pion.ICEServer {
	out := make([]pion.ICEServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return out
}

// rtpSender is the subset of pion.RTPSender the toggles need.
type rtpSender interface {
	ReplaceTrack(track pion.TrackLocal) error
}

// trackSender pairs one captured local track with the sender publishing
// it, so toggles can detach and re-attach the track on the negotiated
// m-line without renegotiation.
type trackSender struct {
	kind   pion.RTPCodecType
	track  pion.TrackLocal
	sender rtpSender
}

// localMedia is the captured local media of one call. nil when the
// connection is receive-only.
type localMedia struct {
	senders []trackSender
	stop    func()
}

func (m *localMedia) sendersOf(kind pion.RTPCodecType) []trackSender {
	if m == nil {
		return nil
	}
	var out []trackSender
	for _, ts := range m.senders {
		if ts.kind == kind {
			out = append(out, ts)
		}
	}
	return out
}

func (m *localMedia) hasKind(kind pion.RTPCodecType) bool {
	return len(m.sendersOf(kind)) > 0
}

func (m *localMedia) close() {
	if m == nil || m.stop == nil {
		return
	}
	m.stop()
}

// Peer wraps a Pion PeerConnection for one call.
type Peer struct {
	pc     *pion.PeerConnection
	local  *localMedia
	logger zerolog.Logger

	mu           sync.Mutex
	audioOn      bool
	videoOn      bool
	remoteTracks int
	closed       bool
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: domain.SignalTypeOffer, SDP: offer.SDP}, nil
}

// HandleOffer applies a remote offer and produces the local answer.
func (p *Peer) HandleOffer(offer domain.SDPPayload) (domain.SDPPayload, error) {
	desc := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set remote description: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SDPPayload{Type: domain.SignalTypeAnswer, SDP: answer.SDP}, nil
}

// HandleAnswer applies the remote answer on the offering side.
func (p *Peer) HandleAnswer(answer domain.SDPPayload) error {
	desc := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote candidate. Failures during teardown are
// expected; the caller decides whether to surface them.
func (p *Peer) AddICECandidate(data json.RawMessage) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	var init pion.ICECandidateInit
	if err := json.Unmarshal(data, &init); err != nil {
		return fmt.Errorf("parse ICE candidate: %w", err)
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ICE candidate: %w", err)
	}
	return nil
}

// ToggleAudio flips local audio and returns the new muted state.
// Toggles do not renegotiate the connection.
func (p *Peer) ToggleAudio() bool {
	muted := !p.toggle(pion.RTPCodecTypeAudio)
	p.logger.Debug().Bool("muted", muted).Msg("audio toggled")
	return muted
}

// ToggleVideo flips local video and returns the new disabled state.
func (p *Peer) ToggleVideo() bool {
	disabled := !p.toggle(pion.RTPCodecTypeVideo)
	p.logger.Debug().Bool("disabled", disabled).Msg("video toggled")
	return disabled
}

// toggle detaches or re-attaches every captured track of kind on its
// sender and returns the new enabled state. Without a captured track of
// that kind the state is permanently disabled.
func (p *Peer) toggle(kind pion.RTPCodecType) bool {
	p.mu.Lock()
	senders := p.local.sendersOf(kind)
	if p.closed || len(senders) == 0 {
		p.mu.Unlock()
		return false
	}
	var enabled bool
	if kind == pion.RTPCodecTypeAudio {
		p.audioOn = !p.audioOn
		enabled = p.audioOn
	} else {
		p.videoOn = !p.videoOn
		enabled = p.videoOn
	}
	p.mu.Unlock()

	for _, ts := range senders {
		var track pion.TrackLocal
		if enabled {
			track = ts.track
		}
		if err := ts.sender.ReplaceTrack(track); err != nil {
			p.logger.Error().Err(err).Str("kind", kind.String()).Msg("replace track")
		}
	}
	return enabled
}

func (p *Peer) trackAdded() {
	p.mu.Lock()
	p.remoteTracks++
	p.mu.Unlock()
}

func (p *Peer) trackEnded() {
	p.mu.Lock()
	if p.remoteTracks > 0 {
		p.remoteTracks--
	}
	p.mu.Unlock()
}

// RemoteTracks returns the number of live remote tracks.
func (p *Peer) RemoteTracks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteTracks
}

// Close stops local capture and shuts down the peer connection. Idempotent.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.local.close()
	if err := p.pc.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("close peer connection")
	}
}
