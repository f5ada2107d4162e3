package session

import (
	"encoding/json"

	"github.com/re-trade/chatlink/internal/domain"
)

// The remote party id and room id are pinned into the session when a call
// is set up (initiate or incomingCall) and used for all later signaling,
// so switching rooms mid-call cannot misroute offer/answer/ICE.

// StartCall initiates a call to the counterpart of the active room.
// Only one call session may exist at a time.
func (s *Session) StartCall(withVideo bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState.Active() {
		return ErrCallInProgress
	}
	if s.active == nil {
		return ErrNoRoomSelected
	}
	cp, ok := s.active.Counterpart(s.role)
	if !ok {
		return ErrNoCounterpart
	}

	s.attempt++
	s.withVideo = withVideo
	s.remoteID = cp.ID
	s.callRoomID = s.active.ID
	s.setCallStateLocked(domain.CallStateCalling)

	s.sig.SendInitiateCall(domain.InitiateCallPayload{
		RecipientID: cp.ID,
		RoomID:      s.active.ID,
	})
	return nil
}

func (s *Session) OnIncomingCall(p domain.IncomingCallPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState.Active() {
		s.logger.Debug().Str("caller", p.CallerID).Msg("busy, ignoring incoming call")
		return
	}

	s.attempt++
	inc := p
	s.incoming = &inc
	s.remoteID = p.CallerID
	s.callRoomID = p.RoomID
	// The event does not carry the call type; capture full media on answer
	// and let SDP negotiation constrain it.
	s.withVideo = true
	s.setCallStateLocked(domain.CallStateRinging)
	s.events.CallIncoming(p)
}

// AcceptCall answers the ringing call. Local media is acquired lazily when
// the caller's offer arrives.
func (s *Session) AcceptCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState != domain.CallStateRinging || s.incoming == nil {
		return ErrNoCallToAnswer
	}

	s.sig.SendAcceptCall(domain.AcceptCallPayload{
		CallerID: s.incoming.CallerID,
		RoomID:   s.incoming.RoomID,
	})
	s.setCallStateLocked(domain.CallStateConnected)
	return nil
}

// RejectCall declines the ringing call with a reason.
func (s *Session) RejectCall(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState != domain.CallStateRinging || s.incoming == nil {
		return ErrNoCallToAnswer
	}

	s.sig.SendRejectCall(domain.RejectCallPayload{
		CallerID: s.incoming.CallerID,
		Reason:   reason,
	})
	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateIdle)
	return nil
}

// EndCall terminates the call from any state, tearing down the peer
// connection and all media regardless of which negotiation step was in
// flight.
func (s *Session) EndCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// No call was ever set up; hanging up must not fabricate a state
	// transition.
	if s.callState == domain.CallStateIdle && s.callRoomID == "" {
		return
	}

	if s.callRoomID != "" {
		s.sig.SendEndCall(domain.EndCallPayload{RoomID: s.callRoomID})
	}
	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateEnded)
}

func (s *Session) OnCallAccepted(p domain.CallAcceptedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState != domain.CallStateCalling {
		s.logger.Debug().Str("state", string(s.callState)).Msg("ignoring callAccepted")
		return
	}

	s.setCallStateLocked(domain.CallStateConnected)

	to := p.AcceptedID
	if to == "" {
		to = s.remoteID
	}
	go s.sendOffer(s.attempt, to, s.callRoomID, s.withVideo)
}

func (s *Session) OnCallRejected(p domain.CallRejectedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.callState != domain.CallStateCalling {
		s.logger.Debug().Str("state", string(s.callState)).Msg("ignoring callRejected")
		return
	}

	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateEnded)

	reason := p.Reason
	if reason == "" {
		reason = "call rejected"
	}
	s.events.Alert(reason)
}

func (s *Session) OnCallEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateEnded)
}

func (s *Session) OnError(p domain.ErrorPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Warn().Str("code", p.Code).Str("msg", p.Message).Msg("relay error")

	// Any structured error resets the call machine and releases media.
	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateIdle)
	s.events.Alert(alertForCode(p))
}

func alertForCode(p domain.ErrorPayload) string {
	switch p.Code {
	case domain.ErrCodeUserOffline:
		return "the other party is offline"
	case domain.ErrCodeCallInProgress:
		return "the other party is already in a call"
	case domain.ErrCodeAuth:
		return "authentication error, please sign in again"
	default:
		if p.Message != "" {
			return p.Message
		}
		return "something went wrong"
	}
}

// ToggleAudio flips local audio; returns the new muted state.
func (s *Session) ToggleAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return false
	}
	return s.peer.ToggleAudio()
}

// ToggleVideo flips local video; returns the new disabled state.
func (s *Session) ToggleVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == nil {
		return false
	}
	return s.peer.ToggleVideo()
}

// CallState returns the current call session state.
func (s *Session) CallState() domain.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callState
}

// IncomingCall returns the pending incoming call record, if ringing.
func (s *Session) IncomingCall() (domain.IncomingCallPayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.incoming == nil {
		return domain.IncomingCallPayload{}, false
	}
	return *s.incoming, true
}

// HasPeer reports whether a peer connection currently exists.
func (s *Session) HasPeer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

// ── signaling ───────────────────────────────────────────────────────────

func (s *Session) OnSignal(p domain.SignalPayload) {
	switch p.Type {
	case domain.SignalTypeOffer:
		s.handleOffer(p)
	case domain.SignalTypeAnswer:
		s.handleAnswer(p)
	case domain.SignalTypeICECandidate:
		s.handleCandidate(p)
	default:
		s.logger.Debug().Str("type", p.Type).Msg("unknown signal type")
	}
}

// handleOffer runs answer-side negotiation: acquire local media if this
// session has none yet, apply the offer and send back the answer.
func (s *Session) handleOffer(p domain.SignalPayload) {
	s.mu.Lock()
	if !s.callState.Active() {
		s.mu.Unlock()
		s.logger.Debug().Msg("offer outside call, dropped")
		return
	}
	token := s.attempt
	withVideo := s.withVideo
	to := p.From
	if to == "" {
		to = s.remoteID
	}
	roomID := s.callRoomID
	peer := s.peer
	s.mu.Unlock()

	var offer domain.SDPPayload
	if err := json.Unmarshal(p.Data, &offer); err != nil {
		s.logger.Error().Err(err).Msg("parse offer")
		return
	}

	go func() {
		if peer == nil {
			np, err := s.media.NewPeer(withVideo, s.candidateSender(token))
			if err != nil {
				s.abortCall(token, "could not start camera or microphone")
				return
			}
			s.mu.Lock()
			if token != s.attempt {
				// Call ended while media was being acquired.
				s.mu.Unlock()
				np.Close()
				return
			}
			s.peer = np
			s.mu.Unlock()
			peer = np
		}

		answer, err := peer.HandleOffer(offer)
		if err != nil {
			s.logger.Error().Err(err).Msg("handle offer")
			return
		}

		data, err := json.Marshal(answer)
		if err != nil {
			s.logger.Error().Err(err).Msg("marshal answer")
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if token != s.attempt {
			return
		}
		s.sig.SendSignal(domain.SignalPayload{
			To:     to,
			Type:   domain.SignalTypeAnswer,
			Data:   data,
			RoomID: roomID,
		})
	}()
}

// handleAnswer applies the remote answer on the offering side.
func (s *Session) handleAnswer(p domain.SignalPayload) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		s.logger.Debug().Msg("answer without peer connection, dropped")
		return
	}

	var answer domain.SDPPayload
	if err := json.Unmarshal(p.Data, &answer); err != nil {
		s.logger.Error().Err(err).Msg("parse answer")
		return
	}
	if err := peer.HandleAnswer(answer); err != nil {
		// Teardown races are expected; not surfaced.
		s.logger.Debug().Err(err).Msg("handle answer")
	}
}

// handleCandidate adds a remote ICE candidate. Late candidates racing
// teardown are swallowed.
func (s *Session) handleCandidate(p domain.SignalPayload) {
	s.mu.Lock()
	peer := s.peer
	s.mu.Unlock()

	if peer == nil {
		return
	}
	if err := peer.AddICECandidate(p.Data); err != nil {
		s.logger.Debug().Err(err).Msg("add ICE candidate")
	}
}

// sendOffer runs caller-side negotiation after the remote party accepted:
// acquire local media, create the offer and emit it. token guards every
// continuation — a call torn down mid-acquisition discards the result.
func (s *Session) sendOffer(token uint64, to, roomID string, withVideo bool) {
	peer, err := s.media.NewPeer(withVideo, s.candidateSender(token))
	if err != nil {
		s.abortCall(token, "could not start camera or microphone")
		return
	}

	s.mu.Lock()
	if token != s.attempt {
		s.mu.Unlock()
		peer.Close()
		return
	}
	s.peer = peer
	s.mu.Unlock()

	offer, err := peer.CreateOffer()
	if err != nil {
		s.logger.Error().Err(err).Msg("create offer")
		s.abortCall(token, "call setup failed")
		return
	}

	data, err := json.Marshal(offer)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal offer")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.attempt {
		return
	}
	s.sig.SendSignal(domain.SignalPayload{
		To:     to,
		Type:   domain.SignalTypeOffer,
		Data:   data,
		RoomID: roomID,
	})
}

// candidateSender emits locally discovered ICE candidates for the call
// attempt identified by token; candidates from stale attempts are dropped.
func (s *Session) candidateSender(token uint64) func(data json.RawMessage) {
	return func(data json.RawMessage) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if token != s.attempt {
			return
		}
		s.sig.SendSignal(domain.SignalPayload{
			To:     s.remoteID,
			Type:   domain.SignalTypeICECandidate,
			Data:   data,
			RoomID: s.callRoomID,
		})
	}
}

// abortCall resets the call machine after a local failure, unless the
// attempt already ended.
func (s *Session) abortCall(token uint64, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.attempt {
		return
	}
	s.teardownLocked()
	s.setCallStateLocked(domain.CallStateIdle)
	s.events.Alert(msg)
}

func (s *Session) setCallStateLocked(state domain.CallState) {
	if s.callState == state {
		return
	}
	s.callState = state
	s.logger.Debug().Str("state", string(state)).Msg("call state")
	s.events.CallStateChanged(state)
}

// teardownLocked releases all call resources and invalidates in-flight
// async continuations. The peer is closed off the lock path; the reference
// is cleared immediately.
func (s *Session) teardownLocked() {
	s.attempt++
	if s.peer != nil {
		p := s.peer
		s.peer = nil
		go p.Close()
	}
	s.incoming = nil
	s.withVideo = false
	s.remoteID = ""
	s.callRoomID = ""
}
