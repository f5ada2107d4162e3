package session

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/re-trade/chatlink/internal/domain"
)

func startCall(t *testing.T, sess *Session) {
	t.Helper()
	sess.OnRoomJoined(sellerCustomerRoom("R1"))
	if err := sess.StartCall(true); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
}

// connectCaller drives the caller side to connected with a live peer.
func connectCaller(t *testing.T, sess *Session) {
	t.Helper()
	startCall(t, sess)
	sess.OnCallAccepted(domain.CallAcceptedPayload{AcceptedID: "C1", RoomID: "R1"})
	waitFor(t, sess.HasPeer, "peer connection")
}

func offerSignal(t *testing.T, from string) domain.SignalPayload {
	t.Helper()
	data, err := json.Marshal(domain.SDPPayload{Type: "offer", SDP: "v=0\r\nremote"})
	if err != nil {
		t.Fatal(err)
	}
	return domain.SignalPayload{From: from, Type: domain.SignalTypeOffer, Data: data, RoomID: "R1"}
}

// ── outgoing calls ──────────────────────────────────────────────────────

func TestStartCall_InitiatesToCounterpart(t *testing.T) {
	sess, sig, _, _, _ := newTestSession(t)

	startCall(t, sess)

	if got := sess.CallState(); got != domain.CallStateCalling {
		t.Errorf("expected calling, got %s", got)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.initiates) != 1 {
		t.Fatalf("expected 1 initiateCall, got %d", len(sig.initiates))
	}
	if p := sig.initiates[0]; p.RecipientID != "C1" || p.RoomID != "R1" {
		t.Errorf("unexpected payload %+v", p)
	}
}

func TestStartCall_RequiresRoomAndCounterpart(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)

	if err := sess.StartCall(true); !errors.Is(err, ErrNoRoomSelected) {
		t.Errorf("expected ErrNoRoomSelected, got %v", err)
	}

	sess.OnRoomJoined(domain.Room{
		ID:           "R1",
		Participants: []domain.Participant{{ID: "S1", Role: "seller"}},
	})
	if err := sess.StartCall(true); !errors.Is(err, ErrNoCounterpart) {
		t.Errorf("expected ErrNoCounterpart, got %v", err)
	}
}

func TestStartCall_BusyRejectsSecondCall(t *testing.T) {
	sess, sig, _, _, _ := newTestSession(t)
	startCall(t, sess)

	if err := sess.StartCall(false); !errors.Is(err, ErrCallInProgress) {
		t.Errorf("expected ErrCallInProgress, got %v", err)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.initiates) != 1 {
		t.Errorf("second call must not emit initiateCall, got %d", len(sig.initiates))
	}
}

func TestStartCall_AllowedAgainAfterEnded(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)
	startCall(t, sess)
	sess.EndCall()

	if err := sess.StartCall(true); err != nil {
		t.Errorf("expected new call after ended, got %v", err)
	}
	if got := sess.CallState(); got != domain.CallStateCalling {
		t.Errorf("expected calling, got %s", got)
	}
}

func TestCallAccepted_SendsOfferToAccepter(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)

	connectCaller(t, sess)

	waitFor(t, func() bool { return len(sig.signalsOfType(domain.SignalTypeOffer)) == 1 }, "offer signal")
	offer := sig.signalsOfType(domain.SignalTypeOffer)[0]
	if offer.To != "C1" || offer.RoomID != "R1" {
		t.Errorf("unexpected routing %+v", offer)
	}
	var sdp domain.SDPPayload
	if err := json.Unmarshal(offer.Data, &sdp); err != nil || sdp.Type != "offer" {
		t.Errorf("bad offer data: %v %+v", err, sdp)
	}

	engine.mu.Lock()
	defer engine.mu.Unlock()
	if !engine.lastVideo {
		t.Error("expected peer created with video")
	}
	if got := sess.CallState(); got != domain.CallStateConnected {
		t.Errorf("expected connected, got %s", got)
	}
}

func TestCallAccepted_FallsBackToPinnedRemote(t *testing.T) {
	sess, sig, _, _, _ := newTestSession(t)
	startCall(t, sess)

	// Switching rooms mid-call must not redirect signaling.
	r2 := domain.Room{
		ID: "R2",
		Participants: []domain.Participant{
			{ID: "S1", Role: "seller"},
			{ID: "C9", Role: "customer"},
		},
	}
	sess.OnRoomJoined(r2)

	sess.OnCallAccepted(domain.CallAcceptedPayload{})

	waitFor(t, func() bool { return len(sig.signalsOfType(domain.SignalTypeOffer)) == 1 }, "offer signal")
	offer := sig.signalsOfType(domain.SignalTypeOffer)[0]
	if offer.To != "C1" || offer.RoomID != "R1" {
		t.Errorf("expected pinned routing to C1/R1, got %+v", offer)
	}
}

func TestCallAccepted_IgnoredOutsideCalling(t *testing.T) {
	sess, sig, _, _, _ := newTestSession(t)

	sess.OnCallAccepted(domain.CallAcceptedPayload{AcceptedID: "C1"})

	if got := sess.CallState(); got != domain.CallStateIdle {
		t.Errorf("expected idle, got %s", got)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.signals) != 0 {
		t.Errorf("expected no signals, got %v", sig.signals)
	}
}

func TestCallRejected_EndsWithAlert(t *testing.T) {
	sess, _, engine, events, _ := newTestSession(t)
	startCall(t, sess)

	sess.OnCallRejected(domain.CallRejectedPayload{Reason: "busy right now"})

	if got := sess.CallState(); got != domain.CallStateEnded {
		t.Errorf("expected ended, got %s", got)
	}
	if sess.HasPeer() {
		t.Error("expected no peer connection")
	}
	if engine.peerCount() != 0 {
		t.Errorf("no media should have been acquired, got %d peers", engine.peerCount())
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.alerts) != 1 || events.alerts[0] != "busy right now" {
		t.Errorf("unexpected alerts %v", events.alerts)
	}
}

func TestMediaFailure_AbortsCall(t *testing.T) {
	sess, sig, engine, events, _ := newTestSession(t)
	engine.err = errors.New("no capture device")

	startCall(t, sess)
	sess.OnCallAccepted(domain.CallAcceptedPayload{AcceptedID: "C1", RoomID: "R1"})

	waitFor(t, func() bool { return events.alertCount() == 1 }, "abort alert")
	if got := sess.CallState(); got != domain.CallStateIdle {
		t.Errorf("expected idle after media failure, got %s", got)
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.signals) != 0 {
		t.Errorf("expected no signals after failed setup, got %v", sig.signals)
	}
}

// ── incoming calls ──────────────────────────────────────────────────────

func TestIncomingCall_Rings(t *testing.T) {
	sess, _, _, events, _ := newTestSession(t)

	sess.OnIncomingCall(domain.IncomingCallPayload{CallerID: "C1", CallerName: "Ann", RoomID: "R1"})

	if got := sess.CallState(); got != domain.CallStateRinging {
		t.Errorf("expected ringing, got %s", got)
	}
	inc, ok := sess.IncomingCall()
	if !ok || inc.CallerID != "C1" || inc.RoomID != "R1" {
		t.Errorf("unexpected incoming record %+v ok=%v", inc, ok)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.incoming) != 1 {
		t.Errorf("expected CallIncoming event, got %d", len(events.incoming))
	}
}

func TestIncomingCall_IgnoredWhileBusy(t *testing.T) {
	sess, _, _, events, _ := newTestSession(t)
	startCall(t, sess)

	sess.OnIncomingCall(domain.IncomingCallPayload{CallerID: "C2", RoomID: "R9"})

	if got := sess.CallState(); got != domain.CallStateCalling {
		t.Errorf("expected calling preserved, got %s", got)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.incoming) != 0 {
		t.Errorf("expected no CallIncoming while busy, got %d", len(events.incoming))
	}
}

func TestAcceptCall_EmitsAndConnects(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	sess.OnIncomingCall(domain.IncomingCallPayload{CallerID: "C1", RoomID: "R1"})

	if err := sess.AcceptCall(); err != nil {
		t.Fatalf("AcceptCall: %v", err)
	}

	sig.mu.Lock()
	if len(sig.accepts) != 1 || sig.accepts[0].CallerID != "C1" || sig.accepts[0].RoomID != "R1" {
		t.Errorf("unexpected acceptCall %v", sig.accepts)
	}
	sig.mu.Unlock()

	if got := sess.CallState(); got != domain.CallStateConnected {
		t.Errorf("expected connected, got %s", got)
	}
	// Media is acquired only when the caller's offer arrives.
	if engine.peerCount() != 0 {
		t.Errorf("expected no media yet, got %d peers", engine.peerCount())
	}
}

func TestAcceptCall_RequiresRinging(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)

	if err := sess.AcceptCall(); !errors.Is(err, ErrNoCallToAnswer) {
		t.Errorf("expected ErrNoCallToAnswer, got %v", err)
	}
}

func TestRejectCall_ReturnsToIdle(t *testing.T) {
	sess, sig, _, _, _ := newTestSession(t)
	sess.OnIncomingCall(domain.IncomingCallPayload{CallerID: "C1", RoomID: "R1"})

	if err := sess.RejectCall("busy"); err != nil {
		t.Fatalf("RejectCall: %v", err)
	}

	sig.mu.Lock()
	if len(sig.rejects) != 1 || sig.rejects[0].CallerID != "C1" || sig.rejects[0].Reason != "busy" {
		t.Errorf("unexpected rejectCall %v", sig.rejects)
	}
	sig.mu.Unlock()

	if got := sess.CallState(); got != domain.CallStateIdle {
		t.Errorf("expected idle, got %s", got)
	}
	if _, ok := sess.IncomingCall(); ok {
		t.Error("expected incoming record cleared")
	}
}

func TestOffer_AcquiresMediaAndAnswers(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	sess.OnIncomingCall(domain.IncomingCallPayload{CallerID: "C1", RoomID: "R1"})
	if err := sess.AcceptCall(); err != nil {
		t.Fatal(err)
	}

	sess.OnSignal(offerSignal(t, "C1"))

	waitFor(t, func() bool { return len(sig.signalsOfType(domain.SignalTypeAnswer)) == 1 }, "answer signal")
	answer := sig.signalsOfType(domain.SignalTypeAnswer)[0]
	if answer.To != "C1" || answer.RoomID != "R1" {
		t.Errorf("unexpected routing %+v", answer)
	}
	if engine.peerCount() != 1 {
		t.Fatalf("expected media acquired once, got %d", engine.peerCount())
	}
	peer := engine.peer(0)
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if len(peer.handledOffers) != 1 || peer.handledOffers[0].SDP != "v=0\r\nremote" {
		t.Errorf("unexpected handled offers %v", peer.handledOffers)
	}
}

func TestOffer_OutsideCallDropped(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)

	sess.OnSignal(offerSignal(t, "C1"))

	if engine.peerCount() != 0 {
		t.Errorf("expected no media, got %d peers", engine.peerCount())
	}
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.signals) != 0 {
		t.Errorf("expected no answer, got %v", sig.signals)
	}
}

// ── signal routing with a live peer ─────────────────────────────────────

func TestAnswerAndCandidates_ReachPeer(t *testing.T) {
	sess, _, engine, _, _ := newTestSession(t)
	connectCaller(t, sess)
	peer := engine.peer(0)

	answerData, _ := json.Marshal(domain.SDPPayload{Type: "answer", SDP: "v=0\r\nremote-answer"})
	sess.OnSignal(domain.SignalPayload{Type: domain.SignalTypeAnswer, Data: answerData})
	sess.OnSignal(domain.SignalPayload{Type: domain.SignalTypeICECandidate, Data: json.RawMessage(`{"candidate":"c0"}`)})

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if len(peer.handledAnswers) != 1 || peer.handledAnswers[0].SDP != "v=0\r\nremote-answer" {
		t.Errorf("unexpected answers %v", peer.handledAnswers)
	}
	if len(peer.candidates) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(peer.candidates))
	}
}

func TestLateSignals_WithoutPeerDropped(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)

	answerData, _ := json.Marshal(domain.SDPPayload{Type: "answer", SDP: "v=0"})
	sess.OnSignal(domain.SignalPayload{Type: domain.SignalTypeAnswer, Data: answerData})
	sess.OnSignal(domain.SignalPayload{Type: domain.SignalTypeICECandidate, Data: json.RawMessage(`{}`)})
	// Nothing to assert beyond no panic; both are silent drops.
}

func TestLocalCandidates_RoutedToPinnedParty(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	connectCaller(t, sess)

	engine.mu.Lock()
	send := engine.onCandidate
	engine.mu.Unlock()
	send(json.RawMessage(`{"candidate":"local-0"}`))

	ice := sig.signalsOfType(domain.SignalTypeICECandidate)
	if len(ice) != 1 || ice[0].To != "C1" || ice[0].RoomID != "R1" {
		t.Errorf("unexpected candidate routing %v", ice)
	}
}

// ── teardown ────────────────────────────────────────────────────────────

func TestEndCall_TearsDownEverything(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	connectCaller(t, sess)
	peer := engine.peer(0)

	sess.EndCall()

	if got := sess.CallState(); got != domain.CallStateEnded {
		t.Errorf("expected ended, got %s", got)
	}
	if sess.HasPeer() {
		t.Error("expected peer reference cleared")
	}
	waitFor(t, peer.isClosed, "peer close")
	sig.mu.Lock()
	defer sig.mu.Unlock()
	if len(sig.ends) != 1 || sig.ends[0].RoomID != "R1" {
		t.Errorf("unexpected endCall %v", sig.ends)
	}
}

func TestEndCall_IdleIsNoOp(t *testing.T) {
	sess, sig, _, events, _ := newTestSession(t)

	sess.EndCall()

	if got := sess.CallState(); got != domain.CallStateIdle {
		t.Errorf("hanging up without a call must stay idle, got %s", got)
	}
	sig.mu.Lock()
	if len(sig.ends) != 0 {
		t.Errorf("expected no endCall without a call, got %v", sig.ends)
	}
	sig.mu.Unlock()
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.states) != 0 {
		t.Errorf("expected no call state events, got %v", events.states)
	}
}

func TestRemoteEnd_TearsDown(t *testing.T) {
	sess, _, engine, _, _ := newTestSession(t)
	connectCaller(t, sess)
	peer := engine.peer(0)

	sess.OnCallEnded()

	if got := sess.CallState(); got != domain.CallStateEnded {
		t.Errorf("expected ended, got %s", got)
	}
	if sess.HasPeer() {
		t.Error("expected peer reference cleared")
	}
	waitFor(t, peer.isClosed, "peer close")
}

func TestErrorEvent_ResetsCallMachine(t *testing.T) {
	sess, _, _, events, _ := newTestSession(t)
	startCall(t, sess)

	sess.OnError(domain.ErrorPayload{Code: domain.ErrCodeUserOffline})

	if got := sess.CallState(); got != domain.CallStateIdle {
		t.Errorf("expected idle, got %s", got)
	}
	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.alerts) != 1 || events.alerts[0] != "the other party is offline" {
		t.Errorf("unexpected alerts %v", events.alerts)
	}
}

func TestAlertForCode(t *testing.T) {
	cases := []struct {
		payload domain.ErrorPayload
		want    string
	}{
		{domain.ErrorPayload{Code: domain.ErrCodeUserOffline}, "the other party is offline"},
		{domain.ErrorPayload{Code: domain.ErrCodeCallInProgress}, "the other party is already in a call"},
		{domain.ErrorPayload{Code: domain.ErrCodeAuth}, "authentication error, please sign in again"},
		{domain.ErrorPayload{Code: "WEIRD", Message: "server hiccup"}, "server hiccup"},
		{domain.ErrorPayload{Code: "WEIRD"}, "something went wrong"},
	}
	for _, c := range cases {
		if got := alertForCode(c.payload); got != c.want {
			t.Errorf("alertForCode(%+v) = %q, want %q", c.payload, got, c.want)
		}
	}
}

// Media acquisition that finishes after the call ended must not leak the
// peer or emit a stale offer.
func TestStaleMediaAcquisition_Discarded(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	gate := make(chan struct{})
	engine.gate = gate

	startCall(t, sess)
	sess.OnCallAccepted(domain.CallAcceptedPayload{AcceptedID: "C1", RoomID: "R1"})

	// End the call while NewPeer is still blocked.
	sess.EndCall()
	close(gate)

	waitFor(t, func() bool {
		return engine.peerCount() == 1 && engine.peer(0).isClosed()
	}, "stale peer close")

	if sess.HasPeer() {
		t.Error("stale peer must not be installed")
	}
	if got := len(sig.signalsOfType(domain.SignalTypeOffer)); got != 0 {
		t.Errorf("stale offer must not be emitted, got %d", got)
	}
}

func TestStaleCandidates_Dropped(t *testing.T) {
	sess, sig, engine, _, _ := newTestSession(t)
	connectCaller(t, sess)

	engine.mu.Lock()
	send := engine.onCandidate
	engine.mu.Unlock()

	sess.EndCall()
	send(json.RawMessage(`{"candidate":"late"}`))

	if got := len(sig.signalsOfType(domain.SignalTypeICECandidate)); got != 0 {
		t.Errorf("expected late candidate dropped, got %d", got)
	}
}

// ── toggles ─────────────────────────────────────────────────────────────

func TestToggles_NoPeer(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)

	if sess.ToggleAudio() || sess.ToggleVideo() {
		t.Error("toggles without a peer must report false")
	}
}

func TestToggles_DelegateToPeer(t *testing.T) {
	sess, _, _, _, _ := newTestSession(t)
	connectCaller(t, sess)

	if !sess.ToggleAudio() {
		t.Error("expected muted=true after first audio toggle")
	}
	if !sess.ToggleVideo() {
		t.Error("expected disabled=true after first video toggle")
	}
	if sess.ToggleAudio() {
		t.Error("expected muted=false after second audio toggle")
	}
}
