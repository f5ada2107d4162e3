package domain

import "encoding/json"

// TokenSource yields the access token used for the authenticate handshake.
type TokenSource interface {
	AccessToken() (string, error)
}

// CredentialStore clears persisted credentials when the relay rejects them.
type CredentialStore interface {
	Clear() error
}

// Signaler is the outbound half of the relay connection.
type Signaler interface {
	Connect() error
	SendGetRooms()
	SendJoinRoom(roomID string)
	SendMessage(p SendMessagePayload)
	SendTyping(p TypingPayload)
	SendInitiateCall(p InitiateCallPayload)
	SendAcceptCall(p AcceptCallPayload)
	SendRejectCall(p RejectCallPayload)
	SendEndCall(p EndCallPayload)
	SendSignal(p SignalPayload)
	Close()
}

// Handler receives inbound relay events.
type Handler interface {
	OnAuthSuccess(p AuthSuccessPayload)
	OnAuthError(p ErrorPayload)
	OnRooms(rooms []Room)
	OnRoomJoined(room Room)
	OnMessage(m Message)
	OnSignal(p SignalPayload)
	OnIncomingCall(p IncomingCallPayload)
	OnCallAccepted(p CallAcceptedPayload)
	OnCallRejected(p CallRejectedPayload)
	OnCallEnded()
	OnTyping(p TypingEventPayload)
	OnError(p ErrorPayload)
}

// MediaPeer manages one peer connection for the lifetime of one call.
type MediaPeer interface {
	CreateOffer() (SDPPayload, error)
	HandleOffer(offer SDPPayload) (SDPPayload, error)
	HandleAnswer(answer SDPPayload) error
	AddICECandidate(data json.RawMessage) error
	ToggleAudio() bool
	ToggleVideo() bool
	Close()
}

// MediaEngine builds peer connections. NewPeer acquires local media
// (audio-only or audio+video) before returning; onCandidate fires for each
// locally discovered ICE candidate.
type MediaEngine interface {
	NewPeer(withVideo bool, onCandidate func(data json.RawMessage)) (MediaPeer, error)
}

// Events is the user-facing notification surface.
type Events interface {
	RoomsUpdated(rooms []Room)
	RoomJoined(room Room)
	MessageReceived(m Message)
	TypingChanged(isTyping bool, username string)
	CallStateChanged(state CallState)
	CallIncoming(p IncomingCallPayload)
	Alert(msg string)
	SessionExpired()
}
