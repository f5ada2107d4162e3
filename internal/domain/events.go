package domain

import "encoding/json"

// Event names emitted by the client.
const (
	EventAuthenticate = "authenticate"
	EventGetRooms     = "getRooms"
	EventJoinRoom     = "joinRoom"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
	EventInitiateCall = "initiateCall"
	EventAcceptCall   = "acceptCall"
	EventRejectCall   = "rejectCall"
	EventEndCall      = "endCall"
	EventSignal       = "signal"
)

// Event names consumed from the relay.
const (
	EventAuthSuccess  = "authSuccess"
	EventAuthError    = "authError"
	EventRooms        = "rooms"
	EventRoomJoined   = "roomJoined"
	EventMessage      = "message"
	EventIncomingCall = "incomingCall"
	EventCallAccepted = "callAccepted"
	EventCallRejected = "callRejected"
	EventCallEnded    = "call-ended"
	EventError        = "error"
)

// Signal payload types exchanged over the signal channel.
const (
	SignalTypeOffer        = "offer"
	SignalTypeAnswer       = "answer"
	SignalTypeICECandidate = "ice-candidate"
)

type AuthPayload struct {
	Token      string `json:"token"`
	SenderType string `json:"senderType"`
}

type AuthSuccessPayload struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

type SendMessagePayload struct {
	Content    string `json:"content"`
	ReceiverID string `json:"receiverId"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

type TypingEventPayload struct {
	IsTyping bool   `json:"isTyping"`
	Username string `json:"username"`
}

type InitiateCallPayload struct {
	RecipientID string `json:"recipientId"`
	RoomID      string `json:"roomId"`
}

type AcceptCallPayload struct {
	CallerID string `json:"callerId"`
	RoomID   string `json:"roomId"`
}

type RejectCallPayload struct {
	CallerID string `json:"callerId"`
	Reason   string `json:"reason"`
}

type EndCallPayload struct {
	RoomID string `json:"roomId"`
}

type IncomingCallPayload struct {
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName"`
	RoomID     string `json:"roomId"`
}

type CallAcceptedPayload struct {
	AcceptedID string `json:"acceptedId"`
	RoomID     string `json:"roomId"`
}

type CallRejectedPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SignalPayload carries offer/answer/ICE data between peers. Data stays
// opaque to the transport; the media engine parses it.
type SignalPayload struct {
	To     string          `json:"to,omitempty"`
	From   string          `json:"from,omitempty"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
	RoomID string          `json:"roomId"`
}

// SDPPayload is the JSON structure for SDP offer/answer signal data.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}
