package domain

// CallState is the lifecycle state of a call session.
// Keep values stable — they surface in logs and the UI.
type CallState string

const (
	CallStateIdle      CallState = "idle"
	CallStateCalling   CallState = "calling"   // local party initiated, awaiting remote accept/reject
	CallStateRinging   CallState = "ringing"   // remote party calling, awaiting local accept/reject
	CallStateConnected CallState = "connected" // media flowing
	CallStateEnded     CallState = "ended"     // terminal, idle semantics on next interaction
)

// Active reports whether the state allows starting or receiving a new call.
func (s CallState) Active() bool {
	return s == CallStateCalling || s == CallStateRinging || s == CallStateConnected
}

// Relay error codes carried by inbound error events.
const (
	ErrCodeUserOffline    = "USER_OFFLINE"
	ErrCodeCallInProgress = "CALL_IN_PROGRESS"
	ErrCodeAuth           = "AUTH_ERROR"
)
