// Package session coordinates the room directory, message stream, typing
// notifications and the call state machine over one relay connection.
//
// A Session is an explicit object with its own lifecycle — there is no
// shared global connection, so multiple sessions (and tests) do not
// interfere.
package session

import (
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/re-trade/chatlink/internal/domain"
)

var (
	ErrCallInProgress = errors.New("a call is already in progress")
	ErrNoCallToAnswer = errors.New("no incoming call to answer")
	ErrNoRoomSelected = errors.New("no room selected")
	ErrNoCounterpart  = errors.New("no contact in the selected room")
)

// Session implements domain.Handler. All state is guarded by one mutex;
// relay events, media callbacks and user actions may arrive on any
// goroutine.
type Session struct {
	logger zerolog.Logger
	media  domain.MediaEngine
	creds  domain.CredentialStore
	events domain.Events
	role   string

	mu  sync.Mutex
	sig domain.Signaler

	authenticated bool
	localID       string

	rooms        []domain.Room
	active       *domain.Room
	targetRoomID string
	messages     []domain.Message

	callState  domain.CallState
	attempt    uint64
	withVideo  bool
	incoming   *domain.IncomingCallPayload
	remoteID   string
	callRoomID string
	peer       domain.MediaPeer
}

// New creates a session for the given local role. Call SetSignaler before
// connecting the relay (the relay needs the session as its handler, the
// session needs the relay to emit — same circular dependency as the
// transport/coordinator split).
func New(role string, media domain.MediaEngine, creds domain.CredentialStore, events domain.Events, logger *zerolog.Logger) *Session {
	return &Session{
		logger:    logger.With().Str("component", "session").Logger(),
		media:     media,
		creds:     creds,
		events:    events,
		role:      role,
		callState: domain.CallStateIdle,
	}
}

// SetSignaler injects the relay connection after construction.
func (s *Session) SetSignaler(sig domain.Signaler) {
	s.mu.Lock()
	s.sig = sig
	s.mu.Unlock()
}

// Close ends any active call and releases media resources.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.callState.Active() && s.callRoomID != "" {
		s.sig.SendEndCall(domain.EndCallPayload{RoomID: s.callRoomID})
	}
	s.teardownLocked()
	s.callState = domain.CallStateEnded
}

// ── auth ────────────────────────────────────────────────────────────────

func (s *Session) OnAuthSuccess(p domain.AuthSuccessPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authenticated = true
	s.localID = p.ID
	s.logger.Info().Str("id", p.ID).Msg("authenticated")

	s.sig.SendGetRooms()

	// A room selected before authentication completed was deferred, not
	// dropped — join it now.
	if s.targetRoomID != "" {
		s.sig.SendJoinRoom(s.targetRoomID)
	}
}

func (s *Session) OnAuthError(p domain.ErrorPayload) {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()

	s.logger.Error().Str("code", p.Code).Str("msg", p.Message).Msg("authentication failed")
	if err := s.creds.Clear(); err != nil {
		s.logger.Error().Err(err).Msg("clear credentials")
	}
	s.events.SessionExpired()
}

// Authenticated reports whether the relay accepted the handshake.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// LocalID returns the participant id assigned by the relay.
func (s *Session) LocalID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localID
}

// ── rooms and messages ──────────────────────────────────────────────────

// SelectRoom marks roomID as the join target. The join request is emitted
// once the session is authenticated; selecting earlier defers it.
func (s *Session) SelectRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.targetRoomID = roomID
	if s.authenticated && roomID != "" {
		s.sig.SendJoinRoom(roomID)
	}
}

func (s *Session) OnRooms(rooms []domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The relay response replaces the whole directory; empty is valid.
	s.rooms = make([]domain.Room, len(rooms))
	copy(s.rooms, rooms)

	if s.active != nil {
		for i := range s.rooms {
			if s.rooms[i].ID == s.active.ID {
				s.active = &s.rooms[i]
				break
			}
		}
	}

	s.events.RoomsUpdated(s.snapshotRoomsLocked())
}

func (s *Session) OnRoomJoined(room domain.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := room
	s.active = &r

	// The joined room's history is authoritative — replace, never merge.
	s.messages = make([]domain.Message, len(room.Messages))
	copy(s.messages, room.Messages)

	s.events.RoomJoined(room)
}

func (s *Session) OnMessage(m domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Receipt order, no resequencing or deduplication.
	s.messages = append(s.messages, m)
	s.events.MessageReceived(m)
}

// SendMessage sends content to the other participant of the active room.
// Empty content, no active room or no resolvable counterpart are silent
// no-ops.
func (s *Session) SendMessage(content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}
	cp, ok := s.active.Counterpart(s.role)
	if !ok {
		return
	}
	s.sig.SendMessage(domain.SendMessagePayload{Content: content, ReceiverID: cp.ID})
}

// SetTyping notifies the counterpart of local typing state. No-op without
// an active room or counterpart.
func (s *Session) SetTyping(isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}
	cp, ok := s.active.Counterpart(s.role)
	if !ok {
		return
	}
	s.sig.SendTyping(domain.TypingPayload{ReceiverID: cp.ID, IsTyping: isTyping})
}

func (s *Session) OnTyping(p domain.TypingEventPayload) {
	s.events.TypingChanged(p.IsTyping, p.Username)
}

// Rooms returns a snapshot of the room directory.
func (s *Session) Rooms() []domain.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotRoomsLocked()
}

func (s *Session) snapshotRoomsLocked() []domain.Room {
	out := make([]domain.Room, len(s.rooms))
	copy(out, s.rooms)
	return out
}

// ActiveRoom returns a snapshot of the joined room, if any.
func (s *Session) ActiveRoom() (domain.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return domain.Room{}, false
	}
	return *s.active, true
}

// Messages returns a snapshot of the active message list.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}
