// Package relay implements the client side of the re-trade realtime relay:
// one authenticated bidirectional event channel per session.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/re-trade/chatlink/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 256 * 1024
)

// ErrNotConnected is returned when an emit is attempted before Connect.
var ErrNotConnected = errors.New("relay: not connected")

// envelope is the wire frame for every relay event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client manages the WebSocket connection to the relay server.
// It authenticates on connect and dispatches inbound events to the handler.
type Client struct {
	serverURL string
	role      string
	tokens    domain.TokenSource
	handler   domain.Handler
	logger    zerolog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

// NewClient creates a relay client. Nothing is dialed until Connect.
func NewClient(serverURL, role string, tokens domain.TokenSource, handler domain.Handler, logger *zerolog.Logger) *Client {
	return &Client{
		serverURL: serverURL,
		role:      role,
		tokens:    tokens,
		handler:   handler,
		logger:    logger.With().Str("component", "relay").Logger(),
		closed:    make(chan struct{}),
	}
}

// Connect dials the relay, emits the authenticate event and starts the
// read and ping loops. A missing token fails the connect; the caller owns
// the login boundary.
func (c *Client) Connect() error {
	token, err := c.tokens.AccessToken()
	if err != nil {
		return fmt.Errorf("access token: %w", err)
	}

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("parse relay url: %w", err)
	}

	header := http.Header{}
	header.Set("X-Client-Session", uuid.NewString())

	c.logger.Debug().Str("url", u.String()).Msg("connecting")

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.emit(domain.EventAuthenticate, domain.AuthPayload{
		Token:      token,
		SenderType: c.role,
	})

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// Close shuts down the connection. Idempotent.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.closed)
	})
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
}

func (c *Client) emit(event string, payload any) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error().Err(err).Str("event", event).Msg("marshal payload")
			return
		}
		data = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.logger.Warn().Str("event", event).Err(ErrNotConnected).Msg("emit dropped")
		return
	}

	c.logger.Debug().Str("event", event).RawJSON("data", orNull(data)).Msg("emit")

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(envelope{Event: event, Data: data}); err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("write")
	}
}

func orNull(data json.RawMessage) []byte {
	if len(data) == 0 {
		return []byte("null")
	}
	return data
}

func (c *Client) SendGetRooms() {
	c.emit(domain.EventGetRooms, nil)
}

func (c *Client) SendJoinRoom(roomID string) {
	c.emit(domain.EventJoinRoom, roomID)
}

func (c *Client) SendMessage(p domain.SendMessagePayload) {
	c.emit(domain.EventSendMessage, p)
}

func (c *Client) SendTyping(p domain.TypingPayload) {
	c.emit(domain.EventTyping, p)
}

func (c *Client) SendInitiateCall(p domain.InitiateCallPayload) {
	c.emit(domain.EventInitiateCall, p)
}

func (c *Client) SendAcceptCall(p domain.AcceptCallPayload) {
	c.emit(domain.EventAcceptCall, p)
}

func (c *Client) SendRejectCall(p domain.RejectCallPayload) {
	c.emit(domain.EventRejectCall, p)
}

func (c *Client) SendEndCall(p domain.EndCallPayload) {
	c.emit(domain.EventEndCall, p)
}

func (c *Client) SendSignal(p domain.SignalPayload) {
	c.emit(domain.EventSignal, p)
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		var env envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Error().Err(err).Msg("read")
			}
			return
		}

		c.logger.Debug().Str("event", env.Event).Msg("received")
		c.dispatch(env)
	}
}

// dispatch decodes one inbound envelope and routes it to the handler.
// Malformed payloads are logged and skipped.
func (c *Client) dispatch(env envelope) {
	switch env.Event {
	case domain.EventAuthSuccess:
		var p domain.AuthSuccessPayload
		if c.decode(env, &p) {
			c.handler.OnAuthSuccess(p)
		}

	case domain.EventAuthError:
		var p domain.ErrorPayload
		c.decode(env, &p)
		c.handler.OnAuthError(p)

	case domain.EventRooms:
		var rooms []domain.Room
		if c.decode(env, &rooms) {
			c.handler.OnRooms(rooms)
		}

	case domain.EventRoomJoined:
		var room domain.Room
		if c.decode(env, &room) {
			c.handler.OnRoomJoined(room)
		}

	case domain.EventMessage:
		var m domain.Message
		if c.decode(env, &m) {
			c.handler.OnMessage(m)
		}

	case domain.EventSignal:
		var p domain.SignalPayload
		if c.decode(env, &p) {
			c.handler.OnSignal(p)
		}

	case domain.EventIncomingCall:
		var p domain.IncomingCallPayload
		if c.decode(env, &p) {
			c.handler.OnIncomingCall(p)
		}

	case domain.EventCallAccepted:
		var p domain.CallAcceptedPayload
		if c.decode(env, &p) {
			c.handler.OnCallAccepted(p)
		}

	case domain.EventCallRejected:
		var p domain.CallRejectedPayload
		if c.decode(env, &p) {
			c.handler.OnCallRejected(p)
		}

	case domain.EventCallEnded:
		c.handler.OnCallEnded()

	case domain.EventTyping:
		var p domain.TypingEventPayload
		if c.decode(env, &p) {
			c.handler.OnTyping(p)
		}

	case domain.EventError:
		var p domain.ErrorPayload
		c.decode(env, &p)
		c.handler.OnError(p)

	default:
		c.logger.Debug().Str("event", env.Event).Msg("unhandled event")
	}
}

func (c *Client) decode(env envelope, v any) bool {
	if len(env.Data) == 0 {
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.logger.Error().Err(err).Str("event", env.Event).Msg("unmarshal payload")
		return false
	}
	return true
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				nil,
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				select {
				case <-c.closed:
				default:
					c.logger.Error().Err(err).Msg("ping")
				}
				return
			}
		}
	}
}
