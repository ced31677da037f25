package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

// Event types mirrored from the gateway wire contract.
const (
	MessageReceived = "message.received"
	MessageRead     = "message.read"
	NewMessage      = "new-message"

	TypingEvent = "typing"

	MemberJoined = "member.joined"
	MemberLeft   = "member.left"
	RoomJoined   = "room.joined"

	HistoryBatch  = "history"
	HistoryReplay = "history.replay"

	ErrorEvent  = "error"
	JoinFailed  = "error.join"
	RateLimited = "error.rate_limited"

	ConnectionClosed = "connection.closed"
)

// Event is one gateway event. Data stays raw until the consumer knows the
// type-specific shape.
type Event struct {
	Type    string          `json:"type"`
	RoomKey string          `json:"roomKey,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Frame is the outbound action envelope.
type Frame struct {
	Action      string             `json:"action"`
	RoomKey     string             `json:"roomKey,omitempty"`
	To          string             `json:"to,omitempty"`
	LocalID     string             `json:"localId,omitempty"`
	Text        string             `json:"text,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	MessageID   string             `json:"messageId,omitempty"`
	IsTyping    bool               `json:"isTyping,omitempty"`
}

type ErrorPayload struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Retry      bool   `json:"retry,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
	RoomKey   string `json:"roomKey"`
	ReaderID  string `json:"readerId"`
}

type MemberPayload struct {
	UserID   string `json:"userId"`
	JoinedAt string `json:"joinedAt,omitempty"`
}

type HistoryPayload struct {
	RoomKey  string          `json:"roomKey"`
	Source   string          `json:"source"`
	Messages []model.Message `json:"messages"`
}

// Socket is one authenticated realtime connection to the gateway. It is
// created per user session and torn down on logout; sessions share it.
type Socket struct {
	conn *websocket.Conn

	mu           sync.RWMutex
	closed       bool
	eventHandler func(Event)
	errorHandler func(error)
}

// DialSocket connects and authenticates against the gateway websocket
// endpoint. The base URL may use http(s) or ws(s) schemes.
func DialSocket(ctx context.Context, baseURL, token string) (*Socket, error) {
	wsURL := baseURL
	if after, ok := strings.CutPrefix(baseURL, "https://"); ok {
		wsURL = "wss://" + after
	} else if after, ok := strings.CutPrefix(baseURL, "http://"); ok {
		wsURL = "ws://" + after
	}

	endpoint := fmt.Sprintf("%s/ws?token=%s", strings.TrimSuffix(wsURL, "/"), token)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gateway: %w", err)
	}

	return &Socket{conn: conn}, nil
}

func (s *Socket) SetEventHandler(handler func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandler = handler
}

func (s *Socket) SetErrorHandler(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandler = handler
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// Listen reads gateway events until the connection drops or ctx is
// cancelled. The error handler, when set, observes the terminal error.
func (s *Socket) Listen(ctx context.Context) error {
	defer s.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var ev Event
		if err := s.conn.ReadJSON(&ev); err != nil {
			s.mu.RLock()
			onErr := s.errorHandler
			s.mu.RUnlock()
			if onErr != nil {
				onErr(err)
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return fmt.Errorf("websocket read error: %w", err)
			}
			return err
		}

		s.mu.RLock()
		handler := s.eventHandler
		s.mu.RUnlock()

		if handler != nil {
			handler(ev)
		}
	}
}

func (s *Socket) writeFrame(frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("websocket connection is closed")
	}
	return s.conn.WriteJSON(frame)
}

func (s *Socket) Join(roomKey string) error {
	return s.writeFrame(Frame{Action: "join", RoomKey: roomKey})
}

func (s *Socket) Leave(roomKey string) error {
	return s.writeFrame(Frame{Action: "leave", RoomKey: roomKey})
}

func (s *Socket) SendMessage(roomKey, to, localID, text string, attachments []model.Attachment) error {
	return s.writeFrame(Frame{
		Action:      "send",
		RoomKey:     roomKey,
		To:          to,
		LocalID:     localID,
		Text:        text,
		Attachments: attachments,
	})
}

func (s *Socket) MarkRead(roomKey, messageID string) error {
	return s.writeFrame(Frame{Action: "mark-read", RoomKey: roomKey, MessageID: messageID})
}

func (s *Socket) Typing(roomKey string, isTyping bool) error {
	return s.writeFrame(Frame{Action: "typing", RoomKey: roomKey, IsTyping: isTyping})
}
