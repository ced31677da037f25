package websocket

import (
	"time"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

type WSMessage struct {
	Type    string `json:"type"`
	RoomKey string `json:"roomKey,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// InboundFrame is the single shape clients send over the socket. Action
// selects the operation; the remaining fields are action-specific.
type InboundFrame struct {
	Action      string             `json:"action"`
	RoomKey     string             `json:"roomKey,omitempty"`
	To          string             `json:"to,omitempty"`
	LocalID     string             `json:"localId,omitempty"`
	Text        string             `json:"text,omitempty"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
	MessageID   string             `json:"messageId,omitempty"`
	IsTyping    bool               `json:"isTyping,omitempty"`
}

type MemberPayload struct {
	UserID   string `json:"userId"`
	JoinedAt string `json:"joinedAt,omitempty"`
}

type ReadPayload struct {
	MessageID string `json:"messageId"`
	RoomKey   string `json:"roomKey"`
	ReaderID  string `json:"readerId"`
}

type ErrorPayload struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Retry      bool   `json:"retry,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

type HistoryPayload struct {
	RoomKey  string           `json:"roomKey"`
	Source   string           `json:"source"`
	Messages []*model.Message `json:"messages"`
}

const (
	HistorySourceStore   = "store"
	HistorySourceChannel = "channel"
)

func NewMessageReceived(message *model.Message) *WSMessage {
	return &WSMessage{
		Type:    MessageReceived,
		RoomKey: message.RoomKey,
		Data:    message,
	}
}

func NewNewMessage(message *model.Message) *WSMessage {
	return &WSMessage{
		Type:    NewMessage,
		RoomKey: message.RoomKey,
		Data:    message,
	}
}

func NewTyping(signal model.TypingSignal) *WSMessage {
	return &WSMessage{
		Type:    TypingEvent,
		RoomKey: signal.RoomKey,
		Data:    signal,
	}
}

func NewMessageRead(roomKey, messageID, readerID string) *WSMessage {
	return &WSMessage{
		Type:    MessageRead,
		RoomKey: roomKey,
		Data: ReadPayload{
			MessageID: messageID,
			RoomKey:   roomKey,
			ReaderID:  readerID,
		},
	}
}

func NewMemberJoined(roomKey, userID string) *WSMessage {
	return &WSMessage{
		Type:    MemberJoined,
		RoomKey: roomKey,
		Data: MemberPayload{
			UserID:   userID,
			JoinedAt: time.Now().Format(time.RFC3339),
		},
	}
}

func NewMemberLeft(roomKey, userID string) *WSMessage {
	return &WSMessage{
		Type:    MemberLeft,
		RoomKey: roomKey,
		Data: MemberPayload{
			UserID: userID,
		},
	}
}

func NewRoomJoined(roomKey string) *WSMessage {
	return &WSMessage{
		Type:    RoomJoined,
		RoomKey: roomKey,
	}
}

func NewHistory(roomKey, source string, messages []*model.Message) *WSMessage {
	eventType := HistoryBatch
	if source == HistorySourceChannel {
		eventType = HistoryReplay
	}
	return &WSMessage{
		Type:    eventType,
		RoomKey: roomKey,
		Data: HistoryPayload{
			RoomKey:  roomKey,
			Source:   source,
			Messages: messages,
		},
	}
}

func NewError(eventType, code, message string, retry bool) *WSMessage {
	return &WSMessage{
		Type: eventType,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
			Retry:   retry,
		},
	}
}

func NewRateLimited(resetAt time.Time) *WSMessage {
	retryAfter := int(time.Until(resetAt).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &WSMessage{
		Type: RateLimited,
		Data: ErrorPayload{
			Code:       "rate_limit_exceeded",
			Message:    "too many requests, slow down",
			Retry:      true,
			RetryAfter: retryAfter,
		},
	}
}
