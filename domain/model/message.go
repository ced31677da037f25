package model

import (
	"fmt"
	"strings"
	"time"
)

// Provenance tracks whether a message entry is still a local optimistic
// placeholder or has been confirmed by the durable store.
type Provenance string

const (
	ProvenanceOptimistic Provenance = "optimistic"
	ProvenanceConfirmed  Provenance = "confirmed"
)

type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
	URL      string `json:"url"`
}

// Message is one conversation entry. ID is assigned by the durable store and
// stays empty for optimistic entries; LocalID is client-assigned and never
// reused within a session.
type Message struct {
	ID          string       `json:"id,omitempty"`
	LocalID     string       `json:"localId,omitempty"`
	RoomKey     string       `json:"roomKey"`
	SenderID    string       `json:"senderId"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	SentAt      time.Time    `json:"sentAt"`
	Read        bool         `json:"read,omitempty"`
	Provenance  Provenance   `json:"-"`
}

// Confirmed reports whether the durable store has assigned an identity.
func (m Message) Confirmed() bool {
	return m.ID != ""
}

const roomKeyPrefix = "room"

// NewRoomKey derives the channel name for a participant pair within a
// project. Participant ids are sorted so both sides derive the same key.
func NewRoomKey(userA, userB, projectID string) string {
	lo, hi := userA, userB
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%s:%s:%s:%s", roomKeyPrefix, lo, hi, projectID)
}

// RoomRef is the parsed form of a room key.
type RoomRef struct {
	ParticipantA string
	ParticipantB string
	ProjectID    string
}

func ParseRoomKey(key string) (RoomRef, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != roomKeyPrefix {
		return RoomRef{}, fmt.Errorf("malformed room key %q", key)
	}
	if parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return RoomRef{}, fmt.Errorf("malformed room key %q", key)
	}
	if parts[1] > parts[2] {
		return RoomRef{}, fmt.Errorf("room key %q participants out of order", key)
	}
	return RoomRef{
		ParticipantA: parts[1],
		ParticipantB: parts[2],
		ProjectID:    parts[3],
	}, nil
}

func (r RoomRef) Key() string {
	return NewRoomKey(r.ParticipantA, r.ParticipantB, r.ProjectID)
}

func (r RoomRef) HasParticipant(id string) bool {
	return id != "" && (id == r.ParticipantA || id == r.ParticipantB)
}

// PeerOf returns the other participant, or "" when id is not a participant.
func (r RoomRef) PeerOf(id string) string {
	switch id {
	case r.ParticipantA:
		return r.ParticipantB
	case r.ParticipantB:
		return r.ParticipantA
	}
	return ""
}

// TypingSignal is ephemeral and never persisted.
type TypingSignal struct {
	RoomKey       string `json:"roomKey"`
	ParticipantID string `json:"participantId"`
	IsTyping      bool   `json:"isTyping"`
}
