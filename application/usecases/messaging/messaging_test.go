package messaging

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
)

type fakeMessageRepo struct {
	byID     map[string]*model.Message
	byRoom   map[string][]*model.Message
	counts   map[string]int64
	created  []*model.Message
	markRead []string
	fail     error
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{
		byID:   make(map[string]*model.Message),
		byRoom: make(map[string][]*model.Message),
		counts: make(map[string]int64),
	}
}

func (f *fakeMessageRepo) Create(_ context.Context, message *model.Message) error {
	if f.fail != nil {
		return f.fail
	}
	if message.ID == "" {
		message.ID = "generated-id"
	}
	f.created = append(f.created, message)
	f.byID[message.ID] = message
	return nil
}

func (f *fakeMessageRepo) GetByID(_ context.Context, _, messageID string) (*model.Message, error) {
	m, ok := f.byID[messageID]
	if !ok {
		return nil, errors.New("no such message")
	}
	return m, nil
}

func (f *fakeMessageRepo) GetByRoom(_ context.Context, roomKey string, limit int64) ([]*model.Message, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	msgs := f.byRoom[roomKey]
	if int64(len(msgs)) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeMessageRepo) MarkRead(_ context.Context, _, messageID string) error {
	if f.fail != nil {
		return f.fail
	}
	f.markRead = append(f.markRead, messageID)
	return nil
}

func (f *fakeMessageRepo) Count(_ context.Context, roomKey string) (int64, error) {
	return f.counts[roomKey], nil
}

type fakeAuthRepo struct {
	grants map[string]*model.Grant
	err    error
}

func (f *fakeAuthRepo) FindGrant(_ context.Context, principalID, projectID string) (*model.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if g, ok := f.grants[principalID+":"+projectID]; ok {
		copied := *g
		return &copied, nil
	}
	return &model.Grant{}, nil
}

func newUseCase(messages *fakeMessageRepo, auth *fakeAuthRepo) MessagingUseCase {
	return NewMessagingUseCase(messages, auth, logger.NewNopLogger(), 0)
}

func TestAuthorize(t *testing.T) {
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")

	tests := []struct {
		name        string
		principalID string
		roomKey     string
		grants      map[string]*model.Grant
		priorCount  int64
		wantErr     error
	}{
		{
			name:        "project owner",
			principalID: "client-1",
			roomKey:     roomKey,
			grants:      map[string]*model.Grant{"client-1:proj-1": {IsOwner: true}},
		},
		{
			name:        "freelancer with proposal",
			principalID: "freelancer-1",
			roomKey:     roomKey,
			grants:      map[string]*model.Grant{"freelancer-1:proj-1": {HasProposal: true}},
		},
		{
			name:        "prior exchange only",
			principalID: "freelancer-1",
			roomKey:     roomKey,
			priorCount:  2,
		},
		{
			name:        "no relationship",
			principalID: "freelancer-1",
			roomKey:     roomKey,
			wantErr:     ErrNotAuthorized,
		},
		{
			name:        "not a participant",
			principalID: "freelancer-2",
			roomKey:     roomKey,
			grants:      map[string]*model.Grant{"freelancer-2:proj-1": {HasProposal: true}},
			wantErr:     ErrNotAuthorized,
		},
		{
			name:        "empty principal",
			principalID: "",
			roomKey:     roomKey,
			wantErr:     ErrNotAuthorized,
		},
		{
			name:        "malformed room key",
			principalID: "client-1",
			roomKey:     "not-a-room-key",
			wantErr:     ErrNotAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages := newFakeMessageRepo()
			messages.counts[roomKey] = tt.priorCount
			uc := newUseCase(messages, &fakeAuthRepo{grants: tt.grants})

			err := uc.Authorize(context.Background(), tt.principalID, tt.roomKey)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAuthorizeRevocationTakesEffectNextCheck(t *testing.T) {
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")
	auth := &fakeAuthRepo{grants: map[string]*model.Grant{
		"freelancer-1:proj-1": {HasProposal: true},
	}}
	uc := newUseCase(newFakeMessageRepo(), auth)

	if err := uc.Authorize(context.Background(), "freelancer-1", roomKey); err != nil {
		t.Fatalf("initial check should pass: %v", err)
	}

	// Proposal withdrawn between operations.
	delete(auth.grants, "freelancer-1:proj-1")

	if err := uc.Authorize(context.Background(), "freelancer-1", roomKey); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("revocation must bind on the next check, got %v", err)
	}
}

func TestPersist(t *testing.T) {
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")
	messages := newFakeMessageRepo()
	uc := newUseCase(messages, &fakeAuthRepo{})

	msg, err := uc.Persist(context.Background(), &model.Message{
		RoomKey:  roomKey,
		SenderID: "client-1",
		Text:     "  let's get started  ",
		SentAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if msg.Text != "let's get started" {
		t.Fatalf("text not trimmed: %q", msg.Text)
	}
	if len(messages.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(messages.created))
	}
}

func TestPersistRejectsInvalidInput(t *testing.T) {
	uc := newUseCase(newFakeMessageRepo(), &fakeAuthRepo{})
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")

	if _, err := uc.Persist(context.Background(), &model.Message{SenderID: "client-1", Text: "hi"}); err == nil {
		t.Fatal("missing room key must fail")
	}
	if _, err := uc.Persist(context.Background(), &model.Message{RoomKey: roomKey, Text: "hi"}); err == nil {
		t.Fatal("missing sender must fail")
	}
	if _, err := uc.Persist(context.Background(), &model.Message{RoomKey: roomKey, SenderID: "client-1", Text: "   "}); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank text must fail with ErrEmptyMessage, got %v", err)
	}
}

func TestMarkReadReceiverOnly(t *testing.T) {
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")
	messages := newFakeMessageRepo()
	messages.byID["m1"] = &model.Message{ID: "m1", RoomKey: roomKey, SenderID: "client-1", Text: "hello"}
	uc := newUseCase(messages, &fakeAuthRepo{})

	// The sender marking their own message is a silent no-op.
	msg, receipt, err := uc.MarkRead(context.Background(), roomKey, "m1", "client-1")
	if err != nil {
		t.Fatalf("sender mark-read should not error: %v", err)
	}
	if receipt {
		t.Fatal("sender mark-read must not emit a receipt")
	}
	if msg.Read {
		t.Fatal("no-op must leave the flag unchanged")
	}
	if len(messages.markRead) != 0 {
		t.Fatal("no-op must not touch the store")
	}

	msg, receipt, err = uc.MarkRead(context.Background(), roomKey, "m1", "freelancer-1")
	if err != nil {
		t.Fatalf("receiver mark-read: %v", err)
	}
	if !receipt || !msg.Read {
		t.Fatalf("receiver mark-read must flip the flag and emit a receipt, got receipt=%v read=%v", receipt, msg.Read)
	}
}

func TestNormalizeText(t *testing.T) {
	long := strings.Repeat("é", defaultMaxMessageLength+10)

	got, err := NormalizeText(long, 0)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	runes := []rune(got)
	if len(runes) != defaultMaxMessageLength {
		t.Fatalf("expected %d runes, got %d", defaultMaxMessageLength, len(runes))
	}
	// Truncation must land on a rune boundary.
	if runes[len(runes)-1] != 'é' {
		t.Fatalf("truncation split a multi-byte character: last rune %q", runes[len(runes)-1])
	}
}

func TestNormalizeTextConfiguredCeiling(t *testing.T) {
	got, err := NormalizeText(strings.Repeat("a", 50), 10)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len([]rune(got)) != 10 {
		t.Fatalf("expected the configured ceiling of 10 runes, got %d", len([]rune(got)))
	}
}

func TestPersistHonorsConfiguredCeiling(t *testing.T) {
	roomKey := model.NewRoomKey("client-1", "freelancer-1", "proj-1")
	messages := newFakeMessageRepo()
	uc := NewMessagingUseCase(messages, &fakeAuthRepo{}, logger.NewNopLogger(), 5)

	msg, err := uc.Persist(context.Background(), &model.Message{
		RoomKey:  roomKey,
		SenderID: "client-1",
		Text:     "hello there",
		SentAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if msg.Text != "hello" {
		t.Fatalf("text must be truncated at the injected ceiling, got %q", msg.Text)
	}
}

func TestNormalizeLimit(t *testing.T) {
	tests := []struct {
		in   int64
		want int64
	}{
		{in: 0, want: defaultHistoryLimit},
		{in: -5, want: defaultHistoryLimit},
		{in: 25, want: 25},
		{in: maxHistoryLimit + 1, want: maxHistoryLimit},
	}

	for _, tt := range tests {
		if got := normalizeLimit(tt.in); got != tt.want {
			t.Fatalf("normalizeLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
