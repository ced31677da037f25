package sdk

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

// State is the lifecycle phase of a room session.
type State string

const (
	StateIdle      State = "idle"
	StateAttaching State = "attaching"
	StateAttached  State = "attached"
	StateDetached  State = "detached"
	StateFailed    State = "failed"
)

// Transport is the slice of the socket a session drives. *Socket satisfies
// it; tests substitute fakes.
type Transport interface {
	Join(roomKey string) error
	Leave(roomKey string) error
	SendMessage(roomKey, to, localID, text string, attachments []model.Attachment) error
	MarkRead(roomKey, messageID string) error
	Typing(roomKey string, isTyping bool) error
}

// Options tune session behavior. The zero value gets sane defaults.
type Options struct {
	// TypingDebounce is how long after the last keystroke the typing
	// indicator auto-clears without an explicit stop signal.
	TypingDebounce time.Duration

	// OptimisticWindow and DedupBucket are passed through to the
	// reconciliation engine.
	OptimisticWindow time.Duration
	DedupBucket      time.Duration

	// ReconnectInitialDelay seeds the backoff between re-attach attempts
	// after a dropped connection. ReconnectMaxAttempts bounds them; once
	// exhausted the session moves to Failed.
	ReconnectInitialDelay time.Duration
	ReconnectMaxAttempts  uint64

	// OnUpdate, when set, fires after every state or timeline change.
	// Called without the session lock held.
	OnUpdate func()
}

func (o Options) normalized() Options {
	if o.TypingDebounce <= 0 {
		o.TypingDebounce = 5 * time.Second
	}
	if o.ReconnectInitialDelay <= 0 {
		o.ReconnectInitialDelay = 500 * time.Millisecond
	}
	if o.ReconnectMaxAttempts == 0 {
		o.ReconnectMaxAttempts = 5
	}
	return o
}

// Session is the view of one conversation room: its message timeline,
// attach lifecycle and typing/presence signals. All methods are safe for
// concurrent use.
type Session struct {
	transport Transport
	selfID    string
	peerID    string
	roomKey   string
	opts      Options
	reconcile ReconcileOptions

	mu        sync.Mutex
	state     State
	messages  []model.Message
	typing    map[string]time.Time
	lastErr   error
	selfTimer *time.Timer
	selfBusy  bool
}

// NewSession builds a session for the room between selfID and peerID on
// the given project. It does not touch the transport until Attach.
func NewSession(transport Transport, selfID, peerID, projectID string, opts Options) *Session {
	opts = opts.normalized()
	return &Session{
		transport: transport,
		selfID:    selfID,
		peerID:    peerID,
		roomKey:   model.NewRoomKey(selfID, peerID, projectID),
		opts:      opts,
		reconcile: ReconcileOptions{
			OptimisticWindow: opts.OptimisticWindow,
			DedupBucket:      opts.DedupBucket,
		},
		state:  StateIdle,
		typing: make(map[string]time.Time),
	}
}

func (s *Session) RoomKey() string { return s.roomKey }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports the error that moved the session to Failed, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Messages returns a snapshot of the timeline in sentAt order.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// TypingPeers lists participants whose typing indicator has not expired.
func (s *Session) TypingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var peers []string
	for id, deadline := range s.typing {
		if now.Before(deadline) {
			peers = append(peers, id)
		} else {
			delete(s.typing, id)
		}
	}
	return peers
}

// Attach requests membership in the room. It does not block waiting for
// the gateway: the session stays Attaching until a room.joined event for
// this room arrives through HandleEvent.
func (s *Session) Attach() error {
	s.mu.Lock()
	switch s.state {
	case StateAttached, StateAttaching:
		s.mu.Unlock()
		return nil
	case StateFailed:
		s.mu.Unlock()
		return fmt.Errorf("session has failed: %w", s.lastErr)
	}
	s.state = StateAttaching
	s.mu.Unlock()

	if err := s.transport.Join(s.roomKey); err != nil {
		s.fail(err)
		return err
	}

	s.notify()
	return nil
}

// Detach leaves the room. Teardown is best-effort: transport failures are
// swallowed, the session lands in Detached regardless.
func (s *Session) Detach() {
	s.mu.Lock()
	if s.state == StateDetached || s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateDetached
	if s.selfTimer != nil {
		s.selfTimer.Stop()
		s.selfTimer = nil
	}
	s.selfBusy = false
	s.mu.Unlock()

	_ = s.transport.Typing(s.roomKey, false)
	_ = s.transport.Leave(s.roomKey)

	s.notify()
}

// SendText appends an optimistic message to the timeline and pushes it to
// the gateway. The returned local id ties the optimistic entry to its
// confirmed replacement.
func (s *Session) SendText(text string, attachments []model.Attachment) (string, error) {
	s.mu.Lock()
	if s.state != StateAttached && s.state != StateAttaching {
		state := s.state
		s.mu.Unlock()
		return "", fmt.Errorf("cannot send in state %q", state)
	}

	localID := uuid.New().String()
	optimistic := model.Message{
		LocalID:    localID,
		RoomKey:    s.roomKey,
		SenderID:   s.selfID,
		Text:       text,
		SentAt:     time.Now(),
		Provenance: model.ProvenanceOptimistic,
	}
	if len(attachments) > 0 {
		optimistic.Attachments = attachments
	}
	s.messages = Reconcile(s.messages, optimistic, s.reconcile)

	// Sending implies not-typing anymore.
	if s.selfTimer != nil {
		s.selfTimer.Stop()
		s.selfTimer = nil
	}
	s.selfBusy = false
	s.mu.Unlock()

	if err := s.transport.SendMessage(s.roomKey, s.peerID, localID, text, attachments); err != nil {
		s.notify()
		return localID, err
	}

	s.notify()
	return localID, nil
}

// NotifyTyping signals the peer that the user is composing. Repeated calls
// within the debounce window only refresh the auto-clear timer; the stop
// signal goes out once, when the window elapses with no further input.
func (s *Session) NotifyTyping() {
	s.mu.Lock()
	if s.state != StateAttached {
		s.mu.Unlock()
		return
	}

	sendStart := !s.selfBusy
	s.selfBusy = true

	if s.selfTimer != nil {
		s.selfTimer.Stop()
	}
	s.selfTimer = time.AfterFunc(s.opts.TypingDebounce, func() {
		s.mu.Lock()
		s.selfBusy = false
		s.selfTimer = nil
		s.mu.Unlock()
		_ = s.transport.Typing(s.roomKey, false)
	})
	s.mu.Unlock()

	if sendStart {
		_ = s.transport.Typing(s.roomKey, true)
	}
}

// MarkRead reports the newest peer message as read.
func (s *Session) MarkRead(messageID string) error {
	return s.transport.MarkRead(s.roomKey, messageID)
}

// HandleEvent folds one gateway event into session state. The socket owner
// routes events here by room key; events for other rooms are ignored.
func (s *Session) HandleEvent(ev Event) {
	if ev.RoomKey != "" && ev.RoomKey != s.roomKey {
		return
	}

	switch ev.Type {
	case RoomJoined:
		s.mu.Lock()
		if s.state == StateAttaching {
			s.state = StateAttached
		}
		s.mu.Unlock()
		s.notify()

	case HistoryBatch, HistoryReplay:
		var payload HistoryPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		s.messages = MergeHistories(s.messages, payload.Messages, s.reconcile)
		s.mu.Unlock()
		s.notify()

	case MessageReceived:
		var msg model.Message
		if err := json.Unmarshal(ev.Data, &msg); err != nil {
			return
		}
		s.mu.Lock()
		s.messages = Reconcile(s.messages, msg, s.reconcile)
		// A message from the peer supersedes their typing indicator.
		delete(s.typing, msg.SenderID)
		s.mu.Unlock()
		s.notify()

	case MessageRead:
		var payload ReadPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		for i := range s.messages {
			if s.messages[i].ID == payload.MessageID {
				s.messages[i].Read = true
				break
			}
		}
		s.mu.Unlock()
		s.notify()

	case TypingEvent:
		var signal model.TypingSignal
		if err := json.Unmarshal(ev.Data, &signal); err != nil {
			return
		}
		if signal.ParticipantID == s.selfID {
			return
		}
		s.mu.Lock()
		if signal.IsTyping {
			s.typing[signal.ParticipantID] = time.Now().Add(s.opts.TypingDebounce)
		} else {
			delete(s.typing, signal.ParticipantID)
		}
		s.mu.Unlock()
		s.notify()

	case MemberLeft:
		var payload MemberPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return
		}
		s.mu.Lock()
		delete(s.typing, payload.UserID)
		s.mu.Unlock()
		s.notify()

	case JoinFailed:
		var payload ErrorPayload
		_ = json.Unmarshal(ev.Data, &payload)
		s.fail(fmt.Errorf("room attach rejected: %s", payload.Message))

	case ConnectionClosed:
		s.fail(fmt.Errorf("connection closed by gateway"))
	}
}

// HandleDisconnect runs the bounded re-attach loop after the underlying
// connection dropped. reconnect re-establishes the transport (dial,
// re-authenticate); the session then re-joins its room. Once the attempt
// budget is spent the session moves to Failed.
func (s *Session) HandleDisconnect(reconnect func() error) {
	s.mu.Lock()
	if s.state != StateAttached && s.state != StateAttaching {
		s.mu.Unlock()
		return
	}
	s.state = StateAttaching
	if s.selfTimer != nil {
		s.selfTimer.Stop()
		s.selfTimer = nil
	}
	s.selfBusy = false
	s.mu.Unlock()
	s.notify()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.ReconnectInitialDelay
	policy.MaxElapsedTime = 0

	attempt := func() error {
		if reconnect != nil {
			if err := reconnect(); err != nil {
				return err
			}
		}
		return s.transport.Join(s.roomKey)
	}

	err := backoff.Retry(attempt, backoff.WithMaxRetries(policy, s.opts.ReconnectMaxAttempts))
	if err != nil {
		s.fail(fmt.Errorf("reconnect attempts exhausted: %w", err))
	}
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastErr = err
	if s.selfTimer != nil {
		s.selfTimer.Stop()
		s.selfTimer = nil
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}
