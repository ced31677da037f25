package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/application/usecases/messaging"
	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/config"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/ratelimit"
)

const opTimeout = 5 * time.Second

// ChannelService is the pub/sub collaborator with bounded replay.
type ChannelService interface {
	Publish(ctx context.Context, name string, payload []byte) error
	History(ctx context.Context, name string, limit int64) ([][]byte, error)
	Subscribe(ctx context.Context, name string, handler func([]byte)) (func(), error)
}

// NotificationSink receives the fire-and-forget durable notification on each
// accepted send. Its failures never fail the send path.
type NotificationSink interface {
	NotifyNewMessage(ctx context.Context, recipientID string, message *model.Message)
}

// envelope wraps every event published to the channel service so a gateway
// can recognize and drop its own echoes.
type envelope struct {
	Origin string     `json:"origin"`
	Event  *WSMessage `json:"event"`
}

type inboundEnvelope struct {
	Origin string `json:"origin"`
	Event  struct {
		Type    string          `json:"type"`
		RoomKey string          `json:"roomKey"`
		Data    json.RawMessage `json:"data"`
	} `json:"event"`
}

type delivery struct {
	roomKey string
	userID  string
	exclude string
	msg     *WSMessage
}

// Core is the connection gateway hub. Frame handling runs on each
// connection's read goroutine, which preserves per-sender ordering; the
// fan-out registry and the rate limiter are the only shared mutable state.
type Core struct {
	roomMgr    *RoomManager
	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery

	messaging messaging.MessagingUseCase
	channels  ChannelService
	limiter   *ratelimit.Limiter
	notifier  NotificationSink

	cfg config.GatewayConfig
	log *logger.Logger

	origin string
	runCtx context.Context

	subs   map[string]func()
	subsMu sync.Mutex

	shutdown chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewCore(
	roomMgr *RoomManager,
	messagingUC messaging.MessagingUseCase,
	channels ChannelService,
	limiter *ratelimit.Limiter,
	notifier NotificationSink,
	cfg config.GatewayConfig,
	log *logger.Logger,
) *Core {
	return &Core{
		roomMgr:    roomMgr,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 256),
		messaging:  messagingUC,
		channels:   channels,
		limiter:    limiter,
		notifier:   notifier,
		cfg:        cfg,
		log:        log,
		origin:     uuid.NewString(),
		runCtx:     context.Background(),
		subs:       make(map[string]func()),
		shutdown:   make(chan struct{}),
	}
}

func (c *Core) Register() chan<- *Client   { return c.register }
func (c *Core) Unregister() chan<- *Client { return c.unregister }

func (c *Core) Run(ctx context.Context) {
	c.runCtx = ctx
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.Shutdown()
			return

		case <-c.shutdown:
			return

		case cl := <-c.register:
			if c.roomMgr.AddClient(cl) {
				c.subscribeUser(cl.Principal.ID)
			}

		case cl := <-c.unregister:
			c.handleDisconnect(cl)

		case d := <-c.broadcast:
			c.deliver(d)
		}
	}
}

func (c *Core) Shutdown() {
	c.once.Do(func() {
		close(c.shutdown)

		c.subsMu.Lock()
		for key, unsub := range c.subs {
			unsub()
			delete(c.subs, key)
		}
		c.subsMu.Unlock()

		c.roomMgr.DisconnectAll()
	})
}

func (c *Core) deliver(d *delivery) {
	if d.userID != "" {
		c.roomMgr.SendToUser(d.userID, d.msg)
		return
	}
	if err := c.roomMgr.BroadcastToRoom(d.roomKey, d.msg, d.exclude); err != nil && !errors.Is(err, ErrRoomNotFound) {
		c.log.Warn("fan-out failed", zap.String("roomKey", d.roomKey), zap.Error(err))
	}
}

func (c *Core) enqueueDelivery(d *delivery) {
	select {
	case c.broadcast <- d:
	case <-c.shutdown:
	}
}

// HandleFrame dispatches one inbound frame. It runs on the connection's read
// goroutine; sends from one connection are never reordered.
func (c *Core) HandleFrame(cl *Client, frame *InboundFrame) {
	switch frame.Action {
	case ActionJoin:
		c.handleJoin(cl, frame)
	case ActionLeave:
		c.handleLeave(cl, frame)
	case ActionSend:
		c.handleSend(cl, frame)
	case ActionMarkRead:
		c.handleMarkRead(cl, frame)
	case ActionTyping:
		c.handleTyping(cl, frame)
	default:
		c.violation(cl, ErrorEvent, "unknown_action", fmt.Sprintf("unknown action %q", frame.Action))
	}
}

func (c *Core) handleJoin(cl *Client, frame *InboundFrame) {
	res := c.limiter.Check(cl.Principal.ID, ratelimit.ActionJoinRoom, limitConfig(c.cfg.JoinLimit))
	if !res.Allowed {
		cl.Enqueue(NewRateLimited(res.ResetAt))
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, opTimeout)
	defer cancel()

	if err := c.messaging.Authorize(ctx, cl.Principal.ID, frame.RoomKey); err != nil {
		if errors.Is(err, messaging.ErrNotAuthorized) {
			c.violation(cl, JoinFailed, "not_authorized", "you are not a participant of this conversation")
			return
		}
		c.log.Error("authorization check failed",
			zap.Error(err),
			zap.String("principalID", cl.Principal.ID),
			zap.String("roomKey", frame.RoomKey),
		)
		cl.Enqueue(NewError(ErrorEvent, "internal_error", "could not evaluate authorization", true))
		return
	}

	if c.roomMgr.JoinRoom(frame.RoomKey, cl) {
		c.subscribeRoom(frame.RoomKey)
	}
	cl.Enqueue(NewRoomJoined(frame.RoomKey))

	c.sendHistory(ctx, cl, frame.RoomKey)

	joined := NewMemberJoined(frame.RoomKey, cl.Principal.ID)
	c.enqueueDelivery(&delivery{roomKey: frame.RoomKey, exclude: cl.ID, msg: joined})
	c.publishRoom(frame.RoomKey, joined)
}

// sendHistory delivers the durable batch and the channel replay batch as two
// separate events; the client session merges them.
func (c *Core) sendHistory(ctx context.Context, cl *Client, roomKey string) {
	stored, err := c.messaging.History(ctx, roomKey, c.cfg.HistoryLimit)
	if err != nil {
		c.log.Error("failed to load durable history", zap.Error(err), zap.String("roomKey", roomKey))
		stored = nil
	}
	cl.Enqueue(NewHistory(roomKey, HistorySourceStore, stored))

	replayed := c.channelReplay(ctx, roomKey)
	cl.Enqueue(NewHistory(roomKey, HistorySourceChannel, replayed))
}

func (c *Core) channelReplay(ctx context.Context, roomKey string) []*model.Message {
	events, err := c.channels.History(ctx, roomKey, c.cfg.ReplayLimit)
	if err != nil {
		c.log.Warn("channel replay unavailable", zap.Error(err), zap.String("roomKey", roomKey))
		return nil
	}

	messages := make([]*model.Message, 0, len(events))
	for _, payload := range events {
		var env inboundEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		if env.Event.Type != MessageReceived {
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(env.Event.Data, &msg); err != nil {
			continue
		}
		messages = append(messages, &msg)
	}
	return messages
}

func (c *Core) handleSend(cl *Client, frame *InboundFrame) {
	ref, err := model.ParseRoomKey(frame.RoomKey)
	if err != nil {
		c.violation(cl, ErrorEvent, "invalid_payload", "malformed room key")
		return
	}
	if frame.To == "" || !ref.HasParticipant(frame.To) || frame.To == cl.Principal.ID {
		c.violation(cl, ErrorEvent, "invalid_payload", "invalid recipient")
		return
	}

	text, err := messaging.NormalizeText(frame.Text, c.cfg.MaxMessageLength)
	if err != nil {
		c.violation(cl, ErrorEvent, "invalid_payload", "message text is empty")
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, opTimeout)
	defer cancel()

	// Send shares joinRoom's authorization check, re-evaluated every time.
	if err := c.messaging.Authorize(ctx, cl.Principal.ID, frame.RoomKey); err != nil {
		if errors.Is(err, messaging.ErrNotAuthorized) {
			c.violation(cl, JoinFailed, "not_authorized", "you are not a participant of this conversation")
			return
		}
		c.log.Error("authorization check failed",
			zap.Error(err),
			zap.String("principalID", cl.Principal.ID),
			zap.String("roomKey", frame.RoomKey),
		)
		cl.Enqueue(NewError(ErrorEvent, "internal_error", "could not evaluate authorization", true))
		return
	}

	res := c.limiter.Check(cl.Principal.ID, ratelimit.ActionSendMessage, limitConfig(c.cfg.SendLimit))
	if !res.Allowed {
		// Dropped with a throttle notice; burstiness is not abuse and never
		// escalates the violation counter.
		cl.Enqueue(NewRateLimited(res.ResetAt))
		return
	}

	message := &model.Message{
		LocalID:     frame.LocalID,
		RoomKey:     frame.RoomKey,
		SenderID:    cl.Principal.ID, // stamped from the principal, never the payload
		Text:        text,
		Attachments: frame.Attachments,
		SentAt:      time.Now(),
		Provenance:  model.ProvenanceConfirmed,
	}

	persisted, err := c.messaging.Persist(ctx, message)
	if err != nil {
		// Availability over consistency: the live view still gets the
		// message; persistence is retried out of band.
		c.log.Error("store persist failed, delivering live only",
			zap.Error(err),
			zap.String("roomKey", frame.RoomKey),
			zap.String("localID", frame.LocalID),
		)
		persisted = message
	}

	event := NewMessageReceived(persisted)
	c.enqueueDelivery(&delivery{roomKey: frame.RoomKey, msg: event})
	c.publishRoom(frame.RoomKey, event)

	notice := NewNewMessage(persisted)
	c.enqueueDelivery(&delivery{userID: frame.To, msg: notice})
	c.publishUser(frame.To, notice)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		nctx, ncancel := context.WithTimeout(context.Background(), opTimeout)
		defer ncancel()
		c.notifier.NotifyNewMessage(nctx, frame.To, persisted)
	}()
}

func (c *Core) handleMarkRead(cl *Client, frame *InboundFrame) {
	ctx, cancel := context.WithTimeout(c.runCtx, opTimeout)
	defer cancel()

	message, emit, err := c.messaging.MarkRead(ctx, frame.RoomKey, frame.MessageID, cl.Principal.ID)
	if err != nil {
		c.log.Debug("mark-read ignored",
			zap.Error(err),
			zap.String("messageID", frame.MessageID),
			zap.String("readerID", cl.Principal.ID),
		)
		return
	}
	if !emit {
		// Reader is not the receiver: benign no-op.
		return
	}

	receipt := NewMessageRead(frame.RoomKey, frame.MessageID, cl.Principal.ID)
	c.enqueueDelivery(&delivery{userID: message.SenderID, msg: receipt})
	c.publishUser(message.SenderID, receipt)
}

func (c *Core) handleTyping(cl *Client, frame *InboundFrame) {
	if !c.roomMgr.InRoom(frame.RoomKey, cl) {
		return
	}

	signal := model.TypingSignal{
		RoomKey:       frame.RoomKey,
		ParticipantID: cl.Principal.ID,
		IsTyping:      frame.IsTyping,
	}

	event := NewTyping(signal)
	c.enqueueDelivery(&delivery{roomKey: frame.RoomKey, exclude: cl.ID, msg: event})
	c.publishRoom(frame.RoomKey, event)
}

func (c *Core) handleLeave(cl *Client, frame *InboundFrame) {
	if !c.roomMgr.InRoom(frame.RoomKey, cl) {
		return
	}

	if c.roomMgr.LeaveRoom(frame.RoomKey, cl) {
		c.unsubscribe(frame.RoomKey)
	}

	left := NewMemberLeft(frame.RoomKey, cl.Principal.ID)
	c.enqueueDelivery(&delivery{roomKey: frame.RoomKey, msg: left})
	c.publishRoom(frame.RoomKey, left)
}

func (c *Core) handleDisconnect(cl *Client) {
	rooms := cl.Rooms()

	emptied, userGone := c.roomMgr.RemoveClient(cl)
	for _, roomKey := range emptied {
		c.unsubscribe(roomKey)
	}
	if userGone {
		c.unsubscribe(userChannel(cl.Principal.ID))
	}

	for _, roomKey := range rooms {
		left := NewMemberLeft(roomKey, cl.Principal.ID)
		c.deliver(&delivery{roomKey: roomKey, msg: left})
		c.publishRoom(roomKey, left)
	}

	cl.Close()
}

// violation records one authorization or protocol failure. At the threshold
// the client only sees a generic connection error, so a probing caller
// cannot tell which defense fired.
func (c *Core) violation(cl *Client, eventType, code, message string) {
	count := cl.RecordViolation()
	if count >= c.cfg.ViolationThreshold {
		c.log.Warn("violation threshold reached, closing connection",
			zap.String("clientID", cl.ID),
			zap.String("principalID", cl.Principal.ID),
			zap.Int("violations", count),
		)
		cl.Enqueue(NewError(ConnectionClosed, "connection_error", "connection closed", false))
		cl.Close()
		return
	}

	c.log.Info("violation recorded",
		zap.String("clientID", cl.ID),
		zap.String("principalID", cl.Principal.ID),
		zap.String("code", code),
		zap.Int("violations", count),
	)
	cl.Enqueue(NewError(eventType, code, message, true))
}

func userChannel(userID string) string {
	return "user:" + userID
}

func limitConfig(rl config.RateLimitConfig) ratelimit.Config {
	return ratelimit.Config{Max: rl.Max, Window: rl.Window}
}

func (c *Core) publishRoom(roomKey string, event *WSMessage) {
	c.publish(roomKey, event)
}

func (c *Core) publishUser(userID string, event *WSMessage) {
	c.publish(userChannel(userID), event)
}

func (c *Core) publish(name string, event *WSMessage) {
	data, err := json.Marshal(envelope{Origin: c.origin, Event: event})
	if err != nil {
		c.log.Error("failed to marshal channel envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(c.runCtx, opTimeout)
	defer cancel()

	if err := c.channels.Publish(ctx, name, data); err != nil {
		// The durable store already has the message; replay just loses it.
		c.log.Warn("channel publish failed", zap.Error(err), zap.String("channel", name))
	}
}

func (c *Core) subscribeRoom(roomKey string) {
	c.subscribe(roomKey, func(event *WSMessage) {
		if err := c.roomMgr.BroadcastToRoom(roomKey, event, ""); err != nil && !errors.Is(err, ErrRoomNotFound) {
			c.log.Warn("cross-node fan-out failed", zap.String("roomKey", roomKey), zap.Error(err))
		}
	})
}

func (c *Core) subscribeUser(userID string) {
	c.subscribe(userChannel(userID), func(event *WSMessage) {
		c.roomMgr.SendToUser(userID, event)
	})
}

// subscribe bridges a channel-service subscription into local fan-out,
// dropping this gateway's own echoes.
func (c *Core) subscribe(name string, forward func(*WSMessage)) {
	c.subsMu.Lock()
	if _, ok := c.subs[name]; ok {
		c.subsMu.Unlock()
		return
	}
	c.subsMu.Unlock()

	unsub, err := c.channels.Subscribe(c.runCtx, name, func(payload []byte) {
		var env inboundEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			c.log.Warn("dropping malformed channel event", zap.String("channel", name), zap.Error(err))
			return
		}
		if env.Origin == c.origin {
			return
		}
		forward(&WSMessage{
			Type:    env.Event.Type,
			RoomKey: env.Event.RoomKey,
			Data:    env.Event.Data,
		})
	})
	if err != nil {
		c.log.Warn("channel subscribe failed", zap.String("channel", name), zap.Error(err))
		return
	}

	c.subsMu.Lock()
	if _, ok := c.subs[name]; ok {
		c.subsMu.Unlock()
		unsub()
		return
	}
	c.subs[name] = unsub
	c.subsMu.Unlock()
}

func (c *Core) unsubscribe(name string) {
	c.subsMu.Lock()
	unsub, ok := c.subs[name]
	if ok {
		delete(c.subs, name)
	}
	c.subsMu.Unlock()

	if ok {
		unsub()
	}
}
