package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
)

const (
	maxRecordsPerUser = 200
	recordTTL         = 30 * 24 * time.Hour
)

type record struct {
	Type      string `json:"type"`
	RoomKey   string `json:"roomKey"`
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
	CreatedAt string `json:"createdAt"`
}

// Notifier writes durable notification records. It is a fire-and-forget side
// channel: every failure is logged and swallowed so the send path never
// depends on it.
type Notifier struct {
	client *redis.Client
	log    *logger.Logger
}

func NewNotifier(client *redis.Client, log *logger.Logger) *Notifier {
	return &Notifier{client: client, log: log}
}

func notificationsKey(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

func (n *Notifier) NotifyNewMessage(ctx context.Context, recipientID string, message *model.Message) {
	rec := record{
		Type:      "new-message",
		RoomKey:   message.RoomKey,
		MessageID: message.ID,
		SenderID:  message.SenderID,
		CreatedAt: time.Now().Format(time.RFC3339),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		n.log.Error("failed to marshal notification record", zap.Error(err))
		return
	}

	key := notificationsKey(recipientID)
	pipe := n.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxRecordsPerUser-1)
	pipe.Expire(ctx, key, recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		n.log.Warn("failed to write notification record",
			zap.Error(err),
			zap.String("recipientID", recipientID),
			zap.String("roomKey", message.RoomKey),
		)
	}
}
