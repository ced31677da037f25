package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/domain/repository"
)

type messageRepository struct {
	client *redis.Client
}

// NewMessageRepository returns the durable message store backed by Redis
// sorted sets, scored by origin timestamp for cheap ordered reads.
func NewMessageRepository(client *redis.Client) repository.MessageRepository {
	return &messageRepository{
		client: client,
	}
}

func messagesKey(roomKey string) string {
	return fmt.Sprintf("messages:%s", roomKey)
}

func (r *messageRepository) Create(ctx context.Context, message *model.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	message.Provenance = model.ProvenanceConfirmed

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.client.ZAdd(ctx, messagesKey(message.RoomKey), redis.Z{
		Score:  float64(message.SentAt.UnixMilli()),
		Member: data,
	}).Err()
}

func (r *messageRepository) GetByID(ctx context.Context, roomKey, messageID string) (*model.Message, error) {
	results, err := r.client.ZRange(ctx, messagesKey(roomKey), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	for _, data := range results {
		var msg model.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.ID == messageID {
			msg.Provenance = model.ProvenanceConfirmed
			return &msg, nil
		}
	}

	return nil, fmt.Errorf("message %s not found in %s", messageID, roomKey)
}

func (r *messageRepository) GetByRoom(ctx context.Context, roomKey string, limit int64) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	// Newest N, returned oldest first.
	results, err := r.client.ZRevRange(ctx, messagesKey(roomKey), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]*model.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg model.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		msg.Provenance = model.ProvenanceConfirmed
		messages = append(messages, &msg)
	}

	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, roomKey, messageID string) error {
	key := messagesKey(roomKey)

	results, err := r.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}

	for _, z := range results {
		raw, ok := z.Member.(string)
		if !ok {
			continue
		}

		var msg model.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		if msg.ID != messageID {
			continue
		}
		if msg.Read {
			return nil
		}

		msg.Read = true
		updated, err := json.Marshal(&msg)
		if err != nil {
			return err
		}

		// Sorted-set members are immutable; swap the entry keeping its score.
		pipe := r.client.TxPipeline()
		pipe.ZRem(ctx, key, raw)
		pipe.ZAdd(ctx, key, redis.Z{Score: z.Score, Member: updated})
		_, err = pipe.Exec(ctx)
		return err
	}

	return fmt.Errorf("message %s not found in %s", messageID, roomKey)
}

func (r *messageRepository) Count(ctx context.Context, roomKey string) (int64, error) {
	return r.client.ZCard(ctx, messagesKey(roomKey)).Result()
}
