package repository

import (
	"context"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

type MessageRepository interface {
	Create(ctx context.Context, message *model.Message) error
	GetByID(ctx context.Context, roomKey, messageID string) (*model.Message, error)
	GetByRoom(ctx context.Context, roomKey string, limit int64) ([]*model.Message, error)
	MarkRead(ctx context.Context, roomKey, messageID string) error
	Count(ctx context.Context, roomKey string) (int64, error)
}
