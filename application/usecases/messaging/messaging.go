package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/domain/repository"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/utils"
)

var (
	ErrNotAuthorized = errors.New("not authorized for this conversation")
	ErrEmptyMessage  = errors.New("message cannot be empty")
)

const (
	// Used when configuration supplies no ceiling. Texts longer than the
	// ceiling are truncated, not rejected.
	defaultMaxMessageLength = 2000

	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type MessagingUseCase interface {
	// Authorize re-evaluates room membership for a principal. Join and send
	// share this one check so the two can never diverge.
	Authorize(ctx context.Context, principalID, roomKey string) error
	Persist(ctx context.Context, message *model.Message) (*model.Message, error)
	History(ctx context.Context, roomKey string, limit int64) ([]*model.Message, error)
	// MarkRead flips the read flag when reader is the receiver. It returns
	// the message and whether a receipt should be emitted; a non-receiver
	// caller is a benign no-op, not an error.
	MarkRead(ctx context.Context, roomKey, messageID, readerID string) (*model.Message, bool, error)
}

type messagingUseCase struct {
	messages      repository.MessageRepository
	authorization repository.AuthorizationRepository
	logger        *logger.Logger
	maxTextLength int
}

func NewMessagingUseCase(
	messages repository.MessageRepository,
	authorization repository.AuthorizationRepository,
	logger *logger.Logger,
	maxTextLength int,
) MessagingUseCase {
	return &messagingUseCase{
		messages:      messages,
		authorization: authorization,
		logger:        logger,
		maxTextLength: maxTextLength,
	}
}

func (uc *messagingUseCase) Authorize(ctx context.Context, principalID, roomKey string) error {
	if principalID == "" {
		return ErrNotAuthorized
	}

	ref, err := model.ParseRoomKey(roomKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	if !ref.HasParticipant(principalID) {
		return ErrNotAuthorized
	}

	grant, err := uc.authorization.FindGrant(ctx, principalID, ref.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to load grant: %w", err)
	}

	if !grant.Allows() {
		// An existing exchange in this conversation also qualifies.
		count, err := uc.messages.Count(ctx, roomKey)
		if err != nil {
			return fmt.Errorf("failed to count messages: %w", err)
		}
		grant.HasExchange = count > 0
	}

	if !grant.Allows() {
		return ErrNotAuthorized
	}

	return nil
}

func (uc *messagingUseCase) Persist(ctx context.Context, message *model.Message) (*model.Message, error) {
	if message.RoomKey == "" {
		return nil, fmt.Errorf("room key cannot be empty")
	}
	if message.SenderID == "" {
		return nil, fmt.Errorf("sender ID cannot be empty")
	}

	text, err := NormalizeText(message.Text, uc.maxTextLength)
	if err != nil {
		return nil, err
	}
	message.Text = text

	if err := uc.messages.Create(ctx, message); err != nil {
		uc.logger.Error("failed to persist message",
			zap.Error(err),
			zap.String("roomKey", message.RoomKey),
			zap.String("senderID", message.SenderID),
		)
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	uc.logger.Debug("message persisted",
		zap.String("messageID", message.ID),
		zap.String("roomKey", message.RoomKey),
	)
	return message, nil
}

func (uc *messagingUseCase) History(ctx context.Context, roomKey string, limit int64) ([]*model.Message, error) {
	if roomKey == "" {
		return nil, fmt.Errorf("room key cannot be empty")
	}

	limit = normalizeLimit(limit)

	messages, err := uc.messages.GetByRoom(ctx, roomKey, limit)
	if err != nil {
		uc.logger.Error("failed to load history", zap.Error(err), zap.String("roomKey", roomKey))
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return messages, nil
}

func (uc *messagingUseCase) MarkRead(ctx context.Context, roomKey, messageID, readerID string) (*model.Message, bool, error) {
	ref, err := model.ParseRoomKey(roomKey)
	if err != nil {
		return nil, false, fmt.Errorf("invalid room key: %w", err)
	}

	message, err := uc.messages.GetByID(ctx, roomKey, messageID)
	if err != nil {
		return nil, false, fmt.Errorf("message not found: %w", err)
	}

	// Only the receiver may flip the read flag. Anyone else is ignored
	// silently: mistaken reads are not an attack signal.
	if ref.PeerOf(message.SenderID) != readerID {
		return message, false, nil
	}

	if err := uc.messages.MarkRead(ctx, roomKey, messageID); err != nil {
		uc.logger.Error("failed to mark message read",
			zap.Error(err),
			zap.String("messageID", messageID),
			zap.String("roomKey", roomKey),
		)
		return nil, false, fmt.Errorf("failed to mark read: %w", err)
	}

	message.Read = true
	return message, true, nil
}

// NormalizeText trims and truncates message text. Empty after trimming is an
// error; text longer than maxLength runes is clipped. maxLength <= 0 falls
// back to the default ceiling.
func NormalizeText(text string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if maxLength <= 0 {
		maxLength = defaultMaxMessageLength
	}
	return utils.TruncateRunes(trimmed, maxLength), nil
}

func normalizeLimit(limit int64) int64 {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
