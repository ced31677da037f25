package repository

import (
	"context"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

// AuthorizationRepository answers whether a principal owns a project or has
// a qualifying relationship to it (a submitted proposal). Prior message
// exchanges are checked against the message store separately.
type AuthorizationRepository interface {
	FindGrant(ctx context.Context, principalID, projectID string) (*model.Grant, error)
}
