package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
	"github.com/SIRI-bit-tech/bidforge-sub000/domain/repository"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
)

type authorizationRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewAuthorizationRepository reads project ownership and proposal state from
// the relational store. Results are never cached: membership may be revoked
// between two checks and the next check must see it.
func NewAuthorizationRepository(db *pgxpool.Pool, log *logger.Logger) repository.AuthorizationRepository {
	return &authorizationRepository{db: db, log: log}
}

func (r *authorizationRepository) FindGrant(ctx context.Context, principalID, projectID string) (*model.Grant, error) {
	query := `
		SELECT
			EXISTS (
				SELECT 1 FROM projects
				WHERE id = $2 AND owner_id = $1
			),
			EXISTS (
				SELECT 1 FROM proposals
				WHERE project_id = $2 AND freelancer_id = $1 AND withdrawn_at IS NULL
			)
	`

	grant := &model.Grant{}
	err := r.db.QueryRow(ctx, query, principalID, projectID).Scan(&grant.IsOwner, &grant.HasProposal)
	if err != nil {
		r.log.Error("failed to load authorization grant",
			zap.Error(err),
			zap.String("principalID", principalID),
			zap.String("projectID", projectID),
		)
		return nil, err
	}

	return grant, nil
}
