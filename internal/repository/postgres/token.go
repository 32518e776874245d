package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/towndir/internal/model"
	"github.com/jwalitptl/towndir/internal/repository"
)

const tokenColumns = `token_hash, kind, user_id, person_id, expires_at, revoked_at, created_at`

type tokenRepository struct {
	BaseRepository
}

func NewTokenRepository(base BaseRepository) repository.TokenRepository {
	return &tokenRepository{base}
}

func (r *tokenRepository) Create(ctx context.Context, token *model.Token) error {
	query := `
		INSERT INTO email_tokens (` + tokenColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	token.ExpiresAt = dbTime(token.ExpiresAt)
	token.CreatedAt = dbTime(token.CreatedAt)
	_, err := r.db.ExecContext(ctx, r.q(query),
		token.Hash,
		token.Kind,
		token.UserID,
		token.PersonID,
		token.ExpiresAt,
		dbTimePtr(token.RevokedAt),
		token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (r *tokenRepository) GetByHash(ctx context.Context, hash string) (*model.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM email_tokens WHERE token_hash = ?`

	var token model.Token
	if err := r.db.GetContext(ctx, &token, r.q(query), hash); err != nil {
		return nil, fmt.Errorf("failed to get token: %w", notFound(err))
	}
	return &token, nil
}

func (r *tokenRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	query := `
		UPDATE email_tokens
		SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, r.q(query), dbTime(at), hash)
	if err != nil {
		return false, fmt.Errorf("failed to revoke token: %w", err)
	}
	n, err := affected(res)
	return n > 0, err
}

func (r *tokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM email_tokens WHERE expires_at < ?`), dbTime(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	return affected(res)
}

type optOutRepository struct {
	BaseRepository
}

func NewOptOutRepository(base BaseRepository) repository.OptOutRepository {
	return &optOutRepository{base}
}

const allPersonsScope = "*"

func scopeKey(personID *uuid.UUID) string {
	if personID == nil {
		return allPersonsScope
	}
	return personID.String()
}

func (r *optOutRepository) Add(ctx context.Context, o *model.OptOut) error {
	query := `
		INSERT INTO email_opt_outs (user_id, scope_key, person_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, scope_key) DO NOTHING
	`

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.CreatedAt = dbTime(o.CreatedAt)

	if _, err := r.db.ExecContext(ctx, r.q(query), o.UserID, scopeKey(o.PersonID), o.PersonID, o.CreatedAt); err != nil {
		return fmt.Errorf("failed to record opt-out: %w", err)
	}
	return nil
}

func (r *optOutRepository) IsOptedOut(ctx context.Context, userID uuid.UUID, personID *uuid.UUID) (bool, error) {
	query := `SELECT COUNT(*) FROM email_opt_outs WHERE user_id = ? AND scope_key IN (?, ?)`

	var n int
	if err := r.db.GetContext(ctx, &n, r.q(query), userID, allPersonsScope, scopeKey(personID)); err != nil {
		return false, fmt.Errorf("failed to check opt-out: %w", err)
	}
	return n > 0, nil
}

func (r *optOutRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*model.OptOut, error) {
	query := `
		SELECT user_id, person_id, created_at
		FROM email_opt_outs
		WHERE user_id = ?
		ORDER BY created_at, scope_key
	`

	rows := []*model.OptOut{}
	if err := r.db.SelectContext(ctx, &rows, r.q(query), userID); err != nil {
		return nil, fmt.Errorf("failed to list opt-outs: %w", err)
	}
	return rows, nil
}
