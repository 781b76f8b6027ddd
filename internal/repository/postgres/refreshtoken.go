package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshTokenColumns = `id, COALESCE(session_id, 0), user_id, token, created_at, expires_at, is_valid, rotated_at`

// Session id 0 means login was not recorded, such tokens are stored without session
const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (session_id, user_id, token, expires_at)
VALUES (NULLIF($1::bigint, 0), $2, $3, $4)
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveToken, token.SessionID, token.UserID, token.Token, token.ExpiresAt)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getToken = `-- name: GetRefreshToken
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token = $1
`

func (r *RefreshTokenRepo) Get(ctx context.Context, token string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, token)
	return collectRefreshToken(rows)
}

// The WHERE clause is the compare-and-swap: only one of concurrent rotations matches the old value
const rotateToken = `-- name: RotateRefreshToken
UPDATE refresh_tokens
SET token = $2, expires_at = $3, rotated_at = now()
WHERE token = $1 AND is_valid AND expires_at > now()
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldToken string, newToken string, expiresAt time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, rotateToken, oldToken, newToken, expiresAt)
	return collectRefreshToken(rows)
}

const invalidateBySession = `-- name: InvalidateRefreshTokenBySession
UPDATE refresh_tokens
SET is_valid = FALSE
WHERE session_id = $1 AND is_valid
`

func (r *RefreshTokenRepo) InvalidateBySession(ctx context.Context, sessionID int64) (bool, error) {
	tag, err := r.DB.Exec(ctx, invalidateBySession, sessionID)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const invalidateByUser = `-- name: InvalidateRefreshTokensByUser
UPDATE refresh_tokens
SET is_valid = FALSE
WHERE user_id = $1 AND is_valid
`

func (r *RefreshTokenRepo) InvalidateByUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.DB.Exec(ctx, invalidateByUser, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredTokens = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectRefreshToken(rows pgx.Rows) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrInvalidRefreshToken)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.SessionID, &t.UserID, &t.Token, &t.CreatedAt, &t.ExpiresAt, &t.IsValid, &t.RotatedAt)
	return t, err
}
