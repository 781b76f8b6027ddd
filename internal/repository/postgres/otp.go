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

type OtpRepo struct {
	DB DBTX
}

const otpColumns = `id, user_id, channel, code_hash, expires_at, attempts, consumed_at, redeemed_at, created_at`

const upsertOtp = `-- name: UpsertOtp
INSERT INTO otps (user_id, channel, code_hash, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, channel) DO UPDATE
SET code_hash = EXCLUDED.code_hash,
    expires_at = EXCLUDED.expires_at,
    attempts = 0,
    consumed_at = NULL,
    redeemed_at = NULL,
    created_at = now()
RETURNING ` + otpColumns

func (r *OtpRepo) Upsert(ctx context.Context, userID int64, channel models.OtpChannel, codeHash string, expiresAt time.Time) (models.Otp, error) {
	rows, _ := r.DB.Query(ctx, upsertOtp, userID, channel, codeHash, expiresAt)
	otp, err := pgx.CollectOneRow(rows, rowToOtp)
	if err != nil {
		return otp, fmt.Errorf("db error: %w", err)
	}
	return otp, nil
}

const getOtp = `-- name: GetOtp
SELECT ` + otpColumns + ` FROM otps
WHERE user_id = $1 AND channel = $2
`

func (r *OtpRepo) Get(ctx context.Context, userID int64, channel models.OtpChannel) (models.Otp, error) {
	rows, _ := r.DB.Query(ctx, getOtp, userID, channel)
	otp, err := pgx.CollectOneRow(rows, rowToOtp)

	switch {
	case err == nil:
		return otp, nil
	case errors.Is(err, pgx.ErrNoRows):
		return otp, apperrors.ErrOtpExpired
	default:
		return otp, fmt.Errorf("db error: %w", err)
	}
}

const incrementOtpAttempts = `-- name: IncrementOtpAttempts
UPDATE otps
SET attempts = attempts + 1
WHERE id = $1 AND consumed_at IS NULL
RETURNING attempts
`

func (r *OtpRepo) IncrementAttempts(ctx context.Context, otpID int64) (int, error) {
	rows, _ := r.DB.Query(ctx, incrementOtpAttempts, otpID)
	attempts, err := pgx.CollectOneRow(rows, pgx.RowTo[int])

	switch {
	case err == nil:
		return attempts, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Consumed or overwritten concurrently
		return 0, apperrors.ErrOtpConsumed
	default:
		return 0, fmt.Errorf("db error: %w", err)
	}
}

const consumeOtp = `-- name: ConsumeOtp
UPDATE otps
SET consumed_at = now()
WHERE id = $1
  AND code_hash = $2
  AND consumed_at IS NULL
  AND expires_at > now()
  AND attempts < $3
`

func (r *OtpRepo) Consume(ctx context.Context, otpID int64, codeHash string, maxAttempts int) (bool, error) {
	tag, err := r.DB.Exec(ctx, consumeOtp, otpID, codeHash, maxAttempts)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const redeemOtp = `-- name: RedeemOtp
UPDATE otps
SET redeemed_at = now()
WHERE id = (
    SELECT id FROM otps
    WHERE user_id = $1
      AND code_hash = $2
      AND consumed_at > $3
      AND redeemed_at IS NULL
    ORDER BY consumed_at DESC
    LIMIT 1
)
AND redeemed_at IS NULL
`

func (r *OtpRepo) Redeem(ctx context.Context, userID int64, codeHash string, verifiedAfter time.Time) (bool, error) {
	tag, err := r.DB.Exec(ctx, redeemOtp, userID, codeHash, verifiedAfter)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const deleteExpiredOtps = `-- name: DeleteExpiredOtps
DELETE FROM otps
WHERE expires_at < $1
`

func (r *OtpRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredOtps, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToOtp(row pgx.CollectableRow) (models.Otp, error) {
	var o models.Otp
	err := row.Scan(&o.ID, &o.UserID, &o.Channel, &o.CodeHash, &o.ExpiresAt, &o.Attempts, &o.ConsumedAt, &o.RedeemedAt, &o.CreatedAt)
	return o, err
}
