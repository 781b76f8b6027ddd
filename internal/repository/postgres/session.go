package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

type SessionRepo struct {
	DB DBTX
}

const sessionColumns = `id, user_id, branch_id, user_agent, ip_address, browser, browser_version, os, device, device_type,
	status, login_time, last_activity_time, logout_time, logout_reason`

const createSession = `-- name: CreateSession
INSERT INTO sessions (user_id, branch_id, user_agent, ip_address, browser, browser_version, os, device, device_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + sessionColumns

func (r *SessionRepo) Create(ctx context.Context, s models.Session) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, createSession,
		s.UserID, s.BranchID, s.UserAgent,
		s.IPAddress, s.Browser, s.BrowserVersion, s.OS, s.Device, s.DeviceType,
	)
	session, err := pgx.CollectOneRow(rows, rowToSession)
	if err != nil {
		return session, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

const getSession = `-- name: GetSession
SELECT ` + sessionColumns + ` FROM sessions
WHERE id = $1
`

func (r *SessionRepo) Get(ctx context.Context, sessionID int64) (models.Session, error) {
	rows, _ := r.DB.Query(ctx, getSession, sessionID)
	session, err := pgx.CollectOneRow(rows, rowToSession)

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, pgx.ErrNoRows):
		return session, apperrors.ErrSessionNotFound
	default:
		return session, fmt.Errorf("db error: %w", err)
	}
}

const endSession = `-- name: EndSession
UPDATE sessions
SET status = $2, logout_reason = $3, logout_time = now(), last_activity_time = now()
WHERE id = $1 AND status = 'Active'
`

func (r *SessionRepo) End(ctx context.Context, sessionID int64, status models.SessionStatus, reason string) (bool, error) {
	tag, err := r.DB.Exec(ctx, endSession, sessionID, status, reason)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

const endAllSessions = `-- name: EndAllSessions
UPDATE sessions
SET status = $2, logout_reason = $3, logout_time = now(), last_activity_time = now()
WHERE user_id = $1 AND status = 'Active'
RETURNING id
`

func (r *SessionRepo) EndAllForUser(ctx context.Context, userID int64, status models.SessionStatus, reason string) ([]int64, error) {
	rows, _ := r.DB.Query(ctx, endAllSessions, userID, status, reason)
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return ids, nil
}

const touchSession = `-- name: TouchSession
UPDATE sessions
SET last_activity_time = now()
WHERE id = $1 AND status = 'Active'
`

func (r *SessionRepo) Touch(ctx context.Context, sessionID int64) error {
	_, err := r.DB.Exec(ctx, touchSession, sessionID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const listActiveSessions = `-- name: ListActiveSessions
SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1 AND status = 'Active'
ORDER BY login_time DESC, id DESC
`

func (r *SessionRepo) ListActive(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, _ := r.DB.Query(ctx, listActiveSessions, userID)
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return sessions, nil
}

const listSessions = `-- name: ListSessions
SELECT ` + sessionColumns + ` FROM sessions
WHERE user_id = $1
ORDER BY login_time DESC, id DESC
LIMIT $2 OFFSET $3
`

const countSessions = `-- name: CountSessions
SELECT count(*) FROM sessions
WHERE user_id = $1
`

func (r *SessionRepo) List(ctx context.Context, userID int64, limit int, offset int) ([]models.Session, int64, error) {
	var total int64
	err := r.DB.QueryRow(ctx, countSessions, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	rows, _ := r.DB.Query(ctx, listSessions, userID, limit, offset)
	sessions, err := pgx.CollectRows(rows, rowToSession)
	if err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	return sessions, total, nil
}

func rowToSession(row pgx.CollectableRow) (models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID, &s.UserID, &s.BranchID, &s.UserAgent,
		&s.IPAddress, &s.Browser, &s.BrowserVersion, &s.OS, &s.Device, &s.DeviceType,
		&s.Status, &s.LoginTime, &s.LastActivityTime, &s.LogoutTime, &s.LogoutReason,
	)
	return s, err
}
