package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
)

const (
	MaxPageSize = 100

	unknown = "Unknown"
)

// Request data new session is created from
type Meta struct {
	UserID    int64
	BranchID  int64
	IPAddress string
	UserAgent string
}

// Registry of user sessions and their refresh tokens
type Service struct {
	storage repository.Storage
}

func NewService(storage repository.Storage) *Service {
	return &Service{storage: storage}
}

// Create Active session
func (s *Service) Create(ctx context.Context, meta Meta) (models.Session, error) {
	session, err := s.storage.Session().Create(ctx, models.Session{
		UserID:    meta.UserID,
		BranchID:  meta.BranchID,
		UserAgent: meta.UserAgent,
		LoginInfo: ParseLoginInfo(meta.IPAddress, meta.UserAgent),
	})
	if err != nil {
		return session, fmt.Errorf("can't create session. Err: %w", err)
	}

	logger.FromContext(ctx).Info("session created", "session_id", session.ID, "user_id", session.UserID)
	return session, nil
}

// Save refresh token bound to the session
// Zero sessionID means session was not recorded
func (s *Service) SaveRefreshToken(ctx context.Context, userID int64, sessionID int64, token string, expiresAt time.Time) error {
	_, err := s.storage.Refresh().Save(ctx, models.RefreshToken{
		UserID:    userID,
		SessionID: sessionID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return fmt.Errorf("can't save refresh token. Err: %w", err)
	}

	return nil
}

// Return refresh token if it could be used to refresh tokens right now
// Unknown, invalidated, expired tokens or tokens of ended sessions give apperrors.ErrInvalidRefreshToken
func (s *Service) ValidateRefreshToken(ctx context.Context, token string) (models.RefreshToken, error) {
	refresh, err := s.storage.Refresh().Get(ctx, token)
	if err != nil {
		return refresh, err
	}

	if !refresh.IsValid || !refresh.ExpiresAt.After(time.Now()) {
		return refresh, apperrors.ErrInvalidRefreshToken
	}

	if refresh.SessionID == 0 {
		return refresh, nil
	}

	session, err := s.storage.Session().Get(ctx, refresh.SessionID)
	switch {
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return refresh, apperrors.ErrInvalidRefreshToken
	case err != nil:
		return refresh, err
	case !session.IsActive():
		return refresh, apperrors.ErrInvalidRefreshToken
	}

	return refresh, nil
}

// Swap old refresh token with new one and mark session activity
// Locks refresh token row first and session row second; End and EndAll keep that order
// Only one of concurrent rotations of the same token wins, others get apperrors.ErrInvalidRefreshToken
func (s *Service) Rotate(ctx context.Context, oldToken string, newToken string, expiresAt time.Time) (models.RefreshToken, error) {
	var rotated models.RefreshToken

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		var err error
		rotated, err = tx.Refresh().Rotate(ctx, oldToken, newToken, expiresAt)
		if err != nil {
			return err
		}

		if rotated.SessionID == 0 {
			return nil
		}
		return tx.Session().Touch(ctx, rotated.SessionID)
	})

	return rotated, err
}

// Move Active session to the terminal status. Return false if session was not Active
func (s *Service) UpdateStatus(ctx context.Context, sessionID int64, status models.SessionStatus, reason string) (bool, error) {
	if status != models.SessionLoggedOut && status != models.SessionTerminated {
		return false, fmt.Errorf("%w: session can't be moved to %q", apperrors.ErrValidationFailed, status)
	}

	return s.storage.Session().End(ctx, sessionID, status, reason)
}

// Invalidate refresh token of the session. Return false if there was nothing to invalidate
func (s *Service) InvalidateRefreshToken(ctx context.Context, sessionID int64) (bool, error) {
	return s.storage.Refresh().InvalidateBySession(ctx, sessionID)
}

// End session and invalidate its refresh token atomically
// Ending not Active session is no-op and returns false
func (s *Service) End(ctx context.Context, sessionID int64, status models.SessionStatus, reason string) (bool, error) {
	var ended bool

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		registry := NewService(tx)

		// Refresh token row is locked before session row, the same order Rotate takes them
		if _, err := registry.InvalidateRefreshToken(ctx, sessionID); err != nil {
			return err
		}

		var err error
		ended, err = registry.UpdateStatus(ctx, sessionID, status, reason)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("can't end session. Err: %w", err)
	}

	if ended {
		logger.FromContext(ctx).Info("session ended", "session_id", sessionID, "status", status, "reason", reason)
	}
	return ended, nil
}

// End every Active session of the user and invalidate all user refresh tokens
// Return number of ended sessions
func (s *Service) EndAll(ctx context.Context, userID int64, status models.SessionStatus, reason string) (int64, error) {
	var ended []int64

	err := s.storage.InTx(ctx, func(tx repository.Storage) error {
		if _, err := tx.Refresh().InvalidateByUser(ctx, userID); err != nil {
			return err
		}

		var err error
		ended, err = tx.Session().EndAllForUser(ctx, userID, status, reason)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("can't end user sessions. Err: %w", err)
	}

	logger.FromContext(ctx).Info("user sessions ended", "user_id", userID, "count", len(ended), "reason", reason)
	return int64(len(ended)), nil
}

func (s *Service) Get(ctx context.Context, sessionID int64) (models.Session, error) {
	return s.storage.Session().Get(ctx, sessionID)
}

// Active sessions of the user, newest first
func (s *Service) List(ctx context.Context, userID int64) ([]models.Session, error) {
	return s.storage.Session().ListActive(ctx, userID)
}

// Login history of the user, newest first
// Page is 1-based, page size is capped at MaxPageSize
func (s *Service) History(ctx context.Context, userID int64, page int, pageSize int) (models.SessionPage, error) {
	if page < 1 || pageSize < 1 {
		return models.SessionPage{}, fmt.Errorf("%w: page and pageSize must be positive", apperrors.ErrValidationFailed)
	}
	pageSize = min(pageSize, MaxPageSize)

	items, total, err := s.storage.Session().List(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return models.SessionPage{}, err
	}

	return models.SessionPage{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// ParseLoginInfo extracts device data from the user agent
// Fields that could not be detected are "Unknown"
func ParseLoginInfo(ipAddress string, userAgent string) models.LoginInfo {
	info := models.LoginInfo{
		IPAddress:      ipAddress,
		Browser:        unknown,
		BrowserVersion: unknown,
		OS:             unknown,
		Device:         unknown,
		DeviceType:     unknown,
	}

	if strings.TrimSpace(userAgent) == "" {
		return info
	}

	ua := useragent.New(userAgent)

	name, version := ua.Browser()
	info.Browser = orUnknown(name)
	info.BrowserVersion = orUnknown(version)
	info.OS = orUnknown(ua.OSInfo().FullName)
	info.Device = orUnknown(ua.Platform())

	switch {
	case ua.Bot():
		info.DeviceType = "Bot"
	case strings.Contains(userAgent, "iPad") || strings.Contains(userAgent, "Tablet"):
		info.DeviceType = "Tablet"
	case ua.Mobile():
		info.DeviceType = "Mobile"
	default:
		info.DeviceType = "Desktop"
	}

	return info
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
