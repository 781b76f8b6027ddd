package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/hospitaldesk/internal/service/session"
)

const (
	TokenType = "Bearer"

	ReasonLogout    = "logout"
	ReasonTerminate = "terminated"
	ReasonLogoutAll = "logout_all"
	ReasonReset     = "password_reset"
)

// Source of branches user may log into
type BranchDirectory interface {
	// If branch not exists must return apperrors.ErrBranchNotFound
	Branch(ctx context.Context, branchID int64) (models.Branch, error)
}

// Verified otp consumer used by password reset
type OtpRedeemer interface {
	Redeem(ctx context.Context, userID int64, code string) error
}

type LoginParams struct {
	BranchID  int64
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

type LoginResult struct {
	User      models.User
	Roles     []string
	BranchID  int64
	SessionID int64 // 0 if session was not recorded
	Tokens    models.TokenPair
	TokenType string
	ExpiresIn time.Duration
	LoginInfo models.LoginInfo
}

type RefreshResult struct {
	SessionID int64
	Tokens    models.TokenPair
	TokenType string
	ExpiresIn time.Duration
}

// Auth service composes credentials, sessions, tokens and otp into login flows
type AuthService struct {
	storage  repository.Storage
	hasher   PasswordHasher
	tokens   *tokenmanager.TokenManager
	sessions *session.Service
	branches BranchDirectory
	otp      OtpRedeemer
}

func NewService(
	storage repository.Storage,
	hasher PasswordHasher,
	tokens *tokenmanager.TokenManager,
	branches BranchDirectory,
	otp OtpRedeemer,
) (*AuthService, error) {
	if storage == nil || tokens == nil || branches == nil || otp == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}

	// Set default bcrypt hasher if not provided by user
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	return &AuthService{
		storage:  storage,
		hasher:   hasher,
		tokens:   tokens,
		sessions: session.NewService(storage),
		branches: branches,
		otp:      otp,
	}, nil
}

// Login verifies credentials, records session and issues token pair
// Unknown user and wrong password are indistinguishable for caller
func (s *AuthService) Login(ctx context.Context, p LoginParams) (LoginResult, error) {
	log := logger.FromContext(ctx)

	p.Username = strings.TrimSpace(p.Username)
	if p.BranchID <= 0 || p.Username == "" || p.Password == "" {
		return LoginResult{}, fmt.Errorf("%w: branch, username and password are required", apperrors.ErrValidationFailed)
	}

	branch, err := s.branches.Branch(ctx, p.BranchID)
	if err != nil {
		return LoginResult{}, err
	}
	if !branch.IsActive {
		return LoginResult{}, apperrors.ErrBranchNotFound
	}

	user, err := s.storage.User().GetUserByUsername(ctx, p.Username)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		_ = DummyCompare(s.hasher, p.Password)
		return LoginResult{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return LoginResult{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, p.Password); err != nil {
		log.Info("login failed: wrong password", "user_id", user.ID)
		return LoginResult{}, apperrors.ErrInvalidCredentials
	}
	if !user.IsActive {
		return LoginResult{}, apperrors.ErrUserInactive
	}

	roles, err := s.storage.User().ListUserRoles(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}

	loginInfo := session.ParseLoginInfo(p.IPAddress, p.UserAgent)

	// Login works even if session was not recorded: it is telemetry, not a credential
	var sessionID int64
	created, err := s.sessions.Create(ctx, session.Meta{
		UserID:    user.ID,
		BranchID:  branch.ID,
		IPAddress: p.IPAddress,
		UserAgent: p.UserAgent,
	})
	if err != nil {
		log.Error("session not recorded, continue login without it", "user_id", user.ID, "error", err)
	} else {
		sessionID = created.ID
	}

	pair, err := s.tokens.IssuePair(identityOf(user, roles))
	if err != nil {
		return LoginResult{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	err = s.sessions.SaveRefreshToken(ctx, user.ID, sessionID, pair.Refresh.Value, pair.Refresh.ExpiresAt)
	if err != nil {
		log.Error("refresh token not saved", "user_id", user.ID, "session_id", sessionID, "error", err)
		return LoginResult{}, apperrors.ErrServerError
	}

	log.Info("user logged in", "user_id", user.ID, "branch_id", branch.ID, "session_id", sessionID)

	return LoginResult{
		User:      user,
		Roles:     roles,
		BranchID:  branch.ID,
		SessionID: sessionID,
		Tokens:    pair,
		TokenType: TokenType,
		ExpiresIn: s.tokens.AccessTTL(),
		LoginInfo: loginInfo,
	}, nil
}

// Refresh exchanges (possibly expired) access token and current refresh token for a new pair
// Only one of concurrent refreshes with the same refresh token succeeds
func (s *AuthService) Refresh(ctx context.Context, access string, refresh string) (RefreshResult, error) {
	claimed, err := s.tokens.ParseExpiredAccess(access)
	if err != nil {
		return RefreshResult{}, err
	}

	stored, err := s.sessions.ValidateRefreshToken(ctx, refresh)
	if err != nil {
		return RefreshResult{}, err
	}
	if stored.UserID != claimed.UserID {
		logger.FromContext(ctx).Warn("refresh token presented with foreign access token",
			"token_user_id", stored.UserID, "claimed_user_id", claimed.UserID)
		return RefreshResult{}, apperrors.ErrInvalidRefreshToken
	}

	identity, err := s.identity(ctx, stored.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound), errors.Is(err, apperrors.ErrUserInactive):
		return RefreshResult{}, apperrors.ErrInvalidRefreshToken
	case err != nil:
		return RefreshResult{}, err
	}

	pair, err := s.tokens.IssuePair(identity)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	rotated, err := s.sessions.Rotate(ctx, refresh, pair.Refresh.Value, pair.Refresh.ExpiresAt)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{
		SessionID: rotated.SessionID,
		Tokens:    pair,
		TokenType: TokenType,
		ExpiresIn: s.tokens.AccessTTL(),
	}, nil
}

// Logout ends own session and invalidates its refresh token
// Logging out ended session is no-op and returns false
func (s *AuthService) Logout(ctx context.Context, userID int64, sessionID int64, reason string) (bool, error) {
	if reason == "" {
		reason = ReasonLogout
	}
	return s.end(ctx, userID, sessionID, models.SessionLoggedOut, reason)
}

// TerminateSession ends another session of the same user (e.g. "log out other device")
func (s *AuthService) TerminateSession(ctx context.Context, userID int64, sessionID int64) (bool, error) {
	return s.end(ctx, userID, sessionID, models.SessionTerminated, ReasonTerminate)
}

func (s *AuthService) end(ctx context.Context, userID int64, sessionID int64, status models.SessionStatus, reason string) (bool, error) {
	if sessionID <= 0 {
		return false, fmt.Errorf("%w: session id must be positive", apperrors.ErrValidationFailed)
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}

	// Foreign session looks like not existed one
	if sess.UserID != userID {
		return false, apperrors.ErrSessionNotFound
	}

	return s.sessions.End(ctx, sessionID, status, reason)
}

// LogoutAll terminates every active session of the user. Returns number of ended sessions
func (s *AuthService) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	return s.sessions.EndAll(ctx, userID, models.SessionTerminated, ReasonLogoutAll)
}

// ResetPassword sets new password using verified otp and ends every session of the user
func (s *AuthService) ResetPassword(ctx context.Context, userID int64, code string, password string, confirm string) error {
	if password != confirm {
		return apperrors.ErrPasswordMismatch
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return apperrors.ErrUserInactive
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	if err := s.otp.Redeem(ctx, userID, code); err != nil {
		return err
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		if err := tx.User().UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}

		_, err := session.NewService(tx).EndAll(ctx, userID, models.SessionTerminated, ReasonReset)
		return err
	})
	if err != nil {
		return fmt.Errorf("can't reset password. Err: %w", err)
	}

	logger.FromContext(ctx).Info("password reset", "user_id", userID)
	return nil
}

// ChangePassword replaces password of authenticated user. Sessions are kept
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, oldPassword string, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.hasher.Compare(user.HashedPassword, oldPassword); err != nil {
		return apperrors.ErrInvalidCredentials
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return s.storage.User().UpdatePassword(ctx, userID, hash)
}

// Authenticate returns identity carried by valid access token
// Access tokens are stateless: no store is touched
func (s *AuthService) Authenticate(_ context.Context, access string) (models.Identity, error) {
	return s.tokens.ParseAccess(access)
}

// Me returns current state of the authenticated user
func (s *AuthService) Me(ctx context.Context, userID int64) (models.User, []string, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return models.User{}, nil, err
	}

	roles, err := s.storage.User().ListUserRoles(ctx, userID)
	if err != nil {
		return models.User{}, nil, err
	}

	return user, roles, nil
}

// Sessions of the user: active ones and paged login history
func (s *AuthService) Sessions(ctx context.Context, userID int64) ([]models.Session, error) {
	return s.sessions.List(ctx, userID)
}

func (s *AuthService) LoginHistory(ctx context.Context, userID int64, page int, pageSize int) (models.SessionPage, error) {
	return s.sessions.History(ctx, userID, page, pageSize)
}

func (s *AuthService) identity(ctx context.Context, userID int64) (models.Identity, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return models.Identity{}, err
	}
	if !user.IsActive {
		return models.Identity{}, apperrors.ErrUserInactive
	}

	roles, err := s.storage.User().ListUserRoles(ctx, userID)
	if err != nil {
		return models.Identity{}, err
	}

	return identityOf(user, roles), nil
}

func identityOf(user models.User, roles []string) models.Identity {
	return models.Identity{
		UserID:   user.ID,
		Username: user.Username,
		Email:    user.Email,
		Roles:    roles,
	}
}
