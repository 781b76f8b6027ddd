package repository

import (
	"context"
	"time"

	"github.com/nkiryanov/hospitaldesk/internal/models"
)

// Storage gives access to all repositories sharing one connection (or one transaction)
type Storage interface {
	User() UserRepo
	Session() SessionRepo
	Refresh() RefreshTokenRepo
	Otp() OtpRepo
	Master() MasterRepo
	Doctor() DoctorRepo

	// Run fn in transaction
	// Commit if fn returns nil, rollback on error or panic
	InTx(ctx context.Context, fn func(Storage) error) error
}

type CreateUserParams struct {
	Username       string
	HashedPassword string
	FullName       string
	Contact        string
	Email          string
}

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUsernameExists
	CreateUser(ctx context.Context, params CreateUserParams) (models.User, error)

	// Get user by it's id or username (case-sensitive)
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID int64) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Role names assigned to the user, sorted by name
	ListUserRoles(ctx context.Context, userID int64) ([]string, error)

	// Assign role by its name
	// If role not exists must return apperrors.ErrRoleNotFound
	AssignRole(ctx context.Context, userID int64, role string) error

	// If user not found must return apperrors.ErrUserNotFound
	UpdatePassword(ctx context.Context, userID int64, hashedPassword string) error
	SetActive(ctx context.Context, userID int64, active bool) error
}

// Session repository interface
type SessionRepo interface {
	// Create session in Active status; ID and timestamps are set by storage
	Create(ctx context.Context, s models.Session) (models.Session, error)

	// If session not found must return apperrors.ErrSessionNotFound
	Get(ctx context.Context, sessionID int64) (models.Session, error)

	// Move Active session to the terminal status
	// Return false if session is not Active (or not exists): status never changes twice
	End(ctx context.Context, sessionID int64, status models.SessionStatus, reason string) (bool, error)

	// End every Active session of the user. Returns ended sessions ids
	EndAllForUser(ctx context.Context, userID int64, status models.SessionStatus, reason string) ([]int64, error)

	// Update last activity time of Active session
	Touch(ctx context.Context, sessionID int64) error

	// Active sessions of the user, newest login first
	ListActive(ctx context.Context, userID int64) ([]models.Session, error)

	// All sessions of the user, newest login first
	List(ctx context.Context, userID int64, limit int, offset int) (sessions []models.Session, total int64, err error)
}

// RefreshToken repository interface
type RefreshTokenRepo interface {
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token even if it expired or invalidated
	// If token not found must return apperrors.ErrInvalidRefreshToken
	Get(ctx context.Context, token string) (models.RefreshToken, error)

	// Replace valid not expired token with the new one (compare-and-swap)
	// If old token is unknown, invalid, expired or rotated already must return apperrors.ErrInvalidRefreshToken
	Rotate(ctx context.Context, oldToken string, newToken string, expiresAt time.Time) (models.RefreshToken, error)

	// Mark tokens invalid. Return false (or 0) if nothing changed
	InvalidateBySession(ctx context.Context, sessionID int64) (bool, error)
	InvalidateByUser(ctx context.Context, userID int64) (int64, error)

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Otp repository interface
// There is at most one otp per user and channel
type OtpRepo interface {
	// Create otp or overwrite existed one resetting attempts and consumption
	Upsert(ctx context.Context, userID int64, channel models.OtpChannel, codeHash string, expiresAt time.Time) (models.Otp, error)

	// If otp not found must return apperrors.ErrOtpExpired
	Get(ctx context.Context, userID int64, channel models.OtpChannel) (models.Otp, error)

	// Increment attempts of not consumed otp and return the new value
	IncrementAttempts(ctx context.Context, otpID int64) (int, error)

	// Mark otp consumed if it still matches codeHash, not consumed, not expired and has attempts left
	// Return false if any condition was not met (e.g. concurrent verification won)
	Consume(ctx context.Context, otpID int64, codeHash string, maxAttempts int) (bool, error)

	// Mark verified otp redeemed if it was consumed after verifiedAfter and never redeemed
	Redeem(ctx context.Context, userID int64, codeHash string, verifiedAfter time.Time) (bool, error)

	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Reference data repository
// Lists return full tables ordered by id: filtering is up to caller
type MasterRepo interface {
	ListBranches(ctx context.Context) ([]models.Branch, error)

	// If branch code exists must return apperrors.ErrBranchCodeExists
	CreateBranch(ctx context.Context, b models.Branch) (models.Branch, error)

	// If branch not found must return apperrors.ErrBranchNotFound
	UpdateBranch(ctx context.Context, b models.Branch) (models.Branch, error)

	ListRoles(ctx context.Context) ([]models.Role, error)
	ListMenus(ctx context.Context) ([]models.Menu, error)

	ListVendors(ctx context.Context) ([]models.Vendor, error)
	CreateVendor(ctx context.Context, v models.Vendor) (models.Vendor, error)

	// If vendor not found must return apperrors.ErrVendorNotFound
	SetVendorActive(ctx context.Context, vendorID int64, active bool) error
}

type DoctorRepo interface {
	ListDoctors(ctx context.Context) ([]models.Doctor, error)
	CreateDoctor(ctx context.Context, d models.Doctor) (models.Doctor, error)

	// If doctor not found must return apperrors.ErrDoctorNotFound
	SetDoctorActive(ctx context.Context, doctorID int64, active bool) error
}
