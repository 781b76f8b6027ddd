package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
)

const (
	CodeLength = 6

	defaultTTL          = 5 * time.Minute
	defaultMaxAttempts  = 5
	defaultRedeemWindow = 15 * time.Minute
)

// Result of otp verification
// Values are part of public API: clients branch on them
type Result int

const (
	ResultVerified     Result = 1
	ResultUserNotFound Result = -1
	ResultUserInactive Result = -2
	ResultNoActiveOtp  Result = -3 // never issued or expired
	ResultConsumed     Result = -4
	ResultExhausted    Result = -5
	ResultMismatch     Result = -6
)

func (r Result) String() string {
	switch r {
	case ResultVerified:
		return "verified"
	case ResultUserNotFound:
		return "user_not_found"
	case ResultUserInactive:
		return "user_inactive"
	case ResultNoActiveOtp:
		return "no_active_otp"
	case ResultConsumed:
		return "consumed"
	case ResultExhausted:
		return "exhausted"
	case ResultMismatch:
		return "mismatch"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// Err maps failed result to the application error, nil for ResultVerified
func (r Result) Err() error {
	switch r {
	case ResultVerified:
		return nil
	case ResultUserNotFound:
		return apperrors.ErrUserNotFound
	case ResultUserInactive:
		return apperrors.ErrUserInactive
	case ResultNoActiveOtp:
		return apperrors.ErrOtpExpired
	case ResultConsumed:
		return apperrors.ErrOtpConsumed
	case ResultExhausted:
		return apperrors.ErrOtpExhausted
	case ResultMismatch:
		return apperrors.ErrOtpMismatch
	default:
		return apperrors.ErrServerError
	}
}

type Config struct {
	// Lifetime of issued code
	TTL time.Duration

	// Wrong codes allowed before otp is exhausted
	MaxAttempts int

	// How long verified otp could be redeemed (e.g. to reset password)
	RedeemWindow time.Duration
}

// Engine keeps at most one live otp per user and channel
// Codes are stored as sha256 hashes only
type Engine struct {
	storage repository.Storage

	ttl          time.Duration
	maxAttempts  int
	redeemWindow time.Duration

	now func() time.Time
}

func NewEngine(cfg Config, storage repository.Storage) *Engine {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RedeemWindow <= 0 {
		cfg.RedeemWindow = defaultRedeemWindow
	}

	return &Engine{
		storage:      storage,
		ttl:          cfg.TTL,
		maxAttempts:  cfg.MaxAttempts,
		redeemWindow: cfg.RedeemWindow,
		now:          time.Now,
	}
}

func (e *Engine) TTL() time.Duration {
	return e.ttl
}

func (e *Engine) RedeemWindow() time.Duration {
	return e.redeemWindow
}

// Issue new code overwriting any previous otp of the channel
// Zero ttl means default one
func (e *Engine) Issue(ctx context.Context, userID int64, channel models.OtpChannel, ttl time.Duration) (string, error) {
	if !channel.Valid() {
		return "", fmt.Errorf("%w: unknown otp channel %q", apperrors.ErrValidationFailed, channel)
	}
	if ttl <= 0 {
		ttl = e.ttl
	}

	var previousHash string
	prev, err := e.storage.Otp().Get(ctx, userID, channel)
	switch {
	case err == nil:
		previousHash = prev.CodeHash
	case !errors.Is(err, apperrors.ErrOtpExpired):
		return "", err
	}

	// New code must differ from the one it replaces
	var code string
	for code == "" || hashCode(code) == previousHash {
		code, err = generateCode()
		if err != nil {
			return "", err
		}
	}

	otp, err := e.storage.Otp().Upsert(ctx, userID, channel, hashCode(code), e.now().Add(ttl))
	if err != nil {
		return "", fmt.Errorf("can't save otp. Err: %w", err)
	}

	logger.FromContext(ctx).Info("otp issued", "user_id", userID, "channel", channel, "expires_at", otp.ExpiresAt)
	return code, nil
}

// Verify code and consume otp on success
// Expected outcomes are returned as Result; error is returned only if storage failed
func (e *Engine) Verify(ctx context.Context, userID int64, channel models.OtpChannel, code string) (Result, error) {
	result, err := e.verify(ctx, userID, channel, code)
	if err != nil {
		return 0, err
	}

	logger.FromContext(ctx).Info("otp verification", "user_id", userID, "channel", channel, "result", result.String())
	return result, nil
}

func (e *Engine) verify(ctx context.Context, userID int64, channel models.OtpChannel, code string) (Result, error) {
	user, err := e.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return ResultUserNotFound, nil
	case err != nil:
		return 0, err
	case !user.IsActive:
		return ResultUserInactive, nil
	}

	otp, err := e.storage.Otp().Get(ctx, userID, channel)
	switch {
	case errors.Is(err, apperrors.ErrOtpExpired):
		return ResultNoActiveOtp, nil
	case err != nil:
		return 0, err
	}

	if result, done := e.classify(otp); done {
		return result, nil
	}

	if !codeMatches(code, otp.CodeHash) {
		attempts, err := e.storage.Otp().IncrementAttempts(ctx, otp.ID)
		switch {
		case errors.Is(err, apperrors.ErrOtpConsumed):
			return ResultConsumed, nil
		case err != nil:
			return 0, err
		case attempts >= e.maxAttempts:
			return ResultExhausted, nil
		default:
			return ResultMismatch, nil
		}
	}

	consumed, err := e.storage.Otp().Consume(ctx, otp.ID, otp.CodeHash, e.maxAttempts)
	if err != nil {
		return 0, err
	}
	if consumed {
		return ResultVerified, nil
	}

	// Lost the race: tell why looking at fresh state
	otp, err = e.storage.Otp().Get(ctx, userID, channel)
	switch {
	case errors.Is(err, apperrors.ErrOtpExpired):
		return ResultNoActiveOtp, nil
	case err != nil:
		return 0, err
	}
	if result, done := e.classify(otp); done {
		return result, nil
	}
	return ResultConsumed, nil
}

// Return failed result if otp can't be verified whatever code is
func (e *Engine) classify(otp models.Otp) (Result, bool) {
	switch {
	case otp.ConsumedAt != nil:
		return ResultConsumed, true
	case !otp.ExpiresAt.After(e.now()):
		return ResultNoActiveOtp, true
	case otp.Attempts >= e.maxAttempts:
		return ResultExhausted, true
	default:
		return 0, false
	}
}

// Redeem verified otp of any channel exactly once
// Otp must be verified not earlier than redeem window ago
func (e *Engine) Redeem(ctx context.Context, userID int64, code string) error {
	redeemed, err := e.storage.Otp().Redeem(ctx, userID, hashCode(code), e.now().Add(-e.redeemWindow))
	if err != nil {
		return err
	}
	if !redeemed {
		return apperrors.ErrOtpExpired
	}

	return nil
}

// Uniformly distributed numeric code of CodeLength digits, leading zeros kept
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("error while generate otp. Err: %w", err)
	}

	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

func hashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

func codeMatches(code string, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashCode(code)), []byte(storedHash)) == 1
}
