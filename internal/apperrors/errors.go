package apperrors

import (
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserInactive       = errors.New("user is inactive")
	ErrUsernameExists     = errors.New("username already exists")
	ErrPasswordMismatch   = errors.New("password and confirmation do not match")

	ErrInvalidToken        = errors.New("access token is invalid")
	ErrExpiredToken        = errors.New("access token is expired")
	ErrInvalidRefreshToken = errors.New("refresh token is invalid")

	ErrSessionNotFound = errors.New("session not found")

	ErrOtpExpired          = errors.New("otp is expired or not issued")
	ErrOtpExhausted        = errors.New("otp attempts exhausted")
	ErrOtpMismatch         = errors.New("otp does not match")
	ErrOtpConsumed         = errors.New("otp is already used")
	ErrDestinationMismatch = errors.New("destination does not match registered one")

	ErrBranchNotFound   = errors.New("branch not found")
	ErrBranchCodeExists = errors.New("branch code already exists")
	ErrDoctorNotFound   = errors.New("doctor not found")
	ErrVendorNotFound   = errors.New("vendor not found")
	ErrRoleNotFound     = errors.New("role not found")

	ErrValidationFailed = errors.New("validation failed")
	ErrServerError      = errors.New("internal server error")
)

// DestinationError carries the masked registered destination, so callers may hint the user
// without leaking the value itself.
type DestinationError struct {
	Masked string
}

func (e *DestinationError) Error() string {
	return ErrDestinationMismatch.Error()
}

func (e *DestinationError) Unwrap() error {
	return ErrDestinationMismatch
}
