package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/service/notify"
)

// writeError maps service error to response
// Errors not known here are logged and never shown to client
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var destErr *apperrors.DestinationError
	var deliveryErr *notify.DeliveryError

	switch {
	case errors.As(err, &destErr):
		render.ServiceError(w, "Destination does not match registered one "+destErr.Masked, http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrValidationFailed):
		render.ServiceError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrPasswordMismatch):
		render.ServiceError(w, "Password and confirmation do not match", http.StatusBadRequest)

	case errors.Is(err, apperrors.ErrInvalidCredentials):
		render.ServiceError(w, "Invalid username or password", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrExpiredToken):
		render.ServiceError(w, "Access token expired", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInvalidToken):
		render.ServiceError(w, "Access token is invalid", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrInvalidRefreshToken):
		render.ServiceError(w, "Refresh token is invalid", http.StatusUnauthorized)
	case errors.Is(err, apperrors.ErrUserInactive):
		render.ServiceError(w, "User is inactive", http.StatusForbidden)

	case errors.Is(err, apperrors.ErrUserNotFound):
		render.ServiceError(w, "User not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrSessionNotFound):
		render.ServiceError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrBranchNotFound):
		render.ServiceError(w, "Branch not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrDoctorNotFound):
		render.ServiceError(w, "Doctor not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrVendorNotFound):
		render.ServiceError(w, "Vendor not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrRoleNotFound):
		render.ServiceError(w, "Role not found", http.StatusNotFound)

	case errors.Is(err, apperrors.ErrUsernameExists):
		render.ServiceError(w, "Username already exists", http.StatusConflict)
	case errors.Is(err, apperrors.ErrBranchCodeExists):
		render.ServiceError(w, "Branch code already exists", http.StatusConflict)

	case errors.Is(err, apperrors.ErrOtpExpired),
		errors.Is(err, apperrors.ErrOtpConsumed),
		errors.Is(err, apperrors.ErrOtpExhausted),
		errors.Is(err, apperrors.ErrOtpMismatch):
		render.ServiceError(w, "Verified otp not found or expired", http.StatusUnprocessableEntity)

	case errors.As(err, &deliveryErr) && deliveryErr.Code == notify.CodeRetryAfter:
		w.Header().Set("Retry-After", strconv.Itoa(max(1, int(deliveryErr.RetryAfter.Seconds()))))
		render.ServiceError(w, "Code could not be delivered now, try again later", http.StatusServiceUnavailable)

	default:
		logger.FromContext(r.Context()).Error("request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
