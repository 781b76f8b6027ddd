package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/handlers/userctx"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

const bearerScheme = "Bearer "

type authenticator interface {
	Authenticate(ctx context.Context, access string) (models.Identity, error)
}

// Auth puts identity of bearer access token to request context
// Requests without valid token are rejected with 401
func Auth(a authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, ok := BearerToken(r)
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := a.Authenticate(r.Context(), access)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrExpiredToken):
				render.ServiceError(w, "Access token expired", http.StatusUnauthorized)
				return
			default:
				logger.FromContext(r.Context()).Warn("access token rejected", "error", err)
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := userctx.New(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles lets through identities having any of roles
// Must be used after Auth
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := userctx.FromContext(r.Context())
			if !ok {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !slices.ContainsFunc(identity.Roles, func(role string) bool { return slices.Contains(roles, role) }) {
				render.ServiceError(w, "Forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts token from "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) <= len(bearerScheme) || !strings.EqualFold(header[:len(bearerScheme)], bearerScheme) {
		return "", false
	}

	token := strings.TrimSpace(header[len(bearerScheme):])
	return token, token != ""
}
