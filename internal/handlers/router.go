package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/middleware"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

const adminRole = "admin"

type authenticator interface {
	Authenticate(ctx context.Context, access string) (models.Identity, error)
}

type RouterConfig struct {
	CORSOrigins []string

	// Per client ip limit of login and otp requests
	AuthRatePerMinute int
}

func NewRouter(
	cfg RouterConfig,
	authenticator authenticator,
	authHandler *AuthHandler,
	otpHandler *OtpHandler,
	masterHandler *MasterHandler,
	userHandler *UserHandler,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.Auth(authenticator)
	adminOnly := middleware.RequireRoles(adminRole)
	rateLimit := middleware.NewRateLimit(cfg.AuthRatePerMinute)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(rateLimit.Handler).Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)

			r.Route("/otp", func(r chi.Router) {
				r.Use(rateLimit.Handler)
				r.Post("/sms/send", otpHandler.SendSms)
				r.Post("/email/send", otpHandler.SendEmail)
				r.Post("/sms/verify", otpHandler.VerifySms)
				r.Post("/email/verify", otpHandler.VerifyEmail)
			})
			r.With(rateLimit.Handler).Post("/password/reset", authHandler.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(withAuth)
				r.Post("/logout", authHandler.Logout)
				r.Post("/logout-all", authHandler.LogoutAll)
				r.Post("/sessions/{sessionID}/terminate", authHandler.TerminateSession)
				r.Get("/sessions", authHandler.Sessions)
				r.Get("/login-history", authHandler.LoginHistory)
				r.Get("/me", authHandler.Me)
				r.Post("/password/change", authHandler.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(withAuth)

			r.Get("/branches", masterHandler.ListBranches)
			r.With(adminOnly).Post("/branches", masterHandler.CreateBranch)
			r.With(adminOnly).Put("/branches/{id}", masterHandler.UpdateBranch)

			r.Get("/roles", masterHandler.ListRoles)
			r.Get("/menus", masterHandler.ListMenus)

			r.Get("/doctors", masterHandler.ListDoctors)
			r.With(adminOnly).Post("/doctors", masterHandler.CreateDoctor)
			r.With(adminOnly).Patch("/doctors/{id}/active", masterHandler.SetDoctorActive)

			r.Get("/vendors", masterHandler.ListVendors)
			r.With(adminOnly).Post("/vendors", masterHandler.CreateVendor)
			r.With(adminOnly).Patch("/vendors/{id}/active", masterHandler.SetVendorActive)
		})
	})

	return r
}
