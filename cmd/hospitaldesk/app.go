package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/hospitaldesk/internal/cache"
	"github.com/nkiryanov/hospitaldesk/internal/db"
	"github.com/nkiryanov/hospitaldesk/internal/handlers"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/repository/postgres"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/hospitaldesk/internal/service/janitor"
	"github.com/nkiryanov/hospitaldesk/internal/service/master"
	"github.com/nkiryanov/hospitaldesk/internal/service/notify"
	"github.com/nkiryanov/hospitaldesk/internal/service/otp"
	"github.com/nkiryanov/hospitaldesk/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	janitor *janitor.Janitor
	logger  logger.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
}

func NewServerApp(ctx context.Context, c *Config) (_ *ServerApp, err error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	app := &ServerApp{ListenAddr: c.ListenAddr, logger: log}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	// Connect to the database and run migrations
	app.pool, err = db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Reference data cache: redis if configured, process memory otherwise
	var store cache.Store = cache.NewMemoryStore()
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
		if err := app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis is not reachable. Err: %w", err)
		}
		store = cache.NewRedisStore(app.redis)
	}

	// Initialize repositories
	storage := postgres.NewStorage(app.pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		Issuer:     c.TokenIssuer,
		Audience:   c.TokenAudience,
		AccessTTL:  c.AccessTokenTTL,
		RefreshTTL: c.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	var sender notify.Sender = notify.LogSender{Logger: log, RevealBody: c.Environment == logger.EnvDevelopment}
	if c.NotifyURL != "" {
		sender = notify.NewWebhookSender(c.NotifyURL, log)
	}

	otpEngine := otp.NewEngine(otp.Config{TTL: c.OtpTTL, MaxAttempts: c.OtpMaxAttempts}, storage)
	otpService := otp.NewService(otpEngine, sender)
	masterService := master.NewService(storage, cache.New(store), nil)
	authService, err := auth.NewService(storage, nil, tokenManager, masterService, otpEngine)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	app.Handler = handlers.NewRouter(
		handlers.RouterConfig{
			CORSOrigins:       c.CORSOrigins,
			AuthRatePerMinute: c.AuthRatePerMinute,
		},
		authService,
		handlers.NewAuth(authService),
		handlers.NewOtp(otpService),
		handlers.NewMaster(masterService),
		handlers.NewUser(user.NewService(nil, storage)),
		log,
	)
	// Verified otp must survive until its redeem window is over
	app.janitor = janitor.New(janitor.Config{
		Interval:  c.JanitorInterval,
		Retention: otpEngine.RedeemWindow(),
	}, storage, log)

	return app, nil
}

// Run starts http server and background janitor, closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	janitorStopped := s.janitor.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-janitorStopped

	return err
}

// Close releases database and redis connections
func (s *ServerApp) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("error while closing redis client", "error", err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
