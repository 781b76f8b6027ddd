package janitor

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultRetention = 15 * time.Minute
)

type Config struct {
	// How often expired rows are swept
	Interval time.Duration

	// Rows are kept this long after expiry
	// Must cover otp redeem window, so verified otp is not deleted before it is redeemed
	Retention time.Duration
}

// Janitor deletes expired otps and refresh tokens in background
type Janitor struct {
	interval  time.Duration
	retention time.Duration
	storage   repository.Storage
	logger    logger.Logger

	now func() time.Time
}

// Rows deleted by one sweep
type Stats struct {
	Otps          int64
	RefreshTokens int64
}

func New(cfg Config, storage repository.Storage, logger logger.Logger) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}

	return &Janitor{
		interval:  cfg.Interval,
		retention: cfg.Retention,
		storage:   storage,
		logger:    logger,
		now:       time.Now,
	}
}

// Run sweeps every interval until ctx is done
// Returned channel is closed when janitor stopped
func (j *Janitor) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	j.logger.Debug("Starting janitor", "interval", j.interval, "retention", j.retention)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				j.logger.Debug("Janitor stopped by context")
				return

			case <-ticker.C:
				stats, err := j.Sweep(ctx)
				if err != nil {
					j.logger.Error("Janitor sweep failed", "error", err)
					continue
				}
				if stats.Otps > 0 || stats.RefreshTokens > 0 {
					j.logger.Info("Expired rows deleted", "otps", stats.Otps, "refresh_tokens", stats.RefreshTokens)
				}
			}
		}
	}()

	return idleStopped
}

// Sweep deletes rows expired before now minus retention
func (j *Janitor) Sweep(ctx context.Context) (Stats, error) {
	var stats Stats
	cutoff := j.now().Add(-j.retention)

	n, err := j.storage.Otp().DeleteExpired(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("can't delete expired otps. Err: %w", err)
	}
	stats.Otps = n

	n, err = j.storage.Refresh().DeleteExpired(ctx, cutoff)
	if err != nil {
		return stats, fmt.Errorf("can't delete expired refresh tokens. Err: %w", err)
	}
	stats.RefreshTokens = n

	return stats, nil
}
