package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/logger"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/repository/postgres"
	"github.com/nkiryanov/hospitaldesk/internal/testutil"
)

func Test_Janitor(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("new defaults", func(t *testing.T) {
		j := New(Config{}, nil, logger.NewNoOpLogger())

		require.Equal(t, defaultInterval, j.interval)
		require.Equal(t, defaultRetention, j.retention)
	})

	t.Run("sweep keeps rows within retention", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			now := time.Now()

			var users []models.User
			for _, name := range []string{"long-gone", "just-expired", "alive"} {
				u, err := storage.User().CreateUser(t.Context(), repository.CreateUserParams{Username: name, HashedPassword: "h"})
				require.NoError(t, err)
				users = append(users, u)
			}
			expiries := []time.Time{now.Add(-time.Hour), now.Add(-time.Minute), now.Add(time.Hour)}

			for i, u := range users {
				_, err := storage.Otp().Upsert(t.Context(), u.ID, models.OtpChannelSMS, "hash", expiries[i])
				require.NoError(t, err)
				_, err = storage.Refresh().Save(t.Context(), models.RefreshToken{UserID: u.ID, Token: u.Username, ExpiresAt: expiries[i]})
				require.NoError(t, err)
			}

			j := New(Config{Retention: 15 * time.Minute}, storage, logger.NewNoOpLogger())
			j.now = func() time.Time { return now }

			stats, err := j.Sweep(t.Context())

			require.NoError(t, err)
			require.Equal(t, Stats{Otps: 1, RefreshTokens: 1}, stats)

			_, err = storage.Otp().Get(t.Context(), users[0].ID, models.OtpChannelSMS)
			require.ErrorIs(t, err, apperrors.ErrOtpExpired)
			_, err = storage.Refresh().Get(t.Context(), "long-gone")
			require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)

			for _, u := range users[1:] {
				_, err = storage.Otp().Get(t.Context(), u.ID, models.OtpChannelSMS)
				require.NoError(t, err, "otp of %s must be kept", u.Username)
				_, err = storage.Refresh().Get(t.Context(), u.Username)
				require.NoError(t, err, "refresh token of %s must be kept", u.Username)
			}
		})
	})

	t.Run("run stops by context", func(t *testing.T) {
		j := New(Config{Interval: 10 * time.Millisecond}, postgres.NewStorage(pg.Pool), logger.NewNoOpLogger())
		ctx, cancel := context.WithCancel(t.Context())

		stopped := j.Run(ctx)
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case <-stopped:
		case <-time.After(time.Second):
			t.Fatal("janitor must stop when context is canceled")
		}
	})
}
