package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/repository/postgres"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/hospitaldesk/internal/service/otp"
	"github.com/nkiryanov/hospitaldesk/internal/testutil"
)

const (
	mainBranch   int64 = 1
	closedBranch int64 = 2

	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type branchDirectory map[int64]models.Branch

func (d branchDirectory) Branch(_ context.Context, branchID int64) (models.Branch, error) {
	b, ok := d[branchID]
	if !ok {
		return models.Branch{}, apperrors.ErrBranchNotFound
	}
	return b, nil
}

var testBranches = branchDirectory{
	mainBranch:   {ID: mainBranch, Code: "MAIN", IsActive: true},
	closedBranch: {ID: closedBranch, Code: "OLD", IsActive: false},
}

// Storage which can't record sessions
type noSessionStorage struct {
	repository.Storage
}

func (s noSessionStorage) Session() repository.SessionRepo {
	return failingSessionRepo{s.Storage.Session()}
}

type failingSessionRepo struct {
	repository.SessionRepo
}

func (failingSessionRepo) Create(context.Context, models.Session) (models.Session, error) {
	return models.Session{}, errors.New("sessions table is on fire")
}

func newTokenManager(t *testing.T, accessTTL time.Duration) *tokenmanager.TokenManager {
	m, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key", AccessTTL: accessTTL})
	require.NoError(t, err)
	return m
}

func mustCreateUser(t *testing.T, storage repository.Storage, username string, password string) models.User {
	t.Helper()

	hash, err := BcryptHasher{}.Hash(password)
	require.NoError(t, err)

	user, err := storage.User().CreateUser(t.Context(), repository.CreateUserParams{
		Username:       username,
		HashedPassword: hash,
		FullName:       "Test User",
		Contact:        "9876543210",
		Email:          username + "@example.com",
	})
	require.NoError(t, err)
	require.NoError(t, storage.User().AssignRole(t.Context(), user.ID, "receptionist"))

	return user
}

func Test_Auth(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	type env struct {
		s       *AuthService
		storage repository.Storage
		otp     *otp.Engine
		user    models.User
	}

	newService := func(t *testing.T, storage repository.Storage, tokens *tokenmanager.TokenManager) (*AuthService, *otp.Engine) {
		engine := otp.NewEngine(otp.Config{}, storage)
		s, err := NewService(storage, nil, tokens, testBranches, engine)
		require.NoError(t, err)
		return s, engine
	}

	// Begin new db transaction with one active user and create new AuthService
	// Rollback transaction when test stops
	inTx := func(t *testing.T, fn func(e env)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			s, engine := newService(t, storage, newTokenManager(t, 0))
			user := mustCreateUser(t, storage, "reception", "password123")
			fn(env{s: s, storage: storage, otp: engine, user: user})
		})
	}

	login := func(t *testing.T, s *AuthService, username string, password string) LoginResult {
		t.Helper()
		res, err := s.Login(t.Context(), LoginParams{
			BranchID:  mainBranch,
			Username:  username,
			Password:  password,
			IPAddress: "10.0.0.7",
			UserAgent: chromeUA,
		})
		require.NoError(t, err)
		return res
	}

	t.Run("NewService", func(t *testing.T) {
		_, err := NewService(nil, nil, nil, nil, nil)
		require.Error(t, err, "dependencies are required")

		s, err := NewService(postgres.NewStorage(pg.Pool), nil, newTokenManager(t, 0), testBranches, otp.NewEngine(otp.Config{}, nil))
		require.NoError(t, err)
		require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("login ok", func(t *testing.T) {
			inTx(t, func(e env) {
				res := login(t, e.s, " reception ", "password123")

				require.Equal(t, e.user.ID, res.User.ID)
				require.Equal(t, "reception@example.com", res.User.Email)
				require.Equal(t, []string{"receptionist"}, res.Roles)
				require.Equal(t, mainBranch, res.BranchID)
				require.Positive(t, res.SessionID)
				require.Equal(t, "Bearer", res.TokenType)
				require.Equal(t, time.Hour, res.ExpiresIn)
				require.NotEmpty(t, res.Tokens.Access.Value)
				require.NotEmpty(t, res.Tokens.Refresh.Value)
				require.Equal(t, "10.0.0.7", res.LoginInfo.IPAddress)
				require.Equal(t, "Chrome", res.LoginInfo.Browser)
				require.Equal(t, "Desktop", res.LoginInfo.DeviceType)

				stored, err := e.storage.Refresh().Get(t.Context(), res.Tokens.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, res.SessionID, stored.SessionID, "refresh token must be bound to the session")

				sess, err := e.storage.Session().Get(t.Context(), res.SessionID)
				require.NoError(t, err)
				require.Equal(t, models.SessionActive, sess.Status)
				require.Equal(t, mainBranch, sess.BranchID)
			})
		})

		t.Run("every login creates own session", func(t *testing.T) {
			inTx(t, func(e env) {
				first := login(t, e.s, "reception", "password123")
				second := login(t, e.s, "reception", "password123")

				require.NotEqual(t, first.SessionID, second.SessionID)
				require.NotEqual(t, first.Tokens.Refresh.Value, second.Tokens.Refresh.Value)
			})
		})

		t.Run("wrong credentials look the same", func(t *testing.T) {
			inTx(t, func(e env) {
				_, wrongPasswordErr := e.s.Login(t.Context(), LoginParams{BranchID: mainBranch, Username: "reception", Password: "wrong-password"})
				_, unknownUserErr := e.s.Login(t.Context(), LoginParams{BranchID: mainBranch, Username: "nobody", Password: "password123"})

				require.ErrorIs(t, wrongPasswordErr, apperrors.ErrInvalidCredentials)
				require.ErrorIs(t, unknownUserErr, apperrors.ErrInvalidCredentials)
				require.Equal(t, wrongPasswordErr.Error(), unknownUserErr.Error())
			})
		})

		t.Run("inactive user", func(t *testing.T) {
			inTx(t, func(e env) {
				require.NoError(t, e.storage.User().SetActive(t.Context(), e.user.ID, false))

				_, err := e.s.Login(t.Context(), LoginParams{BranchID: mainBranch, Username: "reception", Password: "password123"})

				require.ErrorIs(t, err, apperrors.ErrUserInactive)
			})
		})

		t.Run("branch must be active", func(t *testing.T) {
			inTx(t, func(e env) {
				for _, branchID := range []int64{closedBranch, 424242} {
					_, err := e.s.Login(t.Context(), LoginParams{BranchID: branchID, Username: "reception", Password: "password123"})

					require.ErrorIs(t, err, apperrors.ErrBranchNotFound)
				}
			})
		})

		t.Run("input required", func(t *testing.T) {
			inTx(t, func(e env) {
				for _, p := range []LoginParams{
					{Username: "reception", Password: "password123"},
					{BranchID: mainBranch, Username: " ", Password: "password123"},
					{BranchID: mainBranch, Username: "reception"},
				} {
					_, err := e.s.Login(t.Context(), p)

					require.ErrorIs(t, err, apperrors.ErrValidationFailed)
				}
			})
		})

		t.Run("login without recorded session", func(t *testing.T) {
			inTx(t, func(e env) {
				s, _ := newService(t, noSessionStorage{e.storage}, newTokenManager(t, 0))

				res := login(t, s, "reception", "password123")

				require.Zero(t, res.SessionID, "login must succeed even if session is not recorded")
				require.NotEmpty(t, res.Tokens.Refresh.Value)

				refreshed, err := s.Refresh(t.Context(), res.Tokens.Access.Value, res.Tokens.Refresh.Value)
				require.NoError(t, err, "tokens of such login are still usable")
				require.Zero(t, refreshed.SessionID)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("login refresh logout", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")

				refreshed, err := e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				require.NoError(t, err)
				require.Equal(t, logged.SessionID, refreshed.SessionID)
				require.NotEqual(t, logged.Tokens.Refresh.Value, refreshed.Tokens.Refresh.Value)
				require.Equal(t, "Bearer", refreshed.TokenType)

				ok, err := e.s.Logout(t.Context(), e.user.ID, logged.SessionID, "")
				require.NoError(t, err)
				require.True(t, ok)

				_, err = e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
				_, err = e.s.Refresh(t.Context(), refreshed.Tokens.Access.Value, refreshed.Tokens.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
			})
		})

		t.Run("rotated token is not reusable", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")
				_, err := e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				require.NoError(t, err)

				_, err = e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
			})
		})

		t.Run("refresh token of another user", func(t *testing.T) {
			inTx(t, func(e env) {
				mustCreateUser(t, e.storage, "doctor", "password123")
				mine := login(t, e.s, "reception", "password123")
				foreign := login(t, e.s, "doctor", "password123")

				_, err := e.s.Refresh(t.Context(), mine.Tokens.Access.Value, foreign.Tokens.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
			})
		})

		t.Run("forged access token", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")
				other, err := tokenmanager.New(tokenmanager.Config{SecretKey: "other-secret-key"})
				require.NoError(t, err)
				forged, err := other.IssuePair(models.Identity{UserID: e.user.ID, Username: "reception"})
				require.NoError(t, err)

				_, err = e.s.Refresh(t.Context(), forged.Access.Value, logged.Tokens.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidToken)
			})
		})

		t.Run("disabled user", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")
				require.NoError(t, e.storage.User().SetActive(t.Context(), e.user.ID, false))

				_, err := e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)

				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
			})
		})

		t.Run("expired access token accepted", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				s, _ := newService(t, storage, newTokenManager(t, time.Second))
				mustCreateUser(t, storage, "reception", "password123")
				logged := login(t, s, "reception", "password123")

				time.Sleep(2 * time.Second)
				_, err := s.Authenticate(t.Context(), logged.Tokens.Access.Value)
				require.ErrorIs(t, err, apperrors.ErrExpiredToken)

				_, err = s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				require.NoError(t, err)
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("idempotent", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")

				ok, err := e.s.Logout(t.Context(), e.user.ID, logged.SessionID, "")
				require.NoError(t, err)
				require.True(t, ok)

				ok, err = e.s.Logout(t.Context(), e.user.ID, logged.SessionID, "")
				require.NoError(t, err)
				require.False(t, ok, "ended session is not ended twice")

				sess, err := e.storage.Session().Get(t.Context(), logged.SessionID)
				require.NoError(t, err)
				require.Equal(t, models.SessionLoggedOut, sess.Status)
				require.Equal(t, ReasonLogout, *sess.LogoutReason)
			})
		})

		t.Run("foreign session", func(t *testing.T) {
			inTx(t, func(e env) {
				other := mustCreateUser(t, e.storage, "doctor", "password123")
				logged := login(t, e.s, "reception", "password123")

				_, err := e.s.Logout(t.Context(), other.ID, logged.SessionID, "")
				require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

				_, err = e.s.Logout(t.Context(), e.user.ID, 424242, "")
				require.ErrorIs(t, err, apperrors.ErrSessionNotFound)

				_, err = e.s.Logout(t.Context(), e.user.ID, 0, "")
				require.ErrorIs(t, err, apperrors.ErrValidationFailed)
			})
		})

		t.Run("terminate other device", func(t *testing.T) {
			inTx(t, func(e env) {
				laptop := login(t, e.s, "reception", "password123")
				phone := login(t, e.s, "reception", "password123")

				ok, err := e.s.TerminateSession(t.Context(), e.user.ID, phone.SessionID)
				require.NoError(t, err)
				require.True(t, ok)

				_, err = e.s.Refresh(t.Context(), phone.Tokens.Access.Value, phone.Tokens.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
				_, err = e.s.Refresh(t.Context(), laptop.Tokens.Access.Value, laptop.Tokens.Refresh.Value)
				require.NoError(t, err, "other sessions are not touched")

				sess, err := e.storage.Session().Get(t.Context(), phone.SessionID)
				require.NoError(t, err)
				require.Equal(t, models.SessionTerminated, sess.Status)
			})
		})

		t.Run("logout all", func(t *testing.T) {
			inTx(t, func(e env) {
				first := login(t, e.s, "reception", "password123")
				second := login(t, e.s, "reception", "password123")

				ended, err := e.s.LogoutAll(t.Context(), e.user.ID)
				require.NoError(t, err)
				require.EqualValues(t, 2, ended)

				for _, res := range []LoginResult{first, second} {
					_, err := e.s.Refresh(t.Context(), res.Tokens.Access.Value, res.Tokens.Refresh.Value)
					require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
				}

				active, err := e.s.Sessions(t.Context(), e.user.ID)
				require.NoError(t, err)
				require.Empty(t, active)

				history, err := e.s.LoginHistory(t.Context(), e.user.ID, 1, 10)
				require.NoError(t, err)
				require.EqualValues(t, 2, history.Total)
			})
		})
	})

	t.Run("ResetPassword", func(t *testing.T) {
		t.Run("reset ok", func(t *testing.T) {
			inTx(t, func(e env) {
				logged := login(t, e.s, "reception", "password123")
				code, err := e.otp.Issue(t.Context(), e.user.ID, models.OtpChannelSMS, 0)
				require.NoError(t, err)
				result, err := e.otp.Verify(t.Context(), e.user.ID, models.OtpChannelSMS, code)
				require.NoError(t, err)
				require.Equal(t, otp.ResultVerified, result)

				err = e.s.ResetPassword(t.Context(), e.user.ID, code, "new-password", "new-password")
				require.NoError(t, err)

				_, err = e.s.Login(t.Context(), LoginParams{BranchID: mainBranch, Username: "reception", Password: "password123"})
				require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
				login(t, e.s, "reception", "new-password")

				_, err = e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				require.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken, "sessions opened before reset are ended")

				err = e.s.ResetPassword(t.Context(), e.user.ID, code, "third-password", "third-password")
				require.ErrorIs(t, err, apperrors.ErrOtpExpired, "code is redeemed once")
			})
		})

		t.Run("code must be verified", func(t *testing.T) {
			inTx(t, func(e env) {
				code, err := e.otp.Issue(t.Context(), e.user.ID, models.OtpChannelEmail, 0)
				require.NoError(t, err)

				err = e.s.ResetPassword(t.Context(), e.user.ID, code, "new-password", "new-password")

				require.ErrorIs(t, err, apperrors.ErrOtpExpired)
				login(t, e.s, "reception", "password123")
			})
		})

		t.Run("confirmation mismatch", func(t *testing.T) {
			inTx(t, func(e env) {
				err := e.s.ResetPassword(t.Context(), e.user.ID, "123456", "new-password", "new-passwort")

				require.ErrorIs(t, err, apperrors.ErrPasswordMismatch)
			})
		})

		t.Run("weak password", func(t *testing.T) {
			inTx(t, func(e env) {
				err := e.s.ResetPassword(t.Context(), e.user.ID, "123456", "short", "short")

				require.ErrorIs(t, err, apperrors.ErrValidationFailed)
			})
		})

		t.Run("unknown user", func(t *testing.T) {
			inTx(t, func(e env) {
				err := e.s.ResetPassword(t.Context(), 424242, "123456", "new-password", "new-password")

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("ChangePassword", func(t *testing.T) {
		inTx(t, func(e env) {
			logged := login(t, e.s, "reception", "password123")

			err := e.s.ChangePassword(t.Context(), e.user.ID, "wrong-password", "new-password")
			require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

			err = e.s.ChangePassword(t.Context(), e.user.ID, "password123", "new-password")
			require.NoError(t, err)

			login(t, e.s, "reception", "new-password")
			_, err = e.s.Refresh(t.Context(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
			require.NoError(t, err, "current sessions are kept")
		})
	})

	t.Run("Authenticate", func(t *testing.T) {
		inTx(t, func(e env) {
			logged := login(t, e.s, "reception", "password123")

			identity, err := e.s.Authenticate(t.Context(), logged.Tokens.Access.Value)
			require.NoError(t, err)
			require.Equal(t, models.Identity{
				UserID:   e.user.ID,
				Username: "reception",
				Email:    "reception@example.com",
				Roles:    []string{"receptionist"},
			}, identity)

			_, err = e.s.Authenticate(t.Context(), "not-a-token")
			require.ErrorIs(t, err, apperrors.ErrInvalidToken)

			user, roles, err := e.s.Me(t.Context(), identity.UserID)
			require.NoError(t, err)
			require.Equal(t, "Test User", user.FullName)
			require.Equal(t, []string{"receptionist"}, roles)
		})
	})

	// Concurrency tests need committed data: they run on pool and clean up after themselves
	t.Run("concurrent", func(t *testing.T) {
		storage := postgres.NewStorage(pg.Pool)
		s, _ := newService(t, storage, newTokenManager(t, 0))
		user := mustCreateUser(t, storage, "racer", "password123")
		t.Cleanup(func() {
			_, err := pg.Pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
			require.NoError(t, err)
		})

		t.Run("refresh rotates once", func(t *testing.T) {
			logged := login(t, s, "racer", "password123")

			var wg sync.WaitGroup
			errs := make(chan error, 8)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.Refresh(context.Background(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)

			succeeded := 0
			for err := range errs {
				if err == nil {
					succeeded++
					continue
				}
				assert.ErrorIs(t, err, apperrors.ErrInvalidRefreshToken)
			}
			require.Equal(t, 1, succeeded, "exactly one refresh must win")
		})

		t.Run("refresh races logout", func(t *testing.T) {
			for range 10 {
				logged := login(t, s, "racer", "password123")

				var wg sync.WaitGroup
				var refreshErr, logoutErr error
				var ended bool
				wg.Add(2)
				go func() {
					defer wg.Done()
					_, refreshErr = s.Refresh(context.Background(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
				}()
				go func() {
					defer wg.Done()
					ended, logoutErr = s.Logout(context.Background(), user.ID, logged.SessionID, "")
				}()
				wg.Wait()

				require.NoError(t, logoutErr, "logout never fails because of concurrent refresh")
				require.True(t, ended)
				if refreshErr != nil {
					require.ErrorIs(t, refreshErr, apperrors.ErrInvalidRefreshToken)
				}

				ss, err := s.sessions.Get(t.Context(), logged.SessionID)
				require.NoError(t, err)
				require.Equal(t, models.SessionLoggedOut, ss.Status)
				var valid int
				err = pg.Pool.QueryRow(t.Context(), `SELECT count(*) FROM refresh_tokens WHERE session_id = $1 AND is_valid`, logged.SessionID).Scan(&valid)
				require.NoError(t, err)
				require.Zero(t, valid, "no refresh token of ended session stays valid")
			}
		})

		t.Run("refresh races logout all", func(t *testing.T) {
			logged := login(t, s, "racer", "password123")

			var wg sync.WaitGroup
			var refreshErr, logoutErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, refreshErr = s.Refresh(context.Background(), logged.Tokens.Access.Value, logged.Tokens.Refresh.Value)
			}()
			go func() {
				defer wg.Done()
				_, logoutErr = s.LogoutAll(context.Background(), user.ID)
			}()
			wg.Wait()

			require.NoError(t, logoutErr)
			if refreshErr != nil {
				require.ErrorIs(t, refreshErr, apperrors.ErrInvalidRefreshToken)
			}
			active, err := s.Sessions(t.Context(), user.ID)
			require.NoError(t, err)
			require.Empty(t, active)
		})

		t.Run("logins get own sessions", func(t *testing.T) {
			var wg sync.WaitGroup
			sessions := make(chan int64, 8)
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := s.Login(context.Background(), LoginParams{BranchID: mainBranch, Username: "racer", Password: "password123"})
					assert.NoError(t, err)
					sessions <- res.SessionID
				}()
			}
			wg.Wait()
			close(sessions)

			seen := make(map[int64]bool)
			for id := range sessions {
				require.Positive(t, id)
				seen[id] = true
			}
			require.Len(t, seen, 8)
		})
	})
}
