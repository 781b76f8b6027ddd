package master

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/cache"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/repository/postgres"
	"github.com/nkiryanov/hospitaldesk/internal/testutil"
)

func Test_Service(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	type env struct {
		s       *Service
		tx      pgx.Tx
		storage repository.Storage
		redis   *miniredis.Miniredis
	}

	inTx := func(t *testing.T, fn func(e env)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			mr, client := testutil.StartRedis(t)
			storage := postgres.NewStorage(tx)
			s := NewService(storage, cache.New(cache.NewRedisStore(client)), nil)
			fn(env{s: s, tx: tx, storage: storage, redis: mr})
		})
	}

	mustCreateBranch := func(t *testing.T, s *Service, code string, active bool) models.Branch {
		b, err := s.CreateBranch(t.Context(), models.Branch{Code: code, Name: "Branch " + code, IsActive: active})
		require.NoError(t, err)
		return b
	}

	t.Run("branches", func(t *testing.T) {
		t.Run("served from cache until write", func(t *testing.T) {
			inTx(t, func(e env) {
				mustCreateBranch(t, e.s, "MAIN", true)

				branches, err := e.s.Branches(t.Context(), BranchFilter{})
				require.NoError(t, err)
				require.Len(t, branches, 1)
				require.True(t, e.redis.Exists(cache.Branches.AllKey()), "snapshot must be cached")

				// Write bypassing service is not visible: cache has no expiration
				_, err = e.tx.Exec(t.Context(), `INSERT INTO branches (code, name) VALUES ('SIDE', 'Side door')`)
				require.NoError(t, err)
				branches, err = e.s.Branches(t.Context(), BranchFilter{})
				require.NoError(t, err)
				require.Len(t, branches, 1)

				// Write through service invalidates
				mustCreateBranch(t, e.s, "EAST", true)
				require.False(t, e.redis.Exists(cache.Branches.AllKey()), "write must invalidate before returning")
				branches, err = e.s.Branches(t.Context(), BranchFilter{})
				require.NoError(t, err)
				require.Len(t, branches, 3)
			})
		})

		t.Run("filters", func(t *testing.T) {
			inTx(t, func(e env) {
				main := mustCreateBranch(t, e.s, "MAIN", true)
				closed := mustCreateBranch(t, e.s, "OLD", false)

				active, err := e.s.Branches(t.Context(), BranchFilter{ActiveOnly: true})
				require.NoError(t, err)
				require.Len(t, active, 1)
				require.Equal(t, main.ID, active[0].ID)

				byID, err := e.s.Branches(t.Context(), BranchFilter{ID: closed.ID})
				require.NoError(t, err)
				require.Len(t, byID, 1)
				require.Equal(t, "OLD", byID[0].Code)
			})
		})

		t.Run("branch by id", func(t *testing.T) {
			inTx(t, func(e env) {
				main := mustCreateBranch(t, e.s, "main", true)
				require.Equal(t, "MAIN", main.Code, "code is normalized")

				got, err := e.s.Branch(t.Context(), main.ID)
				require.NoError(t, err)
				require.Equal(t, main.ID, got.ID)

				_, err = e.s.Branch(t.Context(), 424242)
				require.ErrorIs(t, err, apperrors.ErrBranchNotFound)
			})
		})

		t.Run("update", func(t *testing.T) {
			inTx(t, func(e env) {
				main := mustCreateBranch(t, e.s, "MAIN", true)
				_, err := e.s.Branches(t.Context(), BranchFilter{})
				require.NoError(t, err)

				main.IsActive = false
				_, err = e.s.UpdateBranch(t.Context(), main)
				require.NoError(t, err)

				active, err := e.s.Branches(t.Context(), BranchFilter{ActiveOnly: true})
				require.NoError(t, err)
				require.Empty(t, active, "update must be visible right after it returns")
			})
		})

		t.Run("failed write keeps cache", func(t *testing.T) {
			inTx(t, func(e env) {
				mustCreateBranch(t, e.s, "MAIN", true)
				_, err := e.s.Branches(t.Context(), BranchFilter{})
				require.NoError(t, err)

				// Failing statement must run in savepoint to keep test transaction usable
				err = e.storage.InTx(t.Context(), func(tx repository.Storage) error {
					_, err := NewService(tx, e.s.cache, nil).CreateBranch(t.Context(), models.Branch{Code: "MAIN", Name: "Again"})
					return err
				})

				require.ErrorIs(t, err, apperrors.ErrBranchCodeExists)
				require.True(t, e.redis.Exists(cache.Branches.AllKey()))
			})
		})

		t.Run("validation", func(t *testing.T) {
			inTx(t, func(e env) {
				_, err := e.s.CreateBranch(t.Context(), models.Branch{Code: " ", Name: "Nameless"})
				require.ErrorIs(t, err, apperrors.ErrValidationFailed)

				_, err = e.s.UpdateBranch(t.Context(), models.Branch{Code: "MAIN", Name: "No id"})
				require.ErrorIs(t, err, apperrors.ErrValidationFailed)
			})
		})
	})

	t.Run("roles", func(t *testing.T) {
		inTx(t, func(e env) {
			roles, err := e.s.Roles(t.Context(), RoleFilter{ActiveOnly: true})
			require.NoError(t, err)
			require.Len(t, roles, 3)

			byID, err := e.s.Roles(t.Context(), RoleFilter{ID: roles[1].ID})
			require.NoError(t, err)
			require.Equal(t, []models.Role{roles[1]}, byID)
		})
	})

	t.Run("menus", func(t *testing.T) {
		inTx(t, func(e env) {
			var rootID int64
			err := e.tx.QueryRow(t.Context(), `INSERT INTO menus (name, sort_order) VALUES ('Masters', 1) RETURNING id`).Scan(&rootID)
			require.NoError(t, err)
			_, err = e.tx.Exec(t.Context(), `
				INSERT INTO menus (parent_id, name, url, sort_order, is_active) VALUES
				($1, 'Branches', '/branches', 2, true),
				($1, 'Vendors', '/vendors', 3, false)`, rootID)
			require.NoError(t, err)

			roots, err := e.s.Menus(t.Context(), MenuFilter{RootOnly: true})
			require.NoError(t, err)
			require.Len(t, roots, 1)
			require.Equal(t, "Masters", roots[0].Name)

			children, err := e.s.Menus(t.Context(), MenuFilter{ParentID: rootID})
			require.NoError(t, err)
			require.Len(t, children, 2)

			activeChildren, err := e.s.Menus(t.Context(), MenuFilter{ParentID: rootID, ActiveOnly: true})
			require.NoError(t, err)
			require.Len(t, activeChildren, 1)
			require.Equal(t, "/branches", activeChildren[0].URL)
		})
	})

	t.Run("vendors", func(t *testing.T) {
		inTx(t, func(e env) {
			created, err := e.s.CreateVendor(t.Context(), models.Vendor{Name: "Pharma Ltd", IsActive: true})
			require.NoError(t, err)
			active, err := e.s.Vendors(t.Context(), VendorFilter{ActiveOnly: true})
			require.NoError(t, err)
			require.Len(t, active, 1)

			require.NoError(t, e.s.SetVendorActive(t.Context(), created.ID, false))

			active, err = e.s.Vendors(t.Context(), VendorFilter{ActiveOnly: true})
			require.NoError(t, err)
			require.Empty(t, active)

			err = e.s.SetVendorActive(t.Context(), 424242, true)
			require.ErrorIs(t, err, apperrors.ErrVendorNotFound)

			_, err = e.s.CreateVendor(t.Context(), models.Vendor{})
			require.ErrorIs(t, err, apperrors.ErrValidationFailed)
		})
	})

	t.Run("doctors", func(t *testing.T) {
		t.Run("without login", func(t *testing.T) {
			inTx(t, func(e env) {
				branch := mustCreateBranch(t, e.s, "MAIN", true)

				created, err := e.s.CreateDoctor(t.Context(), CreateDoctorParams{
					BranchID:        branch.ID,
					Name:            "Dr. Watson",
					ConsultationFee: decimal.RequireFromString("500"),
				})

				require.NoError(t, err)
				require.Nil(t, created.UserID)
				require.True(t, created.IsActive)
			})
		})

		t.Run("with login", func(t *testing.T) {
			inTx(t, func(e env) {
				branch := mustCreateBranch(t, e.s, "MAIN", true)

				created, err := e.s.CreateDoctor(t.Context(), CreateDoctorParams{
					BranchID:        branch.ID,
					Name:            "Dr. House",
					Email:           "house@example.com",
					ConsultationFee: decimal.RequireFromString("750.50"),
					Login:           &DoctorLogin{Username: "house", Password: "vicodin123"},
				})

				require.NoError(t, err)
				require.NotNil(t, created.UserID)
				require.True(t, decimal.RequireFromString("750.5").Equal(created.ConsultationFee))

				account, err := e.storage.User().GetUserByUsername(t.Context(), "house")
				require.NoError(t, err)
				require.Equal(t, account.ID, *created.UserID)
				require.Equal(t, "Dr. House", account.FullName)
				roles, err := e.storage.User().ListUserRoles(t.Context(), account.ID)
				require.NoError(t, err)
				require.Equal(t, []string{"doctor"}, roles)
			})
		})

		t.Run("unknown branch rolls back account", func(t *testing.T) {
			inTx(t, func(e env) {
				_, err := e.s.CreateDoctor(t.Context(), CreateDoctorParams{
					BranchID: 424242,
					Name:     "Dr. Nobody",
					Login:    &DoctorLogin{Username: "nobody", Password: "password123"},
				})

				require.ErrorIs(t, err, apperrors.ErrBranchNotFound)
				_, err = e.storage.User().GetUserByUsername(t.Context(), "nobody")
				require.ErrorIs(t, err, apperrors.ErrUserNotFound, "account must be rolled back with the profile")
			})
		})

		t.Run("taken username rolls back profile", func(t *testing.T) {
			inTx(t, func(e env) {
				branch := mustCreateBranch(t, e.s, "MAIN", true)
				_, err := e.storage.User().CreateUser(t.Context(), repository.CreateUserParams{Username: "house", HashedPassword: "h"})
				require.NoError(t, err)

				_, err = e.s.CreateDoctor(t.Context(), CreateDoctorParams{
					BranchID: branch.ID,
					Name:     "Dr. House",
					Login:    &DoctorLogin{Username: "house", Password: "password123"},
				})

				require.ErrorIs(t, err, apperrors.ErrUsernameExists)
				doctors, err := e.s.Doctors(t.Context(), DoctorFilter{})
				require.NoError(t, err)
				require.Empty(t, doctors)
			})
		})

		t.Run("filters match storage", func(t *testing.T) {
			inTx(t, func(e env) {
				main := mustCreateBranch(t, e.s, "MAIN", true)
				east := mustCreateBranch(t, e.s, "EAST", true)
				for i, branchID := range []int64{main.ID, east.ID, east.ID} {
					_, err := e.s.CreateDoctor(t.Context(), CreateDoctorParams{BranchID: branchID, Name: "Dr. " + string(rune('A'+i))})
					require.NoError(t, err)
				}

				fromStorage, err := e.storage.Doctor().ListDoctors(t.Context())
				require.NoError(t, err)
				_, err = e.s.Doctors(t.Context(), DoctorFilter{})
				require.NoError(t, err)

				for _, d := range fromStorage {
					cached, err := e.s.Doctors(t.Context(), DoctorFilter{ID: d.ID})
					require.NoError(t, err)
					require.Len(t, cached, 1)
					require.Equal(t, d.Name, cached[0].Name)
					require.True(t, d.ConsultationFee.Equal(cached[0].ConsultationFee))
				}

				eastDoctors, err := e.s.Doctors(t.Context(), DoctorFilter{BranchID: east.ID})
				require.NoError(t, err)
				require.Len(t, eastDoctors, 2)

				require.NoError(t, e.s.SetDoctorActive(t.Context(), eastDoctors[0].ID, false))
				activeEast, err := e.s.Doctors(t.Context(), DoctorFilter{BranchID: east.ID, ActiveOnly: true})
				require.NoError(t, err)
				require.Len(t, activeEast, 1)
			})
		})

		t.Run("validation", func(t *testing.T) {
			inTx(t, func(e env) {
				_, err := e.s.CreateDoctor(t.Context(), CreateDoctorParams{BranchID: 1, Name: "Dr. Greedy", ConsultationFee: decimal.NewFromInt(-1)})
				require.ErrorIs(t, err, apperrors.ErrValidationFailed)

				_, err = e.s.CreateDoctor(t.Context(), CreateDoctorParams{Name: "Dr. Homeless"})
				require.ErrorIs(t, err, apperrors.ErrValidationFailed)
			})
		})
	})
}
