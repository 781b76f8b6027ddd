// Package master serves slowly changing reference data through the cache.
//
// Reads always load the full table snapshot and filter it in memory. Writes go through mutate,
// which binds every write to the cache entity it changes and invalidates it before returning.
package master

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/cache"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth"
	"github.com/nkiryanov/hospitaldesk/internal/service/user"
)

const doctorRole = "doctor"

// Zero values mean "any"
type BranchFilter struct {
	ID         int64
	ActiveOnly bool
}

type RoleFilter struct {
	ID         int64
	ActiveOnly bool
}

type MenuFilter struct {
	ID         int64
	ParentID   int64 // menus of this parent only
	RootOnly   bool  // menus without parent only
	ActiveOnly bool
}

type DoctorFilter struct {
	ID         int64
	BranchID   int64
	ActiveOnly bool
}

type VendorFilter struct {
	ID         int64
	ActiveOnly bool
}

// Login account for the doctor
type DoctorLogin struct {
	Username string
	Password string
}

type CreateDoctorParams struct {
	BranchID        int64
	Name            string
	Specialization  string
	Qualification   string
	Contact         string
	Email           string
	ConsultationFee decimal.Decimal

	// Doctor without login can't sign in
	Login *DoctorLogin
}

type Service struct {
	storage repository.Storage
	cache   *cache.Cache
	hasher  auth.PasswordHasher
}

func NewService(storage repository.Storage, c *cache.Cache, hasher auth.PasswordHasher) *Service {
	if hasher == nil {
		hasher = auth.BcryptHasher{}
	}

	return &Service{
		storage: storage,
		cache:   c,
		hasher:  hasher,
	}
}

func (s *Service) Branches(ctx context.Context, f BranchFilter) ([]models.Branch, error) {
	all, err := cache.GetOrLoad(ctx, s.cache, cache.Branches.AllKey(), s.storage.Master().ListBranches)
	if err != nil {
		return nil, err
	}

	return filter(all, func(b models.Branch) bool {
		return (f.ID == 0 || b.ID == f.ID) && (!f.ActiveOnly || b.IsActive)
	}), nil
}

// Branch returns branch by id whatever its status is
func (s *Service) Branch(ctx context.Context, branchID int64) (models.Branch, error) {
	branches, err := s.Branches(ctx, BranchFilter{ID: branchID})
	if err != nil {
		return models.Branch{}, err
	}
	if len(branches) == 0 {
		return models.Branch{}, apperrors.ErrBranchNotFound
	}

	return branches[0], nil
}

func (s *Service) Roles(ctx context.Context, f RoleFilter) ([]models.Role, error) {
	all, err := cache.GetOrLoad(ctx, s.cache, cache.Roles.AllKey(), s.storage.Master().ListRoles)
	if err != nil {
		return nil, err
	}

	return filter(all, func(r models.Role) bool {
		return (f.ID == 0 || r.ID == f.ID) && (!f.ActiveOnly || r.IsActive)
	}), nil
}

func (s *Service) Menus(ctx context.Context, f MenuFilter) ([]models.Menu, error) {
	all, err := cache.GetOrLoad(ctx, s.cache, cache.Menus.AllKey(), s.storage.Master().ListMenus)
	if err != nil {
		return nil, err
	}

	return filter(all, func(m models.Menu) bool {
		switch {
		case f.ID != 0 && m.ID != f.ID:
			return false
		case f.ActiveOnly && !m.IsActive:
			return false
		case f.RootOnly && m.ParentID != nil:
			return false
		case f.ParentID != 0 && (m.ParentID == nil || *m.ParentID != f.ParentID):
			return false
		default:
			return true
		}
	}), nil
}

func (s *Service) Doctors(ctx context.Context, f DoctorFilter) ([]models.Doctor, error) {
	all, err := cache.GetOrLoad(ctx, s.cache, cache.Doctors.AllKey(), s.storage.Doctor().ListDoctors)
	if err != nil {
		return nil, err
	}

	return filter(all, func(d models.Doctor) bool {
		return (f.ID == 0 || d.ID == f.ID) &&
			(f.BranchID == 0 || d.BranchID == f.BranchID) &&
			(!f.ActiveOnly || d.IsActive)
	}), nil
}

func (s *Service) Vendors(ctx context.Context, f VendorFilter) ([]models.Vendor, error) {
	all, err := cache.GetOrLoad(ctx, s.cache, cache.Vendors.AllKey(), s.storage.Master().ListVendors)
	if err != nil {
		return nil, err
	}

	return filter(all, func(v models.Vendor) bool {
		return (f.ID == 0 || v.ID == f.ID) && (!f.ActiveOnly || v.IsActive)
	}), nil
}

func (s *Service) CreateBranch(ctx context.Context, b models.Branch) (models.Branch, error) {
	b.Code = strings.ToUpper(strings.TrimSpace(b.Code))
	if b.Code == "" || strings.TrimSpace(b.Name) == "" {
		return models.Branch{}, fmt.Errorf("%w: branch code and name are required", apperrors.ErrValidationFailed)
	}

	var created models.Branch
	err := s.mutate(ctx, cache.Branches, func(storage repository.Storage) (err error) {
		created, err = storage.Master().CreateBranch(ctx, b)
		return err
	})
	return created, err
}

func (s *Service) UpdateBranch(ctx context.Context, b models.Branch) (models.Branch, error) {
	b.Code = strings.ToUpper(strings.TrimSpace(b.Code))
	if b.ID <= 0 || b.Code == "" || strings.TrimSpace(b.Name) == "" {
		return models.Branch{}, fmt.Errorf("%w: branch id, code and name are required", apperrors.ErrValidationFailed)
	}

	var updated models.Branch
	err := s.mutate(ctx, cache.Branches, func(storage repository.Storage) (err error) {
		updated, err = storage.Master().UpdateBranch(ctx, b)
		return err
	})
	return updated, err
}

func (s *Service) CreateVendor(ctx context.Context, v models.Vendor) (models.Vendor, error) {
	if strings.TrimSpace(v.Name) == "" {
		return models.Vendor{}, fmt.Errorf("%w: vendor name is required", apperrors.ErrValidationFailed)
	}

	var created models.Vendor
	err := s.mutate(ctx, cache.Vendors, func(storage repository.Storage) (err error) {
		created, err = storage.Master().CreateVendor(ctx, v)
		return err
	})
	return created, err
}

func (s *Service) SetVendorActive(ctx context.Context, vendorID int64, active bool) error {
	return s.mutate(ctx, cache.Vendors, func(storage repository.Storage) error {
		return storage.Master().SetVendorActive(ctx, vendorID, active)
	})
}

func (s *Service) SetDoctorActive(ctx context.Context, doctorID int64, active bool) error {
	return s.mutate(ctx, cache.Doctors, func(storage repository.Storage) error {
		return storage.Doctor().SetDoctorActive(ctx, doctorID, active)
	})
}

// CreateDoctor creates doctor profile and, if login requested, user account with doctor role
// Both are committed together or not at all
func (s *Service) CreateDoctor(ctx context.Context, p CreateDoctorParams) (models.Doctor, error) {
	if strings.TrimSpace(p.Name) == "" || p.BranchID <= 0 {
		return models.Doctor{}, fmt.Errorf("%w: doctor name and branch are required", apperrors.ErrValidationFailed)
	}
	if p.ConsultationFee.IsNegative() {
		return models.Doctor{}, fmt.Errorf("%w: consultation fee must not be negative", apperrors.ErrValidationFailed)
	}

	doctor := models.Doctor{
		BranchID:        p.BranchID,
		Name:            strings.TrimSpace(p.Name),
		Specialization:  p.Specialization,
		Qualification:   p.Qualification,
		Contact:         p.Contact,
		Email:           p.Email,
		ConsultationFee: p.ConsultationFee,
		IsActive:        true,
	}

	var created models.Doctor
	err := s.mutate(ctx, cache.Doctors, func(storage repository.Storage) error {
		return storage.InTx(ctx, func(tx repository.Storage) error {
			if p.Login != nil {
				account, err := user.NewService(s.hasher, tx).CreateUser(ctx, user.CreateUserParams{
					Username: p.Login.Username,
					Password: p.Login.Password,
					FullName: doctor.Name,
					Contact:  doctor.Contact,
					Email:    doctor.Email,
					Roles:    []string{doctorRole},
				})
				if err != nil {
					return err
				}
				doctor.UserID = &account.ID
			}

			var err error
			created, err = tx.Doctor().CreateDoctor(ctx, doctor)
			return err
		})
	})
	if err != nil {
		return models.Doctor{}, fmt.Errorf("can't create doctor. Err: %w", err)
	}

	return created, nil
}

// mutate runs write and invalidates entity cache before reporting success
// Failed write leaves cache untouched
func (s *Service) mutate(ctx context.Context, entity cache.Entity, write func(repository.Storage) error) error {
	if err := write(s.storage); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, entity)
	return nil
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
