package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

// MasterRepo reads and writes slowly changing reference data
type MasterRepo struct {
	DB DBTX
}

const branchColumns = `id, code, name, address, contact, is_active, created_at, updated_at`

func (r *MasterRepo) ListBranches(ctx context.Context) ([]models.Branch, error) {
	const listBranches = `-- name: ListBranches
	SELECT ` + branchColumns + ` FROM branches ORDER BY id`

	rows, _ := r.DB.Query(ctx, listBranches)
	branches, err := pgx.CollectRows(rows, rowToBranch)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return branches, nil
}

func (r *MasterRepo) CreateBranch(ctx context.Context, b models.Branch) (models.Branch, error) {
	const createBranch = `-- name: CreateBranch
	INSERT INTO branches (code, name, address, contact, is_active)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING ` + branchColumns

	rows, _ := r.DB.Query(ctx, createBranch, b.Code, b.Name, b.Address, b.Contact, b.IsActive)
	created, err := pgx.CollectOneRow(rows, rowToBranch)
	switch {
	case err == nil:
		return created, nil
	case isUniqueViolation(err):
		return created, apperrors.ErrBranchCodeExists
	default:
		return created, fmt.Errorf("db error: %w", err)
	}
}

func (r *MasterRepo) UpdateBranch(ctx context.Context, b models.Branch) (models.Branch, error) {
	const updateBranch = `-- name: UpdateBranch
	UPDATE branches
	SET code = $2, name = $3, address = $4, contact = $5, is_active = $6, updated_at = now()
	WHERE id = $1
	RETURNING ` + branchColumns

	rows, _ := r.DB.Query(ctx, updateBranch, b.ID, b.Code, b.Name, b.Address, b.Contact, b.IsActive)
	updated, err := pgx.CollectOneRow(rows, rowToBranch)
	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, pgx.ErrNoRows):
		return updated, apperrors.ErrBranchNotFound
	case isUniqueViolation(err):
		return updated, apperrors.ErrBranchCodeExists
	default:
		return updated, fmt.Errorf("db error: %w", err)
	}
}

func (r *MasterRepo) ListRoles(ctx context.Context) ([]models.Role, error) {
	const listRoles = `-- name: ListRoles
	SELECT id, name, description, is_active FROM roles ORDER BY id`

	rows, _ := r.DB.Query(ctx, listRoles)
	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Role, error) {
		var role models.Role
		err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsActive)
		return role, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return roles, nil
}

func (r *MasterRepo) ListMenus(ctx context.Context) ([]models.Menu, error) {
	const listMenus = `-- name: ListMenus
	SELECT id, parent_id, name, url, sort_order, is_active FROM menus ORDER BY sort_order, id`

	rows, _ := r.DB.Query(ctx, listMenus)
	menus, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Menu, error) {
		var m models.Menu
		err := row.Scan(&m.ID, &m.ParentID, &m.Name, &m.URL, &m.SortOrder, &m.IsActive)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return menus, nil
}

const vendorColumns = `id, name, contact_person, contact, email, gst_number, address, is_active, created_at`

func (r *MasterRepo) ListVendors(ctx context.Context) ([]models.Vendor, error) {
	const listVendors = `-- name: ListVendors
	SELECT ` + vendorColumns + ` FROM vendors ORDER BY id`

	rows, _ := r.DB.Query(ctx, listVendors)
	vendors, err := pgx.CollectRows(rows, rowToVendor)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return vendors, nil
}

func (r *MasterRepo) CreateVendor(ctx context.Context, v models.Vendor) (models.Vendor, error) {
	const createVendor = `-- name: CreateVendor
	INSERT INTO vendors (name, contact_person, contact, email, gst_number, address, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING ` + vendorColumns

	rows, _ := r.DB.Query(ctx, createVendor, v.Name, v.ContactPerson, v.Contact, v.Email, v.GSTNumber, v.Address, v.IsActive)
	created, err := pgx.CollectOneRow(rows, rowToVendor)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *MasterRepo) SetVendorActive(ctx context.Context, vendorID int64, active bool) error {
	const setVendorActive = `-- name: SetVendorActive
	UPDATE vendors SET is_active = $2 WHERE id = $1`

	tag, err := r.DB.Exec(ctx, setVendorActive, vendorID, active)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrVendorNotFound
	default:
		return nil
	}
}

func rowToBranch(row pgx.CollectableRow) (models.Branch, error) {
	var b models.Branch
	err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Contact, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func rowToVendor(row pgx.CollectableRow) (models.Vendor, error) {
	var v models.Vendor
	err := row.Scan(&v.ID, &v.Name, &v.ContactPerson, &v.Contact, &v.Email, &v.GSTNumber, &v.Address, &v.IsActive, &v.CreatedAt)
	return v, err
}
