package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
)

type DoctorRepo struct {
	DB DBTX
}

const doctorColumns = `id, user_id, branch_id, name, specialization, qualification, contact, email,
	consultation_fee, is_active, created_at`

func (r *DoctorRepo) ListDoctors(ctx context.Context) ([]models.Doctor, error) {
	const listDoctors = `-- name: ListDoctors
	SELECT ` + doctorColumns + ` FROM doctors ORDER BY id`

	rows, _ := r.DB.Query(ctx, listDoctors)
	doctors, err := pgx.CollectRows(rows, rowToDoctor)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return doctors, nil
}

func (r *DoctorRepo) CreateDoctor(ctx context.Context, d models.Doctor) (models.Doctor, error) {
	const createDoctor = `-- name: CreateDoctor
	INSERT INTO doctors (user_id, branch_id, name, specialization, qualification, contact, email, consultation_fee, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING ` + doctorColumns

	rows, _ := r.DB.Query(ctx, createDoctor,
		d.UserID, d.BranchID, d.Name, d.Specialization, d.Qualification, d.Contact, d.Email,
		d.ConsultationFee, d.IsActive,
	)
	created, err := pgx.CollectOneRow(rows, rowToDoctor)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation && pgErr.ConstraintName == "doctors_branch_id_fkey" {
			return created, apperrors.ErrBranchNotFound
		}
		return created, fmt.Errorf("db error: %w", err)
	}
	return created, nil
}

func (r *DoctorRepo) SetDoctorActive(ctx context.Context, doctorID int64, active bool) error {
	const setDoctorActive = `-- name: SetDoctorActive
	UPDATE doctors SET is_active = $2 WHERE id = $1`

	tag, err := r.DB.Exec(ctx, setDoctorActive, doctorID, active)
	switch {
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case tag.RowsAffected() == 0:
		return apperrors.ErrDoctorNotFound
	default:
		return nil
	}
}

func rowToDoctor(row pgx.CollectableRow) (models.Doctor, error) {
	var d models.Doctor
	err := row.Scan(
		&d.ID, &d.UserID, &d.BranchID, &d.Name, &d.Specialization, &d.Qualification, &d.Contact, &d.Email,
		&d.ConsultationFee, &d.IsActive, &d.CreatedAt,
	)
	return d, err
}
