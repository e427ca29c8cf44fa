package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dualauth/internal/domain"
)

// StaffRepository handles persistence for staff members.
type StaffRepository interface {
	Create(ctx context.Context, staff *domain.StaffMember) error
	Update(ctx context.Context, staff *domain.StaffMember) error
	GetByUsername(ctx context.Context, username string) (*domain.StaffMember, error)
	// AdvanceMFACounter stores counter as the last accepted TOTP step. It
	// fails with pgx.ErrNoRows when an equal or later step was already used.
	AdvanceMFACounter(ctx context.Context, id string, counter int64) error
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

const staffColumns = `id, username, email, password_hash, role, active_flag, mfa_secret, mfa_last_counter, created_at, updated_at`

func scanStaff(row pgx.Row) (*domain.StaffMember, error) {
	var s domain.StaffMember
	if err := row.Scan(
		&s.ID,
		&s.Username,
		&s.Email,
		&s.PasswordHash,
		&s.Role,
		&s.Active,
		&s.MFASecret,
		&s.MFALastCounter,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *staffRepository) Create(ctx context.Context, staff *domain.StaffMember) error {
	const query = `
        INSERT INTO staff_members (username, email, password_hash, role, active_flag, mfa_secret)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		staff.Username,
		staff.Email,
		staff.PasswordHash,
		staff.Role,
		staff.Active,
		staff.MFASecret,
	).Scan(&staff.ID, &staff.CreatedAt, &staff.UpdatedAt)
}

func (r *staffRepository) Update(ctx context.Context, staff *domain.StaffMember) error {
	const query = `
        UPDATE staff_members
        SET email=$1, password_hash=$2, role=$3, active_flag=$4, mfa_secret=$5, updated_at=NOW()
        WHERE id=$6`

	cmd, err := r.pool.Exec(ctx, query,
		staff.Email,
		staff.PasswordHash,
		staff.Role,
		staff.Active,
		staff.MFASecret,
		staff.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *staffRepository) GetByUsername(ctx context.Context, username string) (*domain.StaffMember, error) {
	query := `SELECT ` + staffColumns + ` FROM staff_members WHERE lower(username)=lower($1)`
	return scanStaff(r.pool.QueryRow(ctx, query, username))
}

func (r *staffRepository) AdvanceMFACounter(ctx context.Context, id string, counter int64) error {
	const query = `
        UPDATE staff_members SET mfa_last_counter=$1, updated_at=NOW()
        WHERE id=$2 AND (mfa_last_counter IS NULL OR mfa_last_counter < $1)`

	cmd, err := r.pool.Exec(ctx, query, counter, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
