package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/dualauth/internal/domain"
)

// CustomerRepository defines persistence access for customer accounts.
type CustomerRepository interface {
	Create(ctx context.Context, customer *domain.Customer) error
	Update(ctx context.Context, customer *domain.Customer) error
	GetByUsername(ctx context.Context, username string) (*domain.Customer, error)
}

type customerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a Postgres-backed implementation.
func NewCustomerRepository(pool *pgxpool.Pool) CustomerRepository {
	return &customerRepository{pool: pool}
}

const customerColumns = `id, username, email, password_hash, tier, confirmed, status, created_at, updated_at`

func scanCustomer(row pgx.Row) (*domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(
		&c.ID,
		&c.Username,
		&c.Email,
		&c.PasswordHash,
		&c.Tier,
		&c.Confirmed,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepository) Create(ctx context.Context, customer *domain.Customer) error {
	const query = `
        INSERT INTO customers (username, email, password_hash, tier, confirmed, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		customer.Username,
		customer.Email,
		customer.PasswordHash,
		customer.Tier,
		customer.Confirmed,
		customer.Status,
	).Scan(&customer.ID, &customer.CreatedAt, &customer.UpdatedAt)
}

func (r *customerRepository) Update(ctx context.Context, customer *domain.Customer) error {
	const query = `
        UPDATE customers SET email=$1, password_hash=$2, tier=$3, confirmed=$4, status=$5, updated_at=NOW()
        WHERE id=$6`

	cmd, err := r.pool.Exec(ctx, query,
		customer.Email,
		customer.PasswordHash,
		customer.Tier,
		customer.Confirmed,
		customer.Status,
		customer.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *customerRepository) GetByUsername(ctx context.Context, username string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE lower(username)=lower($1)`
	return scanCustomer(r.pool.QueryRow(ctx, query, username))
}
