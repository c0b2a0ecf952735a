package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
)

const accountSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
		id                 VARCHAR(36) PRIMARY KEY,
		email              VARCHAR(255) NOT NULL UNIQUE,
		password_hash      VARCHAR(255) NOT NULL,
		full_name          VARCHAR(255),
		is_active          BOOLEAN NOT NULL DEFAULT TRUE,
		refresh_token_hash VARCHAR(255),
		created_at         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

const accountColumns = `id, email, password_hash, full_name, is_active, refresh_token_hash, created_at, updated_at`

// AccountRepository stores auth accounts in a single (unsharded) database
type AccountRepository struct {
	pool Pool
}

func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, accountSchema); err != nil {
		return fmt.Errorf("failed to create accounts schema: %w", err)
	}
	return nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, bool, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.findOne(ctx, query, email)
}

func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, bool, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, arg string) (*models.Account, bool, error) {
	a := &models.Account{}
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FullName, &a.IsActive,
		&a.RefreshTokenHash, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query account: %w", err)
	}
	return a, true, nil
}

// Create inserts a new account. A taken email is a Conflict.
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	const query = `
		INSERT INTO accounts (id, email, password_hash, full_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query, a.ID, a.Email, a.PasswordHash, a.FullName, a.IsActive).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Wrap(err, apperrors.CodeConflict, "email already registered")
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateRefreshTokenHash replaces the stored refresh hash; nil clears it
func (r *AccountRepository) UpdateRefreshTokenHash(ctx context.Context, id string, hash *string) error {
	const query = `UPDATE accounts SET refresh_token_hash = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	rows, err := r.pool.Exec(ctx, query, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound(fmt.Sprintf("account not found: %s", id))
	}
	return nil
}

// Delete removes an account; used as the registration compensation step
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM accounts WHERE id = $1`

	rows, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if rows == 0 {
		return apperrors.NotFound(fmt.Sprintf("account not found: %s", id))
	}
	return nil
}
