package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/samandartukhtayev/ecommerce-sharding/apperrors"
	"github.com/samandartukhtayev/ecommerce-sharding/models"
	"github.com/samandartukhtayev/ecommerce-sharding/sharding"
)

const profileSchema = `
	CREATE TABLE IF NOT EXISTS user_profiles (
		id            VARCHAR(36) PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		full_name     VARCHAR(255),
		phone         VARCHAR(32),
		avatar_url    TEXT,
		date_of_birth DATE,
		bio           TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)
`

const profileColumns = `id, email, full_name, phone, avatar_url, date_of_birth, bio, created_at, updated_at`

// ProfileRepository stores user profiles across the shards.
// Every operation resolves ShardOf(id) and touches that shard only;
// there is deliberately no cross-shard lookup.
type ProfileRepository struct {
	shards *sharding.ShardManager
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(sm *sharding.ShardManager) *ProfileRepository {
	return &ProfileRepository{
		shards: sm,
	}
}

// EnsureSchema creates the profile table on every shard
func (r *ProfileRepository) EnsureSchema(ctx context.Context) error {
	for _, shard := range r.shards.AllShards() {
		if _, err := shard.Primary.ExecContext(ctx, profileSchema); err != nil {
			return fmt.Errorf("failed to create schema on shard %d: %w", shard.ShardID, err)
		}
	}
	return nil
}

// Create inserts a profile on its owning shard. A duplicate id is a Conflict.
func (r *ProfileRepository) Create(ctx context.Context, p *models.UserProfile) error {
	query := `
		INSERT INTO user_profiles (id, email, full_name, phone, avatar_url, date_of_birth, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at
	`

	return r.shards.WithShard(ctx, p.ID, func(ctx context.Context, db *sql.DB) error {
		err := db.QueryRowContext(ctx, query,
			p.ID, p.Email, p.FullName, p.Phone, p.AvatarURL, p.DateOfBirth, p.Bio,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.Wrap(err, apperrors.CodeConflict, "profile already exists")
			}
			return fmt.Errorf("failed to create profile: %w", err)
		}
		return nil
	})
}

// FindByID reads from the owning primary. A missing row is reported as
// found=false with a nil error, leaving the policy to the caller.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.UserProfile, bool, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`

	var profile *models.UserProfile
	err := r.shards.WithShard(ctx, id, func(ctx context.Context, db *sql.DB) error {
		p, err := scanProfile(db.QueryRowContext(ctx, query, id))
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get profile: %w", err)
	}
	return profile, true, nil
}

// Update applies the non-nil fields of patch and returns the stored profile
func (r *ProfileRepository) Update(ctx context.Context, id string, patch models.ProfilePatch) (*models.UserProfile, error) {
	query := `
		UPDATE user_profiles
		SET full_name = COALESCE($1, full_name),
			phone = COALESCE($2, phone),
			avatar_url = COALESCE($3, avatar_url),
			date_of_birth = COALESCE($4, date_of_birth),
			bio = COALESCE($5, bio),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $6
		RETURNING ` + profileColumns

	var profile *models.UserProfile
	err := r.shards.WithShard(ctx, id, func(ctx context.Context, db *sql.DB) error {
		p, err := scanProfile(db.QueryRowContext(ctx, query,
			patch.FullName, patch.Phone, patch.AvatarURL, patch.DateOfBirth, patch.Bio, id,
		))
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound(fmt.Sprintf("profile not found: %s", id))
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return profile, nil
}

// Delete removes a profile. A missing row is NotFound.
func (r *ProfileRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM user_profiles WHERE id = $1`

	return r.shards.WithShard(ctx, id, func(ctx context.Context, db *sql.DB) error {
		result, err := db.ExecContext(ctx, query, id)
		if err != nil {
			return fmt.Errorf("failed to delete profile: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return apperrors.NotFound(fmt.Sprintf("profile not found: %s", id))
		}
		return nil
	})
}

// CountPerShard returns the number of profiles in each shard.
// Useful for monitoring shard distribution.
func (r *ProfileRepository) CountPerShard(ctx context.Context) (map[int]int, error) {
	counts := make(map[int]int)
	query := `SELECT COUNT(*) FROM user_profiles`

	for _, shard := range r.shards.AllShards() {
		var count int
		err := shard.ReplicaOrPrimary().QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to count profiles in shard %d: %w", shard.ShardID, err)
		}
		counts[shard.ShardID] = count
	}

	return counts, nil
}

func scanProfile(row *sql.Row) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Phone, &p.AvatarURL,
		&p.DateOfBirth, &p.Bio, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
