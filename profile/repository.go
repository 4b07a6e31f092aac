package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LewisZett/parts-connect-pro/db"
)

// ErrNotFound signals the requested profile does not exist.
var ErrNotFound = errors.New("profile: not found")

// Repository provides read access to public profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a profile by user id.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	if !db.ValidID(id) {
		return Profile{}, ErrNotFound
	}
	const query = `
		SELECT id, full_name, trade_type, verified, created_at
		FROM users
		WHERE id = $1
	`

	var p Profile
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.FullName,
		&p.TradeType,
		&p.Verified,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: query by id: %w", err)
	}

	return p, nil
}

// List fetches up to limit profiles, verified accounts first, then by name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	const query = `
		SELECT id, full_name, trade_type, verified, created_at
		FROM users
		ORDER BY verified DESC, full_name ASC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.FullName, &p.TradeType, &p.Verified, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("profile: scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate profiles: %w", err)
	}

	return profiles, nil
}
