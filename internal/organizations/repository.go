package organizations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rosterleague/backend/internal/models"
)

// Repository handles organizations persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListOrganizations returns the roster ordered by name.
func (r *Repository) ListOrganizations(ctx context.Context) ([]models.Organization, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Organization
	for rows.Next() {
		var o models.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}

// GetOrganization looks an organization up by name or slug, case-insensitively.
// Returns nil, nil when it is not on the roster.
func (r *Repository) GetOrganization(ctx context.Context, name string) (*models.Organization, error) {
	name = strings.TrimSpace(name)
	var o models.Organization
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, slug, created_at, updated_at
		FROM organizations
		WHERE lower(name) = lower($1) OR slug = lower($1)
		LIMIT 1`, name,
	).Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// EnsureRoster upserts the given organization names in one transaction.
func (r *Repository) EnsureRoster(ctx context.Context, names []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO organizations (name, slug)
			VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET slug = EXCLUDED.slug, updated_at = NOW()`,
			name, models.Slugify(name))
		if err != nil {
			return fmt.Errorf("upsert %q: %w", name, err)
		}
	}
	return tx.Commit(ctx)
}
