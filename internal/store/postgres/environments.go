package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func (s *Store) ListEnvironments(ctx context.Context, ownerID string) ([]models.Environment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, name, display_name, description, is_protected, color, created_at
		 FROM environments WHERE owner_id = $1 ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	defer rows.Close()

	out := []models.Environment{}
	for rows.Next() {
		var e models.Environment
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Name, &e.DisplayName, &e.Description,
			&e.IsProtected, &e.Color, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan environment: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CreateEnvironments(ctx context.Context, envs ...*models.Environment) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	for _, e := range envs {
		_, err := tx.Exec(ctx,
			`INSERT INTO environments (id, owner_id, name, display_name, description, is_protected, color, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.OwnerID, e.Name, e.DisplayName, e.Description, e.IsProtected, e.Color, e.CreatedAt,
		)
		if pgCode(err) == uniqueViolation {
			return apperr.Validation("environment '%s' already exists", e.Name)
		}
		if err != nil {
			return fmt.Errorf("insert environment: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetEnvironment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Environment, error) {
	var e models.Environment
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, display_name, description, is_protected, color, created_at
		 FROM environments WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&e.ID, &e.OwnerID, &e.Name, &e.DisplayName, &e.Description, &e.IsProtected, &e.Color, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, "environment", "get environment")
	}
	return &e, nil
}

// DeleteEnvironment holds the row lock across the active check; inserting a
// deployment needs a share lock on the same row.
func (s *Store) DeleteEnvironment(ctx context.Context, ownerID string, id uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var name string
	err = tx.QueryRow(ctx,
		`SELECT name FROM environments WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		id, ownerID,
	).Scan(&name)
	if err != nil {
		return notFound(err, "environment", "lock environment")
	}

	var active bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM deployments WHERE environment_id = $1 AND status = 'active')`,
		id,
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("check active deployments: %w", err)
	}
	if active {
		return apperr.InvalidState("environment '%s' has an active deployment", name)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM environments WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
