package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
)

const deploymentColumns = `id, owner_id, prompt_id, version_id, environment_id, status, notes,
	rolled_back_from_id, created_at, deployed_at`

func scanDeployment(row pgx.Row) (*models.Deployment, error) {
	var d models.Deployment
	err := row.Scan(&d.ID, &d.OwnerID, &d.PromptID, &d.VersionID, &d.EnvironmentID, &d.Status, &d.Notes,
		&d.RolledBackFromID, &d.CreatedAt, &d.DeployedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) CreateDeployment(ctx context.Context, d *models.Deployment) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO deployments (`+deploymentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.OwnerID, d.PromptID, d.VersionID, d.EnvironmentID, d.Status, d.Notes,
		d.RolledBackFromID, d.CreatedAt, d.DeployedAt,
	)
	if pgCode(err) == foreignKeyViolation {
		return apperr.NotFound("version or environment")
	}
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (s *Store) UpdateDeploymentStatus(ctx context.Context, ownerID string, id uuid.UUID, status models.DeploymentStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE deployments SET status = $1
		 WHERE id = $2 AND owner_id = $3 AND status NOT IN ('rolled_back', 'failed')`,
		status, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("update deployment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetDeployment(ctx, ownerID, id); err != nil {
			return err
		}
		return apperr.InvalidState("deployment %s is final", id)
	}
	return nil
}

// ActivateDeployment supersedes the live deployment of the pair and
// activates id in one transaction. A transaction-scoped advisory lock on the
// pair serialises activations across processes; the partial unique index
// uq_deployments_active is the backstop.
func (s *Store) ActivateDeployment(ctx context.Context, ownerID string, id uuid.UUID, deployedAt time.Time) (*models.Deployment, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var (
		promptID, envID uuid.UUID
		status          models.DeploymentStatus
	)
	err = tx.QueryRow(ctx,
		`SELECT prompt_id, environment_id, status FROM deployments
		 WHERE id = $1 AND owner_id = $2 FOR UPDATE`,
		id, ownerID,
	).Scan(&promptID, &envID, &status)
	if err != nil {
		return nil, notFound(err, "deployment", "lock deployment")
	}
	if status != models.DeploymentDeploying {
		return nil, apperr.InvalidState("cannot activate a %s deployment", status)
	}

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		promptID.String()+"/"+envID.String(),
	); err != nil {
		return nil, fmt.Errorf("lock deployment pair: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE deployments SET status = 'rolled_back'
		 WHERE prompt_id = $1 AND environment_id = $2 AND status = 'active' AND id <> $3`,
		promptID, envID, id,
	); err != nil {
		return nil, fmt.Errorf("supersede active deployment: %w", err)
	}

	d, err := scanDeployment(tx.QueryRow(ctx,
		`UPDATE deployments SET status = 'active',
		        deployed_at = GREATEST($1, (SELECT max(deployed_at) + interval '1 microsecond'
		                                    FROM deployments
		                                    WHERE prompt_id = $3 AND environment_id = $4 AND id <> $2))
		 WHERE id = $2 RETURNING `+deploymentColumns,
		deployedAt, id, promptID, envID,
	))
	if err != nil {
		return nil, fmt.Errorf("activate deployment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return d, nil
}

func (s *Store) GetDeployment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Deployment, error) {
	d, err := scanDeployment(s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err != nil {
		return nil, notFound(err, "deployment", "get deployment")
	}
	return d, nil
}

func (s *Store) ListDeployments(ctx context.Context, ownerID string, f deployment.Filter) ([]models.Deployment, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE owner_id = $1
		   AND ($2::uuid IS NULL OR environment_id = $2)
		   AND ($3::uuid IS NULL OR prompt_id = $3)
		 ORDER BY created_at DESC, id DESC LIMIT $4`,
		ownerID, f.EnvironmentID, f.PromptID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	out := []models.Deployment{}
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) ActiveDeployment(ctx context.Context, ownerID string, promptID, environmentID uuid.UUID) (*models.Deployment, error) {
	d, err := scanDeployment(s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE owner_id = $1 AND prompt_id = $2 AND environment_id = $3 AND status = 'active'`,
		ownerID, promptID, environmentID,
	))
	if err != nil {
		return nil, notFound(err, "active deployment", "get active deployment")
	}
	return d, nil
}

func (s *Store) PreviousDeployment(ctx context.Context, ownerID string, d *models.Deployment) (*models.Deployment, error) {
	if d.DeployedAt == nil {
		return nil, apperr.NotFound("previous deployment")
	}
	prev, err := scanDeployment(s.db.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments
		 WHERE owner_id = $1 AND prompt_id = $2 AND environment_id = $3
		   AND deployed_at IS NOT NULL AND (deployed_at, id) < ($4, $5)
		 ORDER BY deployed_at DESC, id DESC LIMIT 1`,
		ownerID, d.PromptID, d.EnvironmentID, *d.DeployedAt, d.ID,
	))
	if err != nil {
		return nil, notFound(err, "previous deployment", "get previous deployment")
	}
	return prev, nil
}
