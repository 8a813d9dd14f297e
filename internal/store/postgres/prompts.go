package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

const versionColumns = `id, prompt_id, version_tag, system_prompt, user_prompt, model, temperature,
	max_tokens, commit_message, variables, created_at`

func (s *Store) CreatePrompt(ctx context.Context, p *models.Prompt, initial *models.PromptVersion) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	_, err = tx.Exec(ctx,
		`INSERT INTO prompts (id, owner_id, name, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OwnerID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}

	if initial != nil {
		if err := insertVersion(ctx, tx, initial); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetPrompt(ctx context.Context, ownerID string, id uuid.UUID) (*models.Prompt, error) {
	var p models.Prompt
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, name, description, created_at, updated_at
		 FROM prompts WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "prompt", "get prompt")
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions
		 WHERE prompt_id = $1 ORDER BY created_at, id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		p.Versions = append(p.Versions, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get versions: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPrompts(ctx context.Context, ownerID string, limit, offset int) ([]models.PromptSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.owner_id, p.name, p.description, p.created_at, p.updated_at,
		        COALESCE((SELECT v.version_tag FROM prompt_versions v WHERE v.prompt_id = p.id
		                  ORDER BY v.created_at DESC, v.id DESC LIMIT 1), ''),
		        (SELECT count(*) FROM prompt_versions v WHERE v.prompt_id = p.id)
		 FROM prompts p WHERE p.owner_id = $1
		 ORDER BY p.updated_at DESC, p.id DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	out := []models.PromptSummary{}
	for rows.Next() {
		var p models.PromptSummary
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt,
			&p.LatestVersion, &p.VersionCount); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CreateVersion(ctx context.Context, ownerID string, v *models.PromptVersion) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	tag, err := tx.Exec(ctx,
		`UPDATE prompts SET updated_at = $1 WHERE id = $2 AND owner_id = $3`,
		v.CreatedAt, v.PromptID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("touch prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prompt")
	}

	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetVersion(ctx context.Context, ownerID string, id uuid.UUID) (*models.PromptVersion, error) {
	row := s.db.QueryRow(ctx,
		`SELECT v.id, v.prompt_id, v.version_tag, v.system_prompt, v.user_prompt, v.model, v.temperature,
		        v.max_tokens, v.commit_message, v.variables, v.created_at
		 FROM prompt_versions v JOIN prompts p ON p.id = v.prompt_id
		 WHERE v.id = $1 AND p.owner_id = $2`,
		id, ownerID,
	)
	v, err := scanVersion(row)
	if err != nil {
		return nil, notFound(err, "version", "get version")
	}
	return v, nil
}

func (s *Store) UpdatePrompt(ctx context.Context, ownerID string, id uuid.UUID, name, description string, updatedAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE prompts SET name = $1, description = $2, updated_at = $3 WHERE id = $4 AND owner_id = $5`,
		name, description, updatedAt, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prompt")
	}
	return nil
}

// DeletePrompt relies on ON DELETE CASCADE for versions, deployments and
// experiments.
func (s *Store) DeletePrompt(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM prompts WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("prompt")
	}
	return nil
}

func insertVersion(ctx context.Context, tx pgx.Tx, v *models.PromptVersion) error {
	var vars []byte
	if v.Variables != nil {
		var err error
		if vars, err = json.Marshal(v.Variables); err != nil {
			return fmt.Errorf("encode variables: %w", err)
		}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO prompt_versions (`+versionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.PromptID, v.VersionTag, v.SystemPrompt, v.UserPrompt, v.Model, v.Temperature,
		v.MaxTokens, v.CommitMessage, vars, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prompt version: %w", err)
	}
	return nil
}

func scanVersion(row pgx.Row) (*models.PromptVersion, error) {
	var (
		v    models.PromptVersion
		vars []byte
	)
	err := row.Scan(&v.ID, &v.PromptID, &v.VersionTag, &v.SystemPrompt, &v.UserPrompt, &v.Model,
		&v.Temperature, &v.MaxTokens, &v.CommitMessage, &vars, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &v.Variables); err != nil {
			return nil, fmt.Errorf("decode variables: %w", err)
		}
	}
	return &v, nil
}
