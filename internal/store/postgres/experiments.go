package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

const experimentColumns = `id, owner_id, prompt_id, name, description, status, traffic_allocation,
	winner_variant_id, created_at, started_at, ended_at`

const variantColumns = `id, experiment_id, name, system_prompt, user_prompt, model, temperature,
	traffic_weight, request_count, success_count, total_latency_ms, total_tokens, created_at`

func (s *Store) CreateExperiment(ctx context.Context, e *models.Experiment) error {
	alloc, err := json.Marshal(e.TrafficAllocation)
	if err != nil {
		return fmt.Errorf("encode traffic allocation: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer rollback(ctx, tx)

	var owned bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM prompts WHERE id = $1 AND owner_id = $2)`,
		e.PromptID, e.OwnerID,
	).Scan(&owned)
	if err != nil {
		return fmt.Errorf("check prompt: %w", err)
	}
	if !owned {
		return apperr.NotFound("prompt")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO experiments (`+experimentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.OwnerID, e.PromptID, e.Name, e.Description, e.Status, alloc,
		e.WinnerVariantID, e.CreatedAt, e.StartedAt, e.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	for _, v := range e.Variants {
		_, err := tx.Exec(ctx,
			`INSERT INTO experiment_variants (`+variantColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			v.ID, e.ID, v.Name, v.SystemPrompt, v.UserPrompt, v.Model, v.Temperature,
			v.TrafficWeight, v.RequestCount, v.SuccessCount, v.TotalLatencyMs, v.TotalTokens, v.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetExperiment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Experiment, error) {
	e, err := scanExperiment(s.db.QueryRow(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	))
	if err != nil {
		return nil, notFound(err, "experiment", "get experiment")
	}
	if err := s.loadVariants(ctx, []*models.Experiment{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Store) ListExperiments(ctx context.Context, ownerID string, promptID *uuid.UUID) ([]models.Experiment, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+experimentColumns+` FROM experiments
		 WHERE owner_id = $1 AND ($2::uuid IS NULL OR prompt_id = $2)
		 ORDER BY created_at DESC, id DESC`,
		ownerID, promptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	defer rows.Close()

	var list []*models.Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}

	if err := s.loadVariants(ctx, list); err != nil {
		return nil, err
	}
	out := make([]models.Experiment, len(list))
	for i, e := range list {
		out[i] = *e
	}
	return out, nil
}

func (s *Store) UpdateExperiment(ctx context.Context, e *models.Experiment, expected models.ExperimentStatus) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE experiments SET status = $1, started_at = $2, ended_at = $3, winner_variant_id = $4
		 WHERE id = $5 AND owner_id = $6 AND status = $7`,
		e.Status, e.StartedAt, e.EndedAt, e.WinnerVariantID, e.ID, e.OwnerID, expected,
	)
	if err != nil {
		return fmt.Errorf("update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, e.OwnerID, e.ID, fmt.Sprintf("experiment is no longer %s", expected))
	}
	return nil
}

func (s *Store) RenameExperiment(ctx context.Context, ownerID string, id uuid.UUID, name, description string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE experiments SET name = $1, description = $2 WHERE id = $3 AND owner_id = $4`,
		name, description, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("rename experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("experiment")
	}
	return nil
}

func (s *Store) DeleteExperiment(ctx context.Context, ownerID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM experiments
		 WHERE id = $1 AND owner_id = $2 AND status IN ('draft', 'completed')`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, ownerID, id, "only draft or completed experiments can be deleted")
	}
	return nil
}

// RecordVariantOutcome adds to the counters in a single UPDATE.
func (s *Store) RecordVariantOutcome(ctx context.Context, ownerID string, variantID uuid.UUID, success bool, latencyMs, tokens int64) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE experiment_variants v
		 SET request_count    = v.request_count + 1,
		     success_count    = v.success_count + CASE WHEN $3 THEN 1 ELSE 0 END,
		     total_latency_ms = v.total_latency_ms + $4,
		     total_tokens     = v.total_tokens + $5
		 FROM experiments e
		 WHERE v.id = $1 AND e.id = v.experiment_id AND e.owner_id = $2`,
		variantID, ownerID, success, latencyMs, tokens,
	)
	if err != nil {
		return fmt.Errorf("record variant outcome: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("variant")
	}
	return nil
}

// explainMiss tells a missing experiment apart from one in the wrong state.
func (s *Store) explainMiss(ctx context.Context, ownerID string, id uuid.UUID, msg string) error {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM experiments WHERE id = $1 AND owner_id = $2)`,
		id, ownerID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check experiment: %w", err)
	}
	if !exists {
		return apperr.NotFound("experiment")
	}
	return apperr.InvalidState("%s", msg)
}

func (s *Store) loadVariants(ctx context.Context, list []*models.Experiment) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*models.Experiment, len(list))
	ids := make([]uuid.UUID, len(list))
	for i, e := range list {
		byID[e.ID] = e
		ids[i] = e.ID
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+variantColumns+` FROM experiment_variants
		 WHERE experiment_id = ANY($1) ORDER BY created_at, id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.ExperimentVariant
		if err := rows.Scan(&v.ID, &v.ExperimentID, &v.Name, &v.SystemPrompt, &v.UserPrompt, &v.Model,
			&v.Temperature, &v.TrafficWeight, &v.RequestCount, &v.SuccessCount, &v.TotalLatencyMs,
			&v.TotalTokens, &v.CreatedAt); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		e := byID[v.ExperimentID]
		e.Variants = append(e.Variants, v)
	}
	return rows.Err()
}

func scanExperiment(row pgx.Row) (*models.Experiment, error) {
	var (
		e     models.Experiment
		alloc []byte
	)
	err := row.Scan(&e.ID, &e.OwnerID, &e.PromptID, &e.Name, &e.Description, &e.Status, &alloc,
		&e.WinnerVariantID, &e.CreatedAt, &e.StartedAt, &e.EndedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(alloc, &e.TrafficAllocation); err != nil {
		return nil, fmt.Errorf("decode traffic allocation: %w", err)
	}
	return &e, nil
}
