package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/nikhilbhutani/promptops/internal/models"
)

const outcomeColumns = `id, owner_id, prompt_id, version_id, deployment_id, experiment_variant_id, model,
	status, latency_ms, input_tokens, output_tokens, total_tokens, estimated_cost_cents, error_message, timestamp`

// InsertOutcome ignores a duplicate id.
func (s *Store) InsertOutcome(ctx context.Context, o *models.Outcome) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO inference_outcomes (`+outcomeColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO NOTHING`,
		o.ID, o.OwnerID, o.PromptID, o.VersionID, o.DeploymentID, o.ExperimentVariantID, o.Model,
		o.Status, o.LatencyMs, o.InputTokens, o.OutputTokens, o.TotalTokens, o.EstimatedCostCents,
		o.ErrorMessage, o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, ownerID string, since time.Time) ([]models.Outcome, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outcomeColumns+` FROM inference_outcomes
		 WHERE owner_id = $1 AND timestamp >= $2 ORDER BY timestamp`,
		ownerID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	return collectOutcomes(rows)
}

func (s *Store) RecentOutcomes(ctx context.Context, ownerID string, limit int) ([]models.Outcome, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+outcomeColumns+` FROM inference_outcomes
		 WHERE owner_id = $1 ORDER BY timestamp DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	return collectOutcomes(rows)
}

func (s *Store) DeleteOutcomesBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM inference_outcomes WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete outcomes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectOutcomes(rows pgx.Rows) ([]models.Outcome, error) {
	defer rows.Close()
	out := []models.Outcome{}
	for rows.Next() {
		var o models.Outcome
		if err := rows.Scan(&o.ID, &o.OwnerID, &o.PromptID, &o.VersionID, &o.DeploymentID,
			&o.ExperimentVariantID, &o.Model, &o.Status, &o.LatencyMs, &o.InputTokens, &o.OutputTokens,
			&o.TotalTokens, &o.EstimatedCostCents, &o.ErrorMessage, &o.Timestamp); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) InsertActivity(ctx context.Context, entry *models.ActivityLog) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO activity_logs (id, owner_id, level, action, message, source, metadata, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.OwnerID, entry.Level, entry.Action, entry.Message, entry.Source,
		[]byte(entry.Metadata), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *Store) ListActivity(ctx context.Context, ownerID, action string, limit int) ([]models.ActivityLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, owner_id, level, action, message, source, metadata, timestamp
		 FROM activity_logs
		 WHERE owner_id = $1 AND ($2 = '' OR action = $2)
		 ORDER BY timestamp DESC, id DESC LIMIT $3`,
		ownerID, action, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	out := []models.ActivityLog{}
	for rows.Next() {
		var (
			a    models.ActivityLog
			meta []byte
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Level, &a.Action, &a.Message, &a.Source, &meta, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Metadata = meta
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListActivityActions(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT action FROM activity_logs WHERE owner_id = $1 ORDER BY action`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity actions: %w", err)
	}
	actions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan activity action: %w", err)
	}
	if actions == nil {
		actions = []string{}
	}
	return actions, nil
}
