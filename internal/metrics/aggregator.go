// Package metrics rolls inference outcomes up into dashboard statistics.
// Every query is recomputed from the outcome log.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

const (
	MinDays       = 1
	MaxDays       = 90
	MaxRecent     = 200
	defaultRecent = 50
)

type Repository interface {
	// InsertOutcome ignores an outcome whose id is already stored.
	InsertOutcome(ctx context.Context, o *models.Outcome) error
	ListOutcomes(ctx context.Context, ownerID string, since time.Time) ([]models.Outcome, error)
	RecentOutcomes(ctx context.Context, ownerID string, limit int) ([]models.Outcome, error)
	DeleteOutcomesBefore(ctx context.Context, before time.Time) (int64, error)
}

type Aggregator struct {
	repo Repository
	now  func() time.Time
}

func NewAggregator(repo Repository) *Aggregator {
	return &Aggregator{repo: repo, now: time.Now}
}

// Record appends an outcome. Cancelled runs are dropped.
func (a *Aggregator) Record(ctx context.Context, o models.Outcome) error {
	if o.Status == models.OutcomeCancelled {
		return nil
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = a.now().UTC()
	}
	if err := a.repo.InsertOutcome(ctx, &o); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (a *Aggregator) Overview(ctx context.Context, days int) (*Overview, error) {
	outcomes, err := a.window(ctx, days)
	if err != nil {
		return nil, err
	}
	ov := summarize(outcomes)
	return &ov, nil
}

func (a *Aggregator) ByModel(ctx context.Context, days int) ([]ModelStats, error) {
	outcomes, err := a.window(ctx, days)
	if err != nil {
		return nil, err
	}
	return byModel(outcomes), nil
}

func (a *Aggregator) Latency(ctx context.Context, days int) ([]LatencyBucket, error) {
	outcomes, err := a.window(ctx, days)
	if err != nil {
		return nil, err
	}
	return hourly(outcomes), nil
}

func (a *Aggregator) Costs(ctx context.Context, days int) ([]CostBucket, error) {
	outcomes, err := a.window(ctx, days)
	if err != nil {
		return nil, err
	}
	return daily(outcomes), nil
}

func (a *Aggregator) Recent(ctx context.Context, limit int) ([]models.Outcome, error) {
	if limit <= 0 {
		limit = defaultRecent
	}
	limit = min(limit, MaxRecent)
	outcomes, err := a.repo.RecentOutcomes(ctx, owner.IDFromContext(ctx), limit)
	if err != nil {
		return nil, fmt.Errorf("recent outcomes: %w", err)
	}
	return outcomes, nil
}

func (a *Aggregator) window(ctx context.Context, days int) ([]models.Outcome, error) {
	days = max(MinDays, min(days, MaxDays))
	since := a.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	outcomes, err := a.repo.ListOutcomes(ctx, owner.IDFromContext(ctx), since)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}

	kept := outcomes[:0]
	for _, o := range outcomes {
		if o.Status != models.OutcomeCancelled {
			kept = append(kept, o)
		}
	}
	return kept, nil
}
