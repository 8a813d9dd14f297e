package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention deletes outcomes older than a fixed number of days on a cron
// schedule.
type Retention struct {
	repo Repository
	days int
	cron *cron.Cron
	now  func() time.Time
}

func NewRetention(repo Repository, days int) *Retention {
	return &Retention{
		repo: repo,
		days: days,
		cron: cron.New(cron.WithLocation(time.UTC)),
		now:  time.Now,
	}
}

// Schedule registers the prune job with a standard five-field spec.
func (r *Retention) Schedule(spec string) error {
	_, err := r.cron.AddFunc(spec, func() {
		if _, err := r.Prune(context.Background()); err != nil {
			slog.Error("outcome retention failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", spec, err)
	}
	return nil
}

func (r *Retention) Start() { r.cron.Start() }

// Stop waits for a running prune to finish.
func (r *Retention) Stop() {
	<-r.cron.Stop().Done()
}

// Prune deletes outcomes older than the retention window.
func (r *Retention) Prune(ctx context.Context) (int64, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().UTC().Add(-time.Duration(r.days) * 24 * time.Hour)
	n, err := r.repo.DeleteOutcomesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete outcomes before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	slog.Info("pruned outcomes", "deleted", n, "cutoff", cutoff)
	return n, nil
}
