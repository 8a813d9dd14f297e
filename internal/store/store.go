// Package store selects the persistence backend for the API and worker.
package store

import (
	"context"
	"log/slog"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/environment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/store/memory"
	"github.com/nikhilbhutani/promptops/internal/store/postgres"
)

// Store is everything the services persist.
type Store interface {
	prompt.Repository
	environment.Repository
	deployment.Repository
	experiment.Repository
	metrics.Repository
	activity.Repository

	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*memory.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

// Open connects to Postgres and applies migrations, or falls back to the
// in-memory store when no database URL is configured.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	if cfg.URL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart")
		return memory.New(), nil
	}
	pg, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
