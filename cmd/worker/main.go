package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/queue"
	"github.com/nikhilbhutani/promptops/internal/queue/workers"
	"github.com/nikhilbhutani/promptops/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if cfg.Database.URL == "" || cfg.Redis.Addr == "" {
		slog.Error("worker requires DATABASE_URL and REDIS_ADDR")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	retention := metrics.NewRetention(db, cfg.Metrics.RetentionDays)
	if err := retention.Schedule(cfg.Metrics.RetentionSchedule); err != nil {
		slog.Error("invalid retention schedule", "schedule", cfg.Metrics.RetentionSchedule, "error", err)
		os.Exit(1)
	}
	retention.Start()
	defer retention.Stop()

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
			Queues: map[string]int{
				queue.QueueDefault: 1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()

	outcomeWorker := workers.NewOutcomeWorker(metrics.NewAggregator(db))
	registry.Register(queue.TypeOutcomeRecord, asynq.HandlerFunc(outcomeWorker.ProcessTask))

	slog.Info("starting worker", "concurrency", cfg.Queue.Concurrency, "retention_days", cfg.Metrics.RetentionDays)
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	slog.Info("worker stopped")
}
