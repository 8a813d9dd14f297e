package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/api"
	"github.com/nikhilbhutani/promptops/internal/api/handlers"
	"github.com/nikhilbhutani/promptops/internal/cache"
	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/environment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/inference"
	"github.com/nikhilbhutani/promptops/internal/llm"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/queue"
	"github.com/nikhilbhutani/promptops/internal/store"
	"github.com/nikhilbhutani/promptops/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Log.Level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ready := map[string]handlers.Pinger{"database": db}

	// Redis (optional): live deployment pointers and the outcome queue
	var target deployment.Target = deployment.NoopTarget{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		c := cache.NewCache(rdb, "promptops:")
		if err := c.Ping(ctx); err != nil {
			slog.Warn("redis unavailable at startup", "error", err)
		}
		target = deployment.NewRedisTarget(c)
		ready["redis"] = c
	}

	gw, err := llm.NewGateway(ctx, cfg.LLM)
	if err != nil {
		slog.Error("failed to initialise LLM gateway", "error", err)
		os.Exit(1)
	}

	dispatcher := webhook.NewDispatcher(cfg.Webhook)
	defer dispatcher.Close()

	act := activity.NewService(db)
	deployments := deployment.NewService(db, act,
		deployment.WithTarget(target),
		deployment.WithNotifier(dispatcher),
	)
	prompts := prompt.NewService(db, act, prompt.WithDeleteHook(deployments.ForgetPrompt))
	experiments := experiment.NewService(db, act, nil)
	aggregator := metrics.NewAggregator(db)

	var recorder inference.OutcomeRecorder = aggregator
	if cfg.Queue.AsyncOutcomes {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		recorder = qc
		slog.Info("recording inference outcomes through the worker queue")
	}

	router := api.NewRouter(cfg, api.Services{
		Prompts:      prompts,
		Environments: environment.NewService(db, act),
		Deployments:  deployments,
		Experiments:  experiments,
		Inference:    inference.NewService(gw, prompts, deployments, experiments, recorder, act),
		Metrics:      aggregator,
		Activity:     act,
		Models:       gw,
		Ready:        ready,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// streamed runs can take minutes
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
