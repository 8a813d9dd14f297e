package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/api/handlers"
	"github.com/nikhilbhutani/promptops/internal/api/middleware"
	"github.com/nikhilbhutani/promptops/internal/auth"
	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/environment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/inference"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/prompt"
)

// Services are the wired domain services the API exposes.
type Services struct {
	Prompts      *prompt.Service
	Environments *environment.Service
	Deployments  *deployment.Service
	Experiments  *experiment.Service
	Inference    *inference.Service
	Metrics      *metrics.Aggregator
	Activity     *activity.Service
	Models       handlers.ModelLister
	// Ready lists the dependencies checked by /readyz.
	Ready map[string]handlers.Pinger
}

type Router struct {
	mux *chi.Mux
	cfg *config.Config
	svc Services
	jwt *auth.JWTMiddleware
	rl  *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, svc Services) *Router {
	return &Router{
		mux: chi.NewRouter(),
		cfg: cfg,
		svc: svc,
		jwt: auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		rl:  middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

// Close releases the rate limiter's background cleanup.
func (rt *Router) Close() {
	rt.rl.Stop()
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.svc.Ready)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)
		// keyed by owner once authenticated
		r.Use(rt.rl.Limit)

		promptH := handlers.NewPromptHandler(rt.svc.Prompts)
		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", promptH.Create)
			r.Get("/", promptH.List)
			r.Post("/variables", promptH.Variables)
			r.Get("/{id}", promptH.Get)
			r.Put("/{id}", promptH.Update)
			r.Delete("/{id}", promptH.Delete)
			r.Get("/{id}/versions", promptH.ListVersions)
			r.Post("/{id}/versions", promptH.CreateVersion)
			r.Get("/{id}/versions/{versionID}", promptH.GetVersion)
			r.Post("/{id}/render", promptH.Render)
		})

		envH := handlers.NewEnvironmentHandler(rt.svc.Environments)
		r.Route("/environments", func(r chi.Router) {
			r.Get("/", envH.List)
			r.Post("/", envH.Create)
			r.Get("/{id}", envH.Get)
			r.Delete("/{id}", envH.Delete)
		})

		deployH := handlers.NewDeploymentHandler(rt.svc.Deployments)
		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", deployH.List)
			r.Post("/", deployH.Create)
			r.Get("/active/{environmentID}/{promptID}", deployH.Active)
			r.Get("/{id}", deployH.Get)
			r.Post("/{id}/rollback", deployH.Rollback)
		})

		expH := handlers.NewExperimentHandler(rt.svc.Experiments)
		r.Route("/experiments", func(r chi.Router) {
			r.Get("/", expH.List)
			r.Post("/", expH.Create)
			r.Get("/{id}", expH.Get)
			r.Put("/{id}", expH.Update)
			r.Delete("/{id}", expH.Delete)
			r.Post("/{id}/start", expH.Start)
			r.Post("/{id}/stop", expH.Stop)
			r.Post("/{id}/complete", expH.Complete)
			r.Post("/{id}/select", expH.Select)
			r.Get("/{id}/results", expH.Results)
		})

		inferH := handlers.NewInferenceHandler(rt.svc.Inference, rt.svc.Models)
		r.Route("/inference", func(r chi.Router) {
			r.Post("/run", inferH.Run)
			r.Post("/run/stream", inferH.RunStream)
			r.Post("/test", inferH.Test)
			r.Get("/models", inferH.Models)
		})

		metricsH := handlers.NewMetricsHandler(rt.svc.Metrics)
		r.Route("/metrics", func(r chi.Router) {
			r.Get("/overview", metricsH.Overview)
			r.Get("/by-model", metricsH.ByModel)
			r.Get("/latency", metricsH.Latency)
			r.Get("/costs", metricsH.Costs)
			r.Get("/recent", metricsH.Recent)
		})

		activityH := handlers.NewActivityHandler(rt.svc.Activity)
		r.Get("/activity", activityH.List)
		r.Get("/activity/actions", activityH.Actions)
	})

	return r
}
