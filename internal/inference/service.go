package inference

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
	"github.com/nikhilbhutani/promptops/internal/prompt"
)

type VersionSource interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*models.PromptVersion, error)
}

type DeploymentResolver interface {
	Resolve(ctx context.Context, promptID, environmentID uuid.UUID) (deployment.LivePointer, error)
}

type VariantEngine interface {
	Select(ctx context.Context, experimentID uuid.UUID) (*models.Experiment, *models.ExperimentVariant, error)
	RecordOutcome(ctx context.Context, variantID uuid.UUID, success bool, latencyMs, tokens int64) error
}

type OutcomeRecorder interface {
	Record(ctx context.Context, o models.Outcome) error
}

// RunRequest names what to run. Exactly one source is used, in this order:
// experiment_id, version_id, prompt_id with environment_id, raw prompt text.
type RunRequest struct {
	ExperimentID  *uuid.UUID        `json:"experiment_id,omitempty"`
	VersionID     *uuid.UUID        `json:"version_id,omitempty"`
	PromptID      *uuid.UUID        `json:"prompt_id,omitempty"`
	EnvironmentID *uuid.UUID        `json:"environment_id,omitempty"`
	SystemPrompt  string            `json:"system_prompt,omitempty"`
	UserPrompt    string            `json:"user_prompt,omitempty"`
	Model         string            `json:"model,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
}

// Service resolves run requests against stored prompts, deployments and
// experiments, and records every finished run.
type Service struct {
	session     *Session
	versions    VersionSource
	deployments DeploymentResolver
	experiments VariantEngine
	recorder    OutcomeRecorder
	activity    activity.Logger
}

func NewService(streamer Streamer, versions VersionSource, deployments DeploymentResolver, experiments VariantEngine, recorder OutcomeRecorder, logger activity.Logger) *Service {
	s := &Service{
		versions:    versions,
		deployments: deployments,
		experiments: experiments,
		recorder:    recorder,
		activity:    logger,
	}
	s.session = NewSession(streamer, WithCompletionHook(s.record))
	return s
}

func (s *Service) Session() *Session { return s.session }

func (s *Service) Stream(ctx context.Context, rr RunRequest) (*Stream, error) {
	req, err := s.Prepare(ctx, rr)
	if err != nil {
		return nil, err
	}
	return s.session.Stream(ctx, req), nil
}

func (s *Service) Run(ctx context.Context, rr RunRequest) (*Result, error) {
	req, err := s.Prepare(ctx, rr)
	if err != nil {
		return nil, err
	}
	return s.session.Run(ctx, req)
}

// Prepare turns a run request into a concrete invocation.
func (s *Service) Prepare(ctx context.Context, rr RunRequest) (Request, error) {
	switch {
	case rr.ExperimentID != nil:
		maxTokens, err := resolveMaxTokens(rr.MaxTokens)
		if err != nil {
			return Request{}, err
		}
		e, v, err := s.experiments.Select(ctx, *rr.ExperimentID)
		if err != nil {
			return Request{}, fmt.Errorf("select variant: %w", err)
		}
		return Request{
			SystemPrompt: v.SystemPrompt,
			UserPrompt:   v.UserPrompt,
			Variables:    rr.Variables,
			Model:        v.Model,
			Temperature:  v.Temperature,
			MaxTokens:    maxTokens,
			Attribution: Attribution{
				PromptID:     &e.PromptID,
				ExperimentID: &e.ID,
				VariantID:    &v.ID,
			},
		}, nil

	case rr.VersionID != nil:
		v, err := s.versions.GetVersion(ctx, *rr.VersionID)
		if err != nil {
			return Request{}, err
		}
		return fromVersion(v, rr.Variables, nil), nil

	case rr.PromptID != nil && rr.EnvironmentID != nil:
		live, err := s.deployments.Resolve(ctx, *rr.PromptID, *rr.EnvironmentID)
		if err != nil {
			return Request{}, err
		}
		v, err := s.versions.GetVersion(ctx, live.VersionID)
		if err != nil {
			return Request{}, err
		}
		return fromVersion(v, rr.Variables, &live.DeploymentID), nil

	case rr.PromptID != nil:
		return Request{}, apperr.Validation("environment_id required with prompt_id")
	}

	if strings.TrimSpace(rr.UserPrompt) == "" {
		return Request{}, apperr.Validation("user_prompt required")
	}
	temperature := prompt.DefaultTemperature
	if rr.Temperature != nil {
		temperature = *rr.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return Request{}, apperr.Validation("temperature must be between 0.0 and 2.0, got %v", temperature)
	}
	maxTokens, err := resolveMaxTokens(rr.MaxTokens)
	if err != nil {
		return Request{}, err
	}
	model := rr.Model
	if model == "" {
		model = prompt.DefaultModel
	}
	return Request{
		SystemPrompt: rr.SystemPrompt,
		UserPrompt:   rr.UserPrompt,
		Variables:    rr.Variables,
		Model:        model,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
	}, nil
}

// resolveMaxTokens applies the default for zero and rejects anything outside
// 1..prompt.MaxMaxTokens.
func resolveMaxTokens(n int) (int, error) {
	if n == 0 {
		n = prompt.DefaultMaxTokens
	}
	if n < 1 || n > prompt.MaxMaxTokens {
		return 0, apperr.Validation("max_tokens must be between 1 and %d, got %d", prompt.MaxMaxTokens, n)
	}
	return n, nil
}

func fromVersion(v *models.PromptVersion, vars map[string]string, deploymentID *uuid.UUID) Request {
	return Request{
		SystemPrompt: v.SystemPrompt,
		UserPrompt:   v.UserPrompt,
		Variables:    prompt.MergeVariables(v.Variables, vars),
		Model:        v.Model,
		Temperature:  v.Temperature,
		MaxTokens:    v.MaxTokens,
		Attribution: Attribution{
			PromptID:     &v.PromptID,
			VersionID:    &v.ID,
			DeploymentID: deploymentID,
		},
	}
}

func (s *Service) record(ctx context.Context, req Request, res *Result) {
	o := models.Outcome{
		ID:                  res.ID,
		OwnerID:             owner.IDFromContext(ctx),
		PromptID:            req.Attribution.PromptID,
		VersionID:           req.Attribution.VersionID,
		DeploymentID:        req.Attribution.DeploymentID,
		ExperimentVariantID: req.Attribution.VariantID,
		Model:               res.Model,
		Status:              res.Status,
		LatencyMs:           res.LatencyMs,
		InputTokens:         res.InputTokens,
		OutputTokens:        res.OutputTokens,
		TotalTokens:         res.TotalTokens,
		EstimatedCostCents:  res.EstimatedCostCents,
		ErrorMessage:        res.Error,
		Timestamp:           res.StartedAt,
	}
	if err := s.recorder.Record(ctx, o); err != nil {
		slog.Error("failed to record outcome", "outcome_id", o.ID, "error", err)
	}

	if id := req.Attribution.VariantID; id != nil {
		if err := s.experiments.RecordOutcome(ctx, *id, res.Status == models.OutcomeSuccess, res.LatencyMs, int64(res.TotalTokens)); err != nil {
			slog.Error("failed to record variant outcome", "variant_id", id, "error", err)
		}
	}

	level := models.LevelSuccess
	if res.Status != models.OutcomeSuccess {
		level = models.LevelError
	}
	s.activity.Log(ctx, activity.Entry{
		Action:  "inference.run",
		Message: fmt.Sprintf("Ran %s in %dms", res.Model, res.LatencyMs),
		Level:   level,
		Source:  "inference",
		Details: map[string]any{"model": res.Model, "latency_ms": res.LatencyMs, "success": res.Status == models.OutcomeSuccess},
	})
}
