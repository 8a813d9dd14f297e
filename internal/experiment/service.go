// Package experiment runs A/B tests across prompt variants.
package experiment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/keylock"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultTemperature = 0.7
	DefaultWeight      = 50
)

type Repository interface {
	// CreateExperiment stores the experiment and its variants. It fails with
	// apperr.ErrNotFound when the prompt is not the owner's.
	CreateExperiment(ctx context.Context, e *models.Experiment) error
	GetExperiment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Experiment, error)
	ListExperiments(ctx context.Context, ownerID string, promptID *uuid.UUID) ([]models.Experiment, error)
	// UpdateExperiment persists status, timestamps and winner only if the
	// stored status still equals expected; otherwise apperr.ErrInvalidState.
	UpdateExperiment(ctx context.Context, e *models.Experiment, expected models.ExperimentStatus) error
	// RenameExperiment changes name and description in any status.
	RenameExperiment(ctx context.Context, ownerID string, id uuid.UUID, name, description string) error
	// DeleteExperiment removes a draft or completed experiment; any other
	// status fails with apperr.ErrInvalidState.
	DeleteExperiment(ctx context.Context, ownerID string, id uuid.UUID) error
	// RecordVariantOutcome adds to the variant counters in one atomic update.
	RecordVariantOutcome(ctx context.Context, ownerID string, variantID uuid.UUID, success bool, latencyMs, tokens int64) error
}

type Service struct {
	repo     Repository
	activity activity.Logger
	rng      Rand
	locks    keylock.Map
	now      func() time.Time
}

func NewService(repo Repository, logger activity.Logger, rng Rand) *Service {
	if rng == nil {
		rng = globalRand{}
	}
	return &Service{repo: repo, activity: logger, rng: rng, now: time.Now}
}

type VariantSpec struct {
	Name          string   `json:"name"`
	SystemPrompt  string   `json:"system_prompt"`
	UserPrompt    string   `json:"user_prompt"`
	Model         string   `json:"model"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TrafficWeight *int     `json:"traffic_weight,omitempty"`
}

type CreateRequest struct {
	PromptID    uuid.UUID     `json:"prompt_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Variants    []VariantSpec `json:"variants"`
}

// Create stores a draft experiment. Weights are range-checked but need not
// sum to 100 until Start.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Experiment, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name required")
	}
	if len(req.Variants) < 2 {
		return nil, apperr.Validation("at least 2 variants required, got %d", len(req.Variants))
	}

	now := s.now().UTC()
	e := &models.Experiment{
		ID:                uuid.Must(uuid.NewV7()),
		PromptID:          req.PromptID,
		OwnerID:           owner.IDFromContext(ctx),
		Name:              name,
		Description:       req.Description,
		Status:            models.ExperimentDraft,
		TrafficAllocation: make(map[uuid.UUID]int, len(req.Variants)),
		CreatedAt:         now,
	}

	for i, spec := range req.Variants {
		v, err := buildVariant(e.ID, spec, now.Add(time.Duration(i)*time.Microsecond))
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i+1, err)
		}
		e.Variants = append(e.Variants, *v)
		e.TrafficAllocation[v.ID] = v.TrafficWeight
	}

	if err := s.repo.CreateExperiment(ctx, e); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "experiment.created",
		Message: fmt.Sprintf("Created experiment '%s'", e.Name),
		Level:   models.LevelSuccess,
		Details: map[string]any{"experiment_id": e.ID, "prompt_id": e.PromptID, "variants": len(e.Variants)},
	})
	return e, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	e, err := s.repo.GetExperiment(ctx, owner.IDFromContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}
	return e, nil
}

// List returns experiments newest first, optionally for one prompt.
func (s *Service) List(ctx context.Context, promptID *uuid.UUID) ([]models.Experiment, error) {
	es, err := s.repo.ListExperiments(ctx, owner.IDFromContext(ctx), promptID)
	if err != nil {
		return nil, fmt.Errorf("list experiments: %w", err)
	}
	return es, nil
}

// UpdateRequest changes experiment metadata. Nil fields are left as they
// are; variants and traffic are fixed at creation.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Experiment, error) {
	ownerID := owner.IDFromContext(ctx)
	e, err := s.repo.GetExperiment(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get experiment: %w", err)
	}

	name, description := e.Name, e.Description
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
	}
	if req.Description != nil {
		description = *req.Description
	}

	if err := s.repo.RenameExperiment(ctx, ownerID, id, name, description); err != nil {
		return nil, fmt.Errorf("update experiment: %w", err)
	}
	e.Name, e.Description = name, description

	s.activity.Log(ctx, activity.Entry{
		Action:  "experiment.updated",
		Message: fmt.Sprintf("Updated experiment '%s'", e.Name),
		Level:   models.LevelInfo,
		Details: map[string]any{"experiment_id": e.ID},
	})
	return e, nil
}

// Start moves a draft or paused experiment to running. started_at keeps the
// first start time across pauses.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	return s.transition(ctx, id, "experiment.started", func(e *models.Experiment) error {
		if e.Status != models.ExperimentDraft && e.Status != models.ExperimentPaused {
			return apperr.InvalidState("cannot start a %s experiment", e.Status)
		}
		if total := e.TotalWeight(); total != 100 {
			return apperr.Validation("traffic weights must sum to 100, got %d", total)
		}
		e.Status = models.ExperimentRunning
		if e.StartedAt == nil {
			now := s.now().UTC()
			e.StartedAt = &now
		}
		return nil
	})
}

// Stop pauses a running experiment.
func (s *Service) Stop(ctx context.Context, id uuid.UUID) (*models.Experiment, error) {
	return s.transition(ctx, id, "experiment.stopped", func(e *models.Experiment) error {
		if e.Status != models.ExperimentRunning {
			return apperr.InvalidState("cannot stop a %s experiment", e.Status)
		}
		e.Status = models.ExperimentPaused
		return nil
	})
}

// Complete ends the experiment for good. The winner, when given, is the
// caller's decision and must be one of the experiment's variants.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, winnerVariantID *uuid.UUID) (*models.Experiment, error) {
	return s.transition(ctx, id, "experiment.completed", func(e *models.Experiment) error {
		if e.Status == models.ExperimentCompleted {
			return apperr.InvalidState("experiment already completed")
		}
		if winnerVariantID != nil && e.Variant(*winnerVariantID) == nil {
			return apperr.Validation("winner %s is not a variant of this experiment", winnerVariantID)
		}
		now := s.now().UTC()
		e.Status = models.ExperimentCompleted
		e.EndedAt = &now
		e.WinnerVariantID = winnerVariantID
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	e, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != models.ExperimentDraft && e.Status != models.ExperimentCompleted {
		return apperr.InvalidState("cannot delete a %s experiment, stop or complete it first", e.Status)
	}
	if err := s.repo.DeleteExperiment(ctx, e.OwnerID, id); err != nil {
		return fmt.Errorf("delete experiment: %w", err)
	}
	return nil
}

// Select loads the experiment and picks a variant for one request.
func (s *Service) Select(ctx context.Context, id uuid.UUID) (*models.Experiment, *models.ExperimentVariant, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	v, err := SelectVariant(e, s.rng)
	if err != nil {
		return nil, nil, err
	}
	return e, v, nil
}

// RecordOutcome folds one finished request into the variant's counters.
func (s *Service) RecordOutcome(ctx context.Context, variantID uuid.UUID, success bool, latencyMs, tokens int64) error {
	if latencyMs < 0 || tokens < 0 {
		return apperr.Validation("latency and tokens must be non-negative")
	}
	if err := s.repo.RecordVariantOutcome(ctx, owner.IDFromContext(ctx), variantID, success, latencyMs, tokens); err != nil {
		return fmt.Errorf("record variant outcome: %w", err)
	}
	return nil
}

type VariantResult struct {
	VariantID    uuid.UUID `json:"variant_id"`
	Name         string    `json:"name"`
	RequestCount int64     `json:"request_count"`
	SuccessCount int64     `json:"success_count"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	AvgTokens    float64   `json:"avg_tokens"`
	IsWinner     bool      `json:"is_winner"`
}

// Results reports per-variant averages derived from the counters.
func (s *Service) Results(ctx context.Context, id uuid.UUID) ([]VariantResult, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]VariantResult, len(e.Variants))
	for i, v := range e.Variants {
		r := VariantResult{
			VariantID:    v.ID,
			Name:         v.Name,
			RequestCount: v.RequestCount,
			SuccessCount: v.SuccessCount,
			AvgLatencyMs: v.AvgLatencyMs(),
			AvgTokens:    v.AvgTokens(),
			IsWinner:     e.WinnerVariantID != nil && *e.WinnerVariantID == v.ID,
		}
		if v.RequestCount > 0 {
			r.SuccessRate = float64(v.SuccessCount) / float64(v.RequestCount) * 100
		}
		out[i] = r
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, action string, apply func(*models.Experiment) error) (*models.Experiment, error) {
	unlock := s.locks.Lock(id.String())
	defer unlock()

	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := e.Status
	if err := apply(e); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateExperiment(ctx, e, from); err != nil {
		return nil, fmt.Errorf("update experiment: %w", err)
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  action,
		Message: fmt.Sprintf("Experiment '%s' is now %s", e.Name, e.Status),
		Level:   models.LevelInfo,
		Details: map[string]any{"experiment_id": e.ID, "from": from, "to": e.Status},
	})
	return e, nil
}

func buildVariant(experimentID uuid.UUID, spec VariantSpec, createdAt time.Time) (*models.ExperimentVariant, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, apperr.Validation("name required")
	}

	weight := DefaultWeight
	if spec.TrafficWeight != nil {
		weight = *spec.TrafficWeight
	}
	if weight < 0 || weight > 100 {
		return nil, apperr.Validation("traffic_weight must be between 0 and 100, got %d", weight)
	}

	temperature := DefaultTemperature
	if spec.Temperature != nil {
		temperature = *spec.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return nil, apperr.Validation("temperature must be between 0.0 and 2.0, got %v", temperature)
	}

	model := spec.Model
	if model == "" {
		model = DefaultModel
	}

	return &models.ExperimentVariant{
		ID:            uuid.Must(uuid.NewV7()),
		ExperimentID:  experimentID,
		Name:          name,
		SystemPrompt:  spec.SystemPrompt,
		UserPrompt:    spec.UserPrompt,
		Model:         model,
		Temperature:   temperature,
		TrafficWeight: weight,
		CreatedAt:     createdAt,
	}, nil
}
