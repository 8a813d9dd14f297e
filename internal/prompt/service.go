package prompt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

const (
	DefaultModel       = "gemini-2.0-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1024
	MaxMaxTokens       = 8192
)

// Repository persists prompts and their append-only version history.
type Repository interface {
	// CreatePrompt stores the prompt and, when initial is non-nil, its first
	// version in one atomic step.
	CreatePrompt(ctx context.Context, p *models.Prompt, initial *models.PromptVersion) error
	GetPrompt(ctx context.Context, ownerID string, id uuid.UUID) (*models.Prompt, error)
	ListPrompts(ctx context.Context, ownerID string, limit, offset int) ([]models.PromptSummary, error)
	CreateVersion(ctx context.Context, ownerID string, v *models.PromptVersion) error
	GetVersion(ctx context.Context, ownerID string, id uuid.UUID) (*models.PromptVersion, error)
	UpdatePrompt(ctx context.Context, ownerID string, id uuid.UUID, name, description string, updatedAt time.Time) error
	DeletePrompt(ctx context.Context, ownerID string, id uuid.UUID) error
}

type Service struct {
	repo     Repository
	activity activity.Logger
	onDelete []func(ctx context.Context, id uuid.UUID)
	now      func() time.Time
}

type Option func(*Service)

// WithDeleteHook registers fn to run after a prompt is deleted.
func WithDeleteHook(fn func(ctx context.Context, id uuid.UUID)) Option {
	return func(s *Service) { s.onDelete = append(s.onDelete, fn) }
}

func NewService(repo Repository, logger activity.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, activity: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type VersionSpec struct {
	VersionTag    string            `json:"version_tag"`
	SystemPrompt  string            `json:"system_prompt"`
	UserPrompt    string            `json:"user_prompt"`
	Model         string            `json:"model,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     int               `json:"max_tokens,omitempty"`
	CommitMessage string            `json:"commit_message,omitempty"`
	Variables     map[string]string `json:"variables,omitempty"`
}

type CreateRequest struct {
	Name           string       `json:"name"`
	Description    string       `json:"description"`
	InitialVersion *VersionSpec `json:"initial_version,omitempty"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Prompt, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("name required")
	}

	now := s.now().UTC()
	p := &models.Prompt{
		ID:          uuid.Must(uuid.NewV7()),
		OwnerID:     owner.IDFromContext(ctx),
		Name:        name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var initial *models.PromptVersion
	if req.InitialVersion != nil {
		v, err := s.buildVersion(p.ID, *req.InitialVersion, now)
		if err != nil {
			return nil, err
		}
		initial = v
	}

	if err := s.repo.CreatePrompt(ctx, p, initial); err != nil {
		return nil, fmt.Errorf("create prompt: %w", err)
	}
	if initial != nil {
		p.Versions = []models.PromptVersion{*initial}
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "prompt.created",
		Message: fmt.Sprintf("Created prompt '%s'", p.Name),
		Level:   models.LevelSuccess,
		Details: map[string]any{"prompt_id": p.ID, "prompt_name": p.Name},
	})
	return p, nil
}

func (s *Service) CreateVersion(ctx context.Context, promptID uuid.UUID, spec VersionSpec) (*models.PromptVersion, error) {
	v, err := s.buildVersion(promptID, spec, s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateVersion(ctx, owner.IDFromContext(ctx), v); err != nil {
		return nil, fmt.Errorf("create version: %w", err)
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "version.created",
		Message: fmt.Sprintf("Created version %s", v.VersionTag),
		Level:   models.LevelSuccess,
		Details: map[string]any{"prompt_id": promptID, "version_id": v.ID, "version_tag": v.VersionTag},
	})
	return v, nil
}

// Get returns the prompt with its versions in creation order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	p, err := s.repo.GetPrompt(ctx, owner.IDFromContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*models.PromptVersion, error) {
	v, err := s.repo.GetVersion(ctx, owner.IDFromContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]models.PromptSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	prompts, err := s.repo.ListPrompts(ctx, owner.IDFromContext(ctx), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

// UpdateRequest changes prompt metadata. Nil fields are left as they are.
type UpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Update renames or re-describes a prompt. Versions are immutable and never
// touched.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.Prompt, error) {
	ownerID := owner.IDFromContext(ctx)
	p, err := s.repo.GetPrompt(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}

	name, description := p.Name, p.Description
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.Validation("name cannot be empty")
		}
	}
	if req.Description != nil {
		description = *req.Description
	}

	updatedAt := s.now().UTC()
	if err := s.repo.UpdatePrompt(ctx, ownerID, id, name, description, updatedAt); err != nil {
		return nil, fmt.Errorf("update prompt: %w", err)
	}
	p.Name, p.Description, p.UpdatedAt = name, description, updatedAt

	s.activity.Log(ctx, activity.Entry{
		Action:  "prompt.updated",
		Message: fmt.Sprintf("Updated prompt '%s'", p.Name),
		Level:   models.LevelInfo,
		Details: map[string]any{"prompt_id": p.ID, "prompt_name": p.Name},
	})
	return p, nil
}

// ListVersions returns the prompt's versions in creation order.
func (s *Service) ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.PromptVersion, error) {
	p, err := s.Get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if p.Versions == nil {
		return []models.PromptVersion{}, nil
	}
	return p.Versions, nil
}

// Version returns versionID only if it belongs to promptID.
func (s *Service) Version(ctx context.Context, promptID, versionID uuid.UUID) (*models.PromptVersion, error) {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.PromptID != promptID {
		return nil, apperr.NotFound("version")
	}
	return v, nil
}

// Delete removes the prompt with its versions, deployments and experiments.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeletePrompt(ctx, owner.IDFromContext(ctx), id); err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	for _, fn := range s.onDelete {
		fn(ctx, id)
	}
	s.activity.Log(ctx, activity.Entry{
		Action:  "prompt.deleted",
		Message: "Deleted prompt",
		Level:   models.LevelWarning,
		Details: map[string]any{"prompt_id": id},
	})
	return nil
}

type RenderRequest struct {
	VersionID *uuid.UUID        `json:"version_id,omitempty"` // nil = latest
	Variables map[string]string `json:"variables"`
}

type RenderResponse struct {
	VersionID uuid.UUID `json:"version_id"`
	System    string    `json:"system"`
	User      string    `json:"user"`
	Missing   []string  `json:"missing,omitempty"`
}

// Render interpolates a stored version. Missing variables are reported, not
// treated as an error.
func (s *Service) Render(ctx context.Context, promptID uuid.UUID, req RenderRequest) (*RenderResponse, error) {
	var v *models.PromptVersion
	if req.VersionID != nil {
		found, err := s.GetVersion(ctx, *req.VersionID)
		if err != nil {
			return nil, err
		}
		if found.PromptID != promptID {
			return nil, fmt.Errorf("get version: %w", apperr.NotFound("version"))
		}
		v = found
	} else {
		p, err := s.Get(ctx, promptID)
		if err != nil {
			return nil, err
		}
		v = p.LatestVersion()
		if v == nil {
			return nil, apperr.InvalidState("prompt has no versions")
		}
	}

	vars := MergeVariables(v.Variables, req.Variables)
	var missing []string
	for _, name := range ExtractVariables(v.UserPrompt) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}

	return &RenderResponse{
		VersionID: v.ID,
		System:    Interpolate(v.SystemPrompt, vars),
		User:      Interpolate(v.UserPrompt, vars),
		Missing:   missing,
	}, nil
}

func (s *Service) buildVersion(promptID uuid.UUID, spec VersionSpec, now time.Time) (*models.PromptVersion, error) {
	tag := strings.TrimSpace(spec.VersionTag)
	if tag == "" {
		return nil, apperr.Validation("version_tag required")
	}

	temperature := DefaultTemperature
	if spec.Temperature != nil {
		temperature = *spec.Temperature
	}
	if temperature < 0 || temperature > 2 {
		return nil, apperr.Validation("temperature must be between 0.0 and 2.0, got %v", temperature)
	}

	maxTokens := spec.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}
	if maxTokens < 1 || maxTokens > MaxMaxTokens {
		return nil, apperr.Validation("max_tokens must be between 1 and %d, got %d", MaxMaxTokens, maxTokens)
	}

	model := spec.Model
	if model == "" {
		model = DefaultModel
	}

	var vars map[string]string
	if len(ExtractVariables(spec.UserPrompt)) > 0 {
		vars = SyncVariables(spec.UserPrompt, spec.Variables)
	}

	return &models.PromptVersion{
		ID:            uuid.Must(uuid.NewV7()),
		PromptID:      promptID,
		VersionTag:    tag,
		SystemPrompt:  spec.SystemPrompt,
		UserPrompt:    spec.UserPrompt,
		Model:         model,
		Temperature:   temperature,
		MaxTokens:     maxTokens,
		CommitMessage: spec.CommitMessage,
		Variables:     vars,
		CreatedAt:     now,
	}, nil
}

// MergeVariables overlays request values on a version's defaults. Empty
// defaults do not count as supplied.
func MergeVariables(defaults, supplied map[string]string) map[string]string {
	out := make(map[string]string, len(defaults)+len(supplied))
	for k, v := range defaults {
		if v != "" {
			out[k] = v
		}
	}
	for k, v := range supplied {
		out[k] = v
	}
	return out
}
