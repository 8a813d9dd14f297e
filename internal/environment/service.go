// Package environment manages the named deployment targets of an owner.
package environment

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/keylock"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

const DefaultColor = "#6366f1"

var (
	namePattern  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,49}$`)
	colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)
)

type Repository interface {
	ListEnvironments(ctx context.Context, ownerID string) ([]models.Environment, error)
	// CreateEnvironments inserts all environments or none. A duplicate
	// (owner, name) fails with apperr.ErrValidation.
	CreateEnvironments(ctx context.Context, envs ...*models.Environment) error
	GetEnvironment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Environment, error)
	// DeleteEnvironment fails with apperr.ErrInvalidState while any deployment
	// in the environment is active.
	DeleteEnvironment(ctx context.Context, ownerID string, id uuid.UUID) error
}

type Service struct {
	repo     Repository
	activity activity.Logger
	seeding  keylock.Map
	now      func() time.Time
}

func NewService(repo Repository, logger activity.Logger) *Service {
	return &Service{repo: repo, activity: logger, now: time.Now}
}

type CreateRequest struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
	IsProtected bool   `json:"is_protected"`
	Color       string `json:"color"`
}

// List returns the owner's environments in creation order, creating the
// development, staging and production defaults the first time.
func (s *Service) List(ctx context.Context) ([]models.Environment, error) {
	ownerID := owner.IDFromContext(ctx)
	envs, err := s.repo.ListEnvironments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	if len(envs) > 0 {
		return envs, nil
	}

	unlock := s.seeding.Lock(ownerID)
	defer unlock()

	envs, err = s.repo.ListEnvironments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	if len(envs) > 0 {
		return envs, nil
	}

	// another replica may have seeded first; the unique name index rejects ours
	if err := s.repo.CreateEnvironments(ctx, s.defaults(ownerID)...); err != nil && !errors.Is(err, apperr.ErrValidation) {
		return nil, fmt.Errorf("seed environments: %w", err)
	}
	envs, err = s.repo.ListEnvironments(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return envs, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Environment, error) {
	name := strings.TrimSpace(req.Name)
	if !namePattern.MatchString(name) {
		return nil, apperr.Validation("name must be 1-50 lowercase letters, digits, '-' or '_'")
	}
	display := strings.TrimSpace(req.DisplayName)
	if display == "" {
		return nil, apperr.Validation("display_name required")
	}
	if len(display) > 100 {
		return nil, apperr.Validation("display_name too long")
	}
	if len(req.Description) > 500 {
		return nil, apperr.Validation("description too long")
	}
	color := req.Color
	if color == "" {
		color = DefaultColor
	}
	if !colorPattern.MatchString(color) {
		return nil, apperr.Validation("color must be a #rrggbb hex code")
	}

	env := &models.Environment{
		ID:          uuid.Must(uuid.NewV7()),
		OwnerID:     owner.IDFromContext(ctx),
		Name:        name,
		DisplayName: display,
		Description: req.Description,
		IsProtected: req.IsProtected,
		Color:       color,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateEnvironments(ctx, env); err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			return nil, apperr.Validation("environment '%s' already exists", name)
		}
		return nil, fmt.Errorf("create environment: %w", err)
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "environment.created",
		Message: fmt.Sprintf("Created environment '%s'", env.DisplayName),
		Level:   models.LevelSuccess,
		Details: map[string]any{"environment_id": env.ID, "name": env.Name},
	})
	return env, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Environment, error) {
	env, err := s.repo.GetEnvironment(ctx, owner.IDFromContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get environment: %w", err)
	}
	return env, nil
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.DeleteEnvironment(ctx, owner.IDFromContext(ctx), id); err != nil {
		return fmt.Errorf("delete environment: %w", err)
	}
	s.activity.Log(ctx, activity.Entry{
		Action:  "environment.deleted",
		Message: "Deleted environment",
		Level:   models.LevelWarning,
		Details: map[string]any{"environment_id": id},
	})
	return nil
}

func (s *Service) defaults(ownerID string) []*models.Environment {
	now := s.now().UTC()
	specs := []struct {
		name, display, description, color string
		protected                          bool
	}{
		{"development", "Development", "Local development environment", "#22c55e", false},
		{"staging", "Staging", "Pre-production testing environment", "#eab308", false},
		{"production", "Production", "Live production environment", "#ef4444", true},
	}

	envs := make([]*models.Environment, len(specs))
	for i, sp := range specs {
		envs[i] = &models.Environment{
			ID:          uuid.Must(uuid.NewV7()),
			OwnerID:     ownerID,
			Name:        sp.name,
			DisplayName: sp.display,
			Description: sp.description,
			IsProtected: sp.protected,
			Color:       sp.color,
			// distinct timestamps keep creation order stable
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}
	return envs
}
