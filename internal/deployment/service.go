// Package deployment activates prompt versions in environments and rolls
// them back.
//
// Activation of a (prompt, environment) pair is serialised in process by a
// keyed lock; the repository is expected to make the final flip atomic so at
// most one deployment per pair is ever active.
package deployment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/keylock"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
)

const (
	EventActivated  = "deployment.activated"
	EventRolledBack = "deployment.rolled_back"
	EventFailed     = "deployment.failed"
)

type Repository interface {
	GetVersion(ctx context.Context, ownerID string, id uuid.UUID) (*models.PromptVersion, error)
	GetEnvironment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Environment, error)

	CreateDeployment(ctx context.Context, d *models.Deployment) error
	UpdateDeploymentStatus(ctx context.Context, ownerID string, id uuid.UUID, status models.DeploymentStatus) error
	// ActivateDeployment marks id active and every other active deployment of
	// the same (prompt, environment) rolled_back in one atomic step. The
	// stored deployed_at is deployedAt or, when the pair already has a later
	// one, a microsecond past it, so activation order and deployed_at agree.
	ActivateDeployment(ctx context.Context, ownerID string, id uuid.UUID, deployedAt time.Time) (*models.Deployment, error)
	GetDeployment(ctx context.Context, ownerID string, id uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, ownerID string, f Filter) ([]models.Deployment, error)
	ActiveDeployment(ctx context.Context, ownerID string, promptID, environmentID uuid.UUID) (*models.Deployment, error)
	// PreviousDeployment returns the latest deployment of d's pair that was
	// activated before d, or an apperr.ErrNotFound error.
	PreviousDeployment(ctx context.Context, ownerID string, d *models.Deployment) (*models.Deployment, error)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event string, d *models.Deployment)
}

type Filter struct {
	EnvironmentID *uuid.UUID
	PromptID      *uuid.UUID
	Limit         int
}

type DeployRequest struct {
	VersionID     uuid.UUID `json:"version_id"`
	EnvironmentID uuid.UUID `json:"environment_id"`
	Notes         string    `json:"notes"`
}

type Service struct {
	repo     Repository
	target   Target
	notifier Notifier
	activity activity.Logger
	locks    keylock.Map
	now      func() time.Time
}

type Option func(*Service)

func WithTarget(t Target) Option { return func(s *Service) { s.target = t } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func NewService(repo Repository, logger activity.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		target:   NoopTarget{},
		activity: logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deploy activates a version in an environment. When the target rejects the
// activation the returned deployment is in the failed state and the error
// describes why; the previously active deployment is left as it was.
func (s *Service) Deploy(ctx context.Context, req DeployRequest) (*models.Deployment, error) {
	ownerID := owner.IDFromContext(ctx)

	v, err := s.repo.GetVersion(ctx, ownerID, req.VersionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	env, err := s.repo.GetEnvironment(ctx, ownerID, req.EnvironmentID)
	if err != nil {
		return nil, fmt.Errorf("get environment: %w", err)
	}

	unlock := s.locks.Lock(pairKey(ownerID, v.PromptID, env.ID))
	defer unlock()

	d := s.newDeployment(ownerID, v.PromptID, v.ID, env.ID, req.Notes, nil)
	if err := s.run(ctx, d); err != nil {
		return d, err
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "deployment.created",
		Message: fmt.Sprintf("Deployed %s to %s", v.VersionTag, env.DisplayName),
		Level:   models.LevelSuccess,
		Details: map[string]any{"deployment_id": d.ID, "version_id": v.ID, "environment_id": env.ID},
	})
	s.notify(ctx, EventActivated, d)
	return d, nil
}

// Rollback re-activates the version that was live immediately before the
// given active deployment. The new record points back at the one it replaced.
func (s *Service) Rollback(ctx context.Context, id uuid.UUID, reason string) (*models.Deployment, error) {
	ownerID := owner.IDFromContext(ctx)

	current, err := s.repo.GetDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}

	unlock := s.locks.Lock(pairKey(ownerID, current.PromptID, current.EnvironmentID))
	defer unlock()

	// status may have moved while we waited for the lock
	current, err = s.repo.GetDeployment(ctx, ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	if current.Status != models.DeploymentActive {
		return nil, apperr.InvalidState("only active deployments can be rolled back, status is %s", current.Status)
	}

	prior, err := s.repo.PreviousDeployment(ctx, ownerID, current)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, apperr.ErrNoPriorVersion
	}
	if err != nil {
		return nil, fmt.Errorf("find previous deployment: %w", err)
	}

	notes := reason
	if notes == "" {
		notes = "Rollback"
	}
	d := s.newDeployment(ownerID, current.PromptID, prior.VersionID, current.EnvironmentID, notes, &current.ID)
	if err := s.run(ctx, d); err != nil {
		return d, err
	}

	s.activity.Log(ctx, activity.Entry{
		Action:  "deployment.rollback",
		Message: "Rolled back deployment",
		Level:   models.LevelWarning,
		Details: map[string]any{"deployment_id": d.ID, "rolled_back_from_id": current.ID, "version_id": prior.VersionID},
	})
	s.notify(ctx, EventRolledBack, d)
	return d, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Deployment, error) {
	d, err := s.repo.GetDeployment(ctx, owner.IDFromContext(ctx), id)
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

// List returns deployments most recent first.
func (s *Service) List(ctx context.Context, f Filter) ([]models.Deployment, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	ds, err := s.repo.ListDeployments(ctx, owner.IDFromContext(ctx), f)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return ds, nil
}

func (s *Service) Active(ctx context.Context, promptID, environmentID uuid.UUID) (*models.Deployment, error) {
	d, err := s.repo.ActiveDeployment(ctx, owner.IDFromContext(ctx), promptID, environmentID)
	if err != nil {
		return nil, fmt.Errorf("get active deployment: %w", err)
	}
	return d, nil
}

// Resolve answers "which version serves prompt X in environment Y", reading
// the target's live pointer first when it keeps one.
func (s *Service) Resolve(ctx context.Context, promptID, environmentID uuid.UUID) (LivePointer, error) {
	ownerID := owner.IDFromContext(ctx)
	if r, ok := s.target.(PointerReader); ok {
		p, err := r.Lookup(ctx, ownerID, promptID, environmentID)
		if err == nil {
			return *p, nil
		}
		if !errors.Is(err, ErrNoPointer) {
			slog.Warn("live pointer lookup failed, using store", "error", err)
		}
	}

	d, err := s.repo.ActiveDeployment(ctx, ownerID, promptID, environmentID)
	if err != nil {
		return LivePointer{}, fmt.Errorf("resolve deployment: %w", err)
	}
	return pointerFor(d), nil
}

// run drives d through pending, deploying and active. The caller holds the
// pair lock.
func (s *Service) run(ctx context.Context, d *models.Deployment) error {
	if err := s.repo.CreateDeployment(ctx, d); err != nil {
		return fmt.Errorf("create deployment: %w", err)
	}
	if err := s.repo.UpdateDeploymentStatus(ctx, d.OwnerID, d.ID, models.DeploymentDeploying); err != nil {
		return fmt.Errorf("mark deploying: %w", err)
	}
	d.Status = models.DeploymentDeploying

	previous, err := s.repo.ActiveDeployment(ctx, d.OwnerID, d.PromptID, d.EnvironmentID)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.fail(ctx, d, err)
		return fmt.Errorf("get active deployment: %w", err)
	}

	if err := s.target.Activate(ctx, d); err != nil {
		s.fail(ctx, d, err)
		return fmt.Errorf("activate deployment: %w", err)
	}

	activated, err := s.repo.ActivateDeployment(ctx, d.OwnerID, d.ID, s.now().UTC())
	if err != nil {
		if rerr := s.target.Revert(context.WithoutCancel(ctx), d, previous); rerr != nil {
			slog.Error("failed to revert deployment target", "deployment_id", d.ID, "error", rerr)
		}
		s.fail(ctx, d, err)
		return fmt.Errorf("activate deployment: %w", err)
	}
	*d = *activated

	if p, ok := s.target.(Publisher); ok {
		if err := p.Publish(context.WithoutCancel(ctx), d); err != nil {
			slog.Error("failed to publish live pointer", "deployment_id", d.ID, "error", err)
		}
	}
	return nil
}

// ForgetPrompt drops the target's live pointers for a deleted prompt.
func (s *Service) ForgetPrompt(ctx context.Context, promptID uuid.UUID) {
	p, ok := s.target.(Publisher)
	if !ok {
		return
	}
	if err := p.Forget(context.WithoutCancel(ctx), owner.IDFromContext(ctx), promptID); err != nil {
		slog.Error("failed to forget live pointers", "prompt_id", promptID, "error", err)
	}
}

func (s *Service) fail(ctx context.Context, d *models.Deployment, cause error) {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateDeploymentStatus(ctx, d.OwnerID, d.ID, models.DeploymentFailed); err != nil {
		slog.Error("failed to mark deployment failed", "deployment_id", d.ID, "error", err)
	}
	d.Status = models.DeploymentFailed

	slog.Warn("deployment failed", "deployment_id", d.ID, "error", cause)
	s.activity.Log(ctx, activity.Entry{
		Action:  "deployment.failed",
		Message: fmt.Sprintf("Deployment failed: %v", cause),
		Level:   models.LevelError,
		Details: map[string]any{"deployment_id": d.ID, "version_id": d.VersionID, "environment_id": d.EnvironmentID},
	})
	s.notify(ctx, EventFailed, d)
}

func (s *Service) notify(ctx context.Context, event string, d *models.Deployment) {
	if s.notifier == nil {
		return
	}
	snapshot := *d
	s.notifier.Notify(ctx, event, &snapshot)
}

func (s *Service) newDeployment(ownerID string, promptID, versionID, envID uuid.UUID, notes string, from *uuid.UUID) *models.Deployment {
	return &models.Deployment{
		ID:               uuid.Must(uuid.NewV7()),
		VersionID:        versionID,
		EnvironmentID:    envID,
		PromptID:         promptID,
		OwnerID:          ownerID,
		Status:           models.DeploymentPending,
		Notes:            notes,
		RolledBackFromID: from,
		CreatedAt:        s.now().UTC(),
	}
}

func pairKey(ownerID string, promptID, envID uuid.UUID) string {
	return ownerID + "/" + promptID.String() + "/" + envID.String()
}
