package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func (s *Store) CreateDeployment(_ context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[d.VersionID]
	if !ok || v.PromptID != d.PromptID {
		return apperr.NotFound("version")
	}
	if e, ok := s.environments[d.EnvironmentID]; !ok || e.OwnerID != d.OwnerID {
		return apperr.NotFound("environment")
	}
	s.deployments[d.ID] = cloneDeployment(d)
	return nil
}

func (s *Store) UpdateDeploymentStatus(_ context.Context, ownerID string, id uuid.UUID, status models.DeploymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok || d.OwnerID != ownerID {
		return apperr.NotFound("deployment")
	}
	if d.Status.Terminal() {
		return apperr.InvalidState("deployment is %s", d.Status)
	}
	d.Status = status
	return nil
}

func (s *Store) ActivateDeployment(_ context.Context, ownerID string, id uuid.UUID, deployedAt time.Time) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deployments[id]
	if !ok || d.OwnerID != ownerID {
		return nil, apperr.NotFound("deployment")
	}
	if d.Status != models.DeploymentDeploying {
		return nil, apperr.InvalidState("cannot activate a %s deployment", d.Status)
	}

	for _, other := range s.deployments {
		if other.ID == id || other.PromptID != d.PromptID || other.EnvironmentID != d.EnvironmentID {
			continue
		}
		if other.Status == models.DeploymentActive {
			other.Status = models.DeploymentRolledBack
		}
		if other.DeployedAt != nil && !deployedAt.After(*other.DeployedAt) {
			deployedAt = other.DeployedAt.Add(time.Microsecond)
		}
	}
	d.Status = models.DeploymentActive
	d.DeployedAt = &deployedAt
	return cloneDeployment(d), nil
}

func (s *Store) GetDeployment(_ context.Context, ownerID string, id uuid.UUID) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deployments[id]
	if !ok || d.OwnerID != ownerID {
		return nil, apperr.NotFound("deployment")
	}
	return cloneDeployment(d), nil
}

// ListDeployments orders by creation time, newest first.
func (s *Store) ListDeployments(_ context.Context, ownerID string, f deployment.Filter) ([]models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Deployment{}
	for _, d := range s.deployments {
		if d.OwnerID != ownerID {
			continue
		}
		if f.EnvironmentID != nil && d.EnvironmentID != *f.EnvironmentID {
			continue
		}
		if f.PromptID != nil && d.PromptID != *f.PromptID {
			continue
		}
		out = append(out, *cloneDeployment(d))
	}
	slices.SortFunc(out, func(a, b models.Deployment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return page(out, f.Limit, 0), nil
}

func (s *Store) ActiveDeployment(_ context.Context, ownerID string, promptID, environmentID uuid.UUID) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.deployments {
		if d.OwnerID == ownerID && d.PromptID == promptID && d.EnvironmentID == environmentID &&
			d.Status == models.DeploymentActive {
			return cloneDeployment(d), nil
		}
	}
	return nil, apperr.NotFound("active deployment")
}

func (s *Store) PreviousDeployment(_ context.Context, ownerID string, d *models.Deployment) (*models.Deployment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d.DeployedAt == nil {
		return nil, apperr.NotFound("previous deployment")
	}

	var best *models.Deployment
	for _, c := range s.deployments {
		if c.OwnerID != ownerID || c.PromptID != d.PromptID || c.EnvironmentID != d.EnvironmentID ||
			c.ID == d.ID || c.DeployedAt == nil {
			continue
		}
		if !activatedBefore(c, d) {
			continue
		}
		if best == nil || activatedBefore(best, c) {
			best = c
		}
	}
	if best == nil {
		return nil, apperr.NotFound("previous deployment")
	}
	return cloneDeployment(best), nil
}

// activatedBefore orders by deployed_at, then id.
func activatedBefore(a, b *models.Deployment) bool {
	if c := a.DeployedAt.Compare(*b.DeployedAt); c != 0 {
		return c < 0
	}
	return a.ID.String() < b.ID.String()
}
