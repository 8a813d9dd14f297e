package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

// ListEnvironments orders by creation time.
func (s *Store) ListEnvironments(_ context.Context, ownerID string) ([]models.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Environment{}
	for _, e := range s.environments {
		if e.OwnerID == ownerID {
			out = append(out, *e)
		}
	}
	slices.SortFunc(out, func(a, b models.Environment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

func (s *Store) CreateEnvironments(_ context.Context, envs ...*models.Environment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, e := range s.environments {
		seen[e.OwnerID+"/"+e.Name] = true
	}
	for _, e := range envs {
		key := e.OwnerID + "/" + e.Name
		if seen[key] {
			return apperr.Validation("environment '%s' already exists", e.Name)
		}
		seen[key] = true
	}
	for _, e := range envs {
		stored := *e
		s.environments[e.ID] = &stored
	}
	return nil
}

func (s *Store) GetEnvironment(_ context.Context, ownerID string, id uuid.UUID) (*models.Environment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.environments[id]
	if !ok || e.OwnerID != ownerID {
		return nil, apperr.NotFound("environment")
	}
	out := *e
	return &out, nil
}

func (s *Store) DeleteEnvironment(_ context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.environments[id]
	if !ok || e.OwnerID != ownerID {
		return apperr.NotFound("environment")
	}
	for _, d := range s.deployments {
		if d.EnvironmentID == id && d.Status == models.DeploymentActive {
			return apperr.InvalidState("environment '%s' has an active deployment", e.Name)
		}
	}
	for did, d := range s.deployments {
		if d.EnvironmentID == id {
			delete(s.deployments, did)
		}
	}
	delete(s.environments, id)
	return nil
}
