package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func (s *Store) CreatePrompt(_ context.Context, p *models.Prompt, initial *models.PromptVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *p
	stored.Versions = nil
	s.prompts[p.ID] = &stored
	if initial != nil {
		s.putVersion(initial)
	}
	return nil
}

func (s *Store) GetPrompt(_ context.Context, ownerID string, id uuid.UUID) (*models.Prompt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prompts[id]
	if !ok || p.OwnerID != ownerID {
		return nil, apperr.NotFound("prompt")
	}
	out := *p
	for _, vid := range s.versionOrder[id] {
		out.Versions = append(out.Versions, cloneVersion(s.versions[vid]))
	}
	return &out, nil
}

// ListPrompts orders by most recently updated.
func (s *Store) ListPrompts(_ context.Context, ownerID string, limit, offset int) ([]models.PromptSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PromptSummary
	for _, p := range s.prompts {
		if p.OwnerID != ownerID {
			continue
		}
		sum := models.PromptSummary{
			ID:           p.ID,
			OwnerID:      p.OwnerID,
			Name:         p.Name,
			Description:  p.Description,
			CreatedAt:    p.CreatedAt,
			UpdatedAt:    p.UpdatedAt,
			VersionCount: len(s.versionOrder[p.ID]),
		}
		if n := sum.VersionCount; n > 0 {
			sum.LatestVersion = s.versions[s.versionOrder[p.ID][n-1]].VersionTag
		}
		out = append(out, sum)
	}
	slices.SortFunc(out, func(a, b models.PromptSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return page(out, limit, offset), nil
}

func (s *Store) CreateVersion(_ context.Context, ownerID string, v *models.PromptVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[v.PromptID]
	if !ok || p.OwnerID != ownerID {
		return apperr.NotFound("prompt")
	}
	s.putVersion(v)
	p.UpdatedAt = v.CreatedAt
	return nil
}

func (s *Store) GetVersion(_ context.Context, ownerID string, id uuid.UUID) (*models.PromptVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, apperr.NotFound("version")
	}
	if p := s.prompts[v.PromptID]; p == nil || p.OwnerID != ownerID {
		return nil, apperr.NotFound("version")
	}
	out := cloneVersion(v)
	return &out, nil
}

func (s *Store) UpdatePrompt(_ context.Context, ownerID string, id uuid.UUID, name, description string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok || p.OwnerID != ownerID {
		return apperr.NotFound("prompt")
	}
	p.Name = name
	p.Description = description
	p.UpdatedAt = updatedAt
	return nil
}

func (s *Store) DeletePrompt(_ context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prompts[id]
	if !ok || p.OwnerID != ownerID {
		return apperr.NotFound("prompt")
	}

	for _, vid := range s.versionOrder[id] {
		delete(s.versions, vid)
	}
	delete(s.versionOrder, id)
	for did, d := range s.deployments {
		if d.PromptID == id {
			delete(s.deployments, did)
		}
	}
	for eid, e := range s.experiments {
		if e.PromptID == id {
			s.dropExperiment(eid)
		}
	}
	delete(s.prompts, id)
	return nil
}

func (s *Store) putVersion(v *models.PromptVersion) {
	stored := cloneVersion(v)
	s.versions[v.ID] = &stored
	s.versionOrder[v.PromptID] = append(s.versionOrder[v.PromptID], v.ID)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
