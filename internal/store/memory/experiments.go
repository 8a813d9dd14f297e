package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func (s *Store) CreateExperiment(_ context.Context, e *models.Experiment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.prompts[e.PromptID]; !ok || p.OwnerID != e.OwnerID {
		return apperr.NotFound("prompt")
	}
	s.experiments[e.ID] = cloneExperiment(e)
	for _, v := range e.Variants {
		s.variantOf[v.ID] = e.ID
	}
	return nil
}

func (s *Store) GetExperiment(_ context.Context, ownerID string, id uuid.UUID) (*models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.experiments[id]
	if !ok || e.OwnerID != ownerID {
		return nil, apperr.NotFound("experiment")
	}
	return cloneExperiment(e), nil
}

// ListExperiments orders by creation time, newest first.
func (s *Store) ListExperiments(_ context.Context, ownerID string, promptID *uuid.UUID) ([]models.Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Experiment{}
	for _, e := range s.experiments {
		if e.OwnerID != ownerID || (promptID != nil && e.PromptID != *promptID) {
			continue
		}
		out = append(out, *cloneExperiment(e))
	}
	slices.SortFunc(out, func(a, b models.Experiment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID.String(), a.ID.String())
	})
	return out, nil
}

func (s *Store) UpdateExperiment(_ context.Context, e *models.Experiment, expected models.ExperimentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.experiments[e.ID]
	if !ok || stored.OwnerID != e.OwnerID {
		return apperr.NotFound("experiment")
	}
	if stored.Status != expected {
		return apperr.InvalidState("experiment is %s, expected %s", stored.Status, expected)
	}
	stored.Status = e.Status
	stored.StartedAt = clonePtr(e.StartedAt)
	stored.EndedAt = clonePtr(e.EndedAt)
	stored.WinnerVariantID = clonePtr(e.WinnerVariantID)
	return nil
}

func (s *Store) RenameExperiment(_ context.Context, ownerID string, id uuid.UUID, name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[id]
	if !ok || e.OwnerID != ownerID {
		return apperr.NotFound("experiment")
	}
	e.Name = name
	e.Description = description
	return nil
}

func (s *Store) DeleteExperiment(_ context.Context, ownerID string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[id]
	if !ok || e.OwnerID != ownerID {
		return apperr.NotFound("experiment")
	}
	if e.Status != models.ExperimentDraft && e.Status != models.ExperimentCompleted {
		return apperr.InvalidState("cannot delete a %s experiment", e.Status)
	}
	s.dropExperiment(id)
	return nil
}

func (s *Store) RecordVariantOutcome(_ context.Context, ownerID string, variantID uuid.UUID, success bool, latencyMs, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[s.variantOf[variantID]]
	if !ok || e.OwnerID != ownerID {
		return apperr.NotFound("variant")
	}
	for i := range e.Variants {
		v := &e.Variants[i]
		if v.ID != variantID {
			continue
		}
		v.RequestCount++
		if success {
			v.SuccessCount++
		}
		v.TotalLatencyMs += latencyMs
		v.TotalTokens += tokens
		return nil
	}
	return apperr.NotFound("variant")
}

func (s *Store) dropExperiment(id uuid.UUID) {
	if e, ok := s.experiments[id]; ok {
		for _, v := range e.Variants {
			delete(s.variantOf, v.ID)
		}
	}
	delete(s.experiments, id)
}
