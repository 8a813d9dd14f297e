// Package memory is an in-process implementation of every repository. It is
// used when no DATABASE_URL is configured and by package tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptops/internal/models"
)

// Store guards all state with one mutex, so every method is atomic with
// respect to the others.
type Store struct {
	mu sync.RWMutex

	prompts      map[uuid.UUID]*models.Prompt
	versions     map[uuid.UUID]*models.PromptVersion
	versionOrder map[uuid.UUID][]uuid.UUID
	environments map[uuid.UUID]*models.Environment
	deployments  map[uuid.UUID]*models.Deployment
	experiments  map[uuid.UUID]*models.Experiment
	variantOf    map[uuid.UUID]uuid.UUID
	outcomes     map[uuid.UUID]*models.Outcome
	activity     []models.ActivityLog
}

func New() *Store {
	return &Store{
		prompts:      make(map[uuid.UUID]*models.Prompt),
		versions:     make(map[uuid.UUID]*models.PromptVersion),
		versionOrder: make(map[uuid.UUID][]uuid.UUID),
		environments: make(map[uuid.UUID]*models.Environment),
		deployments:  make(map[uuid.UUID]*models.Deployment),
		experiments:  make(map[uuid.UUID]*models.Experiment),
		variantOf:    make(map[uuid.UUID]uuid.UUID),
		outcomes:     make(map[uuid.UUID]*models.Outcome),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() {}

func cloneVersion(v *models.PromptVersion) models.PromptVersion {
	out := *v
	out.Variables = maps.Clone(v.Variables)
	return out
}

func cloneDeployment(d *models.Deployment) *models.Deployment {
	out := *d
	if d.RolledBackFromID != nil {
		id := *d.RolledBackFromID
		out.RolledBackFromID = &id
	}
	if d.DeployedAt != nil {
		t := *d.DeployedAt
		out.DeployedAt = &t
	}
	return &out
}

func cloneExperiment(e *models.Experiment) *models.Experiment {
	out := *e
	out.TrafficAllocation = maps.Clone(e.TrafficAllocation)
	out.Variants = slices.Clone(e.Variants)
	out.WinnerVariantID = clonePtr(e.WinnerVariantID)
	out.StartedAt = clonePtr(e.StartedAt)
	out.EndedAt = clonePtr(e.EndedAt)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
