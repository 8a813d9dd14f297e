package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func seed(t *testing.T, s *Store) (*models.Prompt, *models.PromptVersion, *models.Environment) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	p := &models.Prompt{ID: uuid.Must(uuid.NewV7()), OwnerID: "u", Name: "p", CreatedAt: now, UpdatedAt: now}
	v := &models.PromptVersion{ID: uuid.Must(uuid.NewV7()), PromptID: p.ID, VersionTag: "v1", CreatedAt: now}
	require.NoError(t, s.CreatePrompt(ctx, p, v))

	env := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "u", Name: "prod", CreatedAt: now}
	require.NoError(t, s.CreateEnvironments(ctx, env))
	return p, v, env
}

func activate(t *testing.T, s *Store, p *models.Prompt, v *models.PromptVersion, env *models.Environment, at time.Time) *models.Deployment {
	t.Helper()
	ctx := context.Background()
	d := &models.Deployment{
		ID: uuid.Must(uuid.NewV7()), OwnerID: "u", PromptID: p.ID, VersionID: v.ID,
		EnvironmentID: env.ID, Status: models.DeploymentDeploying, CreatedAt: at,
	}
	require.NoError(t, s.CreateDeployment(ctx, d))
	out, err := s.ActivateDeployment(ctx, "u", d.ID, at)
	require.NoError(t, err)
	return out
}

func TestPreviousDeploymentFollowsActivationOrder(t *testing.T) {
	s := New()
	p, v, env := seed(t, s)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := activate(t, s, p, v, env, at)
	// same clock reading: stamped just after a
	b := activate(t, s, p, v, env, at)
	assert.Equal(t, at.Add(time.Microsecond), *b.DeployedAt)
	c := activate(t, s, p, v, env, at.Add(time.Second))
	assert.Equal(t, at.Add(time.Second), *c.DeployedAt)

	prev, err := s.PreviousDeployment(context.Background(), "u", c)
	require.NoError(t, err)
	assert.Equal(t, b.ID, prev.ID)

	prev, err = s.PreviousDeployment(context.Background(), "u", b)
	require.NoError(t, err)
	assert.Equal(t, a.ID, prev.ID)

	_, err = s.PreviousDeployment(context.Background(), "u", a)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestActivateRequiresDeploying(t *testing.T) {
	s := New()
	p, v, env := seed(t, s)
	d := activate(t, s, p, v, env, time.Now())

	_, err := s.ActivateDeployment(context.Background(), "u", d.ID, time.Now())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestDeletePromptCascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, v, env := seed(t, s)
	d := activate(t, s, p, v, env, time.Now())

	e := &models.Experiment{
		ID: uuid.Must(uuid.NewV7()), PromptID: p.ID, OwnerID: "u", Status: models.ExperimentDraft,
		Variants: []models.ExperimentVariant{{ID: uuid.Must(uuid.NewV7()), Name: "A"}},
	}
	require.NoError(t, s.CreateExperiment(ctx, e))

	require.NoError(t, s.DeletePrompt(ctx, "u", p.ID))

	_, err := s.GetVersion(ctx, "u", v.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.GetDeployment(ctx, "u", d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.GetExperiment(ctx, "u", e.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, s.RecordVariantOutcome(ctx, "u", e.Variants[0].ID, true, 1, 1), apperr.ErrNotFound)

	// the environment is free again
	assert.NoError(t, s.DeleteEnvironment(ctx, "u", env.ID))
}

func TestCreateEnvironmentsIsAllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _, env := seed(t, s)

	fresh := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "u", Name: "qa"}
	dup := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "u", Name: env.Name}
	assert.ErrorIs(t, s.CreateEnvironments(ctx, fresh, dup), apperr.ErrValidation)

	envs, err := s.ListEnvironments(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, envs, 1)

	// same name, different owner
	other := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "x", Name: env.Name}
	assert.NoError(t, s.CreateEnvironments(ctx, other))
}

func TestUpdateExperimentIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	p, _, _ := seed(t, s)

	e := &models.Experiment{ID: uuid.Must(uuid.NewV7()), PromptID: p.ID, OwnerID: "u", Status: models.ExperimentDraft}
	require.NoError(t, s.CreateExperiment(ctx, e))

	e.Status = models.ExperimentRunning
	require.NoError(t, s.UpdateExperiment(ctx, e, models.ExperimentDraft))
	assert.ErrorIs(t, s.UpdateExperiment(ctx, e, models.ExperimentDraft), apperr.ErrInvalidState)
}

func TestListActivityNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, action := range []string{"a", "b", "c"} {
		require.NoError(t, s.InsertActivity(ctx, &models.ActivityLog{ID: uuid.New(), OwnerID: "u", Action: action}))
	}
	require.NoError(t, s.InsertActivity(ctx, &models.ActivityLog{ID: uuid.New(), OwnerID: "other", Action: "x"}))

	logs, err := s.ListActivity(ctx, "u", "", 2)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "c", logs[0].Action)
	assert.Equal(t, "b", logs[1].Action)
}

func TestListActivityByAction(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, action := range []string{"prompt.created", "deployment.created", "prompt.created"} {
		require.NoError(t, s.InsertActivity(ctx, &models.ActivityLog{ID: uuid.New(), OwnerID: "u", Action: action}))
	}
	require.NoError(t, s.InsertActivity(ctx, &models.ActivityLog{ID: uuid.New(), OwnerID: "other", Action: "experiment.started"}))

	logs, err := s.ListActivity(ctx, "u", "prompt.created", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	actions, err := s.ListActivityActions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"deployment.created", "prompt.created"}, actions)

	actions, err = s.ListActivityActions(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestUpdatePromptAndRenameExperiment(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &models.Prompt{ID: uuid.New(), OwnerID: "u", Name: "old"}
	require.NoError(t, s.CreatePrompt(ctx, p, nil))
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdatePrompt(ctx, "u", p.ID, "new", "d", at))
	assert.ErrorIs(t, s.UpdatePrompt(ctx, "other", p.ID, "x", "", at), apperr.ErrNotFound)

	got, err := s.GetPrompt(ctx, "u", p.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, "d", got.Description)
	assert.Equal(t, at, got.UpdatedAt)

	e := &models.Experiment{ID: uuid.New(), OwnerID: "u", PromptID: p.ID, Name: "e", Status: models.ExperimentRunning}
	require.NoError(t, s.CreateExperiment(ctx, e))
	require.NoError(t, s.RenameExperiment(ctx, "u", e.ID, "renamed", "why"))
	assert.ErrorIs(t, s.RenameExperiment(ctx, "u", uuid.New(), "x", ""), apperr.ErrNotFound)

	ge, err := s.GetExperiment(ctx, "u", e.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", ge.Name)
	assert.Equal(t, models.ExperimentRunning, ge.Status)
}
