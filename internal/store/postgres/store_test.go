package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/environment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/store/postgres"
)

// openStore connects to TEST_DATABASE_URL. Each test uses a fresh owner id,
// so runs against a shared database do not interfere.
func openStore(t *testing.T) (*postgres.Store, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	store, err := postgres.Open(ctx, config.DatabaseConfig{URL: url, MaxConns: 10})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store, owner.WithID(ctx, "test-"+uuid.NewString())
}

func createPrompt(t *testing.T, ctx context.Context, store *postgres.Store) (*models.Prompt, *models.PromptVersion) {
	t.Helper()
	svc := prompt.NewService(store, activity.NewService(store))
	p, err := svc.Create(ctx, prompt.CreateRequest{
		Name:           "greeter",
		InitialVersion: &prompt.VersionSpec{VersionTag: "v1", UserPrompt: "Hi {{name}}", Variables: map[string]string{"name": "Ann"}},
	})
	require.NoError(t, err)
	v2, err := svc.CreateVersion(ctx, p.ID, prompt.VersionSpec{VersionTag: "v2", UserPrompt: "Hello"})
	require.NoError(t, err)
	return p, v2
}

func TestPromptRoundTrip(t *testing.T) {
	store, ctx := openStore(t)
	p, v2 := createPrompt(t, ctx, store)

	got, err := store.GetPrompt(ctx, owner.IDFromContext(ctx), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	assert.Equal(t, "v1", got.Versions[0].VersionTag)
	assert.Equal(t, map[string]string{"name": "Ann"}, got.Versions[0].Variables)
	assert.Equal(t, v2.ID, got.Versions[1].ID)
	assert.Nil(t, got.Versions[1].Variables)

	list, err := store.ListPrompts(ctx, owner.IDFromContext(ctx), 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "v2", list[0].LatestVersion)
	assert.Equal(t, 2, list[0].VersionCount)

	_, err = store.GetPrompt(ctx, "someone-else", p.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeploymentLifecycle(t *testing.T) {
	store, ctx := openStore(t)
	p, v2 := createPrompt(t, ctx, store)

	envs, err := environment.NewService(store, activity.Discard{}).List(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	prod := envs[2]

	svc := deployment.NewService(store, activity.Discard{})
	first, err := svc.Deploy(ctx, deployment.DeployRequest{VersionID: p.Versions[0].ID, EnvironmentID: prod.ID})
	require.NoError(t, err)
	second, err := svc.Deploy(ctx, deployment.DeployRequest{VersionID: v2.ID, EnvironmentID: prod.ID})
	require.NoError(t, err)

	rb, err := svc.Rollback(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.VersionID, rb.VersionID)

	old, err := svc.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, old.Status)

	err = environment.NewService(store, activity.Discard{}).Delete(ctx, prod.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestConcurrentActivationAcrossServices(t *testing.T) {
	store, ctx := openStore(t)
	p, v2 := createPrompt(t, ctx, store)

	env := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: owner.IDFromContext(ctx), Name: "prod", DisplayName: "Prod", Color: "#ef4444", CreatedAt: time.Now()}
	require.NoError(t, store.CreateEnvironments(ctx, env))

	// separate services have separate in-process locks, like separate replicas
	var wg sync.WaitGroup
	for i := range 8 {
		svc := deployment.NewService(store, activity.Discard{})
		version := p.Versions[0].ID
		if i%2 == 1 {
			version = v2.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Deploy(ctx, deployment.DeployRequest{VersionID: version, EnvironmentID: env.ID})
		}()
	}
	wg.Wait()

	all, err := store.ListDeployments(ctx, owner.IDFromContext(ctx), deployment.Filter{EnvironmentID: &env.ID})
	require.NoError(t, err)
	active := 0
	for _, d := range all {
		if d.Status == models.DeploymentActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestExperimentCounters(t *testing.T) {
	store, ctx := openStore(t)
	p, _ := createPrompt(t, ctx, store)

	svc := experiment.NewService(store, activity.Discard{}, experiment.NewSeededRand(1))
	e, err := svc.Create(ctx, experiment.CreateRequest{
		PromptID: p.ID,
		Name:     "tone",
		Variants: []experiment.VariantSpec{{Name: "A"}, {Name: "B"}},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.RecordOutcome(ctx, e.Variants[0].ID, true, 20, 3))
		}()
	}
	wg.Wait()

	got, err := svc.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Variants[0].RequestCount)
	assert.Equal(t, int64(1000), got.Variants[0].TotalLatencyMs)
	assert.Equal(t, 50, got.TrafficAllocation[e.Variants[1].ID])

	_, err = svc.Start(ctx, e.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Delete(ctx, e.ID), apperr.ErrInvalidState)
}

func TestOutcomesAreIdempotent(t *testing.T) {
	store, ctx := openStore(t)
	agg := metrics.NewAggregator(store)

	o := models.Outcome{
		ID:        uuid.Must(uuid.NewV7()),
		OwnerID:   owner.IDFromContext(ctx),
		Model:     "gpt-4o",
		Status:    models.OutcomeSuccess,
		LatencyMs: 120,
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, agg.Record(ctx, o))
	require.NoError(t, agg.Record(ctx, o))

	ov, err := agg.Overview(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.TotalRequests)
	assert.Equal(t, int64(120), ov.P95LatencyMs)
}
