package deployment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/cache"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/store/memory"
)

type fixture struct {
	ctx   context.Context
	store *memory.Store
	env   uuid.UUID
	v1    *models.PromptVersion
	v2    *models.PromptVersion
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := owner.WithID(context.Background(), "user-1")
	store := memory.New()

	prompts := prompt.NewService(store, activity.Discard{})
	p, err := prompts.Create(ctx, prompt.CreateRequest{Name: "p", InitialVersion: &prompt.VersionSpec{VersionTag: "v1"}})
	require.NoError(t, err)
	v2, err := prompts.CreateVersion(ctx, p.ID, prompt.VersionSpec{VersionTag: "v2"})
	require.NoError(t, err)

	env := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "user-1", Name: "production"}
	require.NoError(t, store.CreateEnvironments(ctx, env))

	return &fixture{ctx: ctx, store: store, env: env.ID, v1: &p.Versions[0], v2: v2}
}

func (f *fixture) deploy(t *testing.T, svc *deployment.Service, v *models.PromptVersion) *models.Deployment {
	t.Helper()
	d, err := svc.Deploy(f.ctx, deployment.DeployRequest{VersionID: v.ID, EnvironmentID: f.env})
	require.NoError(t, err)
	return d
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ *models.Deployment) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

type failingTarget struct{ deployment.NoopTarget }

func (failingTarget) Activate(context.Context, *models.Deployment) error {
	return errors.New("target unavailable")
}

func TestDeploySupersedesActive(t *testing.T) {
	f := newFixture(t)
	n := &recordingNotifier{}
	svc := deployment.NewService(f.store, activity.Discard{}, deployment.WithNotifier(n))

	first := f.deploy(t, svc, f.v1)
	assert.Equal(t, models.DeploymentActive, first.Status)
	require.NotNil(t, first.DeployedAt)

	second := f.deploy(t, svc, f.v2)
	assert.Equal(t, models.DeploymentActive, second.Status)

	got, err := svc.Get(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, got.Status)

	active, err := svc.Active(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	assert.Equal(t, []string{deployment.EventActivated, deployment.EventActivated}, n.events)
}

func TestConcurrentDeploysLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	var wg sync.WaitGroup
	for i := range 20 {
		v := f.v1
		if i%2 == 1 {
			v = f.v2
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Deploy(f.ctx, deployment.DeployRequest{VersionID: v.ID, EnvironmentID: f.env})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := svc.List(f.ctx, deployment.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 20)

	active := 0
	for _, d := range all {
		if d.Status == models.DeploymentActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestRollbackRestoresPriorVersion(t *testing.T) {
	f := newFixture(t)
	n := &recordingNotifier{}
	svc := deployment.NewService(f.store, activity.Discard{}, deployment.WithNotifier(n))

	f.deploy(t, svc, f.v1)
	second := f.deploy(t, svc, f.v2)

	rb, err := svc.Rollback(f.ctx, second.ID, "bad output")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentActive, rb.Status)
	assert.Equal(t, f.v1.ID, rb.VersionID)
	assert.Equal(t, "bad output", rb.Notes)
	require.NotNil(t, rb.RolledBackFromID)
	assert.Equal(t, second.ID, *rb.RolledBackFromID)

	got, err := svc.Get(f.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentRolledBack, got.Status)

	assert.Equal(t, deployment.EventRolledBack, n.events[len(n.events)-1])
}

func TestRollbackOfRollbackUndoesIt(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	f.deploy(t, svc, f.v1)
	second := f.deploy(t, svc, f.v2)

	rb, err := svc.Rollback(f.ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Rollback", rb.Notes)

	again, err := svc.Rollback(f.ctx, rb.ID, "")
	require.NoError(t, err)
	assert.Equal(t, f.v2.ID, again.VersionID)
}

func TestRollbackWithoutPriorVersion(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	only := f.deploy(t, svc, f.v1)

	_, err := svc.Rollback(f.ctx, only.ID, "")
	assert.ErrorIs(t, err, apperr.ErrNoPriorVersion)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	active, err := svc.Active(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, only.ID, active.ID)
}

func TestRollbackRequiresActive(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	first := f.deploy(t, svc, f.v1)
	f.deploy(t, svc, f.v2)

	_, err := svc.Rollback(f.ctx, first.ID, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.NotErrorIs(t, err, apperr.ErrNoPriorVersion)

	_, err = svc.Rollback(f.ctx, uuid.New(), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTargetFailureKeepsPreviousActive(t *testing.T) {
	f := newFixture(t)
	n := &recordingNotifier{}
	ok := deployment.NewService(f.store, activity.Discard{})
	failing := deployment.NewService(f.store, activity.Discard{},
		deployment.WithTarget(failingTarget{}), deployment.WithNotifier(n))

	first := f.deploy(t, ok, f.v1)

	d, err := failing.Deploy(f.ctx, deployment.DeployRequest{VersionID: f.v2.ID, EnvironmentID: f.env})
	require.Error(t, err)
	require.NotNil(t, d)
	assert.Equal(t, models.DeploymentFailed, d.Status)

	stored, err := ok.Get(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, stored.Status)

	active, err := ok.Active(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
	assert.Equal(t, []string{deployment.EventFailed}, n.events)
}

func TestDeployUnknownReferences(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	_, err := svc.Deploy(f.ctx, deployment.DeployRequest{VersionID: uuid.New(), EnvironmentID: f.env})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Deploy(f.ctx, deployment.DeployRequest{VersionID: f.v1.ID, EnvironmentID: uuid.New()})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	other := owner.WithID(context.Background(), "user-2")
	_, err = svc.Deploy(other, deployment.DeployRequest{VersionID: f.v1.ID, EnvironmentID: f.env})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	svc := deployment.NewService(f.store, activity.Discard{})

	f.deploy(t, svc, f.v1)
	latest := f.deploy(t, svc, f.v2)

	all, err := svc.List(f.ctx, deployment.Filter{EnvironmentID: &f.env})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, latest.ID, all[0].ID)

	missing := uuid.New()
	none, err := svc.List(f.ctx, deployment.Filter{PromptID: &missing})
	require.NoError(t, err)
	assert.Empty(t, none)

	limited, err := svc.List(f.ctx, deployment.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func newRedisTarget(t *testing.T) (*deployment.RedisTarget, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return deployment.NewRedisTarget(cache.NewCache(client, "promptops:")), mr
}

func TestResolveThroughRedisTarget(t *testing.T) {
	f := newFixture(t)
	target, mr := newRedisTarget(t)
	svc := deployment.NewService(f.store, activity.Discard{}, deployment.WithTarget(target))

	f.deploy(t, svc, f.v1)
	second := f.deploy(t, svc, f.v2)

	ptr, err := svc.Resolve(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, second.ID, ptr.DeploymentID)
	assert.Equal(t, f.v2.ID, ptr.VersionID)

	// the store answers once the pointer is gone
	mr.FlushAll()
	ptr, err = svc.Resolve(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, second.ID, ptr.DeploymentID)

	_, err = svc.Resolve(f.ctx, uuid.New(), f.env)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRedisTargetKeepsNewerPointer(t *testing.T) {
	target, _ := newRedisTarget(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := &models.Deployment{ID: uuid.New(), VersionID: uuid.New(), PromptID: uuid.New(), EnvironmentID: uuid.New(), OwnerID: "u"}
	newer := *older
	newer.ID = uuid.New()
	newer.VersionID = uuid.New()
	olderAt, newerAt := at, at.Add(time.Microsecond)
	older.DeployedAt, newer.DeployedAt = &olderAt, &newerAt

	// another replica's later activation lands first
	require.NoError(t, target.Publish(ctx, &newer))
	require.NoError(t, target.Publish(ctx, older))

	ptr, err := target.Lookup(ctx, "u", older.PromptID, older.EnvironmentID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, ptr.DeploymentID)
	assert.Equal(t, newer.VersionID, ptr.VersionID)

	// Revert has nothing to undo since Activate writes nothing
	require.NoError(t, target.Activate(ctx, &newer))
	require.NoError(t, target.Revert(ctx, &newer, nil))
	_, err = target.Lookup(ctx, "u", older.PromptID, older.EnvironmentID)
	require.NoError(t, err)
}

func TestRedisTargetRefusesWhenUnreachable(t *testing.T) {
	f := newFixture(t)
	target, mr := newRedisTarget(t)
	svc := deployment.NewService(f.store, activity.Discard{}, deployment.WithTarget(target))

	first := f.deploy(t, svc, f.v1)
	mr.Close()

	d, err := svc.Deploy(f.ctx, deployment.DeployRequest{VersionID: f.v2.ID, EnvironmentID: f.env})
	require.Error(t, err)
	assert.Equal(t, models.DeploymentFailed, d.Status)

	active, err := svc.Active(f.ctx, f.v1.PromptID, f.env)
	require.NoError(t, err)
	assert.Equal(t, first.ID, active.ID)
}

func TestActivationTimesFollowCommitOrder(t *testing.T) {
	f := newFixture(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var last *models.Deployment
	for _, v := range []*models.PromptVersion{f.v1, f.v2, f.v1} {
		d := &models.Deployment{
			ID: uuid.Must(uuid.NewV7()), OwnerID: "user-1", PromptID: v.PromptID, VersionID: v.ID,
			EnvironmentID: f.env, Status: models.DeploymentDeploying, CreatedAt: at,
		}
		require.NoError(t, f.store.CreateDeployment(f.ctx, d))
		// every replica stamps the same clock reading
		activated, err := f.store.ActivateDeployment(f.ctx, "user-1", d.ID, at)
		require.NoError(t, err)
		if last != nil {
			assert.True(t, activated.DeployedAt.After(*last.DeployedAt))
		}
		last = activated
	}
}

func TestDeletedPromptDropsLivePointers(t *testing.T) {
	f := newFixture(t)
	target, _ := newRedisTarget(t)
	svc := deployment.NewService(f.store, activity.Discard{}, deployment.WithTarget(target))
	prompts := prompt.NewService(f.store, activity.Discard{}, prompt.WithDeleteHook(svc.ForgetPrompt))

	f.deploy(t, svc, f.v1)
	_, err := target.Lookup(f.ctx, "user-1", f.v1.PromptID, f.env)
	require.NoError(t, err)

	require.NoError(t, prompts.Delete(f.ctx, f.v1.PromptID))

	_, err = target.Lookup(f.ctx, "user-1", f.v1.PromptID, f.env)
	assert.ErrorIs(t, err, deployment.ErrNoPointer)
}
