package environment_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/environment"
	"github.com/nikhilbhutani/promptops/internal/owner"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/store/memory"
)

func setup(t *testing.T) (*environment.Service, *memory.Store, context.Context) {
	t.Helper()
	store := memory.New()
	return environment.NewService(store, activity.Discard{}), store, owner.WithID(context.Background(), "user-1")
}

func TestListSeedsDefaults(t *testing.T) {
	svc, _, ctx := setup(t)

	envs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 3)

	assert.Equal(t, "development", envs[0].Name)
	assert.Equal(t, "staging", envs[1].Name)
	assert.Equal(t, "production", envs[2].Name)
	assert.True(t, envs[2].IsProtected)
	assert.Equal(t, "#ef4444", envs[2].Color)

	again, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, envs, again)
}

func TestConcurrentFirstListSeedsOnce(t *testing.T) {
	svc, _, ctx := setup(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.List(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	envs, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, envs, 3)
}

func TestCreate(t *testing.T) {
	svc, _, ctx := setup(t)

	env, err := svc.Create(ctx, environment.CreateRequest{Name: "qa", DisplayName: "QA"})
	require.NoError(t, err)
	assert.Equal(t, environment.DefaultColor, env.Color)

	got, err := svc.Get(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, "QA", got.DisplayName)

	_, err = svc.Create(ctx, environment.CreateRequest{Name: "qa", DisplayName: "Again"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCreateValidation(t *testing.T) {
	svc, _, ctx := setup(t)

	for _, req := range []environment.CreateRequest{
		{Name: "", DisplayName: "x"},
		{Name: "Has Spaces", DisplayName: "x"},
		{Name: "-leading", DisplayName: "x"},
		{Name: "ok"},
		{Name: "ok", DisplayName: "x", Color: "red"},
	} {
		_, err := svc.Create(ctx, req)
		assert.ErrorIs(t, err, apperr.ErrValidation, "%+v", req)
	}
}

func TestDeleteRejectsActiveDeployment(t *testing.T) {
	svc, store, ctx := setup(t)

	env, err := svc.Create(ctx, environment.CreateRequest{Name: "qa", DisplayName: "QA"})
	require.NoError(t, err)

	prompts := prompt.NewService(store, activity.Discard{})
	p, err := prompts.Create(ctx, prompt.CreateRequest{Name: "p", InitialVersion: &prompt.VersionSpec{VersionTag: "v1"}})
	require.NoError(t, err)

	deploys := deployment.NewService(store, activity.Discard{})
	_, err = deploys.Deploy(ctx, deployment.DeployRequest{VersionID: p.Versions[0].ID, EnvironmentID: env.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, env.ID), apperr.ErrInvalidState)

	other, err := svc.Create(ctx, environment.CreateRequest{Name: "scratch", DisplayName: "Scratch"})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, other.ID))
	_, err = svc.Get(ctx, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
