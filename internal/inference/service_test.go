package inference

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/activity"
	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/deployment"
	"github.com/nikhilbhutani/promptops/internal/experiment"
	"github.com/nikhilbhutani/promptops/internal/llm"
	"github.com/nikhilbhutani/promptops/internal/metrics"
	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/owner"
	"github.com/nikhilbhutani/promptops/internal/prompt"
	"github.com/nikhilbhutani/promptops/internal/store/memory"
)

type harness struct {
	ctx         context.Context
	store       *memory.Store
	streamer    *fakeStreamer
	prompts     *prompt.Service
	deployments *deployment.Service
	experiments *experiment.Service
	aggregator  *metrics.Aggregator
	svc         *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	h := &harness{
		ctx:         owner.WithID(context.Background(), "user-1"),
		store:       store,
		streamer:    &fakeStreamer{chunks: chunks("fine")},
		prompts:     prompt.NewService(store, activity.Discard{}),
		deployments: deployment.NewService(store, activity.Discard{}),
		experiments: experiment.NewService(store, activity.Discard{}, experiment.NewSeededRand(3)),
		aggregator:  metrics.NewAggregator(store),
	}
	h.svc = NewService(h.streamer, h.prompts, h.deployments, h.experiments, h.aggregator, activity.NewService(store))
	return h
}

func (h *harness) version(t *testing.T, user string, vars map[string]string) *models.PromptVersion {
	t.Helper()
	temp := 0.1
	p, err := h.prompts.Create(h.ctx, prompt.CreateRequest{
		Name: "p",
		InitialVersion: &prompt.VersionSpec{
			VersionTag:  "v1",
			UserPrompt:  user,
			Model:       "claude-3-haiku-20240307",
			Temperature: &temp,
			MaxTokens:   128,
			Variables:   vars,
		},
	})
	require.NoError(t, err)
	return &p.Versions[0]
}

func TestPrepareRawText(t *testing.T) {
	h := newHarness(t)

	req, err := h.svc.Prepare(h.ctx, RunRequest{UserPrompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultModel, req.Model)
	assert.Equal(t, prompt.DefaultTemperature, req.Temperature)
	assert.Equal(t, prompt.DefaultMaxTokens, req.MaxTokens)
	assert.Equal(t, Attribution{}, req.Attribution)

	for _, rr := range []RunRequest{
		{},
		{UserPrompt: "x", Temperature: ptr(3.0)},
		{UserPrompt: "x", MaxTokens: prompt.MaxMaxTokens + 1},
		{PromptID: ptr(uuid.New())},
	} {
		_, err := h.svc.Prepare(h.ctx, rr)
		assert.ErrorIs(t, err, apperr.ErrValidation)
	}
}

func TestPrepareVersionMergesVariables(t *testing.T) {
	h := newHarness(t)
	v := h.version(t, "{{greeting}}, {{name}}", map[string]string{"greeting": "Hello"})

	req, err := h.svc.Prepare(h.ctx, RunRequest{VersionID: &v.ID, Variables: map[string]string{"name": "Ann"}})
	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku-20240307", req.Model)
	assert.Equal(t, 0.1, req.Temperature)
	assert.Equal(t, 128, req.MaxTokens)
	assert.Equal(t, map[string]string{"greeting": "Hello", "name": "Ann"}, req.Variables)
	assert.Equal(t, v.ID, *req.Attribution.VersionID)
	assert.Nil(t, req.Attribution.DeploymentID)

	_, err = h.svc.Prepare(h.ctx, RunRequest{VersionID: ptr(uuid.New())})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPrepareResolvesActiveDeployment(t *testing.T) {
	h := newHarness(t)
	v := h.version(t, "hi", nil)

	env := &models.Environment{ID: uuid.Must(uuid.NewV7()), OwnerID: "user-1", Name: "production"}
	require.NoError(t, h.store.CreateEnvironments(h.ctx, env))

	_, err := h.svc.Prepare(h.ctx, RunRequest{PromptID: &v.PromptID, EnvironmentID: &env.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound, "nothing deployed yet")

	d, err := h.deployments.Deploy(h.ctx, deployment.DeployRequest{VersionID: v.ID, EnvironmentID: env.ID})
	require.NoError(t, err)

	req, err := h.svc.Prepare(h.ctx, RunRequest{PromptID: &v.PromptID, EnvironmentID: &env.ID})
	require.NoError(t, err)
	assert.Equal(t, v.ID, *req.Attribution.VersionID)
	assert.Equal(t, d.ID, *req.Attribution.DeploymentID)
}

func TestRunRecordsOutcome(t *testing.T) {
	h := newHarness(t)
	v := h.version(t, "hi", nil)

	res, err := h.svc.Run(h.ctx, RunRequest{VersionID: &v.ID})
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Text)

	recent, err := h.aggregator.Recent(h.ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, res.ID, recent[0].ID)
	assert.Equal(t, "user-1", recent[0].OwnerID)
	assert.Equal(t, models.OutcomeSuccess, recent[0].Status)
	assert.Equal(t, v.ID, *recent[0].VersionID)

	logs, err := h.store.ListActivity(h.ctx, "user-1", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "inference.run", logs[0].Action)
}

func TestRunFailureIsRecordedAsError(t *testing.T) {
	h := newHarness(t)
	h.streamer.startErr = &apperr.UpstreamError{Provider: "openai", Message: "rate limited"}

	_, err := h.svc.Run(h.ctx, RunRequest{UserPrompt: "hi"})
	assert.ErrorIs(t, err, apperr.ErrUpstream)

	ov, err := h.aggregator.Overview(h.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.TotalRequests)
	assert.Zero(t, ov.SuccessRate)
}

func TestRunExperimentUpdatesVariantCounters(t *testing.T) {
	h := newHarness(t)
	v := h.version(t, "base", nil)

	e, err := h.experiments.Create(h.ctx, experiment.CreateRequest{
		PromptID: v.PromptID,
		Name:     "tone",
		Variants: []experiment.VariantSpec{
			{Name: "formal", UserPrompt: "Good day, {{name}}"},
			{Name: "casual", UserPrompt: "Hey {{name}}"},
		},
	})
	require.NoError(t, err)

	_, err = h.svc.Run(h.ctx, RunRequest{ExperimentID: &e.ID})
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "draft experiments do not serve traffic")

	_, err = h.experiments.Start(h.ctx, e.ID)
	require.NoError(t, err)

	for _, n := range []int{-1, prompt.MaxMaxTokens + 1} {
		_, err = h.svc.Run(h.ctx, RunRequest{ExperimentID: &e.ID, MaxTokens: n})
		assert.ErrorIs(t, err, apperr.ErrValidation, "max_tokens %d", n)
	}

	for range 10 {
		res, err := h.svc.Run(h.ctx, RunRequest{ExperimentID: &e.ID, Variables: map[string]string{"name": "Ann"}})
		require.NoError(t, err)
		assert.Contains(t, res.UserPrompt, "Ann")
		require.NotNil(t, res.Attribution.VariantID)
	}

	results, err := h.experiments.Results(h.ctx, e.ID)
	require.NoError(t, err)
	var total int64
	for _, r := range results {
		total += r.RequestCount
		assert.Equal(t, r.RequestCount, r.SuccessCount)
	}
	assert.Equal(t, int64(10), total)
}

func TestCancelledRunIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.streamer.gate = make(chan struct{})

	st, err := h.svc.Stream(h.ctx, RunRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	st.Cancel()
	<-st.Done()

	recent, err := h.aggregator.Recent(h.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestProviderRequestCarriesResolvedModel(t *testing.T) {
	h := newHarness(t)
	v := h.version(t, "hi", nil)

	_, err := h.svc.Run(h.ctx, RunRequest{VersionID: &v.ID})
	require.NoError(t, err)

	req := h.streamer.lastRequest()
	assert.Equal(t, llm.ChatRequest{
		Model:       "claude-3-haiku-20240307",
		Messages:    []llm.Message{{Role: "user", Content: "hi"}},
		Temperature: 0.1,
		MaxTokens:   128,
	}, req)
}

func ptr[T any](v T) *T { return &v }
