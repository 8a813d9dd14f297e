package workers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/queue"
)

type recorderFunc func(ctx context.Context, o models.Outcome) error

func (f recorderFunc) Record(ctx context.Context, o models.Outcome) error { return f(ctx, o) }

func TestOutcomeWorkerRecords(t *testing.T) {
	var got models.Outcome
	w := NewOutcomeWorker(recorderFunc(func(_ context.Context, o models.Outcome) error {
		got = o
		return nil
	}))

	want := models.Outcome{ID: uuid.New(), Model: "gemini-2.0-flash", Status: models.OutcomeSuccess, LatencyMs: 120}
	data, err := json.Marshal(queue.OutcomeRecordPayload{Outcome: want})
	require.NoError(t, err)

	require.NoError(t, w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeOutcomeRecord, data)))
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.LatencyMs, got.LatencyMs)
}

func TestOutcomeWorkerBadPayloadSkipsRetry(t *testing.T) {
	w := NewOutcomeWorker(recorderFunc(func(context.Context, models.Outcome) error {
		t.Fatal("recorder must not be called")
		return nil
	}))

	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeOutcomeRecord, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestOutcomeWorkerPropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	w := NewOutcomeWorker(recorderFunc(func(context.Context, models.Outcome) error { return boom }))

	data, _ := json.Marshal(queue.OutcomeRecordPayload{Outcome: models.Outcome{ID: uuid.New()}})
	err := w.ProcessTask(context.Background(), asynq.NewTask(queue.TypeOutcomeRecord, data))
	assert.ErrorIs(t, err, boom)
}
