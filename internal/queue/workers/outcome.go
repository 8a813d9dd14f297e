package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptops/internal/models"
	"github.com/nikhilbhutani/promptops/internal/queue"
)

type OutcomeRecorder interface {
	Record(ctx context.Context, o models.Outcome) error
}

// OutcomeWorker persists outcomes enqueued by the API.
type OutcomeWorker struct {
	recorder OutcomeRecorder
}

func NewOutcomeWorker(recorder OutcomeRecorder) *OutcomeWorker {
	return &OutcomeWorker{recorder: recorder}
}

func (w *OutcomeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.OutcomeRecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if err := w.recorder.Record(ctx, payload.Outcome); err != nil {
		return fmt.Errorf("record outcome %s: %w", payload.Outcome.ID, err)
	}

	slog.Debug("outcome recorded", "outcome_id", payload.Outcome.ID, "model", payload.Outcome.Model)
	return nil
}
