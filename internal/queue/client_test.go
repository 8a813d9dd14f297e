package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/config"
	"github.com/nikhilbhutani/promptops/internal/models"
)

func TestClientRecordEnqueues(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClient(config.RedisConfig{Addr: mr.Addr()})
	defer c.Close()

	o := models.Outcome{ID: uuid.New(), Model: "gemini-2.0-flash", Status: models.OutcomeSuccess}
	require.NoError(t, c.Record(context.Background(), o))

	pending, err := mr.List("asynq:{" + QueueDefault + "}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{o.ID.String()}, pending)

	// same outcome id is rejected as a duplicate task
	assert.Error(t, c.Record(context.Background(), o))
}
