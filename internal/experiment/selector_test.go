package experiment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func running(weights ...int) *models.Experiment {
	e := &models.Experiment{Status: models.ExperimentRunning}
	for i, w := range weights {
		e.Variants = append(e.Variants, models.ExperimentVariant{Name: string(rune('A' + i)), TrafficWeight: w})
	}
	return e
}

func TestSelectVariantBoundaries(t *testing.T) {
	e := running(30, 70)

	tests := []struct {
		draw float64
		want string
	}{
		{0, "A"},
		{0.2999, "A"},
		{0.30, "B"},
		{0.9999, "B"},
	}
	for _, tt := range tests {
		v, err := SelectVariant(e, fixedRand(tt.draw))
		require.NoError(t, err)
		assert.Equal(t, tt.want, v.Name, "draw %v", tt.draw)
	}
}

func TestSelectVariantZeroWeightNeverChosen(t *testing.T) {
	e := running(0, 100)
	v, err := SelectVariant(e, fixedRand(0))
	require.NoError(t, err)
	assert.Equal(t, "B", v.Name)
}

func TestSelectVariantShortfallFallsToLast(t *testing.T) {
	// draws past the summed weight land on the last variant
	e := running(10, 10)
	v, err := SelectVariant(e, fixedRand(0.95))
	require.NoError(t, err)
	assert.Equal(t, "B", v.Name)
}

func TestSelectVariantRequiresRunning(t *testing.T) {
	for _, status := range []models.ExperimentStatus{
		models.ExperimentDraft, models.ExperimentPaused, models.ExperimentCompleted,
	} {
		e := running(50, 50)
		e.Status = status
		_, err := SelectVariant(e, fixedRand(0))
		assert.ErrorIs(t, err, apperr.ErrInvalidState, string(status))
	}
}

func TestSelectVariantDistribution(t *testing.T) {
	e := running(50, 50)
	rng := NewSeededRand(42)

	counts := map[string]int{}
	for range 10000 {
		v, err := SelectVariant(e, rng)
		require.NoError(t, err)
		counts[v.Name]++
	}
	assert.InDelta(t, 5000, counts["A"], 300)
	assert.InDelta(t, 5000, counts["B"], 300)
}

func TestSeededRandIsReproducible(t *testing.T) {
	a, b := NewSeededRand(7), NewSeededRand(7)
	for range 100 {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}
