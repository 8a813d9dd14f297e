package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileNearestRank(t *testing.T) {
	lat := []int64{100, 200, 300, 400, 500}

	assert.Equal(t, int64(500), Percentile(lat, 0.95))
	assert.Equal(t, int64(500), Percentile(lat, 0.99))
	assert.Equal(t, int64(300), Percentile(lat, 0.50))
	assert.Equal(t, int64(100), Percentile(lat, 0))
	assert.Equal(t, int64(0), Percentile(nil, 0.95))
}

func TestPercentileExactRank(t *testing.T) {
	lat := make([]int64, 100)
	for i := range lat {
		lat[i] = int64(i + 1)
	}
	assert.Equal(t, int64(95), Percentile(lat, 0.95))
	assert.Equal(t, int64(99), Percentile(lat, 0.99))
	assert.Equal(t, int64(1), Percentile(lat[:1], 0.99))
}
