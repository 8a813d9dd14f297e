package experiment

import (
	"math/rand/v2"
	"sync"

	"github.com/nikhilbhutani/promptops/internal/apperr"
	"github.com/nikhilbhutani/promptops/internal/models"
)

// Rand is the randomness SelectVariant draws from. Float64 returns a value
// in [0, 1).
type Rand interface {
	Float64() float64
}

// NewSeededRand returns a reproducible source for tests and replays. It is
// safe for concurrent use.
func NewSeededRand(seed uint64) Rand {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// SelectVariant picks a variant of a running experiment by weight. Variants
// are walked in creation order; the first whose cumulative weight exceeds
// the draw wins, and the last variant absorbs any shortfall.
func SelectVariant(e *models.Experiment, rng Rand) (*models.ExperimentVariant, error) {
	if e.Status != models.ExperimentRunning {
		return nil, apperr.InvalidState("experiment is %s, not running", e.Status)
	}
	if len(e.Variants) == 0 {
		return nil, apperr.InvalidState("experiment has no variants")
	}

	u := rng.Float64() * 100
	cumulative := 0.0
	for i := range e.Variants {
		cumulative += float64(e.Variants[i].TrafficWeight)
		if u < cumulative {
			v := e.Variants[i]
			return &v, nil
		}
	}
	v := e.Variants[len(e.Variants)-1]
	return &v, nil
}
