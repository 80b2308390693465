package sample

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/itohio/hydromon/pkg/config"
	"github.com/itohio/hydromon/pkg/ranger"
)

// Synthetic generates plausible readings when no hardware is attached.
type Synthetic struct {
	cfg      config.SyntheticConfig
	offset   float64
	polarity int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSynthetic creates a generator. The raw distance is combined with offset
// the same way the rangefinder reader does. A nil rng is seeded from
// cfg.Seed, or from the clock when the seed is 0.
func NewSynthetic(cfg config.SyntheticConfig, offset float64, polarity int, rng *rand.Rand) *Synthetic {
	if rng == nil {
		seed := cfg.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		rng = rand.New(rand.NewSource(seed))
	}
	return &Synthetic{
		cfg:      cfg,
		offset:   offset,
		polarity: polarity,
		rng:      rng,
	}
}

// Generate returns one random reading.
// Values are rounded to two decimals; the UV status is 0 or 1.
func (s *Synthetic) Generate() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := round2(s.uniform(s.cfg.DistanceMin, s.cfg.DistanceMax))
	return Reading{
		Distance:     ranger.ApplyOffset(raw, s.offset, s.polarity),
		Temperature:  round2(s.uniform(s.cfg.TemperatureMin, s.cfg.TemperatureMax)),
		Conductivity: round2(s.uniform(s.cfg.ConductivityMin, s.cfg.ConductivityMax)),
		UVStatus:     math.Round(s.rng.Float64()),
	}
}

func (s *Synthetic) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
