package guidance

import (
	"fmt"
	"math"
	"math/rand"
)

// NoiseSchedule is the frozen denoiser's diffusion schedule. The scaled
// linear variant interpolates sqrt(beta) linearly, the schedule the latent
// diffusion family trains with.
type NoiseSchedule struct {
	Steps    int
	Betas    []float64
	AlphaCum []float64
}

const (
	DefaultTrainSteps = 1000
	DefaultBetaStart  = 0.00085
	DefaultBetaEnd    = 0.012
)

func NewScaledLinearSchedule(steps int, betaStart, betaEnd float64) (*NoiseSchedule, error) {
	if steps < 2 {
		return nil, fmt.Errorf("schedule needs at least 2 steps, got %d", steps)
	}
	if betaStart <= 0 || betaEnd >= 1 || betaEnd < betaStart {
		return nil, fmt.Errorf("invalid beta range [%g, %g]", betaStart, betaEnd)
	}
	s := &NoiseSchedule{
		Steps:    steps,
		Betas:    make([]float64, steps),
		AlphaCum: make([]float64, steps),
	}
	lo, hi := math.Sqrt(betaStart), math.Sqrt(betaEnd)
	cum := 1.0
	for i := 0; i < steps; i++ {
		b := lo + (hi-lo)*float64(i)/float64(steps-1)
		s.Betas[i] = b * b
		cum *= 1 - s.Betas[i]
		s.AlphaCum[i] = cum
	}
	return s, nil
}

// AlphaCumAt errors on out-of-range timesteps instead of clamping; a bad
// index here means the caller's timestep sampling is broken.
func (s *NoiseSchedule) AlphaCumAt(t int) (float64, error) {
	if t < 0 || t >= s.Steps {
		return 0, fmt.Errorf("timestep %d outside schedule [0, %d)", t, s.Steps)
	}
	return s.AlphaCum[t], nil
}

// TimestepRange resolves fraction bounds into an index interval.
type TimestepRange struct {
	Lo, Hi int // half-open
}

func NewTimestepRange(s *NoiseSchedule, minFrac, maxFrac float64) (TimestepRange, error) {
	if minFrac < 0 || maxFrac > 1 || minFrac >= maxFrac {
		return TimestepRange{}, fmt.Errorf("invalid timestep fraction range [%g, %g]", minFrac, maxFrac)
	}
	lo := int(minFrac * float64(s.Steps))
	hi := int(maxFrac * float64(s.Steps))
	if hi <= lo {
		hi = lo + 1
	}
	if hi > s.Steps {
		hi = s.Steps
	}
	return TimestepRange{Lo: lo, Hi: hi}, nil
}

func (r TimestepRange) Sample(rng *rand.Rand) int {
	return r.Lo + rng.Intn(r.Hi-r.Lo)
}
