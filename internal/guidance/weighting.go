package guidance

import (
	"fmt"
	"math"
)

// Weighting selects how the per-timestep SDS weight is computed. It is a
// closed set resolved at construction; adding a variant means adding a case
// here and documenting its formula.
type Weighting int

const (
	// WeightingUniform uses w(t) = 1.
	WeightingUniform Weighting = iota
	// WeightingSDS uses w(t) = 1 - alphacum(t), the dreamfusion weight.
	WeightingSDS
	// WeightingFantasia uses w(t) = sqrt(alphacum(t)) * (1 - alphacum(t)).
	WeightingFantasia
)

func ParseWeighting(kind string) (Weighting, error) {
	switch kind {
	case "uniform":
		return WeightingUniform, nil
	case "", "sds":
		return WeightingSDS, nil
	case "fantasia3d":
		return WeightingFantasia, nil
	default:
		return 0, fmt.Errorf("unsupported weighting strategy: %s", kind)
	}
}

func (w Weighting) String() string {
	switch w {
	case WeightingUniform:
		return "uniform"
	case WeightingSDS:
		return "sds"
	case WeightingFantasia:
		return "fantasia3d"
	default:
		return "unknown"
	}
}

func (w Weighting) Weight(s *NoiseSchedule, t int) (float64, error) {
	ac, err := s.AlphaCumAt(t)
	if err != nil {
		return 0, err
	}
	switch w {
	case WeightingUniform:
		return 1, nil
	case WeightingSDS:
		return 1 - ac, nil
	case WeightingFantasia:
		return math.Sqrt(ac) * (1 - ac), nil
	default:
		return 0, fmt.Errorf("unknown weighting strategy %d", w)
	}
}
