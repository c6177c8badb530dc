package train

import (
	"fmt"
	"math"

	"halo/internal/nn"
)

// LossWeights schedules the multiplier of each loss term over the run.
type LossWeights struct {
	Guidance    Schedule
	Sparsity    Schedule
	Opaque      Schedule
	Orientation Schedule
	TVDensity   Schedule
	TVApp       Schedule
}

func checkTerm(name string, step int, v float64) error {
	if !nn.Finite(v) {
		return fmt.Errorf("loss term %s diverged at step %d", name, step)
	}
	return nil
}

const sparsityEps = 0.01

// sparsityLoss penalizes accumulated opacity with a smooth L1 proxy.
// The weighted gradient is added to dOpacity; the raw mean is returned.
func sparsityLoss(opacity, dOpacity []float64, weight float64) float64 {
	if len(opacity) == 0 {
		return 0
	}
	n := float64(len(opacity))
	total := 0.0
	for i, o := range opacity {
		r := math.Sqrt(o*o + sparsityEps)
		total += r
		if weight != 0 {
			dOpacity[i] += weight * o / r / n
		}
	}
	return total / n
}

const opaqueClamp = 1e-3

// opaqueLoss pushes opacity toward 0 or 1 with a binary entropy
// penalty. Values are clamped away from the logarithm's poles and the
// gradient is zero inside the clamped bands.
func opaqueLoss(opacity, dOpacity []float64, weight float64) float64 {
	if len(opacity) == 0 {
		return 0
	}
	n := float64(len(opacity))
	total := 0.0
	for i, o := range opacity {
		c := nn.Sat(o, 1-opaqueClamp, opaqueClamp)
		total += -(c*math.Log(c) + (1-c)*math.Log(1-c))
		if weight != 0 && o > opaqueClamp && o < 1-opaqueClamp {
			dOpacity[i] += weight * (-math.Log(c/(1-c))) / n
		}
	}
	return total / n
}
