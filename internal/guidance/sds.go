package guidance

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"halo/internal/nn"
)

type Config struct {
	Scale       float64 // classifier-free guidance scale
	MinStepFrac float64
	MaxStepFrac float64
	Weighting   string
}

func (c Config) Validate() error {
	if c.Scale < 0 {
		return fmt.Errorf("guidance scale must be non-negative, got %g", c.Scale)
	}
	if _, err := ParseWeighting(c.Weighting); err != nil {
		return err
	}
	if c.MinStepFrac < 0 || c.MaxStepFrac > 1 || c.MinStepFrac >= c.MaxStepFrac {
		return fmt.Errorf("invalid timestep fraction range [%g, %g]", c.MinStepFrac, c.MaxStepFrac)
	}
	return nil
}

// Guidance computes the score-distillation pseudo-gradient for a rendered
// image. The scorer's own gradient path is never taken: the returned slice is
// injected as the image gradient directly.
type Guidance struct {
	scorer    Scorer
	sched     *NoiseSchedule
	trange    TimestepRange
	weighting Weighting
	scale     float64
}

func New(scorer Scorer, sched *NoiseSchedule, cfg Config) (*Guidance, error) {
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	if sched == nil {
		return nil, fmt.Errorf("noise schedule is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	weighting, err := ParseWeighting(cfg.Weighting)
	if err != nil {
		return nil, err
	}
	trange, err := NewTimestepRange(sched, cfg.MinStepFrac, cfg.MaxStepFrac)
	if err != nil {
		return nil, err
	}
	return &Guidance{
		scorer:    scorer,
		sched:     sched,
		trange:    trange,
		weighting: weighting,
		scale:     cfg.Scale,
	}, nil
}

// Diagnostics reports what one guidance invocation did.
type Diagnostics struct {
	Timestep int
	Weight   float64
	Loss     float64 // 0.5 * mean squared pseudo-gradient, the usual SDS proxy
}

// Gradient returns d(loss)/d(pixel) for one rendered image in [0,1] pixel
// space. The image is mapped to [-1,1] latent space, noised at a sampled
// timestep, denoised by the frozen scorer with classifier-free guidance, and
// the weighted residual against the injected noise comes back as the
// gradient. With scale == 1 the unconditional branch is skipped entirely and
// the prediction is exactly the conditional one.
func (g *Guidance) Gradient(ctx context.Context, image, cond, uncond []float64, rng *rand.Rand) ([]float64, Diagnostics, error) {
	if len(image) == 0 {
		return nil, Diagnostics{}, fmt.Errorf("empty image batch")
	}
	if len(cond) == 0 || len(cond) != len(uncond) {
		return nil, Diagnostics{}, fmt.Errorf("embedding length mismatch: cond=%d uncond=%d", len(cond), len(uncond))
	}
	if i := nn.FiniteSlice(cond); i >= 0 {
		return nil, Diagnostics{}, fmt.Errorf("conditional embedding has non-finite value at index %d", i)
	}
	if i := nn.FiniteSlice(uncond); i >= 0 {
		return nil, Diagnostics{}, fmt.Errorf("unconditional embedding has non-finite value at index %d", i)
	}

	t := g.trange.Sample(rng)
	ac, err := g.sched.AlphaCumAt(t)
	if err != nil {
		return nil, Diagnostics{}, err
	}
	weight, err := g.weighting.Weight(g.sched, t)
	if err != nil {
		return nil, Diagnostics{}, err
	}

	sqrtAC := math.Sqrt(ac)
	sqrtOneMinus := math.Sqrt(1 - ac)
	noise := make([]float64, len(image))
	noisy := make([]float64, len(image))
	for i, v := range image {
		latent := 2*v - 1
		noise[i] = rng.NormFloat64()
		noisy[i] = sqrtAC*latent + sqrtOneMinus*noise[i]
	}

	condPred, err := g.scorer.PredictNoise(ctx, noisy, t, cond)
	if err != nil {
		return nil, Diagnostics{}, fmt.Errorf("conditional prediction: %w", err)
	}
	if len(condPred) != len(image) {
		return nil, Diagnostics{}, fmt.Errorf("denoiser shape mismatch: got=%d want=%d", len(condPred), len(image))
	}

	pred := condPred
	if g.scale != 1 {
		uncondPred, err := g.scorer.PredictNoise(ctx, noisy, t, uncond)
		if err != nil {
			return nil, Diagnostics{}, fmt.Errorf("unconditional prediction: %w", err)
		}
		if len(uncondPred) != len(image) {
			return nil, Diagnostics{}, fmt.Errorf("denoiser shape mismatch: got=%d want=%d", len(uncondPred), len(image))
		}
		pred = make([]float64, len(image))
		for i := range pred {
			pred[i] = uncondPred[i] + g.scale*(condPred[i]-uncondPred[i])
		}
	}

	grad := make([]float64, len(image))
	sq := 0.0
	for i := range grad {
		// d(latent)/d(pixel) = 2 from the [0,1] -> [-1,1] mapping.
		grad[i] = 2 * weight * (pred[i] - noise[i])
		sq += grad[i] * grad[i]
	}
	if i := nn.FiniteSlice(grad); i >= 0 {
		return nil, Diagnostics{}, fmt.Errorf("sds gradient has non-finite value at index %d (timestep %d)", i, t)
	}
	return grad, Diagnostics{Timestep: t, Weight: weight, Loss: 0.5 * sq / float64(len(image))}, nil
}
