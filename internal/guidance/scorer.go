package guidance

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
)

// Scorer is the frozen pretrained denoiser. It predicts the noise component
// of a noised latent at a diffusion timestep, conditioned on a text
// embedding. Implementations are read-only and safe for concurrent use; the
// guidance never differentiates through them.
type Scorer interface {
	PredictNoise(ctx context.Context, latent []float64, timestep int, embedding []float64) ([]float64, error)
}

// OfflinePrior is a deterministic stand-in for the remote diffusion service,
// used by tests and smoke runs. Embeddings are unit-norm pseudo-random
// vectors seeded from the text; noise predictions pull the latent toward a
// per-embedding direction, which gives the optimizer a stable, non-trivial
// signal without any external dependency.
type OfflinePrior struct {
	Dim  int     // embedding width
	Gain float64 // fraction of the latent echoed back as "noise"
}

func NewOfflinePrior() *OfflinePrior {
	return &OfflinePrior{Dim: 64, Gain: 0.2}
}

func (o *OfflinePrior) Encode(_ context.Context, text string) ([]float64, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	emb := make([]float64, o.Dim)
	norm := 0.0
	for i := range emb {
		emb[i] = rng.NormFloat64()
		norm += emb[i] * emb[i]
	}
	if norm == 0 {
		return nil, fmt.Errorf("degenerate embedding for text %q", text)
	}
	scale := 1 / math.Sqrt(norm)
	for i := range emb {
		emb[i] *= scale
	}
	return emb, nil
}

func (o *OfflinePrior) PredictNoise(_ context.Context, latent []float64, timestep int, embedding []float64) ([]float64, error) {
	if len(embedding) != o.Dim {
		return nil, fmt.Errorf("embedding length mismatch: got=%d want=%d", len(embedding), o.Dim)
	}
	if timestep < 0 {
		return nil, fmt.Errorf("negative timestep %d", timestep)
	}
	out := make([]float64, len(latent))
	for i := range latent {
		out[i] = o.Gain*latent[i] + 0.1*embedding[i%o.Dim]
	}
	return out, nil
}
