package guidance

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"testing"
)

func testSchedule(t *testing.T) *NoiseSchedule {
	t.Helper()
	s, err := NewScaledLinearSchedule(DefaultTrainSteps, DefaultBetaStart, DefaultBetaEnd)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	return s
}

func TestScheduleAlphaCumDecreases(t *testing.T) {
	s := testSchedule(t)
	for i := 1; i < s.Steps; i++ {
		if s.AlphaCum[i] >= s.AlphaCum[i-1] {
			t.Fatalf("alphacum not decreasing at %d: %g >= %g", i, s.AlphaCum[i], s.AlphaCum[i-1])
		}
	}
	if s.AlphaCum[0] >= 1 || s.AlphaCum[s.Steps-1] <= 0 {
		t.Fatalf("alphacum endpoints out of range: %g, %g", s.AlphaCum[0], s.AlphaCum[s.Steps-1])
	}
}

func TestAlphaCumAtRejectsOutOfRange(t *testing.T) {
	s := testSchedule(t)
	if _, err := s.AlphaCumAt(-1); err == nil {
		t.Fatal("expected error for negative timestep")
	}
	if _, err := s.AlphaCumAt(s.Steps); err == nil {
		t.Fatal("expected error for timestep past the schedule")
	}
}

func TestTimestepRangeStaysWithinFractions(t *testing.T) {
	s := testSchedule(t)
	r, err := NewTimestepRange(s, 0.02, 0.98)
	if err != nil {
		t.Fatalf("new range: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		ts := r.Sample(rng)
		if ts < 20 || ts >= 980 {
			t.Fatalf("timestep %d outside [20, 980)", ts)
		}
	}
	if _, err := NewTimestepRange(s, 0.5, 0.5); err == nil {
		t.Fatal("expected error for empty fraction range")
	}
}

func TestParseWeightingRejectsUnknown(t *testing.T) {
	if _, err := ParseWeighting("snr"); err == nil {
		t.Fatal("expected unknown weighting error")
	}
	s := testSchedule(t)
	w, err := ParseWeighting("uniform")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, err := w.Weight(s, 500)
	if err != nil {
		t.Fatalf("weight: %v", err)
	}
	if v != 1 {
		t.Fatalf("uniform weight should be 1, got %g", v)
	}
	w, err = ParseWeighting("sds")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, err = w.Weight(s, 500)
	if err != nil {
		t.Fatalf("weight: %v", err)
	}
	if math.Abs(v-(1-s.AlphaCum[500])) > 1e-12 {
		t.Fatalf("sds weight mismatch: got=%g want=%g", v, 1-s.AlphaCum[500])
	}
}

func TestPromptProcessorRejectsEmptyAndCaches(t *testing.T) {
	prior := NewOfflinePrior()
	p, err := NewPromptProcessor(prior)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	ctx := context.Background()

	if _, _, err := p.Embeddings(ctx, "   "); err == nil {
		t.Fatal("expected error for blank prompt")
	}

	cond1, uncond1, err := p.Embeddings(ctx, "a ceramic mug")
	if err != nil {
		t.Fatalf("embeddings: %v", err)
	}
	cond2, uncond2, err := p.Embeddings(ctx, "a ceramic mug")
	if err != nil {
		t.Fatalf("embeddings again: %v", err)
	}
	// Memoized: same backing arrays, not just equal values.
	if &cond1[0] != &cond2[0] || &uncond1[0] != &uncond2[0] {
		t.Fatal("embeddings were re-derived instead of cached")
	}
	if len(cond1) != prior.Dim {
		t.Fatalf("unexpected embedding length: %d", len(cond1))
	}
}

// scriptedScorer returns fixed predictions per embedding pointer identity.
type scriptedScorer struct {
	cond, uncond []float64
	condEmb      []float64
	calls        int
}

func (s *scriptedScorer) PredictNoise(_ context.Context, latent []float64, _ int, embedding []float64) ([]float64, error) {
	s.calls++
	out := make([]float64, len(latent))
	src := s.uncond
	if &embedding[0] == &s.condEmb[0] {
		src = s.cond
	}
	copy(out, src)
	return out, nil
}

func TestGradientWithScaleOneUsesOnlyConditionalBranch(t *testing.T) {
	s := testSchedule(t)
	condEmb := []float64{1, 0}
	scorer := &scriptedScorer{
		cond:    []float64{0.4, -0.2, 0.1},
		uncond:  []float64{9, 9, 9}, // must never be mixed in
		condEmb: condEmb,
	}
	g, err := New(scorer, s, Config{Scale: 1, MinStepFrac: 0.02, MaxStepFrac: 0.98, Weighting: "uniform"})
	if err != nil {
		t.Fatalf("new guidance: %v", err)
	}

	image := []float64{0.5, 0.5, 0.5}
	rngA := rand.New(rand.NewSource(4))
	grad, diag, err := g.Gradient(context.Background(), image, condEmb, []float64{0, 1}, rngA)
	if err != nil {
		t.Fatalf("gradient: %v", err)
	}
	if scorer.calls != 1 {
		t.Fatalf("scale=1 should issue exactly one scorer call, got %d", scorer.calls)
	}
	if diag.Weight != 1 {
		t.Fatalf("uniform weight should be 1, got %g", diag.Weight)
	}

	// Replay the noise draw: first the timestep, then one normal per pixel.
	rngB := rand.New(rand.NewSource(4))
	trange, err := NewTimestepRange(s, 0.02, 0.98)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if ts := trange.Sample(rngB); ts != diag.Timestep {
		t.Fatalf("timestep replay mismatch: %d != %d", ts, diag.Timestep)
	}
	for i := range image {
		noise := rngB.NormFloat64()
		want := 2 * (scorer.cond[i] - noise)
		if math.Abs(grad[i]-want) > 1e-12 {
			t.Fatalf("gradient %d should reduce to cond prediction: got=%g want=%g", i, grad[i], want)
		}
	}
}

func TestGradientRejectsShapeMismatch(t *testing.T) {
	s := testSchedule(t)
	prior := NewOfflinePrior()
	g, err := New(prior, s, Config{Scale: 7.5, MinStepFrac: 0.02, MaxStepFrac: 0.98, Weighting: "sds"})
	if err != nil {
		t.Fatalf("new guidance: %v", err)
	}
	rng := rand.New(rand.NewSource(9))
	if _, _, err := g.Gradient(context.Background(), []float64{0.5}, []float64{1, 2}, []float64{1}, rng); err == nil {
		t.Fatal("expected embedding length mismatch error")
	}
	if _, _, err := g.Gradient(context.Background(), nil, []float64{1}, []float64{1}, rng); err == nil {
		t.Fatal("expected empty image error")
	}
}

func TestGradientRejectsNonFiniteEmbeddings(t *testing.T) {
	s := testSchedule(t)
	prior := NewOfflinePrior()
	g, err := New(prior, s, Config{Scale: 7.5, MinStepFrac: 0.02, MaxStepFrac: 0.98, Weighting: "sds"})
	if err != nil {
		t.Fatalf("new guidance: %v", err)
	}
	rng := rand.New(rand.NewSource(9))
	image := []float64{0.5}
	good := []float64{1, 2}

	_, _, err = g.Gradient(context.Background(), image, []float64{1, math.NaN()}, good, rng)
	if err == nil || !strings.Contains(err.Error(), "conditional embedding") {
		t.Fatalf("expected conditional embedding error, got %v", err)
	}
	_, _, err = g.Gradient(context.Background(), image, good, []float64{math.Inf(1), 2}, rng)
	if err == nil || !strings.Contains(err.Error(), "unconditional embedding") {
		t.Fatalf("expected unconditional embedding error, got %v", err)
	}
}

func TestOfflinePriorIsDeterministic(t *testing.T) {
	prior := NewOfflinePrior()
	ctx := context.Background()
	a, err := prior.Encode(ctx, "a bronze statue")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := prior.Encode(ctx, "a bronze statue")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
	}
	norm := 0.0
	for _, v := range a {
		norm += v * v
	}
	if math.Abs(norm-1) > 1e-9 {
		t.Fatalf("embedding not unit norm: %g", norm)
	}
}
