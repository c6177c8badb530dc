package train

import (
	"math"
	"testing"

	"halo/internal/nn"
)

func TestSchedulePiecewiseLookup(t *testing.T) {
	s, err := NewSchedule([]float64{0, 10, 1000, 5000})
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	cases := []struct {
		step int
		want float64
	}{
		{0, 10},
		{999, 10},
		{1000, 5000},
		{100000, 5000},
	}
	for _, c := range cases {
		if got := s.ValueAt(c.step); got != c.want {
			t.Fatalf("value at %d: got %g, want %g", c.step, got, c.want)
		}
	}
}

func TestScheduleZeroBeforeFirstPoint(t *testing.T) {
	s, err := NewSchedule([]float64{100, 2.5})
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	if got := s.ValueAt(99); got != 0 {
		t.Fatalf("expected 0 before first point, got %g", got)
	}
	if got := s.ValueAt(100); got != 2.5 {
		t.Fatalf("expected 2.5 at first point, got %g", got)
	}
}

func TestScheduleRejectsBadInput(t *testing.T) {
	if _, err := NewSchedule([]float64{0, 1, 2}); err == nil {
		t.Fatal("expected error for odd-length list")
	}
	if _, err := NewSchedule([]float64{10, 1, 10, 2}); err == nil {
		t.Fatal("expected error for non-increasing steps")
	}
	if _, err := NewSchedule([]float64{-5, 1}); err == nil {
		t.Fatal("expected error for negative step")
	}
	if _, err := NewSchedule([]float64{0.5, 1}); err == nil {
		t.Fatal("expected error for fractional step")
	}
}

func TestConstantSchedule(t *testing.T) {
	s := Constant(3)
	for _, step := range []int{0, 1, 100000} {
		if got := s.ValueAt(step); got != 3 {
			t.Fatalf("constant value at %d: got %g", step, got)
		}
	}
}

func TestSparsityLossGradient(t *testing.T) {
	opacity := []float64{0, 0.3, 0.9, 1}
	dOpacity := make([]float64, len(opacity))
	weight := 0.7
	loss := sparsityLoss(opacity, dOpacity, weight)

	const eps = 1e-6
	for i := range opacity {
		orig := opacity[i]
		opacity[i] = orig + eps
		plus := sparsityLoss(opacity, make([]float64, len(opacity)), 0)
		opacity[i] = orig - eps
		minus := sparsityLoss(opacity, make([]float64, len(opacity)), 0)
		opacity[i] = orig
		numeric := weight * (plus - minus) / (2 * eps)
		if math.Abs(numeric-dOpacity[i]) > 1e-6 {
			t.Fatalf("sparsity grad mismatch at %d: analytic=%g numeric=%g", i, dOpacity[i], numeric)
		}
	}
	if loss <= 0 {
		t.Fatalf("expected positive sparsity loss, got %g", loss)
	}
}

func TestOpaqueLossGradientAndClamp(t *testing.T) {
	opacity := []float64{0.2, 0.5, 0.8}
	dOpacity := make([]float64, len(opacity))
	weight := 1.3
	opaqueLoss(opacity, dOpacity, weight)

	const eps = 1e-7
	for i := range opacity {
		orig := opacity[i]
		opacity[i] = orig + eps
		plus := opaqueLoss(opacity, make([]float64, len(opacity)), 0)
		opacity[i] = orig - eps
		minus := opaqueLoss(opacity, make([]float64, len(opacity)), 0)
		opacity[i] = orig
		numeric := weight * (plus - minus) / (2 * eps)
		if math.Abs(numeric-dOpacity[i]) > 1e-5 {
			t.Fatalf("opaque grad mismatch at %d: analytic=%g numeric=%g", i, dOpacity[i], numeric)
		}
	}

	// Saturated values sit inside the clamp band and get no gradient.
	dSat := make([]float64, 2)
	loss := opaqueLoss([]float64{0, 1}, dSat, weight)
	if dSat[0] != 0 || dSat[1] != 0 {
		t.Fatalf("expected zero gradient at saturation, got %v", dSat)
	}
	if math.IsInf(loss, 0) || math.IsNaN(loss) {
		t.Fatalf("expected finite loss at saturation, got %g", loss)
	}
}

func TestAdamSingleStep(t *testing.T) {
	p := nn.NewParam("w", 1)
	p.Data[0] = 1
	p.Grad[0] = 0.5
	group := &nn.Group{Name: "g", LR: 0.1, Params: []*nn.Param{p}}

	opt, err := NewAdam(AdamConfig{Beta1: 0.9, Beta2: 0.99, Eps: 1e-15})
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}
	if err := opt.Step([]*nn.Group{group}); err != nil {
		t.Fatalf("step: %v", err)
	}

	// With bias correction the first step moves by lr * g/|g|.
	want := 1 - 0.1*0.5/(math.Abs(0.5)+1e-15)
	if math.Abs(p.Data[0]-want) > 1e-9 {
		t.Fatalf("first adam step: got %g, want %g", p.Data[0], want)
	}
}

func TestAdamStateRoundTrip(t *testing.T) {
	build := func() (*Adam, []*nn.Group) {
		p := nn.NewParam("w", 3)
		copy(p.Data, []float64{0.5, -0.25, 1})
		opt, err := NewAdam(AdamConfig{})
		if err != nil {
			t.Fatalf("new adam: %v", err)
		}
		return opt, []*nn.Group{{Name: "g", LR: 0.05, Params: []*nn.Param{p}}}
	}

	optA, groupsA := build()
	for i := 0; i < 3; i++ {
		for j, p := range groupsA[0].Params[0].Data {
			groupsA[0].Params[0].Grad[j] = p * 0.1
		}
		if err := optA.Step(groupsA); err != nil {
			t.Fatalf("step A: %v", err)
		}
	}

	st := optA.State()

	optB, groupsB := build()
	copy(groupsB[0].Params[0].Data, groupsA[0].Params[0].Data)
	if err := optB.LoadState(st); err != nil {
		t.Fatalf("load state: %v", err)
	}
	if optB.StepCount() != optA.StepCount() {
		t.Fatalf("step count mismatch: %d vs %d", optB.StepCount(), optA.StepCount())
	}

	step := func(opt *Adam, groups []*nn.Group) {
		for j, v := range groups[0].Params[0].Data {
			groups[0].Params[0].Grad[j] = v * 0.1
		}
		if err := opt.Step(groups); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	step(optA, groupsA)
	step(optB, groupsB)

	for i := range groupsA[0].Params[0].Data {
		if groupsA[0].Params[0].Data[i] != groupsB[0].Params[0].Data[i] {
			t.Fatalf("restored optimizer diverged at %d: %g vs %g",
				i, groupsA[0].Params[0].Data[i], groupsB[0].Params[0].Data[i])
		}
	}
}
