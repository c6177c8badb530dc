package render

import (
	"math"
	"math/rand"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"halo/internal/field"
	"halo/internal/geometry"
)

type testScene struct {
	fld *field.Field
	geo *geometry.Geometry
	ren *Renderer
}

// newTestScene builds a renderer over a 4^3 grid with 2 components per pair.
// A positive fill value drives the raw density far negative (planes -fill,
// lines +fill) so only the bias blob is visible; fill == 0 keeps the random
// initialization.
func newTestScene(t *testing.T, fill float64, biasScale float64, samples int) *testScene {
	t.Helper()
	rng := rand.New(rand.NewSource(23))
	fld, err := field.New(field.Config{
		Resolution:           4,
		DensityComponents:    [3]int{2, 2, 2},
		AppearanceComponents: [3]int{2, 2, 2},
		Radius:               1,
	}, rng)
	if err != nil {
		t.Fatalf("new field: %v", err)
	}
	if fill != 0 {
		for k := 0; k < 3; k++ {
			fld.Density.Planes[k].FillConst(-fill)
			fld.Density.Lines[k].FillConst(fill)
		}
	}
	geo, err := geometry.New(fld, geometry.Config{
		DensityActivation: "softplus",
		BiasKind:          "blob_gauss",
		BiasScale:         biasScale,
		BiasSpread:        0.3,
		NormalEps:         1e-3,
	}, rng)
	if err != nil {
		t.Fatalf("new geometry: %v", err)
	}
	mat, err := NewMaterial("sigmoid", 0)
	if err != nil {
		t.Fatalf("new material: %v", err)
	}
	bg, err := NewBackground(2, false, rng)
	if err != nil {
		t.Fatalf("new background: %v", err)
	}
	ren, err := New(geo, mat, bg, samples, false)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	return &testScene{fld: fld, geo: geo, ren: ren}
}

func centerRay() Ray {
	return Ray{Origin: mgl64.Vec3{-2, 0, 0}, Dir: mgl64.Vec3{1, 0, 0}, Near: 1, Far: 3}
}

func TestSingleSampleOpacityMatchesClosedForm(t *testing.T) {
	s := newTestScene(t, 0, 5, 1)
	ray := centerRay()
	maps, _, err := s.ren.Render([]Ray{ray}, 1, 1, nil, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	// One sample at the segment midpoint with delta = far - near.
	delta := ray.Far - ray.Near
	mid := ray.Origin.Add(ray.Dir.Mul(ray.Near + 0.5*delta))
	sigma, err := s.geo.DensityAt([3]float64{mid.X(), mid.Y(), mid.Z()})
	if err != nil {
		t.Fatalf("density: %v", err)
	}
	want := 1 - math.Exp(-sigma*delta)
	if math.Abs(maps.Opacity[0]-want) > 1e-9 {
		t.Fatalf("opacity mismatch: got=%g want=%g", maps.Opacity[0], want)
	}
}

func TestTransmittanceMonotoneAndOpacityBounded(t *testing.T) {
	s := newTestScene(t, 0, 10, 16)
	rays := EvalCamera(Ranges{
		DistanceMin: 1.5, DistanceMax: 2.5,
		FOVMinDeg: 40, FOVMaxDeg: 70,
		ElevationMinDeg: -10, ElevationMaxDeg: 45,
	}, 1).Rays(4, 4)

	_, tape, err := s.ren.Render(rays, 4, 4, nil, Options{Tape: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for ri := range tape.rays {
		rt := &tape.rays[ri]
		for i := 1; i < len(rt.trans); i++ {
			if rt.trans[i] > rt.trans[i-1]+1e-12 {
				t.Fatalf("ray %d transmittance increased at %d: %g > %g", ri, i, rt.trans[i], rt.trans[i-1])
			}
		}
		if rt.opacity < 0 || rt.opacity > 1 {
			t.Fatalf("ray %d opacity out of range: %g", ri, rt.opacity)
		}
	}
}

func TestCenterRayOpaquerThanMissRay(t *testing.T) {
	// Raw density ~ -24 away from the blob, so only the centered bias blob
	// contributes density.
	s := newTestScene(t, 2, 30, 8)
	center := centerRay()
	miss := center
	miss.Origin = mgl64.Vec3{-2, 5, 0}

	maps, _, err := s.ren.Render([]Ray{center, miss}, 2, 1, nil, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if maps.Opacity[1] > 1e-3 {
		t.Fatalf("miss ray should be transparent, opacity=%g", maps.Opacity[1])
	}
	if maps.Opacity[0] <= maps.Opacity[1] {
		t.Fatalf("center ray should be opaquer: center=%g miss=%g", maps.Opacity[0], maps.Opacity[1])
	}
}

func TestZeroDensityRayReturnsBackground(t *testing.T) {
	s := newTestScene(t, 2, 0, 8) // no bias, raw density ~ -24 everywhere
	ray := centerRay()
	maps, _, err := s.ren.Render([]Ray{ray}, 1, 1, nil, Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if maps.Opacity[0] > 1e-6 {
		t.Fatalf("expected near-zero opacity, got %g", maps.Opacity[0])
	}
	bg, _, err := s.ren.bg.Sample([3]float64{ray.Dir.X(), ray.Dir.Y(), ray.Dir.Z()}, nil)
	if err != nil {
		t.Fatalf("background: %v", err)
	}
	for c := 0; c < 3; c++ {
		if math.Abs(maps.Color[c]-bg[c]) > 1e-6 {
			t.Fatalf("channel %d should be pure background: got=%g want=%g", c, maps.Color[c], bg[c])
		}
	}
}

func TestRenderIsDeterministicForSeed(t *testing.T) {
	s := newTestScene(t, 0, 8, 8)
	ray := centerRay()
	s.ren.stratified = true

	first, _, err := s.ren.Render([]Ray{ray}, 1, 1, rand.New(rand.NewSource(42)), Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	second, _, err := s.ren.Render([]Ray{ray}, 1, 1, rand.New(rand.NewSource(42)), Options{})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i := range first.Color {
		if first.Color[i] != second.Color[i] {
			t.Fatalf("seeded renders differ at %d: %g != %g", i, first.Color[i], second.Color[i])
		}
	}
}

func TestBackwardMatchesNumericGradient(t *testing.T) {
	s := newTestScene(t, 0, 5, 3)
	rays := []Ray{centerRay(), {Origin: mgl64.Vec3{-2, 0.2, 0.1}, Dir: mgl64.Vec3{1, 0, 0}, Near: 1, Far: 3}}

	dColor := []float64{0.7, -0.3, 0.5, -0.2, 0.4, 0.6}
	dOpacity := []float64{0.9, -0.4}

	objective := func() float64 {
		maps, _, err := s.ren.Render(rays, 2, 1, nil, Options{})
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		total := 0.0
		for i := range maps.Color {
			total += dColor[i] * maps.Color[i]
		}
		for i := range maps.Opacity {
			total += dOpacity[i] * maps.Opacity[i]
		}
		return total
	}

	_, tape, err := s.ren.Render(rays, 2, 1, nil, Options{Tape: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if err := tape.Backward(dColor, dOpacity); err != nil {
		t.Fatalf("backward: %v", err)
	}

	const eps = 1e-6
	checkParams := s.fld.Params()
	checkParams = append(checkParams, s.ren.bg.Params()...)
	checked := 0
	for _, p := range checkParams {
		for i := range p.Data {
			if p.Grad[i] == 0 {
				continue
			}
			orig := p.Data[i]
			p.Data[i] = orig + eps
			plus := objective()
			p.Data[i] = orig - eps
			minus := objective()
			p.Data[i] = orig
			numeric := (plus - minus) / (2 * eps)
			if math.Abs(numeric-p.Grad[i]) > 1e-4 {
				t.Fatalf("%s grad mismatch at %d: analytic=%g numeric=%g", p.Name, i, p.Grad[i], numeric)
			}
			checked++
		}
	}
	if checked == 0 {
		t.Fatal("no gradients were produced")
	}
}

func TestAccumulateOrientationProducesLossAndGradients(t *testing.T) {
	s := newTestScene(t, 0, 20, 4)
	_, tape, err := s.ren.Render([]Ray{centerRay()}, 1, 1, nil, Options{Tape: true, Normals: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	loss := tape.AccumulateOrientation(0.5)
	if loss < 0 {
		t.Fatalf("orientation loss must be non-negative, got %g", loss)
	}
	if loss == 0 {
		t.Skip("no back-facing normals in this configuration")
	}
	nonzero := 0
	for _, p := range s.fld.Density.Params() {
		for _, v := range p.Grad {
			if v != 0 {
				nonzero++
			}
		}
	}
	if nonzero == 0 {
		t.Fatal("orientation gradients did not reach density factors")
	}
}

func TestCameraRaysLookAtOrigin(t *testing.T) {
	cam := EvalCamera(Ranges{
		DistanceMin: 2, DistanceMax: 2,
		FOVMinDeg: 60, FOVMaxDeg: 60,
		ElevationMinDeg: 15, ElevationMaxDeg: 15,
	}, 1)
	rays := cam.Rays(3, 3)
	if len(rays) != 9 {
		t.Fatalf("unexpected ray count: %d", len(rays))
	}
	// Center pixel should pass close to the origin.
	center := rays[4]
	tClosest := center.Dir.Dot(center.Origin.Mul(-1))
	closest := center.Origin.Add(center.Dir.Mul(tClosest))
	if closest.Len() > 0.05 {
		t.Fatalf("center ray misses the origin by %g", closest.Len())
	}
	for i, ray := range rays {
		if math.Abs(ray.Dir.Len()-1) > 1e-9 {
			t.Fatalf("ray %d direction not normalized: %g", i, ray.Dir.Len())
		}
		if ray.Far <= ray.Near {
			t.Fatalf("ray %d bounds degenerate: near=%g far=%g", i, ray.Near, ray.Far)
		}
	}
}

func TestSampleCameraStaysWithinRanges(t *testing.T) {
	ranges := Ranges{
		DistanceMin: 1.5, DistanceMax: 2.5,
		FOVMinDeg: 40, FOVMaxDeg: 70,
		ElevationMinDeg: -10, ElevationMaxDeg: 45,
	}
	if err := ranges.Validate(1); err != nil {
		t.Fatalf("validate: %v", err)
	}
	rng := rand.New(rand.NewSource(77))
	for i := 0; i < 50; i++ {
		cam := SampleCamera(ranges, 1, rng)
		d := cam.Eye.Len()
		if d < ranges.DistanceMin-1e-9 || d > ranges.DistanceMax+1e-9 {
			t.Fatalf("distance out of range: %g", d)
		}
		if cam.FOVDeg < ranges.FOVMinDeg || cam.FOVDeg > ranges.FOVMaxDeg {
			t.Fatalf("fov out of range: %g", cam.FOVDeg)
		}
		el := math.Asin(cam.Eye.Z()/d) * 180 / math.Pi
		if el < ranges.ElevationMinDeg-1e-6 || el > ranges.ElevationMaxDeg+1e-6 {
			t.Fatalf("elevation out of range: %g", el)
		}
	}
}

func TestRangesValidateRejectsBadBounds(t *testing.T) {
	bad := Ranges{DistanceMin: 0.5, DistanceMax: 2, FOVMinDeg: 60, FOVMaxDeg: 60, ElevationMinDeg: 0, ElevationMaxDeg: 0}
	if err := bad.Validate(1); err == nil {
		t.Fatal("expected error for camera inside the scene radius")
	}
	bad = Ranges{DistanceMin: 2, DistanceMax: 1.5, FOVMinDeg: 60, FOVMaxDeg: 60}
	if err := bad.Validate(1); err == nil {
		t.Fatal("expected error for inverted distance range")
	}
}
