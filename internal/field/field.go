package field

import (
	"fmt"
	"math"
	"math/rand"

	"halo/internal/nn"
)

// The volume is stored as a vector-matrix decomposition: for each axis pair
// (XY, XZ, YZ) a factor plane and a factor line over the remaining axis. One
// feature component is the product of its plane and line interpolations, and
// the feature vector concatenates components across the three pairs. Density
// and appearance own independent grid sets so their component counts and
// smoothness penalties stay separate.

// pairAxes lists, per factor pair, the two plane axes and the line axis.
var pairAxes = [3][3]int{
	{0, 1, 2},
	{0, 2, 1},
	{1, 2, 0},
}

type Config struct {
	Resolution           int
	DensityComponents    [3]int
	AppearanceComponents [3]int
	Radius               float64
}

func (c Config) Validate() error {
	if c.Resolution < 2 {
		return fmt.Errorf("grid resolution must be at least 2, got %d", c.Resolution)
	}
	if c.Radius <= 0 {
		return fmt.Errorf("scene radius must be positive, got %g", c.Radius)
	}
	for k := 0; k < 3; k++ {
		if c.DensityComponents[k] <= 0 {
			return fmt.Errorf("density component count must be positive for pair %d, got %d", k, c.DensityComponents[k])
		}
		if c.AppearanceComponents[k] <= 0 {
			return fmt.Errorf("appearance component count must be positive for pair %d, got %d", k, c.AppearanceComponents[k])
		}
	}
	return nil
}

// Grids is one head's factor set. Plane k stores comps[k]*res*res values in
// component-major order; line k stores comps[k]*res values.
type Grids struct {
	Res    int
	Comps  [3]int
	Planes [3]*nn.Param
	Lines  [3]*nn.Param
}

func newGrids(name string, res int, comps [3]int, rng *rand.Rand) *Grids {
	g := &Grids{Res: res, Comps: comps}
	for k := 0; k < 3; k++ {
		g.Planes[k] = nn.NewParam(fmt.Sprintf("%s.plane%d", name, k), comps[k]*res*res)
		g.Lines[k] = nn.NewParam(fmt.Sprintf("%s.line%d", name, k), comps[k]*res)
		// Uniform init in [0.1, 0.5), the reference grid initialization.
		g.Planes[k].FillUniform(rng, 0.1, 0.5)
		g.Lines[k].FillUniform(rng, 0.1, 0.5)
	}
	return g
}

// Dim is the feature vector length: the sum of per-pair component counts.
func (g *Grids) Dim() int {
	return g.Comps[0] + g.Comps[1] + g.Comps[2]
}

func (g *Grids) Params() []*nn.Param {
	return []*nn.Param{
		g.Planes[0], g.Planes[1], g.Planes[2],
		g.Lines[0], g.Lines[1], g.Lines[2],
	}
}

// QueryTape records the interpolation stencil of one query so Backward can
// scatter a feature gradient onto the exact factor cells that produced it.
type QueryTape struct {
	pairs [3]pairTape
}

type pairTape struct {
	planeIdx [4]int
	planeW   [4]float64
	lineIdx  [2]int
	lineW    [2]float64
	planeVal []float64
	lineVal  []float64
}

// interp1 resolves a continuous grid coordinate into the two cell indices and
// weights of align-corners linear interpolation with border clamping.
func interp1(u float64, res int) (i0, i1 int, w0, w1 float64) {
	if u <= 0 {
		return 0, 0, 1, 0
	}
	limit := float64(res - 1)
	if u >= limit {
		return res - 1, res - 1, 1, 0
	}
	f := math.Floor(u)
	i0 = int(f)
	i1 = i0 + 1
	w1 = u - f
	w0 = 1 - w1
	return i0, i1, w0, w1
}

// Query interpolates the feature vector at grid-space coordinates u
// (each in [0, Res-1]; out-of-range values clamp to the border) and fills
// the tape for the backward pass. feat must have length Dim.
func (g *Grids) Query(u [3]float64, feat []float64, tape *QueryTape) error {
	if len(feat) != g.Dim() {
		return fmt.Errorf("feature length mismatch: got=%d want=%d", len(feat), g.Dim())
	}
	res := g.Res
	offset := 0
	for k := 0; k < 3; k++ {
		a0, a1, la := pairAxes[k][0], pairAxes[k][1], pairAxes[k][2]
		iu0, iu1, wu0, wu1 := interp1(u[a0], res)
		iv0, iv1, wv0, wv1 := interp1(u[a1], res)
		il0, il1, wl0, wl1 := interp1(u[la], res)

		pt := &tape.pairs[k]
		pt.planeIdx = [4]int{iv0*res + iu0, iv0*res + iu1, iv1*res + iu0, iv1*res + iu1}
		pt.planeW = [4]float64{wv0 * wu0, wv0 * wu1, wv1 * wu0, wv1 * wu1}
		pt.lineIdx = [2]int{il0, il1}
		pt.lineW = [2]float64{wl0, wl1}
		if cap(pt.planeVal) < g.Comps[k] {
			pt.planeVal = make([]float64, g.Comps[k])
			pt.lineVal = make([]float64, g.Comps[k])
		}
		pt.planeVal = pt.planeVal[:g.Comps[k]]
		pt.lineVal = pt.lineVal[:g.Comps[k]]

		plane := g.Planes[k].Data
		line := g.Lines[k].Data
		stride := res * res
		for c := 0; c < g.Comps[k]; c++ {
			base := c * stride
			pv := plane[base+pt.planeIdx[0]]*pt.planeW[0] +
				plane[base+pt.planeIdx[1]]*pt.planeW[1] +
				plane[base+pt.planeIdx[2]]*pt.planeW[2] +
				plane[base+pt.planeIdx[3]]*pt.planeW[3]
			lv := line[c*res+pt.lineIdx[0]]*pt.lineW[0] + line[c*res+pt.lineIdx[1]]*pt.lineW[1]
			pt.planeVal[c] = pv
			pt.lineVal[c] = lv
			feat[offset+c] = pv * lv
		}
		offset += g.Comps[k]
	}
	return nil
}

// Backward scatters a feature gradient through the recorded stencil into the
// factor gradients, applying the product rule across plane and line.
func (g *Grids) Backward(tape *QueryTape, gradFeat []float64) {
	res := g.Res
	offset := 0
	for k := 0; k < 3; k++ {
		pt := &tape.pairs[k]
		planeGrad := g.Planes[k].Grad
		lineGrad := g.Lines[k].Grad
		stride := res * res
		for c := 0; c < g.Comps[k]; c++ {
			gf := gradFeat[offset+c]
			if gf == 0 {
				continue
			}
			dPlane := gf * pt.lineVal[c]
			dLine := gf * pt.planeVal[c]
			base := c * stride
			for j := 0; j < 4; j++ {
				planeGrad[base+pt.planeIdx[j]] += dPlane * pt.planeW[j]
			}
			lineGrad[c*res+pt.lineIdx[0]] += dLine * pt.lineW[0]
			lineGrad[c*res+pt.lineIdx[1]] += dLine * pt.lineW[1]
		}
		offset += g.Comps[k]
	}
}

// Field owns the density and appearance grid sets for one scene.
type Field struct {
	cfg        Config
	Density    *Grids
	Appearance *Grids
}

func New(cfg Config, rng *rand.Rand) (*Field, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Field{
		cfg:        cfg,
		Density:    newGrids("field.density", cfg.Resolution, cfg.DensityComponents, rng),
		Appearance: newGrids("field.appearance", cfg.Resolution, cfg.AppearanceComponents, rng),
	}, nil
}

func (f *Field) Config() Config { return f.cfg }

// Contract maps a world position inside [-radius, radius]^3 to continuous
// grid coordinates in [0, Res-1] per axis; positions outside the radius clamp
// to the border, matching border-padded grid sampling.
func (f *Field) Contract(p [3]float64) [3]float64 {
	limit := float64(f.cfg.Resolution - 1)
	var u [3]float64
	for a := 0; a < 3; a++ {
		t := (p[a]/f.cfg.Radius + 1) * 0.5 * limit
		u[a] = nn.Sat(t, limit, 0)
	}
	return u
}

func (f *Field) QueryDensity(p [3]float64, feat []float64, tape *QueryTape) error {
	return f.Density.Query(f.Contract(p), feat, tape)
}

func (f *Field) QueryAppearance(p [3]float64, feat []float64, tape *QueryTape) error {
	return f.Appearance.Query(f.Contract(p), feat, tape)
}

func (f *Field) Params() []*nn.Param {
	return append(f.Density.Params(), f.Appearance.Params()...)
}
