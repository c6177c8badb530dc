package geometry

import (
	"fmt"
	"math"
	"math/rand"

	"halo/internal/field"
	"halo/internal/nn"
)

type Config struct {
	DensityActivation string  // softplus | exp
	BiasKind          string  // blob_gauss | blob_linear | none
	BiasScale         float64 // peak raw density added at the origin
	BiasSpread        float64 // characteristic radius of the blob
	NormalEps         float64 // finite-difference offset for normals
	PosEncodingBands  int     // position bands appended to the color input
	DirEncodingBands  int     // view-direction bands appended to the color input
}

func (c Config) Validate() error {
	if _, err := ParseActivation(c.DensityActivation); err != nil {
		return err
	}
	if _, err := parseBiasKind(c.BiasKind); err != nil {
		return err
	}
	if c.BiasKind != "none" && c.BiasSpread <= 0 {
		return fmt.Errorf("density bias spread must be positive, got %g", c.BiasSpread)
	}
	if c.NormalEps <= 0 {
		return fmt.Errorf("normal epsilon must be positive, got %g", c.NormalEps)
	}
	if c.PosEncodingBands < 0 || c.DirEncodingBands < 0 {
		return fmt.Errorf("encoding bands must be non-negative")
	}
	return nil
}

// Geometry maps field features to density, raw color features and normals.
// Density is raw = bias(position) + head(feature) pushed through the
// configured activation; the bias seeds a centered blob so optimization
// starts from a visible object instead of empty space.
type Geometry struct {
	fld  *field.Field
	cfg  Config
	act  Activation
	bias biasKind

	densityHead *nn.Linear
	colorHead   *nn.Linear
	posEnc      nn.FrequencyEncoding
	dirEnc      nn.FrequencyEncoding
	colorIn     int
}

// ColorFeatureDim is the width of the raw color feature the material layer
// consumes.
const ColorFeatureDim = 3

func New(fld *field.Field, cfg Config, rng *rand.Rand) (*Geometry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	act, err := ParseActivation(cfg.DensityActivation)
	if err != nil {
		return nil, err
	}
	bias, err := parseBiasKind(cfg.BiasKind)
	if err != nil {
		return nil, err
	}

	g := &Geometry{fld: fld, cfg: cfg, act: act, bias: bias}
	if g.posEnc, err = nn.NewFrequencyEncoding(3, cfg.PosEncodingBands, false); err != nil {
		return nil, err
	}
	if g.dirEnc, err = nn.NewFrequencyEncoding(3, cfg.DirEncodingBands, false); err != nil {
		return nil, err
	}
	g.colorIn = fld.Appearance.Dim() + g.posEnc.OutDim() + g.dirEnc.OutDim()

	g.densityHead = nn.NewLinear("geometry.density", fld.Density.Dim(), 1, false)
	// Density components contribute additively at start, matching the
	// sum-of-components density of the reference decomposition.
	g.densityHead.W.FillConst(1)
	g.colorHead = nn.NewLinear("geometry.color", g.colorIn, ColorFeatureDim, true)
	g.colorHead.InitUniform(rng)
	return g, nil
}

func (g *Geometry) Config() Config { return g.cfg }
func (g *Geometry) Field() *field.Field { return g.fld }
func (g *Geometry) Params() []*nn.Param { return append(g.densityHead.Params(), g.colorHead.Params()...) }

// Bias evaluates the analytic density bias at a world position.
func (g *Geometry) Bias(p [3]float64) float64 {
	d := math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
	switch g.bias {
	case biasGauss:
		s := g.cfg.BiasSpread
		return g.cfg.BiasScale * math.Exp(-d*d/(2*s*s))
	case biasLinear:
		return g.cfg.BiasScale * (1 - d/g.cfg.BiasSpread)
	default:
		return 0
	}
}

// Tape caches everything one sample's backward pass needs.
type Tape struct {
	DTape field.QueryTape
	DFeat []float64
	Raw   float64

	ATape   field.QueryTape
	AFeat   []float64
	ColorIn []float64

	HasNormal bool
	NTapes    [6]field.QueryTape
	NFeat     [6][]float64
	NRaw      [6]float64
	Grad      [3]float64
	GradNorm  float64
}

func (g *Geometry) newTape() *Tape {
	t := &Tape{
		DFeat:   make([]float64, g.fld.Density.Dim()),
		AFeat:   make([]float64, g.fld.Appearance.Dim()),
		ColorIn: make([]float64, g.colorIn),
	}
	return t
}

// rawDensityAt evaluates bias + head(feature) at p, filling feat and tape.
func (g *Geometry) rawDensityAt(p [3]float64, feat []float64, tape *field.QueryTape) (float64, error) {
	if err := g.fld.QueryDensity(p, feat, tape); err != nil {
		return 0, err
	}
	var out [1]float64
	if err := g.densityHead.Forward(feat, out[:]); err != nil {
		return 0, err
	}
	return out[0] + g.Bias(p), nil
}

// DensityAt is the forward-only density query used by tests and diagnostics.
func (g *Geometry) DensityAt(p [3]float64) (float64, error) {
	feat := make([]float64, g.fld.Density.Dim())
	var tape field.QueryTape
	raw, err := g.rawDensityAt(p, feat, &tape)
	if err != nil {
		return 0, err
	}
	return g.act.Apply(raw), nil
}

// Sample evaluates one point. dir is the (unit) view direction feeding the
// color input encodings; withNormal additionally estimates the surface
// normal from central differences of the density at +-NormalEps.
// The returned tape feeds Backward.
func (g *Geometry) Sample(p, dir [3]float64, withNormal bool) (sigma float64, rawColor [ColorFeatureDim]float64, normal [3]float64, tape *Tape, err error) {
	tape = g.newTape()

	tape.Raw, err = g.rawDensityAt(p, tape.DFeat, &tape.DTape)
	if err != nil {
		return 0, rawColor, normal, nil, err
	}
	sigma = g.act.Apply(tape.Raw)

	if err = g.fld.QueryAppearance(p, tape.AFeat, &tape.ATape); err != nil {
		return 0, rawColor, normal, nil, err
	}
	pos := copy(tape.ColorIn, tape.AFeat)
	radius := g.fld.Config().Radius
	if g.posEnc.Bands > 0 {
		scaled := [3]float64{p[0] / radius, p[1] / radius, p[2] / radius}
		if err = g.posEnc.Encode(scaled[:], tape.ColorIn[pos:pos+g.posEnc.OutDim()]); err != nil {
			return 0, rawColor, normal, nil, err
		}
		pos += g.posEnc.OutDim()
	}
	if g.dirEnc.Bands > 0 {
		if err = g.dirEnc.Encode(dir[:], tape.ColorIn[pos:pos+g.dirEnc.OutDim()]); err != nil {
			return 0, rawColor, normal, nil, err
		}
	}
	if err = g.colorHead.Forward(tape.ColorIn, rawColor[:]); err != nil {
		return 0, rawColor, normal, nil, err
	}

	if withNormal {
		eps := g.cfg.NormalEps
		for axis := 0; axis < 3; axis++ {
			for side := 0; side < 2; side++ {
				q := p
				if side == 0 {
					q[axis] += eps
				} else {
					q[axis] -= eps
				}
				o := axis*2 + side
				if tape.NFeat[o] == nil {
					tape.NFeat[o] = make([]float64, g.fld.Density.Dim())
				}
				tape.NRaw[o], err = g.rawDensityAt(q, tape.NFeat[o], &tape.NTapes[o])
				if err != nil {
					return 0, rawColor, normal, nil, err
				}
			}
			plus := g.act.Apply(tape.NRaw[axis*2])
			minus := g.act.Apply(tape.NRaw[axis*2+1])
			tape.Grad[axis] = (plus - minus) / (2 * eps)
		}
		tape.GradNorm = math.Sqrt(tape.Grad[0]*tape.Grad[0] + tape.Grad[1]*tape.Grad[1] + tape.Grad[2]*tape.Grad[2])
		if tape.GradNorm > 1e-9 {
			tape.HasNormal = true
			// Surface normal points against increasing density.
			for a := 0; a < 3; a++ {
				normal[a] = -tape.Grad[a] / tape.GradNorm
			}
		}
	}
	return sigma, rawColor, normal, tape, nil
}

// Backward pushes gradients with respect to this sample's density, raw color
// features and normal into the head and factor gradients. The normal path
// re-traverses the six finite-difference density evaluations.
func (g *Geometry) Backward(t *Tape, dSigma float64, dRawColor [ColorFeatureDim]float64, dNormal [3]float64) {
	if dRawColor != ([ColorFeatureDim]float64{}) {
		dColorIn := make([]float64, len(t.ColorIn))
		g.colorHead.Backward(t.ColorIn, dRawColor[:], dColorIn)
		g.fld.Appearance.Backward(&t.ATape, dColorIn[:g.fld.Appearance.Dim()])
	}

	if dSigma != 0 {
		g.backwardRawDensity(t.DFeat, &t.DTape, dSigma*g.act.Deriv(t.Raw))
	}

	if t.HasNormal && dNormal != ([3]float64{}) {
		// n = -grad/|grad|; project the incoming gradient onto the tangent
		// space before dividing by the magnitude.
		var n [3]float64
		for a := 0; a < 3; a++ {
			n[a] = -t.Grad[a] / t.GradNorm
		}
		dot := n[0]*dNormal[0] + n[1]*dNormal[1] + n[2]*dNormal[2]
		eps := g.cfg.NormalEps
		for axis := 0; axis < 3; axis++ {
			dGrad := -(dNormal[axis] - n[axis]*dot) / t.GradNorm
			dPlus := dGrad / (2 * eps)
			dMinus := -dPlus
			oPlus := axis * 2
			oMinus := axis*2 + 1
			g.backwardRawDensity(t.NFeat[oPlus], &t.NTapes[oPlus], dPlus*g.act.Deriv(t.NRaw[oPlus]))
			g.backwardRawDensity(t.NFeat[oMinus], &t.NTapes[oMinus], dMinus*g.act.Deriv(t.NRaw[oMinus]))
		}
	}
}

func (g *Geometry) backwardRawDensity(feat []float64, tape *field.QueryTape, dRaw float64) {
	if dRaw == 0 {
		return
	}
	dFeat := make([]float64, len(feat))
	g.densityHead.Backward(feat, []float64{dRaw}, dFeat)
	g.fld.Density.Backward(tape, dFeat)
}
