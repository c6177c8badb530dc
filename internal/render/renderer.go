package render

import (
	"fmt"
	"math"
	"math/rand"

	"halo/internal/geometry"
)

// Renderer marches rays through the field and alpha-composites density and
// radiance front to back. A render optionally records a tape holding every
// per-sample intermediate, so gradients with respect to the output pixels can
// be pushed back into the factor grids, heads and background in one pass.
type Renderer struct {
	geo        *geometry.Geometry
	mat        Material
	bg         *Background
	samples    int
	stratified bool
}

func New(geo *geometry.Geometry, mat Material, bg *Background, samplesPerRay int, stratified bool) (*Renderer, error) {
	if samplesPerRay <= 0 {
		return nil, fmt.Errorf("samples per ray must be positive, got %d", samplesPerRay)
	}
	if geo == nil || mat == nil || bg == nil {
		return nil, fmt.Errorf("renderer requires geometry, material and background")
	}
	return &Renderer{geo: geo, mat: mat, bg: bg, samples: samplesPerRay, stratified: stratified}, nil
}

// Maps holds the per-pixel render outputs in row-major order.
type Maps struct {
	Width   int
	Height  int
	Color   []float64 // 3 per pixel
	Opacity []float64
	Depth   []float64
	Normal  []float64 // 3 per pixel, weighted accumulation
}

func newMaps(width, height int) *Maps {
	n := width * height
	return &Maps{
		Width:   width,
		Height:  height,
		Color:   make([]float64, 3*n),
		Opacity: make([]float64, n),
		Depth:   make([]float64, n),
		Normal:  make([]float64, 3*n),
	}
}

// Options selects what a render records.
type Options struct {
	Tape    bool // keep backward state
	Normals bool // estimate per-sample normals even if the material does not need them
}

type rayTape struct {
	deltas    []float64
	alphas    []float64
	trans     []float64 // transmittance before each sample
	weights   []float64
	colors    [][3]float64
	rawColors [][3]float64
	shades    []float64
	normals   [][3]float64
	hasNormal []bool
	dir       [3]float64
	geoTapes  []*geometry.Tape
	bgColor   [3]float64
	bgTape    *BackgroundTape
	opacity   float64
}

// Tape is the recorded backward state of one render call.
type Tape struct {
	r    *Renderer
	rays []rayTape
}

// Render marches the given rays. rng drives stratified jitter and background
// augmentation; the same seed yields the same image. When opts.Tape is false
// the returned tape is nil and no backward state is kept.
func (r *Renderer) Render(rays []Ray, width, height int, rng *rand.Rand, opts Options) (*Maps, *Tape, error) {
	if len(rays) != width*height {
		return nil, nil, fmt.Errorf("ray count mismatch: got=%d want=%d", len(rays), width*height)
	}
	maps := newMaps(width, height)
	var tape *Tape
	if opts.Tape {
		tape = &Tape{r: r, rays: make([]rayTape, len(rays))}
	}
	needNormals := opts.Normals || r.mat.RequiresNormal()

	n := r.samples
	for ri, ray := range rays {
		if ray.Far <= ray.Near {
			return nil, nil, fmt.Errorf("ray %d has degenerate bounds near=%g far=%g", ri, ray.Near, ray.Far)
		}
		span := (ray.Far - ray.Near) / float64(n)

		ts := make([]float64, n)
		for i := 0; i < n; i++ {
			jitter := 0.5
			if r.stratified && rng != nil {
				jitter = rng.Float64()
			}
			ts[i] = ray.Near + (float64(i)+jitter)*span
		}

		rt := rayTape{
			deltas:    make([]float64, n),
			alphas:    make([]float64, n),
			trans:     make([]float64, n),
			weights:   make([]float64, n),
			colors:    make([][3]float64, n),
			rawColors: make([][3]float64, n),
			shades:    make([]float64, n),
			normals:   make([][3]float64, n),
			hasNormal: make([]bool, n),
			dir:       [3]float64{ray.Dir.X(), ray.Dir.Y(), ray.Dir.Z()},
		}
		if opts.Tape {
			rt.geoTapes = make([]*geometry.Tape, n)
		}
		for i := 0; i < n; i++ {
			if i+1 < n {
				rt.deltas[i] = ts[i+1] - ts[i]
			} else {
				rt.deltas[i] = span
			}
		}

		var color, normalAcc [3]float64
		depth := 0.0
		transmittance := 1.0
		for i := 0; i < n; i++ {
			p := [3]float64{
				ray.Origin.X() + ray.Dir.X()*ts[i],
				ray.Origin.Y() + ray.Dir.Y()*ts[i],
				ray.Origin.Z() + ray.Dir.Z()*ts[i],
			}
			sigma, rawColor, normal, gt, err := r.geo.Sample(p, rt.dir, needNormals)
			if err != nil {
				return nil, nil, fmt.Errorf("sample ray %d at %d: %w", ri, i, err)
			}
			rgb, shade := r.mat.Shade(rawColor, rt.dir, normal)

			alpha := 1 - math.Exp(-sigma*rt.deltas[i])
			weight := transmittance * alpha

			rt.alphas[i] = alpha
			rt.trans[i] = transmittance
			rt.weights[i] = weight
			rt.colors[i] = rgb
			rt.rawColors[i] = rawColor
			rt.shades[i] = shade
			rt.normals[i] = normal
			rt.hasNormal[i] = gt != nil && gt.HasNormal
			if opts.Tape {
				rt.geoTapes[i] = gt
			}

			for c := 0; c < 3; c++ {
				color[c] += weight * rgb[c]
				normalAcc[c] += weight * normal[c]
			}
			depth += weight * ts[i]
			transmittance *= 1 - alpha
		}
		opacity := 1 - transmittance
		rt.opacity = opacity

		bgColor, bgTape, err := r.bg.Sample(rt.dir, rng)
		if err != nil {
			return nil, nil, fmt.Errorf("background ray %d: %w", ri, err)
		}
		rt.bgColor = bgColor
		rt.bgTape = bgTape
		for c := 0; c < 3; c++ {
			color[c] += (1 - opacity) * bgColor[c]
		}

		maps.Opacity[ri] = opacity
		maps.Depth[ri] = depth
		for c := 0; c < 3; c++ {
			maps.Color[3*ri+c] = color[c]
			maps.Normal[3*ri+c] = normalAcc[c]
		}
		if opts.Tape {
			tape.rays[ri] = rt
		}
	}
	return maps, tape, nil
}

// Backward pushes per-pixel gradients on color (3 per pixel) and opacity into
// all trainable parameters. The compositing derivative uses suffix sums of
// downstream sample contributions, so no division by (1-alpha) is needed and
// saturated samples stay stable.
func (t *Tape) Backward(dColor, dOpacity []float64) error {
	if len(dColor) != 3*len(t.rays) || len(dOpacity) != len(t.rays) {
		return fmt.Errorf("gradient length mismatch: color=%d opacity=%d rays=%d", len(dColor), len(dOpacity), len(t.rays))
	}
	for ri := range t.rays {
		rt := &t.rays[ri]
		dC := [3]float64{dColor[3*ri], dColor[3*ri+1], dColor[3*ri+2]}

		// Opacity feeds both the external gradient and the background
		// composite C += (1-O)*bg.
		dOeff := dOpacity[ri]
		for c := 0; c < 3; c++ {
			dOeff -= dC[c] * rt.bgColor[c]
		}

		t.r.bg.Backward(rt.bgTape, [3]float64{
			dC[0] * (1 - rt.opacity),
			dC[1] * (1 - rt.opacity),
			dC[2] * (1 - rt.opacity),
		})

		n := len(rt.alphas)
		suffix := 0.0
		for i := n - 1; i >= 0; i-- {
			a := dOeff
			for c := 0; c < 3; c++ {
				a += dC[c] * rt.colors[i][c]
			}
			dSigma := rt.deltas[i] * ((1-rt.alphas[i])*rt.trans[i]*a - suffix)
			suffix += rt.weights[i] * a

			dRGB := [3]float64{
				rt.weights[i] * dC[0],
				rt.weights[i] * dC[1],
				rt.weights[i] * dC[2],
			}
			dRaw := t.r.mat.Backward(rt.rawColors[i], rt.shades[i], dRGB)
			t.r.geo.Backward(rt.geoTapes[i], dSigma, dRaw, [3]float64{})
		}
	}
	return nil
}

// AccumulateOrientation adds the orientation penalty: compositing weight
// times the squared positive part of dot(normal, view direction), averaged
// over rays. Gradients flow through the normals; the weights are held
// constant for this term. Returns the unweighted loss value.
func (t *Tape) AccumulateOrientation(weight float64) float64 {
	if len(t.rays) == 0 {
		return 0
	}
	scale := weight / float64(len(t.rays))
	loss := 0.0
	for ri := range t.rays {
		rt := &t.rays[ri]
		for i := range rt.alphas {
			if !rt.hasNormal[i] {
				continue
			}
			dot := rt.normals[i][0]*rt.dir[0] + rt.normals[i][1]*rt.dir[1] + rt.normals[i][2]*rt.dir[2]
			if dot <= 0 {
				continue
			}
			w := rt.weights[i]
			loss += w * dot * dot
			if weight != 0 && rt.geoTapes != nil {
				g := scale * 2 * w * dot
				dNormal := [3]float64{g * rt.dir[0], g * rt.dir[1], g * rt.dir[2]}
				t.r.geo.Backward(rt.geoTapes[i], 0, [3]float64{}, dNormal)
			}
		}
	}
	return loss / float64(len(t.rays))
}
