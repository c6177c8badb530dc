package render

import (
	"fmt"

	"halo/internal/nn"
)

// Material maps a raw color feature to an RGB value in [0,1]. Shade returns
// the shading factor it applied so Backward can reuse it; materials carry no
// trainable parameters, so backward only produces the raw-feature gradient.
type Material interface {
	RequiresNormal() bool
	Shade(rawColor [3]float64, dir, normal [3]float64) (rgb [3]float64, shade float64)
	Backward(rawColor [3]float64, shade float64, dRGB [3]float64) (dRawColor [3]float64)
}

func NewMaterial(kind string, ambient float64) (Material, error) {
	switch kind {
	case "", "sigmoid":
		return sigmoidMaterial{}, nil
	case "scaled_sigmoid":
		return scaledSigmoidMaterial{}, nil
	case "lambert":
		if ambient < 0 || ambient > 1 {
			return nil, fmt.Errorf("lambert ambient must be in [0,1], got %g", ambient)
		}
		return lambertMaterial{ambient: ambient}, nil
	default:
		return nil, fmt.Errorf("unsupported material kind: %s", kind)
	}
}

// sigmoidMaterial treats the raw color features directly as RGB after a
// bounded activation.
type sigmoidMaterial struct{}

func (sigmoidMaterial) RequiresNormal() bool { return false }

func (sigmoidMaterial) Shade(raw [3]float64, _, _ [3]float64) ([3]float64, float64) {
	return [3]float64{nn.Sigmoid(raw[0]), nn.Sigmoid(raw[1]), nn.Sigmoid(raw[2])}, 1
}

func (sigmoidMaterial) Backward(raw [3]float64, _ float64, dRGB [3]float64) [3]float64 {
	return [3]float64{
		dRGB[0] * nn.SigmoidDeriv(raw[0]),
		dRGB[1] * nn.SigmoidDeriv(raw[1]),
		dRGB[2] * nn.SigmoidDeriv(raw[2]),
	}
}

// scaledSigmoidMaterial stretches the sigmoid slightly past [0,1] and clamps,
// so saturated colors do not need unbounded raw features.
type scaledSigmoidMaterial struct{}

const sigmoidStretch = 1e-3

func (scaledSigmoidMaterial) RequiresNormal() bool { return false }

func (scaledSigmoidMaterial) Shade(raw [3]float64, _, _ [3]float64) ([3]float64, float64) {
	var rgb [3]float64
	for i := 0; i < 3; i++ {
		rgb[i] = nn.Sat(nn.Sigmoid(raw[i])*(1+2*sigmoidStretch)-sigmoidStretch, 1, 0)
	}
	return rgb, 1
}

func (scaledSigmoidMaterial) Backward(raw [3]float64, _ float64, dRGB [3]float64) [3]float64 {
	var out [3]float64
	for i := 0; i < 3; i++ {
		v := nn.Sigmoid(raw[i])*(1+2*sigmoidStretch) - sigmoidStretch
		if v <= 0 || v >= 1 {
			continue
		}
		out[i] = dRGB[i] * (1 + 2*sigmoidStretch) * nn.SigmoidDeriv(raw[i])
	}
	return out
}

// lambertMaterial applies headlight diffuse shading on top of the sigmoid
// albedo. The shading factor uses the normal but is held constant in
// backward; gradients reach geometry through the albedo and the orientation
// term instead.
type lambertMaterial struct {
	ambient float64
}

func (lambertMaterial) RequiresNormal() bool { return true }

func (m lambertMaterial) Shade(raw [3]float64, dir, normal [3]float64) ([3]float64, float64) {
	// Headlight: light arrives along the viewing direction.
	lambert := -(normal[0]*dir[0] + normal[1]*dir[1] + normal[2]*dir[2])
	if lambert < 0 {
		lambert = 0
	}
	shade := m.ambient + (1-m.ambient)*lambert
	return [3]float64{
		nn.Sigmoid(raw[0]) * shade,
		nn.Sigmoid(raw[1]) * shade,
		nn.Sigmoid(raw[2]) * shade,
	}, shade
}

func (lambertMaterial) Backward(raw [3]float64, shade float64, dRGB [3]float64) [3]float64 {
	return [3]float64{
		dRGB[0] * shade * nn.SigmoidDeriv(raw[0]),
		dRGB[1] * shade * nn.SigmoidDeriv(raw[1]),
		dRGB[2] * shade * nn.SigmoidDeriv(raw[2]),
	}
}
