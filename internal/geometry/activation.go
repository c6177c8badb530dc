package geometry

import (
	"fmt"

	"halo/internal/nn"
)

// Activation is the closed set of density nonlinearities, resolved once at
// construction so the render loop never dispatches on strings.
type Activation int

const (
	ActivationSoftplus Activation = iota
	ActivationExp
)

func ParseActivation(kind string) (Activation, error) {
	switch kind {
	case "softplus":
		return ActivationSoftplus, nil
	case "exp":
		return ActivationExp, nil
	default:
		return 0, fmt.Errorf("unsupported density activation: %s", kind)
	}
}

func (a Activation) String() string {
	switch a {
	case ActivationSoftplus:
		return "softplus"
	case ActivationExp:
		return "exp"
	default:
		return "unknown"
	}
}

// Apply maps a raw density to a non-negative density. Both variants are
// non-negative by construction, so no post-clamp can hide a sign bug.
func (a Activation) Apply(x float64) float64 {
	switch a {
	case ActivationExp:
		return nn.SafeExp(x)
	default:
		return nn.Softplus(x)
	}
}

func (a Activation) Deriv(x float64) float64 {
	switch a {
	case ActivationExp:
		return nn.SafeExpDeriv(x)
	default:
		return nn.SoftplusDeriv(x)
	}
}

type biasKind int

const (
	biasNone biasKind = iota
	biasGauss
	biasLinear
)

func parseBiasKind(kind string) (biasKind, error) {
	switch kind {
	case "", "none":
		return biasNone, nil
	case "blob_gauss":
		return biasGauss, nil
	case "blob_linear":
		return biasLinear, nil
	default:
		return 0, fmt.Errorf("unsupported density bias kind: %s", kind)
	}
}
