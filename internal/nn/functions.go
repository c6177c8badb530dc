package nn

import "math"

// Softplus computes log(1+exp(x)) in a form that does not overflow for
// large positive x.
func Softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// SoftplusDeriv is the logistic sigmoid, the exact derivative of Softplus.
func SoftplusDeriv(x float64) float64 {
	return Sigmoid(x)
}

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

func SigmoidDeriv(x float64) float64 {
	s := Sigmoid(x)
	return s * (1 - s)
}

// SafeExp clamps the argument so exp never overflows on a hot path; raw
// densities past the clamp are already far beyond opaque.
func SafeExp(x float64) float64 {
	if x > 30 {
		x = 30
	}
	return math.Exp(x)
}

func SafeExpDeriv(x float64) float64 {
	if x > 30 {
		return 0
	}
	return math.Exp(x)
}

// Sat clamps value to [min, max].
func Sat(value, max, min float64) float64 {
	if value > max {
		return max
	}
	if value < min {
		return min
	}
	return value
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FiniteSlice reports the index of the first non-finite element, or -1.
func FiniteSlice(values []float64) int {
	for i, v := range values {
		if !Finite(v) {
			return i
		}
	}
	return -1
}
