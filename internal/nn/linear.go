package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Linear is a fully connected layer. W is row-major with one row per
// output feature; B is nil when the layer has no bias.
type Linear struct {
	In  int
	Out int
	W   *Param
	B   *Param
}

func NewLinear(name string, in, out int, bias bool) *Linear {
	l := &Linear{
		In:  in,
		Out: out,
		W:   NewParam(name+".w", out*in),
	}
	if bias {
		l.B = NewParam(name+".b", out)
	}
	return l
}

// InitUniform draws weights from U(-1/sqrt(in), 1/sqrt(in)).
func (l *Linear) InitUniform(rng *rand.Rand) {
	bound := 1 / math.Sqrt(float64(l.In))
	l.W.FillUniform(rng, -bound, bound)
}

func (l *Linear) Forward(x, y []float64) error {
	if len(x) != l.In || len(y) != l.Out {
		return fmt.Errorf("linear %s: want %dx%d, got in=%d out=%d", l.W.Name, l.In, l.Out, len(x), len(y))
	}
	for o := 0; o < l.Out; o++ {
		sum := 0.0
		if l.B != nil {
			sum = l.B.Data[o]
		}
		row := l.W.Data[o*l.In : (o+1)*l.In]
		for i, v := range x {
			sum += row[i] * v
		}
		y[o] = sum
	}
	return nil
}

// Backward accumulates parameter gradients for the upstream gradient
// dy and, when dx is non-nil, adds the input gradient into dx.
func (l *Linear) Backward(x, dy, dx []float64) {
	for o := 0; o < l.Out; o++ {
		g := dy[o]
		if g == 0 {
			continue
		}
		if l.B != nil {
			l.B.Grad[o] += g
		}
		row := l.W.Data[o*l.In : (o+1)*l.In]
		gradRow := l.W.Grad[o*l.In : (o+1)*l.In]
		for i, v := range x {
			gradRow[i] += g * v
			if dx != nil {
				dx[i] += g * row[i]
			}
		}
	}
}

func (l *Linear) Params() []*Param {
	if l.B == nil {
		return []*Param{l.W}
	}
	return []*Param{l.W, l.B}
}
