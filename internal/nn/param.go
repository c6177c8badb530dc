package nn

import (
	"fmt"
	"math/rand"
)

// Param is a named flat tensor with an accumulated gradient of the
// same shape.
type Param struct {
	Name string
	Data []float64
	Grad []float64
}

func NewParam(name string, size int) *Param {
	return &Param{
		Name: name,
		Data: make([]float64, size),
		Grad: make([]float64, size),
	}
}

func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

func (p *Param) FillUniform(rng *rand.Rand, lo, hi float64) {
	for i := range p.Data {
		p.Data[i] = lo + (hi-lo)*rng.Float64()
	}
}

func (p *Param) FillConst(v float64) {
	for i := range p.Data {
		p.Data[i] = v
	}
}

// CheckFinite reports the first non-finite value in either the data or
// the gradient.
func (p *Param) CheckFinite() error {
	if i := FiniteSlice(p.Data); i >= 0 {
		return fmt.Errorf("param %s: non-finite value at index %d", p.Name, i)
	}
	if i := FiniteSlice(p.Grad); i >= 0 {
		return fmt.Errorf("param %s: non-finite gradient at index %d", p.Name, i)
	}
	return nil
}

// Group ties a set of parameters to one learning rate.
type Group struct {
	Name   string
	LR     float64
	Params []*Param
}

func (g *Group) ZeroGrad() {
	for _, p := range g.Params {
		p.ZeroGrad()
	}
}

func (g *Group) Size() int {
	total := 0
	for _, p := range g.Params {
		total += len(p.Data)
	}
	return total
}
