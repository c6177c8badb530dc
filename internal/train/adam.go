package train

import (
	"fmt"
	"math"
	"sort"

	"halo/internal/model"
	"halo/internal/nn"
)

type AdamConfig struct {
	Beta1 float64
	Beta2 float64
	Eps   float64
}

func (c AdamConfig) withDefaults() AdamConfig {
	if c.Beta1 == 0 {
		c.Beta1 = 0.9
	}
	if c.Beta2 == 0 {
		c.Beta2 = 0.99
	}
	if c.Eps == 0 {
		c.Eps = 1e-15
	}
	return c
}

func (c AdamConfig) Validate() error {
	c = c.withDefaults()
	if c.Beta1 <= 0 || c.Beta1 >= 1 || c.Beta2 <= 0 || c.Beta2 >= 1 {
		return fmt.Errorf("adam betas must be in (0, 1), got %g and %g", c.Beta1, c.Beta2)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("adam epsilon must be positive, got %g", c.Eps)
	}
	return nil
}

// Adam keeps first and second moment estimates per parameter, keyed by
// the parameter name so state survives a checkpoint round trip.
type Adam struct {
	cfg  AdamConfig
	step int
	m    map[string][]float64
	v    map[string][]float64
}

func NewAdam(cfg AdamConfig) (*Adam, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Adam{
		cfg: cfg.withDefaults(),
		m:   make(map[string][]float64),
		v:   make(map[string][]float64),
	}, nil
}

func (a *Adam) StepCount() int { return a.step }

// Step applies one update using each group's learning rate and the
// gradients currently accumulated on its parameters.
func (a *Adam) Step(groups []*nn.Group) error {
	a.step++
	c1 := 1 - math.Pow(a.cfg.Beta1, float64(a.step))
	c2 := 1 - math.Pow(a.cfg.Beta2, float64(a.step))

	for _, g := range groups {
		for _, p := range g.Params {
			m, ok := a.m[p.Name]
			if !ok {
				m = make([]float64, len(p.Data))
				a.m[p.Name] = m
			}
			v, ok := a.v[p.Name]
			if !ok {
				v = make([]float64, len(p.Data))
				a.v[p.Name] = v
			}
			if len(m) != len(p.Data) || len(v) != len(p.Data) {
				return fmt.Errorf("adam state size mismatch for %s: %d vs %d", p.Name, len(m), len(p.Data))
			}
			for i, grad := range p.Grad {
				m[i] = a.cfg.Beta1*m[i] + (1-a.cfg.Beta1)*grad
				v[i] = a.cfg.Beta2*v[i] + (1-a.cfg.Beta2)*grad*grad
				mHat := m[i] / c1
				vHat := v[i] / c2
				p.Data[i] -= g.LR * mHat / (math.Sqrt(vHat) + a.cfg.Eps)
			}
		}
	}
	return nil
}

func (a *Adam) State() model.OptimizerState {
	st := model.OptimizerState{Step: a.step}
	names := make([]string, 0, len(a.m))
	for name := range a.m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st.M = append(st.M, model.ParamBlob{Name: name, Values: append([]float64(nil), a.m[name]...)})
		st.V = append(st.V, model.ParamBlob{Name: name, Values: append([]float64(nil), a.v[name]...)})
	}
	return st
}

func (a *Adam) LoadState(st model.OptimizerState) error {
	if st.Step < 0 {
		return fmt.Errorf("optimizer step must be non-negative, got %d", st.Step)
	}
	a.step = st.Step
	a.m = make(map[string][]float64, len(st.M))
	a.v = make(map[string][]float64, len(st.V))
	for _, blob := range st.M {
		a.m[blob.Name] = append([]float64(nil), blob.Values...)
	}
	for _, blob := range st.V {
		a.v[blob.Name] = append([]float64(nil), blob.Values...)
	}
	return nil
}
