package field

// TotalVariation is the mean squared difference between adjacent factor
// cells, summed over the head's planes (both in-plane axes) and lines. A
// perfectly smooth factor set scores zero.
func (g *Grids) TotalVariation() float64 {
	total := 0.0
	res := g.Res
	for k := 0; k < 3; k++ {
		plane := g.Planes[k].Data
		line := g.Lines[k].Data
		stride := res * res
		planeDiffs := g.Comps[k] * 2 * res * (res - 1)
		acc := 0.0
		for c := 0; c < g.Comps[k]; c++ {
			base := c * stride
			for v := 0; v < res; v++ {
				row := base + v*res
				for u := 0; u < res-1; u++ {
					d := plane[row+u+1] - plane[row+u]
					acc += d * d
				}
			}
			for v := 0; v < res-1; v++ {
				for u := 0; u < res; u++ {
					d := plane[base+(v+1)*res+u] - plane[base+v*res+u]
					acc += d * d
				}
			}
		}
		total += acc / float64(planeDiffs)

		acc = 0.0
		for c := 0; c < g.Comps[k]; c++ {
			for i := 0; i < res-1; i++ {
				d := line[c*res+i+1] - line[c*res+i]
				acc += d * d
			}
		}
		total += acc / float64(g.Comps[k]*(res-1))
	}
	return total
}

// AccumulateTV adds weight * d(TotalVariation)/d(factor) into the factor
// gradients and returns the penalty value.
func (g *Grids) AccumulateTV(weight float64) float64 {
	value := g.TotalVariation()
	if weight == 0 {
		return value
	}
	res := g.Res
	for k := 0; k < 3; k++ {
		plane := g.Planes[k].Data
		planeGrad := g.Planes[k].Grad
		line := g.Lines[k].Data
		lineGrad := g.Lines[k].Grad
		stride := res * res
		planeScale := 2 * weight / float64(g.Comps[k]*2*res*(res-1))
		for c := 0; c < g.Comps[k]; c++ {
			base := c * stride
			for v := 0; v < res; v++ {
				row := base + v*res
				for u := 0; u < res-1; u++ {
					d := plane[row+u+1] - plane[row+u]
					planeGrad[row+u+1] += planeScale * d
					planeGrad[row+u] -= planeScale * d
				}
			}
			for v := 0; v < res-1; v++ {
				for u := 0; u < res; u++ {
					lo := base + v*res + u
					hi := base + (v+1)*res + u
					d := plane[hi] - plane[lo]
					planeGrad[hi] += planeScale * d
					planeGrad[lo] -= planeScale * d
				}
			}
		}
		lineScale := 2 * weight / float64(g.Comps[k]*(res-1))
		for c := 0; c < g.Comps[k]; c++ {
			for i := 0; i < res-1; i++ {
				lo := c*res + i
				hi := lo + 1
				d := line[hi] - line[lo]
				lineGrad[hi] += lineScale * d
				lineGrad[lo] -= lineScale * d
			}
		}
	}
	return value
}
