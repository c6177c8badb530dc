package nn

import (
	"fmt"
	"math"
)

// FrequencyEncoding appends sinusoidal bands to a raw input vector:
// for every input component x and band k it emits sin(2^k*pi*x) and
// cos(2^k*pi*x). With IncludeInput set the raw components lead the output,
// mirroring the composite encoding of the reference grids.
type FrequencyEncoding struct {
	InDim        int
	Bands        int
	IncludeInput bool
}

func NewFrequencyEncoding(inDim, bands int, includeInput bool) (FrequencyEncoding, error) {
	if inDim <= 0 {
		return FrequencyEncoding{}, fmt.Errorf("encoding input dimension must be positive, got %d", inDim)
	}
	if bands < 0 {
		return FrequencyEncoding{}, fmt.Errorf("encoding bands must be non-negative, got %d", bands)
	}
	return FrequencyEncoding{InDim: inDim, Bands: bands, IncludeInput: includeInput}, nil
}

func (e FrequencyEncoding) OutDim() int {
	out := 2 * e.Bands * e.InDim
	if e.IncludeInput {
		out += e.InDim
	}
	return out
}

// Encode writes the encoding of x into out, which must have length OutDim.
func (e FrequencyEncoding) Encode(x, out []float64) error {
	if len(x) != e.InDim {
		return fmt.Errorf("encoding input length mismatch: got=%d want=%d", len(x), e.InDim)
	}
	if len(out) != e.OutDim() {
		return fmt.Errorf("encoding output length mismatch: got=%d want=%d", len(out), e.OutDim())
	}
	pos := 0
	if e.IncludeInput {
		copy(out, x)
		pos = e.InDim
	}
	for band := 0; band < e.Bands; band++ {
		freq := math.Pi * math.Exp2(float64(band))
		for _, v := range x {
			s, c := math.Sincos(freq * v)
			out[pos] = s
			out[pos+1] = c
			pos += 2
		}
	}
	return nil
}
