package render

import (
	"fmt"
	"math/rand"

	"halo/internal/nn"
)

// Background is a small learned environment map: a frequency encoding of the
// ray direction through one linear layer and a sigmoid. It trains as its own
// parameter group. With augmentation enabled, a coin flip per render replaces
// the map with a uniform random color, which keeps the field from painting
// the scene into the background.
type Background struct {
	enc     nn.FrequencyEncoding
	layer   *nn.Linear
	augment bool
}

func NewBackground(bands int, augment bool, rng *rand.Rand) (*Background, error) {
	enc, err := nn.NewFrequencyEncoding(3, bands, true)
	if err != nil {
		return nil, fmt.Errorf("background encoding: %w", err)
	}
	layer := nn.NewLinear("background", enc.OutDim(), 3, true)
	layer.InitUniform(rng)
	return &Background{enc: enc, layer: layer, augment: augment}, nil
}

func (b *Background) Params() []*nn.Param { return b.layer.Params() }

// BackgroundTape is nil for augmented (random color) draws, which carry no
// gradient.
type BackgroundTape struct {
	in  []float64
	raw [3]float64
}

// Sample evaluates the background color for a ray direction. rng drives the
// augmentation draw and may be nil to force the deterministic path (used by
// evaluation renders).
func (b *Background) Sample(dir [3]float64, rng *rand.Rand) ([3]float64, *BackgroundTape, error) {
	if b.augment && rng != nil && rng.Float64() < 0.5 {
		c := rng.Float64()
		return [3]float64{c, c, c}, nil, nil
	}
	tape := &BackgroundTape{in: make([]float64, b.enc.OutDim())}
	if err := b.enc.Encode(dir[:], tape.in); err != nil {
		return [3]float64{}, nil, err
	}
	if err := b.layer.Forward(tape.in, tape.raw[:]); err != nil {
		return [3]float64{}, nil, err
	}
	return [3]float64{
		nn.Sigmoid(tape.raw[0]),
		nn.Sigmoid(tape.raw[1]),
		nn.Sigmoid(tape.raw[2]),
	}, tape, nil
}

func (b *Background) Backward(tape *BackgroundTape, dRGB [3]float64) {
	if tape == nil {
		return
	}
	dRaw := [3]float64{
		dRGB[0] * nn.SigmoidDeriv(tape.raw[0]),
		dRGB[1] * nn.SigmoidDeriv(tape.raw[1]),
		dRGB[2] * nn.SigmoidDeriv(tape.raw[2]),
	}
	b.layer.Backward(tape.in, dRaw[:], nil)
}
