package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"halo/internal/nn"
)

func toByte(v float64) uint8 {
	return uint8(nn.Sat(v, 1, 0)*255 + 0.5)
}

// WritePNGs writes the color, opacity and normal maps of a render as
// <prefix>_color.png, <prefix>_opacity.png and <prefix>_normal.png under dir,
// creating it if needed. Normals are remapped from [-1,1] to [0,1].
func (m *Maps) WritePNGs(dir, prefix string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	colorImg := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	opacityImg := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	normalImg := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x
			colorImg.SetRGBA(x, y, color.RGBA{
				R: toByte(m.Color[3*i]),
				G: toByte(m.Color[3*i+1]),
				B: toByte(m.Color[3*i+2]),
				A: 255,
			})
			opacityImg.SetGray(x, y, color.Gray{Y: toByte(m.Opacity[i])})
			normalImg.SetRGBA(x, y, color.RGBA{
				R: toByte(m.Normal[3*i]*0.5 + 0.5),
				G: toByte(m.Normal[3*i+1]*0.5 + 0.5),
				B: toByte(m.Normal[3*i+2]*0.5 + 0.5),
				A: 255,
			})
		}
	}

	for name, img := range map[string]image.Image{
		"color":   colorImg,
		"opacity": opacityImg,
		"normal":  normalImg,
	} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", prefix, name))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := png.Encode(f, img); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
