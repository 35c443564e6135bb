package dataset

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/pkg/errors"
)

// DecodeGray decodes an encoded image and samples it onto a side x side
// grayscale grid with intensities in [-1, 1], row-major.
func DecodeGray(raw []byte, side int) ([]float64, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}
	features := make([]float64, side*side)
	stepX := float64(width) / float64(side)
	stepY := float64(height) / float64(side)
	for gy := 0; gy < side; gy++ {
		for gx := 0; gx < side; gx++ {
			px := bounds.Min.X + int(math.Min(float64(width-1), float64(gx)*stepX))
			py := bounds.Min.Y + int(math.Min(float64(height-1), float64(gy)*stepY))
			r, g, b, _ := img.At(px, py).RGBA()
			intensity := (float64(r) + float64(g) + float64(b)) / (3 * 65535.0)
			features[gy*side+gx] = intensity*2 - 1
		}
	}
	return features, nil
}
