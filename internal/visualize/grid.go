package visualize

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"dcgan-forge/internal/model"
)

// Grid renders generator samples for a latent batch as numbered PNG files.
type Grid struct {
	Generator model.Network
	Dir       string
	Side      int
	// Cols is the number of tiles per row; zero picks a square layout.
	Cols   int
	Logger *log.Logger

	frame int
}

// Show renders z and logs the outcome; rendering failures do not stop training.
func (g *Grid) Show(z *mat.Dense) {
	logger := g.Logger
	if logger == nil {
		logger = log.Default()
	}
	path, err := g.Render(z)
	if err != nil {
		logger.Printf("visualize: %v", err)
		return
	}
	logger.Printf("visualize: wrote %s", path)
}

// Render writes the next samples_NNNN.png and returns its path.
func (g *Grid) Render(z *mat.Dense) (string, error) {
	pass, err := g.Generator.Forward(z)
	if err != nil {
		return "", errors.Wrap(err, "generator forward")
	}
	img, err := Tile(pass.Output(), g.Side, g.Cols)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output dir")
	}
	path := filepath.Join(g.Dir, fmt.Sprintf("samples_%04d.png", g.frame))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "create image")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return "", errors.Wrapf(err, "encode %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "close %s", path)
	}
	g.frame++
	return path, nil
}

// Tile lays out one side x side sample per row of samples on a grid with a
// one pixel gutter. Values in [-1, 1] map to black..white.
func Tile(samples *mat.Dense, side, cols int) (*image.Gray, error) {
	n, width := samples.Dims()
	if side <= 0 || width != side*side {
		return nil, errors.Errorf("tile: %d features do not form a %dx%d image", width, side, side)
	}
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(n))))
	}
	rows := (n + cols - 1) / cols
	cell := side + 1
	img := image.NewGray(image.Rect(0, 0, cols*cell+1, rows*cell+1))
	for k := 0; k < n; k++ {
		ox := (k%cols)*cell + 1
		oy := (k/cols)*cell + 1
		sample := samples.RawRowView(k)
		for y := 0; y < side; y++ {
			for x := 0; x < side; x++ {
				img.SetGray(ox+x, oy+y, color.Gray{Y: toByte(sample[y*side+x])})
			}
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	v = (v + 1) * 127.5
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
