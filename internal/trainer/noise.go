package trainer

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// NoiseSampler draws latent inputs for the generator.
type NoiseSampler interface {
	Sample(rows, cols int) *mat.Dense
}

// GaussianNoise samples independent standard normal values.
type GaussianNoise struct {
	rng *rand.Rand
}

func NewGaussianNoise(seed int64) *GaussianNoise {
	return &GaussianNoise{rng: rand.New(rand.NewSource(seed))}
}

func (g *GaussianNoise) Sample(rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = g.rng.NormFloat64()
	}
	return mat.NewDense(rows, cols, data)
}

// Visualizer renders generator progress for a latent batch.
type Visualizer interface {
	Show(z *mat.Dense)
}

// VisualizerFunc adapts a function to Visualizer.
type VisualizerFunc func(z *mat.Dense)

func (f VisualizerFunc) Show(z *mat.Dense) { f(z) }

// Labels returns the constant real and fake target columns for batchSize rows.
func Labels(batchSize int, realValue, fakeValue float64) (*mat.Dense, *mat.Dense) {
	return constant(batchSize, realValue), constant(batchSize, fakeValue)
}

func constant(rows int, v float64) *mat.Dense {
	data := make([]float64, rows)
	for i := range data {
		data[i] = v
	}
	return mat.NewDense(rows, 1, data)
}
