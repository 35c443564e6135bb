package model

import (
	"math/rand"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Sequential chains layers; it is the default Network implementation.
type Sequential struct {
	Name   string
	Layers []Layer
}

// NewSequential builds a named network from layers applied in order.
func NewSequential(name string, layers ...Layer) *Sequential {
	return &Sequential{Name: name, Layers: layers}
}

func (s *Sequential) Forward(x *mat.Dense) (Pass, error) {
	if x == nil {
		return nil, errors.Errorf("%s: nil input", s.Name)
	}
	backs := make([]Backprop, 0, len(s.Layers))
	out := x
	for i, layer := range s.Layers {
		next, back, err := layer.Forward(out)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: layer %d", s.Name, i)
		}
		backs = append(backs, back)
		out = next
	}
	return &sequentialPass{name: s.Name, out: out, backs: backs}, nil
}

func (s *Sequential) ZeroGrad() {
	for _, p := range s.Params() {
		p.Grad.Zero()
	}
}

func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, layer := range s.Layers {
		params = append(params, layer.Params()...)
	}
	return params
}

type sequentialPass struct {
	name  string
	out   *mat.Dense
	backs []Backprop
}

func (p *sequentialPass) Output() *mat.Dense { return p.out }

func (p *sequentialPass) Backward(grad *mat.Dense) (*mat.Dense, error) {
	if grad == nil {
		return nil, errors.Errorf("%s: nil gradient", p.name)
	}
	gr, gc := grad.Dims()
	or, oc := p.out.Dims()
	if gr != or || gc != oc {
		return nil, errors.Errorf("%s: gradient is %dx%d, output is %dx%d", p.name, gr, gc, or, oc)
	}
	for i := len(p.backs) - 1; i >= 0; i-- {
		grad = p.backs[i](grad)
	}
	return grad, nil
}

// InitNormal draws every weight from N(0, std) and zeroes every bias.
func InitNormal(net Network, std float64, rng *rand.Rand) {
	for _, p := range net.Params() {
		data := p.Value.RawMatrix().Data
		if strings.HasSuffix(p.Name, ".bias") {
			for i := range data {
				data[i] = 0
			}
			continue
		}
		for i := range data {
			data[i] = rng.NormFloat64() * std
		}
	}
}

// NewGenerator maps noiseDim-wide latent rows to outDim-wide samples in [-1, 1].
func NewGenerator(noiseDim, hidden, outDim int) *Sequential {
	return NewSequential("generator",
		NewLinear("generator.fc1", noiseDim, hidden),
		ReLU(),
		NewLinear("generator.fc2", hidden, hidden*2),
		ReLU(),
		NewLinear("generator.fc3", hidden*2, outDim),
		Tanh(),
	)
}

// NewDiscriminator maps inDim-wide samples to the probability of being real.
func NewDiscriminator(inDim, hidden int) *Sequential {
	return NewSequential("discriminator",
		NewLinear("discriminator.fc1", inDim, hidden*2),
		LeakyReLU(0.2),
		NewLinear("discriminator.fc2", hidden*2, hidden),
		LeakyReLU(0.2),
		NewLinear("discriminator.fc3", hidden, 1),
		Sigmoid(),
	)
}
