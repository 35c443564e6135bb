package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Backprop maps the gradient of a layer's output to the gradient of its input,
// accumulating parameter gradients along the way.
type Backprop func(grad *mat.Dense) *mat.Dense

// Layer is a single differentiable stage of a Sequential network.
type Layer interface {
	Forward(x *mat.Dense) (*mat.Dense, Backprop, error)
	Params() []*Param
}

// Linear computes x*W + b.
type Linear struct {
	In, Out int
	W       *Param
	B       *Param
}

// NewLinear allocates a fully connected layer with zeroed parameters.
func NewLinear(name string, in, out int) *Linear {
	return &Linear{
		In:  in,
		Out: out,
		W:   NewParam(name+".weight", in, out),
		B:   NewParam(name+".bias", 1, out),
	}
}

func (l *Linear) Params() []*Param {
	return []*Param{l.W, l.B}
}

func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, Backprop, error) {
	rows, cols := x.Dims()
	if cols != l.In {
		return nil, nil, errors.Errorf("%s: got %d input features, want %d", l.W.Name, cols, l.In)
	}
	out := mat.NewDense(rows, l.Out, nil)
	out.Mul(x, l.W.Value)
	bias := l.B.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), bias)
	}

	back := func(grad *mat.Dense) *mat.Dense {
		var dW mat.Dense
		dW.Mul(x.T(), grad)
		l.W.Grad.Add(l.W.Grad, &dW)

		db := l.B.Grad.RawRowView(0)
		for i := 0; i < rows; i++ {
			floats.Add(db, grad.RawRowView(i))
		}

		dx := mat.NewDense(rows, l.In, nil)
		dx.Mul(grad, l.W.Value.T())
		return dx
	}
	return out, back, nil
}

// Activation applies an element-wise nonlinearity.
type Activation struct {
	Name string
	fn   func(x float64) float64
	// deriv receives the input and output of fn for the same element.
	deriv func(x, y float64) float64
}

func (a *Activation) Params() []*Param { return nil }

func (a *Activation) Forward(x *mat.Dense) (*mat.Dense, Backprop, error) {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Apply(func(_, _ int, v float64) float64 { return a.fn(v) }, x)

	back := func(grad *mat.Dense) *mat.Dense {
		dx := mat.NewDense(rows, cols, nil)
		dx.Apply(func(i, j int, g float64) float64 {
			return g * a.deriv(x.At(i, j), out.At(i, j))
		}, grad)
		return dx
	}
	return out, back, nil
}

func ReLU() *Activation {
	return &Activation{
		Name: "relu",
		fn:   func(x float64) float64 { return math.Max(x, 0) },
		deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		},
	}
}

// LeakyReLU passes negative inputs scaled by slope.
func LeakyReLU(slope float64) *Activation {
	return &Activation{
		Name: "leaky_relu",
		fn: func(x float64) float64 {
			if x > 0 {
				return x
			}
			return slope * x
		},
		deriv: func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return slope
		},
	}
}

func Tanh() *Activation {
	return &Activation{
		Name:  "tanh",
		fn:    math.Tanh,
		deriv: func(_, y float64) float64 { return 1 - y*y },
	}
}

func Sigmoid() *Activation {
	return &Activation{
		Name:  "sigmoid",
		fn:    func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		deriv: func(_, y float64) float64 { return y * (1 - y) },
	}
}
