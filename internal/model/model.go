package model

import "gonum.org/v1/gonum/mat"

// Param is a trainable matrix together with its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

// Pass is a recorded forward pass through a Network.
type Pass interface {
	// Output returns the activations produced by the pass.
	Output() *mat.Dense
	// Backward accumulates parameter gradients for grad (shaped like Output)
	// and returns the gradient with respect to the pass input.
	Backward(grad *mat.Dense) (*mat.Dense, error)
}

// Network maps a batch (one sample per row) to a batch of outputs.
type Network interface {
	Forward(x *mat.Dense) (Pass, error)
	ZeroGrad()
	Params() []*Param
}

// Optimizer applies the gradients accumulated in its parameters.
type Optimizer interface {
	Step() error
}

// Loss compares a prediction with a target and returns the scalar loss along
// with its gradient with respect to the prediction.
type Loss interface {
	Compute(pred, target *mat.Dense) (float64, *mat.Dense, error)
}
