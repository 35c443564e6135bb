package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// logFloor matches the usual clamp on log terms so saturated predictions
// yield a large but finite loss.
const logFloor = -100

// BCELoss is the mean binary cross-entropy between probabilities and targets.
type BCELoss struct{}

func (BCELoss) Compute(pred, target *mat.Dense) (float64, *mat.Dense, error) {
	target, err := alignTarget(pred, target)
	if err != nil {
		return 0, nil, errors.Wrap(err, "bce")
	}
	rows, cols := pred.Dims()
	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	total := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p := pred.At(i, j)
			t := target.At(i, j)
			total -= t*clampedLog(p) + (1-t)*clampedLog(1-p)
			denom := math.Max(p*(1-p), 1e-12)
			grad.Set(i, j, (p-t)/denom/n)
		}
	}
	return total / n, grad, nil
}

// MSELoss is the mean squared error, as used by least-squares GANs.
type MSELoss struct{}

func (MSELoss) Compute(pred, target *mat.Dense) (float64, *mat.Dense, error) {
	target, err := alignTarget(pred, target)
	if err != nil {
		return 0, nil, errors.Wrap(err, "mse")
	}
	rows, cols := pred.Dims()
	n := float64(rows * cols)
	grad := mat.NewDense(rows, cols, nil)
	grad.Sub(pred, target)
	total := 0.0
	for i := 0; i < rows; i++ {
		diff := grad.RawRowView(i)
		total += floats.Dot(diff, diff)
	}
	grad.Scale(2/n, grad)
	return total / n, grad, nil
}

func clampedLog(v float64) float64 {
	if v <= 0 {
		return logFloor
	}
	return math.Max(math.Log(v), logFloor)
}

// alignTarget returns the leading rows of target matching pred, so a fixed
// label tensor can serve an undersized final batch.
func alignTarget(pred, target *mat.Dense) (*mat.Dense, error) {
	if pred == nil || target == nil {
		return nil, errors.New("nil prediction or target")
	}
	pr, pc := pred.Dims()
	tr, tc := target.Dims()
	if tc != pc || tr < pr {
		return nil, errors.Errorf("target is %dx%d, prediction is %dx%d", tr, tc, pr, pc)
	}
	if tr == pr {
		return target, nil
	}
	return target.Slice(0, pr, 0, pc).(*mat.Dense), nil
}
