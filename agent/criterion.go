package agent

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Criterion selects the regression loss used to fit value networks to
// their TD labels.
type Criterion int

const (
	// MSE is the mean squared error.
	MSE Criterion = iota
	// SmoothL1 is the Huber loss with unit transition point.
	SmoothL1
)

func (c Criterion) loss(diff float64) float64 {
	switch c {
	case SmoothL1:
		if math.Abs(diff) < 1 {
			return 0.5 * diff * diff
		}
		return math.Abs(diff) - 0.5
	default:
		return diff * diff
	}
}

func (c Criterion) deriv(diff float64) float64 {
	switch c {
	case SmoothL1:
		if diff > 1 {
			return 1
		}
		if diff < -1 {
			return -1
		}
		return diff
	default:
		return 2 * diff
	}
}

// Mean returns the mean loss between predictions and labels over all
// elements, together with the loss gradient with respect to the
// predictions.
func (c Criterion) Mean(pred, label *mat.Dense) (float64, *mat.Dense) {
	r, cols := pred.Dims()
	n := float64(r * cols)

	loss := 0.0
	grad := mat.NewDense(r, cols, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			diff := pred.At(i, j) - label.At(i, j)
			loss += c.loss(diff)
			grad.Set(i, j, c.deriv(diff)/n)
		}
	}
	return loss / n, grad
}

// Weighted returns the mean of elementwise losses scaled by the
// per-row importance weights, together with the loss gradient with
// respect to the predictions. This is the prioritized-replay form of
// the objective.
func (c Criterion) Weighted(pred, label *mat.Dense,
	weights *mat.VecDense) (float64, *mat.Dense) {
	r, cols := pred.Dims()
	n := float64(r * cols)

	loss := 0.0
	grad := mat.NewDense(r, cols, nil)
	for i := 0; i < r; i++ {
		w := weights.AtVec(i)
		for j := 0; j < cols; j++ {
			diff := pred.At(i, j) - label.At(i, j)
			loss += w * c.loss(diff)
			grad.Set(i, j, w*c.deriv(diff)/n)
		}
	}
	return loss / n, grad
}
