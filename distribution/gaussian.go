// Package distribution provides the Gaussian policy distributions and
// divergence routines used by stochastic-policy agents.
package distribution

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const logSqrt2Pi = 0.9189385332046727 // log(sqrt(2*pi))

// Diagonal is a batch of multivariate Gaussian distributions with
// diagonal covariance. Row b of the mean and standard deviation
// matrices parameterizes the distribution for batch element b.
type Diagonal struct {
	mean *mat.Dense // batch x dims
	std  *mat.Dense // batch x dims
}

// NewDiagonal returns a batched diagonal Gaussian with the given mean
// and standard deviation matrices. The matrices must have identical
// shape and strictly positive standard deviations.
func NewDiagonal(mean, std *mat.Dense) (*Diagonal, error) {
	mr, mc := mean.Dims()
	sr, sc := std.Dims()
	if mr != sr || mc != sc {
		return nil, errors.Errorf("distribution: mean shape (%d, %d) does "+
			"not match std shape (%d, %d)", mr, mc, sr, sc)
	}
	for i := 0; i < sr; i++ {
		for j := 0; j < sc; j++ {
			if std.At(i, j) <= 0 {
				return nil, errors.Errorf("distribution: nonpositive std "+
					"%v at (%d, %d)", std.At(i, j), i, j)
			}
		}
	}
	return &Diagonal{mean: mean, std: std}, nil
}

// Dims returns the batch size and event dimensionality.
func (d *Diagonal) Dims() (batch, dims int) {
	return d.mean.Dims()
}

// Mean returns the batch of distribution means.
func (d *Diagonal) Mean() *mat.Dense {
	return d.mean
}

// Std returns the batch of per-dimension standard deviations, which
// are the diagonals of the Cholesky factors of the covariances.
func (d *Diagonal) Std() *mat.Dense {
	return d.std
}

// ScaleTril returns the Cholesky factor of the covariance for batch
// element b. For a diagonal Gaussian this is the diagonal matrix of
// standard deviations.
func (d *Diagonal) ScaleTril(b int) *mat.TriDense {
	_, dims := d.mean.Dims()
	tri := mat.NewTriDense(dims, mat.Lower, nil)
	for j := 0; j < dims; j++ {
		tri.SetTri(j, j, d.std.At(b, j))
	}
	return tri
}

// Sample draws n action matrices from the distribution. Each returned
// matrix holds one sample per batch row.
func (d *Diagonal) Sample(n int, src rand.Source) []*mat.Dense {
	batch, dims := d.mean.Dims()
	stdNormal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	samples := make([]*mat.Dense, n)
	for s := 0; s < n; s++ {
		out := mat.NewDense(batch, dims, nil)
		for b := 0; b < batch; b++ {
			for j := 0; j < dims; j++ {
				out.Set(b, j,
					d.mean.At(b, j)+d.std.At(b, j)*stdNormal.Rand())
			}
		}
		samples[s] = out
	}
	return samples
}

// LogProb returns the log density of one action per batch row. The
// action matrix must have the same shape as the distribution mean.
func (d *Diagonal) LogProb(actions *mat.Dense) (*mat.VecDense, error) {
	batch, dims := d.mean.Dims()
	ar, ac := actions.Dims()
	if ar != batch || ac != dims {
		return nil, errors.Errorf("distribution: action shape (%d, %d) "+
			"does not match distribution shape (%d, %d)", ar, ac, batch, dims)
	}

	out := mat.NewVecDense(batch, nil)
	for b := 0; b < batch; b++ {
		lp := 0.0
		for j := 0; j < dims; j++ {
			std := d.std.At(b, j)
			z := (actions.At(b, j) - d.mean.At(b, j)) / std
			lp += -logSqrt2Pi - math.Log(std) - 0.5*z*z
		}
		out.SetVec(b, lp)
	}
	return out, nil
}

// Entropy returns the differential entropy of each batch element.
func (d *Diagonal) Entropy() *mat.VecDense {
	batch, dims := d.mean.Dims()
	out := mat.NewVecDense(batch, nil)
	for b := 0; b < batch; b++ {
		h := 0.0
		for j := 0; j < dims; j++ {
			h += 0.5 + logSqrt2Pi + math.Log(d.std.At(b, j))
		}
		out.SetVec(b, h)
	}
	return out
}
