package distribution

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DecoupledKL computes the decoupled KL divergence between two batches
// of multivariate Gaussians given their means and the lower Cholesky
// factors of their covariances. The divergence is split into a mean
// term,
//
//	C_mu = 0.5 * E_b[ (mu - muOld)^T SigmaOld^-1 (mu - muOld) ],
//
// and a covariance term,
//
//	C_sigma = 0.5 * E_b[ log det(Sigma)/det(SigmaOld) - n
//	                     + tr(Sigma^-1 SigmaOld) ],
//
// where the expectation is a mean over the batch. C_mu is the KL
// between the distributions when only the means differ; C_sigma when
// only the covariances differ.
func DecoupledKL(muOld, mu *mat.Dense, scaleOld,
	scale []*mat.TriDense) (klMu, klSigma float64, err error) {
	batch, n := mu.Dims()
	br, bc := muOld.Dims()
	if br != batch || bc != n {
		return 0, 0, errors.Errorf("distribution: mean shapes (%d, %d) "+
			"and (%d, %d) differ", br, bc, batch, n)
	}
	if len(scaleOld) != batch || len(scale) != batch {
		return 0, 0, errors.Errorf("distribution: %d Cholesky factor "+
			"pairs for batch of %d", len(scale), batch)
	}

	diff := make([]float64, n)
	for b := 0; b < batch; b++ {
		lOld, l := scaleOld[b], scale[b]

		// Mean term: ||lOld^-1 (mu - muOld)||^2.
		for j := 0; j < n; j++ {
			diff[j] = mu.At(b, j) - muOld.At(b, j)
		}
		y, err := forwardSolve(lOld, diff)
		if err != nil {
			return 0, 0, err
		}
		for _, v := range y {
			klMu += v * v
		}

		// log det(Sigma)/det(SigmaOld) from the Cholesky diagonals.
		logDet := 0.0
		for j := 0; j < n; j++ {
			logDet += 2.0 * (math.Log(l.At(j, j)) - math.Log(lOld.At(j, j)))
		}

		// tr(Sigma^-1 SigmaOld) = ||l^-1 lOld||_F^2.
		trace := 0.0
		col := make([]float64, n)
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				col[i] = lOld.At(i, j)
			}
			x, err := forwardSolve(l, col)
			if err != nil {
				return 0, 0, err
			}
			for _, v := range x {
				trace += v * v
			}
		}

		klSigma += logDet - float64(n) + trace
	}

	klMu = 0.5 * klMu / float64(batch)
	klSigma = 0.5 * klSigma / float64(batch)
	return klMu, klSigma, nil
}

// forwardSolve solves the lower-triangular system l*x = b by forward
// substitution.
func forwardSolve(l *mat.TriDense, b []float64) ([]float64, error) {
	n := len(b)
	x := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= l.At(i, j) * x[j]
		}
		d := l.At(i, i)
		if d == 0 {
			return nil, errors.New("distribution: singular Cholesky factor")
		}
		x[i] = sum / d
	}
	return x, nil
}
