package distribution

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func unitDiagonal(t *testing.T, batch, dims int) *Diagonal {
	t.Helper()
	std := mat.NewDense(batch, dims, nil)
	for i := 0; i < batch; i++ {
		for j := 0; j < dims; j++ {
			std.Set(i, j, 1)
		}
	}
	d, err := NewDiagonal(mat.NewDense(batch, dims, nil), std)
	require.NoError(t, err)
	return d
}

func TestNewDiagonalRejectsNonPositiveStd(t *testing.T) {
	std := mat.NewDense(1, 2, []float64{1, 0})
	_, err := NewDiagonal(mat.NewDense(1, 2, nil), std)
	assert.Error(t, err)
}

func TestLogProbStandardNormalAtMean(t *testing.T) {
	d := unitDiagonal(t, 1, 2)
	lp, err := d.LogProb(mat.NewDense(1, 2, nil))
	require.NoError(t, err)
	// Two independent standard normals at their mean.
	want := -2 * 0.5 * math.Log(2*math.Pi)
	assert.InDelta(t, want, lp.AtVec(0), 1e-12)
}

func TestLogProbShiftQuadratic(t *testing.T) {
	d := unitDiagonal(t, 1, 1)
	atMean, err := d.LogProb(mat.NewDense(1, 1, nil))
	require.NoError(t, err)
	shifted, err := d.LogProb(mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atMean.AtVec(0)-shifted.AtVec(0), 1e-12)
}

func TestEntropyClosedForm(t *testing.T) {
	std := mat.NewDense(1, 1, []float64{3})
	d, err := NewDiagonal(mat.NewDense(1, 1, nil), std)
	require.NoError(t, err)

	want := 0.5*math.Log(2*math.Pi*math.E) + math.Log(3)
	assert.InDelta(t, want, d.Entropy().AtVec(0), 1e-12)
}

func TestSampleMatchesMoments(t *testing.T) {
	mean := mat.NewDense(1, 1, []float64{5})
	std := mat.NewDense(1, 1, []float64{0.5})
	d, err := NewDiagonal(mean, std)
	require.NoError(t, err)

	samples := d.Sample(4000, rand.NewSource(3))
	sum := 0.0
	for _, s := range samples {
		sum += s.At(0, 0)
	}
	assert.InDelta(t, 5.0, sum/4000, 0.05)
}

func TestScaleTrilDiagonal(t *testing.T) {
	std := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	d, err := NewDiagonal(mat.NewDense(2, 2, nil), std)
	require.NoError(t, err)

	l := d.ScaleTril(1)
	assert.Equal(t, 3.0, l.At(0, 0))
	assert.Equal(t, 4.0, l.At(1, 1))
	assert.Equal(t, 0.0, l.At(1, 0))
}

func TestDecoupledKLZeroForIdentical(t *testing.T) {
	mu := mat.NewDense(1, 2, []float64{0.3, -0.7})
	scale := []*mat.TriDense{triDiag(1.5, 0.5)}

	klMu, klSigma, err := DecoupledKL(mu, mu, scale, scale)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, klMu, 1e-12)
	assert.InDelta(t, 0.0, klSigma, 1e-12)
}

func TestDecoupledKLMeanTerm(t *testing.T) {
	muOld := mat.NewDense(1, 1, nil)
	mu := mat.NewDense(1, 1, []float64{2})
	scale := []*mat.TriDense{triDiag(1)}

	klMu, klSigma, err := DecoupledKL(muOld, mu, scale, scale)
	require.NoError(t, err)
	// 0.5 * (2/1)^2
	assert.InDelta(t, 2.0, klMu, 1e-12)
	assert.InDelta(t, 0.0, klSigma, 1e-12)
}

func TestDecoupledKLCovarianceTerm(t *testing.T) {
	mu := mat.NewDense(1, 1, nil)
	old := []*mat.TriDense{triDiag(1)}
	cur := []*mat.TriDense{triDiag(2)}

	klMu, klSigma, err := DecoupledKL(mu, mu, old, cur)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, klMu, 1e-12)
	// 0.5 * (log 4 - 1 + 1/4)
	want := 0.5 * (math.Log(4) - 1 + 0.25)
	assert.InDelta(t, want, klSigma, 1e-12)
}

func TestDecoupledKLRejectsShapeMismatch(t *testing.T) {
	muOld := mat.NewDense(1, 2, nil)
	mu := mat.NewDense(2, 2, nil)
	scale := []*mat.TriDense{triDiag(1, 1), triDiag(1, 1)}
	_, _, err := DecoupledKL(muOld, mu, scale, scale)
	assert.Error(t, err)
}

func triDiag(diag ...float64) *mat.TriDense {
	n := len(diag)
	l := mat.NewTriDense(n, mat.Lower, nil)
	for i, v := range diag {
		l.SetTri(i, i, v)
	}
	return l
}
