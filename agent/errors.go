package agent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ConfigurationError reports a required hyperparameter that is absent
// with no default, or set to an unusable value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration field %q invalid: %s", e.Field,
		e.Reason)
}

// DimensionMismatchError reports incompatible network or buffer
// dimensions detected at initialization.
type DimensionMismatchError struct {
	What string
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: %s = %d", e.What, e.Got)
}

// MissingCheckpointError reports a load request for an absent
// checkpoint file. It is non-fatal: agents report it and continue as a
// fresh start.
type MissingCheckpointError struct {
	Path string
}

func (e *MissingCheckpointError) Error() string {
	return fmt.Sprintf("checkpoint file %s not found", e.Path)
}

// NumericalInstabilityError reports a NaN or Inf appearing in a
// training quantity. Training steps never silently skip these, since
// doing so corrupts the reported training statistics; the external
// training loop catches the error and aborts with the offending step
// attached.
type NumericalInstabilityError struct {
	Step     int
	Quantity string
	Rows     int
	Cols     int
	Min      float64
	Max      float64
	Mean     float64
}

func (e *NumericalInstabilityError) Error() string {
	return fmt.Sprintf("numerical instability in %s at update step %d: "+
		"shape (%d, %d), min %v, max %v, mean %v", e.Quantity, e.Step,
		e.Rows, e.Cols, e.Min, e.Max, e.Mean)
}

// CheckFinite returns a NumericalInstabilityError if any element of m
// is NaN or Inf, summarizing the offending tensor.
func CheckFinite(step int, quantity string, m mat.Matrix) error {
	r, c := m.Dims()
	bad := false
	minV, maxV, sum := math.Inf(1), math.Inf(-1), 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				bad = true
			}
			minV = math.Min(minV, v)
			maxV = math.Max(maxV, v)
			sum += v
		}
	}
	if !bad {
		return nil
	}
	return &NumericalInstabilityError{
		Step:     step,
		Quantity: quantity,
		Rows:     r,
		Cols:     c,
		Min:      minV,
		Max:      maxV,
		Mean:     sum / float64(r*c),
	}
}

// CheckFiniteScalar returns a NumericalInstabilityError if v is NaN or
// Inf.
func CheckFiniteScalar(step int, quantity string, v float64) error {
	if !math.IsNaN(v) && !math.IsInf(v, 0) {
		return nil
	}
	return &NumericalInstabilityError{
		Step:     step,
		Quantity: quantity,
		Rows:     1,
		Cols:     1,
		Min:      v,
		Max:      v,
		Mean:     v,
	}
}
