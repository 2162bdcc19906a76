// Package bandit implements a single-step continuous-action task with
// a fixed optimal action. The reward is the negative L1 distance
// between the chosen action and the target, which makes learning
// progress easy to verify.
package bandit

import (
	"math"

	"github.com/pkg/errors"
)

// Continuous is a deterministic one-step environment over actions in
// [-1, 1]^n. Every episode is a single step; the state is constant.
type Continuous struct {
	target []float64
	obsDim int
}

// New returns a continuous bandit whose optimal action is target. The
// observation is a zero vector of length obsDim.
func New(obsDim int, target []float64) (*Continuous, error) {
	if obsDim <= 0 {
		return nil, errors.Errorf("bandit: nonpositive observation "+
			"dimension %d", obsDim)
	}
	if len(target) == 0 {
		return nil, errors.New("bandit: empty target action")
	}
	for _, v := range target {
		if v < -1 || v > 1 {
			return nil, errors.Errorf("bandit: target component %v outside "+
				"[-1, 1]", v)
		}
	}
	t := make([]float64, len(target))
	copy(t, target)
	return &Continuous{target: t, obsDim: obsDim}, nil
}

// Reset starts a new single-step episode.
func (c *Continuous) Reset() ([]float64, error) {
	return make([]float64, c.obsDim), nil
}

// Step scores the action against the target and ends the episode.
func (c *Continuous) Step(action []float64) ([]float64, float64, bool,
	error) {
	if len(action) != len(c.target) {
		return nil, 0, false, errors.Errorf("bandit: action has %d "+
			"dimensions, target has %d", len(action), len(c.target))
	}
	reward := 0.0
	for i, a := range action {
		reward -= math.Abs(a - c.target[i])
	}
	return make([]float64, c.obsDim), reward, true, nil
}

// ObservationDim returns the state dimensionality.
func (c *Continuous) ObservationDim() int { return c.obsDim }

// ActionDim returns the number of action dimensions.
func (c *Continuous) ActionDim() int { return len(c.target) }
