// Package cartpole implements the classic cart-pole balancing task
// with a discrete two-action force.
package cartpole

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

const (
	gravity        = 9.81
	massCart       = 1.0
	massPole       = 0.1
	halfPoleLength = 0.5
	totalMass      = massCart + massPole
	poleMassLength = massPole * halfPoleLength
	force          = 10.0
	timeStep       = 0.02

	positionLimit = 2.4
	angleLimit    = 12.0 * math.Pi / 180.0

	// ObservationDims is the length of cart-pole state vectors:
	// position, velocity, angle, angular velocity.
	ObservationDims = 4

	// Actions is the number of discrete actions: push left, push
	// right.
	Actions = 2
)

// Cartpole is the cart-pole balancing environment. Episodes end when
// the cart leaves the track region, the pole falls past the angle
// limit, or the step limit is reached. Every step earns reward 1.
type Cartpole struct {
	state    [ObservationDims]float64
	steps    int
	maxSteps int
	rng      *rand.Rand
}

// New returns a new cart-pole environment with the given episode step
// limit.
func New(maxSteps int, seed uint64) *Cartpole {
	return &Cartpole{
		maxSteps: maxSteps,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Reset starts a new episode from a small uniformly random state.
func (c *Cartpole) Reset() ([]float64, error) {
	for i := range c.state {
		c.state[i] = c.rng.Float64()*0.1 - 0.05
	}
	c.steps = 0
	return c.observation(), nil
}

// Step applies the action (0 pushes left, 1 pushes right) and advances
// the physics by one Euler step.
func (c *Cartpole) Step(action []float64) ([]float64, float64, bool,
	error) {
	if len(action) != 1 {
		return nil, 0, false, errors.Errorf("cartpole: expected a single "+
			"action index, got %d values", len(action))
	}
	a := int(action[0])
	if a < 0 || a >= Actions {
		return nil, 0, false, errors.Errorf("cartpole: action index %d "+
			"out of range [0, %d)", a, Actions)
	}

	f := force
	if a == 0 {
		f = -force
	}

	x, xDot, theta, thetaDot := c.state[0], c.state[1], c.state[2], c.state[3]
	cosTheta, sinTheta := math.Cos(theta), math.Sin(theta)

	temp := (f + poleMassLength*thetaDot*thetaDot*sinTheta) / totalMass
	thetaAcc := (gravity*sinTheta - cosTheta*temp) /
		(halfPoleLength * (4.0/3.0 - massPole*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thetaAcc*cosTheta/totalMass

	c.state[0] = x + timeStep*xDot
	c.state[1] = xDot + timeStep*xAcc
	c.state[2] = theta + timeStep*thetaDot
	c.state[3] = thetaDot + timeStep*thetaAcc
	c.steps++

	fell := c.state[0] < -positionLimit || c.state[0] > positionLimit ||
		c.state[2] < -angleLimit || c.state[2] > angleLimit
	done := fell || c.steps >= c.maxSteps

	return c.observation(), 1.0, done, nil
}

// ObservationDim returns the state dimensionality.
func (c *Cartpole) ObservationDim() int { return ObservationDims }

// ActionDim returns the number of discrete actions.
func (c *Cartpole) ActionDim() int { return Actions }

func (c *Cartpole) observation() []float64 {
	obs := make([]float64, ObservationDims)
	copy(obs, c.state[:])
	return obs
}
