// Package environment defines the task interface that agents interact
// with while exploring.
package environment

// Environment is a sequential decision task. Discrete-action tasks
// receive a one-element action slice holding the action index;
// continuous-action tasks receive one value per action dimension,
// each in [-1, 1].
type Environment interface {
	// Reset starts a new episode and returns its first state.
	Reset() ([]float64, error)

	// Step applies an action and returns the next state, the reward,
	// and whether the episode terminated.
	Step(action []float64) (next []float64, reward float64, done bool,
		err error)

	// ObservationDim returns the length of state vectors.
	ObservationDim() int

	// ActionDim returns the number of discrete actions, or the number
	// of continuous action dimensions.
	ActionDim() int
}
