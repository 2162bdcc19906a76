package dqn

import (
	"github.com/agentzoo/agentzoo/agent"
)

// Variant selects which member of the value-based family an agent
// runs. The variants differ in network topology, exploration policy
// and label construction but share one update loop.
type Variant int

const (
	// Plain is the original deep Q-network.
	Plain Variant = iota
	// Dueling adds separate state-value and advantage streams.
	Dueling
	// Double adds twin value heads combined by a minimum.
	Double
	// D3 combines the dueling topology with twin heads.
	D3
)

func (v Variant) twin() bool {
	return v == Double || v == D3
}

// Config holds the value-based family hyperparameters. Zero values are
// replaced by defaults in validate.
type Config struct {
	// Variant selects the family member.
	Variant Variant

	// Width is the hidden layer width of the value network.
	Width int

	// LearningRate is the Adam step size.
	LearningRate float64

	// Tau is the Polyak averaging constant for the target network.
	Tau float64

	// ExploreRate is the probability of taking the exploratory branch
	// of action selection.
	ExploreRate float64

	// UsePER enables prioritized replay: the critic objective is
	// importance-weighted and twin variants push TD errors back to the
	// buffer.
	UsePER bool
}

func (c *Config) validate() error {
	if c.Variant < Plain || c.Variant > D3 {
		return &agent.ConfigurationError{Field: "Variant",
			Reason: "unknown value-based variant"}
	}
	if c.Width == 0 {
		c.Width = 256
	}
	if c.Width < 0 {
		return &agent.ConfigurationError{Field: "Width",
			Reason: "must be positive"}
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-4
	}
	if c.LearningRate < 0 {
		return &agent.ConfigurationError{Field: "LearningRate",
			Reason: "must be positive"}
	}
	if c.Tau == 0 {
		c.Tau = 1.0 / 256.0
	}
	if c.Tau < 0 || c.Tau > 1 {
		return &agent.ConfigurationError{Field: "Tau",
			Reason: "must lie in (0, 1]"}
	}
	if c.ExploreRate == 0 {
		if c.Variant == Plain {
			c.ExploreRate = 0.1
		} else {
			c.ExploreRate = 0.25
		}
	}
	if c.ExploreRate < 0 || c.ExploreRate > 1 {
		return &agent.ConfigurationError{Field: "ExploreRate",
			Reason: "must lie in [0, 1]"}
	}
	return nil
}

// criterion returns the regression loss the variant trains with.
func (c *Config) criterion() agent.Criterion {
	if c.Variant.twin() {
		return agent.SmoothL1
	}
	return agent.MSE
}
