package agent

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/expreplay"
	"github.com/agentzoo/agentzoo/network"
)

// Core carries the state every agent shares: the Polyak constant, the
// exploration RNG, the persistent environment state between
// exploration calls, the training record and a logger. Algorithm
// packages embed it.
type Core struct {
	Tau float64
	Rng *rand.Rand
	Log zerolog.Logger

	state  []float64
	record Record
}

// NewCore returns a Core with the given Polyak constant and a seeded
// exploration RNG. The logger discards output unless replaced.
func NewCore(tau float64, seed uint64) Core {
	return Core{
		Tau:    tau,
		Rng:    rand.New(rand.NewSource(seed)),
		Log:    zerolog.Nop(),
		record: Record{},
	}
}

// Record returns the latest training record. Callers must treat the
// returned map as read-only.
func (c *Core) Record() Record {
	return c.record
}

// RecordMetric stores the latest value of a training metric.
func (c *Core) RecordMetric(name string, value float64) {
	c.record[name] = value
}

// ExploreLoop runs the shared exploration loop: for targetStep
// iterations it selects an action, steps the environment, appends the
// transition with mask = 0 on termination and gamma otherwise, and
// resets the environment at episode ends. The environment state
// persists between calls. The returned count is always targetStep, an
// accounting value rather than a success flag.
func (c *Core) ExploreLoop(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale, gamma float64,
	selectAction func(state []float64) []float64) (int, error) {
	if c.state == nil {
		state, err := env.Reset()
		if err != nil {
			return 0, err
		}
		c.state = state
	}

	for i := 0; i < targetStep; i++ {
		action := selectAction(c.state)
		next, reward, done, err := env.Step(action)
		if err != nil {
			return 0, err
		}

		mask := gamma
		if done {
			mask = 0.0
		}
		if err := buf.Append(c.state, action, next, reward*rewardScale,
			mask); err != nil {
			return 0, err
		}

		if done {
			if c.state, err = env.Reset(); err != nil {
				return 0, err
			}
		} else {
			c.state = next
		}
	}
	return targetStep, nil
}

// SaveNet persists a parameter set under dir/name.
func (c *Core) SaveNet(dir, name string, params []*network.Param) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	if err := network.SaveLearnables(path, params); err != nil {
		return err
	}
	c.Log.Debug().Str("path", path).Msg("saved checkpoint")
	return nil
}

// LoadNet restores a parameter set from dir/name. A missing file is
// reported and skipped so that the agent starts fresh; any other
// failure is returned.
func (c *Core) LoadNet(dir, name string, params []*network.Param) error {
	path := filepath.Join(dir, name)
	err := network.LoadLearnables(path, params)
	if err == nil {
		c.Log.Info().Str("path", path).Msg("loaded checkpoint")
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		missing := &MissingCheckpointError{Path: path}
		c.Log.Warn().Err(missing).Msg("starting from fresh parameters")
		return nil
	}
	return err
}
