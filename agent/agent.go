// Package agent defines the lifecycle contract shared by every
// reinforcement-learning algorithm in this module, together with the
// pieces common to all of them: the training record, the loss
// criteria, the error taxonomy and the shared exploration and
// checkpointing machinery.
//
// An agent owns its function approximators and their optimizers. It
// selects actions, collects environment transitions into an external
// replay buffer, and performs fixed sequences of gradient updates from
// sampled batches, tracking slow-moving target copies by Polyak
// averaging.
package agent

import (
	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/expreplay"
)

// Record maps metric names to their latest scalar values. It is
// overwritten on every update call and must be treated as read-only by
// callers.
type Record map[string]float64

// Agent is the lifecycle contract every algorithm implements.
type Agent interface {
	// SelectAction maps one state (plus internal exploration
	// randomness) to one action. Discrete-action agents return a
	// single-element slice holding the action index.
	SelectAction(state []float64) []float64

	// ExploreEnv runs targetStep environment steps, appending each
	// scaled-reward transition to buf, and resetting the environment
	// on termination. It always accounts for targetStep steps.
	ExploreEnv(env environment.Environment, buf expreplay.Buffer,
		targetStep int, rewardScale, gamma float64) (int, error)

	// UpdateNet performs the algorithm's fixed count of sequential
	// gradient updates from batches sampled out of buf and returns the
	// training record.
	UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
		repeat float64) (Record, error)

	// Save persists actor and critic parameters under fixed filenames
	// in dir.
	Save(dir string) error

	// Load restores actor and critic parameters from dir. A missing
	// checkpoint file is reported and treated as a fresh start.
	Load(dir string) error

	// Record returns the latest training record.
	Record() Record
}

// Checkpoint filenames used by every agent.
const (
	ActorCheckpoint  = "actor.gob"
	CriticCheckpoint = "critic.gob"
)
