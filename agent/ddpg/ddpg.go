// Package ddpg implements the deterministic-policy-gradient agent for
// continuous action spaces. Exploration adds Ornstein-Uhlenbeck noise
// to the deterministic policy; the critic fits a single TD(0) label
// and the actor ascends the target critic's value of its own action.
// Both target networks are soft-updated on every gradient step.
package ddpg

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/agent"
	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/expreplay"
	"github.com/agentzoo/agentzoo/network"
	"github.com/agentzoo/agentzoo/noise"
	"github.com/agentzoo/agentzoo/solver"
)

// Config holds the DDPG hyperparameters. Zero values are replaced by
// defaults in validate.
type Config struct {
	// Width is the hidden layer width of actor and critic.
	Width int

	// LearningRate is the Adam step size for both networks.
	LearningRate float64

	// Tau is the Polyak averaging constant for the target networks.
	Tau float64

	// OUSigma scales the Ornstein-Uhlenbeck exploration noise.
	OUSigma float64

	// UsePER enables importance-weighted critic losses from a
	// prioritized buffer.
	UsePER bool
}

func (c *Config) validate() error {
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
	if c.OUSigma == 0 {
		c.OUSigma = 0.3
	}
	if c.OUSigma < 0 {
		return &agent.ConfigurationError{Field: "OUSigma",
			Reason: "must be positive"}
	}
	return nil
}

// DDPG is the deterministic-policy-gradient agent.
type DDPG struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act       *network.DeterministicActor
	actTarget *network.DeterministicActor
	cri       *network.Critic
	criTarget *network.Critic

	actOptim solver.Solver
	criOptim solver.Solver

	explore *noise.OrnsteinUhlenbeck
}

var _ agent.Agent = (*DDPG)(nil)

// New returns a DDPG agent.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*DDPG,
	error) {
	if stateDim < 1 {
		return nil, &agent.DimensionMismatchError{What: "state dimension",
			Got: stateDim}
	}
	if actionDim < 1 {
		return nil, &agent.DimensionMismatchError{
			What: "action dimension", Got: actionDim}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	act, err := network.NewDeterministicActor(cfg.Width, stateDim,
		actionDim, rng)
	if err != nil {
		return nil, err
	}
	cri, err := network.NewCritic(cfg.Width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}

	return &DDPG{
		Core:      agent.NewCore(cfg.Tau, seed+1),
		cfg:       cfg,
		stateDim:  stateDim,
		actionDim: actionDim,
		act:       act,
		actTarget: act.Clone(),
		cri:       cri,
		criTarget: cri.Clone(),
		actOptim:  solver.NewDefaultAdam(cfg.LearningRate),
		criOptim:  solver.NewDefaultAdam(cfg.LearningRate),
		explore:   noise.NewOrnsteinUhlenbeck(actionDim, cfg.OUSigma, seed+2),
	}, nil
}

// SelectAction returns the deterministic action perturbed by
// Ornstein-Uhlenbeck noise.
func (d *DDPG) SelectAction(state []float64) []float64 {
	action := d.act.Act(state)
	for i, n := range d.explore.Sample() {
		action[i] += n
	}
	return action
}

// ExploreEnv collects targetStep transitions into buf.
func (d *DDPG) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return d.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		d.SelectAction)
}

// UpdateNet performs floor(targetStep * repeat) paired critic and
// actor updates, soft-updating both targets after every step. The last
// critic loss is recorded as objC and the last actor objective, the
// mean target-critic value of the actor's own action, as objA.
func (d *DDPG) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	steps := int(float64(targetStep) * repeat)

	var objA, objC float64
	for step := 0; step < steps; step++ {
		batch, err := buf.SampleBatch(batchSize)
		if err != nil {
			return nil, err
		}
		n, _ := batch.State.Dims()

		// critic: fit r + mask * q_target(s', pi_target(s'))
		nextQ := d.criTarget.Forward(batch.Next,
			d.actTarget.Forward(batch.Next))
		label := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			label.Set(i, 0, batch.Reward.AtVec(i)+
				batch.Mask.AtVec(i)*nextQ.At(i, 0))
		}

		q := d.cri.Forward(batch.State, batch.Action)
		var loss float64
		var grad *mat.Dense
		if batch.Weights != nil {
			loss, grad = agent.SmoothL1.Weighted(q, label, batch.Weights)
		} else {
			loss, grad = agent.SmoothL1.Mean(q, label)
		}
		if err := agent.CheckFiniteScalar(step, "critic loss",
			loss); err != nil {
			return nil, err
		}
		d.cri.ZeroGrad()
		d.cri.Backward(grad)
		d.criOptim.Step(d.cri.Learnables())

		if d.cfg.UsePER && batch.Indices != nil {
			tdErr := make([]float64, n)
			for i := 0; i < n; i++ {
				diff := label.At(i, 0) - q.At(i, 0)
				if diff < 0 {
					diff = -diff
				}
				tdErr[i] = diff
			}
			buf.UpdatePriorities(batch.Indices, tdErr)
		}

		// actor: ascend q_target(s, pi(s)), so feed the negated mean
		// gradient back through the target critic to the action input;
		// the target's own parameters never see an optimizer
		piAction := d.act.Forward(batch.State)
		piQ := d.criTarget.Forward(batch.State, piAction)
		objA = colMean(piQ)

		dQ := constDense(n, 1, -1.0/float64(n))
		d.criTarget.ZeroGrad()
		dAction := d.criTarget.Backward(dQ)
		d.act.ZeroGrad()
		d.act.Backward(dAction)
		d.actOptim.Step(d.act.Learnables())

		if err := network.SoftUpdate(d.criTarget, d.cri,
			d.Tau); err != nil {
			return nil, err
		}
		if err := network.SoftUpdate(d.actTarget, d.act,
			d.Tau); err != nil {
			return nil, err
		}
		objC = loss
	}

	d.RecordMetric("objC", objC)
	d.RecordMetric("objA", objA)
	return d.Record(), nil
}

// Save persists the actor and critic parameters.
func (d *DDPG) Save(dir string) error {
	if err := d.SaveNet(dir, agent.ActorCheckpoint,
		d.act.Learnables()); err != nil {
		return err
	}
	return d.SaveNet(dir, agent.CriticCheckpoint, d.cri.Learnables())
}

// Load restores actor and critic parameters and re-synchronizes the
// target copies.
func (d *DDPG) Load(dir string) error {
	if err := d.LoadNet(dir, agent.ActorCheckpoint,
		d.act.Learnables()); err != nil {
		return err
	}
	if err := d.LoadNet(dir, agent.CriticCheckpoint,
		d.cri.Learnables()); err != nil {
		return err
	}
	if err := network.HardUpdate(d.actTarget, d.act); err != nil {
		return err
	}
	return network.HardUpdate(d.criTarget, d.cri)
}

func colMean(m *mat.Dense) float64 {
	n, _ := m.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += m.At(i, 0)
	}
	return sum / float64(n)
}

func constDense(r, c int, v float64) *mat.Dense {
	m := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			m.Set(i, j, v)
		}
	}
	return m
}
