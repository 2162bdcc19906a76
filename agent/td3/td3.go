// Package td3 implements the twin-delayed deterministic-policy-
// gradient agent. It extends the deterministic-policy-gradient scheme
// with a twin critic whose heads are combined through a minimum when
// building labels, Gaussian smoothing noise on the target policy, and
// target networks that are only soft-updated every few gradient steps.
package td3

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/agent"
	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/expreplay"
	"github.com/agentzoo/agentzoo/network"
	"github.com/agentzoo/agentzoo/solver"
)

// Config holds the TD3 hyperparameters. Zero values are replaced by
// defaults in validate.
type Config struct {
	// Width is the hidden layer width of actor and critic.
	Width int

	// LearningRate is the Adam step size for both networks.
	LearningRate float64

	// Tau is the Polyak averaging constant for the target networks.
	Tau float64

	// ExploreNoise is the standard deviation of the Gaussian noise
	// added to actions during exploration.
	ExploreNoise float64

	// PolicyNoise is the standard deviation of the smoothing noise
	// added to target-policy actions when building labels.
	PolicyNoise float64

	// UpdateFreq is the number of gradient steps between target
	// network soft updates.
	UpdateFreq int

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
	if c.ExploreNoise == 0 {
		c.ExploreNoise = 0.1
	}
	if c.ExploreNoise < 0 {
		return &agent.ConfigurationError{Field: "ExploreNoise",
			Reason: "must be positive"}
	}
	if c.PolicyNoise == 0 {
		c.PolicyNoise = 0.2
	}
	if c.PolicyNoise < 0 {
		return &agent.ConfigurationError{Field: "PolicyNoise",
			Reason: "must be positive"}
	}
	if c.UpdateFreq == 0 {
		c.UpdateFreq = 2
	}
	if c.UpdateFreq < 1 {
		return &agent.ConfigurationError{Field: "UpdateFreq",
			Reason: "must be at least 1"}
	}
	return nil
}

// TD3 is the twin-delayed deterministic-policy-gradient agent.
type TD3 struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act       *network.DeterministicActor
	actTarget *network.DeterministicActor
	cri       *network.TwinCritic
	criTarget *network.TwinCritic

	actOptim solver.Solver
	criOptim solver.Solver
}

var _ agent.Agent = (*TD3)(nil)

// New returns a TD3 agent.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*TD3,
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
	cri, err := network.NewTwinCritic(cfg.Width, stateDim, actionDim,
		rng)
	if err != nil {
		return nil, err
	}

	return &TD3{
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
	}, nil
}

// SelectAction returns the deterministic action perturbed by Gaussian
// noise, clamped to the unit action box.
func (t *TD3) SelectAction(state []float64) []float64 {
	action := t.act.Act(state)
	for i := range action {
		action[i] += t.Rng.NormFloat64() * t.cfg.ExploreNoise
		action[i] = clamp(action[i], -1, 1)
	}
	return action
}

// ExploreEnv collects targetStep transitions into buf.
func (t *TD3) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return t.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		t.SelectAction)
}

// UpdateNet performs floor(targetStep * repeat) paired critic and
// actor updates. Optimizer steps run on every iteration; only the
// target soft updates are delayed to every UpdateFreq steps. It
// records half the summed twin loss as objC and the actor objective as
// objA.
func (t *TD3) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	steps := int(float64(targetStep) * repeat)

	var objA, objC float64
	for step := 0; step < steps; step++ {
		batch, err := buf.SampleBatch(batchSize)
		if err != nil {
			return nil, err
		}
		n, _ := batch.State.Dims()

		// smoothed target action for the label, noise clamped to
		// half the action range
		nextAction := t.actTarget.Forward(batch.Next)
		for i := 0; i < n; i++ {
			for j := 0; j < t.actionDim; j++ {
				noise := clamp(t.Rng.NormFloat64()*t.cfg.PolicyNoise,
					-0.5, 0.5)
				nextAction.Set(i, j,
					clamp(nextAction.At(i, j)+noise, -1, 1))
			}
		}

		nextQ := t.criTarget.MinQ(batch.Next, nextAction)
		label := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			label.Set(i, 0, batch.Reward.AtVec(i)+
				batch.Mask.AtVec(i)*nextQ.At(i, 0))
		}

		q1, q2 := t.cri.Q1Q2(batch.State, batch.Action)
		var loss1, loss2 float64
		var grad1, grad2 *mat.Dense
		if batch.Weights != nil {
			loss1, grad1 = agent.SmoothL1.Weighted(q1, label,
				batch.Weights)
			loss2, grad2 = agent.SmoothL1.Weighted(q2, label,
				batch.Weights)
		} else {
			loss1, grad1 = agent.SmoothL1.Mean(q1, label)
			loss2, grad2 = agent.SmoothL1.Mean(q2, label)
		}
		loss := loss1 + loss2
		if err := agent.CheckFiniteScalar(step, "critic loss",
			loss); err != nil {
			return nil, err
		}
		t.cri.ZeroGrad()
		t.cri.BackwardQ1Q2(grad1, grad2)
		t.criOptim.Step(t.cri.Learnables())

		if t.cfg.UsePER && batch.Indices != nil {
			tdErr := make([]float64, n)
			for i := 0; i < n; i++ {
				pred := math.Min(q1.At(i, 0), q2.At(i, 0))
				tdErr[i] = math.Abs(label.At(i, 0) - pred)
			}
			buf.UpdatePriorities(batch.Indices, tdErr)
		}

		// actor ascends the target critic's first head; the target's
		// own parameters never see an optimizer
		piAction := t.act.Forward(batch.State)
		piQ1, _ := t.criTarget.Q1Q2(batch.State, piAction)
		objA = colMean(piQ1)

		dQ1 := mat.NewDense(n, 1, nil)
		for i := 0; i < n; i++ {
			dQ1.Set(i, 0, -1.0/float64(n))
		}
		t.criTarget.ZeroGrad()
		dAction := t.criTarget.BackwardQ1Q2(dQ1, mat.NewDense(n, 1, nil))
		t.act.ZeroGrad()
		t.act.Backward(dAction)
		t.actOptim.Step(t.act.Learnables())

		if step%t.cfg.UpdateFreq == 0 {
			if err := network.SoftUpdate(t.criTarget, t.cri,
				t.Tau); err != nil {
				return nil, err
			}
			if err := network.SoftUpdate(t.actTarget, t.act,
				t.Tau); err != nil {
				return nil, err
			}
		}
		objC = loss / 2
	}

	t.RecordMetric("objC", objC)
	t.RecordMetric("objA", objA)
	return t.Record(), nil
}

// Save persists the actor and critic parameters.
func (t *TD3) Save(dir string) error {
	if err := t.SaveNet(dir, agent.ActorCheckpoint,
		t.act.Learnables()); err != nil {
		return err
	}
	return t.SaveNet(dir, agent.CriticCheckpoint, t.cri.Learnables())
}

// Load restores actor and critic parameters and re-synchronizes the
// target copies.
func (t *TD3) Load(dir string) error {
	if err := t.LoadNet(dir, agent.ActorCheckpoint,
		t.act.Learnables()); err != nil {
		return err
	}
	if err := t.LoadNet(dir, agent.CriticCheckpoint,
		t.cri.Learnables()); err != nil {
		return err
	}
	if err := network.HardUpdate(t.actTarget, t.act); err != nil {
		return err
	}
	return network.HardUpdate(t.criTarget, t.cri)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func colMean(m *mat.Dense) float64 {
	n, _ := m.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += m.At(i, 0)
	}
	return sum / float64(n)
}
