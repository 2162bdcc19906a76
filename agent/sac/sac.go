// Package sac implements the soft actor-critic agent and its modified
// form. Both run a tanh-squashed Gaussian policy against a twin critic
// and learn the entropy temperature alpha by gradient descent on its
// logarithm. The modified form scales its batch and step counts by the
// buffer fill ratio, tracks a moving average of the critic loss, and
// gates actor updates on how reliable that average says the critic is.
package sac

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

// Variant selects the update scheme.
type Variant int

const (
	// Standard is the plain soft actor-critic update.
	Standard Variant = iota
	// Modified adds fill-ratio scaling, the critic-loss moving
	// average and the two-timescale actor gate.
	Modified
)

// Config holds the SAC hyperparameters. Zero values are replaced by
// defaults in validate.
type Config struct {
	// Variant selects the update scheme.
	Variant Variant

	// Width is the hidden layer width of actor and critic.
	Width int

	// LearningRate is the Adam step size for all optimizers.
	LearningRate float64

	// Tau is the Polyak averaging constant for the target networks.
	Tau float64

	// TargetEntropyFactor scales the entropy target
	// factor * log(actionDim).
	TargetEntropyFactor float64

	// UsePER enables importance-weighted critic losses from a
	// prioritized buffer.
	UsePER bool
}

func (c *Config) validate() error {
	if c.Variant != Standard && c.Variant != Modified {
		return &agent.ConfigurationError{Field: "Variant",
			Reason: "unknown soft actor-critic variant"}
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
	if c.TargetEntropyFactor == 0 {
		c.TargetEntropyFactor = 1
	}
	return nil
}

// Bounds applied to the learned log temperature in the modified
// variant.
const (
	alphaLogMin = -20.0
	alphaLogMax = 2.0
)

// SAC is the soft actor-critic agent.
type SAC struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act       *network.GaussianActor
	cri       *network.TwinCritic
	criTarget *network.TwinCritic

	alphaLog      *network.Param // 1x1, alpha = exp(value)
	targetEntropy float64

	actOptim   solver.Solver
	criOptim   solver.Solver
	alphaOptim solver.Solver

	// critic-loss moving average driving the modified actor gate
	objCAvg float64
}

var _ agent.Agent = (*SAC)(nil)

// New returns a soft actor-critic agent for the configured variant.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*SAC,
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
	act, err := network.NewGaussianActor(cfg.Width, stateDim, actionDim,
		rng)
	if err != nil {
		return nil, err
	}
	cri, err := network.NewTwinCritic(cfg.Width, stateDim, actionDim,
		rng)
	if err != nil {
		return nil, err
	}

	s := &SAC{
		Core:      agent.NewCore(cfg.Tau, seed+1),
		cfg:       cfg,
		stateDim:  stateDim,
		actionDim: actionDim,
		act:       act,
		cri:       cri,
		criTarget: cri.Clone(),
		alphaLog: &network.Param{
			Name: "alpha_log",
			Value: mat.NewDense(1, 1,
				[]float64{-math.Log(float64(actionDim)) * math.E}),
			Grad: mat.NewDense(1, 1, nil),
		},
		targetEntropy: cfg.TargetEntropyFactor *
			math.Log(float64(actionDim)),
		actOptim:   solver.NewDefaultAdam(cfg.LearningRate),
		criOptim:   solver.NewDefaultAdam(cfg.LearningRate),
		alphaOptim: solver.NewDefaultAdam(cfg.LearningRate),
		objCAvg:    math.Sqrt(-math.Log(0.5)),
	}
	return s, nil
}

// SelectAction samples one stochastic action from the policy.
func (s *SAC) SelectAction(state []float64) []float64 {
	return s.act.Act(state)
}

// ExploreEnv collects targetStep transitions into buf.
func (s *SAC) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return s.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		s.SelectAction)
}

// UpdateNet runs the variant's update loop and records objC, objA and
// alpha.
func (s *SAC) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	if s.cfg.Variant == Modified {
		return s.updateModified(buf, targetStep, batchSize, repeat)
	}
	return s.updateStandard(buf, targetStep, batchSize, repeat)
}

func (s *SAC) updateStandard(buf expreplay.Buffer, targetStep,
	batchSize int, repeat float64) (agent.Record, error) {
	steps := int(float64(targetStep) * repeat)

	var objA, objC float64
	for step := 0; step < steps; step++ {
		batch, err := buf.SampleBatch(batchSize)
		if err != nil {
			return nil, err
		}

		loss, err := s.criticStep(buf, batch, step)
		if err != nil {
			return nil, err
		}
		if err := network.SoftUpdate(s.criTarget, s.cri,
			s.Tau); err != nil {
			return nil, err
		}

		piAction, logProb := s.act.SampleActionLogProb(batch.State)
		s.alphaStep(logProb, false)

		objA, err = s.actorStep(batch.State, piAction, logProb, 1.0,
			step)
		if err != nil {
			return nil, err
		}
		objC = loss
	}

	s.RecordMetric("objC", objC)
	s.RecordMetric("objA", objA)
	s.RecordMetric("alpha", s.alpha())
	return s.Record(), nil
}

func (s *SAC) updateModified(buf expreplay.Buffer, targetStep,
	batchSize int, repeat float64) (agent.Record, error) {
	k := 1.0 + float64(buf.Len())/float64(buf.MaxLen())
	scaledBatch := int(float64(batchSize) * k)
	trainSteps := int(float64(targetStep) * k * repeat)

	var objA float64
	updateA := 0
	for updateC := 1; updateC < trainSteps; updateC++ {
		batch, err := buf.SampleBatch(scaledBatch)
		if err != nil {
			return nil, err
		}

		loss, err := s.criticStep(buf, batch, updateC)
		if err != nil {
			return nil, err
		}
		s.objCAvg = 0.995*s.objCAvg + 0.0025*loss
		if err := network.SoftUpdate(s.criTarget, s.cri,
			s.Tau); err != nil {
			return nil, err
		}

		piAction, logProb := s.act.SampleActionLogProb(batch.State)
		s.alphaStep(logProb, true)

		reliableLambda := math.Exp(-s.objCAvg * s.objCAvg)
		if float64(updateA)/float64(updateC) < 1.0/(2.0-reliableLambda) {
			updateA++
			objA, err = s.actorStep(batch.State, piAction, logProb,
				reliableLambda, updateC)
			if err != nil {
				return nil, err
			}
		}
	}

	s.RecordMetric("objC", s.objCAvg)
	s.RecordMetric("objA", objA)
	s.RecordMetric("alpha", s.alpha())
	return s.Record(), nil
}

func (s *SAC) alpha() float64 {
	return math.Exp(s.alphaLog.Value.At(0, 0))
}

// criticStep fits both critic heads to the entropy-regularized label
// r + mask * (min q_target(s', a') + alpha * logprob(a')) with next
// actions resampled from the current policy. It returns the summed
// twin loss.
func (s *SAC) criticStep(buf expreplay.Buffer, batch *expreplay.Batch,
	step int) (float64, error) {
	n, _ := batch.State.Dims()
	alpha := s.alpha()

	nextAction, nextLogProb := s.act.SampleActionLogProb(batch.Next)
	nextQ := s.criTarget.MinQ(batch.Next, nextAction)

	label := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label.Set(i, 0, batch.Reward.AtVec(i)+batch.Mask.AtVec(i)*
			(nextQ.At(i, 0)+alpha*nextLogProb.At(i, 0)))
	}

	q1, q2 := s.cri.Q1Q2(batch.State, batch.Action)
	var loss1, loss2 float64
	var grad1, grad2 *mat.Dense
	if batch.Weights != nil {
		loss1, grad1 = agent.SmoothL1.Weighted(q1, label, batch.Weights)
		loss2, grad2 = agent.SmoothL1.Weighted(q2, label, batch.Weights)
	} else {
		loss1, grad1 = agent.SmoothL1.Mean(q1, label)
		loss2, grad2 = agent.SmoothL1.Mean(q2, label)
	}
	loss := loss1 + loss2
	if err := agent.CheckFiniteScalar(step, "critic loss",
		loss); err != nil {
		return 0, err
	}

	s.cri.ZeroGrad()
	s.cri.BackwardQ1Q2(grad1, grad2)
	s.criOptim.Step(s.cri.Learnables())

	if s.cfg.UsePER && batch.Indices != nil {
		tdErr := make([]float64, n)
		for i := 0; i < n; i++ {
			pred := math.Min(q1.At(i, 0), q2.At(i, 0))
			tdErr[i] = math.Abs(label.At(i, 0) - pred)
		}
		buf.UpdatePriorities(batch.Indices, tdErr)
	}
	return loss, nil
}

// alphaStep descends mean(alphaLog * (logprob - targetEntropy)), the
// log-probability term treated as a constant.
func (s *SAC) alphaStep(logProb *mat.Dense, clampAfter bool) {
	n, _ := logProb.Dims()
	grad := 0.0
	for i := 0; i < n; i++ {
		grad += logProb.At(i, 0) - s.targetEntropy
	}
	grad /= float64(n)

	s.alphaLog.Grad.Set(0, 0, grad)
	s.alphaOptim.Step([]*network.Param{s.alphaLog})
	s.alphaLog.Grad.Set(0, 0, 0)

	if clampAfter {
		v := s.alphaLog.Value.At(0, 0)
		if v < alphaLogMin {
			v = alphaLogMin
		} else if v > alphaLogMax {
			v = alphaLogMax
		}
		s.alphaLog.Value.Set(0, 0, v)
	}
}

// actorStep ascends mean(min q_target(s, a_pi) + alpha * logprob)
// scaled by lambda and returns the objective value before scaling.
// piAction and logProb must come from the actor's latest sampling call
// on states.
func (s *SAC) actorStep(states, piAction, logProb *mat.Dense,
	lambda float64, step int) (float64, error) {
	n, _ := states.Dims()
	alpha := s.alpha()

	q1, q2 := s.criTarget.Q1Q2(states, piAction)

	obj := 0.0
	dQ1 := mat.NewDense(n, 1, nil)
	dQ2 := mat.NewDense(n, 1, nil)
	dLogProb := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		v1, v2 := q1.At(i, 0), q2.At(i, 0)
		obj += math.Min(v1, v2) + alpha*logProb.At(i, 0)

		// ascend: negate the mean gradient, routing the value part
		// through whichever head attained the minimum
		g := -lambda / float64(n)
		if v1 <= v2 {
			dQ1.Set(i, 0, g)
		} else {
			dQ2.Set(i, 0, g)
		}
		dLogProb.Set(i, 0, g*alpha)
	}
	obj /= float64(n)
	if err := agent.CheckFiniteScalar(step, "actor objective",
		obj); err != nil {
		return 0, err
	}

	s.criTarget.ZeroGrad()
	dAction := s.criTarget.BackwardQ1Q2(dQ1, dQ2)
	s.act.ZeroGrad()
	s.act.Backward(dAction, dLogProb)
	s.actOptim.Step(s.act.Learnables())
	return obj, nil
}

// Save persists the actor and critic parameters.
func (s *SAC) Save(dir string) error {
	if err := s.SaveNet(dir, agent.ActorCheckpoint,
		s.act.Learnables()); err != nil {
		return err
	}
	return s.SaveNet(dir, agent.CriticCheckpoint, s.cri.Learnables())
}

// Load restores actor and critic parameters and re-synchronizes the
// target critic.
func (s *SAC) Load(dir string) error {
	if err := s.LoadNet(dir, agent.ActorCheckpoint,
		s.act.Learnables()); err != nil {
		return err
	}
	if err := s.LoadNet(dir, agent.CriticCheckpoint,
		s.cri.Learnables()); err != nil {
		return err
	}
	return network.HardUpdate(s.criTarget, s.cri)
}
