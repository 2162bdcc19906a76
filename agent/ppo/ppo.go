// Package ppo implements the proximal-policy-optimization agent. It
// is on-policy: each update consumes the whole trajectory collected
// since the last one, computes discounted returns and advantages by a
// reverse recursion (plain or generalized advantage estimation), and
// runs a fixed number of minibatch steps on the clipped surrogate
// objective plus an entropy term, jointly with the value-network
// regression through a single optimizer.
package ppo

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

// chunkSize bounds the per-call batch of the full-trajectory value
// forward pass.
const chunkSize = 1024

// Config holds the PPO hyperparameters. Zero values are replaced by
// defaults in validate.
type Config struct {
	// Width is the hidden layer width of actor and critic.
	Width int

	// LearningRate is the Adam step size of the joint optimizer.
	LearningRate float64

	// ClipEpsilon bounds the surrogate probability ratio to
	// [1-eps, 1+eps].
	ClipEpsilon float64

	// EntropyWeight scales the entropy term added to the surrogate.
	EntropyWeight float64

	// Lambda is the generalized-advantage-estimation decay.
	Lambda float64

	// PlainAdvantage disables generalized advantage estimation in
	// favor of the plain return-minus-value baseline.
	PlainAdvantage bool

	// UsePER is rejected: on-policy updates consume the whole
	// trajectory and cannot reweight by sampling priority.
	UsePER bool
}

func (c *Config) validate() error {
	if c.UsePER {
		return &agent.ConfigurationError{Field: "UsePER",
			Reason: "prioritized replay is incompatible with on-policy updates"}
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
	if c.ClipEpsilon == 0 {
		c.ClipEpsilon = 0.3
	}
	if c.ClipEpsilon < 0 || c.ClipEpsilon >= 1 {
		return &agent.ConfigurationError{Field: "ClipEpsilon",
			Reason: "must lie in (0, 1)"}
	}
	if c.EntropyWeight == 0 {
		c.EntropyWeight = 0.05
	}
	if c.EntropyWeight < 0 {
		return &agent.ConfigurationError{Field: "EntropyWeight",
			Reason: "must be positive"}
	}
	if c.Lambda == 0 {
		c.Lambda = 0.97
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return &agent.ConfigurationError{Field: "Lambda",
			Reason: "must lie in [0, 1]"}
	}
	return nil
}

// PPO is the proximal-policy-optimization agent.
type PPO struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act *network.PPOActor
	cri *network.ValueNet

	// one optimizer over the joint actor and critic learnable set
	optim solver.Solver
}

var _ agent.Agent = (*PPO)(nil)

// New returns a PPO agent. Configurations enabling prioritized replay
// are rejected.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*PPO,
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
	act, err := network.NewPPOActor(cfg.Width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}
	cri, err := network.NewValueNet(cfg.Width, stateDim, rng)
	if err != nil {
		return nil, err
	}

	return &PPO{
		Core:      agent.NewCore(0, seed+1),
		cfg:       cfg,
		stateDim:  stateDim,
		actionDim: actionDim,
		act:       act,
		cri:       cri,
		optim:     solver.NewDefaultAdam(cfg.LearningRate),
	}, nil
}

// SelectAction samples one stochastic action from the Gaussian policy.
func (p *PPO) SelectAction(state []float64) []float64 {
	return p.act.Act(state)
}

// ExploreEnv collects targetStep transitions into buf. The buffer
// should be cleared between updates; PPO consumes it whole.
func (p *PPO) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return p.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		p.SelectAction)
}

// UpdateNet consumes the whole stored trajectory and runs
// floor(repeat * len / batchSize) minibatch steps on the joint
// objective. It records objA, objC, objTot, aStd and entropy.
func (p *PPO) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	traj, err := buf.SampleAll()
	if err != nil {
		return nil, err
	}
	length, _ := traj.State.Dims()

	values := p.chunkedValues(traj.State)
	oldLogProb := p.act.LogProb(traj.State, traj.Action)
	oldLp := make([]float64, length)
	for i := 0; i < length; i++ {
		oldLp[i] = oldLogProb.At(i, 0)
	}

	rSum, adv := p.returnsAndAdvantages(traj, values)
	standardize(adv)

	iters := int(repeat * float64(length) / float64(batchSize))
	joint := append(p.act.Learnables(), p.cri.Learnables()...)

	var objA, objC, objTot, entropy float64
	for iter := 0; iter < iters; iter++ {
		mbStates := mat.NewDense(batchSize, p.stateDim, nil)
		mbActions := mat.NewDense(batchSize, p.actionDim, nil)
		mbRSum := make([]float64, batchSize)
		mbOldLp := make([]float64, batchSize)
		mbAdv := make([]float64, batchSize)
		for b := 0; b < batchSize; b++ {
			idx := p.Rng.Intn(length)
			mbStates.SetRow(b, traj.State.RawRowView(idx))
			mbActions.SetRow(b, traj.Action.RawRowView(idx))
			mbRSum[b] = rSum[idx]
			mbOldLp[b] = oldLp[idx]
			mbAdv[b] = adv[idx]
		}

		newLp := p.act.LogProb(mbStates, mbActions)
		value := p.cri.Forward(mbStates)

		n := float64(batchSize)
		dLogProb := mat.NewDense(batchSize, 1, nil)
		surr, ent := 0.0, 0.0
		for b := 0; b < batchSize; b++ {
			nl := newLp.At(b, 0)
			ratio := math.Exp(nl - mbOldLp[b])
			term, dRatio := surrogate(mbAdv[b], ratio,
				p.cfg.ClipEpsilon)
			surr += term
			grad := -dRatio * ratio / n

			// entropy term mean(prob * logprob) is added, pulling
			// log probabilities down
			ent += math.Exp(nl) * nl
			grad += p.cfg.EntropyWeight * math.Exp(nl) * (nl + 1) / n

			dLogProb.Set(b, 0, grad)
		}
		surr /= n
		ent /= n

		label := mat.NewDense(batchSize, 1, mbRSum)
		lossC, gradV := agent.SmoothL1.Mean(value, label)
		scale := stddev(mbRSum) + 1e-5
		gradV.Scale(1/scale, gradV)

		objTot = -surr + p.cfg.EntropyWeight*ent + lossC/scale
		if err := agent.CheckFiniteScalar(iter, "joint objective",
			objTot); err != nil {
			return nil, err
		}

		p.act.ZeroGrad()
		p.cri.ZeroGrad()
		p.act.BackwardLogProb(dLogProb)
		p.cri.Backward(gradV)
		p.optim.Step(joint)

		// the recorded actor metric is the surrogate loss, the
		// negated mean of the pointwise minimum
		objA = -surr
		objC = lossC
		entropy = -ent
	}

	p.RecordMetric("objA", objA)
	p.RecordMetric("objC", objC)
	p.RecordMetric("objTot", objTot)
	p.RecordMetric("aStd", p.act.StdMean())
	p.RecordMetric("entropy", entropy)
	return p.Record(), nil
}

// chunkedValues evaluates the value network over the full trajectory
// in fixed-size chunks.
func (p *PPO) chunkedValues(states *mat.Dense) []float64 {
	length, _ := states.Dims()
	values := make([]float64, length)
	for from := 0; from < length; from += chunkSize {
		to := from + chunkSize
		if to > length {
			to = length
		}
		chunk := states.Slice(from, to, 0, p.stateDim).(*mat.Dense)
		v := p.cri.Forward(mat.DenseCopyOf(chunk))
		for i := from; i < to; i++ {
			values[i] = v.At(i-from, 0)
		}
	}
	return values
}

// returnsAndAdvantages runs the reverse recursion over the trajectory.
// In the plain mode the advantage is the discounted return minus the
// masked value baseline; otherwise generalized advantage estimation
// with the configured decay.
func (p *PPO) returnsAndAdvantages(traj *expreplay.Batch,
	values []float64) (rSum, adv []float64) {
	length := len(values)
	rSum = make([]float64, length)
	adv = make([]float64, length)

	if p.cfg.PlainAdvantage {
		preR := 0.0
		for i := length - 1; i >= 0; i-- {
			rSum[i] = traj.Reward.AtVec(i) + traj.Mask.AtVec(i)*preR
			preR = rSum[i]
			adv[i] = rSum[i] - traj.Mask.AtVec(i)*values[i]
		}
		return rSum, adv
	}

	preR, preAdv := 0.0, 0.0
	for i := length - 1; i >= 0; i-- {
		r := traj.Reward.AtVec(i)
		m := traj.Mask.AtVec(i)
		rSum[i] = r + m*preR
		preR = rSum[i]
		adv[i] = r + m*preAdv - values[i]
		preAdv = values[i] + adv[i]*p.cfg.Lambda
	}
	return rSum, adv
}

// Save persists the actor and critic parameters.
func (p *PPO) Save(dir string) error {
	if err := p.SaveNet(dir, agent.ActorCheckpoint,
		p.act.Learnables()); err != nil {
		return err
	}
	return p.SaveNet(dir, agent.CriticCheckpoint, p.cri.Learnables())
}

// Load restores the actor and critic parameters.
func (p *PPO) Load(dir string) error {
	if err := p.LoadNet(dir, agent.ActorCheckpoint,
		p.act.Learnables()); err != nil {
		return err
	}
	return p.LoadNet(dir, agent.CriticCheckpoint, p.cri.Learnables())
}

func standardize(xs []float64) {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	sd := stddev(xs)
	for i := range xs {
		xs[i] = (xs[i] - mean) / (sd + 1e-5)
	}
}

func stddev(xs []float64) float64 {
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	if len(xs) < 2 {
		return 0
	}
	return math.Sqrt(variance / float64(len(xs)-1))
}

// surrogate returns the pointwise minimum of the plain and clipped
// surrogate terms for one sample, together with its derivative in the
// probability ratio. At the clip boundary the two terms coincide and
// the unclipped branch wins, so the gradient still flows there.
func surrogate(adv, ratio, eps float64) (term, dRatio float64) {
	s1 := adv * ratio
	s2 := adv * clamp(ratio, 1-eps, 1+eps)
	if s1 <= s2 {
		return s1, adv
	}
	return s2, 0
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
