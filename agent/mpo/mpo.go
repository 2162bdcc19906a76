// Package mpo implements the maximum-a-posteriori policy-optimization
// agent. Each update alternates policy evaluation of a single critic
// against action samples from the slow policy, an E-step that solves a
// one-dimensional convex dual for the temperature weighting those
// samples, and an M-step that fits the policy to the weighted samples
// under decoupled mean and covariance divergence penalties whose
// multipliers follow a dual ascent.
package mpo

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/agentzoo/agentzoo/agent"
	"github.com/agentzoo/agentzoo/distribution"
	"github.com/agentzoo/agentzoo/environment"
	"github.com/agentzoo/agentzoo/expreplay"
	"github.com/agentzoo/agentzoo/network"
	"github.com/agentzoo/agentzoo/solver"
)

// etaFloor keeps the dual temperature strictly positive.
const etaFloor = 1e-6

// Config holds the MPO hyperparameters. Zero values are replaced by
// defaults in validate.
type Config struct {
	// Width is the hidden layer width of actor and critic.
	Width int

	// LearningRate is the Adam step size for both networks.
	LearningRate float64

	// Tau is the Polyak averaging constant for the target networks.
	Tau float64

	// EpsilonDual bounds the E-step divergence, setting the dual
	// temperature's tightness.
	EpsilonDual float64

	// EpsilonKLMu bounds the mean term of the decoupled divergence.
	EpsilonKLMu float64

	// EpsilonKLSigma bounds the covariance term of the decoupled
	// divergence.
	EpsilonKLSigma float64

	// Alpha is the dual ascent step size for both divergence
	// multipliers.
	Alpha float64

	// SampleActions is the number of policy samples per state in
	// policy evaluation and the E-step.
	SampleActions int

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
	if c.EpsilonDual == 0 {
		c.EpsilonDual = 0.1
	}
	if c.EpsilonDual < 0 {
		return &agent.ConfigurationError{Field: "EpsilonDual",
			Reason: "must be positive"}
	}
	if c.EpsilonKLMu == 0 {
		c.EpsilonKLMu = 0.01
	}
	if c.EpsilonKLMu < 0 {
		return &agent.ConfigurationError{Field: "EpsilonKLMu",
			Reason: "must be positive"}
	}
	if c.EpsilonKLSigma == 0 {
		c.EpsilonKLSigma = 0.01
	}
	if c.EpsilonKLSigma < 0 {
		return &agent.ConfigurationError{Field: "EpsilonKLSigma",
			Reason: "must be positive"}
	}
	if c.Alpha == 0 {
		c.Alpha = 10
	}
	if c.Alpha < 0 {
		return &agent.ConfigurationError{Field: "Alpha",
			Reason: "must be positive"}
	}
	if c.SampleActions == 0 {
		c.SampleActions = 64
	}
	if c.SampleActions < 1 {
		return &agent.ConfigurationError{Field: "SampleActions",
			Reason: "must be at least 1"}
	}
	return nil
}

// MPO is the maximum-a-posteriori policy-optimization agent.
type MPO struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act       *network.MPOActor
	actTarget *network.MPOActor
	cri       *network.Critic
	criTarget *network.Critic

	actOptim solver.Solver
	criOptim solver.Solver

	// dual variables persisted across updates
	eta        float64
	etaKLMu    float64
	etaKLSigma float64
}

var _ agent.Agent = (*MPO)(nil)

// New returns an MPO agent.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*MPO,
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
	act, err := network.NewMPOActor(cfg.Width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}
	cri, err := network.NewCritic(cfg.Width, stateDim, actionDim, rng)
	if err != nil {
		return nil, err
	}

	return &MPO{
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
		eta:       1,
	}, nil
}

// SelectAction samples one stochastic action from the policy.
func (m *MPO) SelectAction(state []float64) []float64 {
	action, err := m.act.Act(state)
	if err != nil {
		// sampling fails only on malformed network output; surface it
		// loudly rather than acting on garbage
		m.Log.Error().Err(err).Msg("action sampling failed")
		return make([]float64, m.actionDim)
	}
	return action
}

// ExploreEnv collects targetStep transitions into buf.
func (m *MPO) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return m.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		m.SelectAction)
}

// UpdateNet performs floor(targetStep * repeat) evaluation, E-step and
// M-step rounds and records objC, lossPi, estQ, klMu, klSigma and eta.
func (m *MPO) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	steps := int(float64(targetStep) * repeat)

	var objC, lossPi, estQ, klMu, klSigma float64
	for step := 0; step < steps; step++ {
		batch, err := buf.SampleBatch(batchSize)
		if err != nil {
			return nil, err
		}

		objC, estQ, err = m.policyEvaluation(buf, batch, step)
		if err != nil {
			return nil, err
		}
		if err := network.SoftUpdate(m.criTarget, m.cri,
			m.Tau); err != nil {
			return nil, err
		}

		oldDist, sampled, targetQ, err := m.eStep(batch.State)
		if err != nil {
			return nil, err
		}
		weights := m.sampleWeights(targetQ)

		lossPi, klMu, klSigma, err = m.mStep(batch.State, oldDist,
			sampled, weights, step)
		if err != nil {
			return nil, err
		}
		if err := network.SoftUpdate(m.actTarget, m.act,
			m.Tau); err != nil {
			return nil, err
		}
	}

	m.RecordMetric("objC", objC)
	m.RecordMetric("lossPi", lossPi)
	m.RecordMetric("estQ", estQ)
	m.RecordMetric("klMu", klMu)
	m.RecordMetric("klSigma", klSigma)
	m.RecordMetric("eta", m.eta)
	return m.Record(), nil
}

// policyEvaluation fits the critic to r + mask * mean_k
// q_target(s', a'_k) with next actions sampled from the slow policy.
// It returns the critic loss and the mean label.
func (m *MPO) policyEvaluation(buf expreplay.Buffer,
	batch *expreplay.Batch, step int) (float64, float64, error) {
	n, _ := batch.State.Dims()
	k := m.cfg.SampleActions

	nextDist, err := m.actTarget.Distribution(batch.Next)
	if err != nil {
		return 0, 0, err
	}
	nextActions := nextDist.Sample(k, rand.NewSource(m.Rng.Uint64()))

	meanQ := make([]float64, n)
	for _, actions := range nextActions {
		q := m.criTarget.Forward(batch.Next, actions)
		for i := 0; i < n; i++ {
			meanQ[i] += q.At(i, 0) / float64(k)
		}
	}

	label := mat.NewDense(n, 1, nil)
	labelMean := 0.0
	for i := 0; i < n; i++ {
		v := batch.Reward.AtVec(i) + batch.Mask.AtVec(i)*meanQ[i]
		label.Set(i, 0, v)
		labelMean += v / float64(n)
	}

	q := m.cri.Forward(batch.State, batch.Action)
	var loss float64
	var grad *mat.Dense
	if batch.Weights != nil {
		loss, grad = agent.SmoothL1.Weighted(q, label, batch.Weights)
	} else {
		loss, grad = agent.SmoothL1.Mean(q, label)
	}
	if err := agent.CheckFiniteScalar(step, "critic loss",
		loss); err != nil {
		return 0, 0, err
	}

	m.cri.ZeroGrad()
	m.cri.Backward(grad)
	m.criOptim.Step(m.cri.Learnables())

	if m.cfg.UsePER && batch.Indices != nil {
		tdErr := make([]float64, n)
		for i := 0; i < n; i++ {
			tdErr[i] = math.Abs(label.At(i, 0) - q.At(i, 0))
		}
		buf.UpdatePriorities(batch.Indices, tdErr)
	}
	return loss, labelMean, nil
}

// eStep samples actions from the slow policy at the batch states,
// scores them with the slow critic, and solves the temperature dual.
func (m *MPO) eStep(states *mat.Dense) (*distribution.Diagonal,
	[]*mat.Dense, *mat.Dense, error) {
	n, _ := states.Dims()
	k := m.cfg.SampleActions

	oldDist, err := m.actTarget.Distribution(states)
	if err != nil {
		return nil, nil, nil, err
	}
	sampled := oldDist.Sample(k, rand.NewSource(m.Rng.Uint64()))

	targetQ := mat.NewDense(k, n, nil)
	for ki, actions := range sampled {
		q := m.criTarget.Forward(states, actions)
		for i := 0; i < n; i++ {
			targetQ.Set(ki, i, q.At(i, 0))
		}
	}

	if err := m.solveDual(targetQ); err != nil {
		return nil, nil, nil, err
	}
	return oldDist, sampled, targetQ, nil
}

// solveDual minimizes the E-step dual
//
//	g(eta) = eta*eps + mean_i max_k q + eta*mean_i log mean_k
//	         exp((q - max_k q)/eta)
//
// over eta > 0, warm-started from the previous solution. The search
// runs over log eta so the positivity constraint disappears.
func (m *MPO) solveDual(targetQ *mat.Dense) error {
	k, n := targetQ.Dims()

	maxQ := make([]float64, n)
	for i := 0; i < n; i++ {
		maxQ[i] = targetQ.At(0, i)
		for ki := 1; ki < k; ki++ {
			if v := targetQ.At(ki, i); v > maxQ[i] {
				maxQ[i] = v
			}
		}
	}

	dual := func(x []float64) float64 {
		eta := math.Exp(x[0])
		if eta < etaFloor {
			eta = etaFloor
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			inner := 0.0
			for ki := 0; ki < k; ki++ {
				inner += math.Exp((targetQ.At(ki, i) - maxQ[i]) / eta)
			}
			sum += maxQ[i] + eta*math.Log(inner/float64(k))
		}
		return eta*m.cfg.EpsilonDual + sum/float64(n)
	}

	problem := optimize.Problem{Func: dual}
	result, err := optimize.Minimize(problem,
		[]float64{math.Log(m.eta)}, nil, &optimize.NelderMead{})
	if err != nil {
		return errors.Wrap(err, "temperature dual")
	}

	m.eta = math.Exp(result.X[0])
	if m.eta < etaFloor {
		m.eta = etaFloor
	}
	return nil
}

// sampleWeights returns the softmax of targetQ/eta over the sample
// axis.
func (m *MPO) sampleWeights(targetQ *mat.Dense) *mat.Dense {
	k, n := targetQ.Dims()
	weights := mat.NewDense(k, n, nil)
	for i := 0; i < n; i++ {
		max := targetQ.At(0, i)
		for ki := 1; ki < k; ki++ {
			if v := targetQ.At(ki, i); v > max {
				max = v
			}
		}
		total := 0.0
		for ki := 0; ki < k; ki++ {
			w := math.Exp((targetQ.At(ki, i) - max) / m.eta)
			weights.Set(ki, i, w)
			total += w
		}
		for ki := 0; ki < k; ki++ {
			weights.Set(ki, i, weights.At(ki, i)/total)
		}
	}
	return weights
}

// mStep fits the policy to the weighted samples by ascending the sum
// of the sample log-likelihoods under the current and the slow policy,
// penalized by the decoupled divergence with dual-ascended multipliers.
// The slow-policy term is constant in the parameters and contributes
// only to the reported loss.
func (m *MPO) mStep(states *mat.Dense, oldDist *distribution.Diagonal,
	sampled []*mat.Dense, weights *mat.Dense,
	step int) (float64, float64, float64, error) {
	n, _ := states.Dims()
	k := len(sampled)
	total := float64(k * n)

	newDist, err := m.act.Distribution(states)
	if err != nil {
		return 0, 0, 0, err
	}
	mu, std := newDist.Mean(), newDist.Std()
	muOld, stdOld := oldDist.Mean(), oldDist.Std()

	// weighted likelihood of the samples under the current and slow
	// policies, and its gradients on the current mu and std
	lossPi := 0.0
	dMu := mat.NewDense(n, m.actionDim, nil)
	dStd := mat.NewDense(n, m.actionDim, nil)
	for ki := 0; ki < k; ki++ {
		actions := sampled[ki]
		for i := 0; i < n; i++ {
			w := weights.At(ki, i)
			for j := 0; j < m.actionDim; j++ {
				a := actions.At(i, j)
				sOld := stdOld.At(i, j)
				s := std.At(i, j)
				diffNew := a - mu.At(i, j)
				diffOld := a - muOld.At(i, j)

				lpNew := -logSqrt2Pi - math.Log(s) -
					0.5*diffNew*diffNew/(s*s)
				lpOld := -logSqrt2Pi - math.Log(sOld) -
					0.5*diffOld*diffOld/(sOld*sOld)
				lossPi += w * (lpNew + lpOld) / total

				dMu.Set(i, j, dMu.At(i, j)+
					w*diffNew/(s*s)/total)
				dStd.Set(i, j, dStd.At(i, j)+
					w*(-1/s+diffNew*diffNew/(s*s*s))/total)
			}
		}
	}

	klMu, klSigma, err := m.decoupledKL(oldDist, newDist)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := agent.CheckFiniteScalar(step, "divergence mean term",
		klMu); err != nil {
		return 0, 0, 0, err
	}
	if err := agent.CheckFiniteScalar(step, "divergence covariance term",
		klSigma); err != nil {
		return 0, 0, 0, err
	}

	// un-projected dual ascent on the multipliers, then clamping
	m.etaKLMu -= m.cfg.Alpha * (m.cfg.EpsilonKLMu - klMu)
	m.etaKLSigma -= m.cfg.Alpha * (m.cfg.EpsilonKLSigma - klSigma)
	if m.etaKLMu < 0 {
		m.etaKLMu = 0
	}
	if m.etaKLSigma < 0 {
		m.etaKLSigma = 0
	}

	// descend -(lossPi + etaMu*(epsMu - klMu) + etaSigma*(epsSigma -
	// klSigma)): the likelihood gradient is negated and the divergence
	// gradients enter scaled by their multipliers
	batchF := float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j < m.actionDim; j++ {
			sOld := stdOld.At(i, j)
			s := std.At(i, j)

			gMu := -dMu.At(i, j) + m.etaKLMu*
				(mu.At(i, j)-muOld.At(i, j))/(sOld*sOld)/batchF
			gStd := -dStd.At(i, j) + m.etaKLSigma*
				(1/s)*(1-sOld*sOld/(s*s))/batchF

			dMu.Set(i, j, gMu)
			dStd.Set(i, j, gStd)
		}
	}

	m.act.ZeroGrad()
	m.act.BackwardDistribution(dMu, dStd)
	m.actOptim.Step(m.act.Learnables())
	return lossPi, klMu, klSigma, nil
}

// decoupledKL evaluates the decoupled divergence between the slow and
// current policies through their Cholesky factors.
func (m *MPO) decoupledKL(oldDist,
	newDist *distribution.Diagonal) (float64, float64, error) {
	n, _ := oldDist.Dims()
	scaleOld := make([]*mat.TriDense, n)
	scale := make([]*mat.TriDense, n)
	for i := 0; i < n; i++ {
		scaleOld[i] = oldDist.ScaleTril(i)
		scale[i] = newDist.ScaleTril(i)
	}
	return distribution.DecoupledKL(oldDist.Mean(), newDist.Mean(),
		scaleOld, scale)
}

const logSqrt2Pi = 0.9189385332046727

// Save persists the actor and critic parameters.
func (m *MPO) Save(dir string) error {
	if err := m.SaveNet(dir, agent.ActorCheckpoint,
		m.act.Learnables()); err != nil {
		return err
	}
	return m.SaveNet(dir, agent.CriticCheckpoint, m.cri.Learnables())
}

// Load restores actor and critic parameters and re-synchronizes the
// target copies.
func (m *MPO) Load(dir string) error {
	if err := m.LoadNet(dir, agent.ActorCheckpoint,
		m.act.Learnables()); err != nil {
		return err
	}
	if err := m.LoadNet(dir, agent.CriticCheckpoint,
		m.cri.Learnables()); err != nil {
		return err
	}
	if err := network.HardUpdate(m.actTarget, m.act); err != nil {
		return err
	}
	return network.HardUpdate(m.criTarget, m.cri)
}
