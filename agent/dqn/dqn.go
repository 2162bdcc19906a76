// Package dqn implements the value-based agent family for discrete
// action spaces: the plain deep Q-network, its dueling topology, the
// twin-head variant and the combination of both. All four share one
// TD(0) update loop against a Polyak-averaged target network; the twin
// variants combine their heads through a minimum when building labels
// and explore by sampling from a softmax over action values instead of
// an epsilon-greedy branch.
package dqn

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

// DQN is a value-based agent. The critic doubles as the acting policy,
// so act and cri reference the same network value.
type DQN struct {
	agent.Core

	cfg       Config
	stateDim  int
	actionDim int

	act       network.QNetwork // alias of cri, the greedy policy
	cri       network.QNetwork
	criTarget network.QNetwork
	criOptim  solver.Solver

	// twin views of cri and criTarget, non-nil for twin variants
	twin       network.TwinQNetwork
	twinTarget network.TwinQNetwork
}

var _ agent.Agent = (*DQN)(nil)

// New returns a value-based agent for the configured variant.
func New(stateDim, actionDim int, cfg Config, seed uint64) (*DQN,
	error) {
	if stateDim < 1 {
		return nil, &agent.DimensionMismatchError{What: "state dimension",
			Got: stateDim}
	}
	if actionDim < 2 {
		return nil, &agent.DimensionMismatchError{
			What: "discrete action count", Got: actionDim}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	var cri network.QNetwork
	var err error
	switch cfg.Variant {
	case Plain:
		cri, err = network.NewQNet(cfg.Width, stateDim, actionDim, rng)
	case Dueling:
		cri, err = network.NewDuelingQNet(cfg.Width, stateDim, actionDim,
			rng)
	case Double:
		cri, err = network.NewTwinQNet(cfg.Width, stateDim, actionDim,
			rng)
	case D3:
		cri, err = network.NewTwinDuelingQNet(cfg.Width, stateDim,
			actionDim, rng)
	}
	if err != nil {
		return nil, err
	}

	d := &DQN{
		Core:      agent.NewCore(cfg.Tau, seed+1),
		cfg:       cfg,
		stateDim:  stateDim,
		actionDim: actionDim,
		act:       cri,
		cri:       cri,
		criTarget: cri.CloneQ(),
		criOptim:  solver.NewDefaultAdam(cfg.LearningRate),
	}
	if cfg.Variant.twin() {
		d.twin = cri.(network.TwinQNetwork)
		d.twinTarget = d.criTarget.(network.TwinQNetwork)
	}
	return d, nil
}

// SelectAction returns a single-element slice holding the chosen
// action index. Plain and dueling agents take a uniform random action
// with probability ExploreRate and the greedy action otherwise; twin
// agents sample from a softmax over action values with probability
// ExploreRate.
func (d *DQN) SelectAction(state []float64) []float64 {
	q := d.act.Forward(mat.NewDense(1, d.stateDim, state))

	var idx int
	if d.Rng.Float64() < d.cfg.ExploreRate {
		if d.cfg.Variant.twin() {
			idx = d.softmaxSample(q.RawRowView(0))
		} else {
			idx = d.Rng.Intn(d.actionDim)
		}
	} else {
		idx = argmaxRow(q, 0)
	}
	return []float64{float64(idx)}
}

func (d *DQN) softmaxSample(q []float64) int {
	max := q[0]
	for _, v := range q[1:] {
		if v > max {
			max = v
		}
	}
	total := 0.0
	probs := make([]float64, len(q))
	for i, v := range q {
		probs[i] = math.Exp(v - max)
		total += probs[i]
	}

	u := d.Rng.Float64() * total
	acc := 0.0
	for i, p := range probs {
		acc += p
		if u < acc {
			return i
		}
	}
	return len(q) - 1
}

// ExploreEnv collects targetStep transitions into buf.
func (d *DQN) ExploreEnv(env environment.Environment,
	buf expreplay.Buffer, targetStep int, rewardScale,
	gamma float64) (int, error) {
	return d.ExploreLoop(env, buf, targetStep, rewardScale, gamma,
		d.SelectAction)
}

// UpdateNet performs floor(targetStep * repeat) TD updates from
// batches sampled out of buf, soft-updating the target network after
// every step. It records the last critic loss as objC and the mean
// taken-action value as objA.
func (d *DQN) UpdateNet(buf expreplay.Buffer, targetStep, batchSize int,
	repeat float64) (agent.Record, error) {
	steps := int(float64(targetStep) * repeat)
	crit := d.cfg.criterion()

	var objC, objA float64
	for step := 0; step < steps; step++ {
		batch, err := buf.SampleBatch(batchSize)
		if err != nil {
			return nil, err
		}

		label := d.tdLabel(batch)
		var loss float64
		var qMean float64
		if d.cfg.Variant.twin() {
			loss, qMean, err = d.twinStep(buf, batch, label, crit, step)
		} else {
			loss, qMean, err = d.singleStep(batch, label, crit, step)
		}
		if err != nil {
			return nil, err
		}

		d.criOptim.Step(d.cri.Learnables())
		if err := network.SoftUpdate(d.criTarget, d.cri,
			d.Tau); err != nil {
			return nil, err
		}

		objC = loss
		objA = qMean
	}

	d.RecordMetric("objC", objC)
	d.RecordMetric("objA", objA)
	return d.Record(), nil
}

// tdLabel builds r + mask * max_a q_target(s', a), with twin variants
// taking the elementwise minimum of both target heads before the
// maximum over actions.
func (d *DQN) tdLabel(batch *expreplay.Batch) *mat.Dense {
	n, _ := batch.Next.Dims()

	var nextQ *mat.Dense
	if d.cfg.Variant.twin() {
		q1, q2 := d.twinTarget.Q1Q2(batch.Next)
		nextQ = q1
		for i := 0; i < n; i++ {
			for j := 0; j < d.actionDim; j++ {
				if v := q2.At(i, j); v < nextQ.At(i, j) {
					nextQ.Set(i, j, v)
				}
			}
		}
	} else {
		nextQ = d.criTarget.Forward(batch.Next)
	}

	label := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := nextQ.At(i, argmaxRow(nextQ, i))
		label.Set(i, 0, batch.Reward.AtVec(i)+batch.Mask.AtVec(i)*best)
	}
	return label
}

func (d *DQN) singleStep(batch *expreplay.Batch, label *mat.Dense,
	crit agent.Criterion, step int) (float64, float64, error) {
	n, _ := batch.State.Dims()

	q := d.cri.Forward(batch.State)
	pred := gatherActions(q, batch.Action)

	var loss float64
	var grad *mat.Dense
	if batch.Weights != nil {
		loss, grad = crit.Weighted(pred, label, batch.Weights)
	} else {
		loss, grad = crit.Mean(pred, label)
	}
	if err := agent.CheckFiniteScalar(step, "critic loss",
		loss); err != nil {
		return 0, 0, err
	}

	d.cri.ZeroGrad()
	d.cri.Backward(scatterActions(grad, batch.Action, n, d.actionDim))
	return loss, colMean(pred), nil
}

func (d *DQN) twinStep(buf expreplay.Buffer, batch *expreplay.Batch,
	label *mat.Dense, crit agent.Criterion,
	step int) (float64, float64, error) {
	n, _ := batch.State.Dims()

	q1, q2 := d.twin.Q1Q2(batch.State)
	pred1 := gatherActions(q1, batch.Action)
	pred2 := gatherActions(q2, batch.Action)

	var loss1, loss2 float64
	var grad1, grad2 *mat.Dense
	if batch.Weights != nil {
		loss1, grad1 = crit.Weighted(pred1, label, batch.Weights)
		loss2, grad2 = crit.Weighted(pred2, label, batch.Weights)
	} else {
		loss1, grad1 = crit.Mean(pred1, label)
		loss2, grad2 = crit.Mean(pred2, label)
	}
	loss := loss1 + loss2
	if err := agent.CheckFiniteScalar(step, "critic loss",
		loss); err != nil {
		return 0, 0, err
	}

	d.cri.ZeroGrad()
	d.twin.BackwardQ1Q2(
		scatterActions(grad1, batch.Action, n, d.actionDim),
		scatterActions(grad2, batch.Action, n, d.actionDim))

	if d.cfg.UsePER && batch.Indices != nil {
		// refresh priorities from the min-head TD error
		tdErr := make([]float64, n)
		for i := 0; i < n; i++ {
			pred := math.Min(pred1.At(i, 0), pred2.At(i, 0))
			tdErr[i] = math.Abs(label.At(i, 0) - pred)
		}
		buf.UpdatePriorities(batch.Indices, tdErr)
	}
	return loss, colMean(pred1), nil
}

// Save persists the value network, which is both actor and critic,
// under both checkpoint names.
func (d *DQN) Save(dir string) error {
	if err := d.SaveNet(dir, agent.ActorCheckpoint,
		d.cri.Learnables()); err != nil {
		return err
	}
	return d.SaveNet(dir, agent.CriticCheckpoint, d.cri.Learnables())
}

// Load restores the value network and re-synchronizes the target copy.
func (d *DQN) Load(dir string) error {
	if err := d.LoadNet(dir, agent.CriticCheckpoint,
		d.cri.Learnables()); err != nil {
		return err
	}
	return network.HardUpdate(d.criTarget, d.cri)
}

func argmaxRow(m *mat.Dense, row int) int {
	_, cols := m.Dims()
	best := 0
	for j := 1; j < cols; j++ {
		if m.At(row, j) > m.At(row, best) {
			best = j
		}
	}
	return best
}

// gatherActions picks each row's value at the stored action index,
// returning a batch-by-one matrix.
func gatherActions(q, actions *mat.Dense) *mat.Dense {
	n, _ := q.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, q.At(i, int(actions.At(i, 0))))
	}
	return out
}

// scatterActions spreads a batch-by-one gradient back over the full
// action-value gradient, zero everywhere except the taken action.
func scatterActions(grad, actions *mat.Dense, n, actionDim int) *mat.Dense {
	out := mat.NewDense(n, actionDim, nil)
	for i := 0; i < n; i++ {
		out.Set(i, int(actions.At(i, 0)), grad.At(i, 0))
	}
	return out
}

func colMean(m *mat.Dense) float64 {
	n, _ := m.Dims()
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += m.At(i, 0)
	}
	return sum / float64(n)
}
