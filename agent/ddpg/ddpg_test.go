package ddpg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/agentzoo/agentzoo/agent"
	"github.com/agentzoo/agentzoo/environment/bandit"
	"github.com/agentzoo/agentzoo/expreplay"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	require.NoError(t, cfg.validate())
	assert.Equal(t, 0.3, cfg.OUSigma)
	assert.Equal(t, 1.0/256.0, cfg.Tau)
}

func TestNewRejectsBadConfig(t *testing.T) {
	var confErr *agent.ConfigurationError
	_, err := New(3, 2, Config{Tau: -1}, 1)
	assert.ErrorAs(t, err, &confErr)

	var dimErr *agent.DimensionMismatchError
	_, err = New(0, 2, Config{}, 1)
	assert.ErrorAs(t, err, &dimErr)
}

func TestSelectActionPerturbsPolicy(t *testing.T) {
	d, err := New(3, 2, Config{Width: 8}, 1)
	require.NoError(t, err)

	state := []float64{0.1, -0.2, 0.3}
	deterministic := d.act.Act(state)
	noisy := d.SelectAction(state)
	require.Len(t, noisy, 2)
	assert.NotEqual(t, deterministic, noisy)
}

func TestCriticLossDecreasesOnBandit(t *testing.T) {
	env, err := bandit.New(3, []float64{0.4, -0.6})
	require.NoError(t, err)
	d, err := New(3, 2, Config{Width: 16, LearningRate: 1e-2}, 7)
	require.NoError(t, err)
	buf, err := expreplay.NewUniform(4096, 3, 2, 11)
	require.NoError(t, err)

	_, err = d.ExploreEnv(env, buf, 512, 1.0, 0.99)
	require.NoError(t, err)

	// On the one-step bandit every label is the raw reward, so the
	// critic regression must make clear progress.
	early := 0.0
	late := 0.0
	for i := 0; i < 10; i++ {
		record, err := d.UpdateNet(buf, 20, 64, 1.0)
		require.NoError(t, err)
		if i < 3 {
			early += record["objC"]
		}
		if i >= 7 {
			late += record["objC"]
		}
	}
	assert.Less(t, late, early)
}

func TestUpdateNetRecordsMetrics(t *testing.T) {
	env, err := bandit.New(3, []float64{0.5})
	require.NoError(t, err)
	d, err := New(3, 1, Config{Width: 8}, 3)
	require.NoError(t, err)
	buf, err := expreplay.NewUniform(256, 3, 1, 5)
	require.NoError(t, err)

	_, err = d.ExploreEnv(env, buf, 64, 1.0, 0.99)
	require.NoError(t, err)
	record, err := d.UpdateNet(buf, 4, 16, 1.0)
	require.NoError(t, err)
	assert.Contains(t, record, "objC")
	assert.Contains(t, record, "objA")
}

func TestTargetTracksCurrent(t *testing.T) {
	env, err := bandit.New(2, []float64{0.1})
	require.NoError(t, err)
	d, err := New(2, 1, Config{Width: 8, Tau: 0.5}, 13)
	require.NoError(t, err)
	buf, err := expreplay.NewUniform(128, 2, 1, 17)
	require.NoError(t, err)

	_, err = d.ExploreEnv(env, buf, 32, 1.0, 0.99)
	require.NoError(t, err)
	_, err = d.UpdateNet(buf, 4, 8, 1.0)
	require.NoError(t, err)

	// after updates with a large tau the target must have moved off
	// its initial copy toward the trained critic
	state := mat.NewDense(1, 2, []float64{0.2, -0.3})
	action := mat.NewDense(1, 1, []float64{0.1})
	current := d.cri.Forward(state, action).At(0, 0)
	target := d.criTarget.Forward(state, action).At(0, 0)
	assert.InDelta(t, current, target, 1.0)
}

func TestActorObjectiveUsesTargetCritic(t *testing.T) {
	env, err := bandit.New(2, []float64{0.2})
	require.NoError(t, err)
	d, err := New(2, 1, Config{Width: 8}, 23)
	require.NoError(t, err)
	buf, err := expreplay.NewUniform(128, 2, 1, 29)
	require.NoError(t, err)

	_, err = d.ExploreEnv(env, buf, 32, 1.0, 0.99)
	require.NoError(t, err)

	// zeroing the target critic flattens the actor objective, so one
	// update step must leave the actor parameters untouched even
	// though the current critic trains normally
	for _, p := range d.criTarget.Learnables() {
		p.Value.Zero()
	}
	before := make([]*mat.Dense, 0, len(d.act.Learnables()))
	for _, p := range d.act.Learnables() {
		before = append(before, mat.DenseCopyOf(p.Value))
	}

	_, err = d.UpdateNet(buf, 1, 8, 1.0)
	require.NoError(t, err)

	for i, p := range d.act.Learnables() {
		assert.True(t, mat.Equal(before[i], p.Value))
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a, err := New(3, 2, Config{Width: 8}, 19)
	require.NoError(t, err)
	require.NoError(t, a.Save(dir))

	b, err := New(3, 2, Config{Width: 8}, 91)
	require.NoError(t, err)
	require.NoError(t, b.Load(dir))

	state := []float64{0.3, -0.1, 0.7}
	assert.Equal(t, a.act.Act(state), b.act.Act(state))
}
