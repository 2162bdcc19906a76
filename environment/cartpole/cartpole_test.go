package cartpole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetShape(t *testing.T) {
	env := New(200, 1)
	state, err := env.Reset()
	require.NoError(t, err)
	assert.Len(t, state, ObservationDims)
	assert.Equal(t, ObservationDims, env.ObservationDim())
	assert.Equal(t, Actions, env.ActionDim())
}

func TestStepReturnsUnitReward(t *testing.T) {
	env := New(200, 1)
	_, err := env.Reset()
	require.NoError(t, err)

	next, reward, _, err := env.Step([]float64{1})
	require.NoError(t, err)
	assert.Len(t, next, ObservationDims)
	assert.Equal(t, 1.0, reward)
}

func TestEpisodeTerminates(t *testing.T) {
	env := New(50, 3)
	_, err := env.Reset()
	require.NoError(t, err)

	done := false
	for i := 0; i < 50 && !done; i++ {
		_, _, done, err = env.Step([]float64{0})
		require.NoError(t, err)
	}
	assert.True(t, done)
}

func TestDeterministicGivenSeed(t *testing.T) {
	a := New(200, 9)
	b := New(200, 9)
	sa, err := a.Reset()
	require.NoError(t, err)
	sb, err := b.Reset()
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
}
