package bandit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimalActionScoresZero(t *testing.T) {
	env, err := New(3, []float64{0.5, -0.5})
	require.NoError(t, err)

	_, reward, done, err := env.Step([]float64{0.5, -0.5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, reward)
	assert.True(t, done)
}

func TestRewardIsNegativeDistance(t *testing.T) {
	env, err := New(2, []float64{0, 0})
	require.NoError(t, err)

	_, reward, _, err := env.Step([]float64{0.3, -0.4})
	require.NoError(t, err)
	assert.InDelta(t, -0.7, reward, 1e-12)
}

func TestRejectsBadConfigs(t *testing.T) {
	_, err := New(0, []float64{0})
	assert.Error(t, err)
	_, err = New(2, nil)
	assert.Error(t, err)
	_, err = New(2, []float64{1.5})
	assert.Error(t, err)
}

func TestRejectsWrongActionWidth(t *testing.T) {
	env, err := New(2, []float64{0, 0})
	require.NoError(t, err)
	_, _, _, err = env.Step([]float64{0})
	assert.Error(t, err)
}
