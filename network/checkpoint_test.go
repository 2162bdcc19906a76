package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestCheckpointRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	m, err := NewMLP("m", 3, []int{4}, 2, Tanh, Identity, rng)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "params.gob")
	require.NoError(t, SaveLearnables(path, m.Learnables()))

	restored, err := NewMLP("m", 3, []int{4}, 2, Tanh, Identity,
		rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	require.NoError(t, LoadLearnables(path, restored.Learnables()))

	x := mat.NewDense(1, 3, []float64{0.4, -0.2, 0.9})
	want := m.Forward(x)
	got := restored.Forward(x)
	assert.Equal(t, want.At(0, 0), got.At(0, 0))
	assert.Equal(t, want.At(0, 1), got.At(0, 1))
}

func TestLoadMissingCheckpoint(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	m, err := NewMLP("m", 2, nil, 1, Identity, Identity, rng)
	require.NoError(t, err)

	err = LoadLearnables(filepath.Join(t.TempDir(), "absent.gob"),
		m.Learnables())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
