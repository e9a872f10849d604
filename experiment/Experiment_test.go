package experiment

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/agent/deepq"
	"github.com/samuelfneumann/godqn/environment/chain"
	"github.com/samuelfneumann/godqn/initwfn"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
)

// newTestAgent returns a small agent on the chain environment that
// reports artifacts every 10 frames
func newTestAgent(t *testing.T) *deepq.DeepQ {
	t.Helper()

	env, err := chain.New(4, 10)
	require.NoError(t, err)

	adam, err := solver.NewDefaultAdam(0.01, 8)
	require.NoError(t, err)

	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)

	config := deepq.Config{
		PolicyLayers: []int{16},
		Biases:       []bool{true},
		Activations:  []*network.Activation{network.ReLU()},
		InitWFn:      init,
		Solver:       adam,
		Epsilon: agent.EpsilonSchedule{
			Max:   1.0,
			Min:   0.1,
			Decay: 1e-3,
		},
		ReplayCapacity:       64,
		BatchSize:            8,
		Gamma:                0.99,
		TargetUpdateInterval: 2,
		ReportInterval:       10,
	}

	q, err := deepq.New(env, config, 42)
	require.NoError(t, err)

	return q
}

func TestNewValidatesAgent(t *testing.T) {
	_, err := New(nil, nil, t.TempDir(), zerolog.Nop())
	assert.Error(t, err)
}

func TestExperimentRunProducesArtifacts(t *testing.T) {
	q := newTestAgent(t)

	testEnv, err := chain.New(4, 10)
	require.NoError(t, err)

	e, err := New(q, testEnv, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	assert.True(t, strings.HasPrefix(filepath.Base(e.RunDir()), "run-"))

	returns, err := e.Run(context.Background(), 20, 2)
	require.NoError(t, err)
	assert.Len(t, returns, 2)

	// Two reports during training write plots, history, and
	// checkpoints, and the two evaluation episodes are recorded
	artifacts := []string{
		filepath.Join("plots", "returns.png"),
		"history.bin",
		filepath.Join("checkpoints", "agent1.bin"),
		filepath.Join("checkpoints", "agent2.bin"),
		filepath.Join("recordings", "episode1.json"),
		filepath.Join("recordings", "episode2.json"),
	}
	for _, artifact := range artifacts {
		info, err := os.Stat(filepath.Join(e.RunDir(), artifact))
		require.NoError(t, err, artifact)
		assert.Greater(t, info.Size(), int64(0), artifact)
	}
}

func TestExperimentRunStopsWhenCancelled(t *testing.T) {
	q := newTestAgent(t)

	e, err := New(q, nil, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.Run(ctx, 20, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}
