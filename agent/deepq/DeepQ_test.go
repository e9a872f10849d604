package deepq

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/environment/chain"
	"github.com/samuelfneumann/godqn/experiment/checkpointer"
	"github.com/samuelfneumann/godqn/expreplay"
	"github.com/samuelfneumann/godqn/initwfn"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
	"github.com/samuelfneumann/godqn/timestep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// testConfig returns a valid configuration for a small agent on the
// chain environment
func testConfig(t *testing.T) Config {
	t.Helper()

	adam, err := solver.NewDefaultAdam(0.01, 8)
	require.NoError(t, err)

	init, err := initwfn.NewGlorotU(1.0)
	require.NoError(t, err)

	return Config{
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
		ReportInterval:       0,
	}
}

func newTestAgent(t *testing.T, targetUpdate, reportInterval int) *DeepQ {
	t.Helper()

	env, err := chain.New(4, 10)
	require.NoError(t, err)

	config := testConfig(t)
	config.TargetUpdateInterval = targetUpdate
	config.ReportInterval = reportInterval

	q, err := New(env, config, 42)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	return q
}

// fillReplay records transitions from a deterministic walk on the
// chain environment in the agent's replay buffer
func fillReplay(t *testing.T, q *DeepQ, transitions int) {
	t.Helper()

	env, err := chain.New(4, 10)
	require.NoError(t, err)

	step, err := env.Reset(0)
	require.NoError(t, err)

	for i := 0; i < transitions; i++ {
		action := i % 2
		next, err := env.Step(action)
		require.NoError(t, err)
		require.NoError(t, q.replay.Add(timestep.NewTransition(step, action,
			next)))

		step = next
		if step.Last() {
			step, err = env.Reset(0)
			require.NoError(t, err)
		}
	}
}

// learnableData returns a deep copy of the weight values of a network
func learnableData(net network.NeuralNet) [][]float64 {
	data := make([][]float64, 0, len(net.Learnables()))
	for _, learnable := range net.Learnables() {
		values := learnable.Value().Data().([]float64)
		data = append(data, append([]float64(nil), values...))
	}
	return data
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mismatched biases", func(c *Config) { c.Biases = nil }},
		{"mismatched activations", func(c *Config) { c.Activations = nil }},
		{"no init", func(c *Config) { c.InitWFn = nil }},
		{"no solver", func(c *Config) { c.Solver = nil }},
		{"invalid epsilon schedule", func(c *Config) { c.Epsilon.Max = 2.0 }},
		{"non-positive batch size", func(c *Config) { c.BatchSize = 0 }},
		{"capacity below batch size", func(c *Config) {
			c.ReplayCapacity = 4
		}},
		{"invalid discount", func(c *Config) { c.Gamma = 1.5 }},
		{"non-positive target interval", func(c *Config) {
			c.TargetUpdateInterval = 0
		}},
		{"negative report interval", func(c *Config) {
			c.ReportInterval = -1
		}},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			config := testConfig(t)
			test.mutate(&config)
			assert.Error(t, config.Validate())
		})
	}

	assert.NoError(t, testConfig(t).Validate())
}

// stubActionEnv is an environment whose action specification can be
// set freely
type stubActionEnv struct {
	environment.Environment
	spec environment.Spec
}

func (s stubActionEnv) ActionSpec() environment.Spec { return s.spec }

func TestNewValidatesActionSpec(t *testing.T) {
	cases := []struct {
		name string
		spec environment.Spec
	}{
		{
			"continuous actions",
			environment.Spec{
				Shape:       mat.NewVecDense(1, nil),
				Type:        environment.Action,
				LowerBound:  mat.NewVecDense(1, []float64{-1}),
				UpperBound:  mat.NewVecDense(1, []float64{1}),
				Cardinality: environment.Continuous,
			},
		},
		{
			"multi-dimensional actions",
			environment.Spec{
				Shape:       mat.NewVecDense(2, nil),
				Type:        environment.Action,
				LowerBound:  mat.NewVecDense(2, nil),
				UpperBound:  mat.NewVecDense(2, []float64{1, 1}),
				Cardinality: environment.Discrete,
			},
		},
		{
			"actions not enumerated from 0",
			environment.Spec{
				Shape:       mat.NewVecDense(1, nil),
				Type:        environment.Action,
				LowerBound:  mat.NewVecDense(1, []float64{1}),
				UpperBound:  mat.NewVecDense(1, []float64{2}),
				Cardinality: environment.Discrete,
			},
		},
	}

	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			env := stubActionEnv{spec: test.spec}
			_, err := New(env, testConfig(t), 1)
			assert.Error(t, err)
		})
	}
}

func TestNewStartsNetworksWithEqualWeights(t *testing.T) {
	q := newTestAgent(t, 2, 0)

	behaviour := learnableData(q.behaviourPolicy.Network())
	assert.Equal(t, behaviour, learnableData(q.trainNet))
	assert.Equal(t, behaviour, learnableData(q.targetNet))
}

func TestUpdateSyncsTargetNetworkAtInterval(t *testing.T) {
	q := newTestAgent(t, 2, 0)
	fillReplay(t, q, 16)

	initialTarget := learnableData(q.targetNet)

	loss, err := q.update()
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.False(t, math.IsInf(loss, 0))
	assert.GreaterOrEqual(t, loss, 0.0)

	// After one gradient step the train network has moved but the
	// target network is still frozen
	assert.NotEqual(t, initialTarget, learnableData(q.trainNet))
	assert.Equal(t, initialTarget, learnableData(q.targetNet))

	// The behaviour policy always acts with the latest weights
	assert.Equal(t, learnableData(q.trainNet),
		learnableData(q.behaviourPolicy.Network()))

	_, err = q.update()
	require.NoError(t, err)

	// The second gradient step hard-syncs the target network
	assert.Equal(t, 2, q.gradientSteps)
	assert.Equal(t, learnableData(q.trainNet), learnableData(q.targetNet))
}

func TestUpdateFailsOnInsufficientSamples(t *testing.T) {
	q := newTestAgent(t, 2, 0)
	fillReplay(t, q, 3)

	_, err := q.update()
	require.Error(t, err)
	assert.True(t, expreplay.IsInsufficientSamples(err))
}

func TestTrainOnChain(t *testing.T) {
	q := newTestAgent(t, 4, 0)

	require.NoError(t, q.Train(context.Background(), 60))

	assert.Equal(t, 60, q.TotalFrames())

	// Chain episodes last at most 10 frames
	assert.GreaterOrEqual(t, q.history.Episodes(), 6)

	// The replay buffer holds a full minibatch from frame 8 onwards,
	// so frames 8 through 60 each take one gradient step
	assert.Len(t, q.history.Losses(), 53)
	assert.Equal(t, 53, q.gradientSteps)
	assert.Len(t, q.history.Exploration(), 60)

	// Exploration has annealed with the frame count
	assert.Equal(t, q.epsilon.At(60), q.behaviourPolicy.Epsilon())

	// The solver's step size was halved at the midpoint
	assert.True(t, q.halved)
}

func TestTrainRejectsNonPositiveFrames(t *testing.T) {
	q := newTestAgent(t, 4, 0)

	assert.Error(t, q.Train(context.Background(), 0))
	assert.Error(t, q.Train(context.Background(), -1))
}

func TestTrainStopsWhenContextCancelled(t *testing.T) {
	q := newTestAgent(t, 4, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Train(ctx, 1000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.TotalFrames())
}

func TestTestEvaluatesGreedilyAndRestoresExploration(t *testing.T) {
	q := newTestAgent(t, 4, 0)
	require.NoError(t, q.Train(context.Background(), 60))

	before := q.behaviourPolicy.Epsilon()

	returns, err := q.Test(2)
	require.NoError(t, err)
	require.Len(t, returns, 2)

	// The chain environment pays 1 for reaching the goal and 0
	// otherwise
	for _, ret := range returns {
		assert.Contains(t, []float64{0, 1}, ret)
	}

	// A greedy policy on a deterministic environment repeats itself
	assert.Equal(t, returns[0], returns[1])

	// The exploration rate is restored after evaluation
	assert.Equal(t, before, q.behaviourPolicy.Epsilon())
}

func TestTestRejectsNonPositiveEpisodes(t *testing.T) {
	q := newTestAgent(t, 4, 0)

	_, err := q.Test(0)
	assert.Error(t, err)
}

func TestGobRoundTripRestoresWeightsAndCounters(t *testing.T) {
	q := newTestAgent(t, 4, 0)
	require.NoError(t, q.Train(context.Background(), 30))

	data, err := q.GobEncode()
	require.NoError(t, err)

	restored := newTestAgent(t, 4, 0)
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, q.TotalFrames(), restored.TotalFrames())
	assert.Equal(t, q.gradientSteps, restored.gradientSteps)
	assert.Equal(t, q.halved, restored.halved)

	// The train and target networks are restored separately: the
	// checkpoint was taken between target syncs, so they differ
	learned := learnableData(q.trainNet)
	target := learnableData(q.targetNet)
	assert.NotEqual(t, learned, target)
	assert.Equal(t, learned, learnableData(restored.trainNet))
	assert.Equal(t, target, learnableData(restored.targetNet))
	assert.Equal(t, learned,
		learnableData(restored.behaviourPolicy.Network()))

	// The midpoint step size halving carries over to the restored
	// solver
	assert.True(t, restored.halved)
	adam, ok := restored.solver.Config.(solver.AdamConfig)
	require.True(t, ok)
	assert.Equal(t, 0.005, adam.StepSize)

	// Exploration continues from the restored frame count
	assert.Equal(t, q.epsilon.At(q.TotalFrames()),
		restored.behaviourPolicy.Epsilon())
}

func TestReportWritesArtifacts(t *testing.T) {
	q := newTestAgent(t, 4, 10)

	dir := t.TempDir()
	q.SetRunDir(dir)

	ckpt, err := checkpointer.New(q, dir, "agent")
	require.NoError(t, err)
	q.SetCheckpointer(ckpt)

	require.NoError(t, q.Train(context.Background(), 20))

	files := []string{
		filepath.Join(dir, "plots", "returns.png"),
		filepath.Join(dir, "plots", "loss.png"),
		filepath.Join(dir, "plots", "epsilon.png"),
		filepath.Join(dir, "history.bin"),
		filepath.Join(dir, "agent1.bin"),
		filepath.Join(dir, "agent2.bin"),
	}
	for _, file := range files {
		info, err := os.Stat(file)
		require.NoError(t, err, file)
		assert.Greater(t, info.Size(), int64(0), file)
	}
}
