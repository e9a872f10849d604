package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(1, 10)
	assert.Error(t, err)

	_, err = New(5, 0)
	assert.Error(t, err)
}

func TestChainWalksToGoal(t *testing.T) {
	env, err := New(4, 100)
	require.NoError(t, err)

	step, err := env.Reset(0)
	require.NoError(t, err)
	assert.True(t, step.First())
	assert.Equal(t, 1.0, step.Observation.AtVec(0))

	// Two right moves keep the episode going with no reward
	for i := 0; i < 2; i++ {
		step, err = env.Step(Right)
		require.NoError(t, err)
		assert.True(t, step.Mid())
		assert.Zero(t, step.Reward)
		assert.Equal(t, 1.0, step.Observation.AtVec(i+1))
	}

	// The third right move reaches the goal
	step, err = env.Step(Right)
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, 1.0, step.Reward)
	assert.Equal(t, 1.0, step.Observation.AtVec(3))
	assert.Equal(t, 3, step.Number)
}

func TestChainLeftStopsAtStart(t *testing.T) {
	env, err := New(3, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	step, err := env.Step(Left)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(0))

	// Left from the middle moves back to the start
	_, err = env.Step(Right)
	require.NoError(t, err)
	step, err = env.Step(Left)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(0))
}

func TestChainCutsOffAtStepLimit(t *testing.T) {
	env, err := New(10, 4)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	// Bounce between the two leftmost states so the goal is never
	// reached
	var step = env.current
	for i := 0; i < 4; i++ {
		action := Right
		if i%2 == 1 {
			action = Left
		}
		step, err = env.Step(action)
		require.NoError(t, err)
	}

	assert.True(t, step.Last())
	assert.Zero(t, step.Reward)
	assert.Equal(t, 4, step.Number)
}

func TestChainResetRestartsEpisode(t *testing.T) {
	env, err := New(2, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	step, err := env.Step(Right)
	require.NoError(t, err)
	require.True(t, step.Last())

	step, err = env.Reset(0)
	require.NoError(t, err)
	assert.True(t, step.First())
	assert.Equal(t, 0, step.Number)
	assert.Equal(t, 1.0, step.Observation.AtVec(0))
}

func TestChainRejectsInvalidAction(t *testing.T) {
	env, err := New(3, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	_, err = env.Step(7)
	assert.Error(t, err)
}

func TestChainSpecs(t *testing.T) {
	env, err := New(6, 100)
	require.NoError(t, err)

	obsSpec := env.ObservationSpec()
	assert.Equal(t, 6, obsSpec.Shape.Len())

	actionSpec := env.ActionSpec()
	assert.Equal(t, 0.0, actionSpec.LowerBound.AtVec(0))
	assert.Equal(t, 1.0, actionSpec.UpperBound.AtVec(0))
}
