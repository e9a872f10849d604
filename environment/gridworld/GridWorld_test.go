package gridworld

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesArguments(t *testing.T) {
	// No rows
	_, err := New(0, 3, 0, 0, []int{2}, []int{0}, -1, 1, 100)
	assert.Error(t, err)

	// Mismatched goal coordinate slices
	_, err = New(3, 3, 0, 0, []int{2, 1}, []int{0}, -1, 1, 100)
	assert.Error(t, err)

	// No goals
	_, err = New(3, 3, 0, 0, nil, nil, -1, 1, 100)
	assert.Error(t, err)

	// Goal outside the grid
	_, err = New(3, 3, 0, 0, []int{3}, []int{0}, -1, 1, 100)
	assert.Error(t, err)

	// No step limit
	_, err = New(3, 3, 0, 0, []int{2}, []int{0}, -1, 1, 0)
	assert.Error(t, err)

	// Start outside the grid
	_, err = New(3, 3, 3, 0, []int{2}, []int{0}, -1, 1, 100)
	assert.Error(t, err)

	// Start on a goal
	_, err = New(3, 3, 2, 0, []int{2}, []int{0}, -1, 1, 100)
	assert.Error(t, err)

	// Goals covering every cell leave nowhere to start
	_, err = NewRandomStart(1, 2, []int{0, 1}, []int{0, 0}, -1, 1, 100)
	assert.Error(t, err)
}

func TestGridWorldWalksToGoal(t *testing.T) {
	env, err := New(3, 4, 0, 0, []int{2}, []int{0}, -1.0, 1.0, 100)
	require.NoError(t, err)

	step, err := env.Reset(0)
	require.NoError(t, err)
	assert.True(t, step.First())
	assert.Equal(t, 1.0, step.Observation.AtVec(0))

	// One right move keeps the episode going
	step, err = env.Step(Right)
	require.NoError(t, err)
	assert.True(t, step.Mid())
	assert.Equal(t, -1.0, step.Reward)
	assert.Equal(t, 1.0, step.Observation.AtVec(1))

	// The second right move enters the goal cell
	step, err = env.Step(Right)
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, 1.0, step.Reward)
	assert.Equal(t, 1.0, step.Observation.AtVec(2))
	assert.Equal(t, 2, step.Number)
}

func TestGridWorldClampsAtBorders(t *testing.T) {
	env, err := New(2, 2, 0, 0, []int{1}, []int{1}, -1.0, 1.0, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	// Left and Down from the bottom-left corner stay in place
	step, err := env.Step(Left)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(0))

	step, err = env.Step(Down)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(0))

	// Up moves to the top row, where another Up stays in place
	step, err = env.Step(Up)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(2))

	step, err = env.Step(Up)
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Observation.AtVec(2))

	// Right enters the goal in the top-right corner
	step, err = env.Step(Right)
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, 1.0, step.Observation.AtVec(3))
}

func TestGridWorldCutsOffAtStepLimit(t *testing.T) {
	env, err := New(3, 3, 0, 0, []int{2}, []int{2}, -1.0, 1.0, 4)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	// Push into the left border so the goal is never reached
	var step = env.current
	for i := 0; i < 4; i++ {
		step, err = env.Step(Left)
		require.NoError(t, err)
	}

	assert.True(t, step.Last())
	assert.Equal(t, -1.0, step.Reward)
	assert.Equal(t, 4, step.Number)
}

func TestGridWorldRandomStartIsSeeded(t *testing.T) {
	env, err := NewRandomStart(3, 3, []int{2}, []int{2}, -1.0, 1.0, 100)
	require.NoError(t, err)

	first, err := env.Reset(7)
	require.NoError(t, err)

	// The start is a single cell and never a goal cell
	total := 0.0
	for i := 0; i < first.Observation.Len(); i++ {
		total += first.Observation.AtVec(i)
	}
	assert.Equal(t, 1.0, total)
	assert.Zero(t, first.Observation.AtVec(2*3+2))

	// Resetting with the same seed restarts in the same cell
	second, err := env.Reset(7)
	require.NoError(t, err)
	for i := 0; i < first.Observation.Len(); i++ {
		assert.Equal(t, first.Observation.AtVec(i),
			second.Observation.AtVec(i))
	}
}

func TestGridWorldResetRestartsEpisode(t *testing.T) {
	env, err := New(2, 2, 0, 0, []int{1}, []int{0}, -1.0, 1.0, 100)
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

func TestGridWorldRejectsInvalidAction(t *testing.T) {
	env, err := New(3, 3, 0, 0, []int{2}, []int{2}, -1.0, 1.0, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	_, err = env.Step(7)
	assert.Error(t, err)
}

func TestGridWorldSpecs(t *testing.T) {
	env, err := New(4, 5, 0, 0, []int{4}, []int{3}, -1.0, 1.0, 100)
	require.NoError(t, err)

	obsSpec := env.ObservationSpec()
	assert.Equal(t, 20, obsSpec.Shape.Len())

	actionSpec := env.ActionSpec()
	assert.Equal(t, 0.0, actionSpec.LowerBound.AtVec(0))
	assert.Equal(t, 3.0, actionSpec.UpperBound.AtVec(0))
}

func TestGridWorldRenders(t *testing.T) {
	env, err := New(2, 3, 0, 0, []int{2}, []int{1}, -1.0, 1.0, 100)
	require.NoError(t, err)

	_, err = env.Reset(0)
	require.NoError(t, err)

	img := env.Render()
	bounds := img.Bounds()
	assert.Equal(t, 3*cellPixels, bounds.Dx())
	assert.Equal(t, 2*cellPixels, bounds.Dy())

	// The agent sits in the bottom-left cell and the goal in the
	// top-right cell, leaving the cell between them bare floor
	agentX, agentY := 0*cellPixels+cellPixels/2, 1*cellPixels+cellPixels/2
	goalX, goalY := 2*cellPixels+cellPixels/2, 0*cellPixels+cellPixels/2
	emptyX, emptyY := 1*cellPixels+cellPixels/2, 0*cellPixels+cellPixels/2

	assert.NotEqual(t, floorShade, img.At(agentX, agentY))
	assert.NotEqual(t, floorShade, img.At(goalX, goalY))
	assert.Equal(t, floorShade, img.At(emptyX, emptyY))
}
