package agent

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpsilonScheduleDecaysFromMaxToMin(t *testing.T) {
	sched := EpsilonSchedule{Max: 1.0, Min: 0.01, Decay: 1e-3}
	require.NoError(t, sched.Validate())

	assert.Equal(t, 1.0, sched.At(0))

	// Strictly decreasing in the frame count
	last := sched.At(0)
	for _, frame := range []int{1, 10, 100, 1000, 10000} {
		eps := sched.At(frame)
		assert.Less(t, eps, last)
		assert.GreaterOrEqual(t, eps, sched.Min)
		last = eps
	}

	// Converges to the minimum
	assert.InDelta(t, 0.01, sched.At(100000000), 1e-6)
}

func TestEpsilonScheduleClosedForm(t *testing.T) {
	sched := EpsilonSchedule{Max: 0.9, Min: 0.05, Decay: 1e-5}

	frame := 20000
	want := 0.05 + (0.9-0.05)*math.Exp(-1e-5*float64(frame))
	assert.Equal(t, want, sched.At(frame))
}

func TestEpsilonScheduleValidate(t *testing.T) {
	assert.Error(t, EpsilonSchedule{Max: 0.1, Min: 0.5, Decay: 1e-5}.Validate())
	assert.Error(t, EpsilonSchedule{Max: 1.5, Min: 0.1, Decay: 1e-5}.Validate())
	assert.Error(t, EpsilonSchedule{Max: 1.0, Min: -0.1, Decay: 1e-5}.Validate())
	assert.Error(t, EpsilonSchedule{Max: 1.0, Min: 0.1, Decay: -1.0}.Validate())
}

func TestBetaScheduleAnnealsToOne(t *testing.T) {
	sched, err := NewBetaSchedule(0.4, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0.4, sched.Beta())

	// Monotonically non-decreasing and bounded by 1
	last := sched.Beta()
	for frame := 1; frame <= 1000; frame++ {
		beta := sched.Advance(frame)
		assert.GreaterOrEqual(t, beta, last)
		assert.LessOrEqual(t, beta, 1.0)
		last = beta
	}

	// At the end of training the bias correction is complete
	assert.InDelta(t, 1.0, sched.Beta(), 1e-9)

	// Frames past the end of training pin beta to 1
	assert.Equal(t, 1.0, sched.Advance(2000))
}

func TestBetaScheduleFirstAdvance(t *testing.T) {
	sched, err := NewBetaSchedule(0.4, 100)
	require.NoError(t, err)

	// One frame in, beta moves 1% of its remaining distance to 1
	beta := sched.Advance(1)
	assert.InDelta(t, 0.4+0.01*(1.0-0.4), beta, 1e-12)
}

func TestNewBetaScheduleValidates(t *testing.T) {
	_, err := NewBetaSchedule(0.0, 100)
	assert.Error(t, err)

	_, err = NewBetaSchedule(1.5, 100)
	assert.Error(t, err)

	_, err = NewBetaSchedule(0.4, 0)
	assert.Error(t, err)
}
