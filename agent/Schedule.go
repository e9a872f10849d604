package agent

import (
	"fmt"
	"math"
)

// EpsilonSchedule computes the exploration rate of an epsilon greedy
// policy as a function of the total number of frames seen so far. The
// rate decays exponentially from Max toward Min at rate Decay, so that
// exploration is driven by the global frame count rather than by the
// position within an episode.
type EpsilonSchedule struct {
	Max   float64
	Min   float64
	Decay float64
}

// At returns the exploration rate after frame total frames.
func (e EpsilonSchedule) At(frame int) float64 {
	return e.Min + (e.Max-e.Min)*math.Exp(-e.Decay*float64(frame))
}

// Validate checks that the schedule decays from a legal maximum to a
// legal minimum.
func (e EpsilonSchedule) Validate() error {
	if e.Max < e.Min {
		return fmt.Errorf("epsilon schedule: max (%v) < min (%v)", e.Max,
			e.Min)
	}
	if e.Min < 0 || e.Max > 1 {
		return fmt.Errorf("epsilon schedule: bounds [%v, %v] outside [0, 1]",
			e.Min, e.Max)
	}
	if e.Decay < 0 {
		return fmt.Errorf("epsilon schedule: negative decay %v", e.Decay)
	}
	return nil
}

// BetaSchedule anneals the importance sampling exponent of prioritized
// experience replay toward 1 over the course of training. The exponent
// moves a fraction of its remaining distance to 1 on every frame, with
// the fraction given by the proportion of training completed, so that
// bias correction is weakest early in training and complete by the
// final frame.
type BetaSchedule struct {
	beta      float64
	numFrames int
}

// NewBetaSchedule returns a schedule that anneals beta toward 1 over
// numFrames frames of training.
func NewBetaSchedule(beta float64, numFrames int) (*BetaSchedule, error) {
	if beta <= 0 || beta > 1 {
		return nil, fmt.Errorf("beta schedule: beta (%v) not in (0, 1]", beta)
	}
	if numFrames <= 0 {
		return nil, fmt.Errorf("beta schedule: non-positive total frames %v",
			numFrames)
	}

	return &BetaSchedule{beta: beta, numFrames: numFrames}, nil
}

// Advance moves the schedule to frame and returns the new exponent.
func (b *BetaSchedule) Advance(frame int) float64 {
	fraction := math.Min(float64(frame)/float64(b.numFrames), 1.0)
	b.beta = b.beta + fraction*(1.0-b.beta)
	return b.beta
}

// Beta returns the current exponent.
func (b *BetaSchedule) Beta() float64 {
	return b.beta
}
