package expreplay

import (
	"fmt"

	"github.com/gammazero/deque"

	"github.com/samuelfneumann/godqn/timestep"
)

// nStepAccumulator aggregates consecutive transitions of a single
// trajectory into n-step transitions. It holds a bounded window of at
// most n pending transitions. Each Push that fills the window emits
// the n-step transition beginning at the oldest pending entry; Flush
// commits whatever remains when an episode ends, emitting shortened
// windows so no pending transition is lost.
type nStepAccumulator struct {
	n      int
	gamma  float64
	window *deque.Deque[timestep.Transition]
}

func newNStepAccumulator(n int, gamma float64) (*nStepAccumulator, error) {
	if n < 1 {
		return nil, fmt.Errorf("newnstepaccumulator: n must be >= 1")
	}
	if gamma < 0 || gamma > 1 {
		return nil, fmt.Errorf("newnstepaccumulator: gamma must be in [0, 1]")
	}
	return &nStepAccumulator{
		n:      n,
		gamma:  gamma,
		window: deque.New[timestep.Transition](n),
	}, nil
}

// Push appends a raw transition to the window. Once the window holds n
// transitions, the n-step transition starting at the oldest entry is
// returned with ok true and the oldest entry is dropped. Until then ok
// is false and the zero Transition is returned.
func (acc *nStepAccumulator) Push(t timestep.Transition) (timestep.Transition,
	bool) {
	acc.window.PushBack(t)
	if acc.window.Len() < acc.n {
		return timestep.Transition{}, false
	}

	out := acc.aggregate()
	acc.window.PopFront()
	return out, true
}

// Flush commits the pending window at episode end. One shortened
// n-step transition is emitted per remaining entry, oldest first, and
// the window is cleared. Flush must be called exactly once per episode
// termination, after the terminal transition has been pushed.
func (acc *nStepAccumulator) Flush() []timestep.Transition {
	out := make([]timestep.Transition, 0, acc.window.Len())
	for acc.window.Len() > 0 {
		out = append(out, acc.aggregate())
		acc.window.PopFront()
	}
	return out
}

// Len returns the number of pending transitions in the window
func (acc *nStepAccumulator) Len() int {
	return acc.window.Len()
}

// aggregate folds the current window into a single n-step transition
// starting at the oldest entry. The reward is the discounted sum over
// the window and the next state and done flag come from the most
// recent window entry, unless an earlier entry terminated the episode,
// in which case the window truncates at that terminal entry.
func (acc *nStepAccumulator) aggregate() timestep.Transition {
	last := acc.window.At(acc.window.Len() - 1)
	reward := last.Reward
	nextState := last.NextState
	done := last.Done

	for i := acc.window.Len() - 2; i >= 0; i-- {
		tr := acc.window.At(i)
		if tr.Done {
			reward = tr.Reward
			nextState = tr.NextState
			done = true
		} else {
			reward = tr.Reward + acc.gamma*reward
		}
	}

	first := acc.window.At(0)
	return timestep.Transition{
		State:     first.State,
		Action:    first.Action,
		Reward:    reward,
		NextState: nextState,
		Done:      done,
	}
}
