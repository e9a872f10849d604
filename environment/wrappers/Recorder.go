// Package wrappers provides environments that wrap other environments
// to add behaviour around their episodes.
package wrappers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"

	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/timestep"
)

// episodeTrace is the on-disk record of a single recorded episode
type episodeTrace struct {
	Episode int       `json:"episode"`
	Seed    uint64    `json:"seed"`
	Actions []int     `json:"actions"`
	Rewards []float64 `json:"rewards"`
	Return  float64   `json:"return"`
	Frames  int       `json:"frames"`
}

// Recorder wraps an environment and records its episodes to disk.
// Each completed episode is written as a JSON trace holding the seed,
// the actions taken, the rewards received, and the episodic return.
// When the wrapped environment implements environment.Renderer, every
// timestep is additionally saved as a PNG frame, so that a recorded
// episode can be replayed as a video.
//
// Recorder itself implements the environment.Environment interface,
// and is therefore itself an Environment.
type Recorder struct {
	environment.Environment

	dir      string
	renderer environment.Renderer

	episode int
	trace   *episodeTrace
}

// NewRecorder returns a Recorder that records the episodes of env
// into dir. Episode traces are written as episode1.json,
// episode2.json, and so on, with frames episode1_frame0.png alongside
// them when env can render itself.
func NewRecorder(env environment.Environment, dir string) (*Recorder,
	error) {
	if env == nil {
		return nil, fmt.Errorf("recorder: no environment to record")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("recorder: could not create recording "+
			"directory: %v", err)
	}

	renderer, _ := env.(environment.Renderer)

	return &Recorder{
		Environment: env,
		dir:         dir,
		renderer:    renderer,
	}, nil
}

// Reset starts recording a new episode. Resetting before the previous
// episode finished drops that episode's partial trace.
func (r *Recorder) Reset(seed uint64) (timestep.TimeStep, error) {
	step, err := r.Environment.Reset(seed)
	if err != nil {
		return step, err
	}

	r.episode++
	r.trace = &episodeTrace{Episode: r.episode, Seed: seed}

	if err := r.saveFrame(); err != nil {
		return step, err
	}

	return step, nil
}

// Step takes a single action in the wrapped environment, recording the
// action and resulting reward. The episode's trace is written to disk
// on the timestep that ends the episode.
func (r *Recorder) Step(action int) (timestep.TimeStep, error) {
	if r.trace == nil {
		return timestep.TimeStep{}, fmt.Errorf("step: recorder needs a " +
			"call to Reset before stepping")
	}

	step, err := r.Environment.Step(action)
	if err != nil {
		return step, err
	}

	r.trace.Actions = append(r.trace.Actions, action)
	r.trace.Rewards = append(r.trace.Rewards, step.Reward)
	r.trace.Return += step.Reward

	if err := r.saveFrame(); err != nil {
		return step, err
	}

	if step.Last() {
		if err := r.flush(); err != nil {
			return step, err
		}
	}

	return step, nil
}

// Close writes any partially recorded episode before closing the
// wrapped environment
func (r *Recorder) Close() error {
	if err := r.flush(); err != nil {
		return err
	}

	return r.Environment.Close()
}

// flush writes the current episode's trace and clears it
func (r *Recorder) flush() error {
	if r.trace == nil {
		return nil
	}

	data, err := json.MarshalIndent(r.trace, "", "\t")
	if err != nil {
		return fmt.Errorf("flush: could not encode episode trace: %v", err)
	}

	name := fmt.Sprintf("episode%d.json", r.trace.Episode)
	if err := os.WriteFile(filepath.Join(r.dir, name), data, 0644); err != nil {
		return fmt.Errorf("flush: could not save episode trace: %v", err)
	}
	r.trace = nil

	return nil
}

// saveFrame renders and saves the next frame of the current episode.
// Environments that cannot render themselves record no frames.
func (r *Recorder) saveFrame() error {
	if r.renderer == nil {
		return nil
	}

	name := fmt.Sprintf("episode%d_frame%d.png", r.episode, r.trace.Frames)
	err := gg.SavePNG(filepath.Join(r.dir, name), r.renderer.Render())
	if err != nil {
		return fmt.Errorf("saveFrame: could not save frame: %v", err)
	}
	r.trace.Frames++

	return nil
}
