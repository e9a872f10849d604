// Package experiment wires agents, environments, and run artifacts
// together into complete training runs. Each run writes everything it
// produces, diagnostic plots, training history, checkpoints, and
// recorded evaluation episodes, under a single uniquely named run
// directory.
package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/environment/wrappers"
	"github.com/samuelfneumann/godqn/experiment/checkpointer"
	"github.com/samuelfneumann/godqn/experiment/tracker"
	"github.com/samuelfneumann/godqn/utils/progressbar"
)

// progressWidth is the character width of the training progress bar
const progressWidth int = 50

// RunDirSetter is implemented by agents that write diagnostic
// artifacts such as plots and history files into a run directory
type RunDirSetter interface {
	SetRunDir(dir string)
}

// CheckpointerSetter is implemented by agents that snapshot themselves
// periodically during training
type CheckpointerSetter interface {
	SetCheckpointer(c *checkpointer.Checkpointer)
}

// LoggerSetter is implemented by agents that log through zerolog
type LoggerSetter interface {
	SetLogger(log zerolog.Logger)
}

// TestEnvSetter is implemented by agents that evaluate on a separate
// environment from the one they train on
type TestEnvSetter interface {
	SetTestEnv(env environment.Environment)
}

// TrackerSetter is implemented by agents that record their training
// progress in a replaceable history, e.g. to continue the series of a
// previous run
type TrackerSetter interface {
	SetTracker(h *tracker.History)
}

// FrameCounter is implemented by agents whose training progress can be
// followed frame by frame while Train runs
type FrameCounter interface {
	TotalFrames() int
}

// Experiment runs an agent's full training and evaluation cycle. When
// the agent supports them, the Experiment points the agent's optional
// capabilities at its run directory: diagnostic plots and history
// files, periodic checkpoints, and evaluation on a recorded copy of a
// test environment.
type Experiment struct {
	agent    agent.Agent
	recorder *wrappers.Recorder
	runDir   string
	log      zerolog.Logger
}

// New returns an Experiment running a. A fresh run directory named
// after a new run identifier is created under baseDir. When testEnv is
// not nil and the agent can evaluate on a separate environment, the
// agent is evaluated on a recording wrapper around testEnv so that
// evaluation episodes are captured in the run directory.
func New(a agent.Agent, testEnv environment.Environment, baseDir string,
	log zerolog.Logger) (*Experiment, error) {
	if a == nil {
		return nil, fmt.Errorf("experiment: no agent to run")
	}

	runDir := filepath.Join(baseDir, "run-"+uuid.New().String())
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("experiment: could not create run "+
			"directory: %v", err)
	}

	e := &Experiment{agent: a, runDir: runDir, log: log}

	if setter, ok := a.(LoggerSetter); ok {
		setter.SetLogger(log)
	}
	if setter, ok := a.(RunDirSetter); ok {
		setter.SetRunDir(runDir)
	}

	if setter, ok := a.(CheckpointerSetter); ok {
		if target, ok := a.(checkpointer.Serializable); ok {
			ckpt, err := checkpointer.New(target,
				filepath.Join(runDir, "checkpoints"), "agent")
			if err != nil {
				return nil, err
			}
			setter.SetCheckpointer(ckpt)
		}
	}

	if testEnv != nil {
		if setter, ok := a.(TestEnvSetter); ok {
			rec, err := wrappers.NewRecorder(testEnv,
				filepath.Join(runDir, "recordings"))
			if err != nil {
				return nil, err
			}
			setter.SetTestEnv(rec)
			e.recorder = rec
		}
	}

	return e, nil
}

// RunDir returns the directory that the run's artifacts are written
// into
func (e *Experiment) RunDir() string {
	return e.runDir
}

// Run trains the agent for frames frames and then evaluates it for
// testEpisodes episodes, returning the returns of the evaluation
// episodes. Errors from the agent are returned as they are, so that
// training cancelled through ctx stays recognizable with errors.Is.
func (e *Experiment) Run(ctx context.Context, frames,
	testEpisodes int) ([]float64, error) {
	e.log.Info().
		Str("dir", e.runDir).
		Int("frames", frames).
		Msg("starting training")

	stopProgress := e.displayProgress(frames)
	err := e.agent.Train(ctx, frames)
	stopProgress()
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Int("episodes", testEpisodes).
		Msg("starting evaluation")

	returns, err := e.agent.Test(testEpisodes)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Floats64("returns", returns).
		Msg("evaluation finished")

	return returns, nil
}

// displayProgress renders a terminal progress bar following the
// agent's frame counter while Train runs, polling it once per second.
// The returned function stops the bar, rendering the progress reached
// one final time. When the agent does not count frames, both the bar
// and the returned function do nothing.
func (e *Experiment) displayProgress(frames int) func() {
	counter, ok := e.agent.(FrameCounter)
	if !ok {
		return func() {}
	}

	start := counter.TotalFrames()
	bar := progressbar.NewManualProgressBar(progressWidth, frames)
	bar.Display()

	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bar.Set(counter.TotalFrames() - start)
				bar.Display()
			}
		}
	}()

	return func() {
		close(done)
		<-finished
		bar.Set(counter.TotalFrames() - start)
		bar.Finish()
	}
}

// Close releases the agent's resources and flushes any recording in
// progress
func (e *Experiment) Close() error {
	err := e.agent.Close()

	if e.recorder != nil {
		if recErr := e.recorder.Close(); err == nil {
			err = recErr
		}
	}

	return err
}
