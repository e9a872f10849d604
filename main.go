// The godqn command trains and evaluates deep Q-learning agents on
// small discrete environments. Each training run writes its plots,
// history, checkpoints, and recorded evaluation episodes into a fresh
// run directory, and checkpointed agents can be restored later for
// further evaluation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/agent/deepq"
	"github.com/samuelfneumann/godqn/agent/nstepq"
	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/environment/chain"
	"github.com/samuelfneumann/godqn/environment/gridworld"
	"github.com/samuelfneumann/godqn/environment/wrappers"
	"github.com/samuelfneumann/godqn/experiment"
	"github.com/samuelfneumann/godqn/experiment/checkpointer"
	"github.com/samuelfneumann/godqn/experiment/tracker"
	"github.com/samuelfneumann/godqn/initwfn"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
)

// runConfig holds the settings shared by every command
type runConfig struct {
	envName     string
	chainStates int
	gridRows    int
	gridCols    int
	maxSteps    int

	frames       int
	testEpisodes int
	seed         uint64
	outDir       string
	debug        bool
}

// dqnConfig holds the hyperparameters of the baseline agent
type dqnConfig struct {
	layers       []int
	solverName   string
	lr           float64
	epsilonMax   float64
	epsilonMin   float64
	epsilonDecay float64

	replayCapacity int
	batchSize      int
	gamma          float64
	targetUpdate   int
	reportInterval int
}

// nstepConfig holds the hyperparameters of the n-step prioritized
// agent
type nstepConfig struct {
	layers     []int
	solverName string
	lr         float64
	noisyStd   float64

	alpha    float64
	beta     float64
	priorEps float64
	nStep    int

	replayCapacity int
	batchSize      int
	gamma          float64
	targetUpdate   int
	reportInterval int
}

var run = runConfig{
	envName:      "chain",
	chainStates:  10,
	gridRows:     5,
	gridCols:     5,
	maxSteps:     500,
	frames:       20000,
	testEpisodes: 10,
	seed:         42,
	outDir:       "runs",
}

var dqnCfg = dqnConfig{
	layers:         []int{128},
	solverName:     "adam",
	lr:             6.25e-5,
	epsilonMax:     1.0,
	epsilonMin:     0.01,
	epsilonDecay:   1e-5,
	replayCapacity: 10000,
	batchSize:      128,
	gamma:          0.99,
	targetUpdate:   100,
	reportInterval: 200,
}

var nqCfg = nstepConfig{
	layers:         []int{128},
	solverName:     "adam",
	lr:             6.25e-5,
	noisyStd:       0.5,
	alpha:          0.5,
	beta:           0.4,
	priorEps:       1e-6,
	nStep:          3,
	replayCapacity: 10000,
	batchSize:      128,
	gamma:          0.99,
	targetUpdate:   100,
	reportInterval: 200,
}

var (
	checkpointPath    string
	resumePath        string
	resumeHistoryPath string
)

var rootCmd = &cobra.Command{
	Use:   "godqn",
	Short: "Deep Q-learning agents on small discrete environments",
	Long: `Godqn trains and evaluates deep Q-learning agents.

Two agents are available. The baseline dqn agent learns one-step
targets from uniformly sampled experience and explores with an
annealed epsilon-greedy policy. The nstepq agent learns n-step targets
from prioritized experience and explores through noisy network layers
instead of epsilon-greedy action selection.

Every training run writes its plots, history, checkpoints, and
recorded evaluation episodes into a fresh run directory.`,
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train an agent",
	Long: `Train runs a full training and evaluation cycle, writing the
run's plots, history, checkpoints, and recorded evaluation episodes
into a fresh run directory.

Training starts from scratch unless --resume names a checkpoint to
restore the agent from, in which case the environment and network
flags must match the ones the checkpoint was trained with. A resumed
run still writes into a fresh run directory and starts a new history;
pass --resume-history to continue the previous run's history instead.`,
}

var trainDQNCmd = &cobra.Command{
	Use:   "dqn",
	Short: "Train the baseline deep Q-network agent",
	RunE:  runTrainDQN,
}

var trainNStepQCmd = &cobra.Command{
	Use:   "nstepq",
	Short: "Train the n-step prioritized agent with noisy networks",
	RunE:  runTrainNStepQ,
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate an agent restored from a checkpoint",
	Long: `Evaluate restores an agent from a training checkpoint and runs
greedy evaluation episodes on a recorded environment.

The environment and network flags must match the ones the checkpoint
was trained with, since the checkpoint stores only weights and
counters, not the network architecture.`,
}

var evaluateDQNCmd = &cobra.Command{
	Use:   "dqn",
	Short: "Evaluate a checkpointed deep Q-network agent",
	RunE:  runEvaluateDQN,
}

var evaluateNStepQCmd = &cobra.Command{
	Use:   "nstepq",
	Short: "Evaluate a checkpointed n-step prioritized agent",
	RunE:  runEvaluateNStepQ,
}

func init() {
	trainCmd.AddCommand(trainDQNCmd, trainNStepQCmd)
	evaluateCmd.AddCommand(evaluateDQNCmd, evaluateNStepQCmd)
	rootCmd.AddCommand(trainCmd, evaluateCmd)

	for _, cmd := range []*cobra.Command{trainDQNCmd, evaluateDQNCmd} {
		addRunFlags(cmd)
		addDQNFlags(cmd)
	}
	for _, cmd := range []*cobra.Command{trainNStepQCmd, evaluateNStepQCmd} {
		addRunFlags(cmd)
		addNStepQFlags(cmd)
	}

	for _, cmd := range []*cobra.Command{trainDQNCmd, trainNStepQCmd} {
		cmd.Flags().StringVar(&resumePath, "resume", "",
			"Checkpoint to restore the agent from before training")
		cmd.Flags().StringVar(&resumeHistoryPath, "resume-history", "",
			"History file of a previous run to continue")
	}

	for _, cmd := range []*cobra.Command{evaluateDQNCmd, evaluateNStepQCmd} {
		cmd.Flags().StringVar(&checkpointPath, "checkpoint", "",
			"Path of the checkpoint to restore")
		cmd.MarkFlagRequired("checkpoint")
	}

	// Bind flags to viper for environment variable support
	for _, cmd := range []*cobra.Command{trainDQNCmd, trainNStepQCmd,
		evaluateDQNCmd, evaluateNStepQCmd} {
		viper.BindPFlags(cmd.Flags())
	}
	viper.SetEnvPrefix("GODQN")
	viper.AutomaticEnv()
}

// addRunFlags registers the environment and run settings shared by
// every command
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&run.envName, "env", run.envName,
		"Environment to run on (chain or gridworld)")
	cmd.Flags().IntVar(&run.chainStates, "chain-states", run.chainStates,
		"Number of states in the chain environment")
	cmd.Flags().IntVar(&run.gridRows, "grid-rows", run.gridRows,
		"Number of rows in the gridworld environment")
	cmd.Flags().IntVar(&run.gridCols, "grid-cols", run.gridCols,
		"Number of columns in the gridworld environment")
	cmd.Flags().IntVar(&run.maxSteps, "max-episode-steps", run.maxSteps,
		"Steps before an episode is cut off")

	cmd.Flags().IntVar(&run.frames, "frames", run.frames,
		"Environment frames to train for")
	cmd.Flags().IntVar(&run.testEpisodes, "test-episodes",
		run.testEpisodes, "Greedy evaluation episodes to run")
	cmd.Flags().Uint64Var(&run.seed, "seed", run.seed,
		"Seed of the run's random number generators")
	cmd.Flags().StringVar(&run.outDir, "out", run.outDir,
		"Directory that run directories are created under")
	cmd.Flags().BoolVar(&run.debug, "debug", run.debug,
		"Log debug messages")
}

// addDQNFlags registers the baseline agent's hyperparameter flags
func addDQNFlags(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&dqnCfg.layers, "layers", dqnCfg.layers,
		"Hidden layer sizes of the value network")
	cmd.Flags().StringVar(&dqnCfg.solverName, "solver", dqnCfg.solverName,
		"Gradient descent solver (adam, rmsprop, or sgd)")
	cmd.Flags().Float64Var(&dqnCfg.lr, "lr", dqnCfg.lr,
		"Step size of the solver")
	cmd.Flags().Float64Var(&dqnCfg.epsilonMax, "epsilon-max",
		dqnCfg.epsilonMax, "Initial exploration rate")
	cmd.Flags().Float64Var(&dqnCfg.epsilonMin, "epsilon-min",
		dqnCfg.epsilonMin, "Final exploration rate")
	cmd.Flags().Float64Var(&dqnCfg.epsilonDecay, "epsilon-decay",
		dqnCfg.epsilonDecay, "Decay rate of the exploration schedule")

	cmd.Flags().IntVar(&dqnCfg.replayCapacity, "replay-capacity",
		dqnCfg.replayCapacity, "Transitions held in the replay buffer")
	cmd.Flags().IntVar(&dqnCfg.batchSize, "batch-size", dqnCfg.batchSize,
		"Transitions sampled per learning step")
	cmd.Flags().Float64Var(&dqnCfg.gamma, "gamma", dqnCfg.gamma,
		"Discount factor")
	cmd.Flags().IntVar(&dqnCfg.targetUpdate, "target-update",
		dqnCfg.targetUpdate, "Learning steps between target network syncs")
	cmd.Flags().IntVar(&dqnCfg.reportInterval, "report-interval",
		dqnCfg.reportInterval, "Frames between diagnostic reports")
}

// addNStepQFlags registers the n-step prioritized agent's
// hyperparameter flags
func addNStepQFlags(cmd *cobra.Command) {
	cmd.Flags().IntSliceVar(&nqCfg.layers, "layers", nqCfg.layers,
		"Hidden layer sizes of the value network")
	cmd.Flags().StringVar(&nqCfg.solverName, "solver", nqCfg.solverName,
		"Gradient descent solver (adam, rmsprop, or sgd)")
	cmd.Flags().Float64Var(&nqCfg.lr, "lr", nqCfg.lr,
		"Step size of the solver")
	cmd.Flags().Float64Var(&nqCfg.noisyStd, "noisy-std", nqCfg.noisyStd,
		"Initial scale of the noisy layer weight noise")

	cmd.Flags().Float64Var(&nqCfg.alpha, "alpha", nqCfg.alpha,
		"Priority exponent of the replay buffer")
	cmd.Flags().Float64Var(&nqCfg.beta, "beta", nqCfg.beta,
		"Initial importance sampling exponent")
	cmd.Flags().Float64Var(&nqCfg.priorEps, "priority-epsilon",
		nqCfg.priorEps, "Priority floor added to every sampled loss")
	cmd.Flags().IntVar(&nqCfg.nStep, "n-step", nqCfg.nStep,
		"Steps accumulated into each stored transition")

	cmd.Flags().IntVar(&nqCfg.replayCapacity, "replay-capacity",
		nqCfg.replayCapacity, "Transitions held in the replay buffer")
	cmd.Flags().IntVar(&nqCfg.batchSize, "batch-size", nqCfg.batchSize,
		"Transitions sampled per learning step")
	cmd.Flags().Float64Var(&nqCfg.gamma, "gamma", nqCfg.gamma,
		"Discount factor")
	cmd.Flags().IntVar(&nqCfg.targetUpdate, "target-update",
		nqCfg.targetUpdate, "Learning steps between target network syncs")
	cmd.Flags().IntVar(&nqCfg.reportInterval, "report-interval",
		nqCfg.reportInterval, "Frames between diagnostic reports")
}

// newLogger returns the logger that commands report through
func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if run.debug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().
		Logger()
}

// newEnvironment builds the environment named by the --env flag
func newEnvironment() (environment.Environment, error) {
	switch run.envName {
	case "chain":
		return chain.New(run.chainStates, run.maxSteps)
	case "gridworld":
		// The goal sits in the top-right corner and episodes start in
		// a random non-goal cell
		return gridworld.NewRandomStart(run.gridRows, run.gridCols,
			[]int{run.gridCols - 1}, []int{run.gridRows - 1}, -1.0, 1.0,
			run.maxSteps)
	}

	return nil, fmt.Errorf("no such environment %q, expected chain or "+
		"gridworld", run.envName)
}

// newSolver builds the gradient descent solver named by the --solver
// flag
func newSolver(name string, lr float64, batchSize int) (*solver.Solver,
	error) {
	switch name {
	case "adam":
		return solver.NewDefaultAdam(lr, batchSize)
	case "rmsprop":
		return solver.NewDefaultRMSProp(lr, batchSize)
	case "sgd":
		return solver.NewVanilla(lr, batchSize, 0)
	}

	return nil, fmt.Errorf("no such solver %q, expected adam, rmsprop, "+
		"or sgd", name)
}

// newDeepQ builds the baseline agent and its training environment from
// the command line flags
func newDeepQ() (*deepq.DeepQ, environment.Environment, error) {
	env, err := newEnvironment()
	if err != nil {
		return nil, nil, err
	}

	sol, err := newSolver(dqnCfg.solverName, dqnCfg.lr, dqnCfg.batchSize)
	if err != nil {
		return nil, nil, err
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, nil, err
	}

	activations := make([]*network.Activation, len(dqnCfg.layers))
	biases := make([]bool, len(dqnCfg.layers))
	for i := range activations {
		activations[i] = network.ReLU()
		biases[i] = true
	}

	config := deepq.Config{
		PolicyLayers: dqnCfg.layers,
		Biases:       biases,
		Activations:  activations,
		InitWFn:      init,
		Solver:       sol,
		Epsilon: agent.EpsilonSchedule{
			Max:   dqnCfg.epsilonMax,
			Min:   dqnCfg.epsilonMin,
			Decay: dqnCfg.epsilonDecay,
		},
		ReplayCapacity:       dqnCfg.replayCapacity,
		BatchSize:            dqnCfg.batchSize,
		Gamma:                dqnCfg.gamma,
		TargetUpdateInterval: dqnCfg.targetUpdate,
		ReportInterval:       dqnCfg.reportInterval,
	}

	q, err := deepq.New(env, config, run.seed)
	if err != nil {
		env.Close()
		return nil, nil, err
	}

	return q, env, nil
}

// newNStepQ builds the n-step prioritized agent and its training
// environment from the command line flags
func newNStepQ() (*nstepq.NStepQ, environment.Environment, error) {
	env, err := newEnvironment()
	if err != nil {
		return nil, nil, err
	}

	sol, err := newSolver(nqCfg.solverName, nqCfg.lr, nqCfg.batchSize)
	if err != nil {
		return nil, nil, err
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, nil, err
	}

	activations := make([]*network.Activation, len(nqCfg.layers))
	for i := range activations {
		activations[i] = network.ReLU()
	}

	config := nstepq.Config{
		PolicyLayers:         nqCfg.layers,
		Activations:          activations,
		NoisyStd:             nqCfg.noisyStd,
		InitWFn:              init,
		Solver:               sol,
		ReplayCapacity:       nqCfg.replayCapacity,
		BatchSize:            nqCfg.batchSize,
		Alpha:                nqCfg.alpha,
		Beta:                 nqCfg.beta,
		PriorityEpsilon:      nqCfg.priorEps,
		NStep:                nqCfg.nStep,
		Gamma:                nqCfg.gamma,
		TargetUpdateInterval: nqCfg.targetUpdate,
		ReportInterval:       nqCfg.reportInterval,
	}

	q, err := nstepq.New(env, config, run.seed)
	if err != nil {
		env.Close()
		return nil, nil, err
	}

	return q, env, nil
}

// signalContext returns a context cancelled by an interrupt or
// termination signal
func signalContext(log zerolog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	return ctx
}

// train runs a full training and evaluation cycle for an agent,
// restoring the agent from a previous run first when --resume is set
func train(a agent.Agent, env environment.Environment) error {
	log := newLogger()
	defer env.Close()

	if resumePath != "" {
		target, ok := a.(checkpointer.Serializable)
		if !ok {
			return fmt.Errorf("train: agent cannot be restored from a " +
				"checkpoint")
		}
		if err := checkpointer.Load(resumePath, target); err != nil {
			return err
		}
		log.Info().
			Str("checkpoint", resumePath).
			Msg("restored agent from checkpoint")
	}

	if resumeHistoryPath != "" {
		setter, ok := a.(experiment.TrackerSetter)
		if !ok {
			return fmt.Errorf("train: agent cannot continue a previous " +
				"run's history")
		}
		history, err := tracker.LoadHistory(resumeHistoryPath)
		if err != nil {
			return err
		}
		setter.SetTracker(history)
		log.Info().
			Str("history", resumeHistoryPath).
			Msg("continuing history of previous run")
	}

	testEnv, err := newEnvironment()
	if err != nil {
		return err
	}

	e, err := experiment.New(a, testEnv, run.outDir, log)
	if err != nil {
		return err
	}
	defer e.Close()

	returns, err := e.Run(signalContext(log), run.frames, run.testEpisodes)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("training interrupted")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("dir", e.RunDir()).
		Float64("meanReturn", stat.Mean(returns, nil)).
		Msg("run finished")

	return nil
}

// evaluate restores an agent from the --checkpoint flag and runs
// recorded greedy evaluation episodes
func evaluate(a agent.Agent, env environment.Environment) error {
	log := newLogger()
	defer env.Close()
	defer a.Close()

	target, ok := a.(checkpointer.Serializable)
	if !ok {
		return fmt.Errorf("evaluate: agent cannot be restored from a " +
			"checkpoint")
	}
	if err := checkpointer.Load(checkpointPath, target); err != nil {
		return err
	}

	testEnv, err := newEnvironment()
	if err != nil {
		return err
	}

	dir := filepath.Join(run.outDir, "evaluation-"+uuid.New().String())
	rec, err := wrappers.NewRecorder(testEnv, dir)
	if err != nil {
		return err
	}
	defer rec.Close()

	if setter, ok := a.(experiment.TestEnvSetter); ok {
		setter.SetTestEnv(rec)
	}
	if setter, ok := a.(experiment.LoggerSetter); ok {
		setter.SetLogger(log)
	}

	returns, err := a.Test(run.testEpisodes)
	if err != nil {
		return err
	}

	log.Info().
		Str("dir", dir).
		Str("checkpoint", checkpointPath).
		Float64("meanReturn", stat.Mean(returns, nil)).
		Msg("evaluation finished")

	return nil
}

func runTrainDQN(cmd *cobra.Command, args []string) error {
	q, env, err := newDeepQ()
	if err != nil {
		return err
	}

	return train(q, env)
}

func runTrainNStepQ(cmd *cobra.Command, args []string) error {
	q, env, err := newNStepQ()
	if err != nil {
		return err
	}

	return train(q, env)
}

func runEvaluateDQN(cmd *cobra.Command, args []string) error {
	q, env, err := newDeepQ()
	if err != nil {
		return err
	}

	return evaluate(q, env)
}

func runEvaluateNStepQ(cmd *cobra.Command, args []string) error {
	q, env, err := newNStepQ()
	if err != nil {
		return err
	}

	return evaluate(q, env)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
