// Package nstepq implements deep Q-learning with three extensions
// over the deepq package: multi-step learning targets, prioritized
// experience replay, and noisy networks for exploration:
//
//	https://arxiv.org/abs/1511.05952
//	https://arxiv.org/abs/1706.10295
//
// Transitions are aggregated into n-step transitions before they are
// stored, so the update target bootstraps n frames ahead with discount
// γⁿ. Minibatches are sampled proportional to transition priority, the
// per-sample Huber losses are weighted by importance-sampling weights
// whose exponent β anneals toward 1 over training, and the absolute
// per-sample losses become the new priorities of the sampled
// transitions. Exploration comes from factorized Gaussian noise on the
// network weights, resampled after every learning step, so the
// behaviour policy is greedy and no ε schedule is needed.
package nstepq

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/agent/policy"
	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/experiment/checkpointer"
	"github.com/samuelfneumann/godqn/experiment/tracker"
	"github.com/samuelfneumann/godqn/expreplay"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
	"github.com/samuelfneumann/godqn/timestep"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// meanReturnEpisodes is the number of most recent episodes over which
// the mean return is reported
const meanReturnEpisodes int = 10

// NStepQ implements deep Q-learning with n-step targets, prioritized
// replay, and noisy networks.
//
// The agent uses the same three-network layout as deepq.DeepQ: a
// behaviour policy with an input batch size of 1 for action selection,
// a train network whose weights are adapted by gradient descent, and a
// target network that predicts the next state-action values and is
// hard-synced from the train network at a fixed interval of gradient
// steps. All three networks carry their own weight noise, resampled
// after every learning step.
type NStepQ struct {
	env environment.Environment

	// testEnv, when set, is used for evaluation episodes in place of
	// the training environment
	testEnv environment.Environment

	// Policy that selects actions in the environment. The policy is
	// greedy: its network's weight noise drives exploration.
	behaviourPolicy agent.NoisyNNPolicy

	// Network and solver for learning weights, with input batchSize
	trainNet   network.NeuralNet
	trainNoise network.NoiseResetter
	trainNetVM G.VM
	solver     *solver.Solver

	// Network that provides the update target, with input batchSize
	targetNet            network.NeuralNet
	targetNoise          network.NoiseResetter
	targetNetVM          G.VM
	targetUpdateInterval int
	gradientSteps        int

	// Input nodes of the loss computation, set before each run of
	// trainNetVM
	selectedActions       *G.Node
	nextStateActionValues *G.Node
	rewards               *G.Node
	discounts             *G.Node
	weights               *G.Node

	// lossVal holds the importance-weighted mean loss and elemLossVal
	// the unreduced per-sample losses that become the new priorities
	lossVal     G.Value
	elemLossVal G.Value

	replay *expreplay.Prioritized

	// nStepGamma is γⁿ, the bootstrap discount of n-step transitions
	nStepGamma      float64
	priorityEpsilon float64

	// beta is the current importance sampling exponent. Each call to
	// Train anneals it toward 1 with a fresh schedule over that run's
	// frames, picking up from the current value.
	beta         float64
	betaSchedule *agent.BetaSchedule

	numActions  int
	numFeatures int
	batchSize   int
	seed        uint64

	// totalFrames counts frames across calls to Train. It is atomic
	// so that TotalFrames can be polled while Train runs.
	totalFrames atomic.Int64
	halved      bool

	reportInterval int

	// Collaborators for recording training progress
	history *tracker.History
	ckpt    *checkpointer.Checkpointer
	runDir  string
	log     zerolog.Logger
}

// New creates a new NStepQ agent that learns to act in environment e.
// The weights of all three networks start equal, but each network
// draws its own weight noise. The seed determines the noise streams,
// the tie-breaking of the behaviour policy, and the sampling of the
// replay buffer.
func New(e environment.Environment, config Config,
	seed uint64) (*NStepQ, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("nstepq: %v", err)
	}

	// Ensure environment has discrete actions
	actionSpec := e.ActionSpec()
	if actionSpec.Cardinality != environment.Discrete {
		return nil, fmt.Errorf("nstepq: cannot use non-discrete actions")
	}
	// Ensure actions are one-dimensional
	if actionSpec.Shape.Len() != 1 {
		return nil, fmt.Errorf("nstepq: actions must be one-dimensional")
	}
	// Ensure actions are enumerated from 0
	if int(actionSpec.LowerBound.AtVec(0)) != 0 {
		return nil, fmt.Errorf("nstepq: actions must be enumerated " +
			"starting from 0")
	}
	numActions := int(actionSpec.UpperBound.AtVec(0)) + 1
	numFeatures := e.ObservationSpec().Shape.Len()

	// Behaviour policy selects a single action at a time
	behaviourPolicy, err := policy.NewNoisyGreedyMLP(
		e,
		1,
		G.NewGraph(),
		config.PolicyLayers,
		config.NoisyStd,
		config.InitWFn.InitWFn(),
		config.Activations,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("nstepq: could not create behaviour "+
			"policy: %v", err)
	}

	// The train and target networks predict the action values of a
	// full minibatch at a time and start with the behaviour weights
	trainNet, err := behaviourPolicy.Network().CloneWithBatch(
		config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("nstepq: could not create train "+
			"network: %v", err)
	}
	targetNet, err := trainNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("nstepq: could not create target "+
			"network: %v", err)
	}

	trainNoise, ok := trainNet.(network.NoiseResetter)
	if !ok {
		return nil, fmt.Errorf("nstepq: train network cannot resample " +
			"noise")
	}
	targetNoise, ok := targetNet.(network.NoiseResetter)
	if !ok {
		return nil, fmt.Errorf("nstepq: target network cannot resample " +
			"noise")
	}

	// Build the loss computation on the train network's graph
	gTrain := trainNet.Graph()
	batchSize := config.BatchSize

	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetPredictions"))
	rewards := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("rewards"))
	discounts := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("discounts"))
	weights := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("weights"))

	// Update target: R + γⁿ * max_a Q(s'', a) * (1 - done), where R is
	// the n-step return and s'' the state n frames ahead. The
	// discounts input already holds γⁿ * (1 - done) per transition.
	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	selectedActions := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("selectedActions"))
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Unreduced Huber loss of the TD error. The per-sample losses are
	// read out of the graph after each run to become the new
	// priorities of the sampled transitions.
	one := G.NewConstant(1.0)
	half := G.NewConstant(0.5)
	absErr := G.Must(G.Abs(G.Must(G.Sub(updateTarget,
		selectedActionsValue))))
	excess := G.Must(G.Rectify(G.Must(G.Sub(absErr, one))))
	quadratic := G.Must(G.Sub(absErr, excess))
	losses := G.Must(G.Add(
		G.Must(G.HadamardProd(half, G.Must(G.Square(quadratic)))),
		excess,
	))

	var elemLossVal G.Value
	G.Read(losses, &elemLossVal)

	// The final loss is the importance-weighted mean, which corrects
	// the bias of prioritized sampling
	cost := G.Must(G.Mean(G.Must(G.HadamardProd(losses, weights))))

	var lossVal G.Value
	G.Read(cost, &lossVal)

	// Calculate the gradient with respect to the cost
	_, err = G.Grad(cost, trainNet.Learnables()...)
	if err != nil {
		return nil, fmt.Errorf("nstepq: could not compute gradient: %v",
			err)
	}

	// Compile the graphs
	trainNetVM := G.NewTapeMachine(
		gTrain,
		G.BindDualValues(trainNet.Learnables()...),
	)
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	replay, err := expreplay.NewPrioritized(numFeatures,
		config.ReplayCapacity, config.BatchSize, config.Alpha,
		config.NStep, config.Gamma, seed)
	if err != nil {
		return nil, fmt.Errorf("nstepq: could not create replay "+
			"buffer: %v", err)
	}

	return &NStepQ{
		env:             e,
		behaviourPolicy: behaviourPolicy,

		trainNet:   trainNet,
		trainNoise: trainNoise,
		trainNetVM: trainNetVM,
		solver:     config.Solver,

		targetNet:            targetNet,
		targetNoise:          targetNoise,
		targetNetVM:          targetNetVM,
		targetUpdateInterval: config.TargetUpdateInterval,

		selectedActions:       selectedActions,
		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		discounts:             discounts,
		weights:               weights,
		lossVal:               lossVal,
		elemLossVal:           elemLossVal,

		replay: replay,

		nStepGamma:      math.Pow(config.Gamma, float64(config.NStep)),
		priorityEpsilon: config.PriorityEpsilon,
		beta:            config.Beta,

		numActions:  numActions,
		numFeatures: numFeatures,
		batchSize:   batchSize,
		seed:        seed,

		reportInterval: config.ReportInterval,

		history: tracker.NewHistory("beta"),
		log:     zerolog.Nop(),
	}, nil
}

// SetTracker sets the history in which the agent records its episode
// returns, losses, and importance sampling exponents, replacing the
// agent's own. Passing a loaded history lets a resumed run keep
// extending its original learning curves.
func (n *NStepQ) SetTracker(h *tracker.History) {
	if h != nil {
		n.history = h
	}
}

// Tracker returns the history in which the agent records its training
// progress
func (n *NStepQ) Tracker() *tracker.History {
	return n.history
}

// SetCheckpointer sets the checkpointer that the agent invokes on each
// progress report
func (n *NStepQ) SetCheckpointer(c *checkpointer.Checkpointer) {
	n.ckpt = c
}

// SetRunDir sets the directory in which the agent saves its training
// history and plots on each progress report. When unset, reports only
// log.
func (n *NStepQ) SetRunDir(dir string) {
	n.runDir = dir
}

// SetLogger sets the logger for progress reports
func (n *NStepQ) SetLogger(log zerolog.Logger) {
	n.log = log
}

// SetTestEnv sets the environment used for evaluation episodes. This
// allows Test to run in, for example, a recording wrapper around the
// training environment.
func (n *NStepQ) SetTestEnv(e environment.Environment) {
	n.testEnv = e
}

// TotalFrames returns the total number of frames the agent has been
// trained on, across checkpoints. It is safe to call concurrently
// with Train.
func (n *NStepQ) TotalFrames() int {
	return int(n.totalFrames.Load())
}

// Beta returns the current importance sampling exponent
func (n *NStepQ) Beta() float64 {
	return n.beta
}

// Train runs the training loop for numFrames frames. Each frame the
// agent selects an action greedily under its current weight noise,
// records the resulting transition, and, once the replay buffer holds
// a full minibatch, takes one gradient step on the importance-weighted
// Huber loss. The importance sampling exponent anneals toward 1 over
// the frames of this call, and the step size of the solver is halved
// once at the midpoint. Train returns early when ctx is cancelled.
//
// Train may be called again to continue training, e.g. after restoring
// from a checkpoint; the annealing of the importance sampling exponent
// then restarts from its current value over the new call's frames.
func (n *NStepQ) Train(ctx context.Context, numFrames int) error {
	if numFrames <= 0 {
		return fmt.Errorf("train: frames must be positive\n\twant(>0)"+
			"\n\thave(%v)", numFrames)
	}

	betaSchedule, err := agent.NewBetaSchedule(n.beta, numFrames)
	if err != nil {
		return fmt.Errorf("train: %v", err)
	}
	n.betaSchedule = betaSchedule

	step, err := n.env.Reset(n.seed)
	if err != nil {
		return fmt.Errorf("train: could not reset environment: %v", err)
	}

	halfway := numFrames / 2
	var score float64

	for frame := 1; frame <= numFrames; frame++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		totalFrames := int(n.totalFrames.Add(1))

		action, _ := n.behaviourPolicy.SelectAction(step)
		next, err := n.env.Step(action)
		if err != nil {
			return fmt.Errorf("train: could not step environment: %v", err)
		}

		if err := n.replay.Add(timestep.NewTransition(step, action,
			next)); err != nil {
			return fmt.Errorf("train: could not record transition: %v", err)
		}
		score += next.Reward
		step = next

		// Anneal the importance sampling correction toward 1
		n.beta = n.betaSchedule.Advance(frame)
		n.history.AddExploration(n.beta)

		if step.Last() {
			n.history.AddReturn(score)
			score = 0

			step, err = n.env.Reset(n.seed)
			if err != nil {
				return fmt.Errorf("train: could not reset environment: %v",
					err)
			}
		}

		if n.replay.Len() >= n.batchSize {
			loss, err := n.update()
			if err != nil {
				return fmt.Errorf("train: could not update networks: %v",
					err)
			}
			n.history.AddLoss(loss)
		}

		// Halve the step size once, at the midpoint of training
		if !n.halved && halfway > 0 && totalFrames >= halfway {
			if err := n.solver.Rescale(0.5); err != nil {
				return fmt.Errorf("train: could not rescale solver: %v", err)
			}
			n.halved = true
			n.log.Info().
				Int("frame", totalFrames).
				Msg("halved solver step size")
		}

		if n.reportInterval > 0 && totalFrames%n.reportInterval == 0 {
			n.report()
		}
	}

	return nil
}

// update takes one gradient step on a prioritized minibatch and
// returns the importance-weighted loss. After the step it writes the
// per-sample losses back as the priorities of the sampled transitions,
// hard-syncs the target network every targetUpdateInterval gradient
// steps, updates the behaviour policy to use the newly learned
// weights, and resamples the weight noise of all three networks.
func (n *NStepQ) update() (float64, error) {
	// Replay buffer errors are returned unwrapped so that they stay
	// classifiable with expreplay.IsEmptyBuffer and friends
	prioritized, err := n.replay.Sample(n.beta)
	if err != nil {
		return 0, err
	}

	// Re-fetch the sampled slots so that the n-step loss is computed
	// for exactly the prioritized sample
	batch, err := n.replay.SampleFrom(prioritized.Indices)
	if err != nil {
		return 0, fmt.Errorf("update: could not fetch sampled "+
			"transitions: %v", err)
	}

	// Predict the action values of the current and the n-step-ahead
	// states
	if err := n.trainNet.SetInput(batch.States); err != nil {
		return 0, fmt.Errorf("update: could not set trainNet input: %v",
			err)
	}
	if err := n.targetNet.SetInput(batch.NextStates); err != nil {
		return 0, fmt.Errorf("update: could not set targetNet input: %v",
			err)
	}
	if err := n.targetNetVM.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run target network: %v",
			err)
	}

	// Feed the target network's predictions into the loss computation
	if err := G.Let(n.nextStateActionValues,
		n.targetNet.Output()); err != nil {
		return 0, fmt.Errorf("update: could not set next state-action "+
			"values: %v", err)
	}
	n.targetNetVM.Reset()

	rewardTensor := tensor.New(tensor.WithBacking(batch.Rewards),
		tensor.WithShape(n.batchSize))
	if err := G.Let(n.rewards, rewardTensor); err != nil {
		return 0, fmt.Errorf("update: could not set rewards: %v", err)
	}

	// Transitions whose episode finished within the n-step window do
	// not bootstrap
	discounts := make([]float64, n.batchSize)
	for i, done := range batch.Dones {
		discounts[i] = n.nStepGamma * (1.0 - done)
	}
	discountTensor := tensor.New(tensor.WithBacking(discounts),
		tensor.WithShape(n.batchSize))
	if err := G.Let(n.discounts, discountTensor); err != nil {
		return 0, fmt.Errorf("update: could not set discounts: %v", err)
	}

	weightTensor := tensor.New(tensor.WithBacking(prioritized.Weights),
		tensor.WithShape(n.batchSize))
	if err := G.Let(n.weights, weightTensor); err != nil {
		return 0, fmt.Errorf("update: could not set importance "+
			"weights: %v", err)
	}

	// One-hot encode the actions taken
	selected := make([]float64, n.batchSize*n.numActions)
	for i, action := range batch.Actions {
		selected[i*n.numActions+action] = 1.0
	}
	selectedTensor := tensor.New(tensor.WithBacking(selected),
		tensor.WithShape(n.batchSize, n.numActions))
	if err := G.Let(n.selectedActions, selectedTensor); err != nil {
		return 0, fmt.Errorf("update: could not set selected actions: %v",
			err)
	}

	// Run the learning step
	if err := n.trainNetVM.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run train network: %v", err)
	}
	if err := n.solver.Step(n.trainNet.Model()); err != nil {
		return 0, fmt.Errorf("update: could not step solver: %v", err)
	}
	n.trainNetVM.Reset()
	n.gradientSteps++

	// The per-sample losses become the new priorities of the sampled
	// transitions
	elemLosses := n.elemLossVal.Data().([]float64)
	priorities := make([]float64, n.batchSize)
	for i, loss := range elemLosses {
		priorities[i] = math.Abs(loss) + n.priorityEpsilon
	}
	if err := n.replay.UpdatePriorities(prioritized.Indices,
		priorities); err != nil {
		return 0, fmt.Errorf("update: could not update priorities: %v", err)
	}

	// Hard-sync the target network at a fixed interval of gradient
	// steps
	if n.gradientSteps%n.targetUpdateInterval == 0 {
		if err := n.targetNet.Set(n.trainNet); err != nil {
			return 0, fmt.Errorf("update: could not sync target "+
				"network: %v", err)
		}
	}

	// The behaviour policy acts with the newly learned weights
	if err := n.behaviourPolicy.Network().Set(n.trainNet); err != nil {
		return 0, fmt.Errorf("update: could not update behaviour "+
			"policy: %v", err)
	}

	// Resample the weight noise of all three networks so the next
	// frame explores under fresh noise
	if err := n.behaviourPolicy.ResetNoise(); err != nil {
		return 0, fmt.Errorf("update: could not reset behaviour "+
			"noise: %v", err)
	}
	if err := n.trainNoise.ResetNoise(); err != nil {
		return 0, fmt.Errorf("update: could not reset train noise: %v", err)
	}
	if err := n.targetNoise.ResetNoise(); err != nil {
		return 0, fmt.Errorf("update: could not reset target noise: %v",
			err)
	}

	return n.lossVal.Data().(float64), nil
}

// Test evaluates the agent for a number of episodes, returning the
// return of each episode. The behaviour policy is already greedy, so
// evaluation simply stops resampling the weight noise: each episode
// runs under the noise sample left by training. Evaluation episodes
// run in the test environment when one was set and in the training
// environment otherwise.
func (n *NStepQ) Test(episodes int) ([]float64, error) {
	if episodes <= 0 {
		return nil, fmt.Errorf("test: episodes must be positive"+
			"\n\twant(>0)\n\thave(%v)", episodes)
	}

	env := n.env
	if n.testEnv != nil {
		env = n.testEnv
	}

	returns := make([]float64, episodes)
	for episode := range returns {
		step, err := env.Reset(n.seed)
		if err != nil {
			return nil, fmt.Errorf("test: could not reset environment: %v",
				err)
		}

		var score float64
		for !step.Last() {
			action, _ := n.behaviourPolicy.SelectAction(step)
			step, err = env.Step(action)
			if err != nil {
				return nil, fmt.Errorf("test: could not step "+
					"environment: %v", err)
			}
			score += step.Reward
		}
		returns[episode] = score

		n.log.Info().
			Int("episode", episode).
			Float64("return", score).
			Msg("test episode finished")
	}

	return returns, nil
}

// report logs the agent's recent performance and writes the training
// artifacts of the agent's collaborators
func (n *NStepQ) report() {
	n.log.Info().
		Int("frame", n.TotalFrames()).
		Int("episodes", n.history.Episodes()).
		Float64("meanReturn",
			n.history.RecentMeanReturn(meanReturnEpisodes)).
		Float64("beta", n.beta).
		Msg("training progress")

	if n.runDir != "" {
		if err := n.history.Plot(filepath.Join(n.runDir, "plots")); err !=
			nil {
			n.log.Error().Err(err).Msg("could not plot training history")
		}
		if err := n.history.Save(filepath.Join(n.runDir,
			"history.bin")); err != nil {
			n.log.Error().Err(err).Msg("could not save training history")
		}
	}

	if n.ckpt != nil {
		path, err := n.ckpt.Checkpoint()
		if err != nil {
			n.log.Error().Err(err).Msg("could not write checkpoint")
		} else {
			n.log.Debug().Str("path", path).Msg("checkpoint written")
		}
	}
}

// Close cleans up the agent's resources
func (n *NStepQ) Close() error {
	if err := n.behaviourPolicy.Close(); err != nil {
		return fmt.Errorf("close: could not close behaviour policy: %v",
			err)
	}
	if err := n.trainNetVM.Close(); err != nil {
		return fmt.Errorf("close: could not close train VM: %v", err)
	}
	if err := n.targetNetVM.Close(); err != nil {
		return fmt.Errorf("close: could not close target VM: %v", err)
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface so that the agent
// can be checkpointed. The learned weights of the train and target
// networks, the training counters, and the current importance sampling
// exponent are serialized; the replay buffer and the transient weight
// noise are not.
func (n *NStepQ) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(&n.trainNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode train "+
			"network: %v", err)
	}
	if err := enc.Encode(&n.targetNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode target "+
			"network: %v", err)
	}
	if err := enc.Encode(n.totalFrames.Load()); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode total "+
			"frames: %v", err)
	}
	if err := enc.Encode(n.gradientSteps); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode gradient "+
			"steps: %v", err)
	}
	if err := enc.Encode(n.halved); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode step size "+
			"state: %v", err)
	}
	if err := enc.Encode(n.beta); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode importance "+
			"sampling exponent: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The agent must
// have been constructed with New before decoding into it; decoding
// restores the learned weights, the training counters, and the
// importance sampling exponent, and rescales the solver's step size to
// match the restored training progress. All three networks keep their
// own fresh weight noise.
func (n *NStepQ) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var trainNet network.NeuralNet
	if err := dec.Decode(&trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode train network: %v",
			err)
	}
	if err := n.trainNet.Set(trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore train network: %v",
			err)
	}
	if err := n.behaviourPolicy.Network().Set(trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore behaviour "+
			"policy: %v", err)
	}

	var targetNet network.NeuralNet
	if err := dec.Decode(&targetNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode target network: %v",
			err)
	}
	if err := n.targetNet.Set(targetNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore target "+
			"network: %v", err)
	}

	var totalFrames int64
	if err := dec.Decode(&totalFrames); err != nil {
		return fmt.Errorf("gobdecode: could not decode total frames: %v",
			err)
	}
	n.totalFrames.Store(totalFrames)
	if err := dec.Decode(&n.gradientSteps); err != nil {
		return fmt.Errorf("gobdecode: could not decode gradient steps: %v",
			err)
	}

	wasHalved := n.halved
	if err := dec.Decode(&n.halved); err != nil {
		return fmt.Errorf("gobdecode: could not decode step size "+
			"state: %v", err)
	}
	if n.halved && !wasHalved {
		if err := n.solver.Rescale(0.5); err != nil {
			return fmt.Errorf("gobdecode: could not rescale solver: %v", err)
		}
	} else if !n.halved && wasHalved {
		if err := n.solver.Rescale(2.0); err != nil {
			return fmt.Errorf("gobdecode: could not rescale solver: %v", err)
		}
	}

	if err := dec.Decode(&n.beta); err != nil {
		return fmt.Errorf("gobdecode: could not decode importance "+
			"sampling exponent: %v", err)
	}
	// The next call to Train anneals from the restored exponent
	n.betaSchedule = nil

	return nil
}
