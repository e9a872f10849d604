// Package deepq implements the deep Q-learning algorithm with
// experience replay and a target network:
//
//	https://www.nature.com/articles/nature14236
//
// Action values are predicted by a feedforward neural network, and the
// behaviour policy is ε-greedy with respect to the predicted values.
// The exploration rate ε is annealed from a maximum to a minimum value
// as a function of the total number of frames seen. Transitions are
// recorded in a circular experience replay buffer, and on each
// learning step a uniformly sampled minibatch is used to take one
// gradient step on the Huber loss between the predicted action values
// and the update target
//
//	r + γ * max_a Q(s', a) * (1 - done)
//
// where the next state-action values Q(s', ·) are predicted by a
// separate target network whose weights are copied from the learned
// weights at a fixed interval of gradient steps.
package deepq

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
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

// DeepQ implements the deep Q-learning algorithm. The agent interacts
// with its environment one frame at a time, learning from minibatches
// sampled from an experience replay buffer.
//
// The agent uses three networks of identical architecture. The
// behaviour policy holds a network with an input batch size of 1 for
// action selection. The train network predicts the action values of a
// minibatch of states and is the only network whose weights are
// adapted by gradient descent; after each gradient step the behaviour
// policy is updated to use the newly learned weights. The target
// network predicts the action values of the next states in a
// minibatch, from which the update target is computed, and its weights
// are copied from the train network every TargetUpdateInterval
// gradient steps.
type DeepQ struct {
	env environment.Environment

	// testEnv, when set, is used for evaluation episodes in place of
	// the training environment
	testEnv environment.Environment

	// Policy that selects actions in the environment
	behaviourPolicy agent.EGreedyNNPolicy
	epsilon         agent.EpsilonSchedule

	// Network and solver for learning weights, with input batchSize
	trainNet   network.NeuralNet
	trainNetVM G.VM
	solver     *solver.Solver

	// Network that provides the update target, with input batchSize
	targetNet            network.NeuralNet
	targetNetVM          G.VM
	targetUpdateInterval int
	gradientSteps        int

	// Input nodes of the loss computation, set before each run of
	// trainNetVM
	selectedActions       *G.Node
	nextStateActionValues *G.Node
	rewards               *G.Node
	discounts             *G.Node
	lossVal               G.Value

	replay *expreplay.Buffer
	gamma  float64

	numActions  int
	numFeatures int
	batchSize   int
	seed        uint64

	// totalFrames counts frames across calls to Train so that
	// exploration keeps annealing when training resumes from a
	// checkpoint. It is atomic so that TotalFrames can be polled
	// while Train runs.
	totalFrames atomic.Int64
	halved      bool

	reportInterval int

	// Collaborators for recording training progress
	history *tracker.History
	ckpt    *checkpointer.Checkpointer
	runDir  string
	log     zerolog.Logger
}

// New creates a new DeepQ agent that learns to act in environment e.
// The weights of all three networks start equal. The seed determines
// the exploration of the behaviour policy and the minibatch sampling
// of the replay buffer.
func New(e environment.Environment, config Config,
	seed uint64) (*DeepQ, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("deepq: %v", err)
	}

	// Ensure environment has discrete actions
	actionSpec := e.ActionSpec()
	if actionSpec.Cardinality != environment.Discrete {
		return nil, fmt.Errorf("deepq: cannot use non-discrete actions")
	}
	// Ensure actions are one-dimensional
	if actionSpec.Shape.Len() != 1 {
		return nil, fmt.Errorf("deepq: actions must be one-dimensional")
	}
	// Ensure actions are enumerated from 0
	if int(actionSpec.LowerBound.AtVec(0)) != 0 {
		return nil, fmt.Errorf("deepq: actions must be enumerated " +
			"starting from 0")
	}
	numActions := int(actionSpec.UpperBound.AtVec(0)) + 1
	numFeatures := e.ObservationSpec().Shape.Len()

	// Behaviour policy selects a single action at a time
	behaviourPolicy, err := policy.NewMultiHeadEGreedyMLP(
		config.Epsilon.At(0),
		e,
		1,
		G.NewGraph(),
		config.PolicyLayers,
		config.Biases,
		config.InitWFn.InitWFn(),
		config.Activations,
		seed,
	)
	if err != nil {
		return nil, fmt.Errorf("deepq: could not create behaviour "+
			"policy: %v", err)
	}

	// The train and target networks predict the action values of a
	// full minibatch at a time and start with the behaviour weights
	trainNet, err := behaviourPolicy.Network().CloneWithBatch(
		config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("deepq: could not create train network: %v",
			err)
	}
	targetNet, err := trainNet.Clone()
	if err != nil {
		return nil, fmt.Errorf("deepq: could not create target network: %v",
			err)
	}

	// Build the loss computation on the train network's graph. The
	// next state-action values, rewards, discounts, and selected
	// actions are inputs, set from each sampled minibatch.
	gTrain := trainNet.Graph()
	batchSize := config.BatchSize

	nextStateActionValues := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("targetPredictions"))
	rewards := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("rewards"))
	discounts := G.NewVector(gTrain, tensor.Float64,
		G.WithShape(batchSize), G.WithName("discounts"))

	// Update target: r + γ * max_a Q(s', a) * (1 - done). The
	// discounts input already holds γ * (1 - done) for each
	// transition.
	updateTarget := G.Must(G.Max(nextStateActionValues, 1))
	updateTarget = G.Must(G.HadamardProd(updateTarget, discounts))
	updateTarget = G.Must(G.Add(updateTarget, rewards))

	// The train network predicts one value per action, so the value of
	// the action taken is selected with a one-hot encoding of the
	// actions
	selectedActions := G.NewMatrix(gTrain, tensor.Float64,
		G.WithShape(batchSize, numActions), G.WithName("selectedActions"))
	selectedActionsValue := G.Must(G.HadamardProd(trainNet.Prediction(),
		selectedActions))
	selectedActionsValue = G.Must(G.Sum(selectedActionsValue, 1))

	// Huber loss of the TD error, quadratic within unit distance of
	// the update target and linear outside it
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
	cost := G.Must(G.Mean(losses))

	var lossVal G.Value
	G.Read(cost, &lossVal)

	// Calculate the gradient with respect to the cost
	_, err = G.Grad(cost, trainNet.Learnables()...)
	if err != nil {
		return nil, fmt.Errorf("deepq: could not compute gradient: %v", err)
	}

	// Compile the graphs
	trainNetVM := G.NewTapeMachine(
		gTrain,
		G.BindDualValues(trainNet.Learnables()...),
	)
	targetNetVM := G.NewTapeMachine(targetNet.Graph())

	replay, err := expreplay.NewBuffer(numFeatures, config.ReplayCapacity,
		config.BatchSize, seed)
	if err != nil {
		return nil, fmt.Errorf("deepq: could not create replay buffer: %v",
			err)
	}

	return &DeepQ{
		env:             e,
		behaviourPolicy: behaviourPolicy,
		epsilon:         config.Epsilon,

		trainNet:   trainNet,
		trainNetVM: trainNetVM,
		solver:     config.Solver,

		targetNet:            targetNet,
		targetNetVM:          targetNetVM,
		targetUpdateInterval: config.TargetUpdateInterval,

		selectedActions:       selectedActions,
		nextStateActionValues: nextStateActionValues,
		rewards:               rewards,
		discounts:             discounts,
		lossVal:               lossVal,

		replay: replay,
		gamma:  config.Gamma,

		numActions:  numActions,
		numFeatures: numFeatures,
		batchSize:   batchSize,
		seed:        seed,

		reportInterval: config.ReportInterval,

		history: tracker.NewHistory("epsilon"),
		log:     zerolog.Nop(),
	}, nil
}

// SetTracker sets the history in which the agent records its episode
// returns, losses, and exploration rates, replacing the agent's own.
// Passing a loaded history lets a resumed run keep extending its
// original learning curves.
func (d *DeepQ) SetTracker(h *tracker.History) {
	if h != nil {
		d.history = h
	}
}

// Tracker returns the history in which the agent records its training
// progress
func (d *DeepQ) Tracker() *tracker.History {
	return d.history
}

// SetCheckpointer sets the checkpointer that the agent invokes on each
// progress report
func (d *DeepQ) SetCheckpointer(c *checkpointer.Checkpointer) {
	d.ckpt = c
}

// SetRunDir sets the directory in which the agent saves its training
// history and plots on each progress report. When unset, reports only
// log.
func (d *DeepQ) SetRunDir(dir string) {
	d.runDir = dir
}

// SetLogger sets the logger for progress reports
func (d *DeepQ) SetLogger(log zerolog.Logger) {
	d.log = log
}

// SetTestEnv sets the environment used for evaluation episodes. This
// allows Test to run in, for example, a recording wrapper around the
// training environment.
func (d *DeepQ) SetTestEnv(e environment.Environment) {
	d.testEnv = e
}

// TotalFrames returns the total number of frames the agent has been
// trained on, across checkpoints. It is safe to call concurrently
// with Train.
func (d *DeepQ) TotalFrames() int {
	return int(d.totalFrames.Load())
}

// Train runs the training loop for numFrames frames. Each frame the
// agent selects an action, records the resulting transition in its
// replay buffer, and, once the buffer holds a full minibatch, takes
// one gradient step. The step size of the solver is halved once at the
// midpoint of training. Train returns early when ctx is cancelled.
//
// Train may be called again to continue training, e.g. after restoring
// from a checkpoint. Exploration is annealed as a function of the
// total number of frames across all calls.
func (d *DeepQ) Train(ctx context.Context, numFrames int) error {
	if numFrames <= 0 {
		return fmt.Errorf("train: frames must be positive\n\twant(>0)"+
			"\n\thave(%v)", numFrames)
	}

	step, err := d.env.Reset(d.seed)
	if err != nil {
		return fmt.Errorf("train: could not reset environment: %v", err)
	}

	halfway := numFrames / 2
	var score float64

	for frame := 0; frame < numFrames; frame++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		totalFrames := int(d.totalFrames.Add(1))

		action, _ := d.behaviourPolicy.SelectAction(step)
		next, err := d.env.Step(action)
		if err != nil {
			return fmt.Errorf("train: could not step environment: %v", err)
		}

		if err := d.replay.Add(timestep.NewTransition(step, action,
			next)); err != nil {
			return fmt.Errorf("train: could not record transition: %v", err)
		}
		score += next.Reward
		step = next

		// Anneal exploration
		epsilon := d.epsilon.At(totalFrames)
		d.behaviourPolicy.SetEpsilon(epsilon)
		d.history.AddExploration(epsilon)

		if step.Last() {
			d.history.AddReturn(score)
			score = 0

			step, err = d.env.Reset(d.seed)
			if err != nil {
				return fmt.Errorf("train: could not reset environment: %v",
					err)
			}
		}

		if d.replay.Len() >= d.batchSize {
			loss, err := d.update()
			if err != nil {
				return fmt.Errorf("train: could not update networks: %v", err)
			}
			d.history.AddLoss(loss)
		}

		// Halve the step size once, at the midpoint of training
		if !d.halved && halfway > 0 && totalFrames >= halfway {
			if err := d.solver.Rescale(0.5); err != nil {
				return fmt.Errorf("train: could not rescale solver: %v", err)
			}
			d.halved = true
			d.log.Info().
				Int("frame", totalFrames).
				Msg("halved solver step size")
		}

		if d.reportInterval > 0 && totalFrames%d.reportInterval == 0 {
			d.report(epsilon)
		}
	}

	return nil
}

// update samples a minibatch of transitions from the replay buffer and
// takes one gradient step on the train network, returning the loss. It
// hard-syncs the target network every targetUpdateInterval gradient
// steps and updates the behaviour policy to use the newly learned
// weights.
func (d *DeepQ) update() (float64, error) {
	// Replay buffer errors are returned unwrapped so that they stay
	// classifiable with expreplay.IsEmptyBuffer and friends
	batch, err := d.replay.Sample()
	if err != nil {
		return 0, err
	}

	// Predict the action values of the current and next states
	if err := d.trainNet.SetInput(batch.States); err != nil {
		return 0, fmt.Errorf("update: could not set trainNet input: %v", err)
	}
	if err := d.targetNet.SetInput(batch.NextStates); err != nil {
		return 0, fmt.Errorf("update: could not set targetNet input: %v",
			err)
	}
	if err := d.targetNetVM.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run target network: %v", err)
	}

	// Feed the target network's predictions into the loss computation
	if err := G.Let(d.nextStateActionValues,
		d.targetNet.Output()); err != nil {
		return 0, fmt.Errorf("update: could not set next state-action "+
			"values: %v", err)
	}
	d.targetNetVM.Reset()

	rewardTensor := tensor.New(tensor.WithBacking(batch.Rewards),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.rewards, rewardTensor); err != nil {
		return 0, fmt.Errorf("update: could not set rewards: %v", err)
	}

	// Terminal transitions do not bootstrap
	discounts := make([]float64, d.batchSize)
	for i, done := range batch.Dones {
		discounts[i] = d.gamma * (1.0 - done)
	}
	discountTensor := tensor.New(tensor.WithBacking(discounts),
		tensor.WithShape(d.batchSize))
	if err := G.Let(d.discounts, discountTensor); err != nil {
		return 0, fmt.Errorf("update: could not set discounts: %v", err)
	}

	// One-hot encode the actions taken
	selected := make([]float64, d.batchSize*d.numActions)
	for i, action := range batch.Actions {
		selected[i*d.numActions+action] = 1.0
	}
	selectedTensor := tensor.New(tensor.WithBacking(selected),
		tensor.WithShape(d.batchSize, d.numActions))
	if err := G.Let(d.selectedActions, selectedTensor); err != nil {
		return 0, fmt.Errorf("update: could not set selected actions: %v",
			err)
	}

	// Run the learning step
	if err := d.trainNetVM.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run train network: %v", err)
	}
	if err := d.solver.Step(d.trainNet.Model()); err != nil {
		return 0, fmt.Errorf("update: could not step solver: %v", err)
	}
	d.trainNetVM.Reset()
	d.gradientSteps++

	// Hard-sync the target network at a fixed interval of gradient
	// steps
	if d.gradientSteps%d.targetUpdateInterval == 0 {
		if err := d.targetNet.Set(d.trainNet); err != nil {
			return 0, fmt.Errorf("update: could not sync target network: %v",
				err)
		}
	}

	// The behaviour policy acts with the newly learned weights
	if err := d.behaviourPolicy.Network().Set(d.trainNet); err != nil {
		return 0, fmt.Errorf("update: could not update behaviour "+
			"policy: %v", err)
	}

	return d.lossVal.Data().(float64), nil
}

// Test evaluates the agent greedily for a number of episodes,
// returning the return of each episode. The exploration rate of the
// behaviour policy is restored afterwards, so training can continue
// where it left off. Evaluation episodes run in the test environment
// when one was set and in the training environment otherwise.
func (d *DeepQ) Test(episodes int) ([]float64, error) {
	if episodes <= 0 {
		return nil, fmt.Errorf("test: episodes must be positive"+
			"\n\twant(>0)\n\thave(%v)", episodes)
	}

	env := d.env
	if d.testEnv != nil {
		env = d.testEnv
	}

	// Evaluation is greedy
	epsilon := d.behaviourPolicy.Epsilon()
	d.behaviourPolicy.SetEpsilon(0.0)
	defer d.behaviourPolicy.SetEpsilon(epsilon)

	returns := make([]float64, episodes)
	for episode := range returns {
		step, err := env.Reset(d.seed)
		if err != nil {
			return nil, fmt.Errorf("test: could not reset environment: %v",
				err)
		}

		var score float64
		for !step.Last() {
			action, _ := d.behaviourPolicy.SelectAction(step)
			step, err = env.Step(action)
			if err != nil {
				return nil, fmt.Errorf("test: could not step "+
					"environment: %v", err)
			}
			score += step.Reward
		}
		returns[episode] = score

		d.log.Info().
			Int("episode", episode).
			Float64("return", score).
			Msg("test episode finished")
	}

	return returns, nil
}

// report logs the agent's recent performance and writes the training
// artifacts of the agent's collaborators
func (d *DeepQ) report(epsilon float64) {
	d.log.Info().
		Int("frame", d.TotalFrames()).
		Int("episodes", d.history.Episodes()).
		Float64("meanReturn",
			d.history.RecentMeanReturn(meanReturnEpisodes)).
		Float64("epsilon", epsilon).
		Msg("training progress")

	if d.runDir != "" {
		if err := d.history.Plot(filepath.Join(d.runDir, "plots")); err !=
			nil {
			d.log.Error().Err(err).Msg("could not plot training history")
		}
		if err := d.history.Save(filepath.Join(d.runDir,
			"history.bin")); err != nil {
			d.log.Error().Err(err).Msg("could not save training history")
		}
	}

	if d.ckpt != nil {
		path, err := d.ckpt.Checkpoint()
		if err != nil {
			d.log.Error().Err(err).Msg("could not write checkpoint")
		} else {
			d.log.Debug().Str("path", path).Msg("checkpoint written")
		}
	}
}

// Close cleans up the agent's resources
func (d *DeepQ) Close() error {
	if err := d.behaviourPolicy.Close(); err != nil {
		return fmt.Errorf("close: could not close behaviour policy: %v", err)
	}
	if err := d.trainNetVM.Close(); err != nil {
		return fmt.Errorf("close: could not close train VM: %v", err)
	}
	if err := d.targetNetVM.Close(); err != nil {
		return fmt.Errorf("close: could not close target VM: %v", err)
	}
	return nil
}

// GobEncode implements the gob.GobEncoder interface so that the agent
// can be checkpointed. The learned weights, the target network's
// weights, and the training counters are serialized; the replay
// buffer is not.
func (d *DeepQ) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	if err := enc.Encode(&d.trainNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode train "+
			"network: %v", err)
	}
	if err := enc.Encode(&d.targetNet); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode target "+
			"network: %v", err)
	}
	if err := enc.Encode(d.totalFrames.Load()); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode total "+
			"frames: %v", err)
	}
	if err := enc.Encode(d.gradientSteps); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode gradient "+
			"steps: %v", err)
	}
	if err := enc.Encode(d.halved); err != nil {
		return nil, fmt.Errorf("gobencode: could not encode step size "+
			"state: %v", err)
	}

	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface. The agent must
// have been constructed with New before decoding into it; decoding
// restores the learned weights, the target network's weights, and the
// training counters, and rescales the solver's step size to match the
// restored training progress.
func (d *DeepQ) GobDecode(in []byte) error {
	dec := gob.NewDecoder(bytes.NewReader(in))

	var trainNet network.NeuralNet
	if err := dec.Decode(&trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode train network: %v",
			err)
	}
	if err := d.trainNet.Set(trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore train network: %v",
			err)
	}
	if err := d.behaviourPolicy.Network().Set(trainNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore behaviour "+
			"policy: %v", err)
	}

	var targetNet network.NeuralNet
	if err := dec.Decode(&targetNet); err != nil {
		return fmt.Errorf("gobdecode: could not decode target network: %v",
			err)
	}
	if err := d.targetNet.Set(targetNet); err != nil {
		return fmt.Errorf("gobdecode: could not restore target network: %v",
			err)
	}

	var totalFrames int64
	if err := dec.Decode(&totalFrames); err != nil {
		return fmt.Errorf("gobdecode: could not decode total frames: %v",
			err)
	}
	d.totalFrames.Store(totalFrames)
	if err := dec.Decode(&d.gradientSteps); err != nil {
		return fmt.Errorf("gobdecode: could not decode gradient steps: %v",
			err)
	}

	wasHalved := d.halved
	if err := dec.Decode(&d.halved); err != nil {
		return fmt.Errorf("gobdecode: could not decode step size "+
			"state: %v", err)
	}
	if d.halved && !wasHalved {
		if err := d.solver.Rescale(0.5); err != nil {
			return fmt.Errorf("gobdecode: could not rescale solver: %v", err)
		}
	} else if !d.halved && wasHalved {
		if err := d.solver.Rescale(2.0); err != nil {
			return fmt.Errorf("gobdecode: could not rescale solver: %v", err)
		}
	}

	// Exploration continues from where it left off
	d.behaviourPolicy.SetEpsilon(d.epsilon.At(int(totalFrames)))

	return nil
}
