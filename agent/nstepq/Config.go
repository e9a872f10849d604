package nstepq

import (
	"fmt"

	"github.com/samuelfneumann/godqn/initwfn"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
)

// Config implements a configuration for an NStepQ agent
type Config struct {
	PolicyLayers []int                 // Hidden layer sizes in neural net
	Activations  []*network.Activation // Activation of each hidden layer
	NoisyStd     float64               // Initial scale of the weight noise
	InitWFn      *initwfn.InitWFn      // Initialization of the feature layer
	Solver       *solver.Solver        // Solver for learning weights

	// Prioritized experience replay parameters. Alpha determines how
	// much prioritization is used, Beta is the initial importance
	// sampling exponent, annealed toward 1 over training, and
	// PriorityEpsilon keeps the priority of zero-loss transitions
	// strictly positive.
	ReplayCapacity  int
	BatchSize       int
	Alpha           float64
	Beta            float64
	PriorityEpsilon float64

	// Multi-step learning parameters. Stored transitions look NStep
	// frames ahead, accumulating rewards discounted by Gamma.
	NStep int
	Gamma float64

	TargetUpdateInterval int // Learning steps between target net syncs

	// ReportInterval is the number of frames between progress reports.
	// On each report the agent logs its recent performance and gives
	// its tracker and checkpointer collaborators a chance to write
	// artifacts. A value of 0 disables reporting.
	ReportInterval int
}

// Validate ensures that the configuration describes a valid agent
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("config: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}
	if c.NoisyStd <= 0 {
		return fmt.Errorf("config: noise scale must be positive"+
			"\n\twant(>0)\n\thave(%v)", c.NoisyStd)
	}
	if c.InitWFn == nil {
		return fmt.Errorf("config: no weight initialization algorithm")
	}
	if c.Solver == nil {
		return fmt.Errorf("config: no solver")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch size must be positive"+
			"\n\twant(>0)\n\thave(%v)", c.BatchSize)
	}
	if c.ReplayCapacity < c.BatchSize {
		return fmt.Errorf("config: replay capacity cannot be less than "+
			"batch size\n\twant(>=%v)\n\thave(%v)", c.BatchSize,
			c.ReplayCapacity)
	}
	if c.Alpha < 0 {
		return fmt.Errorf("config: prioritization exponent cannot be "+
			"negative\n\thave(%v)", c.Alpha)
	}
	if c.Beta <= 0 || c.Beta > 1 {
		return fmt.Errorf("config: importance sampling exponent must be "+
			"in (0, 1]\n\thave(%v)", c.Beta)
	}
	if c.PriorityEpsilon <= 0 {
		return fmt.Errorf("config: priority epsilon must be positive"+
			"\n\thave(%v)", c.PriorityEpsilon)
	}
	if c.NStep < 1 {
		return fmt.Errorf("config: lookahead must be at least 1 step"+
			"\n\thave(%v)", c.NStep)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("config: discount must be in [0, 1]"+
			"\n\thave(%v)", c.Gamma)
	}
	if c.TargetUpdateInterval <= 0 {
		return fmt.Errorf("config: target networks must be updated at "+
			"positive intervals\n\twant(>0)\n\thave(%v)",
			c.TargetUpdateInterval)
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("config: report interval cannot be negative"+
			"\n\thave(%v)", c.ReportInterval)
	}
	return nil
}
