package deepq

import (
	"fmt"

	"github.com/samuelfneumann/godqn/agent"
	"github.com/samuelfneumann/godqn/initwfn"
	"github.com/samuelfneumann/godqn/network"
	"github.com/samuelfneumann/godqn/solver"
)

// Config implements a configuration for a DeepQ agent
type Config struct {
	PolicyLayers []int                 // Hidden layer sizes in neural net
	Biases       []bool                // Whether each hidden layer has a bias
	Activations  []*network.Activation // Activation of each hidden layer
	InitWFn      *initwfn.InitWFn      // Initialization algorithm for weights
	Solver       *solver.Solver        // Solver for learning weights

	// Epsilon determines the exploration rate of the behaviour policy
	// as a function of the total number of frames seen
	Epsilon agent.EpsilonSchedule

	// Experience replay parameters
	ReplayCapacity int
	BatchSize      int

	Gamma                float64 // Discount factor
	TargetUpdateInterval int     // Learning steps between target net syncs

	// ReportInterval is the number of frames between progress reports.
	// On each report the agent logs its recent performance and gives
	// its tracker and checkpointer collaborators a chance to write
	// artifacts. A value of 0 disables reporting.
	ReportInterval int
}

// Validate ensures that the configuration describes a valid agent
func (c Config) Validate() error {
	if len(c.PolicyLayers) != len(c.Biases) {
		return fmt.Errorf("config: invalid number of biases\n\twant(%v)"+
			"\n\thave(%v)", len(c.PolicyLayers), len(c.Biases))
	}
	if len(c.PolicyLayers) != len(c.Activations) {
		return fmt.Errorf("config: invalid number of activations"+
			"\n\twant(%v)\n\thave(%v)", len(c.PolicyLayers),
			len(c.Activations))
	}
	if c.InitWFn == nil {
		return fmt.Errorf("config: no weight initialization algorithm")
	}
	if c.Solver == nil {
		return fmt.Errorf("config: no solver")
	}
	if err := c.Epsilon.Validate(); err != nil {
		return fmt.Errorf("config: invalid epsilon schedule: %v", err)
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
