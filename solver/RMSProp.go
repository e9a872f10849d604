package solver

import G "gorgonia.org/gorgonia"

// RMSPropConfig describes a configuration of the RMSProp solver
type RMSPropConfig struct {
	StepSize float64
	Epsilon  float64 // Smoothing factor
	Rho      float64 // Decay rate of the squared gradient average
	Batch    int
	Clip     float64 // <= 0 if no clipping
}

// NewDefaultRMSProp returns a new RMSProp Solver with default
// hyperparameters
func NewDefaultRMSProp(stepSize float64, batchSize int) (*Solver, error) {
	return NewRMSProp(stepSize, 1e-8, 0.999, batchSize, -1.0)
}

// NewRMSProp returns a new RMSProp Solver
func NewRMSProp(stepSize, epsilon, rho float64, batchSize int,
	clip float64) (*Solver, error) {
	rmsprop := RMSPropConfig{
		StepSize: stepSize,
		Epsilon:  epsilon,
		Rho:      rho,
		Batch:    batchSize,
		Clip:     clip,
	}

	return newSolver(RMSProp, rmsprop)
}

// Create returns a new Gorgonia RMSProp Solver as described by the
// RMSPropConfig
func (r RMSPropConfig) Create() G.Solver {
	var solver G.Solver

	if r.Clip <= 0 {
		solver = G.NewRMSPropSolver(
			G.WithLearnRate(r.StepSize),
			G.WithEps(r.Epsilon),
			G.WithRho(r.Rho),
			G.WithBatchSize(float64(r.Batch)),
		)
	} else {
		solver = G.NewRMSPropSolver(
			G.WithLearnRate(r.StepSize),
			G.WithEps(r.Epsilon),
			G.WithRho(r.Rho),
			G.WithBatchSize(float64(r.Batch)),
			G.WithClip(r.Clip),
		)
	}
	return solver
}

// ValidType returns if the given Solver type is a valid type to be
// created with this config.
func (r RMSPropConfig) ValidType(t Type) bool {
	return t == RMSProp
}

// Rescale returns a copy of the RMSPropConfig with its step size
// multiplied by scale.
func (r RMSPropConfig) Rescale(scale float64) Config {
	r.StepSize *= scale
	return r
}
