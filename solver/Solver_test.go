package solver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSolverRejectsMismatchedType(t *testing.T) {
	_, err := newSolver(Adam, VanillaConfig{StepSize: 0.1, Batch: 32})
	assert.Error(t, err)

	_, err = newSolver(Vanilla, RMSPropConfig{StepSize: 0.1, Batch: 32})
	assert.Error(t, err)
}

func TestNewAdamCreatesSolver(t *testing.T) {
	s, err := NewDefaultAdam(6.25e-5, 32)
	require.NoError(t, err)
	require.NotNil(t, s.Solver)
	assert.Equal(t, Adam, s.Type)

	conf, ok := s.Config.(AdamConfig)
	require.True(t, ok)
	assert.Equal(t, 6.25e-5, conf.StepSize)
	assert.Equal(t, 0.9, conf.Beta1)
	assert.Equal(t, 0.999, conf.Beta2)
	assert.Equal(t, 32, conf.Batch)
}

func TestRescaleMultipliesStepSize(t *testing.T) {
	s, err := NewDefaultAdam(1e-3, 16)
	require.NoError(t, err)

	require.NoError(t, s.Rescale(0.5))

	conf := s.Config.(AdamConfig)
	assert.Equal(t, 5e-4, conf.StepSize)
	assert.NotNil(t, s.Solver)

	// Remaining hyperparameters are untouched
	assert.Equal(t, 0.9, conf.Beta1)
	assert.Equal(t, 0.999, conf.Beta2)
	assert.Equal(t, 16, conf.Batch)
}

func TestRescaleRejectsNonPositiveScale(t *testing.T) {
	s, err := NewVanilla(0.1, 8, -1.0)
	require.NoError(t, err)

	assert.Error(t, s.Rescale(0.0))
	assert.Error(t, s.Rescale(-2.0))

	// Step size is unchanged after the failed calls
	assert.Equal(t, 0.1, s.Config.(VanillaConfig).StepSize)
}

func TestSolverJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		make func() (*Solver, error)
	}{
		{"adam", func() (*Solver, error) {
			return NewDefaultAdam(6.25e-5, 32)
		}},
		{"rmsprop", func() (*Solver, error) {
			return NewRMSProp(2.5e-4, 1e-8, 0.95, 64, 10.0)
		}},
		{"vanilla", func() (*Solver, error) {
			return NewVanilla(0.01, 16, 1.0)
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			orig, err := c.make()
			require.NoError(t, err)

			data, err := json.Marshal(orig)
			require.NoError(t, err)

			var loaded Solver
			require.NoError(t, json.Unmarshal(data, &loaded))

			assert.Equal(t, orig.Type, loaded.Type)
			assert.Equal(t, orig.Config, loaded.Config)
			assert.NotNil(t, loaded.Solver)
		})
	}
}

func TestSolverUnmarshalRejectsUnknownType(t *testing.T) {
	var s Solver
	err := json.Unmarshal([]byte(`{"Type":"Newton","Config":{}}`), &s)
	assert.Error(t, err)
}
