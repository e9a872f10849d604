// Package solver implements functionality to wrap Gorgonia Solvers so
// that they can be JSON serialized into configuration files and
// rescaled while training.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	RMSProp Type = "RMSProp"
	Vanilla Type = "Vanilla"
)

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// Rescale multiplies the step size of the Solver by scale. The
// underlying Gorgonia Solver is recreated with the rescaled step size,
// so any gradient statistics it accumulated are reset.
func (s *Solver) Rescale(scale float64) error {
	if scale <= 0 {
		return fmt.Errorf("rescale: scale must be positive \n\twant(>0) "+
			"\n\thave(%v)", scale)
	}

	s.Config = s.Config.Rescale(scale)
	s.Solver = s.Config.Create()

	return nil
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config
	s.Solver = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalConfig: missing solver type "+
			"field %v", typeJsonField)
	}

	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unmarshalConfig: unknown solver type %v",
			typeName)
	}
	value := reflect.New(ty).Interface().(Config)

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, &value); err != nil {
		return nil, "", err
	}

	// Configs are always stored as values, never as pointers
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Ptr {
		value = rv.Elem().Interface().(Config)
	}

	return value, Type(typeName), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create the Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool

	// Rescale returns a copy of the Config with its step size
	// multiplied by scale
	Rescale(scale float64) Config
}
