package initwfn

import G "gorgonia.org/gorgonia"

// ConstantConfig implements a configuration of a weight initializer
// that initializes all weights to a constant value.
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a new constant weight initializer
func NewConstant(value float64) (*InitWFn, error) {
	config := ConstantConfig{value}

	return newInitWFn(config)
}

// Type returns the type of the weight initializer created using this
// config
func (c ConstantConfig) Type() Type {
	return Constant
}

// Create creates the Gorgonia weight initializer from this
// initializer config
func (c ConstantConfig) Create() G.InitWFn {
	return G.ValuesOf(c.Value)
}
