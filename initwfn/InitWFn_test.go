package initwfn

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestConstantCreateFillsValues(t *testing.T) {
	init, err := NewConstant(-1.5)
	require.NoError(t, err)

	data := init.InitWFn()(tensor.Float64, 2, 3).([]float64)
	require.Len(t, data, 6)
	for _, v := range data {
		assert.Equal(t, -1.5, v)
	}
}

func TestZeroesCreateFillsValues(t *testing.T) {
	init, err := NewZeroes()
	require.NoError(t, err)

	data := init.InitWFn()(tensor.Float64, 4, 4).([]float64)
	require.Len(t, data, 16)
	for _, v := range data {
		assert.Zero(t, v)
	}
}

func TestUniformCreateStaysWithinBounds(t *testing.T) {
	init, err := NewUniform(-0.25, 0.25)
	require.NoError(t, err)

	data := init.InitWFn()(tensor.Float64, 8, 8).([]float64)
	require.Len(t, data, 64)
	for _, v := range data {
		assert.GreaterOrEqual(t, v, -0.25)
		assert.Less(t, v, 0.25)
	}
}

func TestInitWFnJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		make func() (*InitWFn, error)
	}{
		{"glorotU", func() (*InitWFn, error) { return NewGlorotU(1.0) }},
		{"gaussian", func() (*InitWFn, error) { return NewGaussian(0, 0.1) }},
		{"constant", func() (*InitWFn, error) { return NewConstant(0.5) }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			orig, err := c.make()
			require.NoError(t, err)

			data, err := json.Marshal(orig)
			require.NoError(t, err)

			var loaded InitWFn
			require.NoError(t, json.Unmarshal(data, &loaded))

			assert.Equal(t, orig.Type, loaded.Type)
			assert.Equal(t, orig.Config, loaded.Config)

			weights := loaded.InitWFn()(tensor.Float64, 3, 3).([]float64)
			assert.Len(t, weights, 9)
		})
	}
}

func TestInitWFnUnmarshalRejectsUnknownType(t *testing.T) {
	var i InitWFn
	err := json.Unmarshal([]byte(`{"Type":"Sparse","Config":{}}`), &i)
	assert.Error(t, err)
}
