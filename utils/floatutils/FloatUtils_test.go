package floatutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxSlice(t *testing.T) {
	max, indices := MaxSlice([]float64{1.0, 3.0, 2.0})
	assert.Equal(t, 3.0, max)
	assert.Equal(t, []int{1}, indices)
}

func TestMaxSliceReportsAllTies(t *testing.T) {
	max, indices := MaxSlice([]float64{2.0, 1.0, 2.0, 2.0})
	assert.Equal(t, 2.0, max)
	assert.Equal(t, []int{0, 2, 3}, indices)
}

func TestMaxSliceSingleElement(t *testing.T) {
	max, indices := MaxSlice([]float64{-4.2})
	assert.Equal(t, -4.2, max)
	assert.Equal(t, []int{0}, indices)
}

func TestMaxSliceAllEqual(t *testing.T) {
	_, indices := MaxSlice([]float64{0.5, 0.5, 0.5})
	assert.Equal(t, []int{0, 1, 2}, indices)
}
