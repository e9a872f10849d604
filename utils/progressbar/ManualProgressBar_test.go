package progressbar

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualProgressBarRendersProgress(t *testing.T) {
	bar := NewManualProgressBar(10, 100)

	bar.Set(50)
	rendered := bar.render()
	assert.Equal(t, 5, strings.Count(rendered, "█"))
	assert.Contains(t, rendered, "50.00%")

	bar.Set(100)
	rendered = bar.render()
	assert.Equal(t, 10, strings.Count(rendered, "█"))
	assert.Contains(t, rendered, "100.00%")
}

func TestManualProgressBarClampsProgress(t *testing.T) {
	bar := NewManualProgressBar(10, 100)

	bar.Set(250)
	assert.Contains(t, bar.render(), "100.00%")

	bar.Set(-3)
	assert.Contains(t, bar.render(), "0.00%")
}

func TestManualProgressBarIncrementStopsAtMax(t *testing.T) {
	bar := NewManualProgressBar(10, 2)

	for i := 0; i < 5; i++ {
		bar.Increment()
	}

	assert.Contains(t, bar.render(), "100.00%")
}
