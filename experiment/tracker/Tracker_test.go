package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecentMeanReturn(t *testing.T) {
	h := NewHistory("epsilon")
	assert.Zero(t, h.RecentMeanReturn(10))

	for _, ret := range []float64{1, 2, 3, 4} {
		h.AddReturn(ret)
	}

	assert.Equal(t, 4, h.Episodes())
	assert.InDelta(t, 3.5, h.RecentMeanReturn(2), 1e-12)
	assert.InDelta(t, 2.5, h.RecentMeanReturn(10), 1e-12)
}

func TestHistoryReturnsCopies(t *testing.T) {
	h := NewHistory("epsilon")
	h.AddReturn(1.0)

	returns := h.Returns()
	returns[0] = -100.0

	assert.Equal(t, []float64{1.0}, h.Returns())
}

func TestMovingAverage(t *testing.T) {
	avg := movingAverage([]float64{1, 2, 3, 4, 5}, 3)

	assert.InDelta(t, 1.0, avg[0], 1e-12)
	assert.InDelta(t, 1.5, avg[1], 1e-12)
	assert.InDelta(t, 2.0, avg[2], 1e-12)
	assert.InDelta(t, 3.0, avg[3], 1e-12)
	assert.InDelta(t, 4.0, avg[4], 1e-12)
}

func TestHistorySaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "history.bin")

	h := NewHistory("beta")
	h.AddReturn(1.5)
	h.AddReturn(-0.5)
	h.AddLoss(0.25)
	h.AddExploration(0.4)
	h.AddExploration(0.41)

	require.NoError(t, h.Save(file))

	loaded, err := LoadHistory(file)
	require.NoError(t, err)

	assert.Equal(t, h.Returns(), loaded.Returns())
	assert.Equal(t, h.losses, loaded.losses)
	assert.Equal(t, h.exploration, loaded.exploration)
	assert.Equal(t, "beta", loaded.label)
}

func TestHistoryPlotWritesImages(t *testing.T) {
	dir := t.TempDir()

	h := NewHistory("epsilon")
	for i := 0; i < 20; i++ {
		h.AddReturn(float64(i))
		h.AddLoss(1.0 / float64(i+1))
		h.AddExploration(1.0 - float64(i)*0.01)
	}

	plotDir := filepath.Join(dir, "plots")
	require.NoError(t, h.Plot(plotDir))

	for _, name := range []string{"returns.png", "loss.png", "epsilon.png"} {
		info, err := os.Stat(filepath.Join(plotDir, name))
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestLoadHistoryMissingFile(t *testing.T) {
	_, err := LoadHistory(filepath.Join(t.TempDir(), "absent.bin"))
	assert.Error(t, err)
}
