// Package tracker records training statistics and renders them as
// plots. A History accumulates the episodic returns, per-update losses,
// and per-frame exploration parameter of a training run. The history
// can be plotted to PNG images, saved to disk with gob, and reloaded
// to resume a run.
package tracker

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// meanReturnWindow is the number of most recent episodes averaged in
// the returns plot overlay
const meanReturnWindow = 100

// History accumulates the statistics of a single training run. The
// exploration label names the exploration parameter being tracked,
// e.g. "epsilon" for an epsilon greedy agent or "beta" for a
// prioritized replay agent, and is used to label plots and files.
type History struct {
	returns     []float64
	losses      []float64
	exploration []float64
	label       string
}

// historyData mirrors History for serialization
type historyData struct {
	Returns     []float64
	Losses      []float64
	Exploration []float64
	Label       string
}

// NewHistory returns an empty History whose exploration series is
// labelled label.
func NewHistory(label string) *History {
	return &History{label: label}
}

// AddReturn records the undiscounted return of a finished episode
func (h *History) AddReturn(ret float64) {
	h.returns = append(h.returns, ret)
}

// AddLoss records the loss of a completed learning update
func (h *History) AddLoss(loss float64) {
	h.losses = append(h.losses, loss)
}

// AddExploration records the value of the exploration parameter on a
// frame
func (h *History) AddExploration(value float64) {
	h.exploration = append(h.exploration, value)
}

// Episodes returns the number of episodic returns recorded so far
func (h *History) Episodes() int {
	return len(h.returns)
}

// Returns returns a copy of the recorded episodic returns
func (h *History) Returns() []float64 {
	out := make([]float64, len(h.returns))
	copy(out, h.returns)
	return out
}

// Losses returns a copy of the recorded update losses
func (h *History) Losses() []float64 {
	out := make([]float64, len(h.losses))
	copy(out, h.losses)
	return out
}

// Exploration returns a copy of the recorded exploration parameter
// values
func (h *History) Exploration() []float64 {
	out := make([]float64, len(h.exploration))
	copy(out, h.exploration)
	return out
}

// RecentMeanReturn returns the mean of the last n episodic returns,
// or of all recorded returns if fewer than n episodes have finished.
// If no episode has finished yet, RecentMeanReturn returns 0.
func (h *History) RecentMeanReturn(n int) float64 {
	if len(h.returns) == 0 {
		return 0
	}
	if n > len(h.returns) {
		n = len(h.returns)
	}
	return stat.Mean(h.returns[len(h.returns)-n:], nil)
}

// Plot renders the tracked series as PNG images in dir: the episodic
// returns with a moving average overlay, the loss of each update, and
// the exploration parameter of each frame.
func (h *History) Plot(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("plot: could not create plot directory: %v", err)
	}

	if err := h.plotReturns(filepath.Join(dir, "returns.png")); err != nil {
		return err
	}

	err := plotSeries(filepath.Join(dir, "loss.png"), "Loss per update",
		"Update", "Loss", h.losses)
	if err != nil {
		return err
	}

	return plotSeries(filepath.Join(dir, h.label+".png"),
		"Exploration per frame", "Frame", h.label, h.exploration)
}

// Save gob encodes the history to filename
func (h *History) Save(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("save: could not create history file: %v", err)
	}
	defer file.Close()

	data := historyData{
		Returns:     h.returns,
		Losses:      h.losses,
		Exploration: h.exploration,
		Label:       h.label,
	}
	if err := gob.NewEncoder(file).Encode(data); err != nil {
		return fmt.Errorf("save: could not encode history: %v", err)
	}

	return nil
}

// LoadHistory reads a History previously written with Save
func LoadHistory(filename string) (*History, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("loadhistory: could not open history "+
			"file: %v", err)
	}
	defer file.Close()

	var data historyData
	if err := gob.NewDecoder(file).Decode(&data); err != nil {
		return nil, fmt.Errorf("loadhistory: could not decode history: %v",
			err)
	}

	return &History{
		returns:     data.Returns,
		losses:      data.Losses,
		exploration: data.Exploration,
		label:       data.Label,
	}, nil
}

// plotReturns draws the episodic returns together with their moving
// average over the last meanReturnWindow episodes.
func (h *History) plotReturns(filename string) error {
	p := plot.New()
	p.Title.Text = "Episodic return"
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Return"

	line, err := plotter.NewLine(seriesPoints(h.returns))
	if err != nil {
		return fmt.Errorf("plot: could not create return line: %v", err)
	}
	line.Color = plotutil.Color(0)
	p.Add(line)
	p.Legend.Add("return", line)

	avg, err := plotter.NewLine(seriesPoints(movingAverage(h.returns,
		meanReturnWindow)))
	if err != nil {
		return fmt.Errorf("plot: could not create average line: %v", err)
	}
	avg.Color = plotutil.Color(1)
	p.Add(avg)
	p.Legend.Add(fmt.Sprintf("mean (%v episodes)", meanReturnWindow), avg)

	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}

func plotSeries(filename, title, xLabel, yLabel string,
	series []float64) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	line, err := plotter.NewLine(seriesPoints(series))
	if err != nil {
		return fmt.Errorf("plot: could not create line: %v", err)
	}
	line.Color = plotutil.Color(0)
	p.Add(line)

	return p.Save(8*vg.Inch, 4*vg.Inch, filename)
}

func seriesPoints(series []float64) plotter.XYs {
	points := make(plotter.XYs, len(series))
	for i, v := range series {
		points[i] = plotter.XY{X: float64(i), Y: v}
	}
	return points
}

// movingAverage returns the mean of the trailing window values at
// each position of series.
func movingAverage(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	var sum float64
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
			out[i] = sum / float64(window)
		} else {
			out[i] = sum / float64(i+1)
		}
	}
	return out
}
