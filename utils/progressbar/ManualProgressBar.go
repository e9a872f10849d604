// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"strings"
	"time"
)

// ManualProgressBar implements progress bar functionality that must
// be manually managed. That is, the Display() function must be called
// whenever an updated progress bar should be printed to the screen.
//
// ManualProgressBar does not use concurrency.
type ManualProgressBar struct {
	width           float64
	maxProgress     float64
	currentProgress float64
	bar             strings.Builder
	startTime       time.Time
}

// NewManualProgressBar returns a new ManualProgressBar that is width
// characters wide and reaches 100% after max units of progress
func NewManualProgressBar(width, max int) *ManualProgressBar {
	return &ManualProgressBar{
		width:           float64(width),
		maxProgress:     float64(max),
		currentProgress: 0,
		startTime:       time.Now(),
	}
}

// Increment increments the internal progress counter. Each time an
// iteration is performed, Increment should be called.
func (p *ManualProgressBar) Increment() {
	if p.currentProgress < p.maxProgress {
		p.currentProgress++
	}
}

// Set sets the internal progress counter, clamping progress to the
// range of the bar
func (p *ManualProgressBar) Set(progress int) {
	p.currentProgress = float64(progress)
	if p.currentProgress > p.maxProgress {
		p.currentProgress = p.maxProgress
	}
	if p.currentProgress < 0 {
		p.currentProgress = 0
	}
}

// Display prints the progress bar on the screen, overwriting the
// previously displayed bar
func (p *ManualProgressBar) Display() {
	fmt.Printf("\n\033[1A\033[K%v", p.render())
}

// Finish prints the bar one final time and moves to the next terminal
// line, leaving the bar behind
func (p *ManualProgressBar) Finish() {
	fmt.Printf("\n\033[1A\033[K%v\n", p.render())
}

// render builds the string form of the progress bar
func (p *ManualProgressBar) render() string {
	p.bar.Reset()
	p.bar.Write([]byte("|"))

	currentProg := p.currentProgress / p.maxProgress * p.width
	for i := 0.0; i < currentProg; i++ {
		p.bar.Write([]byte("█"))
	}
	for i := currentProg; i < p.width; i++ {
		p.bar.Write([]byte(" "))
	}
	p.bar.Write([]byte(fmt.Sprintf("| [%.2f%v | elapsed: %v]",
		p.currentProgress/p.maxProgress*100, "%",
		time.Since(p.startTime).Truncate(time.Second))))

	return p.bar.String()
}
