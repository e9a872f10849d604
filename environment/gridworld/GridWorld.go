// Package gridworld implements a two-dimensional grid navigation
// environment. The agent moves between adjacent cells with four
// directional actions and is rewarded for entering one of a set of
// goal cells, which ends the episode. Moves that would leave the grid
// keep the agent in place.
//
// Observations are one-hot encodings of the agent's cell.
package gridworld

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/godqn/environment"
	"github.com/samuelfneumann/godqn/timestep"
)

// Actions available in the gridworld
const (
	Left int = iota
	Right
	Up
	Down
)

// cellPixels is the rendered side length of a single grid cell
const cellPixels = 40

// Rendering palette
var (
	floorShade = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	lineShade  = color.RGBA{R: 77, G: 77, B: 128, A: 255}
	goalShade  = color.RGBA{R: 255, G: 166, B: 0, A: 255}
	agentShade = color.RGBA{R: 128, G: 102, B: 230, A: 255}
)

// GridWorld implements a rows x cols grid with one or more goal cells.
// Cells are addressed by (x, y) coordinates where x indexes columns
// and y indexes rows, counting up from the bottom-left corner. Entering
// a goal cell ends the episode with the goal reward, and every other
// step receives the step reward. Episodes are cut off after a fixed
// number of steps.
//
// The starting cell is either fixed or drawn uniformly from the
// non-goal cells on each call to Reset, depending on the constructor
// used.
type GridWorld struct {
	rows, cols int
	x, y       int

	startX, startY int
	randomStart    bool

	goals      [][2]int
	stepReward float64
	goalReward float64

	ender   environment.Ender
	current timestep.TimeStep
}

// New returns a new gridworld whose episodes start in the fixed cell
// (startX, startY). The cells (goalX[i], goalY[i]) are the goal cells,
// stepReward and goalReward are the rewards for ordinary moves and for
// entering a goal, and episodes are cut off after maxSteps steps.
func New(rows, cols, startX, startY int, goalX, goalY []int, stepReward,
	goalReward float64, maxSteps int) (*GridWorld, error) {
	g, err := newGridWorld(rows, cols, goalX, goalY, stepReward, goalReward,
		maxSteps)
	if err != nil {
		return nil, err
	}

	if startX < 0 || startX >= cols || startY < 0 || startY >= rows {
		return nil, fmt.Errorf("gridworld: start (%v, %v) outside a "+
			"%v x %v grid", startX, startY, rows, cols)
	}
	if g.atGoal(startX, startY) {
		return nil, fmt.Errorf("gridworld: start (%v, %v) is a goal cell",
			startX, startY)
	}

	g.startX = startX
	g.startY = startY

	return g, nil
}

// NewRandomStart returns a new gridworld whose starting cell is drawn
// uniformly from the non-goal cells on each call to Reset.
func NewRandomStart(rows, cols int, goalX, goalY []int, stepReward,
	goalReward float64, maxSteps int) (*GridWorld, error) {
	g, err := newGridWorld(rows, cols, goalX, goalY, stepReward, goalReward,
		maxSteps)
	if err != nil {
		return nil, err
	}

	g.randomStart = true

	return g, nil
}

func newGridWorld(rows, cols int, goalX, goalY []int, stepReward,
	goalReward float64, maxSteps int) (*GridWorld, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("gridworld: at least one row and column "+
			"needed \n\twant(>=1) \n\thave(%v x %v)", rows, cols)
	}
	if len(goalX) != len(goalY) {
		return nil, fmt.Errorf("gridworld: %v goal x coordinates but %v "+
			"goal y coordinates", len(goalX), len(goalY))
	}
	if len(goalX) == 0 {
		return nil, fmt.Errorf("gridworld: at least one goal cell needed")
	}
	if maxSteps < 1 {
		return nil, fmt.Errorf("gridworld: positive step limit needed "+
			"\n\twant(>=1) \n\thave(%v)", maxSteps)
	}

	goals := make([][2]int, 0, len(goalX))
	cells := make(map[[2]int]struct{}, len(goalX))
	for i := range goalX {
		if goalX[i] < 0 || goalX[i] >= cols || goalY[i] < 0 ||
			goalY[i] >= rows {
			return nil, fmt.Errorf("gridworld: goal (%v, %v) outside a "+
				"%v x %v grid", goalX[i], goalY[i], rows, cols)
		}

		goal := [2]int{goalX[i], goalY[i]}
		if _, ok := cells[goal]; !ok {
			cells[goal] = struct{}{}
			goals = append(goals, goal)
		}
	}
	if len(goals) == rows*cols {
		return nil, fmt.Errorf("gridworld: goal cells cover the whole " +
			"grid, leaving no cell to start from")
	}

	return &GridWorld{
		rows:       rows,
		cols:       cols,
		goals:      goals,
		stepReward: stepReward,
		goalReward: goalReward,
		ender:      environment.NewStepLimit(maxSteps),
	}, nil
}

// Reset starts a new episode in the starting cell. When the gridworld
// was built with NewRandomStart, the starting cell is drawn from a
// categorical distribution over the cells reseeded with seed, so
// resetting with the same seed restarts episodes in the same cell.
func (g *GridWorld) Reset(seed uint64) (timestep.TimeStep, error) {
	if g.randomStart {
		starter := environment.NewCategoricalStarter(
			[]int{g.cols, g.rows}, seed)
		for {
			start := starter.Start()
			g.x = int(start.AtVec(0))
			g.y = int(start.AtVec(1))
			if !g.atGoal(g.x, g.y) {
				break
			}
		}
	} else {
		g.x = g.startX
		g.y = g.startY
	}

	g.current = timestep.New(timestep.First, 0, g.obs(), 0)

	return g.current, nil
}

// Step takes a single action in the gridworld
func (g *GridWorld) Step(action int) (timestep.TimeStep, error) {
	switch action {
	case Left:
		if g.x > 0 {
			g.x--
		}
	case Right:
		if g.x < g.cols-1 {
			g.x++
		}
	case Up:
		if g.y < g.rows-1 {
			g.y++
		}
	case Down:
		if g.y > 0 {
			g.y--
		}
	default:
		return timestep.TimeStep{}, fmt.Errorf("step: invalid action %v",
			action)
	}

	reward := g.stepReward
	stepType := timestep.Mid
	if g.atGoal(g.x, g.y) {
		reward = g.goalReward
		stepType = timestep.Last
	}

	step := timestep.New(stepType, reward, g.obs(), g.current.Number+1)
	g.ender.End(&step)
	g.current = step

	return step, nil
}

// ObservationSpec returns the observation specification of the
// gridworld
func (g *GridWorld) ObservationSpec() environment.Spec {
	cells := g.rows * g.cols
	shape := mat.NewVecDense(cells, nil)
	lowerBound := mat.NewVecDense(cells, nil)

	upper := make([]float64, cells)
	for i := range upper {
		upper[i] = 1.0
	}
	upperBound := mat.NewVecDense(cells, upper)

	return environment.NewSpec(shape, environment.Observation, lowerBound,
		upperBound, environment.Discrete)
}

// ActionSpec returns the action specification of the gridworld
func (g *GridWorld) ActionSpec() environment.Spec {
	shape := mat.NewVecDense(1, nil)
	lowerBound := mat.NewVecDense(1, []float64{float64(Left)})
	upperBound := mat.NewVecDense(1, []float64{float64(Down)})

	return environment.NewSpec(shape, environment.Action, lowerBound,
		upperBound, environment.Discrete)
}

// Close performs cleanup of the gridworld's resources
func (g *GridWorld) Close() error {
	return nil
}

func (g *GridWorld) String() string {
	return fmt.Sprintf("GridWorld | %v x %v | position: (%v, %v)", g.rows,
		g.cols, g.x, g.y)
}

// Render draws the current state of the gridworld. Goal cells are
// filled rectangles and the agent is a filled circle.
func (g *GridWorld) Render() image.Image {
	width := g.cols * cellPixels
	height := g.rows * cellPixels

	dc := gg.NewContext(width, height)
	dc.SetColor(floorShade)
	dc.Clear()

	dc.SetColor(goalShade)
	for _, goal := range g.goals {
		x, y := g.pixelOrigin(goal[0], goal[1])
		dc.DrawRectangle(x, y, cellPixels, cellPixels)
	}
	dc.Fill()

	x, y := g.pixelOrigin(g.x, g.y)
	dc.SetColor(agentShade)
	dc.DrawCircle(x+cellPixels/2.0, y+cellPixels/2.0, cellPixels/3.0)
	dc.Fill()

	dc.SetColor(lineShade)
	dc.SetLineWidth(1.0)
	for i := 0; i <= g.cols; i++ {
		x := float64(i * cellPixels)
		dc.DrawLine(x, 0, x, float64(height))
	}
	for i := 0; i <= g.rows; i++ {
		y := float64(i * cellPixels)
		dc.DrawLine(0, y, float64(width), y)
	}
	dc.Stroke()

	return dc.Image()
}

// atGoal returns whether (x, y) is a goal cell
func (g *GridWorld) atGoal(x, y int) bool {
	for _, goal := range g.goals {
		if x == goal[0] && y == goal[1] {
			return true
		}
	}

	return false
}

// obs returns the one-hot observation of the current cell
func (g *GridWorld) obs() *mat.VecDense {
	obs := mat.NewVecDense(g.rows*g.cols, nil)
	obs.SetVec(g.y*g.cols+g.x, 1.0)

	return obs
}

// pixelOrigin returns the top-left pixel of cell (x, y). Pixel rows
// grow downward while grid rows grow upward, so the vertical axis is
// flipped.
func (g *GridWorld) pixelOrigin(x, y int) (float64, float64) {
	return float64(x * cellPixels), float64((g.rows - 1 - y) * cellPixels)
}
