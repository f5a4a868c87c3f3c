package plan

import "strconv"

type gridScanStep int

const (
	gridStepMoveOuter gridScanStep = iota
	gridStepMoveInner
	gridStepSettle
	gridStepCheckpoint
	gridStepTrigger
	gridStepRead
	gridStepEmit
)

// GridScan nests an inner axis inside an outer axis. In snake mode
// (default) the inner axis alternates direction each outer row so the
// stage never returns to the inner start; in raster mode the inner axis
// always restarts from its start.
type GridScan struct {
	axisOuter   string
	outerStart  float64
	outerStop   float64
	outerPoints int

	axisInner   string
	innerStart  float64
	innerStop   float64
	innerPoints int

	detectors  []string
	settleTime float64
	snake      bool

	outerIdx      int
	innerIdx      int
	innerDir      int
	step          gridScanStep
	detIdx        int
}

// NewGridScan creates a grid scan over outerPoints x innerPoints, snake
// mode on by default.
func NewGridScan(axisOuter string, outerStart, outerStop float64, outerPoints int,
	axisInner string, innerStart, innerStop float64, innerPoints int) *GridScan {
	return &GridScan{
		axisOuter: axisOuter, outerStart: outerStart, outerStop: outerStop, outerPoints: outerPoints,
		axisInner: axisInner, innerStart: innerStart, innerStop: innerStop, innerPoints: innerPoints,
		snake: true, innerDir: 1, step: gridStepMoveOuter,
	}
}

func (p *GridScan) WithDetectors(detectors ...string) *GridScan {
	p.detectors = append(p.detectors, detectors...)
	return p
}

func (p *GridScan) WithSettleTime(seconds float64) *GridScan {
	p.settleTime = seconds
	return p
}

func (p *GridScan) WithSnake(snake bool) *GridScan {
	p.snake = snake
	return p
}

func (p *GridScan) outerPosition(idx int) float64 {
	if p.outerPoints <= 1 {
		return p.outerStart
	}
	step := (p.outerStop - p.outerStart) / float64(p.outerPoints-1)
	return p.outerStart + step*float64(idx)
}

func (p *GridScan) innerPosition(idx int) float64 {
	if p.innerPoints <= 1 {
		return p.innerStart
	}
	step := (p.innerStop - p.innerStart) / float64(p.innerPoints-1)
	return p.innerStart + step*float64(idx)
}

func (p *GridScan) PlanType() string { return "grid_scan" }
func (p *GridScan) PlanName() string { return "Grid Scan" }

func (p *GridScan) PlanArgs() map[string]string {
	return map[string]string{
		"axis_outer":   p.axisOuter,
		"outer_start":  strconv.FormatFloat(p.outerStart, 'g', -1, 64),
		"outer_stop":   strconv.FormatFloat(p.outerStop, 'g', -1, 64),
		"outer_points": strconv.Itoa(p.outerPoints),
		"axis_inner":   p.axisInner,
		"inner_start":  strconv.FormatFloat(p.innerStart, 'g', -1, 64),
		"inner_stop":   strconv.FormatFloat(p.innerStop, 'g', -1, 64),
		"inner_points": strconv.Itoa(p.innerPoints),
		"snake":        strconv.FormatBool(p.snake),
	}
}

func (p *GridScan) Movers() []string    { return []string{p.axisOuter, p.axisInner} }
func (p *GridScan) Detectors() []string { return append([]string{}, p.detectors...) }
func (p *GridScan) NumPoints() int      { return p.outerPoints * p.innerPoints }

func (p *GridScan) NextCommand() (PlanCommand, bool) {
	if p.outerPoints == 0 || p.innerPoints == 0 {
		return PlanCommand{}, false
	}
	if p.outerIdx >= p.outerPoints {
		return PlanCommand{}, false
	}

	switch p.step {
	case gridStepMoveOuter:
		pos := p.outerPosition(p.outerIdx)
		p.step = gridStepMoveInner
		return MoveTo(p.axisOuter, pos), true

	case gridStepMoveInner:
		pos := p.innerPosition(p.innerIdx)
		if p.settleTime > 0 {
			p.step = gridStepSettle
		} else {
			p.step = gridStepCheckpoint
		}
		return MoveTo(p.axisInner, pos), true

	case gridStepSettle:
		p.step = gridStepCheckpoint
		return Wait(p.settleTime), true

	case gridStepCheckpoint:
		p.step = gridStepTrigger
		return Checkpoint("point_" + strconv.Itoa(p.outerIdx) + "_" + strconv.Itoa(p.innerIdx)), true

	case gridStepTrigger:
		p.step = gridStepRead
		p.detIdx = 0
		if len(p.detectors) == 0 {
			p.step = gridStepEmit
			return p.NextCommand()
		}
		return Trigger(p.detectors[0]), true

	case gridStepRead:
		if p.detIdx < len(p.detectors) {
			det := p.detectors[p.detIdx]
			p.detIdx++
			return Read(det), true
		}
		p.step = gridStepEmit
		return p.NextCommand()

	case gridStepEmit:
		outerPos := p.outerPosition(p.outerIdx)
		innerPos := p.innerPosition(p.innerIdx)
		positions := map[string]float64{p.axisOuter: outerPos, p.axisInner: innerPos}

		if p.snake {
			nextInner := p.innerIdx + p.innerDir
			if nextInner < 0 || nextInner >= p.innerPoints {
				p.outerIdx++
				p.innerDir = -p.innerDir
				p.step = gridStepMoveOuter
			} else {
				p.innerIdx = nextInner
				p.step = gridStepMoveInner
			}
		} else {
			p.innerIdx++
			if p.innerIdx >= p.innerPoints {
				p.innerIdx = 0
				p.outerIdx++
				p.step = gridStepMoveOuter
			} else {
				p.step = gridStepMoveInner
			}
		}

		return EmitEvent("primary", map[string]float64{}, positions), true

	default:
		return PlanCommand{}, false
	}
}

func (p *GridScan) Reset() {
	p.outerIdx = 0
	p.innerIdx = 0
	p.innerDir = 1
	p.step = gridStepMoveOuter
	p.detIdx = 0
}
