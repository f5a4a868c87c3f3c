package plan

import "strconv"

type countStep int

const (
	countStepCheckpoint countStep = iota
	countStepTrigger
	countStepRead
	countStepEmit
	countStepWait
)

// Count takes N readings at the current position, with an optional delay
// between points.
type Count struct {
	numPoints int
	delay     float64
	detectors []string

	point  int
	step   countStep
	detIdx int
}

// NewCount creates a Count plan for numPoints readings.
func NewCount(numPoints int) *Count {
	return &Count{numPoints: numPoints, step: countStepCheckpoint}
}

func (p *Count) WithDetectors(detectors ...string) *Count {
	p.detectors = append(p.detectors, detectors...)
	return p
}

func (p *Count) WithDelay(seconds float64) *Count {
	p.delay = seconds
	return p
}

func (p *Count) PlanType() string { return "count" }
func (p *Count) PlanName() string { return "Count" }

func (p *Count) PlanArgs() map[string]string {
	return map[string]string{
		"num_points": strconv.Itoa(p.numPoints),
		"delay":      strconv.FormatFloat(p.delay, 'g', -1, 64),
	}
}

func (p *Count) Movers() []string    { return nil }
func (p *Count) Detectors() []string { return append([]string{}, p.detectors...) }
func (p *Count) NumPoints() int      { return p.numPoints }

func (p *Count) NextCommand() (PlanCommand, bool) {
	if p.point >= p.numPoints {
		return PlanCommand{}, false
	}

	switch p.step {
	case countStepCheckpoint:
		p.step = countStepTrigger
		return Checkpoint("count_" + strconv.Itoa(p.point)), true

	case countStepTrigger:
		p.step = countStepRead
		p.detIdx = 0
		if len(p.detectors) == 0 {
			p.step = countStepEmit
			return p.NextCommand()
		}
		return Trigger(p.detectors[0]), true

	case countStepRead:
		if p.detIdx < len(p.detectors) {
			det := p.detectors[p.detIdx]
			p.detIdx++
			return Read(det), true
		}
		p.step = countStepEmit
		return p.NextCommand()

	case countStepEmit:
		p.point++
		if p.delay > 0 && p.point < p.numPoints {
			p.step = countStepWait
		} else {
			p.step = countStepCheckpoint
		}
		return EmitEvent("primary", map[string]float64{}, map[string]float64{}), true

	case countStepWait:
		p.step = countStepCheckpoint
		return Wait(p.delay), true

	default:
		return PlanCommand{}, false
	}
}

func (p *Count) Reset() {
	p.point = 0
	p.step = countStepCheckpoint
	p.detIdx = 0
}
