package plan

import "strconv"

type lineScanStep int

const (
	lineStepMove lineScanStep = iota
	lineStepSettle
	lineStepCheckpoint
	lineStepTrigger
	lineStepRead
	lineStepEmit
)

// LineScan scans one axis linearly across N points, optionally triggering
// and reading one or more detectors at each point.
type LineScan struct {
	axis       string
	start      float64
	stop       float64
	numPoints  int
	detectors  []string
	settleTime float64

	point    int
	step     lineScanStep
	detIdx   int
}

// NewLineScan creates a scan of axis from start to stop over numPoints
// linearly-interpolated positions.
func NewLineScan(axis string, start, stop float64, numPoints int) *LineScan {
	return &LineScan{axis: axis, start: start, stop: stop, numPoints: numPoints, step: lineStepMove}
}

// WithDetectors attaches detectors to trigger and read at each point.
func (p *LineScan) WithDetectors(detectors ...string) *LineScan {
	p.detectors = append(p.detectors, detectors...)
	return p
}

// WithSettleTime sets the post-move settle delay in seconds.
func (p *LineScan) WithSettleTime(seconds float64) *LineScan {
	p.settleTime = seconds
	return p
}

func (p *LineScan) positionAt(point int) float64 {
	if p.numPoints <= 1 {
		return p.start
	}
	step := (p.stop - p.start) / float64(p.numPoints-1)
	return p.start + step*float64(point)
}

func (p *LineScan) PlanType() string { return "line_scan" }
func (p *LineScan) PlanName() string { return "Line Scan" }

func (p *LineScan) PlanArgs() map[string]string {
	return map[string]string{
		"axis":       p.axis,
		"start":      strconv.FormatFloat(p.start, 'g', -1, 64),
		"stop":       strconv.FormatFloat(p.stop, 'g', -1, 64),
		"num_points": strconv.Itoa(p.numPoints),
		"detectors":  joinComma(p.detectors),
	}
}

func (p *LineScan) Movers() []string    { return []string{p.axis} }
func (p *LineScan) Detectors() []string { return append([]string{}, p.detectors...) }
func (p *LineScan) NumPoints() int      { return p.numPoints }

func (p *LineScan) NextCommand() (PlanCommand, bool) {
	if p.point >= p.numPoints {
		return PlanCommand{}, false
	}

	switch p.step {
	case lineStepMove:
		pos := p.positionAt(p.point)
		if p.settleTime > 0 {
			p.step = lineStepSettle
		} else {
			p.step = lineStepCheckpoint
		}
		return MoveTo(p.axis, pos), true

	case lineStepSettle:
		p.step = lineStepCheckpoint
		return Wait(p.settleTime), true

	case lineStepCheckpoint:
		p.step = lineStepTrigger
		return Checkpoint("point_" + strconv.Itoa(p.point)), true

	case lineStepTrigger:
		p.step = lineStepRead
		p.detIdx = 0
		if len(p.detectors) == 0 {
			p.step = lineStepEmit
			return p.NextCommand()
		}
		return Trigger(p.detectors[0]), true

	case lineStepRead:
		if p.detIdx < len(p.detectors) {
			det := p.detectors[p.detIdx]
			p.detIdx++
			return Read(det), true
		}
		p.step = lineStepEmit
		return p.NextCommand()

	case lineStepEmit:
		pos := p.positionAt(p.point)
		positions := map[string]float64{p.axis: pos}
		p.point++
		p.step = lineStepMove
		return EmitEvent("primary", map[string]float64{}, positions), true

	default:
		return PlanCommand{}, false
	}
}

func (p *LineScan) Reset() {
	p.point = 0
	p.step = lineStepMove
	p.detIdx = 0
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
