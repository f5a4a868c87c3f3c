package plan

import (
	"math"
	"testing"
)

func collectMoveToPositions(p Plan) []float64 {
	var positions []float64
	for {
		cmd, ok := p.NextCommand()
		if !ok {
			break
		}
		if cmd.Kind == CmdMoveTo {
			positions = append(positions, cmd.Position)
		}
	}
	return positions
}

func TestLineScanPositions(t *testing.T) {
	p := NewLineScan("x", 0.0, 10.0, 11)
	positions := collectMoveToPositions(p)

	if len(positions) != 11 {
		t.Fatalf("got %d MoveTo commands, want 11", len(positions))
	}
	for i, want := range []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		if math.Abs(positions[i]-want) > 1e-10 {
			t.Fatalf("position[%d] = %v, want %v", i, positions[i], want)
		}
	}
}

func TestLineScanZeroPoints(t *testing.T) {
	p := NewLineScan("x", 0, 10, 0)
	if _, ok := p.NextCommand(); ok {
		t.Fatal("expected N=0 to yield zero commands")
	}
}

func TestLineScanSinglePoint(t *testing.T) {
	p := NewLineScan("x", 5.0, 10.0, 1)
	positions := collectMoveToPositions(p)
	if len(positions) != 1 || positions[0] != 5.0 {
		t.Fatalf("N=1: got %v, want exactly one MoveTo at start=5", positions)
	}
}

func TestGridScanSnakeEventCount(t *testing.T) {
	p := NewGridScan("y", 0, 2, 3, "x", 0, 1, 2).WithDetectors("detector")

	var innerPositions []float64
	eventCount := 0
	for {
		cmd, ok := p.NextCommand()
		if !ok {
			break
		}
		if cmd.Kind == CmdEmitEvent {
			eventCount++
			innerPositions = append(innerPositions, cmd.Positions["x"])
		}
	}

	if eventCount != 6 {
		t.Fatalf("event count = %d, want 6", eventCount)
	}
	want := []float64{0, 1, 1, 0, 0, 1}
	for i, w := range want {
		if math.Abs(innerPositions[i]-w) > 1e-10 {
			t.Fatalf("inner position[%d] = %v, want %v (full=%v)", i, innerPositions[i], w, innerPositions)
		}
	}
}

func TestGridScanZeroOuterOrInner(t *testing.T) {
	if _, ok := NewGridScan("y", 0, 1, 0, "x", 0, 1, 5).NextCommand(); ok {
		t.Fatal("expected outer=0 to yield zero commands")
	}
	if _, ok := NewGridScan("y", 0, 1, 5, "x", 0, 1, 0).NextCommand(); ok {
		t.Fatal("expected inner=0 to yield zero commands")
	}
}

func TestCountEmitsNAndResets(t *testing.T) {
	p := NewCount(5).WithDetectors("power_meter")

	count := 0
	for {
		cmd, ok := p.NextCommand()
		if !ok {
			break
		}
		if cmd.Kind == CmdEmitEvent {
			count++
		}
	}
	if count != 5 {
		t.Fatalf("first pass: got %d events, want 5", count)
	}

	p.Reset()
	count = 0
	for {
		cmd, ok := p.NextCommand()
		if !ok {
			break
		}
		if cmd.Kind == CmdEmitEvent {
			count++
		}
	}
	if count != 5 {
		t.Fatalf("after reset: got %d events, want 5", count)
	}
}

func TestResetReproducesFreshSequence(t *testing.T) {
	fresh := NewLineScan("x", 0, 10, 4).WithDetectors("d")
	var freshCmds []CommandKind
	for {
		cmd, ok := fresh.NextCommand()
		if !ok {
			break
		}
		freshCmds = append(freshCmds, cmd.Kind)
	}

	reused := NewLineScan("x", 0, 10, 4).WithDetectors("d")
	for i := 0; i < 3; i++ {
		reused.NextCommand()
	}
	reused.Reset()

	var reusedCmds []CommandKind
	for {
		cmd, ok := reused.NextCommand()
		if !ok {
			break
		}
		reusedCmds = append(reusedCmds, cmd.Kind)
	}

	if len(freshCmds) != len(reusedCmds) {
		t.Fatalf("sequence length differs: fresh=%d reset=%d", len(freshCmds), len(reusedCmds))
	}
	for i := range freshCmds {
		if freshCmds[i] != reusedCmds[i] {
			t.Fatalf("command[%d] differs after reset: %v vs %v", i, freshCmds[i], reusedCmds[i])
		}
	}
}
