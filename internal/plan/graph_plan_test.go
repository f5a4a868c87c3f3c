package plan

import (
	"errors"
	"testing"
)

func TestGraphPlanEmptyGraph(t *testing.T) {
	_, err := NewGraphBuilder().Build()
	if !errors.Is(err, ErrEmptyGraph) {
		t.Fatalf("got %v, want ErrEmptyGraph", err)
	}
}

func TestGraphPlanCycleDetected(t *testing.T) {
	// root has indegree 0 so root-finding succeeds; a<->b form a cycle
	// downstream of it, which Kahn's sort must still catch.
	_, err := NewGraphBuilder().
		AddNode(&GraphNode{ID: "root", Kind: NodeMove, Device: "x", Position: 0}).
		AddNode(&GraphNode{ID: "a", Kind: NodeMove, Device: "x", Position: 1}).
		AddNode(&GraphNode{ID: "b", Kind: NodeMove, Device: "x", Position: 2}).
		AddEdge("root", "a", "").
		AddEdge("a", "b", "").
		AddEdge("b", "a", "").
		Build()
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("got %v, want ErrCycleDetected", err)
	}
}

func TestGraphPlanNoRootNodes(t *testing.T) {
	// Every node in a 3-cycle has an incoming edge, so indegree never
	// reaches zero and root-finding fails before the cycle check runs.
	_, err := NewGraphBuilder().
		AddNode(&GraphNode{ID: "a", Kind: NodeMove, Device: "x"}).
		AddNode(&GraphNode{ID: "b", Kind: NodeMove, Device: "x"}).
		AddNode(&GraphNode{ID: "c", Kind: NodeMove, Device: "x"}).
		AddEdge("a", "b", "").
		AddEdge("b", "c", "").
		AddEdge("c", "a", "").
		Build()
	if !errors.Is(err, ErrNoRootNodes) {
		t.Fatalf("got %v, want ErrNoRootNodes", err)
	}
}

func TestGraphPlanLoopUnrolling(t *testing.T) {
	g, err := NewGraphBuilder().
		AddNode(&GraphNode{ID: "loop1", Kind: NodeLoop, LoopKind: LoopCount, Count: 3}).
		AddNode(&GraphNode{ID: "acq1", Kind: NodeAcquire, Device: "cam", Frames: 1}).
		AddEdge("loop1", "acq1", "body").
		Build()
	if err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	triggers, events, checkpoints := 0, 0, map[string]bool{}
	for {
		cmd, ok := g.NextCommand()
		if !ok {
			break
		}
		switch cmd.Kind {
		case CmdTrigger:
			triggers++
		case CmdEmitEvent:
			events++
		case CmdCheckpoint:
			checkpoints[cmd.Label] = true
		}
	}

	if triggers != 3 {
		t.Fatalf("triggers = %d, want 3", triggers)
	}
	if events != 3 {
		t.Fatalf("events = %d, want 3", events)
	}
	for i := 0; i < 3; i++ {
		for _, suffix := range []string{"start", "end"} {
			label := "loop_loop1_iter_" + string(rune('0'+i)) + "_" + suffix
			if !checkpoints[label] {
				t.Fatalf("missing checkpoint %q among %v", label, checkpoints)
			}
		}
	}
}
