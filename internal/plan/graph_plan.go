package plan

import (
	"errors"
	"fmt"
)

// Graph-level compile errors that callers can match with errors.Is.
var (
	ErrEmptyGraph    = errors.New("plan: empty graph")
	ErrCycleDetected = errors.New("plan: cycle detected")
	ErrNoRootNodes   = errors.New("plan: no root nodes")
	ErrInvalidNode   = errors.New("plan: invalid node")
)

// NodeKind is a GraphPlan node's variant.
type NodeKind string

const (
	NodeScan    NodeKind = "scan"
	NodeAcquire NodeKind = "acquire"
	NodeMove    NodeKind = "move"
	NodeWait    NodeKind = "wait"
	NodeLoop    NodeKind = "loop"
)

// WaitKind distinguishes a Wait node's condition.
type WaitKind string

const (
	WaitDuration  WaitKind = "duration"
	WaitThreshold WaitKind = "threshold"
	WaitStability WaitKind = "stability"
)

// LoopKind distinguishes a Loop node's termination condition.
type LoopKind string

const (
	LoopCount     LoopKind = "count"
	LoopCondition LoopKind = "condition"
	LoopInfinite  LoopKind = "infinite"
)

// GraphNode is one vertex of a plan graph. Only the fields relevant to its
// Kind are meaningful.
type GraphNode struct {
	ID   string
	Kind NodeKind

	// Move, Scan
	Device string
	// Move
	Position float64
	// Scan
	Start, Stop float64
	Points      int

	// Acquire
	Frames int

	// Wait
	WaitKind  WaitKind
	Seconds   float64 // Duration
	Threshold float64 // Threshold / Stability

	// Loop
	LoopKind      LoopKind
	Count         int
	MaxIterations int
}

// GraphEdge connects one node's output port to another node's input. Port
// is empty for a plain edge, or "body"/"next" for a Loop node's two
// outputs.
type GraphEdge struct {
	From, To string
	Port     string
}

// GraphBuilder accumulates nodes and edges before compiling them into a
// GraphPlan.
type GraphBuilder struct {
	nodes []*GraphNode
	edges []GraphEdge
}

func NewGraphBuilder() *GraphBuilder { return &GraphBuilder{} }

func (b *GraphBuilder) AddNode(n *GraphNode) *GraphBuilder {
	b.nodes = append(b.nodes, n)
	return b
}

func (b *GraphBuilder) AddEdge(from, to, port string) *GraphBuilder {
	b.edges = append(b.edges, GraphEdge{From: from, To: to, Port: port})
	return b
}

// Build compiles the accumulated graph into a flat, deterministic command
// sequence. Compilation happens once, here; GraphPlan.NextCommand simply
// replays the result, since loop conditions are resolved at translation
// time rather than against live device state (see node_X_start/end and
// loop_X_iter_k_start/end checkpoint framing below).
func (b *GraphBuilder) Build() (*GraphPlan, error) {
	if len(b.nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	byID := make(map[string]*GraphNode, len(b.nodes))
	for _, n := range b.nodes {
		if n.ID == "" {
			return nil, ErrInvalidNode
		}
		byID[n.ID] = n
	}

	succ := make(map[string][]GraphEdge)
	indeg := make(map[string]int)
	for _, n := range b.nodes {
		indeg[n.ID] = 0
	}
	for _, e := range b.edges {
		if _, ok := byID[e.From]; !ok {
			return nil, ErrInvalidNode
		}
		if _, ok := byID[e.To]; !ok {
			return nil, ErrInvalidNode
		}
		succ[e.From] = append(succ[e.From], e)
		indeg[e.To]++
	}

	var roots []string
	for _, n := range b.nodes {
		if indeg[n.ID] == 0 {
			roots = append(roots, n.ID)
		}
	}
	if len(roots) == 0 {
		return nil, ErrNoRootNodes
	}

	topo, err := kahnSort(b.nodes, succ, indeg)
	if err != nil {
		return nil, err
	}

	bodies := make(map[string]map[string]bool, len(b.nodes))
	for _, n := range b.nodes {
		if n.Kind != NodeLoop {
			continue
		}
		bodyReach := reachable(n.ID, "body", succ)
		nextReach := reachable(n.ID, "next", succ)
		body := make(map[string]bool)
		for id := range bodyReach {
			if !nextReach[id] {
				body[id] = true
			}
		}
		bodies[n.ID] = body
	}

	inAnyBody := make(map[string]bool)
	for _, body := range bodies {
		for id := range body {
			inAnyBody[id] = true
		}
	}

	g := &GraphPlan{nodes: byID}
	var warnings []string
	for _, id := range topo {
		if inAnyBody[id] {
			continue
		}
		n := byID[id]
		if err := g.translateNode(n, bodies, topo, inAnyBody, &warnings); err != nil {
			return nil, err
		}
	}
	g.warnings = warnings

	for _, n := range b.nodes {
		switch n.Kind {
		case NodeMove, NodeScan:
			g.movers = appendUnique(g.movers, n.Device)
		case NodeAcquire:
			g.detectors = appendUnique(g.detectors, n.Device)
		}
	}

	return g, nil
}

func appendUnique(s []string, v string) []string {
	if v == "" {
		return s
	}
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// kahnSort returns a deterministic topological order of every node, or
// ErrCycleDetected if the sorted count falls short of the node count.
func kahnSort(nodes []*GraphNode, succ map[string][]GraphEdge, indeg map[string]int) ([]string, error) {
	remaining := make(map[string]int, len(indeg))
	for k, v := range indeg {
		remaining[k] = v
	}

	var queue []string
	// Iterate nodes in their declaration order so the sort is
	// deterministic rather than depending on map iteration.
	for _, n := range nodes {
		if remaining[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, e := range succ[id] {
			remaining[e.To]--
			if remaining[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// reachable returns every node id reachable from start by first following
// edges tagged with startPort, then any edge thereafter.
func reachable(start, startPort string, succ map[string][]GraphEdge) map[string]bool {
	seen := make(map[string]bool)
	var queue []string
	for _, e := range succ[start] {
		if e.Port == startPort {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range succ[id] {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// maxSafetyIterations bounds Condition and Infinite loops, which this
// translator unrolls deterministically at compile time rather than
// evaluating against live device state.
const maxSafetyIterations = 1000

func (g *GraphPlan) translateNode(n *GraphNode, bodies map[string]map[string]bool, topo []string, inAnyBody map[string]bool, warnings *[]string) error {
	g.emit(Checkpoint("node_" + n.ID + "_start"))

	switch n.Kind {
	case NodeMove:
		g.emit(MoveTo(n.Device, n.Position))

	case NodeScan:
		points := n.Points
		if points < 1 {
			points = 1
		}
		for i := 0; i < points; i++ {
			pos := n.Start
			if points > 1 {
				pos = n.Start + (n.Stop-n.Start)/float64(points-1)*float64(i)
			}
			g.emit(MoveTo(n.Device, pos))
		}

	case NodeAcquire:
		frames := n.Frames
		if frames < 1 {
			frames = 1
		}
		g.emit(Trigger(n.Device))
		for i := 0; i < frames; i++ {
			g.emit(Read(n.Device))
			g.emit(EmitEvent("primary", map[string]float64{}, map[string]float64{}))
		}

	case NodeWait:
		switch n.WaitKind {
		case WaitThreshold, WaitStability:
			// Sampling rate and debounce semantics are under-defined
			// upstream; translate as a timeout-only wait.
			g.emit(Wait(n.Threshold))
		default:
			g.emit(Wait(n.Seconds))
		}

	case NodeLoop:
		body := bodies[n.ID]
		bodyOrder := make([]string, 0, len(body))
		for _, id := range topo {
			if body[id] {
				bodyOrder = append(bodyOrder, id)
			}
		}

		iterations := n.Count
		if n.LoopKind != LoopCount {
			iterations = n.MaxIterations
			if iterations <= 0 || iterations > maxSafetyIterations {
				iterations = maxSafetyIterations
			}
			*warnings = append(*warnings, fmt.Sprintf("loop %s: unrolling %s loop to safety cap of %d iterations", n.ID, n.LoopKind, iterations))
		}

		for i := 0; i < iterations; i++ {
			label := fmt.Sprintf("loop_%s_iter_%d", n.ID, i)
			g.emit(Checkpoint(label + "_start"))
			for _, id := range bodyOrder {
				if err := g.translateNode(g.nodes[id], bodies, topo, inAnyBody, warnings); err != nil {
					return err
				}
			}
			g.emit(Checkpoint(label + "_end"))
		}

	default:
		return ErrInvalidNode
	}

	g.emit(Checkpoint("node_" + n.ID + "_end"))
	return nil
}

// GraphPlan is a plan compiled ahead of time from a directed graph of
// typed nodes: topologically ordered, with loop bodies unrolled
// deterministically.
type GraphPlan struct {
	nodes     map[string]*GraphNode
	commands  []PlanCommand
	idx       int
	movers    []string
	detectors []string
	warnings  []string
}

func (g *GraphPlan) emit(cmd PlanCommand) { g.commands = append(g.commands, cmd) }

func (g *GraphPlan) PlanType() string { return "graph" }
func (g *GraphPlan) PlanName() string { return "Graph Plan" }

func (g *GraphPlan) PlanArgs() map[string]string {
	return map[string]string{"node_count": fmt.Sprintf("%d", len(g.nodes))}
}

func (g *GraphPlan) Movers() []string    { return append([]string{}, g.movers...) }
func (g *GraphPlan) Detectors() []string { return append([]string{}, g.detectors...) }

// NumPoints returns the number of CmdEmitEvent commands the graph compiles
// to, i.e. the expected Event count for a run, not the total command count
// (which also includes Move/Trigger/Read/Wait/Checkpoint commands).
func (g *GraphPlan) NumPoints() int {
	n := 0
	for _, cmd := range g.commands {
		if cmd.Kind == CmdEmitEvent {
			n++
		}
	}
	return n
}

// Warnings returns any safety-cap notices recorded during compilation.
func (g *GraphPlan) Warnings() []string { return g.warnings }

func (g *GraphPlan) NextCommand() (PlanCommand, bool) {
	if g.idx >= len(g.commands) {
		return PlanCommand{}, false
	}
	cmd := g.commands[g.idx]
	g.idx++
	return cmd, true
}

func (g *GraphPlan) Reset() { g.idx = 0 }
