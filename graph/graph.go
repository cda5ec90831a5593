package graph

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hearthai/hearth/core"
)

// End is the sentinel successor that terminates a run
const End = "end"

// DefaultIterationCap bounds pathological cycles. Retry and web re-route
// cycles are intentional; retry counters on state are the real limiter and
// the cap is the safety net.
const DefaultIterationCap = 50

// NodeFunc is a single workflow step: it reads a subset of state, may call
// microservices, and mutates its declared fields.
type NodeFunc func(ctx context.Context, s *State) error

// Predicate resolves a conditional edge. Returning "" or End terminates
// the run.
type Predicate func(s *State) string

type node struct {
	fn     NodeFunc
	writes []string
}

type edge struct {
	static string
	cond   Predicate
}

// Graph is a declared node/edge topology. Declare nodes and edges up front,
// then drive runs with Run; a Graph is immutable during execution and safe
// for concurrent runs.
type Graph struct {
	nodes        map[string]*node
	edges        map[string]edge
	parallels    map[string][]string
	entry        string
	iterationCap int
	logger       core.Logger
	telemetry    core.Telemetry
}

// GraphOption configures a Graph
type GraphOption func(*Graph)

// WithIterationCap overrides the default iteration cap
func WithIterationCap(cap int) GraphOption {
	return func(g *Graph) {
		if cap > 0 {
			g.iterationCap = cap
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(logger core.Logger) GraphOption {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTelemetry sets the engine telemetry provider
func WithTelemetry(t core.Telemetry) GraphOption {
	return func(g *Graph) {
		if t != nil {
			g.telemetry = t
		}
	}
}

// New creates an empty graph
func New(opts ...GraphOption) *Graph {
	g := &Graph{
		nodes:        make(map[string]*node),
		edges:        make(map[string]edge),
		parallels:    make(map[string][]string),
		iterationCap: DefaultIterationCap,
		logger:       &core.NoOpLogger{},
		telemetry:    &core.NoOpTelemetry{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddNode registers a node function with the state fields it writes.
// Declared writes are what the parallel combiner merges; nodes that only
// run sequentially may leave them empty.
func (g *Graph) AddNode(name string, fn NodeFunc, writes ...string) {
	g.nodes[name] = &node{fn: fn, writes: writes}
}

// AddParallel registers a combiner node that fans out to the named children
// concurrently. Children must declare disjoint write sets; overlapping
// declarations fail fast at build time.
func (g *Graph) AddParallel(name string, children ...string) error {
	seen := make(map[string]string)
	for _, child := range children {
		n, ok := g.nodes[child]
		if !ok {
			return fmt.Errorf("parallel %s: child %s: %w", name, child, core.ErrUnknownNode)
		}
		for _, field := range n.writes {
			if prev, dup := seen[field]; dup {
				return fmt.Errorf("parallel %s: %s and %s both write %s: %w",
					name, prev, child, field, core.ErrConflictingWrite)
			}
			seen[field] = child
		}
	}
	g.parallels[name] = children
	g.nodes[name] = &node{fn: g.parallelFunc(children)}
	return nil
}

// AddEdge declares a static successor
func (g *Graph) AddEdge(from, to string) {
	g.edges[from] = edge{static: to}
}

// AddConditionalEdge declares a predicate-routed successor
func (g *Graph) AddConditionalEdge(from string, pred Predicate) {
	g.edges[from] = edge{cond: pred}
}

// SetEntry names the initial node
func (g *Graph) SetEntry(name string) {
	g.entry = name
}

// ProgressEvent reports one node transition to the caller's progress sink
type ProgressEvent struct {
	Node       string `json:"node"`
	Status     string `json:"status"` // start, success, error
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ProgressFunc receives progress events. Delivery is serialized per run and
// never reorders.
type ProgressFunc func(event ProgressEvent)

type runOptions struct {
	progress ProgressFunc
}

// RunOption configures a single run
type RunOption func(*runOptions)

// WithProgress attaches a progress sink to a run
func WithProgress(fn ProgressFunc) RunOption {
	return func(o *runOptions) { o.progress = fn }
}

// next resolves the successor of a node. A missing edge or an unknown
// target terminates the run.
func (g *Graph) next(from string, s *State) string {
	e, ok := g.edges[from]
	if !ok {
		return End
	}
	target := e.static
	if e.cond != nil {
		target = e.cond(s)
	}
	if target == "" || target == End {
		return End
	}
	if _, ok := g.nodes[target]; !ok {
		g.logger.Warn("Edge points at unknown node, ending run", map[string]interface{}{
			"from":   from,
			"target": target,
		})
		return End
	}
	return target
}

// Run drives a state through the graph from the entry node. The outcome is
// recorded on the state itself: Success, Error, FailedNode, Iterations,
// ElapsedMS and the per-node Trace. The returned error mirrors s.Error for
// callers that prefer Go error flow.
func (g *Graph) Run(ctx context.Context, s *State, opts ...RunOption) error {
	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}
	progress := options.progress
	if progress == nil {
		progress = func(ProgressEvent) {}
	}

	s.Trace = s.Trace[:0]
	s.StartTime = time.Now()
	s.Iterations = 0
	s.Success = false
	s.Error = ""
	s.FailedNode = ""

	ctx, span := g.telemetry.StartSpan(ctx, "graph.Run")
	defer span.End()
	span.SetAttribute("hearth.run.id", s.RunID)

	defer func() {
		s.ElapsedMS = time.Since(s.StartTime).Milliseconds()
		s.Success = s.Error == ""
		span.SetAttribute("hearth.run.iterations", s.Iterations)
		span.SetAttribute("hearth.run.success", s.Success)
		g.telemetry.RecordMetric("hearth.graph.runs", 1, map[string]string{
			"success": fmt.Sprintf("%t", s.Success),
		})
	}()

	if g.entry == "" {
		s.Error = "graph has no entry node"
		return fmt.Errorf("%s: %w", s.Error, core.ErrUnknownNode)
	}

	current := g.entry
	for current != End {
		if s.Iterations >= g.iterationCap {
			s.Error = "iteration cap"
			g.logger.Error("Iteration cap exceeded", map[string]interface{}{
				"run_id":     s.RunID,
				"iterations": s.Iterations,
				"node":       current,
			})
			return fmt.Errorf("run %s at node %s: %w", s.RunID, current, core.ErrIterationCapExceeded)
		}

		if err := ctx.Err(); err != nil {
			s.Error = "cancelled"
			s.FailedNode = current
			s.Trace = append(s.Trace, TraceEntry{
				Node:      current,
				StartedAt: time.Now(),
				Success:   false,
				Error:     "cancelled",
			})
			return fmt.Errorf("run %s: %w", s.RunID, core.ErrContextCanceled)
		}

		n, ok := g.nodes[current]
		if !ok {
			s.Error = fmt.Sprintf("unknown node %q", current)
			s.FailedNode = current
			return fmt.Errorf("run %s: node %s: %w", s.RunID, current, core.ErrUnknownNode)
		}

		s.Iterations++
		entry := TraceEntry{
			Node:          current,
			StartedAt:     time.Now(),
			InputSnapshot: s.Snapshot(),
		}
		progress(ProgressEvent{Node: current, Status: "start"})

		err := g.invoke(ctx, current, n, s)
		entry.DurationMS = time.Since(entry.StartedAt).Milliseconds()
		entry.OutputSnapshot = s.Snapshot()

		if err != nil {
			entry.Success = false
			entry.Error = err.Error()
			s.Trace = append(s.Trace, entry)
			s.Error = err.Error()
			s.FailedNode = current
			progress(ProgressEvent{Node: current, Status: "error", DurationMS: entry.DurationMS, Error: err.Error()})
			g.logger.Error("Node failed", map[string]interface{}{
				"run_id": s.RunID,
				"node":   current,
				"error":  err.Error(),
			})
			g.telemetry.RecordMetric("hearth.graph.node_failures", 1, map[string]string{
				"node": current,
			})
			return err
		}

		entry.Success = true
		s.Trace = append(s.Trace, entry)
		progress(ProgressEvent{Node: current, Status: "success", DurationMS: entry.DurationMS})

		current = g.next(current, s)
	}

	return nil
}

// invoke runs one node with panic recovery and a per-node span
func (g *Graph) invoke(ctx context.Context, name string, n *node, s *State) (err error) {
	ctx, span := g.telemetry.StartSpan(ctx, "node."+name)
	defer span.End()
	span.SetAttribute("hearth.node", name)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %s panicked: %v", name, r)
			span.RecordError(err)
			g.logger.Error("Node panic recovered", map[string]interface{}{
				"run_id": s.RunID,
				"node":   name,
				"panic":  fmt.Sprintf("%v", r),
				"stack":  string(debug.Stack()),
			})
		}
	}()

	if err := n.fn(ctx, s); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
