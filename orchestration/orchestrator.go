// Package orchestration assembles the assistant's workflow graph and runs
// user requests through it. The Orchestrator owns the compiled graph, a
// bounded ring of recent run traces and a TTL response cache, and exposes a
// direct escape hatch for single service actions that skip the graph.
package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthai/hearth/client"
	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/graph"
	"github.com/hearthai/hearth/nodes"
	"github.com/hearthai/hearth/registry"
)

const (
	// fallbackResponse is what the caller sees when a run fails outright
	fallbackResponse = "I'm sorry, I ran into a problem while working on that. Please try again."

	// cacheTTL bounds how long a cached response stays valid
	cacheTTL = 5 * time.Minute

	// cacheMaxSize bounds the response cache
	cacheMaxSize = 256
)

// Request is one user turn submitted to the orchestrator
type Request struct {
	Message        string
	Context        graph.RequestContext
	StreamCallback func(token string)

	// BypassCache forces a fresh run even when a cached response exists
	BypassCache bool
}

// Debug carries run internals useful to operators, not end users
type Debug struct {
	Iterations int    `json:"iterations"`
	FailedNode string `json:"failed_node,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Result is the envelope returned for every processed request. Success is
// about the run, not the answer: a degraded answer from a healthy run still
// reports success.
type Result struct {
	Success   bool                   `json:"success"`
	Action    string                 `json:"action"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Response  string                 `json:"response"`
	ElapsedMS int64                  `json:"elapsed_ms"`
	Trace     []graph.TraceEntry     `json:"trace,omitempty"`
	FromCache bool                   `json:"from_cache,omitempty"`
	Debug     Debug                  `json:"debug"`
}

// TracesQuery filters the recent-trace listing
type TracesQuery struct {
	Limit        int
	IncludeCache bool
	SessionID    string
}

// Orchestrator runs requests through the compiled assistant graph
type Orchestrator struct {
	registry  *registry.Registry
	client    *client.Client
	library   *nodes.Library
	logger    core.Logger
	telemetry core.Telemetry

	buildOnce sync.Once
	graph     *graph.Graph
	graphErr  error

	ring  *traceRing
	cache *responseCache
}

// New creates an Orchestrator over a registry and client. The graph is
// compiled lazily on first use.
func New(reg *registry.Registry, cli *client.Client, cfg *core.Config, logger core.Logger, telemetry core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	ringSize := 200
	if cfg != nil && cfg.TraceRingSize > 0 {
		ringSize = cfg.TraceRingSize
	}
	return &Orchestrator{
		registry:  reg,
		client:    cli,
		library:   nodes.NewLibrary(cli, logger, telemetry),
		logger:    logger,
		telemetry: telemetry,
		ring:      newTraceRing(ringSize),
		cache:     newResponseCache(cacheTTL, cacheMaxSize),
	}
}

// Graph returns the compiled workflow graph, building it exactly once.
// Repeated calls return the same instance.
func (o *Orchestrator) Graph() (*graph.Graph, error) {
	o.buildOnce.Do(func() {
		o.graph, o.graphErr = o.buildGraph()
	})
	return o.graph, o.graphErr
}

// Process runs one user turn through the graph and returns the response
// envelope. Failures never surface as errors to the caller; the envelope
// reports them with a fallback response.
func (o *Orchestrator) Process(ctx context.Context, req Request) *Result {
	start := time.Now()

	streaming := req.StreamCallback != nil
	key := cacheKey(req.Message, req.Context.SessionID, req.Context.UseOnlineMode)
	if !streaming && !req.BypassCache {
		if cached, ok := o.cache.Get(key); ok {
			return o.replayCached(cached, start)
		}
	}

	g, err := o.Graph()
	if err != nil {
		o.logger.Error("Graph compilation failed", map[string]interface{}{"error": err.Error()})
		return &Result{
			Success:   false,
			Action:    nodes.IntentGeneralQuery,
			Response:  fallbackResponse,
			ElapsedMS: time.Since(start).Milliseconds(),
			Debug:     Debug{Error: err.Error()},
		}
	}

	state := &graph.State{
		RunID:          uuid.New().String(),
		Message:        req.Message,
		Context:        req.Context,
		StreamCallback: req.StreamCallback,
	}

	runErr := g.Run(ctx, state)
	result := o.envelope(state, runErr)

	o.ring.Add(RunRecord{
		RunID:     state.RunID,
		SessionID: req.Context.SessionID,
		Action:    result.Action,
		Timestamp: start,
		ElapsedMS: result.ElapsedMS,
		Success:   result.Success,
		Trace:     state.Trace,
	})

	if result.Success && !streaming {
		o.cache.Set(key, result)
	}
	return result
}

// envelope shapes a finished run into the caller-facing result
func (o *Orchestrator) envelope(s *graph.State, runErr error) *Result {
	action := nodes.IntentGeneralQuery
	if s.Intent != nil {
		action = s.Intent.Type
	}

	result := &Result{
		Action:    action,
		ElapsedMS: s.ElapsedMS,
		Trace:     s.Trace,
		Debug:     Debug{Iterations: s.Iterations},
	}

	if runErr != nil {
		result.Success = false
		result.Response = fallbackResponse
		result.Debug.FailedNode = s.FailedNode
		result.Debug.Error = s.Error
		o.logger.Error("Run failed", map[string]interface{}{
			"run_id":      s.RunID,
			"failed_node": s.FailedNode,
			"error":       s.Error,
			"iterations":  s.Iterations,
		})
		return result
	}

	result.Success = true
	result.Response = s.Answer
	result.Data = map[string]interface{}{
		"intent_confidence":    0.0,
		"memories_used":        len(s.FilteredMemories),
		"web_search_performed": s.WebSearchPerformed,
		"memory_stored":        s.MemoryStored,
		"conversation_stored":  s.ConversationStored,
		"model":                s.AnswerMetadata.Model,
	}
	if s.Intent != nil {
		result.Data["intent_confidence"] = s.Intent.Confidence
	}
	if s.MemoryID != "" {
		result.Data["memory_id"] = s.MemoryID
	}
	return result
}

// replayCached returns a copy of a cached envelope with its trace marked
func (o *Orchestrator) replayCached(cached *Result, start time.Time) *Result {
	out := *cached
	out.FromCache = true
	out.ElapsedMS = time.Since(start).Milliseconds()
	out.Trace = make([]graph.TraceEntry, len(cached.Trace))
	for i, entry := range cached.Trace {
		entry.FromCache = true
		out.Trace[i] = entry
	}
	o.ring.Add(RunRecord{
		RunID:     uuid.New().String(),
		Action:    out.Action,
		Timestamp: start,
		ElapsedMS: out.ElapsedMS,
		Success:   out.Success,
		FromCache: true,
		Trace:     out.Trace,
	})
	return &out
}

// ExecuteAction invokes a single service action directly, skipping the
// workflow graph. Gating and statistics still apply through the client.
func (o *Orchestrator) ExecuteAction(ctx context.Context, service, action string, payload map[string]interface{}, opts ...client.CallOption) (map[string]interface{}, error) {
	res, err := o.client.Call(ctx, service, action, payload, opts...)
	if err != nil {
		return nil, fmt.Errorf("execute %s.%s: %w", service, action, err)
	}
	return res.Data(), nil
}

// Health probes every enabled service and reports per-service status,
// circuit breaker state and cache statistics
func (o *Orchestrator) Health(ctx context.Context, probeTimeout time.Duration) map[string]interface{} {
	statuses := o.client.HealthCheckAll(ctx, probeTimeout)
	services := make(map[string]interface{}, len(statuses))
	overall := core.HealthHealthy
	for name, status := range statuses {
		services[name] = map[string]interface{}{
			"status":  string(status),
			"breaker": o.client.BreakerState(name),
		}
		if status != core.HealthHealthy {
			overall = core.HealthDegraded
		}
	}
	return map[string]interface{}{
		"status":   string(overall),
		"services": services,
		"cache":    o.cache.Stats(),
	}
}

// Traces lists recent run records, newest first
func (o *Orchestrator) Traces(q TracesQuery) []RunRecord {
	return o.ring.Recent(q)
}

// Close releases background resources
func (o *Orchestrator) Close() {
	o.cache.Close()
}
