package orchestration

import (
	"github.com/hearthai/hearth/graph"
	"github.com/hearthai/hearth/nodes"
)

// Node names as they appear in edges and traces
const (
	nodeEarlyResolve      = "earlyResolveReferences"
	nodeParseIntent       = "parseIntent"
	nodeRetrieveMemory    = "retrieveMemory"
	nodeFilterMemory      = "filterMemory"
	nodeWebSearch         = "webSearch"
	nodeSanitizeWeb       = "sanitizeWeb"
	nodeResolveReferences = "resolveReferences"
	nodeAnswer            = "answer"
	nodeValidateAnswer    = "validateAnswer"
	nodeStoreMemory       = "storeMemory"
	nodeStoreConversation = "storeConversation"
	nodeParallelWebMemory = "parallelWebAndMemory"
	nodeParallelSanitize  = "parallelSanitizeAndFilter"
)

// intentRoutes maps an intent type to its successor after parseIntent.
// The map is data; intents not listed fall through to memory retrieval.
var intentRoutes = map[string]string{
	nodes.IntentMemoryStore:    nodeStoreMemory,
	nodes.IntentRemember:       nodeStoreMemory,
	nodes.IntentWebSearch:      nodeParallelWebMemory,
	nodes.IntentSearch:         nodeParallelWebMemory,
	nodes.IntentQuestion:       nodeParallelWebMemory,
	nodes.IntentGreeting:       nodeAnswer,
	nodes.IntentCommand:        nodeAnswer,
	nodes.IntentCommandExecute: nodeAnswer,
}

// routeIntent resolves the successor of parseIntent
func routeIntent(s *graph.State) string {
	if s.Intent == nil {
		return nodeRetrieveMemory
	}
	if next, ok := intentRoutes[s.Intent.Type]; ok {
		return next
	}
	return nodeRetrieveMemory
}

// routeValidation resolves the successor of validateAnswer. Retry counters
// on state are the real limiter for the cycles this creates; the engine's
// iteration cap is the safety net.
func routeValidation(s *graph.State) string {
	if s.ShouldPerformWebSearch {
		return nodeWebSearch
	}
	if s.NeedsRetry && s.StreamCallback == nil {
		return nodeAnswer
	}
	return nodeStoreConversation
}

// buildGraph wires the node library into the intent-routed assistant graph
func (o *Orchestrator) buildGraph() (*graph.Graph, error) {
	lib := o.library
	g := graph.New(
		graph.WithLogger(o.logger),
		graph.WithTelemetry(o.telemetry),
	)

	g.AddNode(nodeEarlyResolve, lib.EarlyResolveReferences, "ResolvedMessage", "EarlyResolved")
	g.AddNode(nodeParseIntent, lib.ParseIntent, "Intent", "TargetEntity")
	g.AddNode(nodeRetrieveMemory, lib.RetrieveMemory,
		"ConversationHistory", "SessionFacts", "SessionEntities", "Memories")
	g.AddNode(nodeFilterMemory, lib.FilterMemory, "FilteredMemories", "MemoriesFiltered")
	g.AddNode(nodeWebSearch, lib.WebSearch,
		"ContextDocs", "ShouldPerformWebSearch", "WebSearchPerformed")
	g.AddNode(nodeSanitizeWeb, lib.SanitizeWeb, "ContextDocs")
	g.AddNode(nodeResolveReferences, lib.ResolveReferences, "ResolvedMessage")
	g.AddNode(nodeAnswer, lib.Answer, "Answer", "AnswerMetadata")
	g.AddNode(nodeValidateAnswer, lib.ValidateAnswer,
		"NeedsRetry", "RetryCount", "ShouldPerformWebSearch", "ValidationIssues")
	g.AddNode(nodeStoreMemory, lib.StoreMemory, "MemoryID", "MemoryStored", "Answer")
	g.AddNode(nodeStoreConversation, lib.StoreConversation, "ConversationStored")

	if err := g.AddParallel(nodeParallelWebMemory, nodeWebSearch, nodeRetrieveMemory); err != nil {
		return nil, err
	}
	if err := g.AddParallel(nodeParallelSanitize, nodeSanitizeWeb, nodeFilterMemory); err != nil {
		return nil, err
	}

	g.SetEntry(nodeEarlyResolve)
	g.AddEdge(nodeEarlyResolve, nodeParseIntent)
	g.AddConditionalEdge(nodeParseIntent, routeIntent)

	g.AddEdge(nodeParallelWebMemory, nodeParallelSanitize)
	g.AddEdge(nodeParallelSanitize, nodeResolveReferences)
	g.AddEdge(nodeRetrieveMemory, nodeFilterMemory)
	g.AddEdge(nodeFilterMemory, nodeResolveReferences)
	g.AddEdge(nodeResolveReferences, nodeAnswer)

	g.AddEdge(nodeAnswer, nodeValidateAnswer)
	g.AddConditionalEdge(nodeValidateAnswer, routeValidation)
	g.AddEdge(nodeWebSearch, nodeSanitizeWeb)
	g.AddEdge(nodeSanitizeWeb, nodeAnswer)

	g.AddEdge(nodeStoreMemory, graph.End)
	g.AddEdge(nodeStoreConversation, graph.End)

	return g, nil
}
