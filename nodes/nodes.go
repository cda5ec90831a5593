// Package nodes provides the concrete workflow nodes the orchestrator wires
// into its graph: intent parsing, coreference resolution, memory retrieval
// and filtering, web search and sanitization, answer generation, validation
// and post-hoc storage. Every node reads a subset of state, calls the
// service client and mutates its declared fields; unless stated otherwise a
// node degrades to a best-effort empty result instead of aborting the run.
package nodes

import (
	"time"

	"github.com/hearthai/hearth/client"
	"github.com/hearthai/hearth/core"
)

// Service names in the catalog
const (
	ServiceIntent       = "phi4"
	ServiceCoreference  = "coreference"
	ServiceMemory       = "memory"
	ServiceConversation = "conversation"
	ServiceWebSearch    = "websearch"
	ServiceOnlineLLM    = "online-llm"
)

// Intent types the router dispatches on
const (
	IntentGeneralQuery       = "general_query"
	IntentMemoryStore        = "memory_store"
	IntentRemember           = "remember"
	IntentWebSearch          = "web_search"
	IntentSearch             = "search"
	IntentQuestion           = "question"
	IntentGreeting           = "greeting"
	IntentCommand            = "command"
	IntentCommandExecute     = "command_execute"
	IntentScreenIntelligence = "screen_intelligence"
)

// Tuning constants for retrieval and answer shaping
const (
	// conversationContextLimit bounds the recent messages fetched for
	// intent classification and answer context
	conversationContextLimit = 5

	// minSimilarityFloor is the floor for long-term memory search
	minSimilarityFloor = 0.35

	// memoryFilterThreshold drops weak matches in filterMemory
	memoryFilterThreshold = 0.70

	// dedupRatio collapses near-duplicate memories
	dedupRatio = 0.85

	// webTextCap truncates each sanitized web document
	webTextCap = 1000

	// contextKeepWindow is how many recent messages the context-switch
	// filter keeps unconditionally
	contextKeepWindow = 4

	// contextRelevanceThreshold drops older off-topic messages
	contextRelevanceThreshold = 0.30

	// maxAnswerRetries caps validation-driven answer retries
	maxAnswerRetries = 2

	// memoryConfirmation is the fixed reply when the classifier offers
	// no suggested response for a memory store
	memoryConfirmation = "Got it, I'll remember that."
)

// Library holds the shared dependencies of all workflow nodes
type Library struct {
	client    *client.Client
	logger    core.Logger
	telemetry core.Telemetry
}

// NewLibrary creates the node library over a service client
func NewLibrary(c *client.Client, logger core.Logger, telemetry core.Telemetry) *Library {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = &core.NoOpTelemetry{}
	}
	return &Library{client: c, logger: logger, telemetry: telemetry}
}

// asString fetches a string field from a decoded service result
func asString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// asFloat fetches a numeric field from a decoded service result
func asFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// asBool fetches a boolean field from a decoded service result
func asBool(m map[string]interface{}, key string) bool {
	v, _ := m[key].(bool)
	return v
}

// asSlice fetches a list field from a decoded service result
func asSlice(m map[string]interface{}, key string) []interface{} {
	v, _ := m[key].([]interface{})
	return v
}

// asMap fetches an object field from a decoded service result
func asMap(m map[string]interface{}, key string) map[string]interface{} {
	v, _ := m[key].(map[string]interface{})
	return v
}

// parseTimestamp tolerates RFC3339 strings and epoch floats
func parseTimestamp(v interface{}) time.Time {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	case float64:
		return time.Unix(int64(t), 0)
	}
	return time.Time{}
}
