// Package graph implements the workflow StateGraph runtime: a node/edge
// executor with conditional routing, bounded iteration, parallel fan-out and
// per-run tracing. The orchestration package instantiates the concrete
// assistant graph on top of it.
package graph

import (
	"time"
)

// ChatMessage is one turn of conversation context
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Entity is a named entity extracted from text
type Entity struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// Intent is the classifier's verdict on a user message
type Intent struct {
	Type              string   `json:"type"`
	Confidence        float64  `json:"confidence"`
	Entities          []Entity `json:"entities,omitempty"`
	RequiresMemory    bool     `json:"requires_memory"`
	SuggestedResponse string   `json:"suggested_response,omitempty"`
}

// Memory is a retrieved long-term memory
type Memory struct {
	ID         string   `json:"id,omitempty"`
	Text       string   `json:"text"`
	Similarity float64  `json:"similarity"`
	Tags       []string `json:"tags,omitempty"`
}

// WebDoc is one sanitized web search result
type WebDoc struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
	Text    string `json:"text,omitempty"`
}

// AnswerMetadata describes how an answer was produced
type AnswerMetadata struct {
	Model      string `json:"model,omitempty"`
	Tokens     int    `json:"tokens,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// RequestContext carries per-request caller context through a run
type RequestContext struct {
	SessionID           string        `json:"session_id"`
	UserID              string        `json:"user_id"`
	Timestamp           time.Time     `json:"timestamp,omitempty"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
	UseOnlineMode       bool          `json:"use_online_mode,omitempty"`
	HasSelection        bool          `json:"has_selection,omitempty"`
	SelectionContext    string        `json:"selection_context,omitempty"`
	HighlightedText     string        `json:"highlighted_text,omitempty"`
}

// TraceEntry records one node invocation. Snapshots are deliberately
// summary-level; raw prompts and credentials never appear here.
type TraceEntry struct {
	Node           string                 `json:"node"`
	StartedAt      time.Time              `json:"started_at"`
	DurationMS     int64                  `json:"duration_ms"`
	InputSnapshot  map[string]interface{} `json:"input_snapshot,omitempty"`
	OutputSnapshot map[string]interface{} `json:"output_snapshot,omitempty"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`
	FromCache      bool                   `json:"from_cache,omitempty"`
}

// State is the mutable record a run threads through the graph. Fields are
// owned per phase: the intent layer is written by parseIntent, the retrieval
// layer by the memory nodes, the answer layer by answer/validateAnswer. The
// parallel combiner enforces this ownership through declared write sets.
type State struct {
	// Inputs
	RunID           string         `json:"run_id"`
	Message         string         `json:"message"`
	ResolvedMessage string         `json:"resolved_message,omitempty"`
	Context         RequestContext `json:"context"`
	StreamCallback  func(string)   `json:"-"`

	// Intent layer
	Intent       *Intent `json:"intent,omitempty"`
	TargetEntity string  `json:"target_entity,omitempty"`

	// Retrieval layer
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
	SessionFacts        []string      `json:"session_facts,omitempty"`
	SessionEntities     []Entity      `json:"session_entities,omitempty"`
	Memories            []Memory      `json:"memories,omitempty"`
	FilteredMemories    []Memory      `json:"filtered_memories,omitempty"`
	MemoriesFiltered    int           `json:"memories_filtered,omitempty"`
	EarlyResolved       bool          `json:"early_resolved,omitempty"`

	// External layer
	ContextDocs []WebDoc `json:"context_docs,omitempty"`

	// Answer layer
	Answer                 string         `json:"answer,omitempty"`
	AnswerMetadata         AnswerMetadata `json:"answer_metadata,omitempty"`
	RetryCount             int            `json:"retry_count"`
	NeedsRetry             bool           `json:"needs_retry,omitempty"`
	ShouldPerformWebSearch bool           `json:"should_perform_web_search,omitempty"`
	WebSearchPerformed     bool           `json:"web_search_performed,omitempty"`
	ValidationIssues       []string       `json:"validation_issues,omitempty"`

	// Storage layer
	ConversationStored bool   `json:"conversation_stored,omitempty"`
	MemoryStored       bool   `json:"memory_stored,omitempty"`
	MemoryID           string `json:"memory_id,omitempty"`

	// Bookkeeping (owned by the engine)
	StartTime  time.Time    `json:"start_time"`
	ElapsedMS  int64        `json:"elapsed_ms"`
	Iterations int          `json:"iterations"`
	Trace      []TraceEntry `json:"trace"`
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	FailedNode string       `json:"failed_node,omitempty"`
}

// QueryMessage returns the canonical query for answer generation: the
// original message for screen intents, the resolved message otherwise.
func (s *State) QueryMessage() string {
	if s.Intent != nil && s.Intent.Type == "screen_intelligence" {
		return s.Message
	}
	if s.ResolvedMessage != "" {
		return s.ResolvedMessage
	}
	return s.Message
}

// Snapshot produces the summary-level view recorded in trace entries
func (s *State) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		"message_chars":     len(s.Message),
		"resolved":          s.ResolvedMessage != "",
		"history_messages":  len(s.ConversationHistory),
		"memories":          len(s.Memories),
		"filtered_memories": len(s.FilteredMemories),
		"context_docs":      len(s.ContextDocs),
		"answer_chars":      len(s.Answer),
		"retry_count":       s.RetryCount,
		"needs_retry":       s.NeedsRetry,
		"web_search":        s.ShouldPerformWebSearch,
	}
	if s.Intent != nil {
		snap["intent_type"] = s.Intent.Type
		snap["confidence"] = s.Intent.Confidence
	}
	return snap
}

// shallowClone copies the state record for parallel fan-out. Children get
// their own trace slice; all other slice fields are replaced wholesale by
// node writes, never mutated in place.
func (s *State) shallowClone() *State {
	clone := *s
	clone.Trace = nil
	return &clone
}
