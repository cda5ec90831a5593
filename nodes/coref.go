package nodes

import (
	"context"

	"github.com/hearthai/hearth/graph"
)

// EarlyResolveReferences resolves pronouns and demonstratives before intent
// parsing. The resolved message feeds retrieval and answering; intent
// classification keeps the original.
func (l *Library) EarlyResolveReferences(ctx context.Context, s *graph.State) error {
	resolved, replacements := l.resolve(ctx, s, s.Message)
	s.ResolvedMessage = resolved
	s.EarlyResolved = replacements > 0
	return nil
}

// ResolveReferences is the late pass, after retrieval: fresh context may
// change referent choice. Skipped when the early pass already resolved and
// retrieval added nothing new, and short-circuited for screen intents whose
// answer uses the original message anyway.
func (l *Library) ResolveReferences(ctx context.Context, s *graph.State) error {
	if s.Intent != nil && s.Intent.Type == IntentScreenIntelligence {
		return nil
	}
	if s.EarlyResolved && len(s.FilteredMemories) == 0 && len(s.ContextDocs) == 0 {
		return nil
	}

	resolved, _ := l.resolve(ctx, s, s.Message)
	s.ResolvedMessage = resolved
	return nil
}

// resolve calls the coreference service and falls back to the original
// message with no replacements on any failure.
func (l *Library) resolve(ctx context.Context, s *graph.State, message string) (string, int) {
	history := s.Context.ConversationHistory
	if len(history) == 0 {
		history = s.ConversationHistory
	}

	// A highlighted selection replaces the real history: the service sees
	// a synthetic one-message turn wrapping the highlight
	if s.Context.HighlightedText != "" {
		history = []graph.ChatMessage{{
			Role:    "user",
			Content: "Selected text: " + s.Context.HighlightedText,
		}}
	}

	payload := map[string]interface{}{
		"message":              message,
		"conversation_history": historyPayload(history),
		"options": map[string]interface{}{
			"session_id": s.Context.SessionID,
		},
	}

	result, err := l.client.Call(ctx, ServiceCoreference, "resolve", payload)
	if err != nil {
		l.logger.Warn("Coreference resolution failed, keeping original message", map[string]interface{}{
			"error": err.Error(),
		})
		return message, 0
	}

	data := result.Data()
	resolved := asString(data, "resolved_message")
	if resolved == "" {
		return message, 0
	}
	return resolved, len(asSlice(data, "replacements"))
}
