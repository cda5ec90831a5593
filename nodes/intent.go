package nodes

import (
	"context"
	"regexp"
	"strings"

	"github.com/hearthai/hearth/graph"
)

// Pattern pre-checks for classes the classifier is known to miss. They are
// evaluated before the classifier is called, and bypassed entirely when a
// highlighted-text marker is present.
var (
	commandOpenClosePattern = regexp.MustCompile(`(?i)^\s*(open|close|launch|quit|start|stop)\s+\S`)
	commandNavigatePattern  = regexp.MustCompile(`(?i)^\s*(goto|go to|navigate to)\s+\S+.*\b(and|then)\b`)
	screenAnalysisPattern   = regexp.MustCompile(`(?i)\b(on (my|the) screen|what am i looking at|analyze (this|the) (screen|window|page)|what('s| is) (this|that) (on|in) (my|the) screen)\b`)
	screenFollowUpPattern   = regexp.MustCompile(`(?i)^\s*(what about|and|also|how about|tell me more|explain (it|that|this)|summarize (it|that|this))\b`)
)

// ParseIntent classifies the user message. The original message is used, not
// the resolved one: coreference can corrupt demonstratives that point at
// screen content.
func (l *Library) ParseIntent(ctx context.Context, s *graph.State) error {
	history := s.Context.ConversationHistory
	if len(history) == 0 {
		history = l.recentMessages(ctx, s, conversationContextLimit)
	} else if len(history) > conversationContextLimit {
		history = history[len(history)-conversationContextLimit:]
	}

	if s.Context.HighlightedText == "" {
		if intent := precheckIntent(s.Message, history); intent != nil {
			s.Intent = intent
			l.logger.Debug("Intent matched by pre-check", map[string]interface{}{
				"intent": intent.Type,
			})
			return nil
		}
	}

	payload := map[string]interface{}{
		"message":    s.Message,
		"session_id": s.Context.SessionID,
		"user_id":    s.Context.UserID,
	}
	if len(history) > 0 {
		payload["conversation_history"] = historyPayload(history)
	}

	result, err := l.client.Call(ctx, ServiceIntent, "intent.parse", payload)
	if err != nil {
		// Classification degrades to a general query rather than
		// aborting the run
		l.logger.Warn("Intent classification failed, defaulting to general query", map[string]interface{}{
			"error": err.Error(),
		})
		s.Intent = &graph.Intent{Type: IntentGeneralQuery, Confidence: 0.3, RequiresMemory: true}
		return nil
	}

	data := result.Data()
	intent := &graph.Intent{
		Type:              asString(data, "intent"),
		Confidence:        asFloat(data, "confidence"),
		RequiresMemory:    asBool(data, "requires_memory"),
		SuggestedResponse: asString(data, "suggested_response"),
	}
	if intent.Type == "" {
		intent.Type = IntentGeneralQuery
	}
	for _, raw := range asSlice(data, "entities") {
		if entity := decodeEntity(raw); entity != nil {
			intent.Entities = append(intent.Entities, *entity)
		}
	}

	s.Intent = intent
	if len(intent.Entities) > 0 {
		s.TargetEntity = intent.Entities[0].Value
	}
	return nil
}

// precheckIntent applies the fixed high-confidence patterns
func precheckIntent(message string, history []graph.ChatMessage) *graph.Intent {
	switch {
	case commandOpenClosePattern.MatchString(message),
		commandNavigatePattern.MatchString(message):
		return &graph.Intent{Type: IntentCommandExecute, Confidence: 0.95}
	case screenAnalysisPattern.MatchString(message):
		return &graph.Intent{Type: IntentScreenIntelligence, Confidence: 0.9}
	case screenFollowUpPattern.MatchString(message) && lastTurnWasScreen(history):
		return &graph.Intent{Type: IntentScreenIntelligence, Confidence: 0.85}
	}
	return nil
}

// lastTurnWasScreen reports whether the previous assistant turn answered a
// screen-intelligence query
func lastTurnWasScreen(history []graph.ChatMessage) bool {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != "user" {
			continue
		}
		return screenAnalysisPattern.MatchString(msg.Content)
	}
	return false
}

// decodeEntity decodes one entity from a service result list
func decodeEntity(raw interface{}) *graph.Entity {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return &graph.Entity{Value: v}
	case map[string]interface{}:
		value := asString(v, "value")
		if value == "" {
			value = asString(v, "name")
		}
		if value == "" {
			return nil
		}
		return &graph.Entity{Type: asString(v, "type"), Value: value}
	}
	return nil
}

// historyPayload converts history into the uniform wire shape
func historyPayload(history []graph.ChatMessage) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(history))
	for _, msg := range history {
		out = append(out, map[string]interface{}{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}
	return out
}

// recentMessages fetches the most recent messages for a session, oldest
// first. Failures degrade to an empty history.
func (l *Library) recentMessages(ctx context.Context, s *graph.State, limit int) []graph.ChatMessage {
	result, err := l.client.Call(ctx, ServiceConversation, "message.list", map[string]interface{}{
		"session_id": s.Context.SessionID,
		"limit":      limit,
	})
	if err != nil {
		l.logger.Warn("Failed to fetch conversation history", map[string]interface{}{
			"session_id": s.Context.SessionID,
			"error":      err.Error(),
		})
		return nil
	}

	raw := asSlice(result.Data(), "messages")
	if raw == nil {
		raw = asSlice(result.Data(), "results")
	}
	messages := make([]graph.ChatMessage, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		messages = append(messages, graph.ChatMessage{
			Role:      asString(m, "role"),
			Content:   asString(m, "content"),
			Timestamp: parseTimestamp(m["timestamp"]),
		})
	}

	// The store returns newest first; reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages
}

// isMetaQuestion detects questions about the conversation itself, for which
// long-term memory search is skipped
func isMetaQuestion(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range []string{
		"what did i just say",
		"what did i say",
		"what did you just say",
		"what was my last",
		"repeat that",
		"say that again",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
