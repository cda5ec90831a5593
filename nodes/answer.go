package nodes

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hearthai/hearth/graph"
)

// Answer generates the final reply from the accumulated context. The local
// LLM is the backstop: online mode tries the streaming online transport
// first and falls back on any failure, and a streaming call that yields no
// tokens falls back to a blocking call whose answer is replayed through the
// callback. An unreachable local LLM aborts the run.
func (l *Library) Answer(ctx context.Context, s *graph.State) error {
	if reply, ok := metaAnswer(s); ok {
		s.Answer = reply
		s.AnswerMetadata.Model = "conversation"
		if s.StreamCallback != nil && s.RetryCount == 0 {
			s.StreamCallback(reply)
		}
		return nil
	}

	query := s.QueryMessage()
	history := filterContextSwitch(s.ConversationHistory, query)
	payload := l.answerPayload(s, query, history)

	start := time.Now()

	if s.Context.UseOnlineMode {
		if err := l.answerOnline(ctx, s, payload); err == nil {
			s.AnswerMetadata.DurationMS = time.Since(start).Milliseconds()
			return nil
		} else {
			// Fallback is deliberately quiet beyond this warning; the
			// metadata model field tells the caller which path answered
			l.logger.Warn("Online LLM failed, falling back to local model", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	streaming := s.StreamCallback != nil && s.RetryCount == 0
	var err error
	if streaming {
		err = l.answerStreaming(ctx, s, payload)
	} else {
		err = l.answerBlocking(ctx, s, payload)
	}
	if err != nil {
		return fmt.Errorf("answer generation failed: %w", err)
	}

	s.AnswerMetadata.DurationMS = time.Since(start).Milliseconds()
	return nil
}

// metaAnswer answers questions about the conversation itself directly from
// the fetched history, quoting the prior turn verbatim instead of trusting
// the model to reconstruct it. Falls through to normal generation when the
// history holds no matching turn.
func metaAnswer(s *graph.State) (string, bool) {
	if !isMetaQuestion(s.Message) {
		return "", false
	}

	role := "user"
	lower := strings.ToLower(s.Message)
	for _, marker := range []string{"what did you just say", "repeat that", "say that again"} {
		if strings.Contains(lower, marker) {
			role = "assistant"
			break
		}
	}

	prior := lastMessageByRole(s.ConversationHistory, role, s.Message)
	if prior == "" {
		return "", false
	}
	if role == "assistant" {
		return prior, true
	}
	return "You said: \"" + prior + "\"", true
}

// lastMessageByRole walks the history newest-first for the given role,
// skipping the turn that is the current message itself in case the
// conversation store already recorded it.
func lastMessageByRole(history []graph.ChatMessage, role, current string) string {
	trimmedCurrent := strings.TrimSpace(current)
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != role {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" || content == trimmedCurrent {
			continue
		}
		return msg.Content
	}
	return ""
}

// answerBlocking performs a plain call to the local LLM
func (l *Library) answerBlocking(ctx context.Context, s *graph.State, payload map[string]interface{}) error {
	result, err := l.client.Call(ctx, ServiceIntent, "general.answer", payload)
	if err != nil {
		return err
	}
	l.applyAnswer(s, result.Data(), "")
	return nil
}

// answerStreaming streams tokens through the state callback. Zero streamed
// tokens means the transport produced nothing useful; fall back to a
// blocking call and replay the whole answer through the callback.
func (l *Library) answerStreaming(ctx context.Context, s *graph.State, payload map[string]interface{}) error {
	var tokens atomic.Int64
	var builder strings.Builder

	result, err := l.client.CallStream(ctx, ServiceIntent, "general.answer.stream", payload,
		func(token string) {
			tokens.Add(1)
			builder.WriteString(token)
			s.StreamCallback(token)
		},
		nil,
	)
	if err != nil {
		return err
	}

	if tokens.Load() == 0 {
		l.logger.Warn("Stream yielded no tokens, falling back to blocking call", map[string]interface{}{
			"service": ServiceIntent,
		})
		if err := l.answerBlocking(ctx, s, payload); err != nil {
			return err
		}
		s.StreamCallback(s.Answer)
		return nil
	}

	l.applyAnswer(s, result.Data(), builder.String())
	return nil
}

// answerOnline tries the online LLM over its streaming transport
func (l *Library) answerOnline(ctx context.Context, s *graph.State, payload map[string]interface{}) error {
	var builder strings.Builder
	onToken := func(token string) {
		builder.WriteString(token)
		if s.StreamCallback != nil && s.RetryCount == 0 {
			s.StreamCallback(token)
		}
	}

	result, err := l.client.CallOnline(ctx, ServiceOnlineLLM, payload, onToken, nil)
	if err != nil {
		return err
	}
	if builder.Len() == 0 {
		return fmt.Errorf("online LLM produced no output")
	}

	l.applyAnswer(s, result.Data(), builder.String())
	if s.AnswerMetadata.Model == "" {
		s.AnswerMetadata.Model = "online"
	}
	return nil
}

// applyAnswer writes answer and metadata from a service result; streamed
// holds the concatenated tokens when the call was streaming.
func (l *Library) applyAnswer(s *graph.State, data map[string]interface{}, streamed string) {
	answer := asString(data, "answer")
	if answer == "" {
		answer = streamed
	}
	s.Answer = strings.TrimSpace(answer)

	if metadata := asMap(data, "metadata"); metadata != nil {
		s.AnswerMetadata.Model = asString(metadata, "model")
		s.AnswerMetadata.Tokens = int(asFloat(metadata, "tokens"))
	}
}

// answerPayload assembles the generation request: query, curated context and
// intent-dependent options.
func (l *Library) answerPayload(s *graph.State, query string, history []graph.ChatMessage) map[string]interface{} {
	contextBlock := map[string]interface{}{
		"history": historyPayload(history),
	}
	if len(s.SessionFacts) > 0 {
		contextBlock["facts"] = s.SessionFacts
	}
	if len(s.SessionEntities) > 0 {
		values := make([]string, 0, len(s.SessionEntities))
		for _, entity := range s.SessionEntities {
			values = append(values, entity.Value)
		}
		contextBlock["entities"] = values
	}
	if len(s.FilteredMemories) > 0 {
		texts := make([]string, 0, len(s.FilteredMemories))
		for _, memory := range s.FilteredMemories {
			texts = append(texts, memory.Text)
		}
		contextBlock["memories"] = texts
	}
	if len(s.ContextDocs) > 0 {
		docs := make([]map[string]interface{}, 0, len(s.ContextDocs))
		for _, doc := range s.ContextDocs {
			docs = append(docs, map[string]interface{}{
				"title":   doc.Title,
				"snippet": doc.Snippet,
				"url":     doc.URL,
				"text":    doc.Text,
			})
		}
		contextBlock["web_docs"] = docs
	}
	if s.Context.SelectionContext != "" {
		contextBlock["selection"] = s.Context.SelectionContext
	}
	if s.Context.HighlightedText != "" {
		contextBlock["highlighted_text"] = s.Context.HighlightedText
	}

	intentType := IntentGeneralQuery
	if s.Intent != nil {
		intentType = s.Intent.Type
	}
	contextBlock["system_instruction"] = systemInstruction(intentType)

	minimalContext := len(history) == 0 && len(s.FilteredMemories) == 0 && len(s.ContextDocs) == 0
	options := map[string]interface{}{
		"max_tokens": tokenBudget(intentType),
		"fast":       minimalContext && len(query) < 80,
	}

	return map[string]interface{}{
		"query":   query,
		"context": contextBlock,
		"options": options,
	}
}

// filterContextSwitch keeps the last few messages unconditionally and scores
// older ones against the current query, dropping those below the relevance
// threshold. Messages are never rewritten, only dropped.
func filterContextSwitch(history []graph.ChatMessage, query string) []graph.ChatMessage {
	if len(history) <= contextKeepWindow {
		return history
	}

	cut := len(history) - contextKeepWindow
	older, recent := history[:cut], history[cut:]

	kept := make([]graph.ChatMessage, 0, len(history))
	for _, msg := range older {
		if jaccardRelevance(msg.Content, query) >= contextRelevanceThreshold {
			kept = append(kept, msg)
		}
	}
	return append(kept, recent...)
}

// tokenBudget picks the generation budget by intent
func tokenBudget(intentType string) int {
	switch intentType {
	case IntentGreeting, IntentMemoryStore, IntentRemember:
		return 150
	case IntentScreenIntelligence:
		return 2048
	default:
		return 1024
	}
}

// systemInstruction picks the compact instruction block by intent
func systemInstruction(intentType string) string {
	switch intentType {
	case IntentGreeting:
		return "You are a friendly local assistant. Reply briefly and warmly."
	case IntentScreenIntelligence:
		return "You are analyzing content from the user's screen. Describe and explain what the provided context shows, precisely and thoroughly."
	case IntentWebSearch, IntentSearch, IntentQuestion:
		return "Answer using the provided web documents and memories. Cite facts from the documents; say so when the context does not contain the answer."
	case IntentCommand, IntentCommandExecute:
		return "Confirm the requested action in one short sentence."
	default:
		return "You are a helpful local assistant. Answer from the provided conversation, facts and memories; be concise and direct."
	}
}
