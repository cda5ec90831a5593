package nodes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hearthai/hearth/client"
	"github.com/hearthai/hearth/graph"
)

// StoreMemory persists an explicit "remember this" request in long-term
// memory. Used only by the memory_store subgraph; storage failure here
// aborts the run because storing is the whole point of the request.
func (l *Library) StoreMemory(ctx context.Context, s *graph.State) error {
	entities := entityValues(intentEntities(s))
	tags := []string{"user_memory"}
	if s.Intent != nil && s.Intent.Type != "" {
		tags = append(tags, s.Intent.Type)
	}

	payload := map[string]interface{}{
		"text":     s.Message,
		"tags":     tags,
		"entities": entities,
		"metadata": map[string]interface{}{
			"entities":   entities,
			"session_id": s.Context.SessionID,
			"user_id":    s.Context.UserID,
			"source":     "explicit_store",
		},
	}

	result, err := l.client.Call(ctx, ServiceMemory, "memory.store", payload, client.WithAllowSensitive())
	if err != nil {
		return fmt.Errorf("storing memory: %w", err)
	}

	data := result.Data()
	s.MemoryID = asString(data, "memory_id")
	if s.MemoryID == "" {
		s.MemoryID = asString(data, "id")
	}
	s.MemoryStored = true

	if s.Intent != nil && s.Intent.SuggestedResponse != "" {
		s.Answer = s.Intent.SuggestedResponse
	} else {
		s.Answer = memoryConfirmation
	}
	return nil
}

// StoreConversation appends the finished (user, assistant) exchange as one
// searchable record. Failure is logged and swallowed; a storage hiccup must
// never void an answer already produced.
func (l *Library) StoreConversation(ctx context.Context, s *graph.State) error {
	if s.Answer == "" {
		return nil
	}

	entities := dedupEntityValues(append(
		intentEntities(s),
		l.extractEntities(ctx, s.Answer)...,
	))

	intentType := IntentGeneralQuery
	confidence := 0.0
	if s.Intent != nil {
		intentType = s.Intent.Type
		confidence = s.Intent.Confidence
	}

	payload := map[string]interface{}{
		"text":     "User: " + s.Message + "\nAssistant: " + s.Answer,
		"tags":     []string{"conversation", intentType},
		"entities": entities,
		"metadata": map[string]interface{}{
			"user_message":     s.Message,
			"assistant_answer": s.Answer,
			"session_id":       s.Context.SessionID,
			"user_id":          s.Context.UserID,
			"intent_type":      intentType,
			"confidence":       confidence,
			"entities":         entities,
			"timestamp":        time.Now().Format(time.RFC3339),
		},
	}

	if _, err := l.client.Call(ctx, ServiceMemory, "memory.store", payload, client.WithAllowSensitive()); err != nil {
		l.logger.Warn("Failed to store conversation exchange", map[string]interface{}{
			"session_id": s.Context.SessionID,
			"error":      err.Error(),
		})
		return nil
	}
	s.ConversationStored = true
	return nil
}

// extractEntities asks the classifier service for entities in text.
// Best-effort: failures yield an empty list.
func (l *Library) extractEntities(ctx context.Context, text string) []graph.Entity {
	result, err := l.client.Call(ctx, ServiceIntent, "entity.extract", map[string]interface{}{
		"text": text,
	})
	if err != nil {
		return nil
	}

	var entities []graph.Entity
	for _, raw := range asSlice(result.Data(), "entities") {
		if entity := decodeEntity(raw); entity != nil {
			entities = append(entities, *entity)
		}
	}
	return entities
}

// intentEntities returns the entities the classifier found in the message
func intentEntities(s *graph.State) []graph.Entity {
	if s.Intent == nil {
		return nil
	}
	return s.Intent.Entities
}

// entityValues projects entities to their values
func entityValues(entities []graph.Entity) []string {
	values := make([]string, 0, len(entities))
	for _, entity := range entities {
		if entity.Value != "" {
			values = append(values, entity.Value)
		}
	}
	return values
}

// dedupEntityValues deduplicates entity values case-insensitively, keeping
// first-seen casing.
func dedupEntityValues(entities []graph.Entity) []string {
	seen := make(map[string]bool, len(entities))
	values := make([]string, 0, len(entities))
	for _, entity := range entities {
		key := strings.ToLower(entity.Value)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, entity.Value)
	}
	return values
}
