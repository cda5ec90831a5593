package nodes

import (
	"context"
	"sort"
	"sync"

	"github.com/hearthai/hearth/graph"
)

// RetrieveMemory fetches conversation history, session facts/entities and
// semantically similar long-term memories, the three sources in parallel.
// Every source degrades to empty results on failure; the run continues.
func (l *Library) RetrieveMemory(ctx context.Context, s *graph.State) error {
	var wg sync.WaitGroup

	var history []graph.ChatMessage
	var facts []string
	var entities []graph.Entity
	var memories []graph.Memory

	wg.Add(3)
	go func() {
		defer wg.Done()
		history = l.recentMessages(ctx, s, conversationContextLimit)
	}()
	go func() {
		defer wg.Done()
		facts, entities = l.sessionContext(ctx, s)
	}()
	go func() {
		defer wg.Done()
		if isMetaQuestion(s.Message) {
			// Meta-questions are answered from the conversation
			// itself; long-term search would only add noise
			return
		}
		memories = l.searchMemories(ctx, s)
	}()
	wg.Wait()

	s.ConversationHistory = history
	s.SessionFacts = facts
	s.SessionEntities = entities
	s.Memories = dedupMemories(memories)
	return nil
}

// sessionContext fetches session facts and entities from the conversation
// store
func (l *Library) sessionContext(ctx context.Context, s *graph.State) ([]string, []graph.Entity) {
	var facts []string
	var entities []graph.Entity

	if result, err := l.client.Call(ctx, ServiceConversation, "context.get", map[string]interface{}{
		"session_id": s.Context.SessionID,
	}); err != nil {
		l.logger.Warn("Failed to fetch session context", map[string]interface{}{
			"session_id": s.Context.SessionID,
			"error":      err.Error(),
		})
	} else {
		for _, raw := range asSlice(result.Data(), "facts") {
			if fact, ok := raw.(string); ok && fact != "" {
				facts = append(facts, fact)
			}
		}
	}

	if result, err := l.client.Call(ctx, ServiceConversation, "entity.list", map[string]interface{}{
		"session_id": s.Context.SessionID,
	}); err != nil {
		l.logger.Warn("Failed to fetch session entities", map[string]interface{}{
			"session_id": s.Context.SessionID,
			"error":      err.Error(),
		})
	} else {
		for _, raw := range asSlice(result.Data(), "entities") {
			if entity := decodeEntity(raw); entity != nil {
				entities = append(entities, *entity)
			}
		}
	}

	return facts, entities
}

// searchMemories queries long-term memory with the minimum similarity floor
func (l *Library) searchMemories(ctx context.Context, s *graph.State) []graph.Memory {
	query := s.ResolvedMessage
	if query == "" {
		query = s.Message
	}

	result, err := l.client.Call(ctx, ServiceMemory, "memory.search", map[string]interface{}{
		"query":          query,
		"limit":          10,
		"user_id":        s.Context.UserID,
		"min_similarity": minSimilarityFloor,
	})
	if err != nil {
		l.logger.Warn("Memory search failed, continuing without memories", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}

	raw := asSlice(result.Data(), "results")
	memories := make([]graph.Memory, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		memory := graph.Memory{
			ID:         asString(m, "id"),
			Text:       asString(m, "text"),
			Similarity: asFloat(m, "similarity"),
		}
		if memory.Text == "" {
			continue
		}
		for _, tag := range asSlice(m, "tags") {
			if t, ok := tag.(string); ok {
				memory.Tags = append(memory.Tags, t)
			}
		}
		memories = append(memories, memory)
	}
	return memories
}

// dedupMemories collapses near-duplicates by text similarity, keeping the
// highest-similarity instance of each cluster.
func dedupMemories(memories []graph.Memory) []graph.Memory {
	if len(memories) < 2 {
		return memories
	}

	// Highest similarity first so the kept instance wins its cluster
	sorted := append([]graph.Memory(nil), memories...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	kept := make([]graph.Memory, 0, len(sorted))
	for _, candidate := range sorted {
		duplicate := false
		for _, existing := range kept {
			if levenshteinRatio(candidate.Text, existing.Text) >= dedupRatio {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// FilterMemory drops weak matches below the fixed similarity threshold.
// Applying it twice equals applying it once.
func (l *Library) FilterMemory(ctx context.Context, s *graph.State) error {
	before := len(s.Memories)
	filtered := make([]graph.Memory, 0, before)
	for _, memory := range s.Memories {
		if memory.Similarity >= memoryFilterThreshold {
			filtered = append(filtered, memory)
		}
	}
	s.FilteredMemories = filtered
	s.MemoriesFiltered = before - len(filtered)

	if s.MemoriesFiltered > 0 {
		l.logger.Debug("Filtered weak memories", map[string]interface{}{
			"before":   before,
			"after":    len(filtered),
			"filtered": s.MemoriesFiltered,
		})
	}
	return nil
}
