package nodes

import (
	"context"

	"github.com/hearthai/hearth/graph"
)

// WebSearch issues the current query to the search service. Failure degrades
// to an empty document list.
func (l *Library) WebSearch(ctx context.Context, s *graph.State) error {
	query := s.ResolvedMessage
	if query == "" {
		query = s.Message
	}

	// A re-routed search satisfies the pending request
	s.ShouldPerformWebSearch = false
	s.WebSearchPerformed = true

	result, err := l.client.Call(ctx, ServiceWebSearch, "search", map[string]interface{}{
		"query":       query,
		"max_results": 5,
		"language":    "en",
	})
	if err != nil {
		l.logger.Warn("Web search failed, continuing without documents", map[string]interface{}{
			"error": err.Error(),
		})
		s.ContextDocs = nil
		return nil
	}

	raw := asSlice(result.Data(), "results")
	docs := make([]graph.WebDoc, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		docs = append(docs, graph.WebDoc{
			Title:   asString(m, "title"),
			Snippet: asString(m, "snippet"),
			URL:     asString(m, "url"),
			Text:    asString(m, "text"),
		})
	}
	s.ContextDocs = docs
	return nil
}

// SanitizeWeb drops empty results and truncates each document's text to the
// fixed cap.
func (l *Library) SanitizeWeb(ctx context.Context, s *graph.State) error {
	sanitized := make([]graph.WebDoc, 0, len(s.ContextDocs))
	for _, doc := range s.ContextDocs {
		if doc.Title == "" && doc.Snippet == "" && doc.Text == "" {
			continue
		}
		if runes := []rune(doc.Text); len(runes) > webTextCap {
			doc.Text = string(runes[:webTextCap])
		}
		sanitized = append(sanitized, doc)
	}
	s.ContextDocs = sanitized
	return nil
}
