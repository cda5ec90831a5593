package nodes

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hearthai/hearth/graph"
)

func TestSanitizeWebDropsEmptyDocs(t *testing.T) {
	lib := pureLibrary()
	s := &graph.State{
		ContextDocs: []graph.WebDoc{
			{Title: "Real result", Text: "content"},
			{URL: "https://example.com/ghost"}, // nothing usable
			{Snippet: "snippet only"},
		},
	}

	if err := lib.SanitizeWeb(context.Background(), s); err != nil {
		t.Fatalf("SanitizeWeb: %v", err)
	}
	if len(s.ContextDocs) != 2 {
		t.Errorf("kept %d docs, want 2", len(s.ContextDocs))
	}
}

func TestSanitizeWebTruncates(t *testing.T) {
	lib := pureLibrary()
	long := strings.Repeat("x", 2500)
	s := &graph.State{ContextDocs: []graph.WebDoc{{Title: "t", Text: long}}}

	if err := lib.SanitizeWeb(context.Background(), s); err != nil {
		t.Fatalf("SanitizeWeb: %v", err)
	}
	if got := len(s.ContextDocs[0].Text); got != webTextCap {
		t.Errorf("text length = %d, want %d", got, webTextCap)
	}
}

func TestSanitizeWebTruncatesOnRuneBoundary(t *testing.T) {
	lib := pureLibrary()
	long := strings.Repeat("日", webTextCap+100)
	s := &graph.State{ContextDocs: []graph.WebDoc{{Title: "t", Text: long}}}

	if err := lib.SanitizeWeb(context.Background(), s); err != nil {
		t.Fatalf("SanitizeWeb: %v", err)
	}
	text := s.ContextDocs[0].Text
	if !utf8.ValidString(text) {
		t.Error("truncation split a rune")
	}
	if utf8.RuneCountInString(text) != webTextCap {
		t.Errorf("rune count = %d, want %d", utf8.RuneCountInString(text), webTextCap)
	}
}

func TestSanitizeWebIdempotent(t *testing.T) {
	lib := pureLibrary()
	s := &graph.State{
		ContextDocs: []graph.WebDoc{{Title: "t", Text: strings.Repeat("a", 3000)}},
	}
	lib.SanitizeWeb(context.Background(), s)
	first := s.ContextDocs[0].Text
	lib.SanitizeWeb(context.Background(), s)
	if s.ContextDocs[0].Text != first {
		t.Error("second sanitize pass changed the document")
	}
}
