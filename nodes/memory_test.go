package nodes

import (
	"context"
	"testing"

	"github.com/hearthai/hearth/core"
	"github.com/hearthai/hearth/graph"
)

func pureLibrary() *Library {
	// nodes under test here never touch the client
	return NewLibrary(nil, &core.NoOpLogger{}, &core.NoOpTelemetry{})
}

func TestFilterMemoryThreshold(t *testing.T) {
	lib := pureLibrary()
	s := &graph.State{
		Memories: []graph.Memory{
			{Text: "strong match", Similarity: 0.92},
			{Text: "borderline", Similarity: 0.70},
			{Text: "weak", Similarity: 0.69},
			{Text: "noise", Similarity: 0.10},
		},
	}

	if err := lib.FilterMemory(context.Background(), s); err != nil {
		t.Fatalf("FilterMemory: %v", err)
	}
	if len(s.FilteredMemories) != 2 {
		t.Fatalf("kept %d memories, want 2", len(s.FilteredMemories))
	}
	if s.FilteredMemories[1].Text != "borderline" {
		t.Error("threshold should be inclusive at 0.70")
	}
	if s.MemoriesFiltered != 2 {
		t.Errorf("MemoriesFiltered = %d", s.MemoriesFiltered)
	}
}

func TestFilterMemoryIdempotent(t *testing.T) {
	lib := pureLibrary()
	s := &graph.State{
		Memories: []graph.Memory{
			{Text: "keep", Similarity: 0.9},
			{Text: "drop", Similarity: 0.2},
		},
	}

	if err := lib.FilterMemory(context.Background(), s); err != nil {
		t.Fatalf("FilterMemory: %v", err)
	}
	first := append([]graph.Memory(nil), s.FilteredMemories...)
	firstDropped := s.MemoriesFiltered

	if err := lib.FilterMemory(context.Background(), s); err != nil {
		t.Fatalf("second FilterMemory: %v", err)
	}
	if len(s.FilteredMemories) != len(first) || s.MemoriesFiltered != firstDropped {
		t.Errorf("second application changed outcome: %d kept, %d dropped",
			len(s.FilteredMemories), s.MemoriesFiltered)
	}
}

func TestFilterMemoryEmpty(t *testing.T) {
	lib := pureLibrary()
	s := &graph.State{}
	if err := lib.FilterMemory(context.Background(), s); err != nil {
		t.Fatalf("FilterMemory: %v", err)
	}
	if len(s.FilteredMemories) != 0 || s.MemoriesFiltered != 0 {
		t.Errorf("empty input produced %d/%d", len(s.FilteredMemories), s.MemoriesFiltered)
	}
}

func TestDedupMemories(t *testing.T) {
	memories := []graph.Memory{
		{Text: "My favorite color is blue", Similarity: 0.80},
		{Text: "my favorite color is blue!", Similarity: 0.95},
		{Text: "I live in Berlin", Similarity: 0.85},
	}

	deduped := dedupMemories(memories)
	if len(deduped) != 2 {
		t.Fatalf("deduped to %d, want 2", len(deduped))
	}
	// the higher-similarity instance of the cluster survives
	if deduped[0].Similarity != 0.95 {
		t.Errorf("kept similarity = %f, want the 0.95 instance", deduped[0].Similarity)
	}
}

func TestDedupMemoriesKeepsDistinct(t *testing.T) {
	memories := []graph.Memory{
		{Text: "I like coffee", Similarity: 0.9},
		{Text: "I work as a nurse", Similarity: 0.8},
		{Text: "My dog is called Rex", Similarity: 0.7},
	}
	if got := len(dedupMemories(memories)); got != 3 {
		t.Errorf("distinct memories collapsed to %d", got)
	}

	if got := dedupMemories(nil); len(got) != 0 {
		t.Errorf("nil input = %v", got)
	}
	one := []graph.Memory{{Text: "only"}}
	if got := dedupMemories(one); len(got) != 1 {
		t.Errorf("single input = %v", got)
	}
}
