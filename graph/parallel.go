package graph

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hearthai/hearth/core"
)

// parallelFunc builds the NodeFunc backing an AddParallel combiner
func (g *Graph) parallelFunc(children []string) NodeFunc {
	return func(ctx context.Context, s *State) error {
		return g.ExecuteParallel(ctx, children, s)
	}
}

// childResult carries one child's outcome back to the fan-in point
type childResult struct {
	name  string
	clone *State
	entry TraceEntry
	err   error
}

// ExecuteParallel invokes the named nodes concurrently over shallow clones
// of the state and merges their declared write fields back. A single child
// failure cancels the others and aborts the fan-out with the first observed
// error. Merge order follows the declared child order, which is safe because
// write sets are verified disjoint when the combiner is built.
func (g *Graph) ExecuteParallel(ctx context.Context, names []string, s *State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]childResult, len(names))
	var wg sync.WaitGroup

	for i, name := range names {
		n, ok := g.nodes[name]
		if !ok {
			return fmt.Errorf("parallel child %s: %w", name, core.ErrUnknownNode)
		}

		wg.Add(1)
		go func(i int, name string, n *node) {
			defer wg.Done()

			clone := s.shallowClone()
			entry := TraceEntry{
				Node:          name,
				StartedAt:     time.Now(),
				InputSnapshot: clone.Snapshot(),
			}

			err := g.invoke(ctx, name, n, clone)
			entry.DurationMS = time.Since(entry.StartedAt).Milliseconds()
			entry.OutputSnapshot = clone.Snapshot()
			entry.Success = err == nil
			if err != nil {
				entry.Error = err.Error()
			}

			results[i] = childResult{name: name, clone: clone, entry: entry, err: err}
			if err != nil {
				// First failure cancels the remaining children
				cancel()
			}
		}(i, name, n)
	}
	wg.Wait()

	var firstErr error
	for _, res := range results {
		s.Trace = append(s.Trace, res.entry)
		if res.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("parallel node %s: %w", res.name, res.err)
		}
	}
	if firstErr != nil {
		return firstErr
	}

	// Merge declared writes from each clone into the parent state
	parent := reflect.ValueOf(s).Elem()
	for _, res := range results {
		child := reflect.ValueOf(res.clone).Elem()
		for _, field := range g.nodes[res.name].writes {
			dst := parent.FieldByName(field)
			src := child.FieldByName(field)
			if !dst.IsValid() || !src.IsValid() {
				return fmt.Errorf("node %s declares unknown state field %q: %w",
					res.name, field, core.ErrConflictingWrite)
			}
			dst.Set(src)
		}
	}
	return nil
}
