// Package graph builds the foreign-key dependency graph of the synced
// schema, as read from the source database, and provides the
// topological sort the rest of the
// sync engine orders its phases by.
//
// The sort is depth-first rather than a level-number BFS because the
// engine needs an exact linearization over an arbitrary subset of
// tables for a single run, not just a relative level per table.
package graph

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	"pgsync/internal/models"
)

// Source is the subset of the Database Adapter contract the graph
// needs: a single call that returns the full bidirectional FK graph
// for the schema reachable through db.
type Source interface {
	ForeignKeyDependencies(ctx context.Context, db *sql.DB) (*models.Graph, error)
}

// Builder memoizes the adapter's graph for the lifetime of one command
// run. Build is safe to call repeatedly; the underlying fetch happens
// once until Reset is called.
type Builder struct {
	src    Source
	logger *zap.Logger

	mu    sync.Mutex
	graph *models.Graph
}

func NewBuilder(src Source, logger *zap.Logger) *Builder {
	return &Builder{src: src, logger: logger.Named("graph")}
}

// Build returns the memoized graph, fetching it from the adapter on
// first call against db (the source connection: FK structure is read
// from the side sync pulls from).
func (b *Builder) Build(ctx context.Context, db *sql.DB) (*models.Graph, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.graph != nil {
		return b.graph, nil
	}

	g, err := b.src.ForeignKeyDependencies(ctx, db)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("built dependency graph", zap.Int("tables", len(g.Nodes)))
	b.graph = g
	return b.graph, nil
}

// Reset drops the memoized graph so the next Build call re-fetches it.
func (b *Builder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.graph = nil
}

// Sort returns a permutation of tables ordered so that, within the
// input set, parents precede children (ParentsFirst) or children
// precede parents (ChildrenFirst). It is a depth-first topological
// sort bounded to the input set: cycles are tolerated by ignoring the
// back-edge rather than failing, and nodes absent from the graph
// appear among themselves in their original input order.
func Sort(g *models.Graph, tables []string, dir models.Direction) []string {
	inSet := make(map[string]struct{}, len(tables))
	for _, t := range tables {
		inSet[t] = struct{}{}
	}

	visited := make(map[string]bool, len(tables))
	onStack := make(map[string]bool, len(tables))
	result := make([]string, 0, len(tables))

	var visit func(t string)
	visit = func(t string) {
		if visited[t] {
			return
		}
		if onStack[t] {
			// Cycle: ignore the back-edge, ordering among the cycle
			// members is implementation-defined.
			return
		}
		onStack[t] = true

		var neighbors map[string]struct{}
		if g != nil {
			if dir == models.ParentsFirst {
				neighbors = g.DependsOn(t)
			} else {
				neighbors = g.ReferencedBy(t)
			}
		}
		for n := range neighbors {
			if n == t {
				continue // self-loop, never traversed
			}
			if _, ok := inSet[n]; !ok {
				continue
			}
			visit(n)
		}

		onStack[t] = false
		visited[t] = true
		result = append(result, t)
	}

	for _, t := range tables {
		visit(t)
	}

	return result
}
