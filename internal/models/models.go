// Package models holds the data shapes shared across the sync engine:
// the dependency graph, table diffs, the sync plan, and run results.
// None of these types own a database connection; they are plain data
// passed between the adapter, analyzer, schema manager, and
// orchestrator.
package models

import "time"

// TableNode is one entry in the foreign-key dependency graph: the set
// of tables this table's rows reference, and the set that reference
// it back. Self-loops are recorded but never traversed by Sort.
type TableNode struct {
	DependsOn    map[string]struct{}
	ReferencedBy map[string]struct{}
}

// Graph is the full bidirectional FK dependency graph for a schema,
// keyed by unqualified table name.
type Graph struct {
	Nodes map[string]*TableNode
}

// NewGraph returns an empty graph ready for AddEdge calls.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*TableNode)}
}

func (g *Graph) ensure(table string) *TableNode {
	n, ok := g.Nodes[table]
	if !ok {
		n = &TableNode{
			DependsOn:    make(map[string]struct{}),
			ReferencedBy: make(map[string]struct{}),
		}
		g.Nodes[table] = n
	}
	return n
}

// EnsureNode guarantees table has a node in the graph even if it has
// no FK edges in either direction, so isolated tables still sort as
// standalone entries instead of being absent from the graph.
func (g *Graph) EnsureNode(table string) {
	g.ensure(table)
}

// AddEdge records that child depends on parent (child has an FK column
// referencing parent). Self-loops are recorded on both sides of the
// same node but are never expanded by Sort.
func (g *Graph) AddEdge(child, parent string) {
	c := g.ensure(child)
	p := g.ensure(parent)
	c.DependsOn[parent] = struct{}{}
	p.ReferencedBy[child] = struct{}{}
}

// DependsOn returns the parent tables of t, or nil if t is unknown to
// the graph.
func (g *Graph) DependsOn(t string) map[string]struct{} {
	if n, ok := g.Nodes[t]; ok {
		return n.DependsOn
	}
	return nil
}

// ReferencedBy returns the child tables of t, or nil if t is unknown to
// the graph.
func (g *Graph) ReferencedBy(t string) map[string]struct{} {
	if n, ok := g.Nodes[t]; ok {
		return n.ReferencedBy
	}
	return nil
}

// Direction selects which edge set Sort walks.
type Direction int

const (
	ParentsFirst Direction = iota
	ChildrenFirst
)

// TableMetadata is the per-side probe result used by the analyzer to
// decide whether a table needs sync. MaxID and MaxUpdatedAt are only
// populated when the corresponding column exists; their absence is not
// an error. Error is set only when the primary COUNT(*) probe fails.
type TableMetadata struct {
	Count         int64
	HasUpdatedAt  bool
	MaxUpdatedAt  *time.Time
	HasID         bool
	MaxID         *int64
	Error         bool
}

// TableDiff is the analyzer's verdict for one table.
type TableDiff struct {
	Table         string
	NeedsSync     bool
	LocalCount    int64
	RemoteCount   int64
	HasUpdates    bool
	IDsToDelete   []string
	MetadataError bool
	Refreshed     bool
	IsParent      bool
	IsChild       bool
}

// SchemaRefreshResult is C3's per-call outcome.
type SchemaRefreshResult struct {
	CreatedTables      int
	CreatedSequences   int
	CreatedConstraints int
	SkippedFK          int
	Errors             []string
}

// Plan is the closed-over sync plan the orchestrator drives phases
// from.
type Plan struct {
	TablesToSync   []*TableDiff
	TablesToRefresh []string
	ViewsToRefresh []string
	MissingTables  []string
	ChangedTables  []string
	MissingViews   []string
	ChangedViews   []string
}

// IsEmpty reports whether the plan has no actionable or refreshable
// work at all — used to decide whether a backup is worth taking.
func (p *Plan) IsEmpty() bool {
	return len(p.TablesToSync) == 0 &&
		len(p.TablesToRefresh) == 0 &&
		len(p.ViewsToRefresh) == 0
}

// TableResult accumulates counts across the delete, upsert, and
// cascade-recheck phases for one table.
type TableResult struct {
	Inserted int
	Updated  int
	Deleted  int
	Errors   int
}

// RunResults maps table name to its accumulated TableResult for a
// whole command run.
type RunResults map[string]*TableResult

// Get returns (creating if needed) the result bucket for a table.
func (r RunResults) Get(table string) *TableResult {
	tr, ok := r[table]
	if !ok {
		tr = &TableResult{}
		r[table] = tr
	}
	return tr
}

// Totals sums every table's counters.
func (r RunResults) Totals() TableResult {
	var t TableResult
	for _, tr := range r {
		t.Inserted += tr.Inserted
		t.Updated += tr.Updated
		t.Deleted += tr.Deleted
		t.Errors += tr.Errors
	}
	return t
}

// UniqueConstraint describes a UNIQUE constraint on a target table,
// excluding the primary key.
type UniqueConstraint struct {
	Name    string
	Columns []string
}

// BackupRecord describes one backup file on disk.
type BackupRecord struct {
	Path      string
	Filename  string
	Size      int64
	Timestamp time.Time
}

// Record is a single row fetched from source or target, keyed by
// column name. []byte values from the driver are expected to already
// be normalized to concrete Go types by the code that read the row
// (the adapter or the syncer's page reader) before a Record reaches
// this layer.
type Record map[string]any
