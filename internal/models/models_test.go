package models

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestGraph_AddEdgeRecordsBothDirections(t *testing.T) {
	g := NewGraph()
	g.AddEdge("order_items", "orders")

	if _, ok := g.DependsOn("order_items")["orders"]; !ok {
		t.Fatalf("expected order_items to depend on orders")
	}
	if _, ok := g.ReferencedBy("orders")["order_items"]; !ok {
		t.Fatalf("expected orders to be referenced by order_items")
	}
}

func TestGraph_EnsureNodeAddsIsolatedNode(t *testing.T) {
	g := NewGraph()
	g.EnsureNode("audit_log")

	if _, ok := g.Nodes["audit_log"]; !ok {
		t.Fatalf("expected audit_log node to exist")
	}
	if len(g.DependsOn("audit_log")) != 0 {
		t.Fatalf("expected isolated node to have no dependencies")
	}
}

func TestPlan_IsEmpty(t *testing.T) {
	empty := &Plan{}
	if !empty.IsEmpty() {
		t.Fatalf("expected empty plan to report IsEmpty")
	}

	withWork := &Plan{TablesToSync: []*TableDiff{{Table: "orders"}}}
	if withWork.IsEmpty() {
		t.Fatalf("expected plan with tables to sync to not report IsEmpty")
	}
}

func TestRunResults_TotalsSumsAcrossTables(t *testing.T) {
	results := RunResults{
		"orders":   {Inserted: 3, Updated: 1, Deleted: 0, Errors: 0},
		"products": {Inserted: 2, Updated: 0, Deleted: 1, Errors: 1},
	}

	got := results.Totals()
	want := TableResult{Inserted: 5, Updated: 1, Deleted: 1, Errors: 1}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Totals() mismatch (-want +got):\n%s", diff)
	}
}

func TestRunResults_GetCreatesBucketOnFirstAccess(t *testing.T) {
	results := make(RunResults)
	tr := results.Get("orders")
	tr.Inserted = 5

	want := RunResults{"orders": {Inserted: 5}}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Fatalf("Get() mismatch (-want +got):\n%s", diff)
	}
}

func TestTableMetadata_MaxUpdatedAtPointerComparison(t *testing.T) {
	ts := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	want := TableMetadata{Count: 1, HasUpdatedAt: true, MaxUpdatedAt: &ts}
	got := TableMetadata{Count: 1, HasUpdatedAt: true, MaxUpdatedAt: &ts}

	diff := cmp.Diff(want, got, cmp.Comparer(func(a, b *time.Time) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Equal(*b)
	}))
	if diff != "" {
		t.Fatalf("TableMetadata mismatch (-want +got):\n%s", diff)
	}
}
