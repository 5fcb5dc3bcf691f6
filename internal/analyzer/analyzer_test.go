package analyzer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/models"
	"pgsync/internal/syncer"
)

// fakeAdapter embeds the full contract (nil) and overrides only the
// methods a given test exercises; calling anything else panics, which
// surfaces as a test failure rather than a silent wrong answer.
type fakeAdapter struct {
	adapter.Adapter
	metadata map[string]models.TableMetadata // keyed "local:table" / "remote:table"
	pk       string
	hasPK    bool
}

func (f *fakeAdapter) TableMetadata(ctx context.Context, db *sql.DB, table string) models.TableMetadata {
	key := "remote:" + table
	if db == localDB {
		key = "local:" + table
	}
	return f.metadata[key]
}

func (f *fakeAdapter) PrimaryKeyColumn(ctx context.Context, db *sql.DB, table string) (string, bool, error) {
	return f.pk, f.hasPK, nil
}

// localDB/remoteDB are distinct non-nil sentinel *sql.DB values so the
// fake can tell which side a TableMetadata call is for without a real
// connection.
var (
	localDB  = &sql.DB{}
	remoteDB = &sql.DB{}
)

func newTestAnalyzer(fa *fakeAdapter) *Analyzer {
	logger := zap.NewNop()
	s := syncer.NewSyncer(fa, logger)
	return NewAnalyzer(fa, s, logger)
}

func TestAnalyze_MetadataErrorMarksNeedsSyncAndStops(t *testing.T) {
	fa := &fakeAdapter{
		metadata: map[string]models.TableMetadata{
			"local:orders":  {Error: true},
			"remote:orders": {Count: 5},
		},
	}
	a := newTestAnalyzer(fa)

	diffs, err := a.Analyze(context.Background(), remoteDB, localDB, []string{"orders"}, 100, nil)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].NeedsSync)
	assert.True(t, diffs[0].MetadataError)
}

func TestAnalyze_CountMismatchTriggersNeedsSync(t *testing.T) {
	fa := &fakeAdapter{
		hasPK: false,
		metadata: map[string]models.TableMetadata{
			"local:products":  {Count: 2},
			"remote:products": {Count: 5},
		},
	}
	a := newTestAnalyzer(fa)

	diffs, err := a.Analyze(context.Background(), remoteDB, localDB, []string{"products"}, 100, nil)
	require.NoError(t, err)
	assert.True(t, diffs[0].NeedsSync)
	assert.False(t, diffs[0].HasUpdates)
}

func TestAnalyze_UpdatedAtDivergenceSetsHasUpdates(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	fa := &fakeAdapter{
		hasPK: false,
		metadata: map[string]models.TableMetadata{
			"local:users":  {Count: 3, HasUpdatedAt: true, MaxUpdatedAt: &older},
			"remote:users": {Count: 3, HasUpdatedAt: true, MaxUpdatedAt: &newer},
		},
	}
	a := newTestAnalyzer(fa)

	diffs, err := a.Analyze(context.Background(), remoteDB, localDB, []string{"users"}, 100, nil)
	require.NoError(t, err)
	assert.True(t, diffs[0].NeedsSync)
	assert.True(t, diffs[0].HasUpdates)
}

func TestAnalyze_NoDivergenceLeavesNeedsSyncFalse(t *testing.T) {
	fa := &fakeAdapter{
		hasPK: false,
		metadata: map[string]models.TableMetadata{
			"local:categories":  {Count: 3},
			"remote:categories": {Count: 3},
		},
	}
	a := newTestAnalyzer(fa)

	diffs, err := a.Analyze(context.Background(), remoteDB, localDB, []string{"categories"}, 100, nil)
	require.NoError(t, err)
	assert.False(t, diffs[0].NeedsSync)
}

func TestBuildPlan_ParentClosure(t *testing.T) {
	g := models.NewGraph()
	g.AddEdge("order_items", "orders")
	g.AddEdge("orders", "users")

	diffs := []*models.TableDiff{
		{Table: "order_items", NeedsSync: true, IDsToDelete: []string{"1"}},
	}

	plan := BuildPlan(diffs, map[string]bool{}, g)

	var names []string
	for _, d := range plan.TablesToSync {
		names = append(names, d.Table)
	}
	assert.ElementsMatch(t, names, []string{"order_items", "orders", "users"})

	for _, d := range plan.TablesToSync {
		if d.Table != "order_items" {
			assert.True(t, d.IsParent, "expected %s to be tagged is_parent", d.Table)
		}
	}
}

func TestBuildPlan_RefreshSetMarksRefreshed(t *testing.T) {
	g := models.NewGraph()
	diffs := []*models.TableDiff{
		{Table: "orders", NeedsSync: true},
	}
	plan := BuildPlan(diffs, map[string]bool{"orders": true}, g)

	require.Len(t, plan.TablesToSync, 1)
	assert.True(t, plan.TablesToSync[0].Refreshed)
	assert.Equal(t, []string{"orders"}, plan.TablesToRefresh)
}

func TestFilterActionable(t *testing.T) {
	plan := &models.Plan{
		TablesToSync: []*models.TableDiff{
			{Table: "a", Refreshed: true},
			{Table: "b", IDsToDelete: []string{"1"}},
			{Table: "c", LocalCount: 1, RemoteCount: 2},
			{Table: "d", HasUpdates: true},
			{Table: "e", IsChild: true},
			{Table: "f", IsParent: true}, // no trigger: not actionable
		},
	}

	out := FilterActionable(plan)
	var names []string
	for _, d := range out {
		names = append(names, d.Table)
	}
	assert.ElementsMatch(t, names, []string{"a", "b", "c", "d", "e"})
}
