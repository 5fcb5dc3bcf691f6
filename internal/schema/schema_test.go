package schema

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
)

type fakeAdapter struct {
	adapter.Adapter
	tableExists      map[string]bool
	viewExists       map[string]bool
	structureChanged map[string]bool
	viewChanged      map[string]bool
}

func (f *fakeAdapter) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	return f.tableExists[table], nil
}

func (f *fakeAdapter) ViewExists(ctx context.Context, db *sql.DB, view string) (bool, error) {
	return f.viewExists[view], nil
}

func (f *fakeAdapter) HasStructureChanged(ctx context.Context, src, tgt *sql.DB, table string) bool {
	return f.structureChanged[table]
}

func (f *fakeAdapter) HasViewStructureChanged(ctx context.Context, src, tgt *sql.DB, view string) bool {
	return f.viewChanged[view]
}

func TestFindTablesNeedingRefresh_PartitionsMissingAndChanged(t *testing.T) {
	fa := &fakeAdapter{
		tableExists:      map[string]bool{"orders": true, "products": false},
		structureChanged: map[string]bool{"orders": true},
		viewExists:       map[string]bool{"order_totals": true},
		viewChanged:      map[string]bool{"order_totals": false},
	}
	m := NewManager(fa, zap.NewNop())

	missingTables, changedTables, missingViews, changedViews, err := m.FindTablesNeedingRefresh(
		context.Background(), nil, nil,
		[]string{"orders", "products"}, []string{"order_totals"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, missingTables)
	assert.Equal(t, []string{"orders"}, changedTables)
	assert.Empty(t, missingViews)
	assert.Empty(t, changedViews)
}

func TestFindTablesNeedingRefresh_UnchangedExistingTableIsNotFlagged(t *testing.T) {
	fa := &fakeAdapter{
		tableExists:      map[string]bool{"categories": true},
		structureChanged: map[string]bool{},
	}
	m := NewManager(fa, zap.NewNop())

	missingTables, changedTables, _, _, err := m.FindTablesNeedingRefresh(
		context.Background(), nil, nil, []string{"categories"}, nil,
	)
	require.NoError(t, err)
	assert.Empty(t, missingTables)
	assert.Empty(t, changedTables)
}

func TestTruncate_ShortensLongStatementsWithEllipsis(t *testing.T) {
	short := "CREATE TABLE t (id int)"
	assert.Equal(t, short, truncate(short, 120))

	long := "CREATE TABLE " + string(make([]byte, 200))
	out := truncate(long, 50)
	assert.Len(t, out, 53)
	assert.Equal(t, "...", out[50:])
}
