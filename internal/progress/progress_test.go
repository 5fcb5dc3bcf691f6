package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgsync/internal/models"
)

func TestNew_NonFileWriterIsNonInteractive(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader(""))
	assert.False(t, r.interactive)
}

func TestConfirm_NonInteractiveAutoConfirms(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader(""))

	ok := r.Confirm("proceed?")
	require.True(t, ok)
	assert.Contains(t, buf.String(), "non-interactive")
}

func TestConfirmPlain_AcceptsYVariants(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader("y\n"))
	assert.True(t, r.confirmPlain("go ahead?"))

	r2 := New(&buf, strings.NewReader("no\n"))
	assert.False(t, r2.confirmPlain("go ahead?"))

	r3 := New(&buf, strings.NewReader(""))
	assert.False(t, r3.confirmPlain("go ahead?"))
}

func TestAnalysis_OnlyPrintsTablesNeedingSync(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader(""))

	r.Analysis([]*models.TableDiff{
		{Table: "orders", NeedsSync: true, LocalCount: 1, RemoteCount: 2},
		{Table: "categories", NeedsSync: false},
	})

	out := buf.String()
	assert.Contains(t, out, "orders")
	assert.NotContains(t, out, "categories")
}

func TestDryRun_ListsRefreshAndActionableTables(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader(""))

	plan := &models.Plan{TablesToRefresh: []string{"orders"}, ViewsToRefresh: []string{"order_totals"}}
	actionable := []*models.TableDiff{{Table: "products", IDsToDelete: []string{"1", "2"}}}

	r.DryRun(plan, actionable)

	out := buf.String()
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "order_totals")
	assert.Contains(t, out, "products")
}

func TestStats_SummarizesTotalsAndFlagsErrors(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, strings.NewReader(""))

	results := models.RunResults{
		"orders":   {Inserted: 5, Updated: 1, Deleted: 0, Errors: 0},
		"products": {Inserted: 0, Updated: 0, Deleted: 2, Errors: 1},
	}
	r.Stats(results)

	out := buf.String()
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "products")
	assert.Contains(t, out, "inserted=5")
	assert.Contains(t, out, "errors=1")
}
