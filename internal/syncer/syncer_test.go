package syncer

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/models"
)

type fakeAdapter struct {
	adapter.Adapter
	primaryKey       string
	hasPK            bool
	selfCol          string
	hasSelf          bool
	uniqueConstraint []models.UniqueConstraint
	uniqueCalls      int
	childTables      map[string]string
	upserted         []models.Record
}

func (f *fakeAdapter) PrimaryKeyColumn(ctx context.Context, db *sql.DB, table string) (string, bool, error) {
	return f.primaryKey, f.hasPK, nil
}

func (f *fakeAdapter) SelfReferencingColumn(ctx context.Context, db *sql.DB, table string) (string, bool, error) {
	return f.selfCol, f.hasSelf, nil
}

func (f *fakeAdapter) UniqueConstraints(ctx context.Context, db *sql.DB, table string) ([]models.UniqueConstraint, error) {
	f.uniqueCalls++
	return f.uniqueConstraint, nil
}

func (f *fakeAdapter) ChildTables(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	return f.childTables, nil
}

func (f *fakeAdapter) UpsertRecord(ctx context.Context, db *sql.DB, table string, record models.Record, pk string, columns []string) (int, int, int) {
	f.upserted = append(f.upserted, record)
	return 1, 0, 0
}

func newTestSyncer(fa *fakeAdapter) *Syncer {
	return NewSyncer(fa, zap.NewNop())
}

func TestChunk_SplitsIntoEvenGroupsWithRemainder(t *testing.T) {
	got := chunk([]string{"1", "2", "3", "4", "5"}, 2)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, got)
}

func TestChunk_ZeroSizeReturnsOneChunk(t *testing.T) {
	got := chunk([]string{"1", "2"}, 0)
	assert.Equal(t, [][]string{{"1", "2"}}, got)
}

func TestPKString_NilYieldsEmptyString(t *testing.T) {
	assert.Equal(t, "", pkString(nil))
	assert.Equal(t, "42", pkString(42))
	assert.Equal(t, "abc", pkString("abc"))
}

func TestAllNil_TrueOnlyWhenEveryColumnIsNil(t *testing.T) {
	rec := models.Record{"a": nil, "b": nil}
	assert.True(t, allNil(rec, []string{"a", "b"}))

	rec["b"] = 1
	assert.False(t, allNil(rec, []string{"a", "b"}))
}

func TestSortedColumns_ReturnsKeysInOrder(t *testing.T) {
	rec := models.Record{"zeta": 1, "alpha": 2, "mid": 3}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, sortedColumns(rec))
}

func TestJoinAnd_JoinsWithAND(t *testing.T) {
	assert.Equal(t, `"a" = $1 AND "b" IS NULL`, joinAnd([]string{`"a" = $1`, `"b" IS NULL`}))
	assert.Equal(t, "", joinAnd(nil))
}

func TestJoinComma_JoinsWithComma(t *testing.T) {
	assert.Equal(t, "a, b, c", joinComma([]string{"a", "b", "c"}))
}

func TestDeleteFromTable_EmptyIDsIsNoop(t *testing.T) {
	fa := &fakeAdapter{}
	s := newTestSyncer(fa)

	deleted, errored := s.DeleteFromTable(context.Background(), nil, "orders", "id", nil, 100)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 0, errored)
}

func TestSyncTableFromRemote_NoPrimaryKeyReturnsEmptyResult(t *testing.T) {
	fa := &fakeAdapter{hasPK: false}
	s := newTestSyncer(fa)

	result, err := s.SyncTableFromRemote(context.Background(), nil, nil, "audit_log", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TableResult{}, result)
}

func TestUniqueConstraints_CachesPerTable(t *testing.T) {
	fa := &fakeAdapter{uniqueConstraint: []models.UniqueConstraint{{Name: "uq_email", Columns: []string{"email"}}}}
	s := newTestSyncer(fa)

	first, err := s.uniqueConstraints(context.Background(), nil, "users")
	require.NoError(t, err)
	second, err := s.uniqueConstraints(context.Background(), nil, "users")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fa.uniqueCalls)

	s.Reset()
	_, err = s.uniqueConstraints(context.Background(), nil, "users")
	require.NoError(t, err)
	assert.Equal(t, 2, fa.uniqueCalls)
}

func TestUpsertRecords_EmptyBatchIsNoop(t *testing.T) {
	fa := &fakeAdapter{}
	s := newTestSyncer(fa)

	result := s.UpsertRecords(context.Background(), nil, "orders", nil, "id")
	assert.Equal(t, models.TableResult{}, result)
}

func TestGetIDsToDelete_EmptyRemoteReturnsWholeLocalSet(t *testing.T) {
	src := openFakeDB(func(query string, args []driver.Value) (fakeResult, error) {
		return fakeResult{columns: []string{"id"}}, nil
	})
	defer src.Close()

	tgt := openFakeDB(func(query string, args []driver.Value) (fakeResult, error) {
		return fakeResult{
			columns: []string{"id"},
			rows:    []fakeRow{{"1"}, {"2"}, {"3"}},
		}, nil
	})
	defer tgt.Close()

	fa := &fakeAdapter{}
	s := newTestSyncer(fa)

	passthrough := func(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, error) {
		return fn(ctx)
	}

	got, err := s.GetIDsToDelete(context.Background(), src, tgt, "orders", "id", 100, passthrough)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestUpsertRecords_UniqueConflictDeletesBeforeUpsert(t *testing.T) {
	var deleteCalls int

	tgt := openFakeDB(func(query string, args []driver.Value) (fakeResult, error) {
		switch {
		case strings.HasPrefix(query, "SELECT"):
			return fakeResult{columns: []string{"id"}, rows: []fakeRow{{"99"}}}, nil
		case strings.HasPrefix(query, "DELETE"):
			deleteCalls++
			return fakeResult{affected: 1}, nil
		default:
			t.Fatalf("unexpected query: %s", query)
			return fakeResult{}, nil
		}
	})
	defer tgt.Close()

	fa := &fakeAdapter{
		uniqueConstraint: []models.UniqueConstraint{{Name: "uq_email", Columns: []string{"email"}}},
	}
	s := newTestSyncer(fa)

	records := []models.Record{{"id": "1", "email": "a@example.com"}}
	result := s.UpsertRecords(context.Background(), tgt, "users", records, "id")

	assert.Equal(t, 1, deleteCalls)
	assert.Equal(t, 1, result.Inserted)
	require.Len(t, fa.upserted, 1)
	assert.Equal(t, records[0], fa.upserted[0])
}
