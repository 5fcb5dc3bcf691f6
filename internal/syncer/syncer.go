// Package syncer handles per-table delete and upsert against the
// target: batching and paging both directions, ordering
// self-referencing tables by depth so a row's parent always lands
// before it, and pre-cleaning rows that would otherwise collide on a
// unique constraint before the upsert runs.
package syncer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"pgsync/internal/adapter"
	"pgsync/internal/models"
)

// RetryFunc performs one remote read with retry, scoped to exactly
// that call. The CLI (cmd/pgsync) wires this to tunnel.RetryRead.
type RetryFunc func(ctx context.Context, fn func(context.Context) ([]models.Record, error)) ([]models.Record, error)

// IDRetryFunc is RetryFunc specialized for id-only pagination.
type IDRetryFunc func(ctx context.Context, fn func(context.Context) ([]string, error)) ([]string, error)

// Syncer is the Data Syncer (C4).
type Syncer struct {
	adapter adapter.Adapter
	logger  *zap.Logger

	uniqueMu    sync.Mutex
	uniqueCache map[string][]models.UniqueConstraint
}

func NewSyncer(a adapter.Adapter, logger *zap.Logger) *Syncer {
	return &Syncer{
		adapter:     a,
		logger:      logger.Named("syncer"),
		uniqueCache: make(map[string][]models.UniqueConstraint),
	}
}

// Reset clears the per-run unique-constraints cache. Constraints can
// change between commands, so the cache must not outlive one run.
func (s *Syncer) Reset() {
	s.uniqueMu.Lock()
	defer s.uniqueMu.Unlock()
	s.uniqueCache = make(map[string][]models.UniqueConstraint)
}

func chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

func pkString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func fetchAllIDs(ctx context.Context, db *sql.DB, table, pk string) ([]string, error) {
	q := fmt.Sprintf(`SELECT %q FROM %q`, pk, table)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, pkString(v))
	}
	return ids, rows.Err()
}

func fetchIDPage(ctx context.Context, db *sql.DB, table, pk string, offset, limit int) ([]string, error) {
	q := fmt.Sprintf(`SELECT %q FROM %q ORDER BY %q LIMIT $1 OFFSET $2`, pk, table, pk)
	rows, err := db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, pkString(v))
	}
	return ids, rows.Err()
}

// GetIDsToDelete pages through pk on the source in batches,
// accumulating all remote ids, reads every local id in one query, and
// returns local \ remote in local insertion order. If the source
// yields no ids at all, the whole local id set is returned (empty
// remote means a full wipe of that table).
func (s *Syncer) GetIDsToDelete(ctx context.Context, src, tgt *sql.DB, table, pk string, batchSize int, retry IDRetryFunc) ([]string, error) {
	remote := make(map[string]struct{})
	offset := 0
	for {
		page, err := retry(ctx, func(ctx context.Context) ([]string, error) {
			return fetchIDPage(ctx, src, table, pk, offset, batchSize)
		})
		if err != nil {
			return nil, fmt.Errorf("syncer: fetch remote ids for %s: %w", table, err)
		}
		for _, id := range page {
			remote[id] = struct{}{}
		}
		if len(page) < batchSize {
			break
		}
		offset += batchSize
	}

	local, err := fetchAllIDs(ctx, tgt, table, pk)
	if err != nil {
		return nil, fmt.Errorf("syncer: fetch local ids for %s: %w", table, err)
	}

	if len(remote) == 0 {
		return local, nil
	}

	var toDelete []string
	for _, id := range local {
		if _, ok := remote[id]; !ok {
			toDelete = append(toDelete, id)
		}
	}
	return toDelete, nil
}

// DeleteFromTable deletes ids from t, first chunk-deleting matching
// rows in every child table (errors swallowed — deeper cascades rely
// on DBMS-level ON DELETE or a later CASCADE RECHECK pass), then
// deletes from t itself.
func (s *Syncer) DeleteFromTable(ctx context.Context, tgt *sql.DB, table, pk string, ids []string, batchSize int) (deleted, errored int) {
	if len(ids) == 0 {
		return 0, 0
	}

	children, err := s.adapter.ChildTables(ctx, tgt, table)
	if err != nil {
		s.logger.Warn("failed to resolve child tables, skipping child cleanup", zap.String("table", table), zap.Error(err))
	}
	for child, fkCol := range children {
		for _, c := range chunk(ids, batchSize) {
			q := fmt.Sprintf(`DELETE FROM %q WHERE %q::text = ANY($1)`, child, fkCol)
			if _, err := tgt.ExecContext(ctx, q, pq.Array(c)); err != nil {
				s.logger.Debug("child delete failed, swallowed", zap.String("child", child), zap.Error(err))
			}
		}
	}

	for _, c := range chunk(ids, batchSize) {
		q := fmt.Sprintf(`DELETE FROM %q WHERE %q::text = ANY($1)`, table, pk)
		res, err := tgt.ExecContext(ctx, q, pq.Array(c))
		if err != nil {
			errored += len(c)
			s.logger.Warn("delete chunk failed", zap.String("table", table), zap.Int("chunk_size", len(c)), zap.Error(err))
			continue
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}

	return deleted, errored
}

// SyncTableFromRemote resolves pk on source and, if present, pages the
// remote table upserting each batch into target. Self-referencing
// tables are delegated to the depth-ordered path. Tables without a
// resolvable pk return empty stats: there is no way to converge row
// identity.
func (s *Syncer) SyncTableFromRemote(ctx context.Context, src, tgt *sql.DB, table string, batchSize int, retry RetryFunc) (models.TableResult, error) {
	pk, ok, err := s.adapter.PrimaryKeyColumn(ctx, src, table)
	if err != nil {
		return models.TableResult{}, err
	}
	if !ok {
		return models.TableResult{}, nil
	}

	selfCol, hasSelf, err := s.adapter.SelfReferencingColumn(ctx, src, table)
	if err != nil {
		return models.TableResult{}, err
	}
	if hasSelf {
		return s.syncSelfReferencing(ctx, src, tgt, table, pk, selfCol, batchSize)
	}

	var total models.TableResult
	offset := 0
	for {
		batch, err := retry(ctx, func(ctx context.Context) ([]models.Record, error) {
			return fetchRecordPage(ctx, src, table, pk, offset, batchSize)
		})
		if err != nil {
			return total, fmt.Errorf("syncer: fetch page for %s: %w", table, err)
		}
		if len(batch) == 0 {
			break
		}

		res := s.UpsertRecords(ctx, tgt, table, batch, pk)
		total.Inserted += res.Inserted
		total.Updated += res.Updated
		total.Errors += res.Errors

		if len(batch) < batchSize {
			break
		}
		offset += batchSize
	}

	return total, nil
}

// syncSelfReferencing fetches all rows depth-ordered (root first),
// strips the depth auxiliary column, and upserts in chunks preserving
// that order so a row's parent (if in scope) always lands before it.
func (s *Syncer) syncSelfReferencing(ctx context.Context, src, tgt *sql.DB, table, pk, fkCol string, batchSize int) (models.TableResult, error) {
	records, err := s.adapter.SelfReferencingRecords(ctx, src, table, pk, fkCol)
	if err != nil {
		return models.TableResult{}, err
	}

	for _, r := range records {
		delete(r, adapter.DepthKey)
	}

	var total models.TableResult
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		res := s.UpsertRecords(ctx, tgt, table, records[i:end], pk)
		total.Inserted += res.Inserted
		total.Updated += res.Updated
		total.Errors += res.Errors
	}

	return total, nil
}

// UpsertRecords resolves unique-conflict pre-cleanup, then upserts
// each record, accumulating stats. If pk is empty, it inserts each
// record with its own plain INSERT instead (no way to converge on
// conflict); the batch is not sent as one multi-row statement, and
// each row is counted inserted or errored on its own.
func (s *Syncer) UpsertRecords(ctx context.Context, tgt *sql.DB, table string, records []models.Record, pk string) models.TableResult {
	var result models.TableResult
	if len(records) == 0 {
		return result
	}

	if pk == "" {
		for _, rec := range records {
			cols := sortedColumns(rec)
			if err := insertOnly(ctx, tgt, table, rec, cols); err != nil {
				result.Errors++
				continue
			}
			result.Inserted++
		}
		return result
	}

	if err := s.deleteConflictingRecords(ctx, tgt, table, records, pk); err != nil {
		s.logger.Warn("unique-conflict pre-cleanup failed", zap.String("table", table), zap.Error(err))
	}

	for _, rec := range records {
		cols := sortedColumns(rec)
		inserted, updated, errored := s.adapter.UpsertRecord(ctx, tgt, table, rec, pk, cols)
		result.Inserted += inserted
		result.Updated += updated
		result.Errors += errored
	}

	return result
}

// deleteConflictingRecords runs before upserting a batch: for each
// UNIQUE constraint and each record, it finds local rows whose
// constraint columns match the record's values but whose pk differs,
// and removes them (children first) so the remote row can land by its
// own pk instead of erroring on the unique constraint.
func (s *Syncer) deleteConflictingRecords(ctx context.Context, tgt *sql.DB, table string, records []models.Record, pk string) error {
	constraints, err := s.uniqueConstraints(ctx, tgt, table)
	if err != nil {
		return err
	}
	if len(constraints) == 0 {
		return nil
	}

	conflictIDs := make(map[string]struct{})

	for _, uc := range constraints {
		for _, rec := range records {
			if allNil(rec, uc.Columns) {
				continue // null-distinct semantics make these non-conflicting
			}

			ids, err := s.findConflicting(ctx, tgt, table, uc.Columns, rec, pk)
			if err != nil {
				s.logger.Debug("conflict lookup failed", zap.String("table", table), zap.String("constraint", uc.Name), zap.Error(err))
				continue
			}
			for _, id := range ids {
				conflictIDs[id] = struct{}{}
			}
		}
	}

	if len(conflictIDs) == 0 {
		return nil
	}

	ids := make([]string, 0, len(conflictIDs))
	for id := range conflictIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	s.DeleteFromTable(ctx, tgt, table, pk, ids, len(ids))
	return nil
}

func (s *Syncer) findConflicting(ctx context.Context, tgt *sql.DB, table string, cols []string, rec models.Record, pk string) ([]string, error) {
	var where []string
	var args []any
	argN := 1
	for _, c := range cols {
		v := rec[c]
		if v == nil {
			where = append(where, fmt.Sprintf("%q IS NULL", c))
			continue
		}
		where = append(where, fmt.Sprintf("%q = $%d", c, argN))
		args = append(args, v)
		argN++
	}
	where = append(where, fmt.Sprintf("%q != $%d", pk, argN))
	args = append(args, rec[pk])

	q := fmt.Sprintf(`SELECT %q FROM %q WHERE %s`, pk, table, joinAnd(where))
	rows, err := tgt.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, pkString(v))
	}
	return ids, rows.Err()
}

func (s *Syncer) uniqueConstraints(ctx context.Context, tgt *sql.DB, table string) ([]models.UniqueConstraint, error) {
	s.uniqueMu.Lock()
	if cached, ok := s.uniqueCache[table]; ok {
		s.uniqueMu.Unlock()
		return cached, nil
	}
	s.uniqueMu.Unlock()

	constraints, err := s.adapter.UniqueConstraints(ctx, tgt, table)
	if err != nil {
		return nil, err
	}

	s.uniqueMu.Lock()
	s.uniqueCache[table] = constraints
	s.uniqueMu.Unlock()

	return constraints, nil
}

func allNil(rec models.Record, cols []string) bool {
	for _, c := range cols {
		if rec[c] != nil {
			return false
		}
	}
	return true
}

func sortedColumns(rec models.Record) []string {
	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

func insertOnly(ctx context.Context, tgt *sql.DB, table string, rec models.Record, cols []string) error {
	placeholders := make([]string, len(cols))
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf("%q", c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = rec[c]
	}
	q := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s)`, table, joinComma(quoted), joinComma(placeholders))
	_, err := tgt.ExecContext(ctx, q, args...)
	return err
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

func fetchRecordPage(ctx context.Context, db *sql.DB, table, pk string, offset, limit int) ([]models.Record, error) {
	q := fmt.Sprintf(`SELECT * FROM %q ORDER BY %q LIMIT $1 OFFSET $2`, table, pk)
	rows, err := db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []models.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(models.Record, len(cols))
		for i, c := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[c] = v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

