package adapter

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"pgsync/internal/models"
)

// Schema is the single schema this engine synchronizes. Cross-schema
// sync is out of scope; every adapter call operates against this
// schema only.
const Schema = "public"

// PostgresAdapter is the Database Adapter for PostgreSQL. It holds no
// connection state of its own; every operation takes the
// *sql.DB to act on explicitly, since the same adapter instance drives
// both the source and target connections.
type PostgresAdapter struct {
	logger  *zap.Logger
	dumpBin string
	pgBin   string
}

// NewPostgresAdapter returns a PostgresAdapter that shells out to
// pg_dump/psql found on PATH.
func NewPostgresAdapter(logger *zap.Logger) *PostgresAdapter {
	return &PostgresAdapter{
		logger:  logger.Named("adapter.postgres"),
		dumpBin: "pg_dump",
		pgBin:   "psql",
	}
}

var _ Adapter = (*PostgresAdapter)(nil)

func (a *PostgresAdapter) ForeignKeyDependencies(ctx context.Context, db *sql.DB) (*models.Graph, error) {
	const q = `
SELECT
  tc.table_name AS child_table,
  ccu.table_name AS parent_table
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1`

	rows, err := db.QueryContext(ctx, q, Schema)
	if err != nil {
		return nil, wrap("ForeignKeyDependencies", err)
	}
	defer rows.Close()

	g := models.NewGraph()
	for rows.Next() {
		var child, parent string
		if err := rows.Scan(&child, &parent); err != nil {
			return nil, wrap("ForeignKeyDependencies", err)
		}
		g.AddEdge(child, parent)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("ForeignKeyDependencies", err)
	}

	// Tables with no FK in either direction still need a node so they
	// sort as isolated entries.
	tables, err := a.TablesList(ctx, db)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		g.EnsureNode(t)
	}

	return g, nil
}

func (a *PostgresAdapter) ChildTables(ctx context.Context, db *sql.DB, table string) (map[string]string, error) {
	const q = `
SELECT tc.table_name, kcu.column_name, ccu.table_name AS parent_table
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1 AND ccu.table_name = $2`

	rows, err := db.QueryContext(ctx, q, Schema, table)
	if err != nil {
		return nil, wrap("ChildTables", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var child, col, parent string
		if err := rows.Scan(&child, &col, &parent); err != nil {
			return nil, wrap("ChildTables", err)
		}
		if child == table {
			continue // excludes t itself even if self-referencing
		}
		out[child] = col
	}
	return out, wrap("ChildTables", rows.Err())
}

func (a *PostgresAdapter) SelfReferencingColumn(ctx context.Context, db *sql.DB, table string) (string, bool, error) {
	const q = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
  AND tc.table_name = $2 AND ccu.table_name = $2
ORDER BY tc.constraint_name
LIMIT 1`

	var col string
	err := db.QueryRowContext(ctx, q, Schema, table).Scan(&col)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap("SelfReferencingColumn", err)
	}
	return col, true, nil
}

func (a *PostgresAdapter) PrimaryKeyColumn(ctx context.Context, db *sql.DB, table string) (string, bool, error) {
	const q = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position`

	rows, err := db.QueryContext(ctx, q, Schema, table)
	if err != nil {
		return "", false, wrap("PrimaryKeyColumn", err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return "", false, wrap("PrimaryKeyColumn", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", false, wrap("PrimaryKeyColumn", err)
	}
	if len(cols) != 1 {
		return "", false, nil
	}
	return cols[0], true, nil
}

func (a *PostgresAdapter) UniqueConstraints(ctx context.Context, db *sql.DB, table string) ([]models.UniqueConstraint, error) {
	const q = `
SELECT tc.constraint_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'UNIQUE' AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY tc.constraint_name, kcu.ordinal_position`

	rows, err := db.QueryContext(ctx, q, Schema, table)
	if err != nil {
		return nil, wrap("UniqueConstraints", err)
	}
	defer rows.Close()

	order := []string{}
	byName := map[string]*models.UniqueConstraint{}
	for rows.Next() {
		var name, col string
		if err := rows.Scan(&name, &col); err != nil {
			return nil, wrap("UniqueConstraints", err)
		}
		uc, ok := byName[name]
		if !ok {
			uc = &models.UniqueConstraint{Name: name}
			byName[name] = uc
			order = append(order, name)
		}
		uc.Columns = append(uc.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("UniqueConstraints", err)
	}

	out := make([]models.UniqueConstraint, 0, len(order))
	for _, n := range order {
		out = append(out, *byName[n])
	}
	return out, nil
}

func (a *PostgresAdapter) ResetSequences(ctx context.Context, db *sql.DB) (int, error) {
	const q = `
SELECT c.table_name, c.column_name, pg_get_serial_sequence(quote_ident(c.table_name), c.column_name)
FROM information_schema.columns c
WHERE c.table_schema = $1 AND pg_get_serial_sequence(quote_ident(c.table_name), c.column_name) IS NOT NULL`

	rows, err := db.QueryContext(ctx, q, Schema)
	if err != nil {
		return 0, wrap("ResetSequences", err)
	}
	defer rows.Close()

	type seqCol struct{ table, column, seq string }
	var cols []seqCol
	for rows.Next() {
		var sc seqCol
		if err := rows.Scan(&sc.table, &sc.column, &sc.seq); err != nil {
			return 0, wrap("ResetSequences", err)
		}
		cols = append(cols, sc)
	}
	if err := rows.Err(); err != nil {
		return 0, wrap("ResetSequences", err)
	}

	succeeded := 0
	var agg error
	for _, sc := range cols {
		setvalQ := fmt.Sprintf(
			`SELECT setval('%s', COALESCE((SELECT MAX(%q) FROM %q), 1), (SELECT COUNT(*) FROM %q) > 0)`,
			sc.seq, sc.column, sc.table, sc.table)
		if _, err := db.ExecContext(ctx, setvalQ); err != nil {
			agg = multierr.Append(agg, fmt.Errorf("sequence for %s.%s: %w", sc.table, sc.column, err))
			continue
		}
		succeeded++
	}
	if agg != nil {
		a.logger.Warn("some sequences failed to reset", zap.Error(agg))
	}
	return succeeded, nil
}

func (a *PostgresAdapter) dsnArgs(cfg ConnParams) []string {
	return []string{
		"-h", cfg.Host,
		"-p", cfg.Port,
		"-U", cfg.User,
		"-d", cfg.Database,
	}
}

func (a *PostgresAdapter) runWithPassword(ctx context.Context, cfg ConnParams, name string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(cmd.Environ(), "PGPASSWORD="+cfg.Password)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", name, err, stderr.String())
	}
	return stdout.String(), nil
}

func (a *PostgresAdapter) dumpObjects(ctx context.Context, cfg ConnParams, flag string, names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	args := a.dsnArgs(cfg)
	args = append(args, "--schema-only", "--no-owner", "--no-acl")
	for _, n := range names {
		args = append(args, flag, n)
	}

	out, err := a.runWithPassword(ctx, cfg, a.dumpBin, args)
	if err != nil {
		return "", wrap("DumpSchema", err)
	}
	return out, nil
}

func (a *PostgresAdapter) DumpSchema(ctx context.Context, cfg ConnParams, tables []string) (string, error) {
	return a.dumpObjects(ctx, cfg, "-t", tables)
}

func (a *PostgresAdapter) DumpViewsSchema(ctx context.Context, cfg ConnParams, views []string) (string, error) {
	return a.dumpObjects(ctx, cfg, "-t", views)
}

func (a *PostgresAdapter) ParseSQLStatements(dump string) []Statement {
	lines := strings.Split(dump, "\n")

	var statements []Statement
	var current strings.Builder

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "SET ") || strings.HasPrefix(upper, "SELECT PG_CATALOG.SET_CONFIG") {
			continue
		}

		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(line)

		if strings.HasSuffix(line, ";") {
			stmt := strings.TrimSpace(current.String())
			if stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}

	if tail := strings.TrimSpace(current.String()); tail != "" {
		statements = append(statements, tail)
	}

	return statements
}

func (a *PostgresAdapter) CreateBackup(ctx context.Context, cfg ConnParams, dir string) (string, error) {
	filename := fmt.Sprintf("db_backup_%s.sql.gz", time.Now().Format("2006-01-02_15-04-05"))
	path := dir + "/" + filename

	args := a.dsnArgs(cfg)
	dumpCmd := exec.CommandContext(ctx, a.dumpBin, args...)
	dumpCmd.Env = append(dumpCmd.Environ(), "PGPASSWORD="+cfg.Password)

	gzipCmd := exec.CommandContext(ctx, "gzip", "-c")

	pipe, err := dumpCmd.StdoutPipe()
	if err != nil {
		return "", wrap("CreateBackup", err)
	}
	gzipCmd.Stdin = pipe

	out, err := func() (string, error) {
		outFile, err := createFile(path)
		if err != nil {
			return "", err
		}
		defer outFile.Close()
		gzipCmd.Stdout = outFile

		var stderr bytes.Buffer
		dumpCmd.Stderr = &stderr
		gzipCmd.Stderr = &stderr

		if err := gzipCmd.Start(); err != nil {
			return "", err
		}
		if err := dumpCmd.Run(); err != nil {
			return "", fmt.Errorf("%w: %s", err, stderr.String())
		}
		if err := gzipCmd.Wait(); err != nil {
			return "", fmt.Errorf("%w: %s", err, stderr.String())
		}
		return path, nil
	}()
	if err != nil {
		return "", wrap("CreateBackup", err)
	}
	return out, nil
}

func (a *PostgresAdapter) RestoreBackup(ctx context.Context, cfg ConnParams, path string) error {
	gunzipCmd := exec.CommandContext(ctx, "gunzip", "-c", path)
	psqlArgs := a.dsnArgs(cfg)
	psqlCmd := exec.CommandContext(ctx, a.pgBin, psqlArgs...)
	psqlCmd.Env = append(psqlCmd.Environ(), "PGPASSWORD="+cfg.Password)

	pipe, err := gunzipCmd.StdoutPipe()
	if err != nil {
		return wrap("RestoreBackup", err)
	}
	psqlCmd.Stdin = pipe

	var out bytes.Buffer
	psqlCmd.Stdout = &out
	psqlCmd.Stderr = &out

	if err := psqlCmd.Start(); err != nil {
		return wrap("RestoreBackup", err)
	}
	if err := gunzipCmd.Run(); err != nil {
		return wrap("RestoreBackup", err)
	}
	if err := psqlCmd.Wait(); err != nil {
		return &RestoreError{Err: err, Output: out.String()}
	}

	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "ERROR:") && !strings.Contains(line, "already exists") {
			return &RestoreError{Err: fmt.Errorf("restore line failed"), Output: line}
		}
	}

	return nil
}

// RestoreError reports a line containing "ERROR:" without "already
// exists" during restore. Fatal to the restore command only.
type RestoreError struct {
	Err    error
	Output string
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore failed: %v: %s", e.Err, e.Output)
}

func (e *RestoreError) Unwrap() error { return e.Err }

func (a *PostgresAdapter) listNames(ctx context.Context, db *sql.DB, tableType string) ([]string, error) {
	const q = `
SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = $2
ORDER BY table_name`

	rows, err := db.QueryContext(ctx, q, Schema, tableType)
	if err != nil {
		return nil, wrap("listNames", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, wrap("listNames", err)
		}
		names = append(names, n)
	}
	return names, wrap("listNames", rows.Err())
}

func (a *PostgresAdapter) TablesList(ctx context.Context, db *sql.DB) ([]string, error) {
	return a.listNames(ctx, db, "BASE TABLE")
}

func (a *PostgresAdapter) ViewsList(ctx context.Context, db *sql.DB) ([]string, error) {
	return a.listNames(ctx, db, "VIEW")
}

func (a *PostgresAdapter) exists(ctx context.Context, db *sql.DB, name, tableType string) (bool, error) {
	const q = `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = $1 AND table_type = $2 AND table_name = $3`

	var count int
	err := db.QueryRowContext(ctx, q, Schema, tableType, name).Scan(&count)
	if err != nil {
		return false, wrap("exists", err)
	}
	return count > 0, nil
}

func (a *PostgresAdapter) TableExists(ctx context.Context, db *sql.DB, table string) (bool, error) {
	return a.exists(ctx, db, table, "BASE TABLE")
}

func (a *PostgresAdapter) ViewExists(ctx context.Context, db *sql.DB, view string) (bool, error) {
	return a.exists(ctx, db, view, "VIEW")
}

func (a *PostgresAdapter) DropTable(ctx context.Context, db *sql.DB, table string) bool {
	q := fmt.Sprintf(`DROP TABLE IF EXISTS %q CASCADE`, table)
	_, err := db.ExecContext(ctx, q)
	if err != nil {
		a.logger.Debug("drop table failed, swallowed", zap.String("table", table), zap.Error(err))
		return false
	}
	return true
}

func (a *PostgresAdapter) DropView(ctx context.Context, db *sql.DB, view string) bool {
	q := fmt.Sprintf(`DROP VIEW IF EXISTS %q CASCADE`, view)
	_, err := db.ExecContext(ctx, q)
	if err != nil {
		a.logger.Debug("drop view failed, swallowed", zap.String("view", view), zap.Error(err))
		return false
	}
	return true
}

func (a *PostgresAdapter) DropSchema(ctx context.Context, db *sql.DB, schema string) error {
	stmts := []string{
		fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schema),
		fmt.Sprintf(`CREATE SCHEMA %q`, schema),
		fmt.Sprintf(`GRANT ALL ON SCHEMA %q TO CURRENT_USER`, schema),
		fmt.Sprintf(`GRANT USAGE ON SCHEMA %q TO PUBLIC`, schema),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return wrap("DropSchema", err)
		}
	}
	return nil
}

// UpsertRecord renders INSERT ... ON CONFLICT (pk) DO UPDATE.
// affected>0 is classified "updated" and affected==0 "inserted", even
// though ON CONFLICT inserts can report 1 row affected on some
// driver/server combinations — these counts are change-class hints,
// not an exact audit trail.
func (a *PostgresAdapter) UpsertRecord(ctx context.Context, db *sql.DB, table string, record models.Record, pk string, columns []string) (int, int, int) {
	cols := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	values := make([]any, 0, len(columns))
	var updateClauses []string

	for i, c := range columns {
		cols = append(cols, fmt.Sprintf("%q", c))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		values = append(values, record[c])
		if c != pk {
			updateClauses = append(updateClauses, fmt.Sprintf("%q = EXCLUDED.%q", c, c))
		}
	}

	var query string
	if len(updateClauses) == 0 {
		query = fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s) ON CONFLICT (%q) DO NOTHING`,
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), pk)
	} else {
		query = fmt.Sprintf(`INSERT INTO %q (%s) VALUES (%s) ON CONFLICT (%q) DO UPDATE SET %s`,
			table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), pk, strings.Join(updateClauses, ", "))
	}

	res, err := db.ExecContext(ctx, query, values...)
	if err != nil {
		code, hasCode := classifyPQError(err)
		a.logger.Debug("upsert row failed", zap.String("table", table), zap.String("pq_code", code), zap.Bool("has_pq_code", hasCode), zap.Error(err))
		return 0, 0, 1
	}

	affected, _ := res.RowsAffected()
	if affected > 0 {
		return 0, 1, 0
	}
	return 1, 0, 0
}

func (a *PostgresAdapter) TableMetadata(ctx context.Context, db *sql.DB, table string) models.TableMetadata {
	var md models.TableMetadata

	countQ := fmt.Sprintf(`SELECT COUNT(*) FROM %q`, table)
	if err := db.QueryRowContext(ctx, countQ).Scan(&md.Count); err != nil {
		md.Error = true
		return md
	}

	var hasIDCol int
	_ = db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = 'id'`, Schema, table).Scan(&hasIDCol)
	if hasIDCol > 0 {
		md.HasID = true
		var maxID sql.NullInt64
		maxIDQ := fmt.Sprintf(`SELECT MAX(%q) FROM %q`, "id", table)
		if err := db.QueryRowContext(ctx, maxIDQ).Scan(&maxID); err == nil && maxID.Valid {
			v := maxID.Int64
			md.MaxID = &v
		}
	}

	var hasUpdatedCol int
	_ = db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 AND column_name = 'updated_at'`, Schema, table).Scan(&hasUpdatedCol)
	if hasUpdatedCol > 0 && md.Count > 0 {
		md.HasUpdatedAt = true
		var maxUpdated sql.NullTime
		maxUpdQ := fmt.Sprintf(`SELECT MAX(%q) FROM %q`, "updated_at", table)
		if err := db.QueryRowContext(ctx, maxUpdQ).Scan(&maxUpdated); err == nil && maxUpdated.Valid {
			v := maxUpdated.Time
			md.MaxUpdatedAt = &v
		}
	}

	return md
}

type colTriple struct {
	name, dataType, udtName, nullable string
}

func (a *PostgresAdapter) fetchColumnTriples(ctx context.Context, db *sql.DB, table string) ([]colTriple, error) {
	const q = `
SELECT column_name, data_type, udt_name, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

	rows, err := db.QueryContext(ctx, q, Schema, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []colTriple
	for rows.Next() {
		var c colTriple
		if err := rows.Scan(&c.name, &c.dataType, &c.udtName, &c.nullable); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (a *PostgresAdapter) HasStructureChanged(ctx context.Context, src, tgt *sql.DB, table string) bool {
	srcCols, err := a.fetchColumnTriples(ctx, src, table)
	if err != nil {
		return true // error => changed (safe side)
	}
	tgtCols, err := a.fetchColumnTriples(ctx, tgt, table)
	if err != nil {
		return true
	}

	if len(srcCols) != len(tgtCols) {
		return true
	}

	tgtByName := make(map[string]colTriple, len(tgtCols))
	for _, c := range tgtCols {
		tgtByName[c.name] = c
	}

	for _, sc := range srcCols {
		tc, ok := tgtByName[sc.name]
		if !ok {
			return true
		}
		if sc.dataType != tc.dataType || sc.udtName != tc.udtName || sc.nullable != tc.nullable {
			return true
		}
	}

	return false
}

func normalizeViewDef(def string) string {
	fields := strings.Fields(def)
	return strings.ToLower(strings.Join(fields, " "))
}

func (a *PostgresAdapter) viewDefinition(ctx context.Context, db *sql.DB, view string) (string, error) {
	const q = `SELECT view_definition FROM information_schema.views WHERE table_schema = $1 AND table_name = $2`
	var def sql.NullString
	if err := db.QueryRowContext(ctx, q, Schema, view).Scan(&def); err != nil {
		return "", err
	}
	return def.String, nil
}

func (a *PostgresAdapter) HasViewStructureChanged(ctx context.Context, src, tgt *sql.DB, view string) bool {
	srcDef, err := a.viewDefinition(ctx, src, view)
	if err != nil {
		return true
	}
	tgtDef, err := a.viewDefinition(ctx, tgt, view)
	if err != nil {
		return true
	}
	return normalizeViewDef(srcDef) != normalizeViewDef(tgtDef)
}

func (a *PostgresAdapter) SelfReferencingRecords(ctx context.Context, db *sql.DB, table, pk, fk string) ([]models.Record, error) {
	cols, err := a.fetchColumnTriples(ctx, db, table)
	if err != nil {
		return nil, wrap("SelfReferencingRecords", err)
	}

	names := make([]string, len(cols))
	qualified := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
		qualified[i] = fmt.Sprintf("t.%q", c.name)
	}
	colList := strings.Join(qualified, ", ")
	rColList := strings.Join(quoteIdentAll(names, "r."), ", ")

	query := fmt.Sprintf(`
WITH RECURSIVE ordered AS (
  SELECT %s, 0 AS %s
  FROM %q t
  WHERE t.%q IS NULL
  UNION ALL
  SELECT %s, r.%s + 1
  FROM %q t
  JOIN ordered r ON t.%q = r.%q
)
SELECT %s, %s FROM ordered r ORDER BY r.%s, r.%q`,
		colList, DepthKey,
		table,
		fk,
		colList, DepthKey,
		table,
		fk, pk,
		rColList, DepthKey, DepthKey, pk,
	)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("SelfReferencingRecords", err)
	}
	defer rows.Close()

	outCols, err := rows.Columns()
	if err != nil {
		return nil, wrap("SelfReferencingRecords", err)
	}

	var results []models.Record
	for rows.Next() {
		values := make([]any, len(outCols))
		ptrs := make([]any, len(outCols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, wrap("SelfReferencingRecords", err)
		}
		rec := make(models.Record, len(outCols))
		for i, c := range outCols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			rec[c] = v
		}
		results = append(results, rec)
	}
	return results, wrap("SelfReferencingRecords", rows.Err())
}

func quoteIdentAll(names []string, prefix string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = fmt.Sprintf(`%s%q`, prefix, n)
	}
	return out
}

// classifyPQError inspects a lib/pq driver error for its SQLSTATE
// code, used by callers that want to distinguish violation kinds
// rather than just swallowing the error.
func classifyPQError(err error) (code string, ok bool) {
	var pqErr *pq.Error
	if errAs(err, &pqErr) {
		return string(pqErr.Code), true
	}
	return "", false
}

func errAs(err error, target **pq.Error) bool {
	for err != nil {
		if pe, ok := err.(*pq.Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func createFile(path string) (*os.File, error) {
	return os.Create(path)
}
