// Package adapter defines the Database Adapter contract: the
// polymorphic boundary between the sync engine and a concrete DBMS.
// PostgresAdapter is the only implementation, but any other DBMS that
// satisfies Adapter can be dropped in without the rest of the engine
// changing.
package adapter

import (
	"context"
	"database/sql"
	"fmt"

	"pgsync/internal/models"
)

// AdapterError wraps a driver/tool failure from a structural call
// (dump, drop, schema apply top-level). Always fatal to the command
// that triggered it.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter: %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Op: op, Err: err}
}

// ConnParams is the shell-level connection description the dump,
// restore, and backup tool invocations need — distinct from a live
// *sql.DB because those operations shell out to the DBMS's native CLI
// rather than going through the driver.
type ConnParams struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// Statement is one parsed, executable SQL statement from a schema
// dump.
type Statement = string

// Adapter is the full Database Adapter contract. Every operation
// fails with *AdapterError on underlying driver error unless
// documented otherwise.
type Adapter interface {
	// ForeignKeyDependencies reads FK constraints in the schema and
	// returns the full bidirectional graph.
	ForeignKeyDependencies(ctx context.Context, db *sql.DB) (*models.Graph, error)

	// ChildTables returns child table name -> FK column name for every
	// table with an FK into t, excluding t itself even if
	// self-referencing.
	ChildTables(ctx context.Context, db *sql.DB, table string) (map[string]string, error)

	// SelfReferencingColumn returns the first FK column on t whose
	// referenced table is t, or ok=false if none exists.
	SelfReferencingColumn(ctx context.Context, db *sql.DB, table string) (column string, ok bool, err error)

	// PrimaryKeyColumn returns t's single-column primary key, or
	// ok=false if t has none (or a composite key, which this contract
	// does not model).
	PrimaryKeyColumn(ctx context.Context, db *sql.DB, table string) (column string, ok bool, err error)

	// UniqueConstraints returns every UNIQUE constraint on t excluding
	// the primary key.
	UniqueConstraints(ctx context.Context, db *sql.DB, table string) ([]models.UniqueConstraint, error)

	// ResetSequences sets every sequence-backed column's sequence to
	// max(column) (or 1 if the table is empty), continuing past
	// per-sequence failures, returning how many succeeded.
	ResetSequences(ctx context.Context, db *sql.DB) (succeeded int, err error)

	// DumpSchema invokes the dump tool restricted to tables,
	// schema-only, owner/ACL stripped. Returns "" if tables is empty.
	DumpSchema(ctx context.Context, cfg ConnParams, tables []string) (string, error)

	// DumpViewsSchema is DumpSchema for views.
	DumpViewsSchema(ctx context.Context, cfg ConnParams, views []string) (string, error)

	// ParseSQLStatements splits a dump into executable statements,
	// dropping blank lines, comments, session SET statements, and
	// config-function calls.
	ParseSQLStatements(dump string) []Statement

	// CreateBackup pipes a compressed full dump to dir, returning its
	// path.
	CreateBackup(ctx context.Context, cfg ConnParams, dir string) (string, error)

	// RestoreBackup pipes a compressed dump at path back into the
	// database.
	RestoreBackup(ctx context.Context, cfg ConnParams, path string) error

	TablesList(ctx context.Context, db *sql.DB) ([]string, error)
	ViewsList(ctx context.Context, db *sql.DB) ([]string, error)
	TableExists(ctx context.Context, db *sql.DB, table string) (bool, error)
	ViewExists(ctx context.Context, db *sql.DB, view string) (bool, error)

	// DropTable drops t CASCADE, swallowing errors to false.
	DropTable(ctx context.Context, db *sql.DB, table string) bool
	// DropView drops v CASCADE, swallowing errors to false.
	DropView(ctx context.Context, db *sql.DB, view string) bool
	// DropSchema drops and recreates the schema, restoring default
	// grants.
	DropSchema(ctx context.Context, db *sql.DB, schema string) error

	// UpsertRecord performs a single-row INSERT ... ON CONFLICT (pk) DO
	// UPDATE for every non-PK column in columns.
	UpsertRecord(ctx context.Context, db *sql.DB, table string, record models.Record, pk string, columns []string) (inserted, updated, errored int)

	TableMetadata(ctx context.Context, db *sql.DB, table string) models.TableMetadata

	// HasStructureChanged compares columns by ordinal position between
	// src and tgt. Any driver error is treated as changed (safe side).
	HasStructureChanged(ctx context.Context, src, tgt *sql.DB, table string) bool
	// HasViewStructureChanged compares normalized view definitions.
	HasViewStructureChanged(ctx context.Context, src, tgt *sql.DB, view string) bool

	// SelfReferencingRecords returns every row of t ordered root-first
	// by FK depth, tie-broken by pk. The depth auxiliary column is
	// present on every returned record under the key "__depth" for the
	// caller to strip.
	SelfReferencingRecords(ctx context.Context, db *sql.DB, table, pk, fk string) ([]models.Record, error)
}

// DepthKey is the auxiliary column SelfReferencingRecords attaches to
// each row; callers must delete it before writing the row.
const DepthKey = "__depth"
