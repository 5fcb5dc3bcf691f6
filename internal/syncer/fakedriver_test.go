package syncer

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sync/atomic"
)

// fakeRow is one row of canned column values for a fake query result.
type fakeRow []driver.Value

// fakeResult is the canned response for one query: either rows (for a
// SELECT) or an affected-row count (for a DELETE/INSERT).
type fakeResult struct {
	columns  []string
	rows     []fakeRow
	affected int64
}

// fakeHandler answers one query against a fake connection. Tests match
// on the query text, which is fully deterministic per call site in
// this package.
type fakeHandler func(query string, args []driver.Value) (fakeResult, error)

var fakeDriverSeq int64

// openFakeDB registers a fresh database/sql driver backed by handle
// and opens a *sql.DB against it, so syncer helpers that take *sql.DB
// directly can be exercised without a live Postgres connection.
func openFakeDB(handle fakeHandler) *sql.DB {
	name := fmt.Sprintf("fakesyncer%d", atomic.AddInt64(&fakeDriverSeq, 1))
	sql.Register(name, &fakeDriver{handle: handle})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db
}

type fakeDriver struct {
	handle fakeHandler
}

func (d *fakeDriver) Open(name string) (driver.Conn, error) {
	return &fakeConn{handle: d.handle}, nil
}

type fakeConn struct {
	handle fakeHandler
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{query: query, handle: c.handle}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("fakedriver: transactions not supported")
}

type fakeStmt struct {
	query  string
	handle fakeHandler
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	res, err := s.handle(s.query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(res.affected), nil
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	res, err := s.handle(s.query, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: res.columns, rows: res.rows}, nil
}

type fakeRows struct {
	columns []string
	rows    []fakeRow
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

var (
	_ driver.Driver = (*fakeDriver)(nil)
	_ driver.Conn   = (*fakeConn)(nil)
	_ driver.Stmt   = (*fakeStmt)(nil)
	_ driver.Rows   = (*fakeRows)(nil)
)
