package adapter

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestParseSQLStatements_DropsCommentsBlankLinesAndSessionSetup(t *testing.T) {
	dump := `--
-- PostgreSQL database dump
--

SET statement_timeout = 0;
SELECT pg_catalog.set_config('search_path', '', false);

CREATE TABLE public.orders (
    id integer NOT NULL,
    total numeric
);

ALTER TABLE ONLY public.orders
    ADD CONSTRAINT orders_pkey PRIMARY KEY (id);
`
	a := &PostgresAdapter{}
	stmts := a.ParseSQLStatements(dump)

	require := assert.New(t)
	require.Len(stmts, 2)
	require.Contains(stmts[0], "CREATE TABLE public.orders")
	require.Contains(stmts[1], "ADD CONSTRAINT orders_pkey")
}

func TestParseSQLStatements_KeepsTrailingStatementWithoutSemicolon(t *testing.T) {
	a := &PostgresAdapter{}
	stmts := a.ParseSQLStatements("CREATE VIEW v AS SELECT 1")
	assert.Equal(t, []Statement{"CREATE VIEW v AS SELECT 1"}, stmts)
}

func TestNormalizeViewDef_CollapsesWhitespaceAndCase(t *testing.T) {
	a := normalizeViewDef("SELECT  a,\n  B\tFROM   t")
	b := normalizeViewDef("select a, b from t")
	assert.Equal(t, a, b)
}

func TestQuoteIdentAll_AppliesPrefixAndQuoting(t *testing.T) {
	out := quoteIdentAll([]string{"id", "created_at"}, "r.")
	assert.Equal(t, []string{`r."id"`, `r."created_at"`}, out)
}

func TestClassifyPQError_ExtractsSQLSTATE(t *testing.T) {
	pqErr := &pq.Error{Code: "23505"}
	code, ok := classifyPQError(pqErr)
	assert.True(t, ok)
	assert.Equal(t, "23505", code)
}

func TestClassifyPQError_UnwrapsWrappedError(t *testing.T) {
	pqErr := &pq.Error{Code: "23503"}
	wrapped := fmt.Errorf("upsert: %w", pqErr)
	code, ok := classifyPQError(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "23503", code)
}

func TestClassifyPQError_NonPQErrorIsNotOK(t *testing.T) {
	_, ok := classifyPQError(fmt.Errorf("plain error"))
	assert.False(t, ok)
}
