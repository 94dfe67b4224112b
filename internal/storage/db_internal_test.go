package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	q := `SELECT a FROM t WHERE b = ? AND c = '?' AND d IN (?, ?)`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `SELECT a FROM t WHERE b = $1 AND c = '?' AND d IN ($2, $3)`, DialectPostgres.rebind(q))
}

func TestDetectDialect(t *testing.T) {
	assert.Equal(t, DialectPostgres, DetectDialect("postgres://u:p@h/db"))
	assert.Equal(t, DialectPostgres, DetectDialect("postgresql://h/db"))
	assert.Equal(t, DialectSQLite, DetectDialect("data/hemiciclo.db"))
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements(`-- header
CREATE TABLE a (
    x TEXT DEFAULT ''
);

CREATE INDEX i ON a (x);
`)
	assert.Equal(t, []string{"CREATE TABLE a (\n    x TEXT DEFAULT ''\n)", "CREATE INDEX i ON a (x)"}, got)
}

func TestChunks(t *testing.T) {
	ids := make([]int64, maxInArgs*2+1)
	c := chunks(ids)
	assert.Len(t, c, 3)
	assert.Len(t, c[2], 1)
	assert.Empty(t, chunks([]int64{}))
}
