package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompileWhere(t *testing.T) {
	dtg := time.Date(2021, 9, 1, 6, 0, 0, 0, time.UTC)

	sql, args := compileWhere("",
		Eq("basin", "AL"),
		In("technique", "OFCL", "CARQ"),
		Between("ref_time", dtg, dtg.Add(6*time.Hour)),
		Eq("storm_name", nil),
	)
	assert.Equal(t, "basin = ? AND technique IN (?, ?) AND ref_time BETWEEN ? AND ? AND storm_name IS NULL", sql)
	assert.Equal(t, []any{"AL", "OFCL", "CARQ", dtg.Unix(), dtg.Add(6 * time.Hour).Unix()}, args)
}

func TestCompileWhere_Empty(t *testing.T) {
	sql, args := compileWhere("")
	assert.Equal(t, "1 = 1", sql)
	assert.Nil(t, args)
}

func TestCompileWhere_EmptyInMatchesNothing(t *testing.T) {
	sql, args := compileWhere("r", Eq("basin", "AL"), In[int64]("id"))
	assert.Equal(t, "r.basin = ? AND 1 = 0", sql)
	assert.Equal(t, []any{"AL"}, args)
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT id FROM adeck WHERE basin = ? AND year = ? AND id IN (?, ?)"
	assert.Equal(t, q, SQLite.Rebind(q))
	assert.Equal(t, "SELECT id FROM adeck WHERE basin = $1 AND year = $2 AND id IN ($3, $4)", Postgres.Rebind(q))
	assert.Equal(t, "SELECT 1", Postgres.Rebind("SELECT 1"))
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{
		"":         SQLite,
		"sqlite":   SQLite,
		"sqlite3":  SQLite,
		"pgx":      Postgres,
		"postgres": Postgres,
	} {
		got, err := ParseDialect(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDialect("mysql")
	assert.Error(t, err)
}

func TestDeckTableDDL_Postgres(t *testing.T) {
	stmts := deckTableDDL(Postgres, "A")
	assert.Contains(t, stmts[0], "id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY")
	assert.Contains(t, stmts[0], "lat DOUBLE PRECISION NOT NULL DEFAULT 0")
	assert.Contains(t, stmts[2], "PRIMARY KEY (sandbox_id, id)")
	assert.Contains(t, stmts[len(stmts)-1], "CREATE UNIQUE INDEX IF NOT EXISTS uq_adeck_natural_key")
}
