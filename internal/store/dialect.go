package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// ParseDialect maps a driver name (or a common alias) to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "pgx", "postgres", "postgresql":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported driver %q", driver)
}

// Rebind rewrites ? placeholders to $1, $2, ... for Postgres. Queries in this
// package never contain a literal question mark.
func (d Dialect) Rebind(query string) string {
	if d != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// columnKind is the storage class of a generated column.
type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindBigInt
	kindReal
)

func (d Dialect) columnType(k columnKind) string {
	switch k {
	case kindText:
		return "TEXT NOT NULL DEFAULT ''"
	case kindInt:
		return "INTEGER NOT NULL DEFAULT 0"
	case kindBigInt:
		if d == Postgres {
			return "BIGINT NOT NULL DEFAULT 0"
		}
		return "INTEGER NOT NULL DEFAULT 0"
	case kindReal:
		if d == Postgres {
			return "DOUBLE PRECISION NOT NULL DEFAULT 0"
		}
		return "REAL NOT NULL DEFAULT 0"
	}
	return ""
}

func (d Dialect) identityColumn() string {
	if d == Postgres {
		return "id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (d Dialect) idType() string {
	if d == Postgres {
		return "BIGINT"
	}
	return "INTEGER"
}
