package store

import (
	"fmt"
	"strings"
	"time"
)

// Cond is one predicate of a WHERE clause. Column names are trusted (they
// come from this codebase); values are always bound as parameters.
type Cond struct {
	sql  string
	args []any
}

// Eq matches column = value. A nil value matches IS NULL.
func Eq(column string, value any) Cond {
	if value == nil {
		return IsNull(column)
	}
	return Cond{sql: column + " = ?", args: []any{dbValue(value)}}
}

// Gt matches column > value.
func Gt(column string, value any) Cond {
	return Cond{sql: column + " > ?", args: []any{dbValue(value)}}
}

// Le matches column <= value.
func Le(column string, value any) Cond {
	return Cond{sql: column + " <= ?", args: []any{dbValue(value)}}
}

// Between matches lo <= column <= hi.
func Between(column string, lo, hi any) Cond {
	return Cond{sql: column + " BETWEEN ? AND ?", args: []any{dbValue(lo), dbValue(hi)}}
}

// IsNull matches column IS NULL.
func IsNull(column string) Cond {
	return Cond{sql: column + " IS NULL"}
}

// In matches column IN (values...). An empty value list matches nothing.
func In[T any](column string, values ...T) Cond {
	if len(values) == 0 {
		return Cond{sql: "1 = 0"}
	}
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = dbValue(v)
	}
	return Cond{
		sql:  fmt.Sprintf("%s IN (%s)", column, strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")),
		args: args,
	}
}

// compileWhere joins conds with AND, qualifying bare column names with alias
// when one is given. Returns "1 = 1" for no conditions.
func compileWhere(alias string, conds ...Cond) (string, []any) {
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	parts := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		s := c.sql
		if alias != "" && s != "1 = 0" {
			s = alias + "." + s
		}
		parts = append(parts, s)
		args = append(args, c.args...)
	}
	return strings.Join(parts, " AND "), args
}

// dbValue converts domain values to their stored representation. Times are
// DTGs and compare as epoch seconds.
func dbValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return toDTG(val)
	case *time.Time:
		if val == nil {
			return nil
		}
		return toDTG(*val)
	}
	return v
}
