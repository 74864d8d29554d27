package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/roach88/deckstore/internal/deck"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

//go:embed schema/postgres.sql
var postgresSchema string

// Schema version tracking:
// 1 - registry tables, per-deck baseline and sandbox tables
const currentSchemaVersion = 1

// recordColumns are the data columns shared by every baseline and sandbox
// table, in the order recordValues and recordDest use.
var recordColumns = []struct {
	name string
	kind columnKind
}{
	{"basin", kindText},
	{"year", kindInt},
	{"cyclone_num", kindInt},
	{"ref_time", kindBigInt},
	{"technique", kindText},
	{"technique_num", kindInt},
	{"fcst_hour", kindInt},
	{"lat", kindReal},
	{"lon", kindReal},
	{"wind_max", kindReal},
	{"mslp", kindReal},
	{"gust", kindReal},
	{"intensity", kindText},
	{"rad_wind", kindReal},
	{"rad_wind_quad", kindText},
	{"quad1_rad", kindReal},
	{"quad2_rad", kindReal},
	{"quad3_rad", kindReal},
	{"quad4_rad", kindReal},
	{"max_seas", kindReal},
	{"storm_name", kindText},
	{"sub_region", kindText},
	{"user_data", kindText},
	{"extra", kindText},
}

func recordColumnNames() []string {
	names := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		names[i] = c.name
	}
	return names
}

// positionCheck rejects baseline rows with an impossible position. Sandbox
// tables carry no check so edits in progress are never refused.
const positionCheck = "CHECK (lat BETWEEN -90 AND 90 AND lon BETWEEN -360 AND 360)"

// deckTableDDL generates the baseline and sandbox tables for one deck type.
func deckTableDDL(d Dialect, t deck.Type) []string {
	cols := make([]string, 0, len(recordColumns))
	for _, c := range recordColumns {
		cols = append(cols, fmt.Sprintf("%s %s", c.name, d.columnType(c.kind)))
	}
	body := strings.Join(cols, ",\n    ")

	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s,\n    %s,\n    %s\n)", t.Table(), d.identityColumn(), body, positionCheck),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_scope ON %s(basin, year, cyclone_num, ref_time)", t.Table(), t.Table()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    sandbox_id %s NOT NULL REFERENCES sandbox(id) ON DELETE CASCADE,
    id %s NOT NULL,
    %s,
    change_cd %s,
    PRIMARY KEY (sandbox_id, id)
)`, t.SandboxTable(), d.idType(), d.idType(), body, d.columnType(kindInt)),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_change ON %s(sandbox_id, change_cd)", t.SandboxTable(), t.SandboxTable()),
	}
	if key := t.NaturalKey(); len(key) > 0 {
		stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_natural_key ON %s(%s)",
			t.Table(), t.Table(), strings.Join(key, ", ")))
	}
	return stmts
}

// schemaStatements returns every DDL statement for the dialect in order.
func schemaStatements(d Dialect) []string {
	src := sqliteSchema
	if d == Postgres {
		src = postgresSchema
	}
	var stmts []string
	for _, s := range strings.Split(src, ";") {
		if s = strings.TrimSpace(stripComments(s)); s != "" {
			stmts = append(stmts, s)
		}
	}
	for _, t := range deck.Types {
		stmts = append(stmts, deckTableDDL(d, t)...)
	}
	return stmts
}

func stripComments(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if !strings.HasPrefix(strings.TrimSpace(l), "--") {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

// applySchema creates tables if they don't exist and records the schema
// version. This function is idempotent.
func applySchema(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range schemaStatements(d) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}
	if err := runMigrations(ctx, db, d); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on schema_version.
// Version 1 is the initial schema, so there is nothing to migrate yet.
func runMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	var version int
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.ExecContext(ctx, d.Rebind("INSERT INTO schema_version (version) VALUES (?)"), currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("get schema version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		if _, err := db.ExecContext(ctx, d.Rebind("UPDATE schema_version SET version = ?"), currentSchemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
	}
	return nil
}
