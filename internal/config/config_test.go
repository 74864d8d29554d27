package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "deckstore.db", cfg.Database.DSN)
	assert.Equal(t, 100, cfg.Ingest.MinBatch)
	assert.Equal(t, 102400, cfg.Ingest.MaxBatch)
	assert.Equal(t, 3, cfg.Merge.Retention)
	assert.Equal(t, 72*time.Hour, cfg.Purge.IdleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Purge.SubmittedAfter)
	assert.Equal(t, time.Hour, cfg.Janitor.Interval)
	assert.Empty(t, cfg.Janitor.MetricsAddr)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
database:
  driver: pgx
  dsn: postgres://deck@localhost/deck
ingest:
  min_batch: 10
merge:
  retention: 5
janitor:
  interval: 90s
  metrics_addr: ":9090"
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, "postgres://deck@localhost/deck", cfg.Database.DSN)
	assert.Equal(t, 10, cfg.Ingest.MinBatch)
	assert.Equal(t, 102400, cfg.Ingest.MaxBatch)
	assert.Equal(t, 5, cfg.Merge.Retention)
	assert.Equal(t, 90*time.Second, cfg.Janitor.Interval)
	assert.Equal(t, ":9090", cfg.Janitor.MetricsAddr)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown driver", "database:\n  driver: oracle\n"},
		{"unknown field", "database:\n  pool: 4\n"},
		{"unknown section", "cache:\n  size: 4\n"},
		{"zero retention", "merge:\n  retention: 0\n"},
		{"max below min", "ingest:\n  min_batch: 500\n  max_batch: 100\n"},
		{"bad duration", "purge:\n  idle_after: soon\n"},
		{"bad level", "log:\n  level: trace\n"},
		{"not yaml", "database: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge:\n  retention: 7\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Merge.Retention)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Merge.Retention)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestError_Format(t *testing.T) {
	assert.Equal(t, "merge.retention: too small", (&Error{Field: "merge.retention", Message: "too small"}).Error())
	assert.Equal(t, "bad", (&Error{Message: "bad"}).Error())
}
