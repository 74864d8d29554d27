// Package config loads deckstore settings from a YAML file validated against
// an embedded CUE schema. The schema also supplies every default, so an
// empty or missing file yields a complete configuration.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration.
type Config struct {
	Database Database
	Ingest   Ingest
	Merge    Merge
	Purge    Purge
	Janitor  Janitor
	Log      Log
}

type Database struct {
	Driver string
	DSN    string
}

type Ingest struct {
	MinBatch int
	MaxBatch int
}

type Merge struct {
	Retention int
}

// Purge holds the ages after which sandboxes are removed.
type Purge struct {
	IdleAfter      time.Duration
	SubmittedAfter time.Duration
}

// Janitor configures the long-running purge loop. An empty MetricsAddr
// disables the /metrics endpoint.
type Janitor struct {
	Interval    time.Duration
	MetricsAddr string
}

type Log struct {
	Level  string
	Format string
}

// Error reports a configuration value the schema rejected.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the schema defaults.
func Default() (*Config, error) {
	return Parse(nil)
}

// Load reads and validates the YAML file at path. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and fills in defaults.
func Parse(data []byte) (*Config, error) {
	doc := map[string]any{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	d := decoder{v: v}
	cfg := &Config{
		Database: Database{
			Driver: d.str("database.driver"),
			DSN:    d.str("database.dsn"),
		},
		Ingest: Ingest{
			MinBatch: d.integer("ingest.min_batch"),
			MaxBatch: d.integer("ingest.max_batch"),
		},
		Merge: Merge{Retention: d.integer("merge.retention")},
		Purge: Purge{
			IdleAfter:      d.duration("purge.idle_after"),
			SubmittedAfter: d.duration("purge.submitted_after"),
		},
		Janitor: Janitor{
			Interval:    d.duration("janitor.interval"),
			MetricsAddr: d.str("janitor.metrics_addr"),
		},
		Log: Log{
			Level:  d.str("log.level"),
			Format: d.str("log.format"),
		},
	}
	if d.err != nil {
		return nil, d.err
	}
	return cfg, nil
}

// SlogLevel maps Log.Level to a slog level.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// decoder reads concrete fields from a validated value, keeping the first
// error.
type decoder struct {
	v   cue.Value
	err error
}

func (d *decoder) lookup(path string) cue.Value {
	return d.v.LookupPath(cue.ParsePath(path))
}

func (d *decoder) str(path string) string {
	s, err := d.lookup(path).String()
	d.fail(path, err)
	return s
}

func (d *decoder) integer(path string) int {
	n, err := d.lookup(path).Int64()
	d.fail(path, err)
	return int(n)
}

func (d *decoder) duration(path string) time.Duration {
	s := d.str(path)
	if d.err != nil {
		return 0
	}
	dur, err := time.ParseDuration(s)
	d.fail(path, err)
	return dur
}

func (d *decoder) fail(path string, err error) {
	if err != nil && d.err == nil {
		d.err = &Error{Field: path, Message: err.Error()}
	}
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	e := &Error{Field: strings.Join(first.Path(), "."), Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		e.Pos = pos[0]
	}
	return e
}
