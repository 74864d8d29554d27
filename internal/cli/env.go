package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/deckstore/internal/config"
	"github.com/roach88/deckstore/internal/conflict"
	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/ingest"
	"github.com/roach88/deckstore/internal/merge"
	"github.com/roach88/deckstore/internal/notify"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
)

// env is the component stack one command runs against.
type env struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *store.Store
	ingest   *ingest.Engine
	sandbox  *sandbox.Manager
	resolver *conflict.Resolver
	merge    *merge.Engine

	// notes receives every notification the merge engine sends while the
	// command runs.
	notes *notify.ChannelNotifier
}

// notificationBuffer bounds how many notifications one command can report.
const notificationBuffer = 64

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.DSN = opts.Database
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	return cfg, nil
}

// newLogger builds the slog logger for a command. Logs go to w (stderr) so
// they never mix with command output. --verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Log.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openEnv loads the configuration, opens the store and wires the engines.
// Notifications are logged and fanned out to e.notes.
func openEnv(opts *RootOptions, logw io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cfg, opts.Verbose, logw)

	logger.Debug("opening database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	ing := ingest.New(st, ingest.Options{
		MinBatch: cfg.Ingest.MinBatch,
		MaxBatch: cfg.Ingest.MaxBatch,
		Logger:   logger,
	})
	notes := notify.NewChannelNotifier()
	return &env{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		ingest:   ing,
		sandbox:  sandbox.New(st, sandbox.Options{Logger: logger}),
		resolver: conflict.NewResolver(st, conflict.Options{Logger: logger}),
		merge: merge.New(st, ing, merge.Options{
			Retention: cfg.Merge.Retention,
			Logger:    logger,
			Notifier:  notify.Multi{notify.NewLogNotifier(logger), notes},
		}),
		notes: notes,
	}, nil
}

// collect subscribes to the engine's notifications. The returned function
// ends the subscription and returns what was delivered up to then.
func (e *env) collect() func() []deck.Notification {
	ch, stop := e.notes.Subscribe(notificationBuffer)
	return func() []deck.Notification {
		stop()
		out := []deck.Notification{}
		for n := range ch {
			out = append(out, n)
		}
		return out
	}
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing database", "error", err)
	}
}
