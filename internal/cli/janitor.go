package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// JanitorOptions holds flags for the janitor command.
type JanitorOptions struct {
	*RootOptions
	Interval    time.Duration
	MetricsAddr string
}

// NewJanitorCommand creates the janitor command.
func NewJanitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JanitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "janitor",
		Short: "Purge sandboxes on a schedule",
		Long: `Run the sandbox purge every --interval until interrupted. When
--metrics-addr is set the process also serves Prometheus metrics on /metrics.

Examples:
  deckstore janitor --db decks.db --interval 1h
  deckstore janitor --db decks.db --metrics-addr :9102`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJanitor(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "time between purges (defaults to config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "listen address for /metrics")

	return cmd
}

func runJanitor(opts *JanitorOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	e, err := openEnv(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return out.Fail(err, nil)
	}
	defer e.Close()

	interval := opts.Interval
	if interval <= 0 {
		interval = e.cfg.Janitor.Interval
	}
	if interval <= 0 {
		return out.Fail(NewExitError(ExitCommandError, "janitor interval must be positive"), nil)
	}
	addr := opts.MetricsAddr
	if addr == "" {
		addr = e.cfg.Janitor.MetricsAddr
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			e.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if addr != "" {
		srv := serveMetrics(addr, e.logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				e.logger.Error("metrics server shutdown", "error", err)
			}
		}()
	}

	idle, submitted := purgeAges(0, 0, e)
	e.logger.Info("janitor started", "interval", interval, "idle_after", idle, "submitted_after", submitted)
	fmt.Fprintln(cmd.OutOrStdout(), "Janitor started. Press Ctrl-C to stop.")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		res, err := purgeOnce(ctx, e.sandbox, idle, submitted)
		switch {
		case ctx.Err() != nil:
		case err != nil:
			e.logger.Error("purge failed", "error", err)
		default:
			e.logger.Info("purge complete", "idle", len(res.Idle), "submitted", len(res.Submitted))
		}

		select {
		case <-ctx.Done():
			e.logger.Info("janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}
