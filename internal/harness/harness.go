package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/deckstore/internal/conflict"
	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/ingest"
	"github.com/roach88/deckstore/internal/merge"
	"github.com/roach88/deckstore/internal/notify"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

// Options configures a run. Zero values select the defaults.
type Options struct {
	// Logger receives the components' logs. Defaults to discarding them.
	Logger *slog.Logger

	// MinBatch and MaxBatch size ingest batches. Defaults 2 and 64 keep
	// batch adaptation visible on scenario-sized inputs.
	MinBatch int
	MaxBatch int
}

// Harness wires a complete deckstore stack over one store for a scenario.
type Harness struct {
	store    *store.Store
	ingest   *ingest.Engine
	sandbox  *sandbox.Manager
	resolver *conflict.Resolver
	merge    *merge.Engine
	notes    *notify.Recorder
	logger   *slog.Logger

	deck  deck.Type
	storm deck.Storm

	aliases map[string]int64
	labels  map[int64]string
}

// Run executes a scenario with default options.
func Run(scenario *Scenario) (*Result, error) {
	return RunWith(context.Background(), scenario, Options{})
}

// RunWith executes a scenario in a fresh in-memory database.
//
// Execution flow:
//  1. Create the store and the component stack on a deterministic clock
//  2. Seed the baseline
//  3. Execute the steps, checking expect clauses
//  4. Capture and check the final state
//
// Domain errors raised by a step are outcomes; any other error aborts the
// run.
func RunWith(ctx context.Context, scenario *Scenario, opts Options) (*Result, error) {
	dt, err := deck.ParseType(scenario.Deck)
	if err != nil {
		return nil, err
	}
	storm, err := deck.ParseStorm(scenario.Storm)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MinBatch == 0 {
		opts.MinBatch = 2
	}
	if opts.MaxBatch == 0 {
		opts.MaxBatch = 64
	}
	clock := testutil.NewDeterministicClock()
	notes := &notify.Recorder{}
	ing := ingest.New(st, ingest.Options{MinBatch: opts.MinBatch, MaxBatch: opts.MaxBatch, Logger: logger})

	h := &Harness{
		store:    st,
		ingest:   ing,
		sandbox:  sandbox.New(st, sandbox.Options{Clock: clock, Logger: logger}),
		resolver: conflict.NewResolver(st, conflict.Options{Clock: clock, Logger: logger}),
		merge: merge.New(st, ing, merge.Options{
			Retention: scenario.Retention,
			Clock:     clock,
			Logger:    logger,
			Notifier:  notify.Multi{notes, notify.NewLogNotifier(logger)},
		}),
		notes:   notes,
		logger:  logger,
		deck:    dt,
		storm:   storm,
		aliases: map[string]int64{},
		labels:  map[int64]string{},
	}

	result := NewResult(uuid.NewString())
	log := logger.With("scenario", scenario.Name, "run_id", result.RunID)

	if scenario.Seed != nil {
		seed := testutil.Grid(dt, storm, scenario.Seed.DTGs, scenario.Seed.Techniques, scenario.Seed.Taus)
		if _, err := ing.Persist(ctx, seed, false); err != nil {
			return nil, fmt.Errorf("failed to seed baseline: %w", err)
		}
	}

	for i, step := range scenario.Steps {
		outcome, err := h.execute(ctx, step)
		if err != nil && deck.CodeOf(err) == "" {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if err != nil {
			outcome = map[string]any{"error": string(deck.CodeOf(err))}
		}
		result.AddTrace(step.Op, step.Sandbox, outcome)
		if msg := checkExpect(i, step, outcome); msg != "" {
			result.AddError(msg)
		}
		log.Debug("scenario step completed", "step", i, "op", step.Op, "outcome", outcome)
	}

	if err := h.captureFinal(ctx, &result.Final); err != nil {
		return nil, err
	}
	for _, msg := range checkFinal(scenario.Final, &result.Final) {
		result.AddError(msg)
	}
	log.Info("scenario complete", "pass", result.Pass, "steps", len(result.Trace), "errors", len(result.Errors))
	return result, nil
}
