package merge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/ingest"
	"github.com/roach88/deckstore/internal/notify"
	"github.com/roach88/deckstore/internal/store"
)

// DefaultRetention is how many merge logs are kept per storm and deck.
const DefaultRetention = 3

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Retention int
	Clock     deck.Clock
	Logger    *slog.Logger
	Notifier  notify.Notifier
}

// Engine runs bulk merges, check-ins and rollbacks.
type Engine struct {
	store     *store.Store
	ingest    *ingest.Engine
	notifier  notify.Notifier
	clock     deck.Clock
	logger    *slog.Logger
	retention int
}

// New creates an Engine that persists incoming records through ing.
func New(s *store.Store, ing *ingest.Engine, opts Options) *Engine {
	e := &Engine{
		store:     s,
		ingest:    ing,
		notifier:  opts.Notifier,
		clock:     opts.Clock,
		logger:    opts.Logger,
		retention: opts.Retention,
	}
	if e.notifier == nil {
		e.notifier = notify.Discard{}
	}
	if e.clock == nil {
		e.clock = deck.SystemClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.retention <= 0 {
		e.retention = DefaultRetention
	}
	return e
}

// MergeLogs returns the retained merge logs of a storm's deck, newest first.
func (e *Engine) MergeLogs(ctx context.Context, dt deck.Type, storm deck.Storm) ([]*deck.MergeLog, error) {
	return e.store.MergeLogs(ctx, dt, storm)
}

// scope checks that records are non-empty, of deck dt and of one storm, and
// returns them without nil entries.
func scope(dt deck.Type, records []*deck.Record) (deck.Storm, []*deck.Record, error) {
	if !dt.Valid() {
		return deck.Storm{}, nil, &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", dt)}
	}
	recs := make([]*deck.Record, 0, len(records))
	for _, r := range records {
		if r != nil {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return deck.Storm{}, nil, &deck.Error{Code: deck.CodeMissingScope, Message: "no records to merge"}
	}
	storm := recs[0].Storm()
	if err := storm.Validate(); err != nil {
		return deck.Storm{}, nil, err
	}
	for _, r := range recs {
		if r.Deck != dt {
			return deck.Storm{}, nil, &deck.Error{Code: deck.CodeWrongDeck, Message: fmt.Sprintf("%s record in a %s merge", r.Deck, dt)}
		}
		if r.Storm() != storm {
			return deck.Storm{}, nil, &deck.Error{Code: deck.CodeMixedRecords, Message: fmt.Sprintf("records for %s and %s", storm, r.Storm())}
		}
	}
	return storm, recs, nil
}

func dtgRange(recs []*deck.Record) (time.Time, time.Time) {
	lo, hi := recs[0].RefTime, recs[0].RefTime
	for _, r := range recs[1:] {
		if r.RefTime.Before(lo) {
			lo = r.RefTime
		}
		if r.RefTime.After(hi) {
			hi = r.RefTime
		}
	}
	return lo, hi
}

// sandboxIDs returns the distinct sandbox ids of conflicts in ascending order.
func sandboxIDs(conflicts []deck.ConflictSandbox) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, c := range conflicts {
		if !seen[c.SandboxID] {
			seen[c.SandboxID] = true
			ids = append(ids, c.SandboxID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) invalidate(ctx context.Context, tx *store.Tx, ids []int64, now time.Time) error {
	for _, id := range ids {
		if err := tx.SetValidity(ctx, id, deck.Invalid, now); err != nil {
			return err
		}
	}
	return nil
}

// dropBackup removes a merge log's backup sandbox if it still exists.
func dropBackup(ctx context.Context, tx *store.Tx, l *deck.MergeLog) error {
	if l.SandboxID == deck.NoSandbox {
		return nil
	}
	sb, err := tx.GetSandbox(ctx, l.SandboxID)
	if deck.IsCode(err, deck.CodeSandboxNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return tx.DeleteSandbox(ctx, sb)
}
