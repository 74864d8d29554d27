package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

const (
	// DefaultMinBatch is the size of a reduced batch after a violation.
	DefaultMinBatch = 100

	// DefaultMaxBatch caps the fast-path batch size.
	DefaultMaxBatch = 102400
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	MinBatch int
	MaxBatch int
	Logger   *slog.Logger
}

// Strategy names the path a batch was processed with.
type Strategy string

const (
	Fast      Strategy = "fast"
	Checked   Strategy = "checked"
	PerRecord Strategy = "per_record"
)

// Batch reports one attempted batch. A batch with Violation set was rolled
// back and its records were handed to the next strategy.
type Batch struct {
	Strategy   Strategy `json:"strategy" yaml:"strategy"`
	Size       int      `json:"size" yaml:"size"`
	Violation  bool     `json:"violation,omitempty" yaml:"violation,omitempty"`
	Persisted  int      `json:"persisted" yaml:"persisted"`
	Duplicates int      `json:"duplicates" yaml:"duplicates"`
	Failed     int      `json:"failed" yaml:"failed"`
}

// Result summarises a Persist call. Updated-in-place records count as
// persisted.
type Result struct {
	Persisted  int     `json:"persisted"`
	Duplicates int     `json:"duplicates"`
	Failed     int     `json:"failed"`
	Batches    []Batch `json:"batches,omitempty"`
}

func (r *Result) add(batches ...Batch) {
	for _, b := range batches {
		r.Persisted += b.Persisted
		r.Duplicates += b.Duplicates
		r.Failed += b.Failed
		r.Batches = append(r.Batches, b)
	}
}

// Engine persists homogeneous record sets into the baseline.
type Engine struct {
	store  *store.Store
	min    int
	max    int
	logger *slog.Logger
}

// New creates an Engine writing to s.
func New(s *store.Store, opts Options) *Engine {
	e := &Engine{
		store:  s,
		min:    opts.MinBatch,
		max:    opts.MaxBatch,
		logger: opts.Logger,
	}
	if e.min <= 0 {
		e.min = DefaultMinBatch
	}
	if e.max <= 0 {
		e.max = DefaultMaxBatch
	}
	if e.max < e.min {
		e.max = e.min
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// batchRunner commits fn's work as one unit or discards all of it.
type batchRunner func(ctx context.Context, fn func(tx *store.Tx) error) error

// Persist stores records, committing once per batch. Records must share one
// deck type and storm; nil entries are skipped and an empty set is a no-op.
// Persisted records have their ID set; duplicates get the id of the row they
// collided with.
func (e *Engine) Persist(ctx context.Context, records []*deck.Record, overwriteOnConflict bool) (Result, error) {
	return e.persist(ctx, e.store.InTx, records, overwriteOnConflict)
}

// PersistTx is Persist inside a caller-owned transaction. Each batch runs in
// a savepoint, so a violation discards only that batch's work and the caller
// still decides whether everything commits.
func (e *Engine) PersistTx(ctx context.Context, tx *store.Tx, records []*deck.Record, overwriteOnConflict bool) (Result, error) {
	run := func(ctx context.Context, fn func(tx *store.Tx) error) error {
		return tx.Savepoint(ctx, "ingest_batch", func() error { return fn(tx) })
	}
	return e.persist(ctx, run, records, overwriteOnConflict)
}

func (e *Engine) persist(ctx context.Context, run batchRunner, records []*deck.Record, overwrite bool) (Result, error) {
	var res Result
	recs, err := homogeneous(records)
	if err != nil || len(recs) == 0 {
		return res, err
	}
	dt := recs[0].Deck
	log := e.logger.With("deck", string(dt), "storm", recs[0].Storm().String())
	defer observe(dt, &res)

	p := newBatchPlanner(e.min, e.max)
	target := batchTargetGauge.WithLabelValues(string(dt))

	for i := 0; i < len(recs); {
		target.Set(float64(p.next()))
		batch := recs[i:min(i+p.next(), len(recs))]

		err := run(ctx, func(tx *store.Tx) error { return insertAll(ctx, tx, batch) })
		if err == nil {
			p.clean()
			res.add(Batch{Strategy: Fast, Size: len(batch), Persisted: len(batch)})
			i += len(batch)
			continue
		}
		resetIDs(batch)
		if !store.IsConstraintViolation(err) {
			return res, fmt.Errorf("persist %s batch at record %d: %w", dt, i, err)
		}
		res.add(Batch{Strategy: Fast, Size: len(batch), Violation: true})

		reduced := recs[i:min(i+p.violation(), len(recs))]
		log.Debug("fast batch violated a constraint", "offset", i, "size", len(batch), "reduced", len(reduced), "error", err)

		batches, err := e.reprocess(ctx, run, log, reduced, overwrite)
		res.add(batches...)
		if err != nil {
			return res, err
		}
		i += len(reduced)
	}

	log.Info("ingest complete",
		"records", len(recs),
		"persisted", res.Persisted,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
		"batches", len(res.Batches),
	)
	return res, nil
}

// reprocess runs a reduced batch through the checked path, falling back to
// per-record transactions on a second violation. Decks without a natural key
// go straight to per-record: a lookup cannot find anything for them.
func (e *Engine) reprocess(ctx context.Context, run batchRunner, log *slog.Logger, recs []*deck.Record, overwrite bool) ([]Batch, error) {
	dt := recs[0].Deck
	var out []Batch

	if dt.HasNaturalKey() {
		fallbacksTotal.WithLabelValues(string(dt), string(Checked)).Inc()
		var (
			b    Batch
			dups []*deck.Record
		)
		err := run(ctx, func(tx *store.Tx) error {
			b = Batch{Strategy: Checked, Size: len(recs)}
			dups = dups[:0]
			for _, r := range recs {
				dup, err := storeOne(ctx, tx, r, overwrite)
				if err != nil {
					return err
				}
				if dup {
					b.Duplicates++
					dups = append(dups, r)
					continue
				}
				b.Persisted++
			}
			return nil
		})
		if err == nil {
			for _, r := range dups {
				log.Debug("duplicate record", "key", keyString(r), "id", r.ID)
			}
			return append(out, b), nil
		}
		resetIDs(recs)
		if !store.IsConstraintViolation(err) {
			return out, fmt.Errorf("persist %s checked batch: %w", dt, err)
		}
		out = append(out, Batch{Strategy: Checked, Size: len(recs), Violation: true})
		log.Debug("checked batch violated a constraint", "size", len(recs), "error", err)
	}

	fallbacksTotal.WithLabelValues(string(dt), string(PerRecord)).Inc()
	b := Batch{Strategy: PerRecord, Size: len(recs)}
	for _, r := range recs {
		var dup bool
		err := run(ctx, func(tx *store.Tx) error {
			var err error
			dup, err = storeOne(ctx, tx, r, overwrite)
			return err
		})
		switch {
		case err == nil && dup:
			b.Duplicates++
			log.Debug("duplicate record", "key", keyString(r), "id", r.ID)
		case err == nil:
			b.Persisted++
		case store.IsUniqueViolation(err):
			r.ID = 0
			b.Duplicates++
			log.Debug("duplicate record", "key", keyString(r))
		case store.IsConstraintViolation(err):
			r.ID = 0
			b.Failed++
			log.Error("record dropped", "key", keyString(r), "error", err)
		default:
			return append(out, b), fmt.Errorf("persist %s record: %w", dt, err)
		}
	}
	return append(out, b), nil
}

func insertAll(ctx context.Context, tx *store.Tx, recs []*deck.Record) error {
	for _, r := range recs {
		if _, err := tx.InsertRecord(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// storeOne writes r after a natural-key lookup. An existing row is
// overwritten when overwrite is set and reported as a duplicate otherwise.
func storeOne(ctx context.Context, tx *store.Tx, r *deck.Record, overwrite bool) (bool, error) {
	id, found, err := tx.FindByNaturalKey(ctx, r)
	if err != nil {
		return false, err
	}
	if found {
		r.ID = id
		if !overwrite {
			return true, nil
		}
		_, err := tx.UpdateRecord(ctx, r)
		return false, err
	}
	_, err = tx.InsertRecord(ctx, r)
	return false, err
}

// homogeneous drops nil entries and checks that the rest share a valid deck
// type and a fully specified storm.
func homogeneous(records []*deck.Record) ([]*deck.Record, error) {
	out := make([]*deck.Record, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}

	first := out[0]
	if !first.Deck.Valid() {
		return nil, &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", first.Deck)}
	}
	storm := first.Storm()
	if err := storm.Validate(); err != nil {
		return nil, err
	}
	for i, r := range out[1:] {
		if r.Deck != first.Deck || r.Storm() != storm {
			return nil, &deck.Error{
				Code: deck.CodeMixedRecords,
				Message: fmt.Sprintf("record %d is %s %s, expected %s %s",
					i+1, r.Deck, r.Storm(), first.Deck, storm),
			}
		}
	}
	return out, nil
}

func resetIDs(recs []*deck.Record) {
	for _, r := range recs {
		r.ID = 0
	}
}

func keyString(r *deck.Record) string {
	key := r.NaturalKey()
	parts := make([]string, len(key))
	for i, k := range key {
		v := k.Value
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format("2006010215")
		}
		parts[i] = fmt.Sprintf("%s=%v", k.Column, v)
	}
	return strings.Join(parts, " ")
}

func observe(dt deck.Type, res *Result) {
	recordsTotal.WithLabelValues(string(dt), "persisted").Add(float64(res.Persisted))
	recordsTotal.WithLabelValues(string(dt), "duplicate").Add(float64(res.Duplicates))
	recordsTotal.WithLabelValues(string(dt), "failed").Add(float64(res.Failed))
}
