package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

func newTestEngine(t *testing.T, opts Options) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(s, opts), s
}

func TestPersist_IdempotentReingest(t *testing.T) {
	e, s := newTestEngine(t, Options{})
	ctx := context.Background()
	recs := testutil.Grid(deck.A, testutil.AL09, 5, 10, 10)
	require.Len(t, recs, 500)

	res, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 500, res.Persisted)
	assert.Zero(t, res.Duplicates)
	assert.Zero(t, res.Failed)
	before, err := s.Fingerprint(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)

	res, err = e.Persist(ctx, testutil.Clone(recs), false)
	require.NoError(t, err)
	assert.Zero(t, res.Persisted)
	assert.Equal(t, 500, res.Duplicates)

	after, err := s.Fingerprint(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPersist_OverwriteUpdatesInPlace(t *testing.T) {
	e, s := newTestEngine(t, Options{})
	ctx := context.Background()
	recs := testutil.Grid(deck.A, testutil.AL09, 5, 10, 10)

	_, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)

	again := testutil.Clone(recs)
	for _, r := range again {
		r.WindMax += 5
	}
	res, err := e.Persist(ctx, again, true)
	require.NoError(t, err)
	assert.Equal(t, 500, res.Persisted)
	assert.Zero(t, res.Duplicates)

	stored, err := s.Records(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)
	require.Len(t, stored, 500)
	for i, r := range stored {
		assert.Equal(t, recs[i].ID, r.ID, "ids are kept")
		assert.Equal(t, recs[i].WindMax+5, r.WindMax)
	}
	assert.Equal(t, recs[0].ID, again[0].ID, "overwritten records carry the existing id")
}

func TestPersist_BatchAdaptation(t *testing.T) {
	e, _ := newTestEngine(t, Options{MinBatch: 2, MaxBatch: 8})
	ctx := context.Background()
	recs := testutil.Grid(deck.A, testutil.AL09, 4, 3, 2)
	require.Len(t, recs, 24)

	_, err := e.Persist(ctx, []*deck.Record{recs[0].Clone()}, false)
	require.NoError(t, err)

	res, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 23, res.Persisted)
	assert.Equal(t, 1, res.Duplicates)

	assert.Equal(t, []Batch{
		{Strategy: Fast, Size: 8, Violation: true},
		{Strategy: Checked, Size: 2, Persisted: 1, Duplicates: 1},
		{Strategy: Fast, Size: 4, Persisted: 4},
		{Strategy: Fast, Size: 4, Persisted: 4},
		{Strategy: Fast, Size: 8, Persisted: 8},
		{Strategy: Fast, Size: 6, Persisted: 6},
	}, res.Batches)
}

func TestPersist_DuplicatesInsideInput(t *testing.T) {
	e, s := newTestEngine(t, Options{MinBatch: 4, MaxBatch: 16})
	ctx := context.Background()
	recs := testutil.Grid(deck.B, testutil.AL09, 3, 1, 1)
	recs = append(recs, recs[1].Clone())

	res, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Persisted)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, recs[1].ID, recs[3].ID)

	stored, err := s.Records(ctx, deck.B, testutil.AL09)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestPersist_PerRecordDropsBadRecords(t *testing.T) {
	e, s := newTestEngine(t, Options{MinBatch: 4, MaxBatch: 4})
	ctx := context.Background()
	recs := testutil.Grid(deck.A, testutil.AL09, 2, 2, 2)
	recs[2].Lat = 95

	res, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Persisted)
	assert.Zero(t, res.Duplicates)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, recs[2].ID)

	assert.Equal(t, []Batch{
		{Strategy: Fast, Size: 4, Violation: true},
		{Strategy: Checked, Size: 4, Violation: true},
		{Strategy: PerRecord, Size: 4, Persisted: 3, Failed: 1},
		{Strategy: Fast, Size: 4, Persisted: 4},
	}, res.Batches)

	stored, err := s.Records(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)
	assert.Len(t, stored, 7)
}

func TestPersist_NoNaturalKeySkipsChecks(t *testing.T) {
	e, s := newTestEngine(t, Options{MinBatch: 2, MaxBatch: 4})
	ctx := context.Background()
	recs := testutil.Grid(deck.E, testutil.AL09, 2, 1, 2)

	_, err := e.Persist(ctx, recs, false)
	require.NoError(t, err)
	res, err := e.Persist(ctx, testutil.Clone(recs), false)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Persisted, "duplicates cannot be detected without a natural key")
	assert.Zero(t, res.Duplicates)

	bad := testutil.Grid(deck.E, testutil.AL09, 1, 1, 2)
	bad[0].Lon = 500
	res, err = e.Persist(ctx, bad, false)
	require.NoError(t, err)
	assert.Equal(t, []Batch{
		{Strategy: Fast, Size: 2, Violation: true},
		{Strategy: PerRecord, Size: 2, Persisted: 1, Failed: 1},
	}, res.Batches)

	stored, err := s.Records(ctx, deck.E, testutil.AL09)
	require.NoError(t, err)
	assert.Len(t, stored, 9)
}

func TestPersist_Validation(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()

	res, err := e.Persist(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	res, err = e.Persist(ctx, []*deck.Record{nil, nil}, false)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)

	a := testutil.Record(deck.A, testutil.AL09, testutil.DTG(0), "OFCL", 0)
	b := testutil.Record(deck.B, testutil.AL09, testutil.DTG(0), "BEST", 0)
	_, err = e.Persist(ctx, []*deck.Record{a, nil, b}, false)
	assert.True(t, deck.IsCode(err, deck.CodeMixedRecords))

	other := testutil.Record(deck.A, deck.Storm{Basin: "EP", Year: 2021, CycloneNum: 9}, testutil.DTG(0), "OFCL", 0)
	_, err = e.Persist(ctx, []*deck.Record{a, other}, false)
	assert.True(t, deck.IsCode(err, deck.CodeMixedRecords))

	unknown := a.Clone()
	unknown.Deck = "Z"
	_, err = e.Persist(ctx, []*deck.Record{unknown}, false)
	assert.True(t, deck.IsCode(err, deck.CodeUnknownDeck))

	noBasin := a.Clone()
	noBasin.Basin = ""
	_, err = e.Persist(ctx, []*deck.Record{noBasin}, false)
	assert.True(t, deck.IsCode(err, deck.CodeMissingScope))
}

func TestPersistTx_RollsBackWithCaller(t *testing.T) {
	e, s := newTestEngine(t, Options{MinBatch: 2, MaxBatch: 4})
	ctx := context.Background()
	recs := testutil.Grid(deck.A, testutil.AL09, 2, 2, 2)

	_, err := e.Persist(ctx, recs[:1], false)
	require.NoError(t, err)

	var res Result
	err = s.InTx(ctx, func(tx *store.Tx) error {
		var err error
		res, err = e.PersistTx(ctx, tx, testutil.Clone(recs), false)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 7, res.Persisted)
	assert.Equal(t, 1, res.Duplicates)

	stored, err := s.Records(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	err = s.InTx(ctx, func(tx *store.Tx) error {
		_, err := e.PersistTx(ctx, tx, testutil.Clone(recs), false)
		return err
	})
	require.NoError(t, err)
	stored, err = s.Records(ctx, deck.A, testutil.AL09)
	require.NoError(t, err)
	assert.Len(t, stored, 8)
}

func TestNew_Defaults(t *testing.T) {
	e := New(nil, Options{})
	assert.Equal(t, DefaultMinBatch, e.min)
	assert.Equal(t, DefaultMaxBatch, e.max)
	assert.NotNil(t, e.logger)

	e = New(nil, Options{MinBatch: 50, MaxBatch: 10})
	assert.Equal(t, 50, e.max)
}
