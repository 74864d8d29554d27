package sandbox

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

type fixture struct {
	m     *Manager
	s     *store.Store
	clock *testutil.DeterministicClock
	base  []*deck.Record
}

// newFixture opens a store seeded with a 3 DTG x 2 technique A-deck for AL09.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := testutil.Grid(deck.A, testutil.AL09, 3, 2, 1)
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx *store.Tx) error {
		for _, r := range base {
			if _, err := tx.InsertRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))

	clock := testutil.NewDeterministicClock()
	m := New(s, Options{Clock: clock, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	return &fixture{m: m, s: s, clock: clock, base: base}
}

func (f *fixture) checkout(t *testing.T) int64 {
	t.Helper()
	id, err := f.m.Checkout(context.Background(), CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb"})
	require.NoError(t, err)
	return id
}

func TestCheckout_CopiesBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.checkout(t)
	sb, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deck.Checkout, sb.Type)
	assert.Equal(t, deck.Valid, sb.Validity)
	assert.Equal(t, "ADECK", sb.ScopeCode)
	assert.Equal(t, "jb", sb.UserID)
	assert.Zero(t, sb.BaseRevision)

	recs, err := f.m.Records(ctx, id, false)
	require.NoError(t, err)
	require.Len(t, recs, len(f.base))
	for i, r := range recs {
		assert.Equal(t, deck.Unchanged, r.Change)
		assert.Equal(t, *f.base[i], r.Record)
	}

	changed, err := f.m.ListChanged(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestCheckout_SafeModeAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.Checkout(ctx, CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb", Type: deck.SafeMode})
	require.NoError(t, err)
	sb, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deck.SafeMode, sb.Type)
	assert.Equal(t, deck.SafeModeValid, sb.Validity)

	_, err = f.m.Checkout(ctx, CheckoutRequest{Deck: "Q", Storm: testutil.AL09, User: "jb"})
	assert.True(t, deck.IsCode(err, deck.CodeUnknownDeck))

	_, err = f.m.Checkout(ctx, CheckoutRequest{Deck: deck.A, Storm: deck.Storm{Year: 2021}, User: "jb"})
	assert.True(t, deck.IsCode(err, deck.CodeMissingScope))

	_, err = f.m.Checkout(ctx, CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb", Type: deck.Backup})
	assert.Error(t, err)
}

func TestCheckoutDTG_ReusesSandbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb"}

	id, err := f.m.CheckoutDTG(ctx, 0, req, testutil.DTG(1))
	require.NoError(t, err)
	recs, err := f.m.Records(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	again, err := f.m.CheckoutDTG(ctx, id, req, testutil.DTG(1))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	_, err = f.m.CheckoutDTG(ctx, id, req, testutil.DTG(2))
	require.NoError(t, err)

	recs, err = f.m.Records(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, recs, 4, "no duplicate rows for a DTG already held")

	_, err = f.m.CheckoutDTG(ctx, 0, CheckoutRequest{Deck: deck.B, Storm: testutil.AL09, User: "jb"}, testutil.DTG(1))
	assert.True(t, deck.IsCode(err, deck.CodeWrongDeck))

	other := deck.Storm{Basin: "EP", Year: 2021, CycloneNum: 9}
	_, err = f.m.CheckoutDTG(ctx, id, CheckoutRequest{Deck: deck.A, Storm: other, User: "jb"}, testutil.DTG(1))
	assert.True(t, deck.IsCode(err, deck.CodeWrongDeck))
}

func TestCreateForecastTrack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.m.CreateForecastTrack(ctx, CheckoutRequest{Storm: testutil.AL09, User: "jb"})
	require.NoError(t, err)
	sb, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deck.ForecastTrack, sb.Deck)
	assert.Equal(t, "FST", sb.ScopeCode)

	recs, err := f.m.Records(ctx, id, true)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	require.NoError(t, f.m.Discard(ctx, id))
	_, err := f.m.Get(ctx, id)
	assert.ErrorIs(t, err, deck.ErrSandboxNotFound)

	err = f.m.Discard(ctx, id)
	assert.ErrorIs(t, err, deck.ErrSandboxNotFound)
}

func TestInvalidateAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	require.NoError(t, f.m.Invalidate(ctx, id))
	sb, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deck.Invalid, sb.Validity)

	_, err = f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(5), "OFCL", 0))
	assert.ErrorIs(t, err, deck.ErrSandboxInvalid)

	require.NoError(t, f.m.Validate(ctx, id))
	sb, err = f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, deck.Valid, sb.Validity)
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := f.checkout(t)
	submitted := f.checkout(t)
	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		rev, err := tx.BumpRevision(ctx, deck.A, testutil.AL09)
		if err != nil {
			return err
		}
		return tx.MarkSubmitted(ctx, submitted, f.clock.Now(), rev)
	}))

	f.clock.Advance(48 * time.Hour)
	fresh := f.checkout(t)

	ids, err := f.m.PurgeSubmitted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, ids, "the stale sandbox predates the submission")

	ids, err = f.m.PurgeIdle(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{stale}, ids)

	ids, err = f.m.PurgeSubmitted(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []int64{submitted}, ids)

	left, err := f.m.List(ctx, store.SandboxFilter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh, left[0].ID)
}

func TestCheckoutDTG_RefusesSandboxBehindBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb"}

	id, err := f.m.CheckoutDTG(ctx, 0, req, testutil.DTG(0))
	require.NoError(t, err)
	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.BumpRevision(ctx, deck.A, testutil.AL09)
		return err
	}))

	_, err = f.m.CheckoutDTG(ctx, id, req, testutil.DTG(1))
	assert.True(t, deck.IsCode(err, deck.CodeStaleRecord))
	recs, err := f.m.Records(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "nothing copied")

	fresh, err := f.m.CheckoutDTG(ctx, 0, req, testutil.DTG(1))
	require.NoError(t, err)
	sb, err := f.m.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sb.BaseRevision)
}
