package conflict

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/sandbox"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

type fixture struct {
	s     *store.Store
	sbm   *sandbox.Manager
	r     *Resolver
	clock *testutil.DeterministicClock
	base  []*deck.Record
}

func newFixture(t *testing.T, dt deck.Type) *fixture {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	base := testutil.Grid(dt, testutil.AL09, 2, 2, 1)
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
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{
		s:     s,
		sbm:   sandbox.New(s, sandbox.Options{Clock: clock, Logger: logger}),
		r:     NewResolver(s, Options{Clock: clock, Logger: logger}),
		clock: clock,
		base:  base,
	}
}

func (f *fixture) checkout(t *testing.T, dt deck.Type) int64 {
	t.Helper()
	id, err := f.sbm.Checkout(context.Background(), sandbox.CheckoutRequest{Deck: dt, Storm: testutil.AL09, User: "jb"})
	require.NoError(t, err)
	return id
}

func (f *fixture) modify(t *testing.T, id int64, r *deck.Record, wind float64) {
	t.Helper()
	c := r.Clone()
	c.WindMax = wind
	_, err := f.sbm.Modify(context.Background(), id, c, deck.EditExisting)
	require.NoError(t, err)
}

// submit applies the sandbox's changed rows to the baseline the way a
// check-in does and stamps it with a new revision.
func (f *fixture) submit(t *testing.T, id int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		rows, err := tx.ListSandboxRecords(ctx, sb.Deck, id, store.SandboxRecordQuery{ChangedOnly: true})
		if err != nil {
			return err
		}
		for _, sr := range rows {
			rec := sr.Record
			switch sr.Change {
			case deck.New:
				old := rec.ID
				if _, err := tx.InsertRecord(ctx, &rec); err != nil {
					return err
				}
				if err := tx.ReassignSandboxRecordID(ctx, sb.Deck, id, old, rec.ID); err != nil {
					return err
				}
			case deck.Modified:
				if _, err := tx.UpdateRecord(ctx, &rec); err != nil {
					return err
				}
			case deck.Deleted:
				if _, err := tx.DeleteRecord(ctx, sb.Deck, rec.ID); err != nil {
					return err
				}
			}
		}
		rev, err := tx.BumpRevision(ctx, sb.Deck, sb.Storm)
		if err != nil {
			return err
		}
		return tx.MarkSubmitted(ctx, id, f.clock.Now(), rev)
	}))
}

func TestFindConflicts_BaselineUnchanged(t *testing.T) {
	f := newFixture(t, deck.A)
	id := f.checkout(t, deck.A)
	f.modify(t, id, f.base[0], 50)

	set, err := f.r.FindConflicts(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, set.HasConflicts())
	assert.False(t, set.BaselineMoved())
	assert.Equal(t, deck.NoSandbox, set.BaselineSandboxID)
	assert.Equal(t, "ADECK", set.ScopeCode)
}

func TestFindConflicts_IntersectionOnly(t *testing.T) {
	f := newFixture(t, deck.A)
	ctx := context.Background()
	first := f.checkout(t, deck.A)
	second := f.checkout(t, deck.A)

	f.modify(t, first, f.base[0], 60)
	f.modify(t, first, f.base[1], 61)
	require.NoError(t, f.sbm.MarkDeleted(ctx, first, f.base[2]))
	_, err := f.sbm.AddNew(ctx, first, testutil.Record(deck.A, testutil.AL09, testutil.DTG(3), "OFCL", 0))
	require.NoError(t, err)
	f.submit(t, first)

	f.modify(t, second, f.base[0], 70)
	f.modify(t, second, f.base[3], 71)

	set, err := f.r.FindConflicts(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, first, set.BaselineSandboxID)
	assert.Equal(t, map[deck.ChangeCode]int{deck.New: 1, deck.Modified: 2, deck.Deleted: 1}, set.Totals)

	require.Len(t, set.Conflicts, 1)
	p := set.Conflicts[0]
	assert.Equal(t, f.base[0].ID, p.RecordID)
	assert.Equal(t, deck.Modified, p.BaselineChange)
	assert.Equal(t, deck.Modified, p.MergingChange)
	assert.Equal(t, 60.0, p.Baseline.WindMax)
	assert.Equal(t, 70.0, p.Merging.WindMax)
	assert.Equal(t, []string{"wind_max"}, p.Fields)
	assert.Equal(t, first, p.BaselineSandboxID)
}

func TestFindConflicts_LaterSubmissionWins(t *testing.T) {
	f := newFixture(t, deck.B)
	ctx := context.Background()
	mine := f.checkout(t, deck.B)
	a := f.checkout(t, deck.B)
	b := f.checkout(t, deck.B)

	f.modify(t, a, f.base[0], 80)
	f.submit(t, a)
	require.NoError(t, f.sbm.MarkDeleted(ctx, b, f.base[0]))
	f.submit(t, b)

	require.NoError(t, f.sbm.MarkDeleted(ctx, mine, f.base[0]))
	set, err := f.r.FindConflicts(ctx, mine)
	require.NoError(t, err)
	require.Len(t, set.Conflicts, 1)
	assert.Equal(t, deck.Deleted, set.Conflicts[0].BaselineChange)
	assert.Equal(t, b, set.Conflicts[0].BaselineSandboxID)
	assert.Equal(t, b, set.BaselineSandboxID)
	assert.Equal(t, 1, set.Totals[deck.Deleted])
	assert.Zero(t, set.Totals[deck.Modified])
	assert.Empty(t, set.Conflicts[0].Fields, "both sides deleted the same values")
}

func TestFindConflicts_IgnoresSubmissionsAlreadySeen(t *testing.T) {
	f := newFixture(t, deck.A)
	first := f.checkout(t, deck.A)
	f.modify(t, first, f.base[0], 60)
	f.submit(t, first)

	later := f.checkout(t, deck.A)
	f.modify(t, later, f.base[0], 65)

	set, err := f.r.FindConflicts(context.Background(), later)
	require.NoError(t, err)
	assert.False(t, set.HasConflicts())
	assert.False(t, set.BaselineMoved())
}

func TestSummarize(t *testing.T) {
	f := newFixture(t, deck.A)
	ctx := context.Background()
	first := f.checkout(t, deck.A)
	second := f.checkout(t, deck.A)
	f.modify(t, first, f.base[0], 60)
	f.submit(t, first)
	f.modify(t, second, f.base[0], 70)

	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, second)
		if err != nil {
			return err
		}
		set, err := Summarize(ctx, tx, sb)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, set.Totals[deck.Modified])
		assert.Equal(t, first, set.BaselineSandboxID)
		assert.Nil(t, set.Conflicts)
		return nil
	}))
}

func TestFindConflicts_MissingSandbox(t *testing.T) {
	f := newFixture(t, deck.A)
	_, err := f.r.FindConflicts(context.Background(), 77)
	assert.ErrorIs(t, err, deck.ErrSandboxNotFound)
}
