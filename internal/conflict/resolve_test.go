package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

func (f *fixture) view(t *testing.T, id int64) map[int64]*deck.SandboxRecord {
	t.Helper()
	recs, err := f.sbm.Records(context.Background(), id, true)
	require.NoError(t, err)
	out := map[int64]*deck.SandboxRecord{}
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func TestResolve_RequiresEveryDecision(t *testing.T) {
	f := newFixture(t, deck.A)
	ctx := context.Background()
	first := f.checkout(t, deck.A)
	second := f.checkout(t, deck.A)
	f.modify(t, first, f.base[0], 60)
	f.modify(t, first, f.base[1], 61)
	f.submit(t, first)
	f.modify(t, second, f.base[0], 70)
	f.modify(t, second, f.base[1], 71)

	before := f.view(t, second)
	_, err := f.r.Resolve(ctx, second, map[int64]Decision{
		f.base[0].ID: {Choice: UseSandbox},
		f.base[1].ID: {Choice: Merged},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, deck.ErrUnresolvedConflicts)
	assert.Contains(t, err.Error(), "2")
	assert.Equal(t, before, f.view(t, second))

	sb, err := f.sbm.Get(ctx, second)
	require.NoError(t, err)
	assert.Zero(t, sb.BaseRevision)
}

func TestResolve_AppliesDecisionsAndFolds(t *testing.T) {
	f := newFixture(t, deck.A)
	ctx := context.Background()
	first := f.checkout(t, deck.A)
	second := f.checkout(t, deck.A)

	f.modify(t, first, f.base[0], 60)
	f.modify(t, first, f.base[1], 61)
	f.modify(t, first, f.base[2], 62)
	require.NoError(t, f.sbm.MarkDeleted(ctx, first, f.base[3]))
	_, err := f.sbm.AddNew(ctx, first, testutil.Record(deck.A, testutil.AL09, testutil.DTG(1), "OFCL", 0))
	require.NoError(t, err)
	_, err = f.sbm.AddNew(ctx, first, testutil.Record(deck.A, testutil.AL09, testutil.DTG(7), "OFCL", 0))
	require.NoError(t, err)
	f.submit(t, first)

	f.modify(t, second, f.base[0], 70)
	f.modify(t, second, f.base[1], 71)

	merged := f.base[2].Clone()
	merged.WindMax = 99
	f.modify(t, second, f.base[2], 72)

	set, err := f.r.Resolve(ctx, second, map[int64]Decision{
		f.base[0].ID: {Choice: UseSandbox},
		f.base[1].ID: {Choice: UseBaseline},
		f.base[2].ID: {Choice: Merged, Record: merged},
	})
	require.NoError(t, err)
	assert.Len(t, set.Conflicts, 3)

	view := f.view(t, second)
	assert.Equal(t, deck.Modified, view[f.base[0].ID].Change)
	assert.Equal(t, 70.0, view[f.base[0].ID].WindMax)
	assert.Equal(t, deck.Unchanged, view[f.base[1].ID].Change)
	assert.Equal(t, 61.0, view[f.base[1].ID].WindMax)
	assert.Equal(t, deck.Modified, view[f.base[2].ID].Change)
	assert.Equal(t, 99.0, view[f.base[2].ID].WindMax)
	assert.NotContains(t, view, f.base[3].ID, "baseline delete folded in")

	var newAtDTG1, newAtDTG7 int
	for _, r := range view {
		if r.Technique == "OFCL" && r.RefTime.Equal(testutil.DTG(1)) {
			newAtDTG1++
			assert.Equal(t, deck.Unchanged, r.Change)
			assert.Positive(t, r.ID)
		}
		if r.RefTime.Equal(testutil.DTG(7)) {
			newAtDTG7++
		}
	}
	assert.Equal(t, 1, newAtDTG1, "baseline NEW record at a held DTG folded in")
	assert.Zero(t, newAtDTG7, "A-deck sandboxes do not grow new DTGs")

	sb, err := f.sbm.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sb.BaseRevision)

	again, err := f.r.FindConflicts(ctx, second)
	require.NoError(t, err)
	assert.False(t, again.BaselineMoved())
}

func TestResolve_BaselineDeletedKeepSandbox(t *testing.T) {
	f := newFixture(t, deck.B)
	ctx := context.Background()
	first := f.checkout(t, deck.B)
	second := f.checkout(t, deck.B)

	require.NoError(t, f.sbm.MarkDeleted(ctx, first, f.base[0]))
	require.NoError(t, f.sbm.MarkDeleted(ctx, first, f.base[1]))
	f.submit(t, first)

	f.modify(t, second, f.base[0], 40)
	require.NoError(t, f.sbm.MarkDeleted(ctx, second, f.base[1]))

	_, err := f.r.Resolve(ctx, second, map[int64]Decision{
		f.base[0].ID: {Choice: UseSandbox},
		f.base[1].ID: {Choice: UseSandbox},
	})
	require.NoError(t, err)

	view := f.view(t, second)
	assert.NotContains(t, view, f.base[0].ID)
	assert.NotContains(t, view, f.base[1].ID)

	changed, err := f.sbm.ListChanged(ctx, second)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	for id, c := range changed {
		assert.Negative(t, id)
		assert.Equal(t, deck.New, c.Change)
		assert.Equal(t, 40.0, c.Record.WindMax)
	}
}

func TestResolve_RejectsInvalidSandbox(t *testing.T) {
	f := newFixture(t, deck.A)
	ctx := context.Background()
	id := f.checkout(t, deck.A)
	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		return tx.SetValidity(ctx, id, deck.Invalid, f.clock.Now())
	}))

	_, err := f.r.Resolve(ctx, id, nil)
	assert.ErrorIs(t, err, deck.ErrSandboxInvalid)
}
