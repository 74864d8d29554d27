package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
	"github.com/roach88/deckstore/internal/testutil"
)

func (f *fixture) code(t *testing.T, id, recordID int64) (deck.ChangeCode, bool) {
	t.Helper()
	codes, err := f.m.ChangeCodes(context.Background(), id, []int64{recordID}, false)
	require.NoError(t, err)
	c, ok := codes[recordID]
	return c, ok
}

func TestAddNew_ProvisionalIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	first, err := f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0))
	require.NoError(t, err)
	second, err := f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 12))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), first)
	assert.Equal(t, int64(-2), second)

	changed, err := f.m.ListChanged(ctx, id)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, deck.New, changed[first].Change)
	assert.Equal(t, 12, changed[second].Record.FcstHour)

	_, err = f.m.AddNew(ctx, id, testutil.Record(deck.B, testutil.AL09, testutil.DTG(4), "BEST", 0))
	assert.True(t, deck.IsCode(err, deck.CodeWrongDeck))
}

func TestModify_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	rec := f.base[0].Clone()
	rec.WindMax = 70
	_, err := f.m.Modify(ctx, id, rec, deck.EditExisting)
	require.NoError(t, err)
	c, _ := f.code(t, id, rec.ID)
	assert.Equal(t, deck.Modified, c)

	rec.WindMax = 75
	_, err = f.m.Modify(ctx, id, rec, deck.EditExisting)
	require.NoError(t, err)
	c, _ = f.code(t, id, rec.ID)
	assert.Equal(t, deck.Modified, c, "MODIFIED stays MODIFIED")

	changed, err := f.m.ListChanged(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 75.0, changed[rec.ID].Record.WindMax)

	newID, err := f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0))
	require.NoError(t, err)
	upd := testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0)
	upd.ID = newID
	upd.MSLP = 990
	_, err = f.m.Modify(ctx, id, upd, deck.EditExisting)
	require.NoError(t, err)
	c, _ = f.code(t, id, newID)
	assert.Equal(t, deck.New, c, "NEW stays NEW")

	forced := f.base[1].Clone()
	_, err = f.m.Modify(ctx, id, forced, deck.EditNew)
	require.NoError(t, err)
	c, _ = f.code(t, id, forced.ID)
	assert.Equal(t, deck.New, c, "EditNew forces NEW")

	fresh := testutil.Record(deck.A, testutil.AL09, testutil.DTG(5), "OFCL", 0)
	freshID, err := f.m.Modify(ctx, id, fresh, deck.EditNew)
	require.NoError(t, err)
	assert.Negative(t, freshID)

	_, err = f.m.Modify(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(5), "OFCL", 0), deck.EditExisting)
	assert.True(t, deck.IsCode(err, deck.CodeStaleRecord))
}

func TestModify_DeletedFailsWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)
	rec := f.base[2].Clone()

	require.NoError(t, f.m.MarkDeleted(ctx, id, rec))
	before, err := f.m.Records(ctx, id, true)
	require.NoError(t, err)
	sbBefore, err := f.m.Get(ctx, id)
	require.NoError(t, err)

	rec.WindMax = 10
	_, err = f.m.Modify(ctx, id, rec, deck.EditExisting)
	require.Error(t, err)
	assert.ErrorIs(t, err, deck.ErrModifyDeleted)
	_, err = f.m.Modify(ctx, id, rec, deck.EditNew)
	assert.ErrorIs(t, err, deck.ErrModifyDeleted)

	after, err := f.m.Records(ctx, id, true)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	sbAfter, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sbBefore.LastUpdated, sbAfter.LastUpdated)
}

func TestMarkDeleted_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	require.NoError(t, f.m.MarkDeleted(ctx, id, f.base[0]))
	c, _ := f.code(t, id, f.base[0].ID)
	assert.Equal(t, deck.Deleted, c)
	require.NoError(t, f.m.MarkDeleted(ctx, id, f.base[0]))
	c, _ = f.code(t, id, f.base[0].ID)
	assert.Equal(t, deck.Deleted, c, "DELETED stays DELETED")

	mod := f.base[1].Clone()
	mod.WindMax = 99
	_, err := f.m.Modify(ctx, id, mod, deck.EditExisting)
	require.NoError(t, err)
	require.NoError(t, f.m.MarkDeleted(ctx, id, mod))
	c, _ = f.code(t, id, mod.ID)
	assert.Equal(t, deck.Deleted, c)

	rec := testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0)
	newID, err := f.m.AddNew(ctx, id, rec)
	require.NoError(t, err)
	rec.ID = newID
	require.NoError(t, f.m.MarkDeleted(ctx, id, rec))
	_, ok := f.code(t, id, newID)
	assert.False(t, ok, "deleting a NEW record removes it")

	visible, err := f.m.Records(ctx, id, false)
	require.NoError(t, err)
	assert.Len(t, visible, len(f.base)-2)
}

func TestUndo_Transitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	mod := f.base[0].Clone()
	mod.WindMax = 120
	_, err := f.m.Modify(ctx, id, mod, deck.EditExisting)
	require.NoError(t, err)
	require.NoError(t, f.m.Undo(ctx, id, mod.ID))

	recs, err := f.m.Records(ctx, id, false, store.Eq("id", mod.ID))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, deck.Unchanged, recs[0].Change)
	assert.Equal(t, f.base[0].WindMax, recs[0].WindMax)

	require.NoError(t, f.m.MarkDeleted(ctx, id, f.base[1]))
	require.NoError(t, f.m.Undo(ctx, id, f.base[1].ID))
	c, _ := f.code(t, id, f.base[1].ID)
	assert.Equal(t, deck.Unchanged, c)

	newID, err := f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0))
	require.NoError(t, err)
	require.NoError(t, f.m.Undo(ctx, id, newID))
	_, ok := f.code(t, id, newID)
	assert.False(t, ok)

	require.NoError(t, f.m.Undo(ctx, id, f.base[2].ID), "undo of UNCHANGED is a no-op")
	require.NoError(t, f.m.Undo(ctx, id, 9999), "undo of an absent record is a no-op")

	changed, err := f.m.ListChanged(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestUndo_BaselineRowGone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	mod := f.base[3].Clone()
	mod.Gust = 80
	_, err := f.m.Modify(ctx, id, mod, deck.EditExisting)
	require.NoError(t, err)

	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.DeleteRecord(ctx, deck.A, mod.ID)
		return err
	}))

	require.NoError(t, f.m.Undo(ctx, id, mod.ID))
	_, ok := f.code(t, id, mod.ID)
	assert.False(t, ok)
}

func TestEdits_TouchLastUpdated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)
	before, err := f.m.Get(ctx, id)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.m.AddNew(ctx, id, testutil.Record(deck.A, testutil.AL09, testutil.DTG(4), "OFCL", 0))
	require.NoError(t, err)

	after, err := f.m.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, after.LastUpdated.After(before.LastUpdated))
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
}

func TestEdits_RejectedOnSubmittedAndBackup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.checkout(t)

	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		return tx.MarkSubmitted(ctx, id, f.clock.Now(), 1)
	}))
	_, err := f.m.Modify(ctx, id, f.base[0], deck.EditExisting)
	assert.ErrorIs(t, err, deck.ErrSandboxSubmitted)

	backup := &deck.Sandbox{Deck: deck.A, Storm: testutil.AL09, Type: deck.Backup, UserID: deck.MergerUser,
		CreatedAt: testutil.Epoch, LastUpdated: testutil.Epoch}
	require.NoError(t, f.s.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.CreateSandbox(ctx, backup)
		return err
	}))
	err = f.m.MarkDeleted(ctx, backup.ID, f.base[0])
	assert.True(t, deck.IsCode(err, deck.CodeSandboxNotEditable))
	err = f.m.Discard(ctx, backup.ID)
	assert.True(t, deck.IsCode(err, deck.CodeSandboxNotEditable))

	_, err = f.m.AddNew(ctx, 4242, f.base[0])
	assert.ErrorIs(t, err, deck.ErrSandboxNotFound)
}

func TestEdits_RecordOutsideSandboxAndBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.m.CheckoutDTG(ctx, 0, CheckoutRequest{Deck: deck.A, Storm: testutil.AL09, User: "jb"}, testutil.DTG(0))
	require.NoError(t, err)

	ghost := f.base[2].Clone()
	ghost.ID = 999
	_, err = f.m.Modify(ctx, id, ghost, deck.EditExisting)
	assert.True(t, deck.IsCode(err, deck.CodeStaleRecord))
	err = f.m.MarkDeleted(ctx, id, ghost)
	assert.True(t, deck.IsCode(err, deck.CodeStaleRecord))
	_, held := f.code(t, id, 999)
	assert.False(t, held)

	// A baseline row the sandbox has not copied can still be edited.
	mod := f.base[2].Clone()
	mod.WindMax = 61
	_, err = f.m.Modify(ctx, id, mod, deck.EditExisting)
	require.NoError(t, err)
	c, _ := f.code(t, id, mod.ID)
	assert.Equal(t, deck.Modified, c)
	require.NoError(t, f.m.MarkDeleted(ctx, id, f.base[3]))
	c, _ = f.code(t, id, f.base[3].ID)
	assert.Equal(t, deck.Deleted, c)
}
