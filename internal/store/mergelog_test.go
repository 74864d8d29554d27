package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/testutil"
)

func TestMergeLog_InsertGetList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	begin, end := testutil.DTG(1), testutil.DTG(3)

	log := &deck.MergeLog{
		Deck:            deck.A,
		Storm:           testutil.AL09,
		SandboxID:       12,
		BeginDTG:        &begin,
		EndDTG:          &end,
		EndRecordID:     40,
		BaseMaxRecordID: 50,
		NewEndRecordID:  75,
		Revision:        4,
		MergeTime:       testutil.Epoch.Add(time.Minute),
		Invalidated:     []int64{3, 5},
	}

	inTx(t, s, func(tx *Tx) {
		id, err := tx.InsertMergeLog(ctx, log)
		require.NoError(t, err)
		require.Positive(t, id)

		got, err := tx.GetMergeLog(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, log, got)

		noOverlap := &deck.MergeLog{Deck: deck.A, Storm: testutil.AL09, SandboxID: deck.NoSandbox, MergeTime: testutil.Epoch}
		_, err = tx.InsertMergeLog(ctx, noOverlap)
		require.NoError(t, err)

		logs, err := tx.ListMergeLogs(ctx, deck.A, testutil.AL09)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, noOverlap.ID, logs[0].ID, "newest first")
		assert.Nil(t, logs[0].BeginDTG)
		assert.Nil(t, logs[0].Invalidated)

		_, err = tx.GetMergeLog(ctx, 999)
		assert.True(t, deck.IsCode(err, deck.CodeMergeLogNotFound))
	})
}

func TestPruneMergeLogs_KeepsNewest(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	inTx(t, s, func(tx *Tx) {
		var ids []int64
		for i := 0; i < 5; i++ {
			l := &deck.MergeLog{Deck: deck.A, Storm: testutil.AL09, SandboxID: int64(100 + i), MergeTime: testutil.Epoch}
			_, err := tx.InsertMergeLog(ctx, l)
			require.NoError(t, err)
			ids = append(ids, l.ID)
		}

		pruned, err := tx.PruneMergeLogs(ctx, deck.A, testutil.AL09, 3)
		require.NoError(t, err)
		require.Len(t, pruned, 2)
		assert.Equal(t, ids[1], pruned[0].ID)
		assert.Equal(t, ids[0], pruned[1].ID)

		left, err := tx.ListMergeLogs(ctx, deck.A, testutil.AL09)
		require.NoError(t, err)
		require.Len(t, left, 3)
		assert.Equal(t, ids[4], left[0].ID)

		pruned, err = tx.PruneMergeLogs(ctx, deck.A, testutil.AL09, 3)
		require.NoError(t, err)
		assert.Empty(t, pruned)
	})
}
