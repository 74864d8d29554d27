package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/testutil"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// inTx runs fn in a transaction and fails the test on error.
func inTx(t *testing.T, s *Store, fn func(tx *Tx)) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(tx *Tx) error {
		fn(tx)
		return nil
	}))
}

// seedRecords inserts records into the baseline and returns them with ids set.
func seedRecords(t *testing.T, s *Store, records []*deck.Record) []*deck.Record {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx *Tx) error {
		for _, r := range records {
			if _, err := tx.InsertRecord(ctx, r); err != nil {
				return err
			}
		}
		return nil
	}))
	return records
}

// createTestSandbox registers an empty checkout sandbox for the storm.
func createTestSandbox(t *testing.T, s *Store, dt deck.Type, storm deck.Storm) *deck.Sandbox {
	t.Helper()
	now := testutil.Epoch
	sb := &deck.Sandbox{
		Deck:        dt,
		Storm:       storm,
		Type:        deck.Checkout,
		UserID:      "forecaster",
		CreatedAt:   now,
		LastUpdated: now,
	}
	inTx(t, s, func(tx *Tx) {
		_, err := tx.CreateSandbox(context.Background(), sb)
		require.NoError(t, err)
	})
	return sb
}
