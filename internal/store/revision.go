package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/deckstore/internal/deck"
)

// Revision returns the storm's current baseline revision, 0 if it has never
// changed through a sandbox or merge operation.
func (t *Tx) Revision(ctx context.Context, dt deck.Type, storm deck.Storm) (int64, error) {
	var rev int64
	err := t.queryRow(ctx, `
		SELECT revision FROM deck_revision
		WHERE deck = ? AND basin = ? AND year = ? AND cyclone_num = ?
	`, string(dt), storm.Basin, storm.Year, storm.CycloneNum).Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get revision: %w", err)
	}
	return rev, nil
}

// BumpRevision increments the storm's baseline revision and returns the new value.
func (t *Tx) BumpRevision(ctx context.Context, dt deck.Type, storm deck.Storm) (int64, error) {
	var rev int64
	err := t.queryRow(ctx, `
		INSERT INTO deck_revision (deck, basin, year, cyclone_num, revision)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (deck, basin, year, cyclone_num)
		DO UPDATE SET revision = deck_revision.revision + 1
		RETURNING revision
	`, string(dt), storm.Basin, storm.Year, storm.CycloneNum).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("bump revision: %w", err)
	}
	return rev, nil
}
