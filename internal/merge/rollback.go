package merge

import (
	"context"
	"fmt"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

// Rollback undoes the latest bulk merge of a storm's deck: the rows it
// inserted are deleted, the rows it replaced come back with their original
// ids from the backup sandbox, and sandboxes based on the merged baseline
// or a later one are invalidated. Returns the invalidated sandbox ids.
func (e *Engine) Rollback(ctx context.Context, dt deck.Type, mergeLogID int64) ([]int64, error) {
	now := e.clock.Now()
	var (
		l        *deck.MergeLog
		ids      []int64
		restored int
		removed  int64
	)
	err := e.store.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if l, err = tx.GetMergeLog(ctx, mergeLogID); err != nil {
			return err
		}
		if l.Deck != dt {
			return &deck.Error{Code: deck.CodeWrongDeck, Message: fmt.Sprintf("merge log %d is for deck %s, not %s", l.ID, l.Deck, dt)}
		}
		logs, err := tx.ListMergeLogs(ctx, l.Deck, l.Storm)
		if err != nil {
			return err
		}
		if len(logs) == 0 || logs[0].ID != l.ID {
			return &deck.Error{Code: deck.CodeRollbackNotLatest, Message: fmt.Sprintf("merge log %d is not the latest for %s", l.ID, l.Storm)}
		}

		var backup []*deck.SandboxRecord
		if l.SandboxID != deck.NoSandbox {
			if backup, err = backupRows(ctx, tx, l); err != nil {
				return err
			}
		}
		if removed, err = tx.DeleteRecords(ctx, l.Deck, l.Storm,
			store.Gt("id", l.BaseMaxRecordID), store.Le("id", l.NewEndRecordID)); err != nil {
			return err
		}
		for _, row := range backup {
			if err := tx.InsertRecordWithID(ctx, &row.Record); err != nil {
				return err
			}
		}
		restored = len(backup)

		since, err := tx.SandboxesBasedOnOrAfter(ctx, l.Deck, l.Storm, l.Revision)
		if err != nil {
			return err
		}
		for _, sb := range since {
			ids = append(ids, sb.ID)
		}
		if err := e.invalidate(ctx, tx, ids, now); err != nil {
			return err
		}
		if err := tx.DeleteMergeLog(ctx, l.ID); err != nil {
			return err
		}
		if err := dropBackup(ctx, tx, l); err != nil {
			return err
		}
		_, err = tx.BumpRevision(ctx, l.Deck, l.Storm)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rollback merge %d: %w", mergeLogID, err)
	}

	mergesTotal.WithLabelValues(string(dt), "rollback").Inc()
	invalidatedTotal.WithLabelValues(string(dt)).Add(float64(len(ids)))
	if len(ids) > 0 {
		conflicts := make([]deck.ConflictSandbox, len(ids))
		for i, id := range ids {
			conflicts[i] = deck.ConflictSandbox{SandboxID: id}
		}
		e.notifier.Notify(ctx, deck.NewNotification(now, l.Deck, l.Storm, deck.NoSandbox, deck.NotifyUser, conflicts))
	}
	e.logger.Info("merge rolled back",
		"merge_log_id", l.ID,
		"deck", string(l.Deck),
		"storm", l.Storm.String(),
		"removed", removed,
		"restored", restored,
		"invalidated", len(ids),
	)
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

// backupRows loads the rows saved by l's merge. The backup sandbox must
// still exist.
func backupRows(ctx context.Context, tx *store.Tx, l *deck.MergeLog) ([]*deck.SandboxRecord, error) {
	missing := &deck.Error{
		Code:      deck.CodeBackupMissing,
		Message:   fmt.Sprintf("merge log %d has no backup sandbox", l.ID),
		SandboxID: l.SandboxID,
	}
	sb, err := tx.GetSandbox(ctx, l.SandboxID)
	if deck.IsCode(err, deck.CodeSandboxNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	if sb.Type != deck.Backup {
		return nil, missing
	}
	return tx.ListSandboxRecords(ctx, l.Deck, sb.ID, store.SandboxRecordQuery{})
}
