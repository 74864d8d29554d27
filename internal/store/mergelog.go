package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/deckstore/internal/deck"
)

const selectMergeLogColumns = `id, deck, basin, year, cyclone_num, sandbox_id, begin_dtg, end_dtg,
	end_record_id, base_max_record_id, new_end_record_id, revision, merge_time, invalidated`

// InsertMergeLog appends a merge log entry and sets l.ID.
func (t *Tx) InsertMergeLog(ctx context.Context, l *deck.MergeLog) (int64, error) {
	invalidated, err := marshalIDs(l.Invalidated)
	if err != nil {
		return 0, fmt.Errorf("insert merge log: %w", err)
	}
	var id int64
	err = t.queryRow(ctx, `
		INSERT INTO deck_merge_log
		(deck, basin, year, cyclone_num, sandbox_id, begin_dtg, end_dtg,
		 end_record_id, base_max_record_id, new_end_record_id, revision, merge_time, invalidated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		string(l.Deck), l.Storm.Basin, l.Storm.Year, l.Storm.CycloneNum, l.SandboxID,
		dtgOrNil(l.BeginDTG), dtgOrNil(l.EndDTG),
		l.EndRecordID, l.BaseMaxRecordID, l.NewEndRecordID, l.Revision, toStamp(l.MergeTime), invalidated,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert merge log: %w", err)
	}
	l.ID = id
	return id, nil
}

// GetMergeLog reads one merge log entry. A missing entry is a
// MERGE_LOG_NOT_FOUND domain error.
func (t *Tx) GetMergeLog(ctx context.Context, id int64) (*deck.MergeLog, error) {
	l, err := scanMergeLog(t.queryRow(ctx, "SELECT "+selectMergeLogColumns+" FROM deck_merge_log WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, &deck.Error{Code: deck.CodeMergeLogNotFound, Message: fmt.Sprintf("merge log %d does not exist", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("get merge log %d: %w", id, err)
	}
	return l, nil
}

// ListMergeLogs returns the storm's merge log, newest first.
// Returns an empty slice (not nil) if there is none.
func (t *Tx) ListMergeLogs(ctx context.Context, dt deck.Type, storm deck.Storm) ([]*deck.MergeLog, error) {
	rows, err := t.query(ctx, `
		SELECT `+selectMergeLogColumns+` FROM deck_merge_log
		WHERE deck = ? AND basin = ? AND year = ? AND cyclone_num = ?
		ORDER BY id DESC
	`, string(dt), storm.Basin, storm.Year, storm.CycloneNum)
	if err != nil {
		return nil, fmt.Errorf("list merge logs: %w", err)
	}
	defer rows.Close()

	out := []*deck.MergeLog{}
	for rows.Next() {
		l, err := scanMergeLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan merge log: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate merge logs: %w", err)
	}
	return out, nil
}

// DeleteMergeLog removes one merge log entry.
func (t *Tx) DeleteMergeLog(ctx context.Context, id int64) error {
	if _, err := t.exec(ctx, "DELETE FROM deck_merge_log WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete merge log %d: %w", id, err)
	}
	return nil
}

// PruneMergeLogs keeps the newest keep entries for the storm and deletes the
// rest, returning the deleted entries so their backups can be dropped.
func (t *Tx) PruneMergeLogs(ctx context.Context, dt deck.Type, storm deck.Storm, keep int) ([]*deck.MergeLog, error) {
	logs, err := t.ListMergeLogs(ctx, dt, storm)
	if err != nil {
		return nil, err
	}
	if len(logs) <= keep {
		return []*deck.MergeLog{}, nil
	}
	pruned := logs[keep:]
	for _, l := range pruned {
		if err := t.DeleteMergeLog(ctx, l.ID); err != nil {
			return nil, err
		}
	}
	return pruned, nil
}

func scanMergeLog(sc scanner) (*deck.MergeLog, error) {
	var (
		l           deck.MergeLog
		dt          string
		begin, end  sql.NullInt64
		mergeTime   int64
		invalidated string
	)
	err := sc.Scan(&l.ID, &dt, &l.Storm.Basin, &l.Storm.Year, &l.Storm.CycloneNum, &l.SandboxID,
		&begin, &end, &l.EndRecordID, &l.BaseMaxRecordID, &l.NewEndRecordID, &l.Revision, &mergeTime, &invalidated)
	if err != nil {
		return nil, err
	}
	ids, err := unmarshalIDs(invalidated)
	if err != nil {
		return nil, err
	}
	l.Deck = deck.Type(dt)
	l.BeginDTG = nullDTG(begin)
	l.EndDTG = nullDTG(end)
	l.MergeTime = fromStamp(mergeTime)
	l.Invalidated = ids
	return &l, nil
}

// MergeLogs reads the storm's merge log in its own transaction.
func (s *Store) MergeLogs(ctx context.Context, dt deck.Type, storm deck.Storm) ([]*deck.MergeLog, error) {
	var out []*deck.MergeLog
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.ListMergeLogs(ctx, dt, storm)
		return err
	})
	return out, err
}
