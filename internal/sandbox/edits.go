package sandbox

import (
	"context"
	"fmt"

	"github.com/roach88/deckstore/internal/deck"
	"github.com/roach88/deckstore/internal/store"
)

// edit runs fn against an editable sandbox, checks that rec belongs to it and
// touches last_updated afterwards.
func (m *Manager) edit(ctx context.Context, id int64, op string, rec *deck.Record, fn func(tx *store.Tx, sb *deck.Sandbox) error) error {
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := LoadEditable(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec != nil && (rec.Deck != sb.Deck || rec.Storm() != sb.Storm) {
			return &deck.Error{
				Code:      deck.CodeWrongDeck,
				Message:   fmt.Sprintf("record is %s %s, sandbox holds %s %s", rec.Deck, rec.Storm(), sb.Deck, sb.Storm),
				SandboxID: id,
				RecordID:  rec.ID,
			}
		}
		if err := fn(tx, sb); err != nil {
			return err
		}
		return tx.TouchSandbox(ctx, id, m.clock.Now())
	})
	if err != nil {
		return fmt.Errorf("%s in sandbox %d: %w", op, id, err)
	}
	editsTotal.WithLabelValues(op).Inc()
	return nil
}

// AddNew adds rec to the sandbox as a NEW record under a provisional id and
// returns that id. Check-in replaces it with a real baseline id.
func (m *Manager) AddNew(ctx context.Context, id int64, rec *deck.Record) (int64, error) {
	var recordID int64
	err := m.edit(ctx, id, "add", rec, func(tx *store.Tx, sb *deck.Sandbox) error {
		var err error
		recordID, err = tx.NextProvisionalID(ctx, sb.Deck, sb.ID)
		if err != nil {
			return err
		}
		return put(ctx, tx, sb.ID, rec, recordID, deck.New)
	})
	return recordID, err
}

// Modify writes rec's values into the sandbox. rec.ID names the record; with
// EditNew and a zero id a provisional id is allocated. Returns the record id.
//
// Transitions: UNCHANGED, MODIFIED or absent become MODIFIED, NEW stays NEW
// and EditNew forces NEW. Modifying a DELETED record fails with
// MODIFY_DELETED and changes nothing.
func (m *Manager) Modify(ctx context.Context, id int64, rec *deck.Record, kind deck.EditKind) (int64, error) {
	recordID := rec.ID
	err := m.edit(ctx, id, "modify", rec, func(tx *store.Tx, sb *deck.Sandbox) error {
		if recordID == 0 {
			if kind != deck.EditNew {
				return &deck.Error{Code: deck.CodeStaleRecord, Message: "modify needs a record id", SandboxID: id}
			}
			var err error
			if recordID, err = tx.NextProvisionalID(ctx, sb.Deck, sb.ID); err != nil {
				return err
			}
		}
		cur, err := tx.GetSandboxRecord(ctx, sb.Deck, sb.ID, recordID)
		if err != nil {
			return err
		}
		change, err := nextOnModify(cur, kind)
		if err != nil {
			return &deck.Error{Code: deck.CodeModifyDeleted, Message: "cannot modify a deleted record", SandboxID: id, RecordID: recordID}
		}
		if cur == nil && change == deck.Modified {
			if err := inBaseline(ctx, tx, sb, recordID); err != nil {
				return err
			}
		}
		return put(ctx, tx, sb.ID, rec, recordID, change)
	})
	return recordID, err
}

// MarkDeleted marks rec deleted in the sandbox. A NEW record is removed
// outright since the baseline never saw it.
func (m *Manager) MarkDeleted(ctx context.Context, id int64, rec *deck.Record) error {
	return m.edit(ctx, id, "delete", rec, func(tx *store.Tx, sb *deck.Sandbox) error {
		cur, err := tx.GetSandboxRecord(ctx, sb.Deck, sb.ID, rec.ID)
		if err != nil {
			return err
		}
		switch {
		case cur == nil:
			if err := inBaseline(ctx, tx, sb, rec.ID); err != nil {
				return err
			}
			return put(ctx, tx, sb.ID, rec, rec.ID, deck.Deleted)
		case cur.Change == deck.New:
			return tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, rec.ID)
		case cur.Change == deck.Deleted:
			return nil
		}
		cur.Change = deck.Deleted
		return tx.UpsertSandboxRecord(ctx, cur)
	})
}

// Undo reverts the sandbox's edit of one record. NEW records disappear;
// MODIFIED and DELETED records return to their baseline values as UNCHANGED,
// or disappear when the baseline row no longer exists. Undoing an unedited
// record is a no-op.
func (m *Manager) Undo(ctx context.Context, id int64, recordID int64) error {
	return m.edit(ctx, id, "undo", nil, func(tx *store.Tx, sb *deck.Sandbox) error {
		cur, err := tx.GetSandboxRecord(ctx, sb.Deck, sb.ID, recordID)
		if err != nil || cur == nil || cur.Change == deck.Unchanged {
			return err
		}
		if cur.Change == deck.New {
			return tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, recordID)
		}
		base, err := tx.GetRecord(ctx, sb.Deck, recordID)
		if err != nil {
			return err
		}
		if base == nil {
			return tx.DeleteSandboxRecord(ctx, sb.Deck, sb.ID, recordID)
		}
		return put(ctx, tx, sb.ID, base, recordID, deck.Unchanged)
	})
}

// inBaseline checks that a record the sandbox does not hold yet is a
// baseline row of the sandbox's storm.
func inBaseline(ctx context.Context, tx *store.Tx, sb *deck.Sandbox, recordID int64) error {
	stale := &deck.Error{Code: deck.CodeStaleRecord, Message: "record is not in the sandbox or the baseline", SandboxID: sb.ID, RecordID: recordID}
	if recordID <= 0 {
		return stale
	}
	base, err := tx.GetRecord(ctx, sb.Deck, recordID)
	if err != nil {
		return err
	}
	if base == nil || base.Storm() != sb.Storm {
		return stale
	}
	return nil
}

// nextOnModify applies the modify transition to the record's current state.
func nextOnModify(cur *deck.SandboxRecord, kind deck.EditKind) (deck.ChangeCode, error) {
	switch {
	case cur != nil && cur.Change == deck.Deleted:
		return 0, deck.ErrModifyDeleted
	case kind == deck.EditNew:
		return deck.New, nil
	case cur != nil && cur.Change == deck.New:
		return deck.New, nil
	}
	return deck.Modified, nil
}

func put(ctx context.Context, tx *store.Tx, sandboxID int64, rec *deck.Record, recordID int64, change deck.ChangeCode) error {
	sr := &deck.SandboxRecord{Record: *rec.Clone(), SandboxID: sandboxID, Change: change}
	sr.ID = recordID
	return tx.UpsertSandboxRecord(ctx, sr)
}

// ListChanged returns the sandbox's edited records keyed by record id.
func (m *Manager) ListChanged(ctx context.Context, id int64) (map[int64]deck.ChangedRecord, error) {
	out := map[int64]deck.ChangedRecord{}
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
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
			out[sr.ID] = deck.ChangedRecord{Change: sr.Change, Record: &rec}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list changes in sandbox %d: %w", id, err)
	}
	return out, nil
}

// Records returns the sandbox's view of its deck ordered by id. DELETED rows
// are left out unless includeDeleted is set.
func (m *Manager) Records(ctx context.Context, id int64, includeDeleted bool, conds ...store.Cond) ([]*deck.SandboxRecord, error) {
	var out []*deck.SandboxRecord
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		out, err = tx.ListSandboxRecords(ctx, sb.Deck, id, store.SandboxRecordQuery{
			ExcludeDeleted: !includeDeleted,
			Conds:          conds,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read sandbox %d: %w", id, err)
	}
	return out, nil
}

// ChangeCodes returns the change code of each requested record the sandbox
// holds. A nil recordIDs asks for every record; changedOnly drops UNCHANGED.
func (m *Manager) ChangeCodes(ctx context.Context, id int64, recordIDs []int64, changedOnly bool) (map[int64]deck.ChangeCode, error) {
	out := map[int64]deck.ChangeCode{}
	err := m.store.InTx(ctx, func(tx *store.Tx) error {
		sb, err := tx.GetSandbox(ctx, id)
		if err != nil {
			return err
		}
		rows, err := tx.ListSandboxRecords(ctx, sb.Deck, id, store.SandboxRecordQuery{ChangedOnly: changedOnly, IDs: recordIDs})
		if err != nil {
			return err
		}
		for _, sr := range rows {
			out[sr.ID] = sr.Change
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("change codes in sandbox %d: %w", id, err)
	}
	return out, nil
}
