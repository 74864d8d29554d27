package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/deckstore/internal/deck"
)

func sandboxTable(t deck.Type) (string, error) {
	if tbl := t.SandboxTable(); tbl != "" {
		return tbl, nil
	}
	return "", &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", t)}
}

// UpsertSandboxRecord writes sr into its sandbox, replacing any row with the
// same (sandbox_id, id).
func (t *Tx) UpsertSandboxRecord(ctx context.Context, sr *deck.SandboxRecord) error {
	tbl, err := sandboxTable(sr.Deck)
	if err != nil {
		return err
	}
	vals, err := recordValues(&sr.Record)
	if err != nil {
		return fmt.Errorf("upsert sandbox record: %w", err)
	}
	cols := append([]string{"sandbox_id", "id"}, recordColumnNames()...)
	cols = append(cols, "change_cd")
	updates := make([]string, 0, len(cols)-2)
	for _, c := range cols[2:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (sandbox_id, id) DO UPDATE SET %s",
		tbl, strings.Join(cols, ", "), placeholders(len(cols)), strings.Join(updates, ", "))

	args := append([]any{sr.SandboxID, sr.ID}, vals...)
	args = append(args, int(sr.Change))
	if _, err := t.exec(ctx, q, args...); err != nil {
		return fmt.Errorf("upsert sandbox record %d: %w", sr.ID, err)
	}
	return nil
}

// CopyToSandbox copies baseline rows into a sandbox with the given change
// code. Rows already present in the sandbox are left alone. Returns how many
// rows were added.
func (t *Tx) CopyToSandbox(ctx context.Context, dt deck.Type, sandboxID int64, records []*deck.Record, change deck.ChangeCode) (int, error) {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return 0, err
	}
	cols := append([]string{"sandbox_id", "id"}, recordColumnNames()...)
	cols = append(cols, "change_cd")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (sandbox_id, id) DO NOTHING",
		tbl, strings.Join(cols, ", "), placeholders(len(cols)))

	added := 0
	for _, r := range records {
		vals, err := recordValues(r)
		if err != nil {
			return added, fmt.Errorf("copy to sandbox: %w", err)
		}
		args := append([]any{sandboxID, r.ID}, vals...)
		args = append(args, int(change))
		res, err := t.exec(ctx, q, args...)
		if err != nil {
			return added, fmt.Errorf("copy record %d to sandbox %d: %w", r.ID, sandboxID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			added++
		}
	}
	return added, nil
}

// GetSandboxRecord reads one sandbox row. Returns nil, nil when absent.
func (t *Tx) GetSandboxRecord(ctx context.Context, dt deck.Type, sandboxID, id int64) (*deck.SandboxRecord, error) {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return nil, err
	}
	row := t.queryRow(ctx,
		fmt.Sprintf("SELECT %s, change_cd FROM %s WHERE sandbox_id = ? AND id = ?", selectRecordColumns, tbl),
		sandboxID, id)
	sr, err := scanSandboxRecord(row, dt, sandboxID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox record %d: %w", id, err)
	}
	return sr, nil
}

// DeleteSandboxRecord removes one row from a sandbox.
func (t *Tx) DeleteSandboxRecord(ctx context.Context, dt deck.Type, sandboxID, id int64) error {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return err
	}
	if _, err := t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE sandbox_id = ? AND id = ?", tbl), sandboxID, id); err != nil {
		return fmt.Errorf("delete sandbox record %d: %w", id, err)
	}
	return nil
}

// SandboxRecordQuery narrows ListSandboxRecords.
type SandboxRecordQuery struct {
	// ChangedOnly keeps rows with a change code above UNCHANGED.
	ChangedOnly bool

	// ExcludeDeleted drops rows marked DELETED.
	ExcludeDeleted bool

	// IDs, when non-nil, restricts the result to these record ids.
	IDs []int64

	// Conds filters on record columns.
	Conds []Cond
}

// ListSandboxRecords returns a sandbox's rows ordered by id.
// Returns an empty slice (not nil) if nothing matches.
func (t *Tx) ListSandboxRecords(ctx context.Context, dt deck.Type, sandboxID int64, q SandboxRecordQuery) ([]*deck.SandboxRecord, error) {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return nil, err
	}
	conds := []Cond{Eq("sandbox_id", sandboxID)}
	if q.ChangedOnly {
		conds = append(conds, Gt("change_cd", int(deck.Unchanged)))
	}
	if q.ExcludeDeleted {
		conds = append(conds, Cond{sql: "change_cd <> ?", args: []any{int(deck.Deleted)}})
	}
	if q.IDs != nil {
		conds = append(conds, In("id", q.IDs...))
	}
	conds = append(conds, q.Conds...)
	where, args := compileWhere("", conds...)

	rows, err := t.query(ctx, fmt.Sprintf("SELECT %s, change_cd FROM %s WHERE %s ORDER BY id ASC", selectRecordColumns, tbl, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list sandbox records: %w", err)
	}
	defer rows.Close()

	out := []*deck.SandboxRecord{}
	for rows.Next() {
		sr, err := scanSandboxRecord(rows, dt, sandboxID)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox record: %w", err)
		}
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sandbox records: %w", err)
	}
	return out, nil
}

// NextProvisionalID returns a fresh negative id for a NEW record in the
// sandbox. Provisional ids never collide with baseline ids, which are
// positive; check-in replaces them with real ids.
func (t *Tx) NextProvisionalID(ctx context.Context, dt deck.Type, sandboxID int64) (int64, error) {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return 0, err
	}
	var minID sql.NullInt64
	if err := t.queryRow(ctx, fmt.Sprintf("SELECT MIN(id) FROM %s WHERE sandbox_id = ?", tbl), sandboxID).Scan(&minID); err != nil {
		return 0, fmt.Errorf("next provisional id: %w", err)
	}
	if !minID.Valid || minID.Int64 > 0 {
		return -1, nil
	}
	return minID.Int64 - 1, nil
}

// ReassignSandboxRecordID renames a sandbox row's id, used after check-in
// assigns a real baseline id to a NEW record.
func (t *Tx) ReassignSandboxRecordID(ctx context.Context, dt deck.Type, sandboxID, oldID, newID int64) error {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return err
	}
	if _, err := t.exec(ctx, fmt.Sprintf("UPDATE %s SET id = ? WHERE sandbox_id = ? AND id = ?", tbl), newID, sandboxID, oldID); err != nil {
		return fmt.Errorf("reassign sandbox record %d: %w", oldID, err)
	}
	return nil
}

// OverlappingSandboxes finds open, non-backup sandboxes of the storm holding
// any row that matches conds. For A-decks one entry per (sandbox, DTG) is
// returned; for other decks one entry per sandbox.
func (t *Tx) OverlappingSandboxes(ctx context.Context, dt deck.Type, storm deck.Storm, conds ...Cond) ([]deck.ConflictSandbox, error) {
	tbl, err := sandboxTable(dt)
	if err != nil {
		return nil, err
	}
	where, args := compileWhere("r", conds...)
	q := fmt.Sprintf(`
		SELECT DISTINCT s.id, r.ref_time FROM sandbox s
		JOIN %s r ON r.sandbox_id = s.id
		WHERE s.deck = ? AND s.basin = ? AND s.year = ? AND s.cyclone_num = ?
		  AND s.sandbox_type <> ? AND s.submitted_at IS NULL AND s.valid_flag <> ?
		  AND %s
		ORDER BY s.id ASC, r.ref_time ASC
	`, tbl, where)
	all := append([]any{string(dt), storm.Basin, storm.Year, storm.CycloneNum, string(deck.Backup), int(deck.Invalid)}, args...)

	rows, err := t.query(ctx, q, all...)
	if err != nil {
		return nil, fmt.Errorf("overlapping sandboxes: %w", err)
	}
	defer rows.Close()

	out := []deck.ConflictSandbox{}
	for rows.Next() {
		var (
			id  int64
			dtg int64
		)
		if err := rows.Scan(&id, &dtg); err != nil {
			return nil, fmt.Errorf("scan overlapping sandbox: %w", err)
		}
		if dt == deck.A {
			ts := fromDTG(dtg)
			out = append(out, deck.ConflictSandbox{SandboxID: id, DTG: &ts})
			continue
		}
		if n := len(out); n > 0 && out[n-1].SandboxID == id {
			continue
		}
		out = append(out, deck.ConflictSandbox{SandboxID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overlapping sandboxes: %w", err)
	}
	return out, nil
}

// SandboxesBasedOnOrAfter returns open, valid, non-backup sandboxes of the
// storm whose base revision is at least rev.
func (t *Tx) SandboxesBasedOnOrAfter(ctx context.Context, dt deck.Type, storm deck.Storm, rev int64) ([]*deck.Sandbox, error) {
	return t.querySandboxes(ctx, `
		SELECT `+selectSandboxColumns+` FROM sandbox
		WHERE deck = ? AND basin = ? AND year = ? AND cyclone_num = ?
		  AND sandbox_type <> ? AND submitted_at IS NULL AND valid_flag <> ? AND base_revision >= ?
		ORDER BY id ASC
	`, string(dt), storm.Basin, storm.Year, storm.CycloneNum, string(deck.Backup), int(deck.Invalid), rev)
}

func scanSandboxRecord(sc scanner, dt deck.Type, sandboxID int64) (*deck.SandboxRecord, error) {
	var (
		rs     recordScan
		change int
	)
	if err := sc.Scan(append(rs.dest(), &change)...); err != nil {
		return nil, err
	}
	r, err := rs.record(dt)
	if err != nil {
		return nil, err
	}
	return &deck.SandboxRecord{Record: *r, SandboxID: sandboxID, Change: deck.ChangeCode(change)}, nil
}
