package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/deckstore/internal/deck"
)

const selectSandboxColumns = `id, deck, basin, year, cyclone_num, storm_name, scope_cd, sandbox_type,
	user_id, valid_flag, created_at, last_updated, submitted_at, base_revision, submitted_revision`

// CreateSandbox registers sb and sets sb.ID.
func (t *Tx) CreateSandbox(ctx context.Context, sb *deck.Sandbox) (int64, error) {
	if sb.ScopeCode == "" {
		sb.ScopeCode = sb.Deck.ScopeCode()
	}
	var id int64
	err := t.queryRow(ctx, `
		INSERT INTO sandbox
		(deck, basin, year, cyclone_num, storm_name, scope_cd, sandbox_type, user_id,
		 valid_flag, created_at, last_updated, base_revision)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		string(sb.Deck), sb.Storm.Basin, sb.Storm.Year, sb.Storm.CycloneNum, sb.StormName,
		sb.ScopeCode, string(sb.Type), sb.UserID, int(sb.Validity),
		toStamp(sb.CreatedAt), toStamp(sb.LastUpdated), sb.BaseRevision,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create sandbox: %w", err)
	}
	sb.ID = id
	return id, nil
}

// GetSandbox reads one sandbox. A missing sandbox is a SANDBOX_NOT_FOUND
// domain error.
func (t *Tx) GetSandbox(ctx context.Context, id int64) (*deck.Sandbox, error) {
	row := t.queryRow(ctx, "SELECT "+selectSandboxColumns+" FROM sandbox WHERE id = ?", id)
	sb, err := scanSandbox(row)
	if err == sql.ErrNoRows {
		return nil, deck.SandboxNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox %d: %w", id, err)
	}
	return sb, nil
}

// SandboxFilter narrows ListSandboxes. Zero fields do not filter.
type SandboxFilter struct {
	Deck  deck.Type
	Storm *deck.Storm
	Type  deck.SandboxType
	User  string

	// Open keeps only unsubmitted sandboxes.
	Open bool
}

// ListSandboxes returns sandboxes matching f ordered by id.
// Returns an empty slice (not nil) if nothing matches.
func (t *Tx) ListSandboxes(ctx context.Context, f SandboxFilter) ([]*deck.Sandbox, error) {
	var conds []Cond
	if f.Deck != "" {
		conds = append(conds, Eq("deck", string(f.Deck)))
	}
	if f.Storm != nil {
		conds = append(conds, stormConds(*f.Storm)...)
	}
	if f.Type != "" {
		conds = append(conds, Eq("sandbox_type", string(f.Type)))
	}
	if f.User != "" {
		conds = append(conds, Eq("user_id", f.User))
	}
	if f.Open {
		conds = append(conds, IsNull("submitted_at"))
	}
	where, args := compileWhere("", conds...)
	return t.querySandboxes(ctx, "SELECT "+selectSandboxColumns+" FROM sandbox WHERE "+where+" ORDER BY id ASC", args...)
}

// SubmittedSince returns the storm's submitted checkout sandboxes whose
// check-in produced a revision later than rev, oldest submission first.
func (t *Tx) SubmittedSince(ctx context.Context, dt deck.Type, storm deck.Storm, rev int64) ([]*deck.Sandbox, error) {
	return t.querySandboxes(ctx, `
		SELECT `+selectSandboxColumns+` FROM sandbox
		WHERE deck = ? AND basin = ? AND year = ? AND cyclone_num = ?
		  AND sandbox_type <> ? AND submitted_revision IS NOT NULL AND submitted_revision > ?
		ORDER BY submitted_revision ASC, id ASC
	`, string(dt), storm.Basin, storm.Year, storm.CycloneNum, string(deck.Backup), rev)
}

// IdleSandboxes returns unsubmitted, non-backup sandboxes last touched before cutoff.
func (t *Tx) IdleSandboxes(ctx context.Context, cutoff time.Time) ([]*deck.Sandbox, error) {
	return t.querySandboxes(ctx, `
		SELECT `+selectSandboxColumns+` FROM sandbox
		WHERE sandbox_type <> ? AND submitted_at IS NULL AND last_updated < ?
		ORDER BY id ASC
	`, string(deck.Backup), toStamp(cutoff))
}

// ExpiredSubmittedSandboxes returns sandboxes submitted before cutoff that no
// open sandbox of the same scope still needs for conflict detection, i.e.
// every open sandbox was checked out at or after the submission's revision.
func (t *Tx) ExpiredSubmittedSandboxes(ctx context.Context, cutoff time.Time) ([]*deck.Sandbox, error) {
	return t.querySandboxes(ctx, `
		SELECT `+selectSandboxColumns+` FROM sandbox s
		WHERE s.sandbox_type <> ? AND s.submitted_at IS NOT NULL AND s.submitted_at < ?
		  AND NOT EXISTS (
		    SELECT 1 FROM sandbox o
		    WHERE o.deck = s.deck AND o.basin = s.basin AND o.year = s.year
		      AND o.cyclone_num = s.cyclone_num AND o.sandbox_type <> ?
		      AND o.submitted_at IS NULL AND o.base_revision < s.submitted_revision
		  )
		ORDER BY s.id ASC
	`, string(deck.Backup), toStamp(cutoff), string(deck.Backup))
}

func (t *Tx) querySandboxes(ctx context.Context, q string, args ...any) ([]*deck.Sandbox, error) {
	rows, err := t.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	out := []*deck.Sandbox{}
	for rows.Next() {
		sb, err := scanSandbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		out = append(out, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sandboxes: %w", err)
	}
	return out, nil
}

// SetValidity updates the sandbox valid flag and touches last_updated.
func (t *Tx) SetValidity(ctx context.Context, id int64, v deck.Validity, now time.Time) error {
	return t.updateSandbox(ctx, id, "valid_flag = ?, last_updated = ?", int(v), toStamp(now))
}

// TouchSandbox records activity on the sandbox.
func (t *Tx) TouchSandbox(ctx context.Context, id int64, now time.Time) error {
	return t.updateSandbox(ctx, id, "last_updated = ?", toStamp(now))
}

// MarkSubmitted stamps the sandbox as checked in at revision rev.
func (t *Tx) MarkSubmitted(ctx context.Context, id int64, now time.Time, rev int64) error {
	return t.updateSandbox(ctx, id, "submitted_at = ?, submitted_revision = ?, last_updated = ?",
		toStamp(now), rev, toStamp(now))
}

// RebaseSandbox moves the sandbox's base revision forward and revalidates it.
func (t *Tx) RebaseSandbox(ctx context.Context, id int64, rev int64, v deck.Validity, now time.Time) error {
	return t.updateSandbox(ctx, id, "base_revision = ?, valid_flag = ?, last_updated = ?",
		rev, int(v), toStamp(now))
}

func (t *Tx) updateSandbox(ctx context.Context, id int64, set string, args ...any) error {
	res, err := t.exec(ctx, "UPDATE sandbox SET "+set+" WHERE id = ?", append(args, id)...)
	if err != nil {
		return fmt.Errorf("update sandbox %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sandbox %d: %w", id, err)
	}
	if n == 0 {
		return deck.SandboxNotFound(id)
	}
	return nil
}

// DeleteSandbox removes the sandbox and all of its records.
func (t *Tx) DeleteSandbox(ctx context.Context, sb *deck.Sandbox) error {
	tbl := sb.Deck.SandboxTable()
	if tbl == "" {
		return &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", sb.Deck), SandboxID: sb.ID}
	}
	if _, err := t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE sandbox_id = ?", tbl), sb.ID); err != nil {
		return fmt.Errorf("delete sandbox %d records: %w", sb.ID, err)
	}
	if _, err := t.exec(ctx, "DELETE FROM sandbox WHERE id = ?", sb.ID); err != nil {
		return fmt.Errorf("delete sandbox %d: %w", sb.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSandbox(sc scanner) (*deck.Sandbox, error) {
	var (
		sb                 deck.Sandbox
		dt, sbType         string
		validity           int
		created, updated   int64
		submitted, submRev sql.NullInt64
	)
	err := sc.Scan(&sb.ID, &dt, &sb.Storm.Basin, &sb.Storm.Year, &sb.Storm.CycloneNum,
		&sb.StormName, &sb.ScopeCode, &sbType, &sb.UserID, &validity,
		&created, &updated, &submitted, &sb.BaseRevision, &submRev)
	if err != nil {
		return nil, err
	}
	sb.Deck = deck.Type(dt)
	sb.Type = deck.SandboxType(sbType)
	sb.Validity = deck.Validity(validity)
	sb.CreatedAt = fromStamp(created)
	sb.LastUpdated = fromStamp(updated)
	sb.SubmittedAt = nullStamp(submitted)
	if submRev.Valid {
		rev := submRev.Int64
		sb.SubmittedRevision = &rev
	}
	return &sb, nil
}

// Sandbox reads one sandbox in its own transaction.
func (s *Store) Sandbox(ctx context.Context, id int64) (*deck.Sandbox, error) {
	var sb *deck.Sandbox
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		sb, err = tx.GetSandbox(ctx, id)
		return err
	})
	return sb, err
}

// Sandboxes lists sandboxes in their own transaction.
func (s *Store) Sandboxes(ctx context.Context, f SandboxFilter) ([]*deck.Sandbox, error) {
	var out []*deck.Sandbox
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.ListSandboxes(ctx, f)
		return err
	})
	return out, err
}
