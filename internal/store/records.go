package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/deckstore/internal/deck"
)

var selectRecordColumns = "id, " + strings.Join(recordColumnNames(), ", ")

func baselineTable(t deck.Type) (string, error) {
	if tbl := t.Table(); tbl != "" {
		return tbl, nil
	}
	return "", &deck.Error{Code: deck.CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", t)}
}

func stormConds(s deck.Storm) []Cond {
	return []Cond{Eq("basin", s.Basin), Eq("year", s.Year), Eq("cyclone_num", s.CycloneNum)}
}

// InsertRecord inserts r into its deck's baseline table and sets r.ID to the
// generated id. Natural-key collisions surface as unique violations; see
// IsUniqueViolation.
func (t *Tx) InsertRecord(ctx context.Context, r *deck.Record) (int64, error) {
	tbl, err := baselineTable(r.Deck)
	if err != nil {
		return 0, err
	}
	vals, err := recordValues(r)
	if err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	cols := recordColumnNames()
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		tbl, strings.Join(cols, ", "), placeholders(len(cols)))

	var id int64
	if err := t.queryRow(ctx, q, vals...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	r.ID = id
	return id, nil
}

// InsertRecordWithID inserts r keeping its existing id. Used to restore
// backed-up rows.
func (t *Tx) InsertRecordWithID(ctx context.Context, r *deck.Record) error {
	tbl, err := baselineTable(r.Deck)
	if err != nil {
		return err
	}
	vals, err := recordValues(r)
	if err != nil {
		return fmt.Errorf("restore record: %w", err)
	}
	cols := append([]string{"id"}, recordColumnNames()...)
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := t.exec(ctx, q, append([]any{r.ID}, vals...)...); err != nil {
		return fmt.Errorf("restore record %d: %w", r.ID, err)
	}
	return nil
}

// UpdateRecord overwrites every column of the baseline row with r.ID.
// Returns false when no such row exists.
func (t *Tx) UpdateRecord(ctx context.Context, r *deck.Record) (bool, error) {
	tbl, err := baselineTable(r.Deck)
	if err != nil {
		return false, err
	}
	vals, err := recordValues(r)
	if err != nil {
		return false, fmt.Errorf("update record: %w", err)
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", tbl, assignments(recordColumnNames()))
	res, err := t.exec(ctx, q, append(vals, r.ID)...)
	if err != nil {
		return false, fmt.Errorf("update record %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update record %d: %w", r.ID, err)
	}
	return n > 0, nil
}

// DeleteRecord removes one baseline row. Returns false when it did not exist.
func (t *Tx) DeleteRecord(ctx context.Context, dt deck.Type, id int64) (bool, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return false, err
	}
	res, err := t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", tbl), id)
	if err != nil {
		return false, fmt.Errorf("delete record %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record %d: %w", id, err)
	}
	return n > 0, nil
}

// GetRecord reads one baseline row. Returns nil, nil when it does not exist.
func (t *Tx) GetRecord(ctx context.Context, dt deck.Type, id int64) (*deck.Record, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return nil, err
	}
	var rs recordScan
	err = t.queryRow(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectRecordColumns, tbl), id).Scan(rs.dest()...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record %d: %w", id, err)
	}
	return rs.record(dt)
}

// FindByNaturalKey looks up the baseline id of the row sharing r's natural
// key. found is false when there is none or the deck has no natural key.
func (t *Tx) FindByNaturalKey(ctx context.Context, r *deck.Record) (id int64, found bool, err error) {
	key := r.NaturalKey()
	if len(key) == 0 {
		return 0, false, nil
	}
	tbl, err := baselineTable(r.Deck)
	if err != nil {
		return 0, false, err
	}
	cols, vals := keyValues(key)
	conds := make([]Cond, len(cols))
	for i := range cols {
		conds[i] = Eq(cols[i], vals[i])
	}
	where, args := compileWhere("", conds...)

	err = t.queryRow(ctx, fmt.Sprintf("SELECT id FROM %s WHERE %s ORDER BY id ASC LIMIT 1", tbl, where), args...).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find by natural key: %w", err)
	}
	return id, true, nil
}

// ListRecords returns the storm's baseline rows matching conds, ordered by id.
// Returns an empty slice (not nil) if nothing matches.
func (t *Tx) ListRecords(ctx context.Context, dt deck.Type, storm deck.Storm, conds ...Cond) ([]*deck.Record, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return nil, err
	}
	where, args := compileWhere("", append(stormConds(storm), conds...)...)
	rows, err := t.query(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id ASC", selectRecordColumns, tbl, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows, dt)
}

// DeleteRecords removes the storm's baseline rows matching conds and
// returns how many went.
func (t *Tx) DeleteRecords(ctx context.Context, dt deck.Type, storm deck.Storm, conds ...Cond) (int64, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return 0, err
	}
	where, args := compileWhere("", append(stormConds(storm), conds...)...)
	res, err := t.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", tbl, where), args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return n, nil
}

// MaxRecordID returns the highest baseline id for the storm, or 0.
func (t *Tx) MaxRecordID(ctx context.Context, dt deck.Type, storm deck.Storm) (int64, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return 0, err
	}
	where, args := compileWhere("", stormConds(storm)...)
	var id sql.NullInt64
	if err := t.queryRow(ctx, fmt.Sprintf("SELECT MAX(id) FROM %s WHERE %s", tbl, where), args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("max record id: %w", err)
	}
	return id.Int64, nil
}

// RecordRange summarizes a selection of baseline rows.
type RecordRange struct {
	Count    int
	MaxID    int64
	BeginDTG time.Time
	EndDTG   time.Time
}

// Range returns the count, highest id and DTG bounds of the storm's rows
// matching conds. Count is 0 when nothing matches.
func (t *Tx) Range(ctx context.Context, dt deck.Type, storm deck.Storm, conds ...Cond) (RecordRange, error) {
	tbl, err := baselineTable(dt)
	if err != nil {
		return RecordRange{}, err
	}
	where, args := compileWhere("", append(stormConds(storm), conds...)...)
	var (
		count             int
		maxID, begin, end sql.NullInt64
	)
	q := fmt.Sprintf("SELECT COUNT(*), MAX(id), MIN(ref_time), MAX(ref_time) FROM %s WHERE %s", tbl, where)
	if err := t.queryRow(ctx, q, args...).Scan(&count, &maxID, &begin, &end); err != nil {
		return RecordRange{}, fmt.Errorf("record range: %w", err)
	}
	if count == 0 {
		return RecordRange{}, nil
	}
	return RecordRange{
		Count:    count,
		MaxID:    maxID.Int64,
		BeginDTG: fromDTG(begin.Int64),
		EndDTG:   fromDTG(end.Int64),
	}, nil
}

func scanRecords(rows *sql.Rows, dt deck.Type) ([]*deck.Record, error) {
	records := []*deck.Record{}
	for rows.Next() {
		var rs recordScan
		if err := rows.Scan(rs.dest()...); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r, err := rs.record(dt)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func assignments(cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c + " = ?"
	}
	return strings.Join(parts, ", ")
}

// Records reads the storm's baseline rows in their own transaction.
func (s *Store) Records(ctx context.Context, dt deck.Type, storm deck.Storm, conds ...Cond) ([]*deck.Record, error) {
	var out []*deck.Record
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.ListRecords(ctx, dt, storm, conds...)
		return err
	})
	return out, err
}

// Fingerprint hashes the storm's baseline rows in id order.
func (s *Store) Fingerprint(ctx context.Context, dt deck.Type, storm deck.Storm) (string, error) {
	recs, err := s.Records(ctx, dt, storm)
	if err != nil {
		return "", err
	}
	return deck.Fingerprint(recs)
}
