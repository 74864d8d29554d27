package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/deckstore/internal/deck"
)

// toDTG stores a DTG as epoch seconds.
func toDTG(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromDTG(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

// toStamp stores an audit timestamp as epoch nanoseconds.
func toStamp(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromStamp(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullStamp(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromStamp(n.Int64)
	return &t
}

func nullDTG(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromDTG(n.Int64)
	return &t
}

func dtgOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toDTG(*t)
}

// marshalExtra serializes deck-specific columns. encoding/json sorts map keys,
// so equal maps produce equal text.
func marshalExtra(extra map[string]string) (string, error) {
	if len(extra) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return "", fmt.Errorf("marshal extra: %w", err)
	}
	return string(data), nil
}

func unmarshalExtra(s string) (map[string]string, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(s), &extra); err != nil {
		return nil, fmt.Errorf("unmarshal extra: %w", err)
	}
	return extra, nil
}

// recordValues returns r's column values in recordColumns order.
func recordValues(r *deck.Record) ([]any, error) {
	extra, err := marshalExtra(r.Extra)
	if err != nil {
		return nil, err
	}
	return []any{
		r.Basin, r.Year, r.CycloneNum, toDTG(r.RefTime),
		r.Technique, r.TechniqueNum, r.FcstHour,
		r.Lat, r.Lon, r.WindMax, r.MSLP, r.Gust, r.Intensity,
		r.RadWind, r.RadWindQuad, r.Quad1Rad, r.Quad2Rad, r.Quad3Rad, r.Quad4Rad,
		r.MaxSeas, r.StormName, r.SubRegion, r.UserData, extra,
	}, nil
}

// recordScan collects scan destinations for one record row and finishes the
// conversions Scan cannot do on its own.
type recordScan struct {
	rec     deck.Record
	refTime int64
	extra   string
}

// dest returns destinations for "id, <recordColumns>".
func (s *recordScan) dest() []any {
	r := &s.rec
	return []any{
		&r.ID,
		&r.Basin, &r.Year, &r.CycloneNum, &s.refTime,
		&r.Technique, &r.TechniqueNum, &r.FcstHour,
		&r.Lat, &r.Lon, &r.WindMax, &r.MSLP, &r.Gust, &r.Intensity,
		&r.RadWind, &r.RadWindQuad, &r.Quad1Rad, &r.Quad2Rad, &r.Quad3Rad, &r.Quad4Rad,
		&r.MaxSeas, &r.StormName, &r.SubRegion, &r.UserData, &s.extra,
	}
}

func (s *recordScan) record(t deck.Type) (*deck.Record, error) {
	extra, err := unmarshalExtra(s.extra)
	if err != nil {
		return nil, err
	}
	r := s.rec
	r.Deck = t
	r.RefTime = fromDTG(s.refTime)
	r.Extra = extra
	return &r, nil
}

// keyValues converts a natural key to column names and stored values.
func keyValues(key []deck.KeyPart) ([]string, []any) {
	cols := make([]string, len(key))
	vals := make([]any, len(key))
	for i, k := range key {
		cols[i] = k.Column
		vals[i] = dbValue(k.Value)
	}
	return cols, vals
}

func marshalIDs(ids []int64) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return string(data), nil
}

func unmarshalIDs(s string) ([]int64, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ids: %w", err)
	}
	return ids, nil
}
