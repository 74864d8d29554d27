package deck

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// DomainBaseline separates baseline snapshot hashes from any other hash the
// store might compute. The version suffix allows the encoding to change.
const DomainBaseline = "deckstore/baseline/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes records in the order given. Callers pass records sorted
// by id so equal row sets produce equal fingerprints.
func Fingerprint(records []*Record) (string, error) {
	list := make([]any, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		list = append(list, canonicalRecord(r))
	}
	data, err := marshalCanonical(list)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hashWithDomain(DomainBaseline, data), nil
}

// canonicalRecord maps a record to plain JSON values. Floats become shortest
// decimal strings and times become RFC 3339 UTC strings so the encoding never
// depends on float formatting or time zones.
func canonicalRecord(r *Record) map[string]any {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	obj := map[string]any{
		"id":            r.ID,
		"deck":          string(r.Deck),
		"basin":         r.Basin,
		"year":          r.Year,
		"cyclone_num":   r.CycloneNum,
		"ref_time":      r.RefTime.UTC().Format(time.RFC3339),
		"technique":     r.Technique,
		"technique_num": r.TechniqueNum,
		"fcst_hour":     r.FcstHour,
		"lat":           f(r.Lat),
		"lon":           f(r.Lon),
		"wind_max":      f(r.WindMax),
		"mslp":          f(r.MSLP),
		"gust":          f(r.Gust),
		"intensity":     r.Intensity,
		"rad_wind":      f(r.RadWind),
		"rad_wind_quad": r.RadWindQuad,
		"quad1_rad":     f(r.Quad1Rad),
		"quad2_rad":     f(r.Quad2Rad),
		"quad3_rad":     f(r.Quad3Rad),
		"quad4_rad":     f(r.Quad4Rad),
		"max_seas":      f(r.MaxSeas),
		"storm_name":    r.StormName,
		"sub_region":    r.SubRegion,
		"user_data":     r.UserData,
	}
	extra := make(map[string]any, len(r.Extra))
	for k, v := range r.Extra {
		extra[k] = v
	}
	obj["extra"] = extra
	return obj
}

// marshalCanonical produces RFC 8785 style JSON for the value kinds a
// canonical record contains. Floats and nulls are rejected.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(strconv.Itoa(val)), nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	case bool:
		return []byte(strconv.FormatBool(val)), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareKeysUTF16)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalCanonicalString(k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case float32, float64:
		return nil, fmt.Errorf("floats are forbidden in canonical JSON: %v", val)
	}
	return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
}

// marshalCanonicalString NFC-normalizes s and encodes it without HTML escaping.
func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// compareKeysUTF16 orders keys by UTF-16 code units, not UTF-8 bytes.
func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
