package deck

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Type identifies which deck table family a record belongs to.
type Type string

const (
	A             Type = "A"
	B             Type = "B"
	E             Type = "E"
	F             Type = "F"
	GenesisB      Type = "GB"
	GenesisE      Type = "GE"
	ForecastTrack Type = "FST"
)

// Types lists every deck type in schema order.
var Types = []Type{A, B, E, F, GenesisB, GenesisE, ForecastTrack}

// Genesis numbers occupy 70-79 of the cyclone number space.
const (
	GenesisMin = 70
	GenesisMax = 79
)

var upper = cases.Upper(language.Und)

var typeAliases = map[string]Type{
	"A": A, "ADECK": A,
	"B": B, "BDECK": B,
	"E": E, "EDECK": E,
	"F": F, "FDECK": F,
	"GB": GenesisB, "GBDECK": GenesisB, "GENESISB": GenesisB,
	"GE": GenesisE, "GEDECK": GenesisE, "GENESISE": GenesisE,
	"FST": ForecastTrack, "FORECASTTRACK": ForecastTrack,
}

// ParseType accepts a short code ("A", "GB", "FST") or a scope code
// ("ADECK") in any case.
func ParseType(s string) (Type, error) {
	key := strings.ReplaceAll(upper.String(strings.TrimSpace(s)), "_", "")
	if t, ok := typeAliases[key]; ok {
		return t, nil
	}
	return "", &Error{Code: CodeUnknownDeck, Message: fmt.Sprintf("unknown deck type %q", s)}
}

// Resolve routes B and E records in the genesis number range to the genesis
// deck types. All other combinations are returned unchanged.
func Resolve(t Type, cycloneNum int) Type {
	if cycloneNum < GenesisMin || cycloneNum > GenesisMax {
		return t
	}
	switch t {
	case B:
		return GenesisB
	case E:
		return GenesisE
	}
	return t
}

// Valid reports whether t is one of the known deck types.
func (t Type) Valid() bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// IsGenesis reports whether t stores genesis numbers instead of cyclone numbers.
func (t Type) IsGenesis() bool {
	return t == GenesisB || t == GenesisE
}

// Table is the baseline table name for t.
func (t Type) Table() string {
	switch t {
	case A:
		return "adeck"
	case B:
		return "bdeck"
	case E:
		return "edeck"
	case F:
		return "fdeck"
	case GenesisB:
		return "genesis_bdeck"
	case GenesisE:
		return "genesis_edeck"
	case ForecastTrack:
		return "fst"
	}
	return ""
}

// SandboxTable is the sandbox twin of Table.
func (t Type) SandboxTable() string {
	if tbl := t.Table(); tbl != "" {
		return "sandbox_" + tbl
	}
	return ""
}

// ScopeCode is the sandbox scope code stored in the sandbox registry.
func (t Type) ScopeCode() string {
	switch t {
	case A:
		return "ADECK"
	case B:
		return "BDECK"
	case E:
		return "EDECK"
	case F:
		return "FDECK"
	case GenesisB:
		return "GBDECK"
	case GenesisE:
		return "GEDECK"
	case ForecastTrack:
		return "FST"
	}
	return ""
}

// NaturalKey returns the columns that identify a record for duplicate
// detection, or nil when the deck type has none.
func (t Type) NaturalKey() []string {
	switch t {
	case A, B, GenesisB:
		return []string{"basin", "year", "cyclone_num", "ref_time", "fcst_hour", "technique", "rad_wind"}
	case ForecastTrack:
		return []string{"basin", "year", "cyclone_num", "ref_time", "fcst_hour", "rad_wind"}
	}
	return nil
}

// HasNaturalKey reports whether duplicates can be detected for t.
func (t Type) HasNaturalKey() bool {
	return len(t.NaturalKey()) > 0
}

// Storm scopes a set of records: basin, season year and cyclone number.
// For genesis decks CycloneNum holds the genesis number.
type Storm struct {
	Basin      string `json:"basin" yaml:"basin"`
	Year       int    `json:"year" yaml:"year"`
	CycloneNum int    `json:"cyclone_num" yaml:"cyclone_num"`
}

// Validate rejects storms that cannot scope a query.
func (s Storm) Validate() error {
	if strings.TrimSpace(s.Basin) == "" || s.Year <= 0 || s.CycloneNum < 0 {
		return &Error{Code: CodeMissingScope, Message: fmt.Sprintf("incomplete storm scope %s", s)}
	}
	return nil
}

func (s Storm) String() string {
	return fmt.Sprintf("%s%02d%04d", s.Basin, s.CycloneNum, s.Year)
}

// ParseStorm reads the BBNNYYYY form String produces, e.g. "AL092021".
// The basin is case-folded.
func ParseStorm(id string) (Storm, error) {
	id = strings.TrimSpace(id)
	bad := &Error{Code: CodeMissingScope, Message: fmt.Sprintf("storm id %q is not of the form BBNNYYYY", id)}
	if len(id) != 8 {
		return Storm{}, bad
	}
	num, err := strconv.Atoi(id[2:4])
	if err != nil {
		return Storm{}, bad
	}
	year, err := strconv.Atoi(id[4:])
	if err != nil {
		return Storm{}, bad
	}
	s := Storm{Basin: upper.String(id[:2]), Year: year, CycloneNum: num}
	if err := s.Validate(); err != nil {
		return Storm{}, err
	}
	return s, nil
}

// ChangeCode is a sandbox record's edit state relative to its baseline row.
type ChangeCode int

const (
	Unchanged ChangeCode = 0
	New       ChangeCode = 1
	Modified  ChangeCode = 2
	Deleted   ChangeCode = 3
)

func (c ChangeCode) String() string {
	switch c {
	case Unchanged:
		return "UNCHANGED"
	case New:
		return "NEW"
	case Modified:
		return "MODIFIED"
	case Deleted:
		return "DELETED"
	}
	return fmt.Sprintf("ChangeCode(%d)", int(c))
}

// Changed reports whether c represents a pending edit.
func (c ChangeCode) Changed() bool {
	return c > Unchanged
}

// EditKind tells Modify whether the caller is editing a record it created in
// this sandbox or one that came from the baseline.
type EditKind int

const (
	EditExisting EditKind = iota
	EditNew
)
