package deck

import (
	"sort"
	"time"
)

// Record is one deck row. The same shape backs every deck type; columns a deck
// does not use stay at their zero value, and deck-specific payload that the
// engine never interprets travels in Extra.
type Record struct {
	ID   int64 `json:"id,omitempty"`
	Deck Type  `json:"deck"`

	Basin      string    `json:"basin"`
	Year       int       `json:"year"`
	CycloneNum int       `json:"cyclone_num"`
	RefTime    time.Time `json:"ref_time"`

	Technique    string `json:"technique,omitempty"`
	TechniqueNum int    `json:"technique_num,omitempty"`
	FcstHour     int    `json:"fcst_hour"`

	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	WindMax     float64 `json:"wind_max,omitempty"`
	MSLP        float64 `json:"mslp,omitempty"`
	Gust        float64 `json:"gust,omitempty"`
	Intensity   string  `json:"intensity,omitempty"`
	RadWind     float64 `json:"rad_wind,omitempty"`
	RadWindQuad string  `json:"rad_wind_quad,omitempty"`
	Quad1Rad    float64 `json:"quad1_rad,omitempty"`
	Quad2Rad    float64 `json:"quad2_rad,omitempty"`
	Quad3Rad    float64 `json:"quad3_rad,omitempty"`
	Quad4Rad    float64 `json:"quad4_rad,omitempty"`
	MaxSeas     float64 `json:"max_seas,omitempty"`
	StormName   string  `json:"storm_name,omitempty"`
	SubRegion   string  `json:"sub_region,omitempty"`
	UserData    string  `json:"user_data,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Storm returns the scope the record belongs to.
func (r *Record) Storm() Storm {
	return Storm{Basin: r.Basin, Year: r.Year, CycloneNum: r.CycloneNum}
}

// KeyPart is one column of a natural key.
type KeyPart struct {
	Column string
	Value  any
}

// NaturalKey returns the record's natural-key columns and values in key order,
// or nil when its deck type has no natural key.
func (r *Record) NaturalKey() []KeyPart {
	cols := r.Deck.NaturalKey()
	if len(cols) == 0 {
		return nil
	}
	parts := make([]KeyPart, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, KeyPart{Column: c, Value: r.column(c)})
	}
	return parts
}

func (r *Record) column(name string) any {
	switch name {
	case "basin":
		return r.Basin
	case "year":
		return r.Year
	case "cyclone_num":
		return r.CycloneNum
	case "ref_time":
		return r.RefTime.UTC()
	case "technique":
		return r.Technique
	case "fcst_hour":
		return r.FcstHour
	case "rad_wind":
		return r.RadWind
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Extra != nil {
		c.Extra = make(map[string]string, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// DiffFields names the columns whose values differ between a and b. Floats
// compare exactly. Id, sandbox linkage and change code are not columns here.
func DiffFields(a, b *Record) []string {
	var diff []string
	add := func(name string, differ bool) {
		if differ {
			diff = append(diff, name)
		}
	}
	add("deck", a.Deck != b.Deck)
	add("basin", a.Basin != b.Basin)
	add("year", a.Year != b.Year)
	add("cyclone_num", a.CycloneNum != b.CycloneNum)
	add("ref_time", !a.RefTime.Equal(b.RefTime))
	add("technique", a.Technique != b.Technique)
	add("technique_num", a.TechniqueNum != b.TechniqueNum)
	add("fcst_hour", a.FcstHour != b.FcstHour)
	add("lat", a.Lat != b.Lat)
	add("lon", a.Lon != b.Lon)
	add("wind_max", a.WindMax != b.WindMax)
	add("mslp", a.MSLP != b.MSLP)
	add("gust", a.Gust != b.Gust)
	add("intensity", a.Intensity != b.Intensity)
	add("rad_wind", a.RadWind != b.RadWind)
	add("rad_wind_quad", a.RadWindQuad != b.RadWindQuad)
	add("quad1_rad", a.Quad1Rad != b.Quad1Rad)
	add("quad2_rad", a.Quad2Rad != b.Quad2Rad)
	add("quad3_rad", a.Quad3Rad != b.Quad3Rad)
	add("quad4_rad", a.Quad4Rad != b.Quad4Rad)
	add("max_seas", a.MaxSeas != b.MaxSeas)
	add("storm_name", a.StormName != b.StormName)
	add("sub_region", a.SubRegion != b.SubRegion)
	add("user_data", a.UserData != b.UserData)

	keys := make(map[string]struct{}, len(a.Extra)+len(b.Extra))
	for k := range a.Extra {
		keys[k] = struct{}{}
	}
	for k := range b.Extra {
		keys[k] = struct{}{}
	}
	extra := make([]string, 0, len(keys))
	for k := range keys {
		av, aok := a.Extra[k]
		bv, bok := b.Extra[k]
		if aok != bok || av != bv {
			extra = append(extra, "extra."+k)
		}
	}
	sort.Strings(extra)
	return append(diff, extra...)
}

// SandboxRecord is a baseline record as seen inside one sandbox.
type SandboxRecord struct {
	Record
	SandboxID int64      `json:"sandbox_id"`
	Change    ChangeCode `json:"change_cd"`
}

// ChangedRecord pairs a pending edit with the record it applies to.
type ChangedRecord struct {
	Change ChangeCode `json:"change_cd"`
	Record *Record    `json:"record"`
}
