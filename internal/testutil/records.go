package testutil

import (
	"fmt"
	"time"

	"github.com/roach88/deckstore/internal/deck"
)

// AL09 is the storm most fixtures use.
var AL09 = deck.Storm{Basin: "AL", Year: 2021, CycloneNum: 9}

// DTG returns the i-th synoptic time (6-hourly) after Epoch.
func DTG(i int) time.Time {
	return Epoch.Add(time.Duration(i) * 6 * time.Hour)
}

// Record builds one record of type dt for storm with distinct, plausible
// values derived from its DTG, technique and forecast hour.
func Record(dt deck.Type, storm deck.Storm, dtg time.Time, technique string, tau int) *deck.Record {
	hours := dtg.Sub(Epoch).Hours()
	return &deck.Record{
		Deck:       dt,
		Basin:      storm.Basin,
		Year:       storm.Year,
		CycloneNum: storm.CycloneNum,
		RefTime:    dtg,
		Technique:  technique,
		FcstHour:   tau,
		Lat:        20 + hours/24 + float64(tau)/100,
		Lon:        -60 - hours/24 - float64(tau)/100,
		WindMax:    float64(35 + tau/6),
		MSLP:       float64(1005 - tau/12),
		RadWind:    34,
		StormName:  "IDA",
	}
}

// Grid builds dtgs x techniques x taus records of type dt: DTGs 0..dtgs-1,
// techniques T00..T(n-1), forecast hours 0, 12, 24, ... Every record has a
// distinct natural key.
func Grid(dt deck.Type, storm deck.Storm, dtgs, techniques, taus int) []*deck.Record {
	out := make([]*deck.Record, 0, dtgs*techniques*taus)
	for d := 0; d < dtgs; d++ {
		for m := 0; m < techniques; m++ {
			for k := 0; k < taus; k++ {
				out = append(out, Record(dt, storm, DTG(d), fmt.Sprintf("T%02d", m), k*12))
			}
		}
	}
	return out
}

// Clone deep-copies a record slice and clears ids, as if freshly parsed.
func Clone(records []*deck.Record) []*deck.Record {
	out := make([]*deck.Record, len(records))
	for i, r := range records {
		c := r.Clone()
		c.ID = 0
		out[i] = c
	}
	return out
}
