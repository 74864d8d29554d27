package deck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *Record {
	return &Record{
		ID:         7,
		Deck:       A,
		Basin:      "AL",
		Year:       2021,
		CycloneNum: 9,
		RefTime:    time.Date(2021, 9, 1, 12, 0, 0, 0, time.UTC),
		Technique:  "OFCL",
		FcstHour:   24,
		Lat:        25.1,
		Lon:        -80.4,
		WindMax:    65,
		RadWind:    34,
		Extra:      map[string]string{"initials": "JB"},
	}
}

func TestRecord_NaturalKey(t *testing.T) {
	r := sampleRecord()
	key := r.NaturalKey()
	require.Len(t, key, 7)
	assert.Equal(t, KeyPart{Column: "basin", Value: "AL"}, key[0])
	assert.Equal(t, KeyPart{Column: "technique", Value: "OFCL"}, key[5])
	assert.Equal(t, KeyPart{Column: "rad_wind", Value: 34.0}, key[6])

	r.Deck = E
	assert.Nil(t, r.NaturalKey())
}

func TestDiffFields_Identical(t *testing.T) {
	a := sampleRecord()
	b := a.Clone()
	b.ID = 99
	assert.Empty(t, DiffFields(a, b), "ids are not compared")
}

func TestDiffFields_ExactFloatComparison(t *testing.T) {
	a := sampleRecord()
	b := a.Clone()
	b.Lat = 25.100000001
	b.WindMax = 70
	assert.Equal(t, []string{"lat", "wind_max"}, DiffFields(a, b))
}

func TestDiffFields_Extra(t *testing.T) {
	a := sampleRecord()
	b := a.Clone()
	b.Extra["initials"] = "MC"
	b.Extra["confidence"] = "2"
	assert.Equal(t, []string{"extra.confidence", "extra.initials"}, DiffFields(a, b))
}

func TestDiffFields_RefTimeZoneInsensitive(t *testing.T) {
	a := sampleRecord()
	b := a.Clone()
	b.RefTime = a.RefTime.In(time.FixedZone("EST", -5*3600))
	assert.Empty(t, DiffFields(a, b))
}

func TestClone_DeepCopiesExtra(t *testing.T) {
	a := sampleRecord()
	b := a.Clone()
	b.Extra["initials"] = "XX"
	assert.Equal(t, "JB", a.Extra["initials"])

	var nilRec *Record
	assert.Nil(t, nilRec.Clone())
}
