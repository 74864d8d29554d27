package deck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Stable(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.ID = 8
	b.FcstHour = 36

	h1, err := Fingerprint([]*Record{a, b})
	require.NoError(t, err)
	h2, err := Fingerprint([]*Record{a.Clone(), b.Clone()})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestFingerprint_SensitiveToEveryColumn(t *testing.T) {
	base, err := Fingerprint([]*Record{sampleRecord()})
	require.NoError(t, err)

	mutations := map[string]func(r *Record){
		"id":    func(r *Record) { r.ID++ },
		"lat":   func(r *Record) { r.Lat += 0.1 },
		"name":  func(r *Record) { r.StormName = "IDA" },
		"extra": func(r *Record) { r.Extra["initials"] = "MC" },
	}
	for name, mutate := range mutations {
		r := sampleRecord()
		mutate(r)
		got, err := Fingerprint([]*Record{r})
		require.NoError(t, err)
		assert.NotEqual(t, base, got, name)
	}
}

func TestFingerprint_OrderMatters(t *testing.T) {
	a := sampleRecord()
	b := sampleRecord()
	b.ID = 8

	h1, err := Fingerprint([]*Record{a, b})
	require.NoError(t, err)
	h2, err := Fingerprint([]*Record{b, a})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestFingerprint_NFCNormalization(t *testing.T) {
	composed := sampleRecord()
	composed.StormName = "caf\u00e9"
	decomposed := sampleRecord()
	decomposed.StormName = "cafe\u0301"

	h1, err := Fingerprint([]*Record{composed})
	require.NoError(t, err)
	h2, err := Fingerprint([]*Record{decomposed})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestFingerprint_Empty(t *testing.T) {
	h1, err := Fingerprint(nil)
	require.NoError(t, err)
	h2, err := Fingerprint([]*Record{nil})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestMarshalCanonical_RejectsFloatsAndNull(t *testing.T) {
	_, err := marshalCanonical(1.5)
	assert.Error(t, err)
	_, err = marshalCanonical(nil)
	assert.Error(t, err)
}

func TestMarshalCanonical_KeyOrderAndEscaping(t *testing.T) {
	out, err := marshalCanonical(map[string]any{"b": 1, "a": "<x>", "aa": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","aa":true,"b":1}`, string(out))
}
