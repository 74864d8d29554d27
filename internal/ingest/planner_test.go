package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBatchPlanner_StartsAtMax(t *testing.T) {
	p := newBatchPlanner(2, 16)
	assert.Equal(t, 16, p.next())

	p.clean()
	p.clean()
	assert.Equal(t, 16, p.next(), "doubling is capped at max")
}

func TestBatchPlanner_ViolationHalvesTarget(t *testing.T) {
	p := newBatchPlanner(2, 16)

	assert.Equal(t, 2, p.violation(), "reduced batch is min")
	assert.Equal(t, 8, p.next())

	p.violation()
	p.violation()
	p.violation()
	assert.Equal(t, 2, p.next(), "target is floored at min")
}

func TestBatchPlanner_TwoCleanBatchesDouble(t *testing.T) {
	p := newBatchPlanner(2, 16)
	p.violation()
	p.violation()
	assert.Equal(t, 4, p.next())

	p.clean()
	assert.Equal(t, 4, p.next(), "one clean batch is not enough")
	p.clean()
	assert.Equal(t, 8, p.next())

	p.clean()
	p.violation()
	p.clean()
	assert.Equal(t, 4, p.next(), "a violation resets the clean streak")
	p.clean()
	assert.Equal(t, 8, p.next())
}
