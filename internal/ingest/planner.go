package ingest

// batchPlanner tracks the running fast-path batch size.
//
// The target starts at max. Two consecutive clean batches double it (capped
// at max); a violation halves it (floored at min) and the batch that
// follows is exactly min records.
type batchPlanner struct {
	min, max int
	target   int
	good     int
}

func newBatchPlanner(minSize, maxSize int) *batchPlanner {
	return &batchPlanner{min: minSize, max: maxSize, target: maxSize}
}

// next returns the size of the next fast-path batch.
func (p *batchPlanner) next() int {
	return p.target
}

// clean records a fast-path batch that committed without violations.
func (p *batchPlanner) clean() {
	p.good++
	if p.good < 2 {
		return
	}
	p.good = 0
	p.target *= 2
	if p.target > p.max {
		p.target = p.max
	}
}

// violation records a constraint violation and returns the size of the
// reduced batch to reprocess.
func (p *batchPlanner) violation() int {
	p.good = 0
	p.target /= 2
	if p.target < p.min {
		p.target = p.min
	}
	return p.min
}
