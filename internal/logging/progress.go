package logging

import "sync"

// BatchProgress decides when a fan-out over a fixed number of units reports
// progress: once per step-percent bucket and always on the last unit. It is
// safe for concurrent use by the fan-out's workers.
type BatchProgress struct {
	mu         sync.Mutex
	total      int
	done       int
	step       float64
	lastBucket int
}

// NewBatchProgress tracks total units, reporting every stepPercent percent
// (10 when stepPercent is not positive).
func NewBatchProgress(total int, stepPercent float64) *BatchProgress {
	if stepPercent <= 0 {
		stepPercent = 10
	}
	return &BatchProgress{total: total, step: stepPercent}
}

// Complete records one finished unit. It returns the completed count, the
// percentage done, and whether this completion should be logged.
func (p *BatchProgress) Complete() (done int, percent float64, report bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done < p.total {
		p.done++
	}
	if p.total <= 0 {
		return p.done, 100, true
	}
	percent = float64(p.done) / float64(p.total) * 100
	if bucket := int(percent / p.step); bucket > p.lastBucket {
		p.lastBucket = bucket
		report = true
	}
	return p.done, percent, report
}
