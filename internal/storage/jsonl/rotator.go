package jsonl

// DefaultCheckInterval is the number of appended records between rotation checks.
const DefaultCheckInterval = 100

// Rotator decides when a rotation check is due. It is owned by the single
// writer and is not safe for concurrent use.
type Rotator struct {
	every int
	since int
}

// NewRotator returns a rotator that fires after every n records.
func NewRotator(n int) *Rotator {
	if n <= 0 {
		n = DefaultCheckInterval
	}
	return &Rotator{every: n}
}

// Track adds n written records and reports whether a check is due.
// The counter resets when it fires.
func (r *Rotator) Track(n int) bool {
	r.since += n
	if r.since < r.every {
		return false
	}
	r.since = 0
	return true
}
