// Package quota tracks per-resource-type creation budgets for a single
// generation run. Trackers are created fresh per run and never persisted.
package quota

import "math"

// Documented per-resource defaults, applied when the caller passes no limit.
const (
	DefaultMaxLocations   = 100
	DefaultMaxExperiences = 200
	DefaultMaxPlans       = 50
)

// Tracker is a monotonic consumption counter against a fixed limit.
// A raw limit of 0 is the wire sentinel for "unlimited".
type Tracker struct {
	limit     int
	consumed  int
	unlimited bool
}

// New builds a tracker from a raw limit value. nil means "use the documented
// default", 0 means unlimited, negative values fall back to the default.
func New(raw *int, def int) *Tracker {
	if raw == nil || *raw < 0 {
		return &Tracker{limit: def}
	}
	if *raw == 0 {
		return &Tracker{unlimited: true}
	}
	return &Tracker{limit: *raw}
}

// LimitReached reports whether the budget is exhausted. Always false for an
// unlimited tracker, no matter how much has been consumed.
func (t *Tracker) LimitReached() bool {
	if t.unlimited {
		return false
	}
	return t.consumed >= t.limit
}

// Remaining returns the unconsumed budget, or math.MaxInt when unlimited.
func (t *Tracker) Remaining() int {
	if t.unlimited {
		return math.MaxInt
	}
	if r := t.limit - t.consumed; r > 0 {
		return r
	}
	return 0
}

// Consume records n successful creations. Callers consume immediately after
// each creation, not in a batch at end of phase, so a crash mid-phase leaves
// an accurate count.
func (t *Tracker) Consume(n int) {
	t.consumed += n
}

// Consumed returns the total consumed so far.
func (t *Tracker) Consumed() int {
	return t.consumed
}

// Unlimited reports whether this tracker has no finite limit.
func (t *Tracker) Unlimited() bool {
	return t.unlimited
}

// Set groups the three per-run budgets.
type Set struct {
	Locations   *Tracker
	Experiences *Tracker
	Plans       *Tracker
}
