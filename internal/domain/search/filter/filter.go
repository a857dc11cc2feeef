// Package filter holds the metadata constraints a search can carry.
package filter

import (
	"fmt"
	"time"
)

// Filter narrows a similarity search by source metadata: exact sender
// match and/or a timestamp range. The zero value matches everything.
type Filter struct {
	sender string
	after  time.Time // inclusive lower bound, zero = unbounded
	before time.Time // exclusive upper bound, zero = unbounded
}

// New validates and creates a Filter.
func New(sender string, after, before time.Time) (Filter, error) {
	if !after.IsZero() && !before.IsZero() && !after.Before(before) {
		return Filter{}, fmt.Errorf("after (%s) must precede before (%s)", after, before)
	}
	return Filter{sender: sender, after: after, before: before}, nil
}

// Sender returns the exact sender constraint, empty when unset.
func (f Filter) Sender() string { return f.sender }

// After returns the inclusive lower timestamp bound.
func (f Filter) After() time.Time { return f.after }

// Before returns the exclusive upper timestamp bound.
func (f Filter) Before() time.Time { return f.before }

// IsEmpty reports whether the filter carries no constraints.
func (f Filter) IsEmpty() bool {
	return f.sender == "" && f.after.IsZero() && f.before.IsZero()
}

// HasDateRange reports whether a timestamp bound is set.
func (f Filter) HasDateRange() bool {
	return !f.after.IsZero() || !f.before.IsZero()
}

// Matches reports whether a chunk with the given sender and timestamp
// satisfies the filter.
func (f Filter) Matches(sender string, ts time.Time) bool {
	if f.sender != "" && sender != f.sender {
		return false
	}
	if !f.after.IsZero() && ts.Before(f.after) {
		return false
	}
	if !f.before.IsZero() && !ts.Before(f.before) {
		return false
	}
	return true
}
