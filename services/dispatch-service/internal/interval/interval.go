// Package interval models the half-open hour ranges the scheduler
// commits against. Two overlap predicates are exported: the strict
// half-open reading used by the registry, and the legacy conservative
// reading kept for comparison (the two agree on every well-formed
// pair; see the characterization tests).
package interval

import (
	"fmt"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
)

// Interval is a half-open hour range [From, To) on a calendar day.
// 0 <= From < To <= 24 for well-formed values.
type Interval struct {
	Day  calendar.Date
	From int
	To   int
}

// New builds an interval covering sections hours starting at from.
func New(day calendar.Date, from, sections int) Interval {
	return Interval{Day: day, From: from, To: from + sections}
}

// Valid reports whether the interval is a well-formed hour range.
func (iv Interval) Valid() bool {
	return iv.From >= 0 && iv.From < iv.To && iv.To <= 24
}

// Hours returns the interval length in hours.
func (iv Interval) Hours() int { return iv.To - iv.From }

func (iv Interval) String() string {
	return fmt.Sprintf("%s %02d-%02d", calendar.Format(iv.Day), iv.From, iv.To)
}

// Overlaps is the strict half-open predicate: same day and
// a.From < b.To && b.From < a.To. Touching endpoints do not conflict.
func Overlaps(a, b Interval) bool {
	if a.Day != b.Day {
		return false
	}
	return a.From < b.To && b.From < a.To
}

// OverlapsInclusive is the conservative predicate carried over from
// the legacy scheduler: same day and any of containment either way, a
// starting inside b, or a ending inside b. Each clause is kept
// literally as the legacy code wrote it.
func OverlapsInclusive(a, b Interval) bool {
	if a.Day != b.Day {
		return false
	}
	switch {
	case a.From <= b.From && a.To >= b.To: // a fully contains b
		return true
	case b.From <= a.From && b.To >= a.To: // b fully contains a
		return true
	case a.From <= b.From && a.To > b.From: // a starts inside b
		return true
	case a.From < b.To && a.To >= b.To: // a ends inside b
		return true
	default:
		return false
	}
}
