package scheduling

import (
	"errors"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

// ErrNoneAvailable means no candidate worker had a feasible slot. A
// business outcome, not a system fault.
var ErrNoneAvailable = errors.New("no worker available for the requested slot")

// Work never starts before searchFloor or runs past searchCeiling.
const (
	searchFloor   = 8
	searchCeiling = 22
)

// OffsSnapshot is the read side the finder searches against. The
// registry satisfies it; tests may substitute fixtures.
type OffsSnapshot interface {
	OffsOn(workerID string, day calendar.Date) []interval.Interval
}

// Find picks a worker and an interval of sections hours for the
// requested date. Candidates arrive pre-filtered by capability and
// district and are examined in input order.
//
// Policy (kept deliberately, not an oversight): the first candidate
// with a fully open day wins immediately. Otherwise every remaining
// candidate is scanned descending from the day's last feasible start
// hour, and each free slot found overwrites the single running
// recommendation, so the last free slot examined wins. The result is
// deterministic but not a global optimum; it trades optimality for
// latency in an interactive booking flow.
func Find(snap OffsSnapshot, candidates []model.Worker, date calendar.Date, sections int, now calendar.Moment) (model.Placement, error) {
	if sections <= 0 || sections > searchCeiling-searchFloor {
		return model.Placement{}, ErrNoneAvailable
	}

	day, windowStart := searchWindow(date, now)

	var best model.Placement
	found := false

	for _, w := range candidates {
		offs := snap.OffsOn(w.ID, day)
		if len(offs) == 0 {
			// First worker with an open day short-circuits the search.
			return model.Placement{
				WorkerID: w.ID,
				Interval: interval.New(day, windowStart, sections),
			}, nil
		}

		for h := searchCeiling - sections; h >= windowStart; {
			cand := interval.New(day, h, sections)
			if block, conflicted := firstConflict(cand, offs); conflicted {
				// Skip ahead: no start above the blocker's start can fit,
				// so land the candidate's end on it.
				h = block.From - sections
				continue
			}
			best = model.Placement{WorkerID: w.ID, Interval: cand}
			found = true
			h--
		}
	}

	if !found {
		return model.Placement{}, ErrNoneAvailable
	}
	return best, nil
}

// searchWindow derives the earliest admissible start hour: now plus
// two hours, clamped to the working day. Past 22 the whole search
// rolls over to the next day at opening hour.
func searchWindow(date calendar.Date, now calendar.Moment) (calendar.Date, int) {
	start := now.Hour + 2
	switch {
	case start >= searchCeiling:
		return calendar.AddDays(date, 1), searchFloor
	case start < searchFloor:
		return date, searchFloor
	default:
		return date, start
	}
}

func firstConflict(cand interval.Interval, offs []interval.Interval) (interval.Interval, bool) {
	for _, off := range offs {
		if interval.Overlaps(off, cand) {
			return off, true
		}
	}
	return interval.Interval{}, false
}
