package scheduling

import (
	"errors"
	"testing"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

func workers(ids ...string) []model.Worker {
	out := make([]model.Worker, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Worker{ID: id, Active: true})
	}
	return out
}

func at(hour int) calendar.Moment {
	return calendar.Moment{Date: day, Hour: hour}
}

func TestFind_OpenDayWorkerWinsEvenWhenLast(t *testing.T) {
	r := NewRegistry()
	r.AddOff("busy1", iv(10, 12))
	r.AddOff("busy2", iv(14, 16))

	// The open-day worker is deliberately last in the candidate list.
	got, err := Find(r, workers("busy1", "busy2", "open"), day, 2, at(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WorkerID != "open" {
		t.Fatalf("open-day worker must win regardless of position, got %q", got.WorkerID)
	}
	// windowStart = 9+2 = 11.
	if got.Interval != iv(11, 13) {
		t.Fatalf("interval = %v, want %v", got.Interval, iv(11, 13))
	}
}

func TestFind_DescendingScanLastRecordedWins(t *testing.T) {
	r := NewRegistry()
	r.AddOff("a", iv(12, 14))
	r.AddOff("b", iv(18, 20))

	// windowStart 11. Worker a records free starts 20..14 then jumps
	// below the window at its block. Worker b then overwrites down to
	// 11, so the final recommendation is b at the last hour examined.
	got, err := Find(r, workers("a", "b"), day, 2, at(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WorkerID != "b" || got.Interval != iv(11, 13) {
		t.Fatalf("got %+v, want worker b at %v", got, iv(11, 13))
	}
}

func TestFind_SkipAheadPastBlock(t *testing.T) {
	r := NewRegistry()
	// One wide block late in the day; the only free room is before it.
	r.AddOff("a", iv(13, 22))

	got, err := Find(r, workers("a"), day, 2, at(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Scan starts at 20, conflicts, jumps to 13-2=11, which is free and
	// also the window floor.
	if got.Interval != iv(11, 13) {
		t.Fatalf("interval = %v, want %v", got.Interval, iv(11, 13))
	}
}

func TestFind_RollsOverToNextDayAfterLateRequest(t *testing.T) {
	r := NewRegistry()
	next := calendar.AddDays(day, 1)

	got, err := Find(r, workers("a"), day, 3, at(21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := interval.Interval{Day: next, From: 8, To: 11}
	if got.Interval != want {
		t.Fatalf("late request must roll to next day opening, got %v", got.Interval)
	}
}

func TestFind_ClampsEarlyMorningToOpening(t *testing.T) {
	r := NewRegistry()
	got, err := Find(r, workers("a"), day, 2, at(4))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Interval != iv(8, 10) {
		t.Fatalf("pre-opening request must clamp to hour 8, got %v", got.Interval)
	}
}

func TestFind_NoneAvailable(t *testing.T) {
	r := NewRegistry()
	r.AddOff("a", iv(8, 22))

	_, err := Find(r, workers("a"), day, 2, at(9))
	if !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("want ErrNoneAvailable, got %v", err)
	}

	if _, err := Find(r, workers("a"), day, 2, at(9)); !errors.Is(err, ErrNoneAvailable) {
		t.Fatal("result must be stable across calls")
	}

	if _, err := Find(r, nil, day, 2, at(9)); !errors.Is(err, ErrNoneAvailable) {
		t.Fatal("no candidates means none available")
	}
}

func TestFind_RejectsUnusableDurations(t *testing.T) {
	r := NewRegistry()
	for _, sections := range []int{0, -1, 15} {
		if _, err := Find(r, workers("a"), day, sections, at(9)); !errors.Is(err, ErrNoneAvailable) {
			t.Errorf("sections=%d: want ErrNoneAvailable, got %v", sections, err)
		}
	}
}

func TestFind_BusyWorkerStillUsedWhenAlone(t *testing.T) {
	r := NewRegistry()
	r.AddOff("a", iv(11, 13))

	got, err := Find(r, workers("a"), day, 2, at(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WorkerID != "a" {
		t.Fatalf("got %q", got.WorkerID)
	}
	if interval.Overlaps(got.Interval, iv(11, 13)) {
		t.Fatalf("recommended slot %v overlaps the committed block", got.Interval)
	}
}
