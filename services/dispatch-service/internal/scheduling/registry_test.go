package scheduling

import (
	"sync"
	"testing"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
)

var day = calendar.Date{Year: 1404, Month: 6, Day: 15}

func iv(from, to int) interval.Interval {
	return interval.Interval{Day: day, From: from, To: to}
}

func TestRegistry_IsFree(t *testing.T) {
	r := NewRegistry()
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("empty registry must be free everywhere")
	}
	r.AddOff("w1", iv(10, 12))
	if r.IsFree("w1", iv(11, 13)) {
		t.Fatal("overlapping interval must not be free")
	}
	if !r.IsFree("w1", iv(12, 14)) {
		t.Fatal("touching interval must be free")
	}
	if !r.IsFree("w2", iv(10, 12)) {
		t.Fatal("offs must be scoped per worker")
	}
}

func TestRegistry_ReserveEnforcesNoOverlap(t *testing.T) {
	r := NewRegistry()
	if !r.reserve("w1", iv(10, 13)) {
		t.Fatal("first reserve must succeed")
	}
	if r.reserve("w1", iv(12, 14)) {
		t.Fatal("overlapping reserve must fail")
	}
	if !r.reserve("w1", iv(13, 15)) {
		t.Fatal("adjacent reserve must succeed")
	}

	// The invariant: no two committed intervals overlap.
	offs := r.OffsOn("w1", day)
	for i := range offs {
		for j := i + 1; j < len(offs); j++ {
			if interval.Overlaps(offs[i], offs[j]) {
				t.Fatalf("committed set violates no-overlap: %v / %v", offs[i], offs[j])
			}
		}
	}
}

func TestRegistry_ConcurrentReserveSingleWinner(t *testing.T) {
	r := NewRegistry()
	const attempts = 32

	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.reserve("w1", iv(10, 12)) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for range wins {
		won++
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}
}

func TestRegistry_OffsOnReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.AddOff("w1", iv(10, 12))
	offs := r.OffsOn("w1", day)
	offs[0] = iv(8, 9)
	if r.IsFree("w1", iv(10, 12)) {
		t.Fatal("mutating a snapshot must not touch the registry")
	}
}

func TestRegistry_LoadSortsAndReplaces(t *testing.T) {
	r := NewRegistry()
	r.AddOff("w1", iv(8, 9))
	r.Load("w1", day, []interval.Interval{iv(14, 16), iv(9, 11)})

	offs := r.OffsOn("w1", day)
	if len(offs) != 2 {
		t.Fatalf("Load must replace the day, got %v", offs)
	}
	if offs[0].From != 9 || offs[1].From != 14 {
		t.Fatalf("Load must sort by start hour, got %v", offs)
	}
}

func TestRegistry_RemoveOff(t *testing.T) {
	r := NewRegistry()
	r.AddOff("w1", iv(10, 12))
	r.RemoveOff("w1", iv(10, 12))
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("removed interval must be free again")
	}
	// Removing something absent is a no-op.
	r.RemoveOff("w1", iv(10, 12))
}
