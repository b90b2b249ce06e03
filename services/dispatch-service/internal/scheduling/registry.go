// Package scheduling holds the stateful core of the dispatcher: the
// per-worker off-registry, the free-worker finder, and the assignment
// committer. Reads run concurrently on snapshots; every mutation for a
// given worker is serialized behind that worker's gate so two bookings
// can never both pass the freshness check and both commit.
package scheduling

import (
	"sort"
	"sync"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
)

// Registry is the authoritative set of committed unavailability
// intervals per worker per day. Callers never see the underlying
// slices; reads return copies and writes go through the committer or
// the explicit time-off hooks.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*workerOffs
}

type workerOffs struct {
	mu   sync.Mutex
	days map[calendar.Date][]interval.Interval
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*workerOffs)}
}

func (r *Registry) worker(id string) *workerOffs {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.workers[id]
	if w == nil {
		w = &workerOffs{days: make(map[calendar.Date][]interval.Interval)}
		r.workers[id] = w
	}
	return w
}

// IsFree reports whether no committed interval of the worker overlaps
// iv on its day.
func (r *Registry) IsFree(workerID string, iv interval.Interval) bool {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.isFreeLocked(iv)
}

func (w *workerOffs) isFreeLocked(iv interval.Interval) bool {
	for _, off := range w.days[iv.Day] {
		if interval.Overlaps(off, iv) {
			return false
		}
	}
	return true
}

// OffsOn returns a copy of the worker's committed intervals for a day,
// ordered by start hour. Safe to use as a search snapshot while other
// requests commit.
func (r *Registry) OffsOn(workerID string, day calendar.Date) []interval.Interval {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	offs := w.days[day]
	out := make([]interval.Interval, len(offs))
	copy(out, offs)
	return out
}

// AddOff records explicit unavailability (time off from the worker
// directory). Unlike reserve it does not reject overlaps: overlapping
// time-off only widens the blocked area.
func (r *Registry) AddOff(workerID string, iv interval.Interval) {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insertLocked(iv)
}

// RemoveOff drops one previously recorded interval. Removing an
// interval that is not present is a no-op.
func (r *Registry) RemoveOff(workerID string, iv interval.Interval) {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(iv)
}

// Load replaces a worker's intervals for one day, used when warming
// the registry from storage.
func (r *Registry) Load(workerID string, day calendar.Date, offs []interval.Interval) {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	sorted := make([]interval.Interval, len(offs))
	copy(sorted, offs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })
	w.days[day] = sorted
}

// reserve appends iv iff it conflicts with nothing already committed.
// The check and the append happen under the worker's gate; this is the
// single place the no-overlap invariant is enforced.
func (r *Registry) reserve(workerID string, iv interval.Interval) bool {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isFreeLocked(iv) {
		return false
	}
	w.insertLocked(iv)
	return true
}

// free removes a committed interval, releasing the slot.
func (r *Registry) free(workerID string, iv interval.Interval) {
	w := r.worker(workerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removeLocked(iv)
}

func (w *workerOffs) insertLocked(iv interval.Interval) {
	offs := w.days[iv.Day]
	at := sort.Search(len(offs), func(i int) bool { return offs[i].From >= iv.From })
	offs = append(offs, interval.Interval{})
	copy(offs[at+1:], offs[at:])
	offs[at] = iv
	w.days[iv.Day] = offs
}

func (w *workerOffs) removeLocked(iv interval.Interval) {
	offs := w.days[iv.Day]
	for i, off := range offs {
		if off == iv {
			w.days[iv.Day] = append(offs[:i], offs[i+1:]...)
			return
		}
	}
}
