package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arashpm/karigar/services/dispatch-service/internal/booking"
	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
	"github.com/arashpm/karigar/services/dispatch-service/internal/scheduling"
)

func TestValidationStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrInvalidFormat, http.StatusBadRequest},
		{booking.ErrOutOfRange, http.StatusUnprocessableEntity},
		{booking.ErrAlreadyPassed, http.StatusUnprocessableEntity},
		{booking.ErrInsufficientLead, http.StatusUnprocessableEntity},
		{booking.ErrInsufficientUrgentLead, http.StatusUnprocessableEntity},
		{booking.ErrPastDate, http.StatusUnprocessableEntity},
		{errors.New("something else"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := validationStatus(tc.err); got != tc.want {
			t.Errorf("validationStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

type conflictingStore struct{}

func (conflictingStore) SaveAssignment(context.Context, model.Assignment) error {
	return scheduling.ErrConflict
}

func (conflictingStore) DeleteAssignment(context.Context, string) (model.Assignment, bool, error) {
	return model.Assignment{}, false, nil
}

func testHandler(store scheduling.Store) *DispatchHandler {
	reg := scheduling.NewRegistry()
	return &DispatchHandler{
		registry:  reg,
		committer: scheduling.NewCommitter(reg, store),
		clock:     calendar.FixedClock{At: calendar.Moment{Date: calendar.Date{Year: 1405, Month: 1, Day: 1}, Hour: 10}},
		logger:    slog.Default(),
	}
}

func TestAssignWithRetry_Succeeds(t *testing.T) {
	h := testHandler(scheduling.NewMemoryStore())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", nil)
	date := calendar.Date{Year: 1405, Month: 1, Day: 10}
	now := h.clock.Now()

	a, err := h.assignWithRetry(r, "ord-1", []model.Worker{{ID: "w1", Active: true}}, date, 2, now)
	if err != nil {
		t.Fatalf("assignWithRetry failed: %v", err)
	}
	if a.WorkerID != "w1" {
		t.Fatalf("worker = %q, want w1", a.WorkerID)
	}
	// Earliest admissible start is now plus two hours.
	if a.Interval.From != 12 || a.Interval.To != 14 {
		t.Fatalf("interval = %d-%d, want 12-14", a.Interval.From, a.Interval.To)
	}
}

func TestAssignWithRetry_PersistentConflictReportsNoneAvailable(t *testing.T) {
	// The store conflicts on every commit, as if another instance keeps
	// winning the slot. The handler retries once, then gives up.
	h := testHandler(conflictingStore{})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", nil)
	date := calendar.Date{Year: 1405, Month: 1, Day: 10}

	_, err := h.assignWithRetry(r, "ord-1", []model.Worker{{ID: "w1", Active: true}}, date, 1, h.clock.Now())
	if !errors.Is(err, scheduling.ErrNoneAvailable) {
		t.Fatalf("err = %v, want ErrNoneAvailable", err)
	}
}

func TestAssignWithRetry_NoCandidates(t *testing.T) {
	h := testHandler(scheduling.NewMemoryStore())
	r := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", nil)
	date := calendar.Date{Year: 1405, Month: 1, Day: 10}

	_, err := h.assignWithRetry(r, "ord-1", nil, date, 1, h.clock.Now())
	if !errors.Is(err, scheduling.ErrNoneAvailable) {
		t.Fatalf("err = %v, want ErrNoneAvailable", err)
	}
}
