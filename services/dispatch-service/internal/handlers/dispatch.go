package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/arashpm/karigar/services/dispatch-service/internal/booking"
	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
	"github.com/arashpm/karigar/services/dispatch-service/internal/outbox"
	"github.com/arashpm/karigar/services/dispatch-service/internal/scheduling"
	"github.com/arashpm/karigar/services/dispatch-service/internal/storage"
	"github.com/arashpm/karigar/services/dispatch-service/internal/workerdir"
)

// DispatchHandler exposes the booking-window and assignment operations
// over HTTP. The in-process registry answers availability; the
// repository is the durable record and cross-instance guard.
type DispatchHandler struct {
	repo      *storage.DispatchRepository
	registry  *scheduling.Registry
	committer *scheduling.Committer
	directory workerdir.Directory
	clock     calendar.Clock
	logger    *slog.Logger
}

func NewDispatchHandler(repo *storage.DispatchRepository, registry *scheduling.Registry, committer *scheduling.Committer, directory workerdir.Directory, clock calendar.Clock, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{
		repo:      repo,
		registry:  registry,
		committer: committer,
		directory: directory,
		clock:     clock,
		logger:    logger,
	}
}

type bookRequest struct {
	OrderID          string `json:"order_id"`
	ServiceID        string `json:"service_id"`
	District         string `json:"district"`
	Date             string `json:"date"`
	Hour             int    `json:"hour"`
	DurationSections int    `json:"duration_sections"`
	Urgent           bool   `json:"urgent"`
}

type bookResponse struct {
	AssignmentID string `json:"assignment_id"`
	OrderID      string `json:"order_id"`
	WorkerID     string `json:"worker_id"`
	Day          string `json:"day"`
	FromHour     int    `json:"from_hour"`
	ToHour       int    `json:"to_hour"`
}

type reassignRequest struct {
	OrderID          string `json:"order_id"`
	ServiceID        string `json:"service_id"`
	District         string `json:"district"`
	Date             string `json:"date"`
	DurationSections int    `json:"duration_sections"`
}

type cancelRequest struct {
	OrderID string `json:"order_id"`
}

type cancelResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type assignmentItem struct {
	AssignmentID string `json:"assignment_id"`
	OrderID      string `json:"order_id"`
	WorkerID     string `json:"worker_id"`
	Day          string `json:"day"`
	FromHour     int    `json:"from_hour"`
	ToHour       int    `json:"to_hour"`
	CreatedAt    string `json:"created_at"`
}

type hoursResponse struct {
	Date  string `json:"date"`
	Hours []int  `json:"hours"`
}

// Hours lists the bookable hours for a date. With worker_id the
// worker's committed offs are subtracted; without it the answer is
// purely temporal.
func (h *DispatchHandler) Hours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		http.Error(w, "date required", http.StatusBadRequest)
		return
	}
	date, err := calendar.ParseStrict(dateStr)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	urgent := r.URL.Query().Get("urgent") == "true"

	booked := booking.BookedIndex{}
	if workerID := strings.TrimSpace(r.URL.Query().Get("worker_id")); workerID != "" {
		taken, err := h.repo.BookedHours(r.Context(), workerID, date)
		if err != nil {
			http.Error(w, "failed to load booked hours", http.StatusInternalServerError)
			return
		}
		booked[date] = taken
	}

	hours := booking.AvailableHours(date, urgent, h.clock.Now(), booked)
	writeJSON(w, http.StatusOK, hoursResponse{Date: calendar.Format(date), Hours: hours})
}

// Book validates the requested window, finds a free worker, and
// commits the assignment. A commit-time conflict triggers exactly one
// fresh search before the request is refused.
func (h *DispatchHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.District = strings.TrimSpace(req.District)
	if req.OrderID == "" || req.ServiceID == "" || req.District == "" {
		http.Error(w, "order_id, service_id and district required", http.StatusBadRequest)
		return
	}
	if req.DurationSections <= 0 {
		req.DurationSections = 1
	}

	ctx := r.Context()
	now := h.clock.Now()

	date, err := booking.Validate(booking.Request{
		Date:             req.Date,
		Hour:             req.Hour,
		DurationSections: req.DurationSections,
		Urgent:           req.Urgent,
	}, now)
	if err != nil {
		http.Error(w, err.Error(), validationStatus(err))
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		if done := h.replayIdempotent(w, r, idempotencyKey); done {
			return
		}
	}

	candidates, err := h.directory.Candidates(ctx, req.ServiceID, req.District)
	if err != nil {
		http.Error(w, "worker directory unavailable", http.StatusServiceUnavailable)
		return
	}

	assignment, err := h.assignWithRetry(r, req.OrderID, candidates, date, req.DurationSections, now)
	if err != nil {
		if errors.Is(err, scheduling.ErrNoneAvailable) {
			msg := "no worker available for the requested slot"
			if idempotencyKey != "" {
				h.finalizeIdempotencyError(r, idempotencyKey, http.StatusConflict, msg)
			}
			http.Error(w, msg, http.StatusConflict)
			return
		}
		h.logger.Error("assignment commit failed", "order_id", req.OrderID, "err", err)
		http.Error(w, "failed to commit assignment", http.StatusInternalServerError)
		return
	}

	resp := bookResponse{
		AssignmentID: assignment.ID,
		OrderID:      assignment.OrderID,
		WorkerID:     assignment.WorkerID,
		Day:          calendar.Format(assignment.Interval.Day),
		FromHour:     assignment.Interval.From,
		ToHour:       assignment.Interval.To,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		h.finalizeIdempotencySuccess(r, idempotencyKey, assignment.OrderID, http.StatusCreated, body)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

// assignWithRetry runs one search-and-commit round, and on a
// commit-time conflict exactly one more with a fresh snapshot. A
// second conflict is reported as none available.
func (h *DispatchHandler) assignWithRetry(r *http.Request, orderID string, candidates []model.Worker, date calendar.Date, sections int, now calendar.Moment) (model.Assignment, error) {
	for attempt := 0; attempt < 2; attempt++ {
		placement, err := scheduling.Find(h.registry, candidates, date, sections, now)
		if err != nil {
			return model.Assignment{}, err
		}
		assignment, err := h.committer.Assign(r.Context(), orderID, placement.WorkerID, placement.Interval)
		if err == nil {
			return assignment, nil
		}
		if !errors.Is(err, scheduling.ErrConflict) {
			return model.Assignment{}, err
		}
	}
	return model.Assignment{}, scheduling.ErrNoneAvailable
}

// Reassign releases an order's current assignment and commits a fresh
// one. The old slot is not restored if the new search fails.
func (h *DispatchHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req reassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.District = strings.TrimSpace(req.District)
	if req.OrderID == "" || req.ServiceID == "" || req.District == "" {
		http.Error(w, "order_id, service_id and district required", http.StatusBadRequest)
		return
	}
	if req.DurationSections <= 0 {
		req.DurationSections = 1
	}
	date, err := calendar.ParseStrict(strings.TrimSpace(req.Date))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := h.clock.Now()

	// The worker being moved away from is excluded from the new search.
	prevWorkerID := ""
	if prev, err := h.repo.GetAssignment(ctx, req.OrderID); err == nil {
		prevWorkerID = prev.WorkerID
	} else if !storage.IsNotFound(err) {
		http.Error(w, "failed to load current assignment", http.StatusInternalServerError)
		return
	}

	if err := h.committer.Release(ctx, req.OrderID); err != nil {
		h.logger.Error("release before reassign failed", "order_id", req.OrderID, "err", err)
		http.Error(w, "failed to release current assignment", http.StatusInternalServerError)
		return
	}

	candidates, err := h.directory.Candidates(ctx, req.ServiceID, req.District)
	if err != nil {
		http.Error(w, "worker directory unavailable", http.StatusServiceUnavailable)
		return
	}
	if prevWorkerID != "" {
		kept := candidates[:0]
		for _, c := range candidates {
			if c.ID != prevWorkerID {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	assignment, err := h.assignWithRetry(r, req.OrderID, candidates, date, req.DurationSections, now)
	if err != nil {
		if errors.Is(err, scheduling.ErrNoneAvailable) {
			http.Error(w, "no worker available for the requested slot", http.StatusConflict)
			return
		}
		h.logger.Error("reassignment commit failed", "order_id", req.OrderID, "err", err)
		http.Error(w, "failed to commit reassignment", http.StatusInternalServerError)
		return
	}

	payload, err := json.Marshal(map[string]any{
		"assignment_id": assignment.ID,
		"order_id":      assignment.OrderID,
		"worker_id":     assignment.WorkerID,
		"day":           calendar.Format(assignment.Interval.Day),
		"from_hour":     assignment.Interval.From,
		"to_hour":       assignment.Interval.To,
	})
	if err == nil {
		if err := h.repo.EmitEvent(ctx, outbox.Event{
			AggregateType: "assignment",
			AggregateID:   assignment.OrderID,
			EventType:     outbox.TopicAssignmentReassigned,
			Payload:       payload,
		}); err != nil {
			h.logger.Error("failed to emit reassignment event", "order_id", assignment.OrderID, "err", err)
		}
	}

	writeJSON(w, http.StatusOK, bookResponse{
		AssignmentID: assignment.ID,
		OrderID:      assignment.OrderID,
		WorkerID:     assignment.WorkerID,
		Day:          calendar.Format(assignment.Interval.Day),
		FromHour:     assignment.Interval.From,
		ToHour:       assignment.Interval.To,
	})
}

// Cancel releases the assignment for an order. Cancelling an order
// with no assignment succeeds.
func (h *DispatchHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		http.Error(w, "order_id required", http.StatusBadRequest)
		return
	}

	if err := h.committer.Release(r.Context(), req.OrderID); err != nil {
		h.logger.Error("release failed", "order_id", req.OrderID, "err", err)
		http.Error(w, "failed to release assignment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{OrderID: req.OrderID, Status: "released"})
}

// List returns committed assignments filtered by worker and/or day.
func (h *DispatchHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	var day *calendar.Date
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		d, err := calendar.ParseStrict(raw)
		if err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
		day = &d
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	assignments, err := h.repo.ListAssignments(r.Context(), workerID, day, limit)
	if err != nil {
		http.Error(w, "failed to list assignments", http.StatusInternalServerError)
		return
	}

	items := make([]assignmentItem, 0, len(assignments))
	for _, a := range assignments {
		items = append(items, assignmentItem{
			AssignmentID: a.ID,
			OrderID:      a.OrderID,
			WorkerID:     a.WorkerID,
			Day:          calendar.Format(a.Interval.Day),
			FromHour:     a.Interval.From,
			ToHour:       a.Interval.To,
			CreatedAt:    a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// replayIdempotent returns true when a finalized response for the key
// was replayed to the client.
func (h *DispatchHandler) replayIdempotent(w http.ResponseWriter, r *http.Request, key string) bool {
	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return true
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, key)
	if err != nil {
		http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
		return true
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return true
	}
	if !exists || rec.StatusCode == 0 {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rec.StatusCode)
	if len(rec.ResponsePayload) > 0 {
		_, _ = w.Write(rec.ResponsePayload)
	}
	return true
}

func (h *DispatchHandler) finalizeIdempotencySuccess(r *http.Request, key, orderID string, statusCode int, body []byte) {
	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.logger.Error("failed to finalize idempotency", "err", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := h.repo.FinalizeIdempotency(ctx, tx, key, orderID, statusCode, body); err != nil {
		h.logger.Error("failed to finalize idempotency", "err", err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("failed to finalize idempotency", "err", err)
	}
}

func (h *DispatchHandler) finalizeIdempotencyError(r *http.Request, key string, statusCode int, msg string) {
	body, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return
	}
	h.finalizeIdempotencySuccess(r, key, "", statusCode, body)
}

func validationStatus(err error) int {
	switch {
	case errors.Is(err, booking.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrOutOfRange),
		errors.Is(err, booking.ErrAlreadyPassed),
		errors.Is(err, booking.ErrInsufficientLead),
		errors.Is(err, booking.ErrInsufficientUrgentLead),
		errors.Is(err, booking.ErrPastDate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
