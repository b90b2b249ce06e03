package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arashpm/karigar/libs/db"
	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
	"github.com/arashpm/karigar/services/dispatch-service/internal/outbox"
	"github.com/arashpm/karigar/services/dispatch-service/internal/scheduling"
)

// DispatchRepository is the durable side of the scheduler: assignments
// with their off rows, the worker directory cache, idempotency keys,
// and the outbox writes that ride the same transactions. Days are
// stored in the canonical YYYY/MM/DD form, so lexicographic order in
// SQL matches calendar order.
type DispatchRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewDispatchRepository(pool *db.Pool, outboxRepo *outbox.Repository) *DispatchRepository {
	return &DispatchRepository{pool: pool, outbox: outboxRepo}
}

func (r *DispatchRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// SaveAssignment implements scheduling.Store. The assignment row, its
// off row, and the committed event land in one transaction. The
// exclusion constraint on (worker, day, hour range) is the
// cross-instance commit guard; its violation surfaces as
// scheduling.ErrConflict.
func (r *DispatchRepository) SaveAssignment(ctx context.Context, a model.Assignment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	day := calendar.Format(a.Interval.Day)
	_, err = tx.Exec(ctx, `
		INSERT INTO assignments (id, order_id, worker_id, day, from_hour, to_hour)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.OrderID, a.WorkerID, day, a.Interval.From, a.Interval.To)
	if err != nil {
		if isPgConflict(err) {
			return fmt.Errorf("assignment for order %s: %w", a.OrderID, scheduling.ErrConflict)
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO worker_offs (worker_id, day, from_hour, to_hour, source, order_id)
		VALUES ($1, $2, $3, $4, 'assignment', $5)
	`, a.WorkerID, day, a.Interval.From, a.Interval.To, a.OrderID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]any{
		"assignment_id": a.ID,
		"order_id":      a.OrderID,
		"worker_id":     a.WorkerID,
		"day":           day,
		"from_hour":     a.Interval.From,
		"to_hour":       a.Interval.To,
	})
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "assignment",
		AggregateID:   a.OrderID,
		EventType:     outbox.TopicAssignmentCommitted,
		Payload:       payload,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// DeleteAssignment implements scheduling.Store. Missing assignments
// report ok=false without error, which keeps release idempotent.
func (r *DispatchRepository) DeleteAssignment(ctx context.Context, orderID string) (model.Assignment, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Assignment{}, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var a model.Assignment
	var day string
	err = tx.QueryRow(ctx, `
		SELECT id::text, order_id, worker_id, day, from_hour, to_hour, created_at
		FROM assignments
		WHERE order_id = $1
		FOR UPDATE
	`, orderID).Scan(&a.ID, &a.OrderID, &a.WorkerID, &day, &a.Interval.From, &a.Interval.To, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Assignment{}, false, nil
	}
	if err != nil {
		return model.Assignment{}, false, err
	}
	a.Interval.Day, err = calendar.ParseStrict(day)
	if err != nil {
		return model.Assignment{}, false, fmt.Errorf("stored day %q: %w", day, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM assignments WHERE order_id = $1`, orderID); err != nil {
		return model.Assignment{}, false, err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM worker_offs WHERE order_id = $1 AND source = 'assignment'
	`, orderID); err != nil {
		return model.Assignment{}, false, err
	}

	payload, err := json.Marshal(map[string]any{
		"assignment_id": a.ID,
		"order_id":      a.OrderID,
		"worker_id":     a.WorkerID,
		"day":           day,
		"from_hour":     a.Interval.From,
		"to_hour":       a.Interval.To,
	})
	if err != nil {
		return model.Assignment{}, false, err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "assignment",
		AggregateID:   a.OrderID,
		EventType:     outbox.TopicAssignmentReleased,
		Payload:       payload,
	}); err != nil {
		return model.Assignment{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Assignment{}, false, err
	}
	return a, true, nil
}

// EmitEvent writes a standalone outbox event in its own transaction,
// used for events that do not ride an assignment mutation.
func (r *DispatchRepository) EmitEvent(ctx context.Context, evt outbox.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertWorker refreshes the local worker directory cache from a
// directory event.
func (r *DispatchRepository) UpsertWorker(ctx context.Context, w model.Worker) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO workers (id, service_ids, district, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET service_ids = EXCLUDED.service_ids,
			district = EXCLUDED.district,
			is_active = EXCLUDED.is_active,
			updated_at = now()
	`, w.ID, w.ServiceIDs, w.District, w.Active)
	return err
}

// Candidates lists active cached workers capable of a service within a
// district, in stable id order. The finder examines them in this
// order.
func (r *DispatchRepository) Candidates(ctx context.Context, serviceID, district string) ([]model.Worker, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, service_ids, district, is_active
		FROM workers
		WHERE is_active
			AND $1 = ANY(service_ids)
			AND district = $2
		ORDER BY id
	`, serviceID, district)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		var w model.Worker
		if err := rows.Scan(&w.ID, &w.ServiceIDs, &w.District, &w.Active); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// WorkerOff is one committed unavailability row.
type WorkerOff struct {
	WorkerID string
	Interval interval.Interval
}

// OffsForDays loads every committed off row for the given days, used
// to warm the in-process registry at startup.
func (r *DispatchRepository) OffsForDays(ctx context.Context, days []calendar.Date) ([]WorkerOff, error) {
	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, calendar.Format(d))
	}
	rows, err := r.pool.Query(ctx, `
		SELECT worker_id, day, from_hour, to_hour
		FROM worker_offs
		WHERE day = ANY($1)
		ORDER BY worker_id, day, from_hour
	`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WorkerOff
	for rows.Next() {
		var off WorkerOff
		var day string
		if err := rows.Scan(&off.WorkerID, &day, &off.Interval.From, &off.Interval.To); err != nil {
			return nil, err
		}
		off.Interval.Day, err = calendar.ParseStrict(day)
		if err != nil {
			return nil, fmt.Errorf("stored day %q: %w", day, err)
		}
		out = append(out, off)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// BookedHours returns the set of hours covered by a worker's offs on a
// day, the index AvailableHours filters against.
func (r *DispatchRepository) BookedHours(ctx context.Context, workerID string, day calendar.Date) (map[int]bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT from_hour, to_hour
		FROM worker_offs
		WHERE worker_id = $1 AND day = $2
	`, workerID, calendar.Format(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hours := make(map[int]bool)
	for rows.Next() {
		var from, to int
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		for h := from; h < to; h++ {
			hours[h] = true
		}
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return hours, nil
}

// InsertTimeOff records explicit worker unavailability delivered by
// the directory. Duplicate deliveries of the same time-off id are
// ignored.
func (r *DispatchRepository) InsertTimeOff(ctx context.Context, timeOffID, workerID string, iv interval.Interval) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO worker_offs (worker_id, day, from_hour, to_hour, source, timeoff_id)
		VALUES ($1, $2, $3, $4, 'timeoff', $5)
		ON CONFLICT (timeoff_id) DO NOTHING
	`, workerID, calendar.Format(iv.Day), iv.From, iv.To, timeOffID)
	return err
}

// GetAssignment fetches the committed assignment for an order.
func (r *DispatchRepository) GetAssignment(ctx context.Context, orderID string) (model.Assignment, error) {
	var a model.Assignment
	var day string
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, order_id, worker_id, day, from_hour, to_hour, created_at
		FROM assignments
		WHERE order_id = $1
	`, orderID).Scan(&a.ID, &a.OrderID, &a.WorkerID, &day, &a.Interval.From, &a.Interval.To, &a.CreatedAt)
	if err != nil {
		return model.Assignment{}, err
	}
	a.Interval.Day, err = calendar.ParseStrict(day)
	if err != nil {
		return model.Assignment{}, fmt.Errorf("stored day %q: %w", day, err)
	}
	return a, nil
}

// ListAssignments lists committed assignments, optionally narrowed to
// one worker and/or day, newest first.
func (r *DispatchRepository) ListAssignments(ctx context.Context, workerID string, day *calendar.Date, limit int) ([]model.Assignment, error) {
	if limit <= 0 {
		limit = 50
	}
	dayKey := ""
	if day != nil {
		dayKey = calendar.Format(*day)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, order_id, worker_id, day, from_hour, to_hour, created_at
		FROM assignments
		WHERE ($1 = '' OR worker_id = $1)
			AND ($2 = '' OR day = $2)
		ORDER BY day DESC, from_hour DESC
		LIMIT $3
	`, workerID, dayKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Assignment
	for rows.Next() {
		var a model.Assignment
		var d string
		if err := rows.Scan(&a.ID, &a.OrderID, &a.WorkerID, &d, &a.Interval.From, &a.Interval.To, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Interval.Day, err = calendar.ParseStrict(d)
		if err != nil {
			return nil, fmt.Errorf("stored day %q: %w", d, err)
		}
		out = append(out, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

type IdempotencyRecord struct {
	IdempotencyKey  string
	OrderID         string
	StatusCode      int
	ResponsePayload []byte
}

// LockIdempotencyKey claims or re-reads a key under FOR UPDATE.
// exists is true when a prior attempt already finalized a response.
func (r *DispatchRepository) LockIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, bool, error) {
	rec, err := r.selectIdempotencyForUpdate(ctx, tx, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dispatch_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = r.selectIdempotencyForUpdate(ctx, tx, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	return rec, false, nil
}

func (r *DispatchRepository) FinalizeIdempotency(ctx context.Context, tx pgx.Tx, key, orderID string, statusCode int, response []byte) error {
	_, err := tx.Exec(ctx, `
		UPDATE dispatch_idempotency_keys
		SET order_id = $2,
			status_code = $3,
			response_payload = $4,
			updated_at = now()
		WHERE idempotency_key = $1
	`, key, orderID, statusCode, response)
	return err
}

func (r *DispatchRepository) selectIdempotencyForUpdate(ctx context.Context, tx pgx.Tx, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := tx.QueryRow(ctx, `
		SELECT idempotency_key,
			COALESCE(order_id, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM dispatch_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(
		&rec.IdempotencyKey,
		&rec.OrderID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isPgConflict matches both the exclusion constraint on assignment
// hour ranges (23P01) and unique violations such as a duplicate
// order_id (23505).
func isPgConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23P01" || pgErr.Code == "23505"
}
