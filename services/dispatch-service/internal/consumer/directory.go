package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/arashpm/karigar/services/dispatch-service/internal/calendar"
	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
	"github.com/arashpm/karigar/services/dispatch-service/internal/scheduling"
	"github.com/arashpm/karigar/services/dispatch-service/internal/storage"
)

// Topics consumed from the worker directory.
const (
	TopicWorkerUpserted  = "workers.upserted.v1"
	TopicTimeOffRecorded = "workers.timeoff.recorded.v1"
)

type workerUpsertedEvent struct {
	WorkerID   string   `json:"worker_id"`
	ServiceIDs []string `json:"service_ids"`
	District   string   `json:"district"`
	IsActive   bool     `json:"is_active"`
}

type timeOffRecordedEvent struct {
	TimeOffID string `json:"timeoff_id"`
	WorkerID  string `json:"worker_id"`
	Date      string `json:"date"`
	FromHour  int    `json:"from_hour"`
	ToHour    int    `json:"to_hour"`
}

// WorkerUpsertedHandler refreshes the local worker cache from
// directory events.
func WorkerUpsertedHandler(repo *storage.DispatchRepository, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt workerUpsertedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode worker upserted event: %w", err)
		}
		if evt.WorkerID == "" {
			return fmt.Errorf("worker upserted event missing worker_id")
		}
		if err := repo.UpsertWorker(ctx, model.Worker{
			ID:         evt.WorkerID,
			ServiceIDs: evt.ServiceIDs,
			District:   evt.District,
			Active:     evt.IsActive,
		}); err != nil {
			return err
		}
		logger.Debug("worker cache refreshed", "worker_id", evt.WorkerID, "active", evt.IsActive)
		return nil
	}
}

// TimeOffRecordedHandler persists explicit worker unavailability and
// blocks the interval in the live registry.
func TimeOffRecordedHandler(repo *storage.DispatchRepository, registry *scheduling.Registry, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt timeOffRecordedEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			return fmt.Errorf("decode time off event: %w", err)
		}
		if evt.WorkerID == "" || evt.TimeOffID == "" {
			return fmt.Errorf("time off event missing identifiers")
		}
		day, err := calendar.ParseStrict(evt.Date)
		if err != nil {
			return fmt.Errorf("time off event date %q: %w", evt.Date, err)
		}
		iv := interval.Interval{Day: day, From: evt.FromHour, To: evt.ToHour}
		if !iv.Valid() {
			return fmt.Errorf("time off event interval %d-%d malformed", evt.FromHour, evt.ToHour)
		}
		if err := repo.InsertTimeOff(ctx, evt.TimeOffID, evt.WorkerID, iv); err != nil {
			return err
		}
		registry.AddOff(evt.WorkerID, iv)
		logger.Info("time off recorded", "worker_id", evt.WorkerID, "day", evt.Date, "from", evt.FromHour, "to", evt.ToHour)
		return nil
	}
}
