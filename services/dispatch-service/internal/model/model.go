package model

import (
	"time"

	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
)

// Worker is the scheduler's read-model of one service worker. Owned by
// the worker directory; the dispatch service only keeps a local cache
// of it and appends committed intervals through the committer.
type Worker struct {
	ID         string
	ServiceIDs []string
	District   string
	Active     bool
}

// Assignment binds an order to a worker for a committed interval.
type Assignment struct {
	ID        string
	OrderID   string
	WorkerID  string
	Interval  interval.Interval
	CreatedAt time.Time
}

// Placement is a finder recommendation: a worker plus the interval the
// committer should try to reserve.
type Placement struct {
	WorkerID string
	Interval interval.Interval
}
