package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arashpm/karigar/services/dispatch-service/internal/interval"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

// ErrConflict means the slot was taken between search and commit. The
// caller re-runs the finder once; a second conflict is surfaced as
// ErrNoneAvailable, never retried in a loop.
var ErrConflict = errors.New("slot no longer free at commit time")

// Store persists assignments durably. SaveAssignment must fail with an
// error matching ErrConflict (via errors.Is) when another instance
// already holds an overlapping interval, which makes the database the
// cross-process commit-time guard.
type Store interface {
	SaveAssignment(ctx context.Context, a model.Assignment) error
	// DeleteAssignment removes the assignment for an order and returns
	// it. ok is false when no assignment exists; that is not an error.
	DeleteAssignment(ctx context.Context, orderID string) (model.Assignment, bool, error)
}

// Committer turns finder recommendations into committed reservations.
// It re-validates freshness under the worker's gate, persists through
// the store, and only then extends the registry.
type Committer struct {
	reg   *Registry
	store Store
}

func NewCommitter(reg *Registry, store Store) *Committer {
	return &Committer{reg: reg, store: store}
}

// Assign atomically reserves (workerID, iv) for an order. The reserve
// itself is the freshness re-check: if the interval stopped being free
// since the search, the reserve fails and the caller gets ErrConflict.
func (c *Committer) Assign(ctx context.Context, orderID, workerID string, iv interval.Interval) (model.Assignment, error) {
	if !iv.Valid() {
		return model.Assignment{}, fmt.Errorf("malformed interval %v", iv)
	}
	if !c.reg.reserve(workerID, iv) {
		return model.Assignment{}, ErrConflict
	}

	a := model.Assignment{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		WorkerID:  workerID,
		Interval:  iv,
		CreatedAt: time.Now().UTC(),
	}
	if err := c.store.SaveAssignment(ctx, a); err != nil {
		c.reg.free(workerID, iv)
		return model.Assignment{}, err
	}
	return a, nil
}

// Release frees the interval committed for an order. Idempotent:
// releasing an order with no assignment is a no-op, never a conflict.
func (c *Committer) Release(ctx context.Context, orderID string) error {
	prev, ok, err := c.store.DeleteAssignment(ctx, orderID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	c.reg.free(prev.WorkerID, prev.Interval)
	return nil
}

// Reassign moves an order to a new worker and interval. The old
// reservation is released first; if the new assignment then fails, the
// old one is NOT restored — at most one successful assignment per
// order outranks rollback convenience, and the caller retries the
// whole operation.
func (c *Committer) Reassign(ctx context.Context, orderID, newWorkerID string, newInterval interval.Interval) (model.Assignment, error) {
	if err := c.Release(ctx, orderID); err != nil {
		return model.Assignment{}, err
	}
	return c.Assign(ctx, orderID, newWorkerID, newInterval)
}

// MemoryStore is an in-process Store for tests and embedded use. It
// mirrors the durable store's conflict contract against its own
// contents.
type MemoryStore struct {
	mu      sync.Mutex
	byOrder map[string]model.Assignment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrder: make(map[string]model.Assignment)}
}

func (s *MemoryStore) SaveAssignment(_ context.Context, a model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.byOrder {
		if other.WorkerID == a.WorkerID && interval.Overlaps(other.Interval, a.Interval) {
			return ErrConflict
		}
	}
	s.byOrder[a.OrderID] = a
	return nil
}

func (s *MemoryStore) DeleteAssignment(_ context.Context, orderID string) (model.Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byOrder[orderID]
	if ok {
		delete(s.byOrder, orderID)
	}
	return a, ok, nil
}
