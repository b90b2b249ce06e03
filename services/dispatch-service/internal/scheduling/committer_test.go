package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

func newCommitter() (*Committer, *Registry) {
	r := NewRegistry()
	return NewCommitter(r, NewMemoryStore()), r
}

func TestCommitter_AssignReserves(t *testing.T) {
	c, r := newCommitter()
	ctx := context.Background()

	a, err := c.Assign(ctx, "order-1", "w1", iv(10, 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.OrderID != "order-1" || a.WorkerID != "w1" || a.ID == "" {
		t.Fatalf("bad assignment %+v", a)
	}
	if r.IsFree("w1", iv(10, 12)) {
		t.Fatal("committed interval must block the worker")
	}
}

func TestCommitter_AssignConflict(t *testing.T) {
	c, _ := newCommitter()
	ctx := context.Background()

	if _, err := c.Assign(ctx, "order-1", "w1", iv(10, 12)); err != nil {
		t.Fatalf("seed assign failed: %v", err)
	}
	_, err := c.Assign(ctx, "order-2", "w1", iv(11, 13))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	// A different worker is unaffected.
	if _, err := c.Assign(ctx, "order-2", "w2", iv(11, 13)); err != nil {
		t.Fatalf("other worker must be assignable: %v", err)
	}
}

type failingStore struct{ err error }

func (s failingStore) SaveAssignment(context.Context, model.Assignment) error {
	return s.err
}

func (s failingStore) DeleteAssignment(context.Context, string) (model.Assignment, bool, error) {
	return model.Assignment{}, false, nil
}

func TestCommitter_StoreFailureFreesReservation(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("db down")
	c := NewCommitter(r, failingStore{err: boom})

	_, err := c.Assign(context.Background(), "order-1", "w1", iv(10, 12))
	if !errors.Is(err, boom) {
		t.Fatalf("want store error, got %v", err)
	}
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("failed persist must not leave the interval reserved")
	}
}

func TestCommitter_ReleaseIdempotent(t *testing.T) {
	c, r := newCommitter()
	ctx := context.Background()

	if _, err := c.Assign(ctx, "order-1", "w1", iv(10, 12)); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if err := c.Release(ctx, "order-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("released interval must be free")
	}
	// Second release of the same order is a no-op, not a conflict.
	if err := c.Release(ctx, "order-1"); err != nil {
		t.Fatalf("double release must be a no-op: %v", err)
	}
	if err := c.Release(ctx, "never-assigned"); err != nil {
		t.Fatalf("releasing an unknown order must be a no-op: %v", err)
	}
}

func TestCommitter_Reassign(t *testing.T) {
	c, r := newCommitter()
	ctx := context.Background()

	if _, err := c.Assign(ctx, "order-1", "w1", iv(10, 12)); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	a, err := c.Reassign(ctx, "order-1", "w2", iv(14, 16))
	if err != nil {
		t.Fatalf("reassign failed: %v", err)
	}
	if a.WorkerID != "w2" {
		t.Fatalf("got worker %q", a.WorkerID)
	}
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("old worker's interval must be released")
	}
	if r.IsFree("w2", iv(14, 16)) {
		t.Fatal("new worker's interval must be reserved")
	}
}

func TestCommitter_ReassignFailureDoesNotRestoreOld(t *testing.T) {
	c, r := newCommitter()
	ctx := context.Background()

	if _, err := c.Assign(ctx, "order-1", "w1", iv(10, 12)); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	// Block the target slot on the new worker.
	if _, err := c.Assign(ctx, "order-2", "w2", iv(10, 12)); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	_, err := c.Reassign(ctx, "order-1", "w2", iv(10, 12))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	// The old reservation stays released; the caller retries the whole
	// operation instead of relying on rollback.
	if !r.IsFree("w1", iv(10, 12)) {
		t.Fatal("old interval must remain released after a failed reassign")
	}
}

func TestCommitter_ConcurrentAssignSameSlot(t *testing.T) {
	c, _ := newCommitter()
	ctx := context.Background()
	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Assign(ctx, "order-"+string(rune('a'+i)), "w1", iv(10, 12))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one concurrent assign must win, got %d", succeeded)
	}
}
