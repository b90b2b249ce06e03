package workerdir

import (
	"context"

	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

// Directory answers which active workers can take a service in a
// district. Callers receive workers in stable id order.
type Directory interface {
	Candidates(ctx context.Context, serviceID, district string) ([]model.Worker, error)
}

// CacheDirectory serves candidates from the local worker cache that
// the directory consumer keeps fresh. It is the default when no
// remote directory address is configured.
type CacheDirectory struct {
	store CandidateStore
}

type CandidateStore interface {
	Candidates(ctx context.Context, serviceID, district string) ([]model.Worker, error)
}

func NewCacheDirectory(store CandidateStore) *CacheDirectory {
	return &CacheDirectory{store: store}
}

func (d *CacheDirectory) Candidates(ctx context.Context, serviceID, district string) ([]model.Worker, error) {
	return d.store.Candidates(ctx, serviceID, district)
}
