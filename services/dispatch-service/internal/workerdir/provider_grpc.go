//go:build protogen

package workerdir

import (
	"context"
	"time"

	"github.com/arashpm/karigar/libs/grpcx"
	workerdirv1 "github.com/arashpm/karigar/protos/gen/workerdir/v1"
	"github.com/arashpm/karigar/services/dispatch-service/internal/model"
)

type grpcDirectory struct {
	client workerdirv1.WorkerDirectoryClient
}

// NewRemoteDirectory dials the worker directory service. An empty
// address disables the remote path.
func NewRemoteDirectory(addr string) (Directory, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &grpcDirectory{client: workerdirv1.NewWorkerDirectoryClient(conn)}, nil
}

func (d *grpcDirectory) Candidates(ctx context.Context, serviceID, district string) ([]model.Worker, error) {
	resp, err := d.client.ListCandidates(ctx, &workerdirv1.ListCandidatesRequest{
		ServiceId: serviceID,
		District:  district,
	})
	if err != nil {
		return nil, err
	}
	workers := make([]model.Worker, 0, len(resp.GetWorkers()))
	for _, w := range resp.GetWorkers() {
		if !w.GetIsActive() {
			continue
		}
		workers = append(workers, model.Worker{
			ID:         w.GetId(),
			ServiceIDs: w.GetServiceIds(),
			District:   w.GetDistrict(),
			Active:     true,
		})
	}
	return workers, nil
}
