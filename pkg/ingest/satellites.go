package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/schenql/dbbuilder/pkg/auxdata"
)

// parseSatellites parses files on the worker pool. Each job writes only its
// own result slot; the slice is read after the pool has drained, so results
// come back in file order. Unparseable files are logged by the job itself,
// whatever pool runs it, and left out.
func (p *Pipeline) parseSatellites(ctx context.Context, logger *zap.Logger, files []auxdata.SatelliteFile) ([]auxdata.Satellite, int, error) {
	results := make([]*auxdata.Satellite, len(files))

	var wp WorkerPoolInterface
	if p.PoolFactory != nil {
		wp = p.PoolFactory(p.Workers, p.Workers*2)
	} else {
		wp = NewWorkerPool(p.Workers, p.Workers*2)
	}
	wp.Start(ctx)

	for i, f := range files {
		i, f := i, f
		err := wp.SubmitCtx(ctx, func(ctx context.Context) error {
			s, err := auxdata.ParseSatellite(f)
			if err != nil {
				logger.Warn("skipping satellite file", zap.String("path", f.Path), zap.Error(err))
				return err
			}
			results[i] = &s
			return nil
		})
		if err != nil {
			wp.Close()
			return nil, 0, err
		}
	}
	wp.Close()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	out := make([]auxdata.Satellite, 0, len(files))
	for _, s := range results {
		if s != nil {
			out = append(out, *s)
		}
	}
	failed := len(files) - len(out)
	p.Metrics.SatelliteErrors.Add(float64(failed))
	return out, failed, nil
}

// WorkerPoolInterface abstracts the worker pool so tests can inject failing implementations.
type WorkerPoolInterface interface {
	Start(ctx context.Context)
	Submit(Job) error
	// SubmitCtx attempts to enqueue a job but returns promptly if ctx is canceled.
	SubmitCtx(ctx context.Context, job Job) error
	Close()
}
