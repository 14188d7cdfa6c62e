// Package parallel holds the process-wide worker setting used by the
// per-channel stages of the pipeline.
package parallel

import (
	"context"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers matches the thread hint the lab scripts always used.
const DefaultWorkers = 6

var workers atomic.Int64

func init() {
	workers.Store(DefaultWorkers)
}

// SetWorkers sets the worker count for the whole process and sizes the FFT
// worker pool to match. Call it once at startup; n < 1 resets to the default.
func SetWorkers(n int) {
	if n < 1 {
		n = DefaultWorkers
	}
	workers.Store(int64(n))
	fft.SetWorkerPoolSize(n)
}

// Workers returns the configured worker count.
func Workers() int {
	return int(workers.Load())
}

// ForEach calls fn(i) for i in [0, n) using at most Workers() goroutines.
// The first error cancels ctx for the remaining calls and is returned.
func ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Workers())
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// gctx is always done once Wait returns
	return ctx.Err()
}
