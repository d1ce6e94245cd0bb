// Package pipeline implements C3: fan raw grains from a flat-extent
// source out to a worker pool for compression, then reassemble the
// compressed grains in strict ascending sequence order for the VMDK
// encoder. Modeled on the producer/worker-pool/aggregator split in the
// sendense example's internal/vmware_nbdkit/parallel_worker.go and
// progress_aggregator.go: one producer, N stateless workers, one
// ordering consumer.
package pipeline

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/vmxport/vmxport/internal/flatsource"
	"github.com/vmxport/vmxport/internal/graincodec"
)

// Sink is the destination the reordered, compressed grain stream is
// written to. *vmdkstream.Encoder satisfies it.
type Sink interface {
	WriteGrain(seq int64, raw, compressed []byte, isLast bool) error
}

// ProgressFunc is called, best-effort, with the cumulative number of raw
// bytes handed to the Sink so far. A nil ProgressFunc disables
// reporting. Per spec.md §7 a reporting failure never fails the export;
// ProgressFunc has no error return so there is nothing for a caller to
// fail with.
type ProgressFunc func(bytesDone int64)

// Options configures a pipeline run.
type Options struct {
	// Workers is the worker-pool size. 0 selects runtime.NumCPU().
	Workers int
	// Level is the grain compression level.
	Level graincodec.Level
	// QueueSize bounds the in-flight raw-grain and compressed-grain
	// queues. 0 selects 2*Workers, per spec.md §5's memory bound.
	QueueSize int
	// Progress, if non-nil, receives cumulative raw-byte progress.
	Progress ProgressFunc
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 2 * o.Workers
	}
	return o
}

type job struct {
	seq    int64
	raw    []byte
	isLast bool
}

type result struct {
	seq        int64
	raw        []byte
	compressed []byte
	isLast     bool
}

// Run drains src into grainSizeBytes-sized grains, compresses them
// across opts.Workers goroutines, and writes them to sink strictly in
// ascending sequence order starting at 0. It returns the first error
// encountered by any stage, after draining and joining every worker —
// no goroutine is left running once Run returns, success or failure.
func Run(ctx context.Context, src *flatsource.Source, grainSizeBytes int, sink Sink, opts Options) error {
	opts = opts.normalized()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan job, opts.QueueSize)
	results := make(chan result, opts.QueueSize)

	pw, pwCtx := errgroup.WithContext(ctx)

	pw.Go(func() error {
		defer close(jobs)
		grains := src.Grains(grainSizeBytes)
		for grain := range grains {
			select {
			case jobs <- job{seq: grain.Sequence, raw: grain.Bytes, isLast: grain.IsLast}:
			case <-pwCtx.Done():
				// Drain so the source's producing goroutine can finish.
				for range grains {
				}
				return pwCtx.Err()
			}
		}
		return nil
	})

	for i := 0; i < opts.Workers; i++ {
		pw.Go(func() error {
			for {
				select {
				case j, ok := <-jobs:
					if !ok {
						return nil
					}
					compressed, err := graincodec.Compress(j.raw, opts.Level)
					if err != nil {
						return fmt.Errorf("pipeline: grain %d: %w", j.seq, err)
					}
					select {
					case results <- result{seq: j.seq, raw: j.raw, compressed: compressed, isLast: j.isLast}:
					case <-pwCtx.Done():
						return pwCtx.Err()
					}
				case <-pwCtx.Done():
					return pwCtx.Err()
				}
			}
		})
	}

	consumerErr := make(chan error, 1)
	go func() {
		err := consume(pwCtx, results, sink, opts)
		if err != nil {
			cancel()
		}
		consumerErr <- err
	}()

	pwErr := pw.Wait()
	close(results)
	cErr := <-consumerErr

	if pwErr != nil {
		return pwErr
	}
	return cErr
}

// consume is the single reorder-buffer consumer: a monotonic
// next-expected counter plus a sparse map keyed on sequence, as spec.md
// §9 prescribes over a bounded vector (grain counts reach the millions
// for large disks). An entry is deleted the instant it is emitted, so
// steady-state memory is O(worker count).
func consume(ctx context.Context, results <-chan result, sink Sink, opts Options) error {
	pending := make(map[int64]result)
	var next int64
	var bytesDone int64

	for {
		select {
		case r, ok := <-results:
			if !ok {
				return nil
			}
			pending[r.seq] = r

			for {
				rr, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)

				if err := sink.WriteGrain(rr.seq, rr.raw, rr.compressed, rr.isLast); err != nil {
					return fmt.Errorf("pipeline: sink: %w", err)
				}
				bytesDone += int64(len(rr.raw))
				if opts.Progress != nil {
					opts.Progress(bytesDone)
				}
				next++
			}
		case <-ctx.Done():
			return nil
		}
	}
}
