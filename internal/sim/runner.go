package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sibexico/ReplEngine/replacement"
	"golang.org/x/sync/errgroup"
)

// cancelCheckInterval is how many accesses run between context checks.
const cancelCheckInterval = 4096

// Result is the outcome of replaying one source through one cache.
type Result struct {
	Policy  string
	Cache   CacheStats
	Engine  replacement.Stats
	Elapsed time.Duration
}

// Run replays src through cache until src is exhausted or ctx is done.
func Run(ctx context.Context, cache *Cache, src Source) (Result, error) {
	return RunWarm(ctx, cache, src, 0)
}

// RunWarm is Run with a warm-up phase: statistics gathered during the first
// warmup accesses are discarded. A stream no longer than warmup reports its
// whole run.
func RunWarm(ctx context.Context, cache *Cache, src Source, warmup int) (Result, error) {
	start := time.Now()
	for i := 0; ; i++ {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
		}
		acc, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		if warmup > 0 && i == warmup {
			cache.ResetStats()
			start = time.Now()
		}
		cache.Access(acc)
	}

	return Result{
		Policy:  cache.Engine().Policy().Name(),
		Cache:   cache.Stats(),
		Engine:  cache.Engine().FinalStats(),
		Elapsed: time.Since(start),
	}, nil
}

// Job is one engine configuration to evaluate in Compare. Config must not
// be nil.
type Job struct {
	Config *replacement.Config
	Source func() (Source, error) // each job replays its own copy
	Warmup int                    // accesses excluded from the statistics
}

// Compare runs every job on its own engine and cache concurrently. Results
// are returned in job order; the first failure cancels the rest.
func Compare(ctx context.Context, geom replacement.Geometry, jobs []Job, logger *slog.Logger, opts ...CacheOption) ([]Result, error) {
	results := make([]Result, len(jobs))
	g, ctx := errgroup.WithContext(ctx)

	for i, job := range jobs {
		g.Go(func() error {
			engine, err := replacement.New(job.Config, geom, replacement.WithLogger(logger))
			if err != nil {
				return fmt.Errorf("%s: %w", job.Config.Policy, err)
			}
			src, err := job.Source()
			if err != nil {
				return fmt.Errorf("%s: %w", job.Config.Policy, err)
			}
			if c, ok := src.(io.Closer); ok {
				defer c.Close()
			}

			res, err := RunWarm(ctx, NewCache(engine, opts...), src, job.Warmup)
			if err != nil {
				return fmt.Errorf("%s: %w", job.Config.Policy, err)
			}
			if err := engine.Close(); err != nil {
				return fmt.Errorf("%s: %w", job.Config.Policy, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
