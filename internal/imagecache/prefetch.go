package imagecache

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"cinedeck/internal/logging"
)

// PrefetchResult counts the outcome of a Prefetch call.
type PrefetchResult struct {
	Cached  int
	Failed  int
	Skipped int
}

// Prefetch warms the cache for paths at one size with at most concurrency
// downloads in flight. Individual failures are counted, not returned; only
// cancellation stops the batch.
func (c *Cache) Prefetch(ctx context.Context, size string, paths []string, concurrency int) (PrefetchResult, error) {
	var cached, failed, skipped atomic.Int64
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(max(concurrency, 1))

	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		_, _, key, err := Normalize(size, p)
		if err != nil {
			skipped.Add(1)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		imagePath := p
		group.Go(func() error {
			_, ok, err := c.GetOrFetch(gctx, size, imagePath)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				c.logger.Debug("prefetch failed", logging.String("path", imagePath), logging.Error(err))
				failed.Add(1)
			case !ok:
				failed.Add(1)
			default:
				cached.Add(1)
			}
			return nil
		})
	}
	err := group.Wait()
	return PrefetchResult{
		Cached:  int(cached.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}, err
}
