package imagecache

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"
)

// Stats describes the cache and the filesystem holding it.
type Stats struct {
	Entries    int64
	Bytes      int64
	Dir        string
	FreeBytes  uint64
	TotalBytes uint64
}

// Stats reports index totals and free space on the image volume.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Dir: c.dir}
	if err := c.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(bytes), 0) FROM image_cache`,
	).Scan(&stats.Entries, &stats.Bytes); err != nil {
		return stats, fmt.Errorf("image stats: %w", err)
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(c.dir, &fs); err != nil {
		return stats, fmt.Errorf("statfs %s: %w", c.dir, err)
	}
	stats.FreeBytes = fs.Bavail * uint64(fs.Bsize)
	stats.TotalBytes = fs.Blocks * uint64(fs.Bsize)
	return stats, nil
}
