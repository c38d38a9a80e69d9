package imagecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"cinedeck/internal/logging"
	"cinedeck/internal/metrics"
	"cinedeck/internal/store"
)

const (
	// DefaultSize is used when a request names no size.
	DefaultSize = "original"

	defaultDownloadTimeout = 30 * time.Second
	fallbackContentType    = "application/octet-stream"
)

// Image is a cached file ready to serve.
type Image struct {
	Key         string
	FilePath    string
	ContentType string
	Bytes       int64
}

// Options configures a Cache.
type Options struct {
	// Dir holds the image files.
	Dir string
	// BaseURL is the upstream image host, e.g. https://image.tmdb.org/t/p.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Cache is the byte-budgeted image cache.
type Cache struct {
	db      *store.DB
	dir     string
	baseURL string
	client  *http.Client
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates the image directory and returns a cache indexed in db.
func New(db *store.DB, opts Options) (*Cache, error) {
	if db == nil {
		return nil, errors.New("imagecache: store is required")
	}
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("imagecache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("imagecache: create directory: %w", err)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("imagecache: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Cache{
		db:      db,
		dir:     dir,
		baseURL: baseURL,
		client:  client,
		now:     now,
		logger:  logging.NewComponentLogger(opts.Logger, "imagecache"),
		metrics: opts.Metrics,
	}, nil
}

// Dir returns the image directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Normalize returns the canonical size, path, and cache key for a request.
// A blank size means DefaultSize and the path always gains a leading slash.
func Normalize(size, imagePath string) (string, string, string, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		size = DefaultSize
	}
	if strings.ContainsAny(size, "/\\") || strings.Contains(size, "..") {
		return "", "", "", fmt.Errorf("invalid image size %q", size)
	}
	imagePath = strings.TrimSpace(imagePath)
	if imagePath == "" || imagePath == "/" {
		return "", "", "", errors.New("image path is required")
	}
	if !strings.HasPrefix(imagePath, "/") {
		imagePath = "/" + imagePath
	}
	if strings.Contains(imagePath, "..") || strings.Contains(imagePath, "\\") {
		return "", "", "", fmt.Errorf("invalid image path %q", imagePath)
	}
	return size, imagePath, size + ":" + imagePath, nil
}

// GetOrFetch returns the cached image for (size, path), downloading it on a
// miss or when the indexed file has gone missing. The boolean is false when
// the upstream could not supply the image; nothing is cached in that case.
// Concurrent requests for the same key share one download.
func (c *Cache) GetOrFetch(ctx context.Context, size, imagePath string) (Image, bool, error) {
	size, imagePath, key, err := Normalize(size, imagePath)
	if err != nil {
		return Image{}, false, err
	}

	image, found, err := c.lookup(ctx, key)
	if err != nil {
		c.logger.Debug("image index read degraded to miss", logging.String("key", key), logging.Error(err))
	}
	if found {
		if fileExists(image.FilePath) {
			c.touch(ctx, key)
			c.metrics.ImageRequest("hit")
			return image, true, nil
		}
		c.logger.Debug("indexed image file missing; refetching", logging.String("key", key))
	}

	ch := c.group.DoChan(key, func() (any, error) {
		// The download outlives a single caller's cancellation; other callers
		// may be waiting on the same key.
		return c.fetch(context.WithoutCancel(ctx), key, size, imagePath)
	})
	select {
	case <-ctx.Done():
		return Image{}, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, errUpstream) {
				c.metrics.ImageRequest("failed")
				c.logger.Debug("image download failed", logging.String("key", key), logging.Error(res.Err))
				return Image{}, false, nil
			}
			return Image{}, false, res.Err
		}
		c.metrics.ImageRequest("fetched")
		return res.Val.(Image), true, nil
	}
}

var errUpstream = errors.New("image upstream")

func (c *Cache) fetch(ctx context.Context, key, size, imagePath string) (Image, error) {
	target := c.baseURL + "/" + size + imagePath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Image{}, fmt.Errorf("%w: build request: %v", errUpstream, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", errUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Image{}, fmt.Errorf("%w: status %d", errUpstream, resp.StatusCode)
	}

	ext := strings.ToLower(path.Ext(imagePath))
	finalPath := c.filePath(key, size, ext)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return Image{}, fmt.Errorf("create image directory: %w", err)
	}
	written, err := writeAtomic(finalPath, resp.Body)
	if err != nil {
		return Image{}, err
	}

	image := Image{
		Key:         key,
		FilePath:    finalPath,
		ContentType: contentTypeFor(ext),
		Bytes:       written,
	}
	now := c.now().UnixNano()
	if _, err := c.db.Exec(ctx, `
		INSERT INTO image_cache (cache_key, tmdb_path, size, file_path, content_type, bytes, created_at, last_access_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			file_path = excluded.file_path,
			content_type = excluded.content_type,
			bytes = excluded.bytes,
			last_access_at = excluded.last_access_at`,
		key, imagePath, size, finalPath, image.ContentType, written, now, now,
	); err != nil {
		// An unindexed file would sit outside the byte budget forever.
		if rmErr := os.Remove(finalPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logging.WarnWithContext(c.logger, "orphaned image file not removed", "image_orphan_remove_failed",
				logging.String("key", key),
				logging.String("path", finalPath),
				logging.Error(rmErr),
				logging.String(logging.FieldImpact, "file occupies disk outside the image budget"),
			)
		}
		return Image{}, fmt.Errorf("index image %s: %w", key, err)
	}
	return image, nil
}

// writeAtomic streams body into a temp file beside dst and renames it into
// place. Empty bodies are rejected.
func writeAtomic(dst string, body io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	written, err := io.Copy(tmp, body)
	if err != nil {
		_ = tmp.Close()
		cleanup()
		return 0, fmt.Errorf("%w: read body: %v", errUpstream, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if written == 0 {
		cleanup()
		return 0, fmt.Errorf("%w: empty body", errUpstream)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return 0, fmt.Errorf("rename image: %w", err)
	}
	return written, nil
}

func (c *Cache) filePath(key, size, ext string) string {
	name := strconv.FormatUint(xxhash.Sum64String(key), 16) + ext
	return filepath.Join(c.dir, size, name)
}

func contentTypeFor(ext string) string {
	if ext == "" {
		return fallbackContentType
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return fallbackContentType
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func (c *Cache) lookup(ctx context.Context, key string) (Image, bool, error) {
	image := Image{Key: key}
	err := c.db.SQL().QueryRowContext(ctx,
		`SELECT file_path, content_type, bytes FROM image_cache WHERE cache_key = ?`, key,
	).Scan(&image.FilePath, &image.ContentType, &image.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Image{}, false, nil
	}
	if err != nil {
		return Image{}, false, fmt.Errorf("lookup image: %w", err)
	}
	return image, true, nil
}

func (c *Cache) touch(ctx context.Context, key string) {
	if _, err := c.db.Exec(ctx,
		`UPDATE image_cache SET last_access_at = ? WHERE cache_key = ?`, c.now().UnixNano(), key,
	); err != nil {
		c.logger.Debug("image access stamp failed", logging.String("key", key), logging.Error(err))
	}
}

// Has reports whether (size, path) is cached with its file present.
func (c *Cache) Has(ctx context.Context, size, imagePath string) (bool, error) {
	_, _, key, err := Normalize(size, imagePath)
	if err != nil {
		return false, err
	}
	image, found, err := c.lookup(ctx, key)
	if err != nil || !found {
		return false, err
	}
	return fileExists(image.FilePath), nil
}

// TotalBytes sums the indexed image sizes.
func (c *Cache) TotalBytes(ctx context.Context) (int64, error) {
	var total int64
	if err := c.db.SQL().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(bytes), 0) FROM image_cache`,
	).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum image bytes: %w", err)
	}
	return total, nil
}

// PruneResult reports what Prune removed.
type PruneResult struct {
	Removed    int
	FreedBytes int64
	Remaining  int64
}

// Prune evicts least-recently-accessed images, one at a time, until the
// indexed total is at or under maxBytes or the cache is empty.
func (c *Cache) Prune(ctx context.Context, maxBytes int64) (PruneResult, error) {
	var result PruneResult
	total, err := c.TotalBytes(ctx)
	if err != nil {
		return result, err
	}
	for total > max(maxBytes, 0) {
		if err := ctx.Err(); err != nil {
			result.Remaining = total
			return result, err
		}
		var (
			key      string
			filePath string
			size     int64
		)
		err := c.db.SQL().QueryRowContext(ctx,
			`SELECT cache_key, file_path, bytes FROM image_cache ORDER BY last_access_at ASC, cache_key ASC LIMIT 1`,
		).Scan(&key, &filePath, &size)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			result.Remaining = total
			return result, fmt.Errorf("select eviction candidate: %w", err)
		}
		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result.Remaining = total
			return result, fmt.Errorf("remove image file: %w", err)
		}
		if _, err := c.db.Exec(ctx, `DELETE FROM image_cache WHERE cache_key = ?`, key); err != nil {
			result.Remaining = total
			return result, fmt.Errorf("delete image row: %w", err)
		}
		total -= size
		result.Removed++
		result.FreedBytes += size
		c.metrics.ImageEvicted()
	}
	result.Remaining = total
	if result.Removed > 0 {
		c.logger.Info("image cache pruned",
			logging.String(logging.FieldEventType, "image_prune"),
			logging.Int("removed", result.Removed),
			logging.Int64("freed_bytes", result.FreedBytes),
			logging.Int64("remaining_bytes", total),
			logging.Int64("budget_bytes", maxBytes),
		)
	}
	return result, nil
}
