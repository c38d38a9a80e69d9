package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cinedeck/internal/config"
	"cinedeck/internal/deck"
	"cinedeck/internal/logging"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner schedules Jobs and enforces single-instance execution.
type Runner struct {
	jobs     []Job
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock

	metricsBind string
	gatherer    prometheus.Gatherer
	server      *http.Server
	listener    net.Listener

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Options configures a Runner.
type Options struct {
	// LockPath is the single-instance lock file.
	LockPath string
	// MetricsBind, when set, serves /metrics from Gatherer on this address.
	MetricsBind string
	Gatherer    prometheus.Gatherer
	Logger      *slog.Logger
}

// NewRunner returns a runner for jobs. Jobs with a non-positive interval are
// dropped.
func NewRunner(jobs []Job, opts Options) (*Runner, error) {
	if strings.TrimSpace(opts.LockPath) == "" {
		return nil, errors.New("jobs: lock path is required")
	}
	active := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Interval > 0 && job.Run != nil {
			active = append(active, job)
		}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Runner{
		jobs:        active,
		logger:      logging.NewComponentLogger(opts.Logger, "jobs"),
		lockPath:    opts.LockPath,
		lock:        flock.New(opts.LockPath),
		metricsBind: strings.TrimSpace(opts.MetricsBind),
		gatherer:    gatherer,
	}, nil
}

// Jobs lists the scheduled job names.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name)
	}
	return names
}

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (r *Runner) MetricsAddr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Start acquires the lock and launches one goroutine per job. Each job runs
// once immediately and then on its interval.
func (r *Runner) Start(ctx context.Context) error {
	if r.running.Load() {
		return errors.New("runner already running")
	}
	ok, err := r.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cinedeck job runner is already running")
	}

	if r.metricsBind != "" {
		listener, err := net.Listen("tcp", r.metricsBind)
		if err != nil {
			_ = r.lock.Unlock()
			return fmt.Errorf("listen on %s: %w", r.metricsBind, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
		r.listener = listener
		r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				r.logger.Warn("metrics server stopped", logging.Error(err))
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(runCtx, job)
	}
	r.running.Store(true)
	r.logger.Info("job runner started",
		logging.String("lock", r.lockPath),
		logging.Any("jobs", r.Jobs()),
		logging.String("metrics", r.MetricsAddr()),
	)
	return nil
}

// Stop cancels the jobs, waits for them, and releases the lock.
func (r *Runner) Stop() {
	if !r.running.Load() {
		return
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.wg.Wait()
	if r.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.server.Shutdown(shutdownCtx)
		cancel()
		r.server = nil
		r.listener = nil
	}
	if err := r.lock.Unlock(); err != nil {
		r.logger.Warn("failed to release job runner lock", logging.Error(err))
	}
	r.running.Store(false)
	r.logger.Info("job runner stopped")
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()
	logger := r.logger.With(logging.String("job", job.Name))
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		r.runJob(ctx, logger, job)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) runJob(ctx context.Context, logger *slog.Logger, job Job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := job.Run(ctx)
	switch {
	case err == nil:
		logger.Debug("job finished", logging.Duration("elapsed", time.Since(start)))
	case errors.Is(err, context.Canceled):
		logger.Info("job interrupted by shutdown")
	default:
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "retried on the next interval"),
		)
	}
}

// LockPath returns the default lock file location for cfg.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "cinedeck-jobs.lock")
}

// StandardJobs returns the configured drivers for svc.
func StandardJobs(cfg *config.Config, svc *deck.Service) []Job {
	seconds := func(n int) time.Duration { return time.Duration(n) * time.Second }
	jobs := []Job{
		{
			Name:     "details_backfill",
			Interval: seconds(cfg.Jobs.DetailsIntervalSeconds),
			Run: func(ctx context.Context) error {
				_, err := svc.BackfillDetails(ctx, cfg.Jobs.DetailsBatchSize)
				return err
			},
		},
		{
			Name:     "image_prune",
			Interval: seconds(cfg.Jobs.ImagePruneIntervalSeconds),
			Run: func(ctx context.Context) error {
				images := svc.Images()
				if images == nil {
					return nil
				}
				settings, err := svc.Catalog().GetSettings(ctx)
				if err != nil {
					return err
				}
				_, err = images.Prune(ctx, settings.ImageCacheMaxBytes)
				return err
			},
		},
		{
			Name:     "maintenance",
			Interval: seconds(cfg.Jobs.MaintenanceIntervalSeconds),
			Run: func(ctx context.Context) error {
				_, err := svc.Maintain(ctx)
				return err
			},
		},
	}
	if len(cfg.Jobs.PrewarmUsers) > 0 {
		users := append([]string(nil), cfg.Jobs.PrewarmUsers...)
		jobs = append(jobs, Job{
			Name:     "pool_prewarm",
			Interval: seconds(cfg.Jobs.PrewarmIntervalSeconds),
			Run: func(ctx context.Context) error {
				return Prewarm(ctx, svc, users, cfg.Catalog.PoolLowWater)
			},
		})
	}
	return jobs
}

// Prewarm tops up each user's pool and caches the posters at its head.
func Prewarm(ctx context.Context, svc *deck.Service, users []string, head int) error {
	var errs []error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		svc.GetDeck(ctx, user, head)
		if svc.Images() == nil {
			continue
		}
		if _, err := svc.PrefetchPosters(ctx, user, head); err != nil {
			errs = append(errs, fmt.Errorf("prefetch %s: %w", user, err))
		}
	}
	return errors.Join(errs...)
}
