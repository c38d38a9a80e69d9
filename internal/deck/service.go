package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"cinedeck/internal/catalog"
	"cinedeck/internal/imagecache"
	"cinedeck/internal/logging"
	"cinedeck/internal/respcache"
	"cinedeck/internal/tmdb"
)

const (
	defaultFillSize     = 60
	defaultLowWater     = 20
	defaultPrefetchSize = "w500"
)

// Upstream is the subset of the TMDB client the service needs.
type Upstream interface {
	DiscoverPages(ctx context.Context, prefs tmdb.Preferences, page, limit int) (tmdb.DiscoverResult, error)
	GetMovieDetails(ctx context.Context, movieID int64) tmdb.DetailsResult
}

// Options configures a Service.
type Options struct {
	Upstream    Upstream
	Catalog     *catalog.Catalog
	Images      *imagecache.Cache
	Responses   *respcache.Cache
	Preferences PreferencesProvider
	// ImageBaseURL is the upstream image host used for direct poster URLs.
	ImageBaseURL        string
	LowWater            int
	FillSize            int
	PrefetchSize        string
	PrefetchConcurrency int
	Logger              *slog.Logger
}

// Service serves decks and runs the backfill and maintenance operations.
type Service struct {
	upstream     Upstream
	catalog      *catalog.Catalog
	images       *imagecache.Cache
	responses    *respcache.Cache
	prefs        PreferencesProvider
	imageBaseURL string
	lowWater     int
	fillSize     int
	prefetchSize string
	prefetchConc int
	logger       *slog.Logger

	cursorMu sync.Mutex
	cursors  map[string]int
}

// New validates opts and returns a Service.
func New(opts Options) (*Service, error) {
	if opts.Upstream == nil {
		return nil, errors.New("deck: upstream client is required")
	}
	if opts.Catalog == nil {
		return nil, errors.New("deck: catalog is required")
	}
	prefs := opts.Preferences
	if prefs == nil {
		prefs = StaticPreferences{}
	}
	s := &Service{
		upstream:     opts.Upstream,
		catalog:      opts.Catalog,
		images:       opts.Images,
		responses:    opts.Responses,
		prefs:        prefs,
		imageBaseURL: strings.TrimRight(opts.ImageBaseURL, "/"),
		lowWater:     opts.LowWater,
		fillSize:     opts.FillSize,
		prefetchSize: opts.PrefetchSize,
		prefetchConc: opts.PrefetchConcurrency,
		logger:       logging.NewComponentLogger(opts.Logger, "deck"),
		cursors:      make(map[string]int),
	}
	if s.lowWater <= 0 {
		s.lowWater = defaultLowWater
	}
	if s.fillSize <= 0 {
		s.fillSize = defaultFillSize
	}
	if s.prefetchSize == "" {
		s.prefetchSize = defaultPrefetchSize
	}
	if s.prefetchConc <= 0 {
		s.prefetchConc = 1
	}
	return s, nil
}

// withRequestID attaches a correlation id unless the caller already did.
func withRequestID(ctx context.Context) context.Context {
	if _, ok := logging.RequestIDFromContext(ctx); ok {
		return ctx
	}
	return logging.WithRequestID(ctx, uuid.NewString())
}

// GetDeck returns up to limit movies for userID from the local pool. When the
// pool is below the low-water mark it is refilled first. Any failure along the
// way is logged and yields whatever the pool can still supply.
func (s *Service) GetDeck(ctx context.Context, userID string, limit int) []catalog.Movie {
	ctx = logging.WithUserID(withRequestID(ctx), userID)
	log := logging.WithContext(ctx, s.logger)

	size, err := s.catalog.PoolSize(ctx, userID)
	if err != nil {
		log.Debug("pool size unavailable", logging.Error(err))
	}
	if err != nil || size < s.lowWater {
		added, err := s.Refill(ctx, userID)
		if err != nil {
			logging.WarnWithContext(log, "pool refill failed", "pool_refill_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "deck served from the existing pool"),
			)
		} else {
			log.Debug("pool refilled", logging.Int("pool_size", size), logging.Int("added", added))
		}
	}

	movies, err := s.catalog.GetPool(ctx, userID, limit)
	if err != nil {
		logging.WarnWithContext(log, "pool read failed", "pool_read_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "empty deck returned"),
		)
		return nil
	}
	return movies
}

// Refill discovers the next batch for userID and adds it to the pool. It
// returns how many candidates discovery produced.
func (s *Service) Refill(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	ctx = logging.WithUserID(withRequestID(ctx), userID)
	prefs, err := s.prefs.Preferences(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load preferences: %w", err)
	}

	page := s.nextPage(userID)
	result, err := s.upstream.DiscoverPages(ctx, prefs, page, s.fillSize)
	if err != nil {
		return 0, err
	}
	// NextPage 0: the result set is exhausted, start over next time.
	s.setCursor(userID, result.NextPage)
	cards := result.Cards
	if len(cards) == 0 {
		return 0, nil
	}

	movies := make([]catalog.Movie, 0, len(cards))
	for _, card := range cards {
		movies = append(movies, catalog.FromCard(card))
	}
	if err := s.catalog.AddToPool(ctx, userID, movies); err != nil {
		return 0, err
	}
	return len(movies), nil
}

func (s *Service) nextPage(userID string) int {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()
	if page, ok := s.cursors[userID]; ok {
		return page
	}
	return 1
}

func (s *Service) setCursor(userID string, next int) {
	if next <= 0 {
		s.resetCursor(userID)
		return
	}
	s.cursorMu.Lock()
	s.cursors[userID] = tmdb.ClampPage(next)
	s.cursorMu.Unlock()
}

func (s *Service) resetCursor(userID string) {
	s.cursorMu.Lock()
	delete(s.cursors, userID)
	s.cursorMu.Unlock()
}

// MarkSeen removes movies the user has been shown from their pool.
func (s *Service) MarkSeen(ctx context.Context, userID string, ids ...int64) error {
	return s.catalog.RemoveFromPool(ctx, userID, ids...)
}

// ResetPool clears a user's pool and discovery position, e.g. after their
// preferences change.
func (s *Service) ResetPool(ctx context.Context, userID string) (int64, error) {
	s.resetCursor(userID)
	return s.catalog.ClearPool(ctx, userID)
}

// Discover runs a discovery query with the user's preferences without
// touching the pool.
func (s *Service) Discover(ctx context.Context, userID string, page, limit int) ([]tmdb.Card, error) {
	ctx = withRequestID(ctx)
	prefs, err := s.prefs.Preferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	result, err := s.upstream.DiscoverPages(ctx, prefs, page, limit)
	return result.Cards, err
}

// GetMovieDetails fetches details for one movie and merges them into the
// catalog when found.
func (s *Service) GetMovieDetails(ctx context.Context, movieID int64) tmdb.DetailsResult {
	ctx = withRequestID(ctx)
	result := s.upstream.GetMovieDetails(ctx, movieID)
	if result.Found() {
		if err := s.catalog.UpdateDetails(ctx, catalog.FromDetails(*result.Details)); err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, s.logger), "details merge failed", "details_merge_failed",
				logging.MovieID(movieID),
				logging.Error(err),
			)
		}
	}
	return result
}

// BackfillResult counts the outcome of one BackfillDetails batch.
type BackfillResult struct {
	Updated     int
	Unavailable int
	Transient   int
}

// BackfillDetails fetches details for up to batch summary-only movies.
// Movies the upstream does not know (or answers with garbage) are marked so
// they leave the queue; transient failures are retried on the next run.
func (s *Service) BackfillDetails(ctx context.Context, batch int) (BackfillResult, error) {
	var result BackfillResult
	ctx = withRequestID(ctx)
	log := logging.WithContext(ctx, s.logger)

	ids, err := s.catalog.ListMoviesNeedingDetails(ctx, batch)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		details := s.upstream.GetMovieDetails(ctx, id)
		switch details.Outcome {
		case tmdb.OutcomeFound:
			if err := s.catalog.UpdateDetails(ctx, catalog.FromDetails(*details.Details)); err != nil {
				return result, err
			}
			result.Updated++
		case tmdb.OutcomeNotFound, tmdb.OutcomeMalformed:
			if err := s.catalog.MarkDetailsUnavailable(ctx, id); err != nil {
				return result, err
			}
			log.Debug("details unavailable",
				logging.MovieID(id),
				logging.String("outcome", details.Outcome.String()),
				logging.Error(details.Err),
			)
			result.Unavailable++
		default:
			result.Transient++
		}
	}
	if result.Transient > 0 {
		logging.WarnWithContext(log, "details backfill incomplete", "details_backfill_transient",
			logging.Int("transient", result.Transient),
			logging.Int("updated", result.Updated),
			logging.String(logging.FieldImpact, "remaining movies retried on the next run"),
		)
	}
	return result, nil
}

// PosterURL returns the URL a client should load for an image, honoring the
// configured poster mode. Blank paths yield "".
func (s *Service) PosterURL(ctx context.Context, size, imagePath string) string {
	size, imagePath, _, err := imagecache.Normalize(size, imagePath)
	if err != nil {
		return ""
	}
	mode := catalog.PosterDirect
	if settings, err := s.catalog.GetSettings(ctx); err == nil {
		mode = settings.PosterMode
	}
	if mode == catalog.PosterLocalProxy {
		return "/images/" + size + imagePath
	}
	return s.imageBaseURL + "/" + size + imagePath
}

// PrefetchPosters warms the image cache with posters for the head of a
// user's pool.
func (s *Service) PrefetchPosters(ctx context.Context, userID string, limit int) (imagecache.PrefetchResult, error) {
	if s.images == nil {
		return imagecache.PrefetchResult{}, errors.New("image cache not configured")
	}
	movies, err := s.catalog.GetPool(ctx, userID, limit)
	if err != nil {
		return imagecache.PrefetchResult{}, err
	}
	paths := make([]string, 0, len(movies))
	for _, movie := range movies {
		if movie.PosterPath != nil {
			paths = append(paths, *movie.PosterPath)
		}
	}
	return s.images.Prefetch(ctx, s.prefetchSize, paths, s.prefetchConc)
}

// SetSettings persists new settings and applies them to every cache.
func (s *Service) SetSettings(ctx context.Context, settings catalog.Settings) error {
	if err := s.catalog.SetSettings(ctx, settings); err != nil {
		return err
	}
	if s.images != nil {
		if _, err := s.images.Prune(ctx, settings.ImageCacheMaxBytes); err != nil {
			return fmt.Errorf("apply image budget: %w", err)
		}
	}
	return nil
}

// MaintenanceReport combines the results of one Maintain call.
type MaintenanceReport struct {
	Responses respcache.MaintenanceResult
	Catalog   catalog.MaintenanceResult
	Images    imagecache.PruneResult
}

// Maintain runs a forced pass over every cache this service owns.
func (s *Service) Maintain(ctx context.Context) (MaintenanceReport, error) {
	var (
		report MaintenanceReport
		errs   []error
		err    error
	)
	if s.responses != nil {
		if report.Responses, err = s.responses.Maintain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("response cache: %w", err))
		}
	}
	if report.Catalog, err = s.catalog.Maintain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("catalog: %w", err))
	}
	if s.images != nil {
		settings, err := s.catalog.GetSettings(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("settings: %w", err))
		} else if report.Images, err = s.images.Prune(ctx, settings.ImageCacheMaxBytes); err != nil {
			errs = append(errs, fmt.Errorf("images: %w", err))
		}
	}
	return report, errors.Join(errs...)
}

// Catalog exposes the underlying catalog.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

// Images exposes the image cache, which may be nil.
func (s *Service) Images() *imagecache.Cache { return s.images }

// Responses exposes the response cache, which may be nil.
func (s *Service) Responses() *respcache.Cache { return s.responses }
