package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cinedeck/internal/logging"
	"cinedeck/internal/maintenance"
	"cinedeck/internal/metrics"
	"cinedeck/internal/store"
)

// Options configures a Catalog.
type Options struct {
	// Defaults seed the settings row on first open.
	Defaults            Settings
	MaintenanceInterval time.Duration
	Logger              *slog.Logger
	Metrics             *metrics.Metrics
	// Clock overrides time.Now.
	Clock func() time.Time
}

// Catalog owns the movies, user_pool, and settings tables.
type Catalog struct {
	db       *store.DB
	defaults Settings
	gate     *maintenance.Gate
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// MaintenanceResult reports what a maintenance pass removed.
type MaintenanceResult struct {
	MoviesEvicted int64
	PoolTrimmed   int64
}

// Stats summarizes catalog contents.
type Stats struct {
	Movies        int64
	WithDetails   int64
	PoolEntries   int64
	Users         int64
	PendingDetail int64
}

// New opens the catalog over db and seeds the settings row.
func New(ctx context.Context, db *store.DB, opts Options) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("catalog: store is required")
	}
	if err := opts.Defaults.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: default settings: %w", err)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	gate := maintenance.NewGate(opts.MaintenanceInterval)
	gate.SetClock(now)
	c := &Catalog{
		db:       db,
		defaults: opts.Defaults,
		gate:     gate,
		now:      now,
		logger:   logging.NewComponentLogger(opts.Logger, "catalog"),
		metrics:  opts.Metrics,
	}
	if err := c.seedSettings(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

const movieColumns = "tmdb_id, title, original_title, overview, poster_path, backdrop_path, release_date, release_year, original_language, rating, vote_count, runtime, genre_ids, genres, details_fetched_at, updated_at"

func prefixed(alias string) string {
	cols := strings.Split(movieColumns, ", ")
	for i, col := range cols {
		cols[i] = alias + "." + col
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// AddToPool records a discovery batch for userID. Each movie is merged into
// the catalog and ranked by its index in movies; the pool is then trimmed to
// the configured bound. The batch lands in one transaction or not at all.
func (c *Catalog) AddToPool(ctx context.Context, userID string, movies []Movie) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	settings, err := c.GetSettings(ctx)
	if err != nil {
		return err
	}
	if len(movies) > 0 {
		now := c.now()
		err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
			seen := make(map[int64]struct{}, len(movies))
			for rank, movie := range movies {
				if movie.ID <= 0 {
					continue
				}
				if _, dup := seen[movie.ID]; dup {
					continue
				}
				seen[movie.ID] = struct{}{}
				movie.UpdatedAt = now
				if err := upsertMerged(ctx, tx, movie); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO user_pool (user_id, tmdb_id, rank, added_at) VALUES (?, ?, ?, ?)
					ON CONFLICT(user_id, tmdb_id) DO UPDATE SET rank = excluded.rank, added_at = excluded.added_at`,
					userID, movie.ID, rank, now.UnixNano(),
				); err != nil {
					return fmt.Errorf("upsert pool entry %d: %w", movie.ID, err)
				}
			}
			_, err := tx.ExecContext(ctx, `
				DELETE FROM user_pool WHERE user_id = ? AND tmdb_id NOT IN (
					SELECT tmdb_id FROM user_pool WHERE user_id = ?
					ORDER BY rank ASC, added_at DESC, tmdb_id ASC LIMIT ?)`,
				userID, userID, settings.MaxPoolPerUser,
			)
			if err != nil {
				return fmt.Errorf("trim pool: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("add to pool: %w", err)
		}
		c.metrics.PoolFilled()
	}
	c.maybeMaintain(ctx)
	return nil
}

// GetPool returns up to limit pool movies for userID in deck order.
func (c *Catalog) GetPool(ctx context.Context, userID string, limit int) ([]Movie, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := c.db.SQL().QueryContext(ctx, `
		SELECT `+prefixed("m")+` FROM user_pool p
		JOIN movies m ON m.tmdb_id = p.tmdb_id
		WHERE p.user_id = ?
		ORDER BY p.rank ASC, p.added_at DESC, p.tmdb_id ASC
		LIMIT ?`, strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("query pool: %w", err)
	}
	defer rows.Close()
	var movies []Movie
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		movies = append(movies, movie)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool: %w", err)
	}
	return movies, nil
}

// PoolSize counts the pool entries for userID.
func (c *Catalog) PoolSize(ctx context.Context, userID string) (int, error) {
	var n int
	err := c.db.SQL().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_pool WHERE user_id = ?`, strings.TrimSpace(userID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pool: %w", err)
	}
	return n, nil
}

// ClearPool removes every pool entry for userID.
func (c *Catalog) ClearPool(ctx context.Context, userID string) (int64, error) {
	res, err := c.db.Exec(ctx, `DELETE FROM user_pool WHERE user_id = ?`, strings.TrimSpace(userID))
	if err != nil {
		return 0, fmt.Errorf("clear pool: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RemoveFromPool drops specific movies from a user's pool, e.g. once they
// have been shown.
func (c *Catalog) RemoveFromPool(ctx context.Context, userID string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	return c.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM user_pool WHERE user_id = ? AND tmdb_id = ?`, strings.TrimSpace(userID), id,
			); err != nil {
				return fmt.Errorf("remove pool entry %d: %w", id, err)
			}
		}
		return nil
	})
}

// ListMoviesNeedingDetails returns IDs of summary-only movies, most recently
// touched first.
func (c *Catalog) ListMoviesNeedingDetails(ctx context.Context, limit int) ([]int64, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := c.db.SQL().QueryContext(ctx, `
		SELECT tmdb_id FROM movies
		WHERE details_fetched_at IS NULL
		ORDER BY updated_at DESC, tmdb_id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending details: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending details: %w", err)
	}
	return ids, nil
}

// UpdateDetails merges detail fields into the catalog and stamps
// DetailsFetchedAt.
func (c *Catalog) UpdateDetails(ctx context.Context, movie Movie) error {
	if movie.ID <= 0 {
		return fmt.Errorf("invalid movie id %d", movie.ID)
	}
	now := c.now()
	movie.DetailsFetchedAt = &now
	movie.UpdatedAt = now
	return c.db.WithTx(ctx, func(tx *sql.Tx) error {
		return upsertMerged(ctx, tx, movie)
	})
}

// MarkDetailsUnavailable stamps DetailsFetchedAt without new data so a movie
// the upstream no longer knows drops out of the backfill queue.
func (c *Catalog) MarkDetailsUnavailable(ctx context.Context, id int64) error {
	_, err := c.db.Exec(ctx,
		`UPDATE movies SET details_fetched_at = ? WHERE tmdb_id = ? AND details_fetched_at IS NULL`,
		c.now().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("mark details unavailable: %w", err)
	}
	return nil
}

// Get returns one movie.
func (c *Catalog) Get(ctx context.Context, id int64) (Movie, bool, error) {
	movie, found, err := loadMovie(ctx, c.db.SQL(), id)
	if err != nil {
		return Movie{}, false, err
	}
	return movie, found, nil
}

// Stats counts catalog rows.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := c.db.SQL().QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM movies),
			(SELECT COUNT(*) FROM movies WHERE details_fetched_at IS NOT NULL),
			(SELECT COUNT(*) FROM user_pool),
			(SELECT COUNT(DISTINCT user_id) FROM user_pool)`,
	).Scan(&stats.Movies, &stats.WithDetails, &stats.PoolEntries, &stats.Users)
	if err != nil {
		return stats, fmt.Errorf("catalog stats: %w", err)
	}
	stats.PendingDetail = stats.Movies - stats.WithDetails
	return stats, nil
}

// Maintain runs a maintenance pass now, regardless of the throttle.
func (c *Catalog) Maintain(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	err := c.gate.Force(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.runMaintenance(ctx)
		return err
	})
	return result, err
}

func (c *Catalog) maybeMaintain(ctx context.Context) {
	ran, err := c.gate.MaybeRun(ctx, func(ctx context.Context) error {
		_, err := c.runMaintenance(ctx)
		return err
	})
	if ran && err != nil {
		logging.WarnWithContext(c.logger, "catalog maintenance failed", "catalog_maintenance_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "catalog may temporarily exceed its row cap"),
		)
	}
}

func (c *Catalog) runMaintenance(ctx context.Context) (MaintenanceResult, error) {
	var result MaintenanceResult
	settings, err := c.GetSettings(ctx)
	if err != nil {
		return result, err
	}
	res, err := c.db.Exec(ctx, `
		DELETE FROM movies WHERE tmdb_id NOT IN (
			SELECT tmdb_id FROM movies ORDER BY updated_at DESC, tmdb_id DESC LIMIT ?)`,
		settings.MaxMovies,
	)
	if err != nil {
		return result, fmt.Errorf("cap movies: %w", err)
	}
	result.MoviesEvicted, _ = res.RowsAffected()

	res, err = c.db.Exec(ctx, `
		DELETE FROM user_pool WHERE rowid IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (
					PARTITION BY user_id ORDER BY rank ASC, added_at DESC, tmdb_id ASC
				) AS position FROM user_pool
			) WHERE position > ?)`,
		settings.MaxPoolPerUser,
	)
	if err != nil {
		return result, fmt.Errorf("trim pools: %w", err)
	}
	result.PoolTrimmed, _ = res.RowsAffected()

	c.metrics.RowsDeleted("movies", result.MoviesEvicted)
	c.metrics.RowsDeleted("user_pool", result.PoolTrimmed)
	if result.MoviesEvicted > 0 || result.PoolTrimmed > 0 {
		c.logger.Info("catalog maintenance",
			logging.String(logging.FieldEventType, "catalog_maintenance"),
			logging.Int64("movies_evicted", result.MoviesEvicted),
			logging.Int64("pool_trimmed", result.PoolTrimmed),
		)
	}
	return result, nil
}

func upsertMerged(ctx context.Context, tx *sql.Tx, incoming Movie) error {
	existing, found, err := loadMovie(ctx, tx, incoming.ID)
	if err != nil {
		return err
	}
	merged := incoming
	if found {
		merged = Merge(existing, incoming)
	}
	genreIDs, err := encodeList(merged.GenreIDs)
	if err != nil {
		return err
	}
	genres, err := encodeList(merged.Genres)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO movies (`+movieColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tmdb_id) DO UPDATE SET
			title = excluded.title,
			original_title = excluded.original_title,
			overview = excluded.overview,
			poster_path = excluded.poster_path,
			backdrop_path = excluded.backdrop_path,
			release_date = excluded.release_date,
			release_year = excluded.release_year,
			original_language = excluded.original_language,
			rating = excluded.rating,
			vote_count = excluded.vote_count,
			runtime = excluded.runtime,
			genre_ids = excluded.genre_ids,
			genres = excluded.genres,
			details_fetched_at = excluded.details_fetched_at,
			updated_at = excluded.updated_at`,
		merged.ID,
		nullable(merged.Title),
		nullable(merged.OriginalTitle),
		nullable(merged.Overview),
		nullable(merged.PosterPath),
		nullable(merged.BackdropPath),
		nullable(merged.ReleaseDate),
		nullable(merged.ReleaseYear),
		nullable(merged.OriginalLanguage),
		nullable(merged.Rating),
		nullable(merged.VoteCount),
		nullable(merged.Runtime),
		genreIDs,
		genres,
		nullableTime(merged.DetailsFetchedAt),
		merged.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert movie %d: %w", merged.ID, err)
	}
	return nil
}

func loadMovie(ctx context.Context, q rowQuerier, id int64) (Movie, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+movieColumns+` FROM movies WHERE tmdb_id = ?`, id)
	movie, err := scanMovie(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Movie{}, false, nil
	}
	if err != nil {
		return Movie{}, false, err
	}
	return movie, true, nil
}

func scanMovie(s rowScanner) (Movie, error) {
	var (
		movie                                                  Movie
		title, originalTitle, overview, poster, backdrop, date sql.NullString
		language, genreIDs, genres                             sql.NullString
		year, runtime, voteCount, detailsAt                    sql.NullInt64
		rating                                                 sql.NullFloat64
		updatedAt                                              int64
	)
	if err := s.Scan(
		&movie.ID, &title, &originalTitle, &overview, &poster, &backdrop, &date,
		&year, &language, &rating, &voteCount, &runtime, &genreIDs, &genres,
		&detailsAt, &updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return movie, err
		}
		return movie, fmt.Errorf("scan movie: %w", err)
	}
	movie.Title = fromNullString(title)
	movie.OriginalTitle = fromNullString(originalTitle)
	movie.Overview = fromNullString(overview)
	movie.PosterPath = fromNullString(poster)
	movie.BackdropPath = fromNullString(backdrop)
	movie.ReleaseDate = fromNullString(date)
	movie.OriginalLanguage = fromNullString(language)
	if year.Valid {
		movie.ReleaseYear = ptr(int(year.Int64))
	}
	if runtime.Valid {
		movie.Runtime = ptr(int(runtime.Int64))
	}
	if voteCount.Valid {
		movie.VoteCount = ptr(voteCount.Int64)
	}
	if rating.Valid {
		movie.Rating = ptr(rating.Float64)
	}
	if detailsAt.Valid {
		movie.DetailsFetchedAt = ptr(time.Unix(0, detailsAt.Int64).UTC())
	}
	movie.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if genreIDs.Valid {
		if err := json.Unmarshal([]byte(genreIDs.String), &movie.GenreIDs); err != nil {
			return movie, fmt.Errorf("decode genre ids for %d: %w", movie.ID, err)
		}
	}
	if genres.Valid {
		if err := json.Unmarshal([]byte(genres.String), &movie.Genres); err != nil {
			return movie, fmt.Errorf("decode genres for %d: %w", movie.ID, err)
		}
	}
	return movie, nil
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func encodeList[T any](values []T) (any, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}
