package catalog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"cinedeck/internal/catalog"
	"cinedeck/internal/testsupport"
	"cinedeck/internal/tmdb"
)

func newCatalog(t *testing.T, clock *testsupport.Clock, maxMovies, maxPool int) *catalog.Catalog {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPoolBounds(maxMovies, maxPool, 1))
	db := testsupport.MustOpenStore(t, cfg)
	c, err := catalog.New(context.Background(), db, catalog.Options{
		Defaults: catalog.SettingsFromConfig(cfg),
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func cards(start, n int) []catalog.Movie {
	movies := make([]catalog.Movie, 0, n)
	for i := 0; i < n; i++ {
		id := int64(start + i)
		movies = append(movies, catalog.FromCard(tmdb.Card{
			ID:          id,
			Title:       fmt.Sprintf("Movie %d", id),
			ReleaseDate: "2001-05-04",
			VoteAverage: 7.1,
			GenreIDs:    []int{18},
		}))
	}
	return movies
}

func ids(movies []catalog.Movie) []int64 {
	out := make([]int64, len(movies))
	for i, m := range movies {
		out[i] = m.ID
	}
	return out
}

func TestAddToPoolOrdersByRank(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 50)
	ctx := context.Background()

	if err := c.AddToPool(ctx, "alice", cards(10, 5)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	pool, err := c.GetPool(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	got := ids(pool)
	want := []int64{10, 11, 12, 13, 14}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("pool = %v, want %v", got, want)
	}
	if pool[0].ReleaseYear == nil || *pool[0].ReleaseYear != 2001 {
		t.Fatalf("release year not derived: %+v", pool[0].ReleaseYear)
	}
	if other, _ := c.GetPool(ctx, "bob", 10); len(other) != 0 {
		t.Fatalf("pools leak across users: %v", ids(other))
	}
}

func TestPoolIsBounded(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 1000, 8)
	ctx := context.Background()

	for batch := 1; batch <= 4; batch++ {
		clock.Advance(time.Second)
		if err := c.AddToPool(ctx, "alice", cards(batch*100, 5)); err != nil {
			t.Fatalf("AddToPool batch %d: %v", batch, err)
		}
	}
	size, err := c.PoolSize(ctx, "alice")
	if err != nil {
		t.Fatalf("PoolSize: %v", err)
	}
	if size != 8 {
		t.Fatalf("pool size = %d, want 8", size)
	}
	pool, err := c.GetPool(ctx, "alice", 8)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if len(pool) != 8 {
		t.Fatalf("expected 8 entries, got %d", len(pool))
	}
	// Equal ranks resolve to the most recent batch first.
	want := []int64{400, 300, 200, 100, 401, 301, 201, 101}
	if fmt.Sprint(ids(pool)) != fmt.Sprint(want) {
		t.Fatalf("pool = %v, want %v", ids(pool), want)
	}
}

func TestAddToPoolSkipsDuplicatesWithinBatch(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 50)
	ctx := context.Background()

	batch := append(cards(1, 3), cards(1, 1)...)
	if err := c.AddToPool(ctx, "alice", batch); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	pool, _ := c.GetPool(ctx, "alice", 10)
	if fmt.Sprint(ids(pool)) != "[1 2 3]" {
		t.Fatalf("pool = %v", ids(pool))
	}
}

func TestSummaryWriteKeepsDetails(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 50)
	ctx := context.Background()

	if err := c.AddToPool(ctx, "alice", cards(7, 1)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	pending, err := c.ListMoviesNeedingDetails(ctx, 10)
	if err != nil || len(pending) != 1 || pending[0] != 7 {
		t.Fatalf("pending = %v err=%v", pending, err)
	}

	clock.Advance(time.Minute)
	details := catalog.FromDetails(tmdb.Details{
		ID:          7,
		Title:       "Movie 7",
		Runtime:     123,
		VoteCount:   900,
		VoteAverage: 7.4,
		Genres:      []tmdb.Genre{{ID: 18, Name: "Drama"}},
	})
	if err := c.UpdateDetails(ctx, details); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	if pending, _ := c.ListMoviesNeedingDetails(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected no pending ids, got %v", pending)
	}

	clock.Advance(time.Minute)
	refreshed := cards(7, 1)
	refreshed[0].Title = ptr("Movie 7 (Remastered)")
	if err := c.AddToPool(ctx, "bob", refreshed); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}

	movie, found, err := c.Get(ctx, 7)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !movie.HasDetails() {
		t.Fatal("details stamp was cleared by a summary write")
	}
	if movie.Runtime == nil || *movie.Runtime != 123 {
		t.Fatalf("runtime clobbered: %v", movie.Runtime)
	}
	if len(movie.Genres) != 1 || movie.Genres[0] != "Drama" {
		t.Fatalf("genres clobbered: %v", movie.Genres)
	}
	if movie.DisplayTitle() != "Movie 7 (Remastered)" {
		t.Fatalf("summary field not refreshed: %q", movie.DisplayTitle())
	}
	if *movie.Rating != 7.1 {
		t.Fatalf("rating = %v, want the incoming summary value", *movie.Rating)
	}
}

func ptr[T any](v T) *T { return &v }

func TestMerge(t *testing.T) {
	fetched := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := catalog.Movie{
		ID:               1,
		Title:            ptr("Old"),
		Overview:         ptr("kept"),
		Runtime:          ptr(90),
		Genres:           []string{"Drama"},
		DetailsFetchedAt: &fetched,
		UpdatedAt:        fetched,
	}
	incoming := catalog.Movie{
		ID:        1,
		Title:     ptr("New"),
		UpdatedAt: fetched.Add(time.Hour),
	}
	merged := catalog.Merge(existing, incoming)
	if *merged.Title != "New" {
		t.Fatalf("title = %q", *merged.Title)
	}
	if merged.Overview == nil || *merged.Overview != "kept" {
		t.Fatal("existing overview should survive a nil incoming value")
	}
	if merged.Runtime == nil || *merged.Runtime != 90 {
		t.Fatal("existing runtime should survive")
	}
	if len(merged.Genres) != 1 {
		t.Fatal("existing genres should survive a nil slice")
	}
	if merged.DetailsFetchedAt == nil {
		t.Fatal("details stamp must not be cleared")
	}
	if !merged.UpdatedAt.Equal(fetched.Add(time.Hour)) {
		t.Fatalf("updated at = %v", merged.UpdatedAt)
	}

	emptied := catalog.Merge(existing, catalog.Movie{ID: 1, Genres: []string{}})
	if emptied.Genres == nil || len(emptied.Genres) != 0 {
		t.Fatal("an explicit empty slice is a known value and replaces the old one")
	}
}

func TestClearAndRemoveFromPool(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 50)
	ctx := context.Background()

	if err := c.AddToPool(ctx, "alice", cards(1, 4)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	if err := c.RemoveFromPool(ctx, "alice", 1, 3); err != nil {
		t.Fatalf("RemoveFromPool: %v", err)
	}
	pool, _ := c.GetPool(ctx, "alice", 10)
	if fmt.Sprint(ids(pool)) != "[2 4]" {
		t.Fatalf("pool = %v", ids(pool))
	}
	removed, err := c.ClearPool(ctx, "alice")
	if err != nil || removed != 2 {
		t.Fatalf("ClearPool removed=%d err=%v", removed, err)
	}
	if size, _ := c.PoolSize(ctx, "alice"); size != 0 {
		t.Fatalf("pool size = %d", size)
	}
	if _, found, _ := c.Get(ctx, 1); !found {
		t.Fatal("clearing a pool must not delete catalog rows")
	}
}

func TestMaintenanceCapsMoviesByRecency(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 3, 50)
	ctx := context.Background()

	// The first call runs the opportunistic pass while the catalog is small.
	for i := int64(1); i <= 5; i++ {
		clock.Advance(time.Second)
		if err := c.AddToPool(ctx, "alice", cards(int(i), 1)); err != nil {
			t.Fatalf("AddToPool: %v", err)
		}
	}
	stats, _ := c.Stats(ctx)
	if stats.Movies != 5 {
		t.Fatalf("throttled maintenance should not have run yet, movies=%d", stats.Movies)
	}

	result, err := c.Maintain(ctx)
	if err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if result.MoviesEvicted != 2 {
		t.Fatalf("evicted = %d, want 2", result.MoviesEvicted)
	}
	for _, id := range []int64{1, 2} {
		if _, found, _ := c.Get(ctx, id); found {
			t.Fatalf("movie %d should have been evicted", id)
		}
	}
	pool, _ := c.GetPool(ctx, "alice", 10)
	if len(pool) != 3 {
		t.Fatalf("pool rows should cascade with their movies, got %v", ids(pool))
	}
}

func TestOpportunisticMaintenanceRunsAfterInterval(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 2, 50)
	ctx := context.Background()

	if err := c.AddToPool(ctx, "alice", nil); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	if err := c.AddToPool(ctx, "alice", cards(1, 4)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	clock.Advance(11 * time.Minute)
	if err := c.AddToPool(ctx, "alice", nil); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	stats, _ := c.Stats(ctx)
	if stats.Movies != 2 {
		t.Fatalf("movies = %d, want 2 after the throttled pass", stats.Movies)
	}
}

func TestSettingsRoundTripAndTrimPools(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 10)
	ctx := context.Background()

	settings, err := c.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if settings.MaxPoolPerUser != 10 || settings.PosterMode != catalog.PosterDirect {
		t.Fatalf("unexpected seeded settings: %+v", settings)
	}

	if err := c.AddToPool(ctx, "alice", cards(1, 6)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	settings.MaxPoolPerUser = 2
	settings.PosterMode = "proxy"
	if err := c.SetSettings(ctx, settings); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	got, err := c.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.MaxPoolPerUser != 2 || got.PosterMode != catalog.PosterLocalProxy {
		t.Fatalf("settings not persisted: %+v", got)
	}
	pool, _ := c.GetPool(ctx, "alice", 10)
	if fmt.Sprint(ids(pool)) != "[1 2]" {
		t.Fatalf("SetSettings should trim pools immediately, got %v", ids(pool))
	}

	settings.MaxMovies = 0
	if err := c.SetSettings(ctx, settings); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestAddToPoolRequiresUser(t *testing.T) {
	c := newCatalog(t, testsupport.NewClock(), 10, 10)
	if err := c.AddToPool(context.Background(), " ", cards(1, 1)); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestMarkDetailsUnavailable(t *testing.T) {
	clock := testsupport.NewClock()
	c := newCatalog(t, clock, 100, 10)
	ctx := context.Background()

	if err := c.AddToPool(ctx, "alice", cards(1, 2)); err != nil {
		t.Fatalf("AddToPool: %v", err)
	}
	if err := c.MarkDetailsUnavailable(ctx, 1); err != nil {
		t.Fatalf("MarkDetailsUnavailable: %v", err)
	}
	pending, _ := c.ListMoviesNeedingDetails(ctx, 10)
	if fmt.Sprint(pending) != "[2]" {
		t.Fatalf("pending = %v", pending)
	}
}
