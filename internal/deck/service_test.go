package deck_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"cinedeck/internal/catalog"
	"cinedeck/internal/deck"
	"cinedeck/internal/testsupport"
	"cinedeck/internal/tmdb"
)

type fakeUpstream struct {
	mu          sync.Mutex
	pages       []int
	discoverErr error
	details     map[int64]tmdb.DetailsResult
	// span is how many pages each walk reads; defaults to 1.
	span int
	// lastPage makes walks reaching it report exhaustion.
	lastPage int
}

func (f *fakeUpstream) DiscoverPages(_ context.Context, _ tmdb.Preferences, page, limit int) (tmdb.DiscoverResult, error) {
	f.mu.Lock()
	f.pages = append(f.pages, page)
	f.mu.Unlock()
	if f.discoverErr != nil {
		return tmdb.DiscoverResult{}, f.discoverErr
	}
	cards := make([]tmdb.Card, 0, limit)
	for i := 0; i < limit; i++ {
		id := int64(page*1000 + i)
		cards = append(cards, tmdb.Card{ID: id, Title: fmt.Sprintf("Movie %d", id), PosterPath: fmt.Sprintf("/p%d.jpg", id)})
	}
	next := page + max(f.span, 1)
	if f.lastPage > 0 && next > f.lastPage {
		next = 0
	}
	return tmdb.DiscoverResult{Cards: cards, NextPage: next}, nil
}

func (f *fakeUpstream) GetMovieDetails(_ context.Context, id int64) tmdb.DetailsResult {
	if res, ok := f.details[id]; ok {
		return res
	}
	return tmdb.DetailsResult{Outcome: tmdb.OutcomeNotFound, Err: errors.New("not found")}
}

func newService(t *testing.T, upstream deck.Upstream, lowWater, fill int) *deck.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithPoolBounds(1000, 100, lowWater))
	db := testsupport.MustOpenStore(t, cfg)
	cat, err := catalog.New(context.Background(), db, catalog.Options{Defaults: catalog.SettingsFromConfig(cfg)})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	svc, err := deck.New(deck.Options{
		Upstream:     upstream,
		Catalog:      cat,
		ImageBaseURL: "https://img.example/t/p/",
		LowWater:     lowWater,
		FillSize:     fill,
	})
	if err != nil {
		t.Fatalf("deck.New: %v", err)
	}
	return svc
}

func TestGetDeckRefillsLowPool(t *testing.T) {
	upstream := &fakeUpstream{}
	svc := newService(t, upstream, 5, 10)
	ctx := context.Background()

	movies := svc.GetDeck(ctx, "alice", 3)
	if len(movies) != 3 || movies[0].ID != 1000 {
		t.Fatalf("unexpected deck %v", movies)
	}
	if len(upstream.pages) != 1 {
		t.Fatalf("expected one discovery call, got %v", upstream.pages)
	}

	// Pool holds 10 >= low water: served locally.
	if movies := svc.GetDeck(ctx, "alice", 3); len(movies) != 3 {
		t.Fatalf("unexpected deck size %d", len(movies))
	}
	if len(upstream.pages) != 1 {
		t.Fatalf("healthy pool should not call upstream, calls=%v", upstream.pages)
	}

	// Consume down below the low-water mark; the next refill continues paging.
	var seen []int64
	for _, m := range svc.GetDeck(ctx, "alice", 7) {
		seen = append(seen, m.ID)
	}
	if err := svc.MarkSeen(ctx, "alice", seen...); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	movies = svc.GetDeck(ctx, "alice", 20)
	if len(upstream.pages) != 2 || upstream.pages[1] != 2 {
		t.Fatalf("expected a second discovery on page 2, got %v", upstream.pages)
	}
	if len(movies) != 13 {
		t.Fatalf("expected 3 leftovers plus 10 new, got %d", len(movies))
	}
}

func TestGetDeckDegradesOnUpstreamFailure(t *testing.T) {
	upstream := &fakeUpstream{discoverErr: errors.New("upstream down")}
	svc := newService(t, upstream, 5, 10)

	movies := svc.GetDeck(context.Background(), "alice", 10)
	if len(movies) != 0 {
		t.Fatalf("expected empty deck, got %d", len(movies))
	}
}

func TestResetPoolRestartsPaging(t *testing.T) {
	upstream := &fakeUpstream{}
	svc := newService(t, upstream, 5, 10)
	ctx := context.Background()

	if _, err := svc.Refill(ctx, "alice"); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	removed, err := svc.ResetPool(ctx, "alice")
	if err != nil || removed != 10 {
		t.Fatalf("ResetPool removed=%d err=%v", removed, err)
	}
	if _, err := svc.Refill(ctx, "alice"); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	if fmt.Sprint(upstream.pages) != "[1 1]" {
		t.Fatalf("pages = %v", upstream.pages)
	}
	if _, err := svc.Refill(ctx, " "); err == nil {
		t.Fatal("expected error for blank user")
	}
}

func TestRefillResumesAfterLastPageRead(t *testing.T) {
	// Each walk reads three pages, e.g. because early pages were mostly duplicates.
	upstream := &fakeUpstream{span: 3, lastPage: 7}
	svc := newService(t, upstream, 5, 10)
	ctx := context.Background()

	for range 4 {
		if _, err := svc.Refill(ctx, "alice"); err != nil {
			t.Fatalf("Refill: %v", err)
		}
	}
	if fmt.Sprint(upstream.pages) != "[1 4 7 1]" {
		t.Fatalf("pages = %v", upstream.pages)
	}
}

func TestBackfillDetails(t *testing.T) {
	upstream := &fakeUpstream{details: map[int64]tmdb.DetailsResult{
		1000: {Outcome: tmdb.OutcomeFound, Details: &tmdb.Details{ID: 1000, Title: "Movie 1000", Runtime: 99}},
		1001: {Outcome: tmdb.OutcomeTransient, Err: errors.New("503")},
		1002: {Outcome: tmdb.OutcomeMalformed, Err: errors.New("bad json")},
	}}
	svc := newService(t, upstream, 1, 4)
	ctx := context.Background()

	if _, err := svc.Refill(ctx, "alice"); err != nil {
		t.Fatalf("Refill: %v", err)
	}
	result, err := svc.BackfillDetails(ctx, 10)
	if err != nil {
		t.Fatalf("BackfillDetails: %v", err)
	}
	if result.Updated != 1 || result.Transient != 1 || result.Unavailable != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
	pending, _ := svc.Catalog().ListMoviesNeedingDetails(ctx, 10)
	if fmt.Sprint(pending) != "[1001]" {
		t.Fatalf("only the transient failure should remain pending, got %v", pending)
	}
	movie, _, _ := svc.Catalog().Get(ctx, 1000)
	if movie.Runtime == nil || *movie.Runtime != 99 {
		t.Fatalf("details not merged: %+v", movie)
	}
}

func TestPosterURLFollowsMode(t *testing.T) {
	svc := newService(t, &fakeUpstream{}, 1, 1)
	ctx := context.Background()

	if got := svc.PosterURL(ctx, "w500", "abc.jpg"); got != "https://img.example/t/p/w500/abc.jpg" {
		t.Fatalf("direct url = %q", got)
	}
	if got := svc.PosterURL(ctx, "w500", ""); got != "" {
		t.Fatalf("blank path = %q", got)
	}

	settings, _ := svc.Catalog().GetSettings(ctx)
	settings.PosterMode = catalog.PosterLocalProxy
	if err := svc.SetSettings(ctx, settings); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}
	if got := svc.PosterURL(ctx, "", "/abc.jpg"); got != "/images/original/abc.jpg" {
		t.Fatalf("proxy url = %q", got)
	}
}

// fakeTMDB serves discovery, details, and images like the real API.
func fakeTMDB(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case r.URL.Path == "/discover/movie":
			page, _ := strconv.Atoi(r.URL.Query().Get("page"))
			results := make([]map[string]any, 0, 20)
			for i := 0; i < 20; i++ {
				id := page*100 + i
				results = append(results, map[string]any{"id": id, "title": fmt.Sprintf("M%d", id), "poster_path": fmt.Sprintf("/p%d.jpg", id)})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"page": page, "total_pages": 3, "results": results})
		case strings.HasPrefix(r.URL.Path, "/movie/"):
			id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/movie/"))
			_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "title": fmt.Sprintf("M%d", id), "runtime": 120})
		case strings.HasPrefix(r.URL.Path, "/images/"):
			_, _ = w.Write([]byte("image-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOpenWiresFullStack(t *testing.T) {
	var requests atomic.Int32
	server := fakeTMDB(t, &requests)
	cfg := testsupport.NewConfig(t, testsupport.WithTMDBServer(server.URL), testsupport.WithPoolBounds(1000, 100, 10))
	cfg.Catalog.FillSize = 30

	rt, err := deck.Open(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()

	movies := rt.Service.GetDeck(ctx, "alice", 5)
	if len(movies) != 5 {
		t.Fatalf("expected 5 movies, got %d", len(movies))
	}
	afterDeck := requests.Load()
	if afterDeck != 2 {
		t.Fatalf("expected 2 discovery pages, got %d requests", afterDeck)
	}

	// Same discovery again is answered by the response cache.
	if _, err := rt.Service.Discover(ctx, "bob", 1, 20); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if requests.Load() != afterDeck {
		t.Fatalf("cached discovery page should not reach upstream")
	}

	result, err := rt.Service.BackfillDetails(ctx, 3)
	if err != nil || result.Updated != 3 {
		t.Fatalf("BackfillDetails: %+v err=%v", result, err)
	}

	prefetch, err := rt.Service.PrefetchPosters(ctx, "alice", 2)
	if err != nil || prefetch.Cached != 2 {
		t.Fatalf("PrefetchPosters: %+v err=%v", prefetch, err)
	}
	if has, _ := rt.Images.Has(ctx, cfg.Images.PrefetchSize, *movies[0].PosterPath); !has {
		t.Fatal("poster should be cached")
	}

	report, err := rt.Service.Maintain(ctx)
	if err != nil {
		t.Fatalf("Maintain: %v", err)
	}
	if report.Images.Removed != 0 {
		t.Fatalf("nothing should be pruned under the default budget: %+v", report.Images)
	}
	// Every client call takes a permit, cache hits included; image downloads
	// bypass the limiter.
	if rt.Limiter.Acquired() != 6 {
		t.Fatalf("permits = %d, want 6", rt.Limiter.Acquired())
	}
}
