package tmdb_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cinedeck/internal/pipeline"
	"cinedeck/internal/tmdb"
)

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := tmdb.New("", "https://example.com", "en-US"); err == nil {
		t.Fatal("expected error when no credentials are provided")
	}
	if _, err := tmdb.New("", "https://example.com", "en-US", tmdb.WithReadAccessToken("tok")); err != nil {
		t.Fatalf("read access token should be enough: %v", err)
	}
	if _, err := tmdb.New("key", "", "en-US"); err == nil {
		t.Fatal("expected error when base url is empty")
	}
}

func TestAuthentication(t *testing.T) {
	var gotKey, gotAuth, gotLang string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("api_key")
		gotLang = r.URL.Query().Get("language")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "title": "Seven"})
	}))
	defer server.Close()

	client, err := tmdb.New("abc", server.URL, "pt_br", tmdb.WithReadAccessToken("bearer-token"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result := client.GetMovieDetails(context.Background(), 7)
	if !result.Found() {
		t.Fatalf("expected found, got %v (%v)", result.Outcome, result.Err)
	}
	if gotKey != "abc" {
		t.Fatalf("api_key = %q", gotKey)
	}
	if gotAuth != "Bearer bearer-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotLang != "pt-BR" {
		t.Fatalf("language = %q", gotLang)
	}
}

// pagedServer serves totalPages discovery pages of perPage results each.
// Result IDs are page*1000+index so every page is distinct.
func pagedServer(t *testing.T, totalPages, perPage int, failPage int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/discover/movie" {
			http.NotFound(w, r)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == failPage {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		results := make([]map[string]any, 0, perPage)
		for i := 0; i < perPage; i++ {
			results = append(results, map[string]any{
				"id":    page*1000 + i,
				"title": fmt.Sprintf("Movie %d-%d", page, i),
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"page":        page,
			"total_pages": totalPages,
			"results":     results,
		})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestDiscoverClampsPage(t *testing.T) {
	server, _ := pagedServer(t, 5, 20, 0)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	negative, err := client.Discover(ctx, tmdb.Preferences{}, -5, 10)
	if err != nil {
		t.Fatalf("Discover(-5): %v", err)
	}
	first, err := client.Discover(ctx, tmdb.Preferences{}, 1, 10)
	if err != nil {
		t.Fatalf("Discover(1): %v", err)
	}
	if len(negative) != 10 || len(first) != 10 {
		t.Fatalf("expected 10 cards each, got %d and %d", len(negative), len(first))
	}
	for i := range first {
		if negative[i].ID != first[i].ID {
			t.Fatalf("card %d differs: %d vs %d", i, negative[i].ID, first[i].ID)
		}
	}
}

func TestDiscoverClampsLimit(t *testing.T) {
	server, _ := pagedServer(t, 500, 20, 0)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cards, err := client.Discover(context.Background(), tmdb.Preferences{}, 1, 999999)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cards) != tmdb.MaxLimit {
		t.Fatalf("expected %d cards, got %d", tmdb.MaxLimit, len(cards))
	}
	if got := tmdb.ClampPage(9000); got != tmdb.MaxPage {
		t.Fatalf("ClampPage(9000) = %d", got)
	}
	if got := tmdb.ClampLimit(0); got != tmdb.MinLimit {
		t.Fatalf("ClampLimit(0) = %d", got)
	}
}

func TestDiscoverStopsAtLastPage(t *testing.T) {
	server, calls := pagedServer(t, 2, 5, 0)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cards, err := client.Discover(context.Background(), tmdb.Preferences{}, 1, 50)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cards) != 10 {
		t.Fatalf("expected 10 cards, got %d", len(cards))
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestDiscoverLookaheadIsBounded(t *testing.T) {
	server, calls := pagedServer(t, 500, 1, 0)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cards, err := client.Discover(context.Background(), tmdb.Preferences{}, 3, 200)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cards) != tmdb.LookaheadPages {
		t.Fatalf("expected %d cards, got %d", tmdb.LookaheadPages, len(cards))
	}
	if int(calls.Load()) != tmdb.LookaheadPages {
		t.Fatalf("expected %d calls, got %d", tmdb.LookaheadPages, calls.Load())
	}
}

func TestDiscoverReturnsPartialResultsOnFailure(t *testing.T) {
	server, _ := pagedServer(t, 5, 20, 2)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cards, err := client.Discover(context.Background(), tmdb.Preferences{}, 1, 100)
	if err != nil {
		t.Fatalf("partial failure should not be an error: %v", err)
	}
	if len(cards) != 20 {
		t.Fatalf("expected exactly the 20 page-1 cards, got %d", len(cards))
	}
	for _, card := range cards {
		if card.ID >= 2000 {
			t.Fatalf("unexpected card from page 2: %d", card.ID)
		}
	}
}

func TestDiscoverStopsOnMalformedPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte("{not json"))
			return
		}
		_, _ = w.Write([]byte(`{"page":1,"total_pages":9,"results":[{"id":1,"title":"A"},{"id":1,"title":"A"},{"id":2,"title":"B"}]}`))
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cards, err := client.Discover(context.Background(), tmdb.Preferences{}, 1, 50)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("expected 2 deduplicated cards, got %d", len(cards))
	}
}

func TestDiscoverPagesReportsNextPage(t *testing.T) {
	// Pages 1 and 2 carry only unusable results, so a full batch needs page 3.
	sparse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		results := make([]map[string]any, 0, 20)
		for i := range 20 {
			id := 0
			if page >= 3 {
				id = page*1000 + i
			}
			results = append(results, map[string]any{"id": id, "title": "x"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"page": page, "total_pages": 50, "results": results})
	}))
	t.Cleanup(sparse.Close)
	full, _ := pagedServer(t, 500, 20, 0)
	short, _ := pagedServer(t, 2, 5, 0)
	failing, _ := pagedServer(t, 5, 20, 2)

	tests := []struct {
		name  string
		url   string
		limit int
		cards int
		next  int
	}{
		{name: "single page", url: full.URL, limit: 20, cards: 20, next: 2},
		{name: "sparse pages", url: sparse.URL, limit: 20, cards: 20, next: 4},
		{name: "exhausted", url: short.URL, limit: 50, cards: 10, next: 0},
		{name: "failed page", url: failing.URL, limit: 100, cards: 20, next: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := tmdb.New("key", tt.url, "en-US")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			result, err := client.DiscoverPages(context.Background(), tmdb.Preferences{}, 1, tt.limit)
			if err != nil {
				t.Fatalf("DiscoverPages: %v", err)
			}
			if len(result.Cards) != tt.cards {
				t.Fatalf("cards = %d, want %d", len(result.Cards), tt.cards)
			}
			if result.NextPage != tt.next {
				t.Fatalf("NextPage = %d, want %d", result.NextPage, tt.next)
			}
		})
	}
}

func TestDiscoverCanceled(t *testing.T) {
	server, _ := pagedServer(t, 5, 5, 0)
	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Discover(ctx, tmdb.Preferences{}, 1, 10); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestGetMovieDetailsOutcomes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/movie/1":
			_, _ = w.Write([]byte(`{"id":1,"title":"One","runtime":101,"vote_count":12,"genres":[{"id":18,"name":"Drama"}]}`))
		case "/movie/2":
			http.NotFound(w, r)
		case "/movie/3":
			_, _ = w.Write([]byte(`<html>`))
		case "/movie/4":
			http.Error(w, "down", http.StatusServiceUnavailable)
		case "/movie/5":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/movie/6":
			_, _ = w.Write([]byte(`{"title":"no id"}`))
		case "/movie/7":
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	client, err := tmdb.New("key", server.URL, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		id   int64
		want tmdb.Outcome
	}{
		{1, tmdb.OutcomeFound},
		{2, tmdb.OutcomeNotFound},
		{3, tmdb.OutcomeMalformed},
		{4, tmdb.OutcomeTransient},
		{5, tmdb.OutcomeTransient},
		{6, tmdb.OutcomeMalformed},
		{7, tmdb.OutcomeNotFound},
		{0, tmdb.OutcomeNotFound},
	}
	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.id, 10), func(t *testing.T) {
			result := client.GetMovieDetails(context.Background(), tt.id)
			if result.Outcome != tt.want {
				t.Fatalf("outcome = %v, want %v (err=%v)", result.Outcome, tt.want, result.Err)
			}
			if tt.want == tmdb.OutcomeFound {
				if result.Details == nil || result.Details.Runtime != 101 || len(result.Details.Genres) != 1 {
					t.Fatalf("unexpected details: %+v", result.Details)
				}
			} else if result.Details != nil || result.Err == nil {
				t.Fatalf("expected nil details and an error, got %+v", result)
			}
		})
	}
}

type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *mapCache) Get(_ context.Context, key, payloadType string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[payloadType+"|"+key]
	return v, ok
}

func (m *mapCache) Set(_ context.Context, key, payloadType string, payload []byte, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[payloadType+"|"+key] = payload
}

func TestMalformedDetailsAreNotReplayedFromCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte("<html>garbage"))
			return
		}
		_, _ = w.Write([]byte(`{"id":42,"title":"Answer"}`))
	}))
	defer server.Close()

	cache := &mapCache{entries: map[string][]byte{}}
	transport := pipeline.New(pipeline.Options{
		Cache: cache,
		TTL:   pipeline.DefaultTTLPolicy(time.Minute, time.Hour),
		Base:  server.Client().Transport,
	})
	client, err := tmdb.New("key", server.URL, "en-US", tmdb.WithTransport(transport))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if first := client.GetMovieDetails(ctx, 42); first.Outcome != tmdb.OutcomeMalformed {
		t.Fatalf("first lookup: got %v, want malformed", first.Outcome)
	}
	second := client.GetMovieDetails(ctx, 42)
	if !second.Found() || second.Details.Title != "Answer" {
		t.Fatalf("second lookup: got %v (%v)", second.Outcome, second.Err)
	}
	third := client.GetMovieDetails(ctx, 42)
	if !third.Found() {
		t.Fatalf("third lookup: got %v", third.Outcome)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}
	if len(cache.entries) != 1 {
		t.Fatalf("expected one cached entry, got %d", len(cache.entries))
	}
}

func TestGetMovieDetailsTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := tmdb.New("secret", url, "en-US")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	result := client.GetMovieDetails(context.Background(), 9)
	if result.Outcome != tmdb.OutcomeTransient {
		t.Fatalf("outcome = %v", result.Outcome)
	}
	if msg := result.Err.Error(); strings.Contains(msg, "secret") {
		t.Fatalf("error leaks api key: %s", msg)
	}
}

func TestPreferencesValues(t *testing.T) {
	prefs := tmdb.Preferences{
		Genres:           []int{28, 12, 28},
		ExcludeGenres:    []int{27, 99},
		MinRating:        6.5,
		MinVotes:         100,
		MinYear:          1990,
		MaxYear:          2020,
		OriginalLanguage: "ja-JP",
		Region:           "us",
	}
	values := prefs.Values()
	want := map[string]string{
		"sort_by":                  "popularity.desc",
		"include_adult":            "false",
		"with_genres":              "28|12",
		"without_genres":           "27,99",
		"vote_average.gte":         "6.5",
		"vote_count.gte":           "100",
		"primary_release_date.gte": "1990-01-01",
		"primary_release_date.lte": "2020-12-31",
		"with_original_language":   "ja",
		"region":                   "US",
	}
	for key, expected := range want {
		if got := values.Get(key); got != expected {
			t.Errorf("%s = %q, want %q", key, got, expected)
		}
	}

	empty := tmdb.Preferences{}.Values()
	for _, key := range []string{"with_genres", "vote_average.gte", "primary_release_date.gte", "with_original_language", "region"} {
		if empty.Has(key) {
			t.Errorf("unexpected %s in empty preferences", key)
		}
	}
}
