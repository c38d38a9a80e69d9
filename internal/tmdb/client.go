package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinedeck/internal/logging"
)

const (
	// MinPage and MaxPage bound the discovery page parameter.
	MinPage = 1
	MaxPage = 500
	// MinLimit and MaxLimit bound the number of cards Discover returns.
	MinLimit = 1
	MaxLimit = 200
	// LookaheadPages is how many pages Discover reads at most per call,
	// counting the starting page.
	LookaheadPages = 10
)

// Client provides access to the TMDB API.
type Client struct {
	apiKey      string
	accessToken string
	baseURL     string
	language    string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTransport keeps the default timeout but routes requests through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.httpClient = &http.Client{Timeout: c.httpClient.Timeout, Transport: rt}
		}
	}
}

// WithTimeout bounds each request, including retries inside the transport.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithReadAccessToken authenticates with a v4 bearer token instead of, or in
// addition to, the API key.
func WithReadAccessToken(token string) Option {
	return func(c *Client) {
		c.accessToken = strings.TrimSpace(token)
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "tmdb")
	}
}

// New creates a TMDB client. Either apiKey or a read access token option is
// required.
func New(apiKey, baseURL, lang string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("tmdb base url required")
	}
	client := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   canonicalLanguage(lang),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.NewComponentLogger(nil, "tmdb"),
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.apiKey == "" && client.accessToken == "" {
		return nil, errors.New("tmdb api key required")
	}
	return client, nil
}

// ClampPage bounds a requested discovery page.
func ClampPage(page int) int {
	return min(max(page, MinPage), MaxPage)
}

// ClampLimit bounds a requested discovery result count.
func ClampLimit(limit int) int {
	return min(max(limit, MinLimit), MaxLimit)
}

// Discover returns up to limit distinct cards starting at page. See
// DiscoverPages for the paging rules.
func (c *Client) Discover(ctx context.Context, prefs Preferences, page, limit int) ([]Card, error) {
	result, err := c.DiscoverPages(ctx, prefs, page, limit)
	return result.Cards, err
}

// DiscoverPages walks discovery pages from page (clamped to [1,500]) until
// limit (clamped to [1,200]) distinct cards are collected, the upstream runs
// out of pages, or the look-ahead window ends. A failing page stops the walk
// and the cards gathered so far are returned. Only cancellation of ctx is
// reported as an error.
func (c *Client) DiscoverPages(ctx context.Context, prefs Preferences, page, limit int) (DiscoverResult, error) {
	page = ClampPage(page)
	limit = ClampLimit(limit)
	log := logging.WithContext(ctx, c.logger)

	result := DiscoverResult{Cards: make([]Card, 0, limit), NextPage: page}
	seen := make(map[int64]struct{}, limit)
	lastPage := min(page+LookaheadPages-1, MaxPage)

	for current := page; current <= lastPage && len(result.Cards) < limit; current++ {
		params := prefs.Values()
		params.Set("page", strconv.Itoa(current))

		var payload discoverPage
		status, err := c.getJSON(ctx, "/discover/movie", params, &payload)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			level := slog.LevelWarn
			if status == http.StatusNotFound {
				level = slog.LevelDebug
			}
			log.Log(ctx, level, "discover pagination stopped early",
				logging.String(logging.FieldEventType, "discover_partial"),
				logging.Int("page", current),
				logging.Int("status", status),
				logging.Int("collected", len(result.Cards)),
				logging.Error(err),
			)
			if status == http.StatusNotFound {
				result.NextPage = 0
			}
			break
		}
		result.NextPage = current + 1

		for _, card := range payload.Results {
			if card.ID <= 0 {
				continue
			}
			if _, dup := seen[card.ID]; dup {
				continue
			}
			seen[card.ID] = struct{}{}
			result.Cards = append(result.Cards, card)
			if len(result.Cards) == limit {
				break
			}
		}

		if (payload.TotalPages > 0 && current >= payload.TotalPages) || len(payload.Results) == 0 {
			result.NextPage = 0
			break
		}
	}
	if result.NextPage > MaxPage {
		result.NextPage = 0
	}
	return result, nil
}

// GetMovieDetails fetches the full document for one movie.
func (c *Client) GetMovieDetails(ctx context.Context, movieID int64) DetailsResult {
	if movieID <= 0 {
		return DetailsResult{Outcome: OutcomeNotFound, Err: fmt.Errorf("invalid movie id %d", movieID)}
	}
	var details Details
	status, err := c.getJSON(ctx, "/movie/"+strconv.FormatInt(movieID, 10), url.Values{}, &details)
	switch {
	case err == nil && details.ID == 0:
		return DetailsResult{Outcome: OutcomeMalformed, Err: fmt.Errorf("tmdb movie %d: document has no id", movieID)}
	case err == nil:
		return DetailsResult{Outcome: OutcomeFound, Details: &details}
	case errors.Is(err, errDecode):
		return DetailsResult{Outcome: OutcomeMalformed, Err: err}
	case status == 0, status >= 500, status == http.StatusTooManyRequests:
		return DetailsResult{Outcome: OutcomeTransient, Err: err}
	default:
		return DetailsResult{Outcome: OutcomeNotFound, Err: err}
	}
}

var errDecode = errors.New("decode tmdb response")

// getJSON issues a GET and decodes a 200 body into dst. The returned status is
// zero when no response arrived.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dst any) (int, error) {
	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return 0, fmt.Errorf("parse tmdb url: %w", err)
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	if c.language != "" {
		params.Set("language", c.language)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return 0, fmt.Errorf("execute request (latency=%v): %w", latency, scrubURLError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("tmdb %s returned %d (latency=%v)", path, resp.StatusCode, latency)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: %v", errDecode, err)
	}
	return resp.StatusCode, nil
}

// scrubURLError drops the request URL (and its api_key) from client errors.
func scrubURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s %s: %w", urlErr.Op, logging.RedactURLString(urlErr.URL), urlErr.Err)
	}
	return err
}
