package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cinedeck/internal/logging"
)

// Payload types used as the second half of the response cache key.
const (
	PayloadDiscover  = "discover"
	PayloadDetails   = "details"
	PayloadReference = "reference"
)

// CacheHeader marks responses served from or stored into the cache.
const CacheHeader = "X-Cache"

// ResponseCache is the subset of the response cache the pipeline uses.
type ResponseCache interface {
	Get(ctx context.Context, key, payloadType string) ([]byte, bool)
	Set(ctx context.Context, key, payloadType string, payload []byte, ttl time.Duration)
}

// TTLPolicy classifies a request. A zero ttl means the response is not cached.
type TTLPolicy func(req *http.Request) (payloadType string, ttl time.Duration)

// Validator reports whether a successful body may be stored under
// payloadType. Rejected bodies are still returned to the caller.
type Validator func(payloadType string, body []byte) bool

// ValidPayload accepts JSON objects. Details documents must also carry a
// non-zero id.
func ValidPayload(payloadType string, body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var doc struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return false
	}
	if payloadType == PayloadDetails {
		return doc.ID != 0
	}
	return true
}

var (
	detailsPath = regexp.MustCompile(`/movie/\d+$`)
	listSuffix  = []string{"/popular", "/top_rated", "/now_playing", "/upcoming", "/similar", "/recommendations"}
)

// DefaultTTLPolicy caches discovery and listing pages for discoverTTL and
// single-movie documents for detailsTTL. Genre and configuration lookups
// share the details lifetime.
func DefaultTTLPolicy(discoverTTL, detailsTTL time.Duration) TTLPolicy {
	return func(req *http.Request) (string, time.Duration) {
		path := strings.TrimRight(req.URL.Path, "/")
		switch {
		case strings.Contains(path, "/discover/"), strings.Contains(path, "/trending/"), strings.Contains(path, "/search/"):
			return PayloadDiscover, discoverTTL
		case detailsPath.MatchString(path):
			return PayloadDetails, detailsTTL
		case strings.Contains(path, "/genre/"), strings.HasSuffix(path, "/configuration"):
			return PayloadReference, detailsTTL
		}
		for _, suffix := range listSuffix {
			if strings.HasSuffix(path, suffix) {
				return PayloadDiscover, discoverTTL
			}
		}
		return "", 0
	}
}

// CacheKey returns the request's path and query with credential parameters
// removed. Remaining parameters are sorted so equivalent requests collide.
func CacheKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	values := u.Query()
	for name := range values {
		if logging.IsSecretParam(name) {
			values.Del(name)
		}
	}
	if len(values) == 0 {
		return u.EscapedPath()
	}
	return u.EscapedPath() + "?" + values.Encode()
}

// Cache serves GET requests from c and stores successful responses that
// pass validate. A nil validate means ValidPayload.
func Cache(c ResponseCache, policy TTLPolicy, validate Validator, logger *slog.Logger) Middleware {
	logger = logging.NewComponentLogger(logger, "pipeline")
	if validate == nil {
		validate = ValidPayload
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
			if req.Method != http.MethodGet && req.Method != "" {
				return next.RoundTrip(req)
			}
			payloadType, ttl := policy(req)
			if payloadType == "" || ttl <= 0 {
				return next.RoundTrip(req)
			}

			ctx := req.Context()
			key := CacheKey(req.URL)
			if payload, ok := c.Get(ctx, key, payloadType); ok {
				logger.Debug("response cache hit",
					logging.String("key", key),
					logging.String("payload_type", payloadType),
				)
				return cachedResponse(req, payload), nil
			}

			resp, err := next.RoundTrip(req)
			if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
				return resp, err
			}

			body, err := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read upstream body: %w", err)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
			resp.ContentLength = int64(len(body))
			if !validate(payloadType, body) {
				logging.WarnWithContext(logging.WithContext(ctx, logger), "upstream payload not cached", "malformed_payload",
					logging.String("key", key),
					logging.String("payload_type", payloadType),
					logging.Int("bytes", len(body)),
					logging.String(logging.FieldImpact, "response passed through uncached"),
				)
				resp.Header.Set(CacheHeader, "BYPASS")
				return resp, nil
			}
			c.Set(ctx, key, payloadType, body, ttl)
			resp.Header.Set(CacheHeader, "MISS")
			return resp, nil
		})
	}
}

func cachedResponse(req *http.Request, payload []byte) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "application/json;charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(payload)))
	header.Set(CacheHeader, "HIT")
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}
}
