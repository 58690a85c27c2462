package feed

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quotra/quotra/errors"
	"github.com/quotra/quotra/internal/httpclient"
	"github.com/quotra/quotra/logger"
)

// maxResponseBytes caps how much of an upstream response is read.
// Market-data responses are small; anything larger is misbehavior.
const maxResponseBytes = 16 << 20

// Response is the as-received payload for one fetch of one source,
// plus fetch metadata. Transient except for the audit copy persisted
// with the aggregate run row.
type Response struct {
	SourceID   string
	Body       []byte
	HTTPStatus int
	Duration   time.Duration
	FetchedAt  time.Time
}

// Fetcher performs rate-limited HTTP fetches of registered sources.
// Safe for concurrent use by source runs.
type Fetcher struct {
	client    *httpclient.SaferClient
	perMinute int
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher creates a fetcher. maxPerMinute caps requests per source;
// zero or negative disables rate limiting.
func NewFetcher(client *httpclient.SaferClient, maxPerMinute int, log *zap.SugaredLogger) *Fetcher {
	return &Fetcher{
		client:    client,
		perMinute: maxPerMinute,
		logger:    log,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-source rate limiter, creating it on first use
func (f *Fetcher) limiter(sourceID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[sourceID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(float64(f.perMinute)/60.0), 1)
		f.limiters[sourceID] = l
	}
	return l
}

// Fetch performs one HTTP GET of the source endpoint. The context bounds
// the whole call including any rate-limit wait. A non-2xx status returns
// the Response (for audit) alongside an ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, src *Source) (*Response, error) {
	if f.perMinute > 0 {
		if err := f.limiter(src.ID).Wait(ctx); err != nil {
			return nil, errors.Wrapf(errors.ErrFetchFailed, "rate limit wait for %s: %v", src.ID, err)
		}
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFetchFailed, "build request for %s: %v", src.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "quotra/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFetchFailed, "fetch %s: %v", src.ID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrFetchFailed, "read response body for %s: %v", src.ID, err)
	}

	result := &Response{
		SourceID:   src.ID,
		Body:       body,
		HTTPStatus: resp.StatusCode,
		Duration:   time.Since(start),
		FetchedAt:  start,
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, errors.Wrapf(errors.ErrFetchFailed, "%s returned HTTP %d", src.ID, resp.StatusCode)
	}

	if f.logger != nil {
		f.logger.Debugw("Fetched source",
			logger.FieldSourceID, src.ID,
			logger.FieldHTTPStatus, resp.StatusCode,
			logger.FieldDurationMS, result.Duration.Milliseconds(),
			"bytes", len(body),
		)
	}

	return result, nil
}
