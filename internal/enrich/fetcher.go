package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrFetchFailed wraps transport-level faults. A page that does not exist
// is not a fault: fetchers return an empty string for it.
var ErrFetchFailed = errors.New("description fetch failed")

// Fetcher returns the description text of the posting at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

const (
	fetchTimeout = 30 * time.Second
	maxBodyBytes = 10 << 20
	userAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// HTTPFetcher GETs posting pages over plain HTTP, spacing requests with a
// token-bucket limiter so boards are not hammered.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPFetcher allows perMinute requests per minute; zero disables the
// limiter.
func NewHTTPFetcher(perMinute int) *HTTPFetcher {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: fetchTimeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: new request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5,nl;q=0.3")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return "", nil
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("%w: %s returned %d", ErrFetchFailed, url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrFetchFailed, err)
	}
	return ExtractText(string(body), url), nil
}

// RetryingFetcher retries transport faults with exponential backoff. An
// empty result is final and is not retried.
type RetryingFetcher struct {
	Next     Fetcher
	Attempts int
	Delay    time.Duration
	Logger   *slog.Logger
}

// NewRetryingFetcher wraps next with two attempts.
func NewRetryingFetcher(next Fetcher, logger *slog.Logger) *RetryingFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingFetcher{Next: next, Attempts: 2, Delay: 2 * time.Second, Logger: logger}
}

func (r *RetryingFetcher) Fetch(ctx context.Context, url string) (string, error) {
	attempts := max(r.Attempts, 1)
	delay := r.Delay

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := r.Next.Fetch(ctx, url)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if attempt == attempts || ctx.Err() != nil {
			break
		}

		r.Logger.Warn("fetch failed, retrying", "url", url, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		delay *= 2
	}
	return "", lastErr
}
