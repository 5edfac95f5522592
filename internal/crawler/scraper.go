package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"tracklight/internal/config"
	"tracklight/internal/logger"
	"tracklight/pkg/utils"
)

// FetchResult is the outcome of a successful fetch.
type FetchResult struct {
	Body        string
	FinalURL    string
	ContentType string
	StatusCode  int
	Attempts    int
	Duration    time.Duration
}

// Scraper handles web fetches with config-driven retry logic. Each attempt uses the
// next configured user agent and a longer timeout than the last.
type Scraper struct {
	client       *http.Client
	retryPolicy  *config.RetryPolicy
	userAgents   []string
	bufferSizeKb int
	log          *logger.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewScraper creates a scraper from crawler config.
func NewScraper(cfg *config.CrawlerConfig, log *logger.Logger) *Scraper {
	if log == nil {
		log = logger.Nop()
	}

	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = []string{utils.DefaultUserAgent}
	}

	retry := cfg.Retry

	return &Scraper{
		client:       &http.Client{},
		retryPolicy:  &retry,
		userAgents:   agents,
		bufferSizeKb: cfg.BufferSizeKb,
		log:          log,
		sleep:        sleepContext,
	}
}

// Fetch downloads url. Network errors, retryable statuses and 403 (often a blocked
// user agent) are retried up to MaxAttempts. Failures are *IngestionError.
func (s *Scraper) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	var lastErr error

	var lastStatusCode int

	start := time.Now()
	attempts := 0

	for attempt := 1; attempt <= s.retryPolicy.MaxAttempts; attempt++ {
		attempts = attempt

		if attempt > 1 {
			if err := s.sleep(ctx, s.retryPolicy.GetRetryDelay(attempt)); err != nil {
				lastErr = err

				break
			}
		}

		res, retry, err := s.attempt(ctx, url, attempt)
		if err == nil {
			res.Attempts = attempt
			res.Duration = time.Since(start)

			return res, nil
		}

		lastErr = err
		if res != nil {
			lastStatusCode = res.StatusCode
		}

		s.log.Debug(fmt.Sprintf("fetch attempt %d/%d failed", attempt, s.retryPolicy.MaxAttempts), "url", url, "error", err)

		if !retry {
			break
		}
	}

	return nil, &IngestionError{Source: url, StatusCode: lastStatusCode, Attempts: attempts, Err: lastErr}
}

// attempt performs one request. It returns whether a failure may be retried.
func (s *Scraper) attempt(ctx context.Context, url string, attempt int) (*FetchResult, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.retryPolicy.GetTimeout(attempt))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	ua := s.userAgents[(attempt-1)%len(s.userAgents)]
	req.Header = utils.NewHTTPHelper(ua).BuildHeaders(map[string]string{
		"Upgrade-Insecure-Requests": "1",
	})

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	res := &FetchResult{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		FinalURL:    resp.Request.URL.String(),
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

		return res, isRetryableStatus(resp.StatusCode), fmt.Errorf("%w: %d", ErrUnexpectedStatusCode, resp.StatusCode)
	}

	// bufferSizeKb is in KB, convert to bytes
	limit := int64(s.bufferSizeKb) * 1024
	reader := io.LimitReader(resp.Body, limit)

	decoded, err := charset.NewReader(reader, res.ContentType)
	if err != nil {
		decoded = reader
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return res, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(body) == 0 {
		return res, true, fmt.Errorf("%w: empty body", ErrNoText)
	}

	res.Body = string(body)

	return res, false, nil
}

// isRetryableStatus determines if we should retry based on HTTP status code.
func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusServiceUnavailable, // 503
		http.StatusGatewayTimeout,  // 504
		http.StatusBadGateway,      // 502
		http.StatusTooManyRequests, // 429
		http.StatusRequestTimeout,  // 408
		http.StatusForbidden:       // 403, often a blocked user agent
		return true
	}

	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
