package crawler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tracklight/internal/config"
)

func testCrawlerConfig() *config.CrawlerConfig {
	return &config.CrawlerConfig{
		UserAgents: []string{"agent-one", "agent-two", "agent-three"},
		Retry: config.RetryPolicy{
			MaxAttempts:       3,
			InitialDelayMs:    1,
			MaxDelayMs:        10,
			BackoffMultiplier: 2,
			TimeoutSec:        5,
		},
		BufferSizeKb: 64,
		MaxTextChars: 15000,
	}
}

func newTestScraper() *Scraper {
	s := NewScraper(testCrawlerConfig(), nil)
	s.sleep = func(context.Context, time.Duration) error { return nil }

	return s
}

func TestScraper_RotatesUserAgentsAndRetries(t *testing.T) {
	var (
		mu     sync.Mutex
		agents []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		n := len(agents)
		mu.Unlock()

		if n < 3 {
			w.WriteHeader(http.StatusForbidden)

			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	res, err := newTestScraper().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if res.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", res.Attempts)
	}

	want := []string{"agent-one", "agent-two", "agent-three"}
	for i := range want {
		if agents[i] != want[i] {
			t.Errorf("attempt %d user agent = %q, want %q", i+1, agents[i], want[i])
		}
	}
}

func TestScraper_NonRetryableStatus(t *testing.T) {
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestScraper().Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrIngestion) || !errors.Is(err, ErrUnexpectedStatusCode) {
		t.Fatalf("error = %v, want ingestion + status error", err)
	}

	var ierr *IngestionError
	if !errors.As(err, &ierr) || ierr.StatusCode != http.StatusNotFound {
		t.Errorf("IngestionError = %+v", ierr)
	}

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestScraper_ExhaustsAttempts(t *testing.T) {
	calls := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestScraper().Fetch(context.Background(), srv.URL)

	var ierr *IngestionError
	if !errors.As(err, &ierr) || ierr.Attempts != 3 {
		t.Fatalf("error = %v, want 3 attempts", err)
	}

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestScraper_BodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(bytes.Repeat([]byte("a"), 200*1024))
	}))
	defer srv.Close()

	res, err := newTestScraper().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Body) != 64*1024 {
		t.Errorf("body length = %d, want %d", len(res.Body), 64*1024)
	}
}

func TestIsRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusForbidden, true},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		if got := isRetryableStatus(tt.code); got != tt.want {
			t.Errorf("isRetryableStatus(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}
