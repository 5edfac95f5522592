package crawler

import (
	"fmt"
	"time"

	"tracklight/internal/logger"
	"tracklight/pkg/identity"
)

// Reasons a URL is left out of a batch.
const (
	SkipInvalid   = "invalid URL"
	SkipDuplicate = "duplicate in batch"
	SkipKnown     = "already stored"
)

// URLManager queues a batch of URLs, dropping invalid ones, duplicates within the
// batch and URLs whose identity is already stored, and records fetch attempts.
type URLManager struct {
	known      func(id string) bool
	attemptLog map[string][]AttemptResult
	seen       map[string]bool
	queue      []QueuedURL
	skipped    []SkippedURL
	pos        int
}

// QueuedURL is one URL waiting to be ingested.
type QueuedURL struct {
	URL      string
	Identity string
}

// SkippedURL is a URL left out of the batch.
type SkippedURL struct {
	URL    string
	Reason string
}

// AttemptResult records the result of a URL fetch attempt.
type AttemptResult struct {
	Timestamp  time.Time
	URL        string
	Error      string
	Attempt    int
	Duration   time.Duration
	StatusCode int
	Success    bool
}

// NewURLManager creates a new URL manager. known reports stored identities; nil
// disables the already-stored check.
func NewURLManager(known func(id string) bool) *URLManager {
	return &URLManager{
		known:      known,
		attemptLog: make(map[string][]AttemptResult),
		seen:       make(map[string]bool),
	}
}

// Add queues urls and returns how many were accepted.
func (um *URLManager) Add(urls ...string) int {
	added := 0

	for _, u := range urls {
		id, err := identity.FromURL(u)
		if err != nil {
			um.skipped = append(um.skipped, SkippedURL{URL: u, Reason: SkipInvalid})

			continue
		}

		if um.seen[id] {
			um.skipped = append(um.skipped, SkippedURL{URL: u, Reason: SkipDuplicate})

			continue
		}

		um.seen[id] = true

		if um.known != nil && um.known(id) {
			um.skipped = append(um.skipped, SkippedURL{URL: u, Reason: SkipKnown})

			continue
		}

		um.queue = append(um.queue, QueuedURL{URL: u, Identity: id})
		added++
	}

	return added
}

// Next returns the next queued URL.
func (um *URLManager) Next() (QueuedURL, bool) {
	if um.pos >= len(um.queue) {
		return QueuedURL{}, false
	}

	q := um.queue[um.pos]
	um.pos++

	return q, true
}

// Len returns the number of queued URLs.
func (um *URLManager) Len() int {
	return len(um.queue)
}

// Skipped returns the URLs left out of the batch.
func (um *URLManager) Skipped() []SkippedURL {
	return um.skipped
}

// RecordAttempt records the result of a fetch attempt.
func (um *URLManager) RecordAttempt(url string, success bool, err error, statusCode int, duration time.Duration) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	um.attemptLog[url] = append(um.attemptLog[url], AttemptResult{
		URL:        url,
		Attempt:    len(um.attemptLog[url]) + 1,
		Success:    success,
		Error:      errMsg,
		Timestamp:  time.Now(),
		Duration:   duration,
		StatusCode: statusCode,
	})
}

// Stats summarizes the batch so far.
func (um *URLManager) Stats() BatchStats {
	stats := BatchStats{Queued: len(um.queue), Skipped: len(um.skipped)}

	for _, q := range um.queue {
		results := um.attemptLog[q.URL]
		stats.Attempts += len(results)

		switch {
		case len(results) == 0:
			stats.Pending++
		case results[len(results)-1].Success:
			stats.Ingested++
		default:
			stats.Failed++
		}
	}

	return stats
}

// BatchStats counts the URLs of a batch by outcome.
type BatchStats struct {
	Queued   int
	Skipped  int
	Ingested int
	Failed   int
	Pending  int
	Attempts int
}

// String renders the counts on one line.
func (s BatchStats) String() string {
	return fmt.Sprintf("%d queued, %d skipped | %d ingested, %d failed, %d pending | %d attempts",
		s.Queued, s.Skipped, s.Ingested, s.Failed, s.Pending, s.Attempts)
}

// LogSummary logs one line per failed or skipped URL, then the batch counts.
func (um *URLManager) LogSummary(l *logger.Logger) {
	for _, q := range um.queue {
		results := um.attemptLog[q.URL]
		if len(results) == 0 {
			continue
		}

		if last := results[len(results)-1]; !last.Success {
			l.Warn("batch url failed", "url", q.URL, "status", last.StatusCode, "error", last.Error)
		}
	}

	for _, sk := range um.skipped {
		l.Debug("batch url skipped", "url", sk.URL, "reason", sk.Reason)
	}

	l.Info("batch summary: " + um.Stats().String())
}
