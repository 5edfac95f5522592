// Package feeds reads article links from RSS and Atom feeds.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"tracklight/internal/config"
	"tracklight/internal/logger"
)

// DefaultMaxAge drops items published before this window.
const DefaultMaxAge = 7 * 24 * time.Hour

// Item is one feed entry with a link to an article.
type Item struct {
	Feed      string
	Title     string
	Link      string
	Published time.Time
}

// Result gathers the items of several feeds and the feeds that failed.
type Result struct {
	Items  []Item
	Errors []error
}

// Links returns the distinct item links in feed order.
func (r *Result) Links() []string {
	seen := make(map[string]bool, len(r.Items))
	links := make([]string, 0, len(r.Items))

	for _, it := range r.Items {
		if !seen[it.Link] {
			seen[it.Link] = true
			links = append(links, it.Link)
		}
	}

	return links
}

// Reader fetches feeds.
type Reader struct {
	parser *gofeed.Parser
	maxAge time.Duration
	now    func() time.Time
	log    *logger.Logger
}

// NewReader creates a Reader. maxAge of zero keeps every item.
func NewReader(client *http.Client, userAgent string, maxAge time.Duration, log *logger.Logger) *Reader {
	if log == nil {
		log = logger.Nop()
	}

	p := gofeed.NewParser()
	p.Client = client
	p.UserAgent = userAgent

	return &Reader{
		parser: p,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.With("component", "feeds"),
	}
}

// Fetch returns the items of one feed that carry a link and fall inside the age window.
func (r *Reader) Fetch(ctx context.Context, feed config.FeedConfig) ([]Item, error) {
	parsed, err := r.parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", feedName(feed), err)
	}

	now := r.now()
	items := make([]Item, 0, len(parsed.Items))

	for _, it := range parsed.Items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}

		pub := now
		if it.PublishedParsed != nil {
			pub = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			pub = *it.UpdatedParsed
		}

		if r.maxAge > 0 && pub.Before(now.Add(-r.maxAge)) {
			continue
		}

		items = append(items, Item{
			Feed:      feedName(feed),
			Title:     strings.TrimSpace(it.Title),
			Link:      link,
			Published: pub,
		})
	}

	r.log.Debug("feed fetched", "feed", feedName(feed), "items", len(items))

	return items, nil
}

// FetchAll fetches feeds concurrently. A failing feed is reported in Errors and does
// not stop the others. Items are ordered newest first.
func (r *Reader) FetchAll(ctx context.Context, feeds []config.FeedConfig) *Result {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		res = &Result{}
	)

	for _, f := range feeds {
		wg.Add(1)

		go func(f config.FeedConfig) {
			defer wg.Done()

			items, err := r.Fetch(ctx, f)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				r.log.Warn("feed failed", "feed", feedName(f), "error", err)
				res.Errors = append(res.Errors, err)

				return
			}

			res.Items = append(res.Items, items...)
		}(f)
	}

	wg.Wait()

	sort.SliceStable(res.Items, func(i, j int) bool {
		return res.Items[i].Published.After(res.Items[j].Published)
	})

	return res
}

func feedName(f config.FeedConfig) string {
	if f.Name != "" {
		return f.Name
	}

	return f.URL
}
