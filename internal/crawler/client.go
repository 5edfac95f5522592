// Package crawler fetches article pages and extracts their readable text.
package crawler

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"tracklight/internal/config"
	"tracklight/internal/logger"
	"tracklight/pkg/identity"
)

// Article is the text fetched for one URL.
type Article struct {
	URL        string
	FinalURL   string
	Title      string
	Text       string
	StatusCode int
	Attempts   int
}

// Fetcher returns the article text behind a URL.
type Fetcher interface {
	FetchArticle(ctx context.Context, url string) (*Article, error)
}

// Client couples the scraper with the HTML parser.
type Client struct {
	scraper *Scraper
	parser  *Parser
	log     *logger.Logger
}

// NewClient creates a new crawler client from config.
func NewClient(cfg *config.CrawlerConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	return NewClientWithDeps(NewScraper(cfg, log), NewParser(cfg.MaxTextChars), log)
}

// NewClientWithDeps creates a new crawler client with injected dependencies.
func NewClientWithDeps(scraper *Scraper, parser *Parser, log *logger.Logger) *Client {
	return &Client{
		scraper: scraper,
		parser:  parser,
		log:     log,
	}
}

// FetchArticle downloads url and extracts its text. A bare host/path is fetched over
// https. Every failure is an *IngestionError.
func (c *Client) FetchArticle(ctx context.Context, url string) (*Article, error) {
	target, err := identity.NormalizeURL(url)
	if err != nil {
		return nil, &IngestionError{Source: url, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}

	res, err := c.scraper.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	var doc Document

	if isHTML(res.ContentType, res.Body) {
		doc, err = c.parser.ParseHTML(res.Body)
		if err != nil {
			return nil, &IngestionError{Source: url, StatusCode: res.StatusCode, Attempts: res.Attempts, Err: err}
		}
	} else {
		doc = c.parser.ParsePlain(res.Body)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return nil, &IngestionError{Source: url, StatusCode: res.StatusCode, Attempts: res.Attempts, Err: ErrNoText}
	}

	c.log.Debug("article fetched", "url", url, "chars", len(doc.Text), "attempts", res.Attempts, "duration", res.Duration)

	return &Article{
		URL:        url,
		FinalURL:   res.FinalURL,
		Title:      doc.Title,
		Text:       doc.Text,
		StatusCode: res.StatusCode,
		Attempts:   res.Attempts,
	}, nil
}

func isHTML(contentType, body string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt == "text/html" || mt == "application/xhtml+xml"
	}

	head := strings.ToLower(body[:min(len(body), 512)])

	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html") || strings.Contains(head, "<p")
}
