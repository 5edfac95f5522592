// Package ingest turns URLs and pasted text into analyzed records: fetch, analyze,
// upsert, with per-source failure isolation for batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"tracklight/internal/activity"
	"tracklight/internal/analysis"
	"tracklight/internal/crawler"
	"tracklight/internal/logger"
	"tracklight/internal/models"
	"tracklight/internal/store"
	"tracklight/pkg/identity"
	"tracklight/pkg/utils"
)

const (
	untitled       = "Untitled"
	maxPastedTitle = 80
)

// Journal receives one entry per ingestion outcome.
type Journal interface {
	Record(ctx context.Context, level activity.Level, action, subject, message string) error
}

// Pipeline connects the fetcher, the analyzer and the store.
type Pipeline struct {
	store     *store.Store
	fetcher   crawler.Fetcher
	analyzer  analysis.Analyzer
	journal   Journal
	sanitizer *bluemonday.Policy
	now       func() time.Time
	log       *logger.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithJournal journals every outcome.
func WithJournal(j Journal) Option {
	return func(p *Pipeline) {
		p.journal = j
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides the time source for pasted-text sources.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline.
func New(st *store.Store, fetcher crawler.Fetcher, analyzer analysis.Analyzer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     st,
		fetcher:   fetcher,
		analyzer:  analyzer,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
		log:       logger.Nop(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// IngestURL fetches rawURL, analyzes its text and upserts the record. It returns the
// stored record and whether it was newly created. Fetch failures are
// *crawler.IngestionError, analysis failures *analysis.AnalysisError.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string, kind models.SourceKind, customPrompt string, opts ...URLOption) (models.ArticleRecord, bool, error) {
	var o urlOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec, created, err := p.ingestURL(ctx, rawURL, kind, customPrompt, o)
	p.journalOutcome(ctx, "ingest", rawURL, rec, created, err)

	return rec, created, err
}

func (p *Pipeline) ingestURL(ctx context.Context, rawURL string, kind models.SourceKind, customPrompt string, o urlOptions) (models.ArticleRecord, bool, error) {
	rawURL = strings.TrimSpace(rawURL)

	source, err := identity.NormalizeURL(rawURL)
	if err != nil {
		return models.ArticleRecord{}, false, &crawler.IngestionError{Source: rawURL, Err: fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)}
	}

	id, err := identity.FromURL(rawURL)
	if err != nil {
		return models.ArticleRecord{}, false, &crawler.IngestionError{Source: rawURL, Err: fmt.Errorf("%w: %v", crawler.ErrInvalidURL, err)}
	}

	art, err := p.fetcher.FetchArticle(ctx, source)
	if err != nil {
		return models.ArticleRecord{}, false, err
	}

	if kind == "" {
		kind = models.SourceURL
	}

	rec := models.ArticleRecord{
		Identity:   id,
		Source:     source,
		SourceKind: kind,
		RawText:    art.Text,
	}

	var upserts []store.UpsertOption

	if o.keepAnalysis {
		if old, err := p.store.Get(id); err == nil && old.Analyzed() {
			upserts = append(upserts, store.PreserveAnalysis())
		}
	}

	if len(upserts) == 0 {
		a, err := p.analyzer.Analyze(ctx, art.Text, customPrompt)
		if err != nil {
			return models.ArticleRecord{}, false, err
		}

		urlTitle(&a, art.Title, source)
		rec.Analysis = &a
	}

	if o.note != nil {
		rec.Note = *o.note
		upserts = append(upserts, store.OverwriteNote())
	}

	return p.store.Upsert(rec, upserts...)
}

// URLOption adjusts how a fetched URL is stored.
type URLOption func(*urlOptions)

type urlOptions struct {
	keepAnalysis bool
	note         *string
}

// KeepAnalysis refreshes the stored text of an already analyzed record without
// running the analyzer again.
func KeepAnalysis() URLOption {
	return func(o *urlOptions) {
		o.keepAnalysis = true
	}
}

// WithNote sets the record note, replacing any stored note. An empty note clears it.
func WithNote(note string) URLOption {
	return func(o *urlOptions) {
		o.note = &note
	}
}

// IngestText analyzes pasted text and stores it under a new generated identity.
// HTML in the text is stripped.
func (p *Pipeline) IngestText(ctx context.Context, text, customPrompt string) (models.ArticleRecord, error) {
	rec, err := p.ingestText(ctx, text, customPrompt)
	p.journalOutcome(ctx, "ingest text", rec.Identity, rec, true, err)

	return rec, err
}

func (p *Pipeline) ingestText(ctx context.Context, text, customPrompt string) (models.ArticleRecord, error) {
	text = p.Sanitize(text)
	if text == "" {
		return models.ArticleRecord{}, analysis.ErrEmptyText
	}

	a, err := p.analyzer.Analyze(ctx, text, customPrompt)
	if err != nil {
		return models.ArticleRecord{}, err
	}

	textTitle(&a, text)

	rec, _, err := p.store.Upsert(models.ArticleRecord{
		Identity:   identity.ForText(),
		Source:     identity.PastedSource(p.now()),
		SourceKind: models.SourceText,
		RawText:    text,
		Analysis:   &a,
	})

	return rec, err
}

// Sanitize strips markup from pasted text and trims it.
func (p *Pipeline) Sanitize(text string) string {
	return strings.TrimSpace(html.UnescapeString(p.sanitizer.Sanitize(text)))
}

// IngestURLs ingests a batch. Invalid URLs, duplicates in the batch and, unless
// force is set, URLs already stored are skipped. A failing source is recorded in the
// report and the batch continues; a store failure or cancellation aborts it and is
// returned.
func (p *Pipeline) IngestURLs(ctx context.Context, urls []string, kind models.SourceKind, force bool, opts ...URLOption) (*Report, error) {
	known := p.store.Contains
	if force {
		known = nil
	}

	um := crawler.NewURLManager(known)
	um.Add(urls...)

	report := &Report{Kind: kind, Skipped: um.Skipped()}

	for q, ok := um.Next(); ok; q, ok = um.Next() {
		start := time.Now()

		rec, created, err := p.IngestURL(ctx, q.URL, kind, "", opts...)
		um.RecordAttempt(q.URL, err == nil, err, statusCode(err), time.Since(start))

		report.add(Outcome{Source: q.URL, Identity: q.Identity, Record: rec, Created: created, Err: err})

		if abort := fatal(ctx, err); abort != nil {
			report.Aborted = abort
			um.LogSummary(p.log)

			return report, abort
		}
	}

	um.LogSummary(p.log)

	p.log.Info("batch ingested", "kind", kind, "succeeded", report.Succeeded(), "failed", len(report.Failed()), "skipped", len(report.Skipped))

	return report, nil
}

// Reanalyze refreshes the analysis of the given records. URL records are fetched
// again; when the fetch fails and stored text exists, the stored text is used.
// Notes, group labels and status survive. Failures are isolated per record.
func (p *Pipeline) Reanalyze(ctx context.Context, ids []string, customPrompt string) (*Report, error) {
	report := &Report{}

	for _, id := range ids {
		rec, err := p.reanalyze(ctx, id, customPrompt)
		p.journalOutcome(ctx, "reanalyze", id, rec, false, err)

		report.add(Outcome{Source: rec.Source, Identity: id, Record: rec, Err: err})

		if abort := fatal(ctx, err); abort != nil {
			report.Aborted = abort

			return report, abort
		}
	}

	return report, nil
}

func (p *Pipeline) reanalyze(ctx context.Context, id, customPrompt string) (models.ArticleRecord, error) {
	rec, err := p.store.Get(id)
	if err != nil {
		return models.ArticleRecord{}, err
	}

	text := rec.RawText

	pageTitle := ""
	if rec.Analysis != nil {
		pageTitle = rec.Analysis.Title
	}

	if !rec.IsPasted() {
		art, err := p.fetcher.FetchArticle(ctx, rec.Source)

		switch {
		case err == nil:
			text = art.Text
			if art.Title != "" {
				pageTitle = art.Title
			}
		case strings.TrimSpace(text) == "":
			return rec, err
		default:
			p.log.Warn("refetch failed, using stored text", "id", id, "error", err)
		}
	}

	a, err := p.analyzer.Analyze(ctx, text, customPrompt)
	if err != nil {
		return rec, err
	}

	if rec.IsPasted() {
		textTitle(&a, text)
	} else {
		urlTitle(&a, pageTitle, rec.Source)
	}

	rec.RawText = text
	rec.Analysis = &a
	rec.AnalyzedAt = time.Time{}

	stored, _, err := p.store.Upsert(rec)
	if err != nil {
		return rec, err
	}

	return stored, nil
}

// ReanalyzeText replaces the text of an existing record with pasted text and
// analyzes it.
func (p *Pipeline) ReanalyzeText(ctx context.Context, id, text, customPrompt string) (models.ArticleRecord, error) {
	rec, err := p.reanalyzeText(ctx, id, text, customPrompt)
	p.journalOutcome(ctx, "reanalyze text", id, rec, false, err)

	return rec, err
}

func (p *Pipeline) reanalyzeText(ctx context.Context, id, text, customPrompt string) (models.ArticleRecord, error) {
	rec, err := p.store.Get(id)
	if err != nil {
		return models.ArticleRecord{}, err
	}

	text = p.Sanitize(text)
	if text == "" {
		return rec, analysis.ErrEmptyText
	}

	a, err := p.analyzer.Analyze(ctx, text, customPrompt)
	if err != nil {
		return rec, err
	}

	textTitle(&a, text)

	rec.RawText = text
	rec.Analysis = &a
	rec.AnalyzedAt = time.Time{}

	stored, _, err := p.store.Upsert(rec)
	if err != nil {
		return rec, err
	}

	return stored, nil
}

// fatal returns the error that must stop a batch, or nil.
func fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, store.ErrCorruptStore) || errors.Is(err, store.ErrWrite) || errors.Is(err, store.ErrClosed) {
		return err
	}

	return nil
}

func statusCode(err error) int {
	var ierr *crawler.IngestionError
	if errors.As(err, &ierr) {
		return ierr.StatusCode
	}

	return 0
}

func (p *Pipeline) journalOutcome(ctx context.Context, action, subject string, rec models.ArticleRecord, created bool, err error) {
	if err != nil {
		p.log.Warn(action+" failed", "source", subject, "error", err)
	}

	if p.journal == nil {
		return
	}

	level := activity.LevelInfo
	msg := "updated " + rec.Title()

	switch {
	case err != nil:
		level = activity.LevelError
		msg = err.Error()
	case created:
		msg = "added " + rec.Title()
	}

	if jerr := p.journal.Record(context.WithoutCancel(ctx), level, action, subject, msg); jerr != nil {
		p.log.Warn("activity journal write failed", "error", jerr)
	}
}

// hasTitle reports whether the model supplied a usable title.
func hasTitle(a *models.Analysis) bool {
	t := strings.TrimSpace(a.Title)

	return t != "" && !strings.EqualFold(t, "unknown") && !strings.EqualFold(t, "unknown title")
}

// urlTitle fills a missing model title from the page title, then the host.
func urlTitle(a *models.Analysis, pageTitle, source string) {
	if hasTitle(a) {
		return
	}

	a.Title = strings.TrimSpace(pageTitle)

	if a.Title == "" {
		if u, err := url.Parse(source); err == nil {
			a.Title = u.Hostname()
		}
	}

	if a.Title == "" {
		a.Title = untitled
	}
}

// textTitle fills a missing model title from the first line of pasted text.
func textTitle(a *models.Analysis, text string) {
	if hasTitle(a) {
		return
	}

	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")

	a.Title = utils.NewStringHelper().TruncateString(strings.TrimSpace(line), maxPastedTitle)
	if a.Title == "" {
		a.Title = untitled
	}
}
