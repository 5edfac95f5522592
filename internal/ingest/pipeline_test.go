package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tracklight/internal/activity"
	"tracklight/internal/analysis"
	"tracklight/internal/crawler"
	"tracklight/internal/models"
	"tracklight/internal/store"
)

func fullAnalysis(title string) models.Analysis {
	return models.Analysis{
		Title:      title,
		Date:       "2024-01-01",
		Indicators: []models.FraudIndicator{{Severity: models.SeverityHigh, Description: "kickbacks"}},
		People:     []models.Person{},
		Strategies: []models.PreventionStrategy{},
		Questions:  []string{},
		Summary:    models.Summary{Short: "Summary of " + title, Bullets: []string{}},
	}
}

// fakeFetcher serves canned pages keyed by normalized URL.
type fakeFetcher struct {
	mu     sync.Mutex
	pages  map[string]string
	calls  []string
	failOn map[string]int
}

func (f *fakeFetcher) FetchArticle(_ context.Context, url string) (*crawler.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, url)

	if code, ok := f.failOn[url]; ok {
		return nil, &crawler.IngestionError{Source: url, StatusCode: code, Attempts: 3, Err: crawler.ErrUnexpectedStatusCode}
	}

	text, ok := f.pages[url]
	if !ok {
		return nil, &crawler.IngestionError{Source: url, Err: crawler.ErrNoText}
	}

	return &crawler.Article{URL: url, FinalURL: url, Title: "Page title", Text: text}, nil
}

// fakeAnalyzer titles each analysis after the text and a call counter.
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   int
	prompts  []string
	fail     map[string]error
	untitled bool
}

func (a *fakeAnalyzer) Analyze(_ context.Context, text, customPrompt string) (models.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	a.prompts = append(a.prompts, customPrompt)

	if strings.TrimSpace(text) == "" {
		return models.Analysis{}, analysis.ErrEmptyText
	}

	if err := a.fail[text]; err != nil {
		return models.Analysis{}, err
	}

	if a.untitled {
		return fullAnalysis(""), nil
	}

	return fullAnalysis(fmt.Sprintf("%s #%d", text, a.calls)), nil
}

type memJournal struct {
	entries []string
}

func (j *memJournal) Record(_ context.Context, level activity.Level, action, subject, _ string) error {
	j.entries = append(j.entries, string(level)+" "+action+" "+subject)

	return nil
}

func newTestPipeline(t *testing.T, f *fakeFetcher, a *fakeAnalyzer) (*Pipeline, *store.Store, *memJournal) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "articles_data.json"))
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = st.Close() })

	j := &memJournal{}
	clock := func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	return New(st, f, a, WithJournal(j), WithClock(clock)), st, j
}

func TestIngestURL_EndToEnd(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "story a"}}
	a := &fakeAnalyzer{}
	p, st, j := newTestPipeline(t, f, a)
	ctx := context.Background()

	rec, created, err := p.IngestURL(ctx, "example.com/a", "", "")
	if err != nil {
		t.Fatalf("IngestURL failed: %v", err)
	}

	if !created || st.Len() != 1 {
		t.Fatalf("created = %v, records = %d", created, st.Len())
	}

	if rec.Source != "https://example.com/a" || rec.SourceKind != models.SourceURL || rec.RawText != "story a" {
		t.Errorf("record = %+v", rec)
	}

	if _, err := st.UpdateNote(rec.Identity, "call the DA"); err != nil {
		t.Fatal(err)
	}

	again, created, err := p.IngestURL(ctx, "https://example.com/a/", "", "")
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}

	if created || st.Len() != 1 || again.Identity != rec.Identity {
		t.Fatalf("re-ingest created = %v, records = %d", created, st.Len())
	}

	if again.Analysis.Title != "story a #2" {
		t.Errorf("analysis not replaced: %q", again.Analysis.Title)
	}

	if again.Note != "call the DA" || !again.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("note or created time lost: %+v", again)
	}

	if len(j.entries) != 2 || !strings.HasPrefix(j.entries[0], "info ingest") {
		t.Errorf("journal = %v", j.entries)
	}
}

func TestIngestURL_Failures(t *testing.T) {
	f := &fakeFetcher{
		pages:  map[string]string{"https://example.com/bad-ai": "bad"},
		failOn: map[string]int{"https://example.com/down": 503},
	}
	a := &fakeAnalyzer{fail: map[string]error{"bad": &analysis.AnalysisError{Provider: "openai", Model: "m", Err: errors.New("quota")}}}
	p, st, j := newTestPipeline(t, f, a)

	tests := []struct {
		url  string
		want error
	}{
		{"https://example.com/down", crawler.ErrIngestion},
		{"https://example.com/bad-ai", analysis.ErrAnalysis},
		{"not a url", crawler.ErrIngestion},
	}

	for _, tt := range tests {
		if _, _, err := p.IngestURL(context.Background(), tt.url, "", ""); !errors.Is(err, tt.want) {
			t.Errorf("IngestURL(%q) error = %v, want %v", tt.url, err, tt.want)
		}
	}

	if st.Len() != 0 {
		t.Errorf("failed ingestion stored %d records", st.Len())
	}

	for _, e := range j.entries {
		if !strings.HasPrefix(e, "error ") {
			t.Errorf("journal entry %q, want error level", e)
		}
	}
}

func TestIngestText(t *testing.T) {
	a := &fakeAnalyzer{}
	p, st, _ := newTestPipeline(t, &fakeFetcher{}, a)

	rec, err := p.IngestText(context.Background(), "<p>Fraud &amp; <b>waste</b></p><script>x()</script>", "focus")
	if err != nil {
		t.Fatalf("IngestText failed: %v", err)
	}

	if rec.RawText != "Fraud & waste" {
		t.Errorf("RawText = %q", rec.RawText)
	}

	if !strings.HasPrefix(rec.Identity, "txt-") || rec.Source != "pasted:2024-05-01T12:00:00Z" || rec.SourceKind != models.SourceText {
		t.Errorf("record = %+v", rec)
	}

	if a.prompts[0] != "focus" {
		t.Errorf("custom prompt = %q", a.prompts[0])
	}

	if _, err := p.IngestText(context.Background(), "<div> </div>", ""); !errors.Is(err, analysis.ErrEmptyText) {
		t.Errorf("empty text error = %v", err)
	}

	if st.Len() != 1 {
		t.Errorf("records = %d, want 1", st.Len())
	}
}

func TestIngest_DefaultTitle(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "story a"}}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{untitled: true})
	ctx := context.Background()

	rec, _, err := p.IngestURL(ctx, "https://example.com/a", models.SourceURL, "")
	if err != nil {
		t.Fatalf("IngestURL failed: %v", err)
	}

	if rec.Analysis.Title != "Page title" {
		t.Errorf("url title = %q, want page title", rec.Analysis.Title)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"first line", "Vendor kickbacks exposed\nThe officer was charged.", "Vendor kickbacks exposed"},
		{"long line", strings.Repeat("x", 100), strings.Repeat("x", 80) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := p.IngestText(ctx, tt.text, "")
			if err != nil {
				t.Fatalf("IngestText failed: %v", err)
			}

			if rec.Analysis.Title != tt.want {
				t.Errorf("text title = %q, want %q", rec.Analysis.Title, tt.want)
			}

			if err := rec.Analysis.Validate(); err != nil {
				t.Errorf("Validate() = %v", err)
			}
		})
	}

	if st.Len() != 3 {
		t.Errorf("records = %d, want 3", st.Len())
	}
}

func TestIngestURLs_Batch(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/a": "a",
			"https://example.com/b": "b",
			"https://example.com/c": "c",
		},
		failOn: map[string]int{"https://example.com/down": 404},
	}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{})
	ctx := context.Background()

	if _, _, err := p.IngestURL(ctx, "https://example.com/a", "", ""); err != nil {
		t.Fatal(err)
	}

	f.calls = nil

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/down",
		"https://example.com/b?utm_source=mail",
		"http://",
		"https://example.com/c",
	}

	report, err := p.IngestURLs(ctx, urls, models.SourceMail, false)
	if err != nil {
		t.Fatalf("IngestURLs failed: %v", err)
	}

	if report.Succeeded() != 2 || report.Created() != 2 || len(report.Failed()) != 1 {
		t.Errorf("report = %s", report)
	}

	if len(report.Skipped) != 3 {
		t.Errorf("skipped = %+v, want stored, duplicate and invalid", report.Skipped)
	}

	if strings.Join(f.calls, ",") != "https://example.com/b,https://example.com/down,https://example.com/c" {
		t.Errorf("fetched = %v", f.calls)
	}

	if st.Len() != 3 {
		t.Errorf("records = %d, want 3", st.Len())
	}

	rec, _ := st.Get(report.Outcomes[0].Identity)
	if rec.SourceKind != models.SourceMail {
		t.Errorf("SourceKind = %q", rec.SourceKind)
	}

	forced, err := p.IngestURLs(ctx, []string{"https://example.com/a"}, models.SourceSheet, true)
	if err != nil || forced.Succeeded() != 1 || forced.Created() != 0 {
		t.Errorf("forced batch = %v, %v", forced, err)
	}
}

func TestIngestURLs_AbortsOnStoreFailure(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a", "https://example.com/b": "b"}}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{})

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	report, err := p.IngestURLs(context.Background(), []string{"https://example.com/a", "https://example.com/b"}, models.SourceURL, true)
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("error = %v, want ErrClosed", err)
	}

	if len(report.Outcomes) != 1 || report.Aborted == nil {
		t.Errorf("batch continued after store failure: %s", report)
	}
}

func TestIngestURLs_Canceled(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a", "https://example.com/b": "b"}}
	p, _, _ := newTestPipeline(t, f, &fakeAnalyzer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.IngestURLs(ctx, []string{"https://example.com/a", "https://example.com/b"}, models.SourceURL, false); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestIngestURLs_KeepAnalysis(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a", "https://example.com/b": "b"}}
	a := &fakeAnalyzer{}
	p, st, _ := newTestPipeline(t, f, a)
	ctx := context.Background()

	recA, _, err := p.IngestURL(ctx, "https://example.com/a", "", "")
	if err != nil {
		t.Fatal(err)
	}

	f.pages["https://example.com/a"] = "a updated"

	report, err := p.IngestURLs(ctx, []string{"https://example.com/a", "https://example.com/b"}, models.SourceURL, true, KeepAnalysis())
	if err != nil || report.Succeeded() != 2 {
		t.Fatalf("batch = %v, %v", report, err)
	}

	// Only b, which had no analysis yet, reaches the analyzer.
	if a.calls != 2 {
		t.Errorf("analyzer calls = %d, want 2", a.calls)
	}

	got, _ := st.Get(recA.Identity)
	if got.RawText != "a updated" {
		t.Errorf("RawText = %q, want refreshed text", got.RawText)
	}

	if got.Analysis.Title != recA.Analysis.Title || !got.AnalyzedAt.Equal(recA.AnalyzedAt) {
		t.Errorf("analysis = %q at %v, want %q at %v", got.Analysis.Title, got.AnalyzedAt, recA.Analysis.Title, recA.AnalyzedAt)
	}
}

func TestIngestURL_WithNote(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a"}}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{})
	ctx := context.Background()

	rec, _, err := p.IngestURL(ctx, "https://example.com/a", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := st.UpdateNote(rec.Identity, "old note"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts []URLOption
		want string
	}{
		{"no note kept", nil, "old note"},
		{"note replaced", []URLOption{WithNote("call the auditor")}, "call the auditor"},
		{"note cleared", []URLOption{WithNote("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, err := p.IngestURL(ctx, "https://example.com/a", "", "", tt.opts...)
			if err != nil {
				t.Fatalf("IngestURL failed: %v", err)
			}

			if got.Note != tt.want {
				t.Errorf("Note = %q, want %q", got.Note, tt.want)
			}
		})
	}
}

func TestReanalyze(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a", "https://example.com/b": "b"}}
	a := &fakeAnalyzer{}
	p, st, _ := newTestPipeline(t, f, a)
	ctx := context.Background()

	recA, _, err := p.IngestURL(ctx, "https://example.com/a", "", "")
	if err != nil {
		t.Fatal(err)
	}

	recB, _, err := p.IngestURL(ctx, "https://example.com/b", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := st.UpdateNote(recA.Identity, "keep me"); err != nil {
		t.Fatal(err)
	}

	if _, err := st.ApplyGroupLabels(map[string]string{recA.Identity: "Payroll"}); err != nil {
		t.Fatal(err)
	}

	// b disappears upstream but its stored text is reused.
	delete(f.pages, "https://example.com/b")

	report, err := p.Reanalyze(ctx, []string{recA.Identity, "missing", recB.Identity}, "new prompt")
	if err != nil {
		t.Fatalf("Reanalyze failed: %v", err)
	}

	if report.Succeeded() != 2 || len(report.Failed()) != 1 || !errors.Is(report.Failed()[0].Err, store.ErrNotFound) {
		t.Errorf("report = %s", report)
	}

	got, _ := st.Get(recA.Identity)
	if got.Analysis.Title != "a #3" || got.Note != "keep me" || got.GroupLabel != "Payroll" {
		t.Errorf("reanalyzed record = %+v", got)
	}

	if b, _ := st.Get(recB.Identity); b.Analysis.Title != "b #4" {
		t.Errorf("b title = %q", b.Analysis.Title)
	}

	if a.prompts[len(a.prompts)-1] != "new prompt" {
		t.Errorf("prompt = %q", a.prompts[len(a.prompts)-1])
	}
}

func TestReanalyzeText(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a"}}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{})
	ctx := context.Background()

	rec, _, err := p.IngestURL(ctx, "https://example.com/a", "", "")
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.ReanalyzeText(ctx, rec.Identity, "<p>full text from paywall</p>", "")
	if err != nil {
		t.Fatalf("ReanalyzeText failed: %v", err)
	}

	if got.RawText != "full text from paywall" || got.Source != rec.Source {
		t.Errorf("record = %+v", got)
	}

	if _, err := p.ReanalyzeText(ctx, "missing", "text", ""); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("missing id error = %v", err)
	}

	if st.Len() != 1 {
		t.Errorf("records = %d", st.Len())
	}
}

func TestIngest_StoreFileIsValidJSON(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://example.com/a": "a"}}
	p, st, _ := newTestPipeline(t, f, &fakeAnalyzer{})

	if _, _, err := p.IngestURL(context.Background(), "https://example.com/a", "", ""); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(st.Path())
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(string(data), `"source": "https://example.com/a"`) {
		t.Errorf("snapshot = %s", data)
	}
}
