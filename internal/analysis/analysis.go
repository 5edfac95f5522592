// Package analysis sends article text to a language model and returns the structured
// fraud analysis, trend groups and person overviews.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tracklight/internal/config"
	"tracklight/internal/logger"
	"tracklight/internal/models"
	"tracklight/internal/normalizer"
	"tracklight/pkg/utils"
)

// Analysis errors.
var (
	ErrEmptyText     = errors.New("article text is empty")
	ErrAnalysis      = errors.New("analysis failed")
	ErrNotConfigured = errors.New("analysis provider not configured")
)

// AnalysisError reports an upstream failure: quota, network or malformed response.
type AnalysisError struct {
	Provider   string
	Model      string
	StatusCode int
	Err        error
}

func (e *AnalysisError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: HTTP %d: %v", e.Provider, e.Model, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s %s: %v", e.Provider, e.Model, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// Is matches ErrAnalysis.
func (e *AnalysisError) Is(target error) bool {
	return target == ErrAnalysis
}

// Analyzer extracts a structured analysis from article text.
type Analyzer interface {
	Analyze(ctx context.Context, text, customPrompt string) (models.Analysis, error)
}

// Grouper clusters article summaries into labelled groups.
type Grouper interface {
	Group(ctx context.Context, items []SummaryInput) ([]Group, error)
}

// SummaryInput is one record offered to the grouping prompt.
type SummaryInput struct {
	Identity string
	Title    string
	Summary  string
}

// Group is one labelled cluster returned by the model.
type Group struct {
	Title      string
	Identities []string
}

// completion is one chat request.
type completion struct {
	Model       string
	System      string
	User        string
	JSON        bool
	Temperature float64
	MaxTokens   int
}

// provider sends a completion and returns the model text.
type provider interface {
	name() string
	complete(ctx context.Context, req completion) (string, error)
}

// Client implements Analyzer and Grouper on top of one provider.
type Client struct {
	provider     provider
	model        string
	fallback     string
	customPrompt string
	maxInput     int
	temperature  float64
	timeout      time.Duration
	processor    *normalizer.Processor
	str          *utils.StringHelper
	log          *logger.Logger
}

// New creates a Client from the analysis config.
func New(cfg *config.AnalysisConfig, log *logger.Logger) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	if log == nil {
		log = logger.Nop()
	}

	httpClient := &http.Client{}

	var p provider

	switch cfg.Provider {
	case config.ProviderOpenAI:
		p = &openaiProvider{apiKey: cfg.APIKey, baseURL: baseURLOr(cfg.BaseURL, openaiBaseURL), client: httpClient}
	case config.ProviderClaude:
		p = &claudeProvider{apiKey: cfg.APIKey, baseURL: baseURLOr(cfg.BaseURL, claudeBaseURL), client: httpClient}
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, cfg.Provider)
	}

	return &Client{
		provider:     p,
		model:        cfg.Model,
		fallback:     cfg.FallbackModel,
		customPrompt: cfg.CustomPrompt,
		maxInput:     cfg.MaxInputChars,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout(),
		processor:    normalizer.NewProcessor(),
		str:          utils.NewStringHelper(),
		log:          log.With("provider", p.name()),
	}, nil
}

func baseURLOr(u, def string) string {
	if u == "" {
		return def
	}

	return strings.TrimRight(u, "/")
}

// Analyze extracts the fraud analysis for text. customPrompt, or the configured custom
// prompt when empty, replaces the default extraction instructions. On an upstream
// failure the fallback model is tried once.
func (c *Client) Analyze(ctx context.Context, text, customPrompt string) (models.Analysis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Analysis{}, ErrEmptyText
	}

	if c.maxInput > 0 {
		text = c.str.TruncateRunes(text, c.maxInput)
	}

	instructions := analysisPrompt
	if customPrompt == "" {
		customPrompt = c.customPrompt
	}

	if strings.TrimSpace(customPrompt) != "" {
		instructions = customPrompt + "\n\n" + analysisFormat
	}

	req := completion{
		System:      analysisSystem,
		User:        instructions + "\n\nArticle Text:\n" + text,
		JSON:        true,
		Temperature: c.temperature,
		MaxTokens:   4096,
	}

	content, model, err := c.completeWithFallback(ctx, req)
	if err != nil {
		return models.Analysis{}, err
	}

	analysis, err := c.processor.ProcessJSON(content)
	if err != nil {
		c.log.Warn("analysis response rejected", "model", model, "error", err)

		return models.Analysis{}, &AnalysisError{Provider: c.provider.name(), Model: model, Err: err}
	}

	c.log.Debug("analysis complete", "model", model, "indicators", len(analysis.Indicators))

	return analysis, nil
}

func (c *Client) completeWithFallback(ctx context.Context, req completion) (string, string, error) {
	req.Model = c.model

	content, err := c.call(ctx, req)
	if err == nil {
		return content, req.Model, nil
	}

	if c.fallback == "" || c.fallback == c.model || ctx.Err() != nil {
		return "", req.Model, err
	}

	c.log.Warn(fmt.Sprintf("primary model failed, retrying with %s", c.fallback), "error", err)

	req.Model = c.fallback

	content, err = c.call(ctx, req)
	if err != nil {
		return "", req.Model, err
	}

	return content, req.Model, nil
}

func (c *Client) call(ctx context.Context, req completion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	content, err := c.provider.complete(ctx, req)
	if err != nil {
		var aerr *AnalysisError
		if errors.As(err, &aerr) {
			return "", err
		}

		return "", &AnalysisError{Provider: c.provider.name(), Model: req.Model, Err: err}
	}

	return content, nil
}

// Group asks the model to cluster records by commonality. At most maxGroupItems records
// are sent, each summary cut to maxGroupSummary runes.
func (c *Client) Group(ctx context.Context, items []SummaryInput) ([]Group, error) {
	if len(items) == 0 {
		return nil, nil
	}

	if len(items) > maxGroupItems {
		items = items[:maxGroupItems]
	}

	var sb strings.Builder

	for _, it := range items {
		fmt.Fprintf(&sb, "ID: %s\nTitle: %s\nSummary: %s\n\n",
			it.Identity, it.Title, c.str.TruncateString(it.Summary, maxGroupSummary))
	}

	req := completion{
		System:      groupingSystem,
		User:        groupingPrompt + "\n\n" + sb.String(),
		JSON:        true,
		Temperature: c.temperature,
		MaxTokens:   4096,
	}

	content, model, err := c.completeWithFallback(ctx, req)
	if err != nil {
		return nil, err
	}

	groups, err := parseGroups(content)
	if err != nil {
		return nil, &AnalysisError{Provider: c.provider.name(), Model: model, Err: err}
	}

	return groups, nil
}

// PersonOverview writes one or two sentences describing a person's role in the article.
func (c *Client) PersonOverview(ctx context.Context, person string, summary models.Summary) (string, error) {
	person = strings.TrimSpace(person)
	if person == "" {
		return "", ErrEmptyText
	}

	prompt := fmt.Sprintf(personPrompt, summary.Short, "- "+strings.Join(summary.Bullets, "\n- "), person)

	content, _, err := c.completeWithFallback(ctx, completion{
		System:      personSystem,
		User:        prompt,
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}
