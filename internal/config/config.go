// Package config provides configuration management for the dashboard and its ingestion commands.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrMissingStorePath         = errors.New("store.path is required")
	ErrUnknownProvider          = errors.New("analysis.provider must be 'openai' or 'claude'")
	ErrInvalidAnalysisTimeout   = errors.New("analysis.timeout_sec must be at least 1")
	ErrInvalidMaxInputChars     = errors.New("analysis.max_input_chars must be at least 1")
	ErrInvalidTemperature       = errors.New("analysis.temperature must be between 0 and 2")
	ErrInvalidMaxAttempts       = errors.New("crawler.retry.max_attempts must be at least 1")
	ErrInvalidInitialDelay      = errors.New("crawler.retry.initial_delay_ms must be non-negative")
	ErrInvalidBackoffMultiplier = errors.New("crawler.retry.backoff_multiplier must be >= 1.0")
	ErrInvalidTimeout           = errors.New("crawler.retry.timeout_sec must be at least 1")
	ErrInvalidBufferSize        = errors.New("crawler.buffer_size_kb must be at least 1")
	ErrInvalidMaxTextChars      = errors.New("crawler.max_text_chars must be at least 1")
	ErrInvalidSMTPPort          = errors.New("mail.smtp_port must be between 1 and 65535")
	ErrInvalidFallbackScan      = errors.New("mail.fallback_scan must be non-negative")
	ErrInvalidPollInterval      = errors.New("mail.poll_interval_sec must be non-negative")
	ErrFeedMissingURL           = errors.New("feed url is required")
	ErrMissingServerAddr        = errors.New("server.addr is required")
	ErrPasswordWithoutUser      = errors.New("server.username is required when server.password_hash is set")
	ErrInvalidLogLevel          = errors.New("logging.level must be one of: debug, info, warn, error")
)

// Supported analysis providers.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
)

// Config represents the complete application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Crawler  CrawlerConfig  `yaml:"crawler"`
	Mail     MailConfig     `yaml:"mail"`
	Sheet    SheetConfig    `yaml:"sheet"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Feeds    []FeedConfig   `yaml:"feeds"`
}

// StoreConfig locates the files the dashboard persists.
type StoreConfig struct {
	Path         string `yaml:"path"`
	PrefsPath    string `yaml:"prefs_path"`
	ActivityPath string `yaml:"activity_path"`
}

// AnalysisConfig configures the LLM extraction client.
type AnalysisConfig struct {
	Provider      string  `yaml:"provider"`
	Model         string  `yaml:"model"`
	FallbackModel string  `yaml:"fallback_model"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	CustomPrompt  string  `yaml:"custom_prompt"`
	TimeoutSec    int     `yaml:"timeout_sec"`
	MaxInputChars int     `yaml:"max_input_chars"`
	Temperature   float64 `yaml:"temperature"`
}

// CrawlerConfig contains article fetch settings.
type CrawlerConfig struct {
	UserAgents   []string    `yaml:"user_agents"`
	Retry        RetryPolicy `yaml:"retry"`
	BufferSizeKb int         `yaml:"buffer_size_kb"`
	MaxTextChars int         `yaml:"max_text_chars"`
}

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms"`
	MaxDelayMs        int     `yaml:"max_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TimeoutSec        int     `yaml:"timeout_sec"`
}

// MailConfig holds mailbox polling and outbound mail settings.
type MailConfig struct {
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	IMAPAddr        string `yaml:"imap_addr"`
	Mailbox         string `yaml:"mailbox"`
	SMTPHost        string `yaml:"smtp_host"`
	SMTPPort        int    `yaml:"smtp_port"`
	FallbackScan    int    `yaml:"fallback_scan"`
	PollIntervalSec int    `yaml:"poll_interval_sec"`
}

// SheetConfig points at the spreadsheet that lists URLs in its first column.
type SheetConfig struct {
	Identifier      string `yaml:"identifier"`
	CredentialsFile string `yaml:"credentials_file"`
}

// FeedConfig represents an RSS or Atom feed used as an ingestion source.
type FeedConfig struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// ServerConfig configures the web dashboard.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultDataDir returns the directory holding the store, preferences and activity log.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "tracklight")
}

// DefaultConfigPath returns the config file consulted when no --config flag is given.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "tracklight", "config.yaml")
}

// NewDefaultConfig returns a configuration usable without any file.
func NewDefaultConfig() *Config {
	dataDir := DefaultDataDir()

	return &Config{
		Store: StoreConfig{
			Path:         filepath.Join(dataDir, "articles_data.json"),
			PrefsPath:    filepath.Join(dataDir, "preferences.yaml"),
			ActivityPath: filepath.Join(dataDir, "activity.db"),
		},
		Analysis: AnalysisConfig{
			Provider:      ProviderOpenAI,
			Model:         "gpt-4o",
			FallbackModel: "gpt-4o-mini",
			TimeoutSec:    45,
			MaxInputChars: 15000,
			Temperature:   0.5,
		},
		Crawler: CrawlerConfig{
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
			},
			Retry: RetryPolicy{
				MaxAttempts:       3,
				InitialDelayMs:    500,
				MaxDelayMs:        30000,
				BackoffMultiplier: 2.0,
				TimeoutSec:        15,
			},
			BufferSizeKb: 4096,
			MaxTextChars: 15000,
		},
		Mail: MailConfig{
			IMAPAddr:        "imap.gmail.com:993",
			Mailbox:         "INBOX",
			SMTPHost:        "smtp.gmail.com",
			SMTPPort:        465,
			FallbackScan:    50,
			PollIntervalSec: 300,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8501",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from a YAML file and the environment.
// An empty path falls back to DefaultConfigPath and tolerates its absence.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	cfg := NewDefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRACKLIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindSecrets(v)

	if err := seedDefaults(v, cfg); err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	} else if explicit {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// seedDefaults registers every key of cfg as a viper default. AutomaticEnv only
// consults keys viper knows about, so this is what lets TRACKLIGHT_* variables
// override settings the config file leaves out.
func seedDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal defaults")
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return errors.Wrap(err, "failed to decode defaults")
	}

	setDefaults(v, "", tree)

	return nil
}

func setDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)

			continue
		}

		v.SetDefault(key, val)
	}
}

// bindSecrets maps the conventional environment variable names onto config keys.
func bindSecrets(v *viper.Viper) {
	_ = v.BindEnv("analysis.api_key", "TRACKLIGHT_ANALYSIS_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("mail.username", "TRACKLIGHT_MAIL_USERNAME", "EMAIL_USER")
	_ = v.BindEnv("mail.password", "TRACKLIGHT_MAIL_PASSWORD", "EMAIL_PASS")
	_ = v.BindEnv("sheet.identifier", "TRACKLIGHT_SHEET_IDENTIFIER", "GOOGLE_SHEET_NAME")
	_ = v.BindEnv("sheet.credentials_file", "TRACKLIGHT_SHEET_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("store.path", "TRACKLIGHT_STORE_PATH")
	_ = v.BindEnv("logging.level", "TRACKLIGHT_LOGGING_LEVEL")
}

// SaveConfig saves configuration to YAML file.
func (c *Config) SaveConfig(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return ErrMissingStorePath
	}

	switch c.Analysis.Provider {
	case ProviderOpenAI, ProviderClaude:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Analysis.Provider)
	}

	if c.Analysis.TimeoutSec < 1 {
		return ErrInvalidAnalysisTimeout
	}

	if c.Analysis.MaxInputChars < 1 {
		return ErrInvalidMaxInputChars
	}

	if c.Analysis.Temperature < 0 || c.Analysis.Temperature > 2 {
		return ErrInvalidTemperature
	}

	// Validate retry policy
	if c.Crawler.Retry.MaxAttempts < 1 {
		return ErrInvalidMaxAttempts
	}

	if c.Crawler.Retry.InitialDelayMs < 0 {
		return ErrInvalidInitialDelay
	}

	if c.Crawler.Retry.BackoffMultiplier < 1.0 {
		return ErrInvalidBackoffMultiplier
	}

	if c.Crawler.Retry.TimeoutSec < 1 {
		return ErrInvalidTimeout
	}

	if c.Crawler.BufferSizeKb < 1 {
		return ErrInvalidBufferSize
	}

	if c.Crawler.MaxTextChars < 1 {
		return ErrInvalidMaxTextChars
	}

	if c.Mail.SMTPPort < 1 || c.Mail.SMTPPort > 65535 {
		return ErrInvalidSMTPPort
	}

	if c.Mail.FallbackScan < 0 {
		return ErrInvalidFallbackScan
	}

	if c.Mail.PollIntervalSec < 0 {
		return ErrInvalidPollInterval
	}

	for i, feed := range c.Feeds {
		if feed.URL == "" {
			return fmt.Errorf("%w: feeds[%d]", ErrFeedMissingURL, i)
		}
	}

	if c.Server.Addr == "" {
		return ErrMissingServerAddr
	}

	if c.Server.PasswordHash != "" && c.Server.Username == "" {
		return ErrPasswordWithoutUser
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return ErrInvalidLogLevel
	}

	return nil
}

// AnalysisEnabled reports whether an API key is available for the analysis client.
func (c *Config) AnalysisEnabled() bool {
	return c.Analysis.APIKey != ""
}

// MailEnabled reports whether mailbox credentials are configured.
func (c *Config) MailEnabled() bool {
	return c.Mail.Username != "" && c.Mail.Password != ""
}

// SheetEnabled reports whether a spreadsheet import source is configured.
func (c *Config) SheetEnabled() bool {
	return c.Sheet.Identifier != "" && c.Sheet.CredentialsFile != ""
}

// GetEnabledFeeds returns only enabled feeds.
func (c *Config) GetEnabledFeeds() []FeedConfig {
	var enabled []FeedConfig

	for _, feed := range c.Feeds {
		if feed.Enabled {
			enabled = append(enabled, feed)
		}
	}

	return enabled
}

// PollInterval returns the minimum time between automatic mailbox scans.
func (m *MailConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSec) * time.Second
}

// Timeout returns the per-call analysis timeout.
func (a *AnalysisConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSec) * time.Second
}

// GetRetryDelay calculates exponential backoff delay for attempt number.
func (rp *RetryPolicy) GetRetryDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delayMs := float64(rp.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delayMs *= rp.BackoffMultiplier
	}

	// Cap at max delay
	if int(delayMs) > rp.MaxDelayMs {
		delayMs = float64(rp.MaxDelayMs)
	}

	return time.Duration(int(delayMs)) * time.Millisecond
}

// GetTimeout returns the timeout duration for the given attempt.
// Later attempts get proportionally longer timeouts.
func (rp *RetryPolicy) GetTimeout(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return time.Duration(rp.TimeoutSec*attempt) * time.Second
}

// String returns a string representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Store: %s, Provider: %s, Model: %s, Feeds: %d, Addr: %s}",
		c.Store.Path,
		c.Analysis.Provider,
		c.Analysis.Model,
		len(c.Feeds),
		c.Server.Addr,
	)
}
