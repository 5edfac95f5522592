package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adrg/xdg"
)

// Helper to create a temp config file.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return configPath
}

// validConfigYAML is a minimal valid configuration.
const validConfigYAML = `
store:
  path: "/tmp/tracklight/articles.json"
analysis:
  provider: "claude"
  model: "claude-haiku-4-5"
  timeout_sec: 30
  max_input_chars: 8000
  temperature: 0.3
crawler:
  retry:
    max_attempts: 2
    initial_delay_ms: 100
    max_delay_ms: 5000
    backoff_multiplier: 2.0
    timeout_sec: 10
  buffer_size_kb: 512
  max_text_chars: 12000
mail:
  smtp_port: 587
  poll_interval_sec: 60
feeds:
  - name: "Fraud wire"
    url: "https://example.com/fraud.xml"
    enabled: true
  - name: "Disabled"
    url: "https://example.com/other.xml"
    enabled: false
server:
  addr: ":9000"
logging:
  level: "debug"
`

func TestLoadConfig_Valid(t *testing.T) {
	configPath := createTempConfigFile(t, validConfigYAML)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Store.Path != "/tmp/tracklight/articles.json" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}

	if cfg.Analysis.Provider != ProviderClaude {
		t.Errorf("Provider = %q, want claude", cfg.Analysis.Provider)
	}

	if cfg.Crawler.Retry.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Crawler.Retry.MaxAttempts)
	}

	if cfg.Mail.SMTPPort != 587 {
		t.Errorf("SMTPPort = %d, want 587", cfg.Mail.SMTPPort)
	}

	if got := len(cfg.GetEnabledFeeds()); got != 1 {
		t.Errorf("Expected 1 enabled feed, got %d", got)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfig_KeepsDefaultsForMissingKeys(t *testing.T) {
	configPath := createTempConfigFile(t, "logging:\n  level: warn\n")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	def := NewDefaultConfig()
	if cfg.Analysis.Model != def.Analysis.Model {
		t.Errorf("Model = %q, want default %q", cfg.Analysis.Model, def.Analysis.Model)
	}

	if cfg.Mail.IMAPAddr != def.Mail.IMAPAddr {
		t.Errorf("IMAPAddr = %q, want default %q", cfg.Mail.IMAPAddr, def.Mail.IMAPAddr)
	}

	if len(cfg.Crawler.UserAgents) != 3 {
		t.Errorf("Expected 3 default user agents, got %d", len(cfg.Crawler.UserAgents))
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	configPath := createTempConfigFile(t, validConfigYAML)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMAIL_USER", "analyst@example.com")
	t.Setenv("EMAIL_PASS", "app-password")

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Analysis.APIKey != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", cfg.Analysis.APIKey)
	}

	if !cfg.AnalysisEnabled() {
		t.Error("Expected analysis to be enabled")
	}

	if !cfg.MailEnabled() {
		t.Error("Expected mail to be enabled")
	}
}

func TestLoadConfig_EnvOverridesUnsetKeys(t *testing.T) {
	t.Cleanup(xdg.Reload)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	xdg.Reload()

	t.Setenv("TRACKLIGHT_SERVER_ADDR", ":9100")
	t.Setenv("TRACKLIGHT_ANALYSIS_MODEL", "gpt-4o")
	t.Setenv("TRACKLIGHT_CRAWLER_RETRY_MAX_ATTEMPTS", "5")

	tests := []struct {
		name string
		path string
	}{
		{"no config file", ""},
		{"file without the keys", createTempConfigFile(t, "logging:\n  level: warn\n")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(tt.path)
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}

			if cfg.Server.Addr != ":9100" {
				t.Errorf("Server.Addr = %q, want :9100", cfg.Server.Addr)
			}

			if cfg.Analysis.Model != "gpt-4o" {
				t.Errorf("Analysis.Model = %q, want gpt-4o", cfg.Analysis.Model)
			}

			if cfg.Crawler.Retry.MaxAttempts != 5 {
				t.Errorf("MaxAttempts = %d, want 5", cfg.Crawler.Retry.MaxAttempts)
			}

			if cfg.Store.Path != NewDefaultConfig().Store.Path {
				t.Errorf("Store.Path = %q, want default", cfg.Store.Path)
			}
		})
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file, got nil")
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	configPath := createTempConfigFile(t, "invalid: yaml: content: [}")

	_, err := LoadConfig(configPath)
	if err == nil {
		t.Fatal("Expected error for invalid YAML, got nil")
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	configPath := createTempConfigFile(t, "analysis:\n  provider: gemini\n")

	_, err := LoadConfig(configPath)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"defaults", func(c *Config) {}, nil},
		{"missing store path", func(c *Config) { c.Store.Path = "" }, ErrMissingStorePath},
		{"unknown provider", func(c *Config) { c.Analysis.Provider = "x" }, ErrUnknownProvider},
		{"zero analysis timeout", func(c *Config) { c.Analysis.TimeoutSec = 0 }, ErrInvalidAnalysisTimeout},
		{"zero max input", func(c *Config) { c.Analysis.MaxInputChars = 0 }, ErrInvalidMaxInputChars},
		{"temperature too high", func(c *Config) { c.Analysis.Temperature = 3 }, ErrInvalidTemperature},
		{"zero attempts", func(c *Config) { c.Crawler.Retry.MaxAttempts = 0 }, ErrInvalidMaxAttempts},
		{"negative delay", func(c *Config) { c.Crawler.Retry.InitialDelayMs = -1 }, ErrInvalidInitialDelay},
		{"shrinking backoff", func(c *Config) { c.Crawler.Retry.BackoffMultiplier = 0.5 }, ErrInvalidBackoffMultiplier},
		{"zero crawl timeout", func(c *Config) { c.Crawler.Retry.TimeoutSec = 0 }, ErrInvalidTimeout},
		{"zero buffer", func(c *Config) { c.Crawler.BufferSizeKb = 0 }, ErrInvalidBufferSize},
		{"zero max text", func(c *Config) { c.Crawler.MaxTextChars = 0 }, ErrInvalidMaxTextChars},
		{"bad smtp port", func(c *Config) { c.Mail.SMTPPort = 70000 }, ErrInvalidSMTPPort},
		{"negative fallback scan", func(c *Config) { c.Mail.FallbackScan = -1 }, ErrInvalidFallbackScan},
		{"negative poll interval", func(c *Config) { c.Mail.PollIntervalSec = -5 }, ErrInvalidPollInterval},
		{"feed without url", func(c *Config) { c.Feeds = []FeedConfig{{Name: "x", Enabled: true}} }, ErrFeedMissingURL},
		{"missing addr", func(c *Config) { c.Server.Addr = "" }, ErrMissingServerAddr},
		{"hash without user", func(c *Config) { c.Server.PasswordHash = "$2a$10$abc" }, ErrPasswordWithoutUser},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}

				return
			}

			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRetryPolicy_GetRetryDelay(t *testing.T) {
	rp := &RetryPolicy{
		InitialDelayMs:    100,
		MaxDelayMs:        1000,
		BackoffMultiplier: 2.0,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1000 * time.Millisecond},
		{10, 1000 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := rp.GetRetryDelay(tt.attempt); got != tt.want {
			t.Errorf("GetRetryDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_GetTimeout(t *testing.T) {
	rp := &RetryPolicy{TimeoutSec: 5}

	if got := rp.GetTimeout(1); got != 5*time.Second {
		t.Errorf("GetTimeout(1) = %v", got)
	}

	if got := rp.GetTimeout(3); got != 15*time.Second {
		t.Errorf("GetTimeout(3) = %v", got)
	}

	if got := rp.GetTimeout(0); got != 5*time.Second {
		t.Errorf("GetTimeout(0) = %v", got)
	}
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.Path = filepath.Join(t.TempDir(), "articles.json")
	cfg.Feeds = []FeedConfig{{Name: "wire", URL: "https://example.com/rss", Enabled: true}}

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveConfig(path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if loaded.Store.Path != cfg.Store.Path {
		t.Errorf("Store.Path = %q, want %q", loaded.Store.Path, cfg.Store.Path)
	}

	if len(loaded.Feeds) != 1 || loaded.Feeds[0].URL != "https://example.com/rss" {
		t.Errorf("Feeds not preserved: %+v", loaded.Feeds)
	}
}
