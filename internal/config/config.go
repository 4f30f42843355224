// ABOUTME: Configuration loading and parsing for prism-gateway
// ABOUTME: YAML or TOML files with ${VAR} expansion, PRISM_* environment overrides and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete prism-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	Chat      ChatConfig      `yaml:"chat" toml:"chat"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr       string   `yaml:"http_addr" toml:"http_addr" env:"PRISM_HTTP_ADDR"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins" env:"PRISM_ALLOWED_ORIGINS" envSeparator:","`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"PRISM_SHUTDOWN_TIMEOUT"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"PRISM_TAILSCALE_ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"PRISM_TAILSCALE_HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"TS_AUTHKEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve :443 with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // expose publicly through Funnel (implies HTTPS)
}

// DatabaseConfig selects the store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" env:"PRISM_DB_DRIVER"` // sqlite or postgres
	DSN    string `yaml:"dsn" toml:"dsn" env:"PRISM_DB_DSN"`          // file path for sqlite, connection string for postgres
}

// LLMConfig configures the language-model provider
type LLMConfig struct {
	Provider         string `yaml:"provider" toml:"provider" env:"PRISM_LLM_PROVIDER"`
	Model            string `yaml:"model" toml:"model" env:"PRISM_LLM_MODEL"`
	APIKey           string `yaml:"api_key" toml:"api_key" env:"PRISM_OPENAI_API_KEY"`
	BaseURL          string `yaml:"base_url" toml:"base_url" env:"PRISM_LLM_BASE_URL"`
	YandexOAuthToken string `yaml:"yandex_oauth_token" toml:"yandex_oauth_token" env:"PRISM_YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string `yaml:"yandex_folder_id" toml:"yandex_folder_id" env:"PRISM_YANDEX_FOLDER_ID"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout" env:"PRISM_LLM_TIMEOUT"`
}

// AssistantConfig holds assistant defaults used until settings are stored
type AssistantConfig struct {
	SystemPrompt          string  `yaml:"system_prompt" toml:"system_prompt"`
	Temperature           float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens             int     `yaml:"max_tokens" toml:"max_tokens"`
	HistoryWindow         int     `yaml:"history_window" toml:"history_window"`
	DisableAutoDerivation bool    `yaml:"disable_auto_derivation" toml:"disable_auto_derivation" env:"PRISM_DISABLE_AUTO_DERIVATION"`
}

// ChatConfig tunes WebSocket sessions and broadcasts
type ChatConfig struct {
	ReadLimit        int64 `yaml:"read_limit" toml:"read_limit"`
	DedupeMaxEntries int   `yaml:"dedupe_max_entries" toml:"dedupe_max_entries"`

	SendTimeout  time.Duration `yaml:"-" toml:"-"`
	FrameTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	SendTimeoutRaw  string `yaml:"send_timeout" toml:"send_timeout"`
	FrameTimeoutRaw string `yaml:"frame_timeout" toml:"frame_timeout"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"PRISM_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"PRISM_LOG_FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// The format follows the extension: .toml for TOML, anything else is YAML.
// ${VAR_NAME} references are expanded before decoding, PRISM_* environment
// variables override file values, then defaults fill the gaps.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return finish(&cfg)
}

// FromEnv builds a configuration from defaults and PRISM_* variables only.
func FromEnv() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// DefaultPath returns PRISM_CONFIG when set, otherwise gateway.yaml under the
// XDG config directory.
func DefaultPath() string {
	if p := os.Getenv("PRISM_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "prism", "gateway.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyDefaults fills every unset field with its default value.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Server.HTTPAddr, DefaultHTTPAddr)
	durationDefault(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&c.Database.Driver, "sqlite")
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = DefaultDatabasePath()
	}

	setDefault(&c.LLM.Provider, "openai")
	if c.LLM.Model == "" && c.LLM.Provider == "openai" {
		c.LLM.Model = DefaultOpenAIModel
	}
	durationDefault(&c.LLM.Timeout, DefaultLLMTimeout)

	if c.Assistant.Temperature <= 0 {
		c.Assistant.Temperature = DefaultTemperature
	}
	if c.Assistant.MaxTokens <= 0 {
		c.Assistant.MaxTokens = DefaultMaxTokens
	}
	if c.Assistant.HistoryWindow == 0 {
		c.Assistant.HistoryWindow = DefaultHistoryWindow
	}

	if c.Chat.ReadLimit <= 0 {
		c.Chat.ReadLimit = DefaultReadLimit
	}
	if c.Chat.DedupeMaxEntries <= 0 {
		c.Chat.DedupeMaxEntries = DefaultDedupeMaxEntries
	}
	durationDefault(&c.Chat.SendTimeout, DefaultSendTimeout)
	durationDefault(&c.Chat.FrameTimeout, DefaultFrameTimeout)
	durationDefault(&c.Chat.DedupeTTL, DefaultDedupeTTL)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

func durationDefault(field *time.Duration, value time.Duration) {
	if *field <= 0 {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !slices.Contains([]string{"sqlite", "postgres"}, c.Database.Driver) {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if !slices.Contains([]string{"openai", "yandex"}, strings.ToLower(c.LLM.Provider)) {
		return fmt.Errorf("llm.provider must be openai or yandex, got %q", c.LLM.Provider)
	}

	if c.Assistant.Temperature > 2 {
		return fmt.Errorf("assistant.temperature must be between 0 and 2, got %v", c.Assistant.Temperature)
	}
	if c.Assistant.HistoryWindow < 1 || c.Assistant.HistoryWindow > 10 {
		return fmt.Errorf("assistant.history_window must be between 1 and 10, got %d", c.Assistant.HistoryWindow)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.Logging.Format)) {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"llm.timeout", cfg.LLM.TimeoutRaw, &cfg.LLM.Timeout},
		{"chat.send_timeout", cfg.Chat.SendTimeoutRaw, &cfg.Chat.SendTimeout},
		{"chat.frame_timeout", cfg.Chat.FrameTimeoutRaw, &cfg.Chat.FrameTimeout},
		{"chat.dedupe_ttl", cfg.Chat.DedupeTTLRaw, &cfg.Chat.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}
	return nil
}
