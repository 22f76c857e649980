// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port               string                `yaml:"port"`
	FrontendURL        string                `yaml:"frontend_url"`
	DBPath             string                `yaml:"db_path"`
	WorkspaceID        string                `yaml:"workspace_id"`
	LogLevel           string                `yaml:"log_level"`
	PreviewDebounce    time.Duration         `yaml:"preview_debounce"`
	SaveDebounce       time.Duration         `yaml:"save_debounce"`
	SyncDir            string                `yaml:"sync_dir"`
	GitExportDir       string                `yaml:"git_export_dir"`
	TurnRetention      time.Duration         `yaml:"turn_retention"`
	MaxRequestBodySize int64                 `yaml:"max_request_body_size"`
	Assistant          AssistantConfig       `yaml:"assistant"`
	RateLimit          RateLimitConfig       `yaml:"rate_limit"`
	ConversationLog    ConversationLogConfig `yaml:"conversation_log"`
}

// AssistantConfig selects the model provider.
type AssistantConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"-"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`
	// FixturePath feeds the scripted provider.
	FixturePath string `yaml:"fixture_path"`
}

// RateLimitConfig bounds chat requests per client IP.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:               "8080",
		DBPath:             "./data/vade.db",
		WorkspaceID:        "default",
		LogLevel:           "info",
		PreviewDebounce:    300 * time.Millisecond,
		SaveDebounce:       time.Second,
		TurnRetention:      30 * 24 * time.Hour,
		MaxRequestBodySize: 1 << 20,
		Assistant: AssistantConfig{
			Provider: "gemini",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 20,
			Window:            time.Minute,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:    true,
			Dir:        "./data/logs/conversations",
			GlobalPath: "./data/logs/conversations/all.ndjson",
			QueueSize:  1000,
		},
	}
}

// Load reads configuration from the optional YAML file named by VADE_CONFIG,
// then from environment variables, which take precedence. An empty API key
// is looked up in the OS keyring.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("VADE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadEnv()

	if cfg.Assistant.APIKey == "" && cfg.Assistant.Provider != "scripted" {
		key, err := LookupAPIKey(cfg.Assistant.Provider)
		switch {
		case err == nil:
			cfg.Assistant.APIKey = key
		case errors.Is(err, ErrKeyNotFound):
		default:
			slog.Debug("Keyring lookup failed", "provider", cfg.Assistant.Provider, "error", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.WorkspaceID = getEnv("WORKSPACE_ID", c.WorkspaceID)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.PreviewDebounce = getEnvDuration("PREVIEW_DEBOUNCE", c.PreviewDebounce)
	c.SaveDebounce = getEnvDuration("SAVE_DEBOUNCE", c.SaveDebounce)
	c.SyncDir = getEnv("SYNC_DIR", c.SyncDir)
	c.GitExportDir = getEnv("GIT_EXPORT_DIR", c.GitExportDir)
	c.TurnRetention = getEnvDuration("TURN_RETENTION", c.TurnRetention)
	c.MaxRequestBodySize = int64(getEnvInt("MAX_REQUEST_BODY_SIZE", int(c.MaxRequestBodySize)))

	c.Assistant.Provider = strings.ToLower(getEnv("ASSISTANT_PROVIDER", c.Assistant.Provider))
	c.Assistant.Model = getEnv("ASSISTANT_MODEL", c.Assistant.Model)
	c.Assistant.BaseURL = getEnv("ASSISTANT_BASE_URL", c.Assistant.BaseURL)
	c.Assistant.MaxTokens = getEnvInt("ASSISTANT_MAX_TOKENS", c.Assistant.MaxTokens)
	c.Assistant.FixturePath = getEnv("ASSISTANT_FIXTURE", c.Assistant.FixturePath)
	c.Assistant.APIKey = getEnv("ASSISTANT_API_KEY", getEnv(providerKeyEnv(c.Assistant.Provider), ""))

	c.RateLimit.RequestsPerWindow = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Window = getEnvDuration("RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.ConversationLog.Enabled = getEnvBool("CONVERSATION_LOG_ENABLED", c.ConversationLog.Enabled)
	c.ConversationLog.Dir = getEnv("CONVERSATION_LOG_DIR", c.ConversationLog.Dir)
	c.ConversationLog.GlobalEnabled = getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", c.ConversationLog.GlobalEnabled)
	c.ConversationLog.GlobalPath = getEnv("CONVERSATION_LOG_GLOBAL_PATH", c.ConversationLog.GlobalPath)
	if n := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", c.ConversationLog.QueueSize); n > 0 {
		c.ConversationLog.QueueSize = n
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.WorkspaceID == "" {
		return fmt.Errorf("WORKSPACE_ID cannot be empty")
	}
	switch c.Assistant.Provider {
	case "gemini", "openai", "anthropic", "scripted":
	default:
		return fmt.Errorf("ASSISTANT_PROVIDER %q is not supported", c.Assistant.Provider)
	}
	if c.PreviewDebounce < 0 {
		return fmt.Errorf("PREVIEW_DEBOUNCE must be >= 0")
	}
	if c.SaveDebounce <= 0 {
		return fmt.Errorf("SAVE_DEBOUNCE must be > 0")
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// FrontendOrigin returns the scheme and host of FrontendURL, or "" when it
// is unset or unparsable.
func (c *Config) FrontendOrigin() string {
	u, err := url.Parse(strings.TrimSpace(c.FrontendURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// AllowedOrigins returns the origins the API answers cross-origin calls
// from: the frontend's origin, or any origin when no frontend is set.
func (c *Config) AllowedOrigins() []string {
	if origin := c.FrontendOrigin(); origin != "" {
		return []string{origin}
	}
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func providerKeyEnv(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
