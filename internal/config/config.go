package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the config file omits a value.
const (
	DefaultListenAddr           = ":8000"
	DefaultDatabaseDSN          = "file:data/gptproxy.db"
	DefaultChatCompletionsURL   = "https://api.openai.com/v1/chat/completions"
	DefaultModelsURL            = "https://api.openai.com/v1/models"
	DefaultValidationURL        = "https://api.openai.com/v1/models"
	DefaultProxyKeyHeader       = "X-Proxy-API-Key"
	DefaultKeyPrefix            = "sk-"
	DefaultMaxActiveKeys        = 200
	DefaultMaxRetries           = 5
	DefaultTokenExpiryMinutes   = 60
	DefaultProbeTimeoutSeconds  = 15
	DefaultProbeConcurrency     = 5
	DefaultValidateIntervalSecs = 300
	DefaultSelectorRefreshMs    = 2000
	DefaultRequestTimeoutSecs   = 300
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	ProxyAuth ProxyAuthConfig `yaml:"proxy-auth"`
	Admin     AdminConfig     `yaml:"admin"`
	Keys      KeysConfig      `yaml:"keys"`
	Validator ValidatorConfig `yaml:"validator"`
	Selector  SelectorConfig  `yaml:"selector"`
	Reset     ResetConfig     `yaml:"reset"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig configures the key store connection.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// UpstreamConfig points at the third-party service endpoints.
type UpstreamConfig struct {
	ChatCompletionsURL    string `yaml:"chat-completions-url"`
	ModelsURL             string `yaml:"models-url"`
	ValidationURL         string `yaml:"validation-url"`
	RequestTimeoutSeconds int    `yaml:"request-timeout-seconds"`
	MaxRetries            int    `yaml:"max-retries"`
}

// RequestTimeout returns the upstream request timeout as a duration.
func (c UpstreamConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ProxyAuthConfig guards the relay endpoints consumed by proxy clients.
type ProxyAuthConfig struct {
	Header  string   `yaml:"header"`
	APIKeys []string `yaml:"api-keys"`
}

// AdminConfig configures admin console authentication.
type AdminConfig struct {
	Username           string `yaml:"username"`
	PasswordHash       string `yaml:"password-hash"`
	JWTSecret          string `yaml:"jwt-secret"`
	TokenExpiryMinutes int    `yaml:"token-expiry-minutes"`
}

// TokenExpiry returns the admin token lifetime as a duration.
func (c AdminConfig) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpiryMinutes) * time.Minute
}

// KeysConfig controls upstream credential format and pool limits.
type KeysConfig struct {
	Prefix    string `yaml:"prefix"`
	MaxActive int    `yaml:"max-active"`
}

// ValidatorConfig controls the background revalidation prober.
type ValidatorConfig struct {
	IntervalSeconds     int `yaml:"interval-seconds"`
	Concurrency         int `yaml:"concurrency"`
	ProbeTimeoutSeconds int `yaml:"probe-timeout-seconds"`
}

// Interval returns the cycle cadence as a duration.
func (c ValidatorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe deadline as a duration.
func (c ValidatorConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// SelectorConfig bounds active-set snapshot staleness.
type SelectorConfig struct {
	RefreshIntervalMs int `yaml:"refresh-interval-ms"`
}

// RefreshInterval returns the snapshot refresh cadence as a duration.
func (c SelectorConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalMs) * time.Millisecond
}

// ResetConfig controls the bulk reset operation.
type ResetConfig struct {
	IncludeRevoked bool `yaml:"include-revoked"`
}

// LoggingConfig configures logrus output and file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the YAML config at path, applying defaults for missing values.
// A missing file yields the defaults rather than an error so a fresh checkout
// can boot against a local sqlite database.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}

	data, errRead := os.ReadFile(trimmed)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", trimmed, errRead)
	}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", trimmed, errUnmarshal)
	}

	cfg.applyDefaults()
	if errValidate := cfg.validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultListenAddr
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		c.Database.DSN = DefaultDatabaseDSN
	}
	if strings.TrimSpace(c.Upstream.ChatCompletionsURL) == "" {
		c.Upstream.ChatCompletionsURL = DefaultChatCompletionsURL
	}
	if strings.TrimSpace(c.Upstream.ModelsURL) == "" {
		c.Upstream.ModelsURL = DefaultModelsURL
	}
	if strings.TrimSpace(c.Upstream.ValidationURL) == "" {
		c.Upstream.ValidationURL = DefaultValidationURL
	}
	if c.Upstream.RequestTimeoutSeconds <= 0 {
		c.Upstream.RequestTimeoutSeconds = DefaultRequestTimeoutSecs
	}
	if c.Upstream.MaxRetries <= 0 {
		c.Upstream.MaxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(c.ProxyAuth.Header) == "" {
		c.ProxyAuth.Header = DefaultProxyKeyHeader
	}
	if c.Admin.TokenExpiryMinutes <= 0 {
		c.Admin.TokenExpiryMinutes = DefaultTokenExpiryMinutes
	}
	if strings.TrimSpace(c.Keys.Prefix) == "" {
		c.Keys.Prefix = DefaultKeyPrefix
	}
	if c.Keys.MaxActive <= 0 {
		c.Keys.MaxActive = DefaultMaxActiveKeys
	}
	if c.Validator.IntervalSeconds <= 0 {
		c.Validator.IntervalSeconds = DefaultValidateIntervalSecs
	}
	if c.Validator.Concurrency <= 0 {
		c.Validator.Concurrency = DefaultProbeConcurrency
	}
	if c.Validator.ProbeTimeoutSeconds <= 0 {
		c.Validator.ProbeTimeoutSeconds = DefaultProbeTimeoutSeconds
	}
	if c.Selector.RefreshIntervalMs <= 0 {
		c.Selector.RefreshIntervalMs = DefaultSelectorRefreshMs
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups <= 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays <= 0 {
		c.Logging.MaxAgeDays = 30
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: database.dsn is required")
	}
	for _, key := range c.ProxyAuth.APIKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config: proxy-auth.api-keys contains an empty entry")
		}
	}
	return nil
}
