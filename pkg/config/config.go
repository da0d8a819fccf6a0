package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file. All fields are optional; defaults are
// applied by the accessor methods.
//
// Example (~/.lumabook/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8090
// database:
//   path: lumabook.db
// redis:
//   addr: 127.0.0.1:6379
// auth:
//   stream_token_secret: change-me
// providers:
//   - name: default
//     provider: openai
//     model: gpt-4o-mini
//     api_key: sk-...
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.

type AppConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Redis     RedisConfig      `yaml:"redis"`
	Auth      AuthConfig       `yaml:"auth"`
	Limits    LimitsConfig     `yaml:"limits"`
	Stream    StreamConfig     `yaml:"stream"`
	Sweeper   SweeperConfig    `yaml:"sweeper"`
	Providers []ProviderConfig `yaml:"providers"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path *string `yaml:"path"`
}

type RedisConfig struct {
	Addr     *string `yaml:"addr"`
	Password *string `yaml:"password"`
	DB       *int    `yaml:"db"`
}

type AuthConfig struct {
	StreamTokenSecret   *string `yaml:"stream_token_secret"`
	StreamTokenIssuer   *string `yaml:"stream_token_issuer"`
	StreamTokenAudience *string `yaml:"stream_token_audience"`
	StreamTokenTTLMin   *int    `yaml:"stream_token_ttl_minutes"`
}

type LimitsConfig struct {
	RequestsPerMinute  *int     `yaml:"requests_per_minute"`
	MonthlyBudgetCents *int64   `yaml:"monthly_budget_cents"`
	MaxPromptChars     *int     `yaml:"max_prompt_chars"`
	MaxTokens          *int     `yaml:"max_tokens"`
	ProviderTimeoutSec *int     `yaml:"provider_timeout_seconds"`
	Temperature        *float64 `yaml:"temperature"`
}

type StreamConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	KeepaliveSec   *int     `yaml:"keepalive_seconds"`
	LivenessTTLSec *int     `yaml:"liveness_ttl_seconds"`
	BaseURL        *string  `yaml:"base_url"`
	SystemPrompt   *string  `yaml:"system_prompt"`
}

type SweeperConfig struct {
	IntervalSec *int `yaml:"interval_seconds"`
	GraceSec    *int `yaml:"grace_seconds"`
}

// ProviderConfig describes one configured model backend. Cost fields are in
// cents per 1000 tokens and feed the budget reserver.
type ProviderConfig struct {
	Name                 string  `yaml:"name"`
	Provider             string  `yaml:"provider"`
	Model                string  `yaml:"model"`
	APIKey               string  `yaml:"api_key"`
	BaseURL              string  `yaml:"base_url"`
	PromptCentsPer1K     float64 `yaml:"prompt_cents_per_1k"`
	CompletionCentsPer1K float64 `yaml:"completion_cents_per_1k"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8090

	DefaultDatabasePath = "lumabook.db"
	DefaultRedisAddr    = "127.0.0.1:6379"

	DefaultStreamTokenIssuer   = "lumabook"
	DefaultStreamTokenAudience = "lumabook-stream"
	DefaultStreamTokenTTLMin   = 5

	DefaultRequestsPerMinute = 20
	DefaultMaxPromptChars    = 64000
	DefaultMaxTokens         = 4096

	DefaultProviderTimeout = 120 * time.Second
	DefaultKeepalive       = 15 * time.Second
	DefaultLivenessTTL     = 2 * time.Minute
	DefaultSweepInterval   = time.Minute
	DefaultSweepGrace      = 5 * time.Minute
)

// DefaultMonthlyBudgetCents is the per-user spend ceiling applied when the
// config does not set one.
const DefaultMonthlyBudgetCents = int64(1000)

// DefaultPaths returns the config dir and config file path. LUMABOOK_CONFIG
// overrides the default location under the user's home directory.
func DefaultPaths() (configDir string, configFile string, err error) {
	if p := strings.TrimSpace(os.Getenv("LUMABOOK_CONFIG")); p != "" {
		return filepath.Dir(p), p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".lumabook")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads the config file. If the file doesn't exist, it returns a default
// config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, configFile, nil
		}
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	if strings.TrimSpace(cfg.Host()) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	if v := strings.TrimSpace(*c.Server.Host); v != "" {
		return v
	}
	return DefaultHost
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) DatabasePath() string {
	if c == nil || c.Database.Path == nil {
		return DefaultDatabasePath
	}
	return *c.Database.Path
}

func (c *AppConfig) RedisAddr() string {
	if c == nil || c.Redis.Addr == nil {
		return DefaultRedisAddr
	}
	return *c.Redis.Addr
}

func (c *AppConfig) RedisPassword() string {
	if c == nil || c.Redis.Password == nil {
		return ""
	}
	return *c.Redis.Password
}

func (c *AppConfig) RedisDB() int {
	if c == nil || c.Redis.DB == nil {
		return 0
	}
	return *c.Redis.DB
}

// StreamTokenSecret has no default: an empty secret must be rejected at
// startup by the caller.
func (c *AppConfig) StreamTokenSecret() string {
	if c == nil || c.Auth.StreamTokenSecret == nil {
		return ""
	}
	return *c.Auth.StreamTokenSecret
}

func (c *AppConfig) StreamTokenIssuer() string {
	if c == nil || c.Auth.StreamTokenIssuer == nil {
		return DefaultStreamTokenIssuer
	}
	return *c.Auth.StreamTokenIssuer
}

func (c *AppConfig) StreamTokenAudience() string {
	if c == nil || c.Auth.StreamTokenAudience == nil {
		return DefaultStreamTokenAudience
	}
	return *c.Auth.StreamTokenAudience
}

func (c *AppConfig) StreamTokenTTL() time.Duration {
	if c == nil || c.Auth.StreamTokenTTLMin == nil {
		return DefaultStreamTokenTTLMin * time.Minute
	}
	return time.Duration(*c.Auth.StreamTokenTTLMin) * time.Minute
}

func (c *AppConfig) RequestsPerMinute() int {
	if c == nil || c.Limits.RequestsPerMinute == nil {
		return DefaultRequestsPerMinute
	}
	return *c.Limits.RequestsPerMinute
}

func (c *AppConfig) MonthlyBudgetCents() int64 {
	if c == nil || c.Limits.MonthlyBudgetCents == nil {
		return DefaultMonthlyBudgetCents
	}
	return *c.Limits.MonthlyBudgetCents
}

func (c *AppConfig) MaxPromptChars() int {
	if c == nil || c.Limits.MaxPromptChars == nil {
		return DefaultMaxPromptChars
	}
	return *c.Limits.MaxPromptChars
}

func (c *AppConfig) MaxTokens() int {
	if c == nil || c.Limits.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *c.Limits.MaxTokens
}

func (c *AppConfig) ProviderTimeout() time.Duration {
	if c == nil || c.Limits.ProviderTimeoutSec == nil {
		return DefaultProviderTimeout
	}
	return time.Duration(*c.Limits.ProviderTimeoutSec) * time.Second
}

func (c *AppConfig) Temperature() *float64 {
	if c == nil {
		return nil
	}
	return c.Limits.Temperature
}

func (c *AppConfig) AllowedOrigins() []string {
	if c == nil {
		return nil
	}
	return c.Stream.AllowedOrigins
}

func (c *AppConfig) KeepaliveInterval() time.Duration {
	if c == nil || c.Stream.KeepaliveSec == nil {
		return DefaultKeepalive
	}
	return time.Duration(*c.Stream.KeepaliveSec) * time.Second
}

func (c *AppConfig) LivenessTTL() time.Duration {
	if c == nil || c.Stream.LivenessTTLSec == nil {
		return DefaultLivenessTTL
	}
	return time.Duration(*c.Stream.LivenessTTLSec) * time.Second
}

func (c *AppConfig) StreamBaseURL() string {
	if c == nil || c.Stream.BaseURL == nil {
		return fmt.Sprintf("http://%s:%d/stream", c.Host(), c.Port())
	}
	return *c.Stream.BaseURL
}

func (c *AppConfig) SystemPrompt() string {
	if c == nil || c.Stream.SystemPrompt == nil {
		return "You are a helpful reading assistant."
	}
	return *c.Stream.SystemPrompt
}

func (c *AppConfig) SweepInterval() time.Duration {
	if c == nil || c.Sweeper.IntervalSec == nil {
		return DefaultSweepInterval
	}
	return time.Duration(*c.Sweeper.IntervalSec) * time.Second
}

func (c *AppConfig) SweepGrace() time.Duration {
	if c == nil || c.Sweeper.GraceSec == nil {
		return DefaultSweepGrace
	}
	return time.Duration(*c.Sweeper.GraceSec) * time.Second
}

// ProviderByName returns the provider entry matching name or model id, or the
// first entry when name is empty. Returns nil when nothing is configured.
func (c *AppConfig) ProviderByName(name string) *ProviderConfig {
	if c == nil || len(c.Providers) == 0 {
		return nil
	}
	if name == "" {
		return &c.Providers[0]
	}
	for i := range c.Providers {
		if c.Providers[i].Name == name || c.Providers[i].Model == name {
			return &c.Providers[i]
		}
	}
	return nil
}
