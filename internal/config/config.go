// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Addr   string `yaml:"addr" toml:"addr"`
	APIKey string `yaml:"api_key" toml:"api_key"` // bearer key for /api/v1; empty disables auth
	// PublicURL is how the studio reaches itself; the replicate adapter calls
	// the relay through it.
	PublicURL string `yaml:"public_url" toml:"public_url"`
}

type LogFileConfig struct {
	Path       string `yaml:"path" toml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type LogConfig struct {
	Level    string        `yaml:"level" toml:"level"`       // trace|debug|info|warn|error
	Format   string        `yaml:"format" toml:"format"`     // json|console
	Sampling bool          `yaml:"sampling" toml:"sampling"` // enable sampling in prod
	File     LogFileConfig `yaml:"file" toml:"file"`
}

type StoreConfig struct {
	Driver      string `yaml:"driver" toml:"driver"` // sqlite|postgres
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	PostgresURL string `yaml:"postgres_url" toml:"postgres_url"`
	MaxConns    int32  `yaml:"max_conns" toml:"max_conns"`
}

type SettingsConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type GoogleConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type ReplicateConfig struct {
	Upstream     string        `yaml:"upstream" toml:"upstream"`         // relay target origin
	RelayBase    string        `yaml:"relay_base" toml:"relay_base"`     // adapter's base URL, normally {public_url}/proxy/replicate
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type ProvidersConfig struct {
	Google          GoogleConfig    `yaml:"google" toml:"google"`
	Replicate       ReplicateConfig `yaml:"replicate" toml:"replicate"`
	OpenAI          OpenAIConfig    `yaml:"openai" toml:"openai"`
	ConcurrentLimit int             `yaml:"concurrent_limit" toml:"concurrent_limit"` // per provider, 0 = unlimited
	HTTPTimeout     time.Duration   `yaml:"http_timeout" toml:"http_timeout"`
}

type RetryConfig struct {
	MaxRetries           int           `yaml:"max_retries" toml:"max_retries"`
	BaseBackoff          time.Duration `yaml:"base_backoff" toml:"base_backoff"`
	DefaultRateLimitWait time.Duration `yaml:"default_rate_limit_wait" toml:"default_rate_limit_wait"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	Settings  SettingsConfig  `yaml:"settings" toml:"settings"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Security  SecurityConfig  `yaml:"security" toml:"security"`

	// Env holds credentials picked up from the environment / .env file.
	// They seed the settings store on first start and are never written to config.
	Env EnvCredentials `yaml:"-" toml:"-"`

	Runtime RuntimeConfig `yaml:"-" toml:"-"`
}

type EnvCredentials struct {
	GoogleKey    string
	ReplicateKey string
	OpenAIKey    string
}

// LoadConfig reads the config file at path (.yaml/.yml or .toml). A missing
// file is not an error: defaults are used. A .env file next to the working
// directory is loaded first if present.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := unmarshal(path, b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// defaults only
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func unmarshal(path string, b []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, cfg)
	case ".toml":
		return toml.Unmarshal(b, cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}

func applyEnv(cfg *Config) {
	cfg.Env.GoogleKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	cfg.Env.ReplicateKey = firstEnv("REPLICATE_API_TOKEN")
	cfg.Env.OpenAIKey = firstEnv("OPENAI_API_KEY")
	if v := firstEnv("STUDIO_ENCRYPTION_KEY"); v != "" && cfg.Security.EncryptionKey == "" {
		cfg.Security.EncryptionKey = v
	}
	if v := firstEnv("STUDIO_POSTGRES_URL"); v != "" && cfg.Store.PostgresURL == "" {
		cfg.Store.PostgresURL = v
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://" + cfg.Server.Addr
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.File.Path != "" {
		if cfg.Log.File.MaxSizeMB <= 0 {
			cfg.Log.File.MaxSizeMB = 100
		}
		if cfg.Log.File.MaxBackups <= 0 {
			cfg.Log.File.MaxBackups = 5
		}
		if cfg.Log.File.MaxAgeDays <= 0 {
			cfg.Log.File.MaxAgeDays = 30
		}
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	cfg.Store.Driver = strings.ToLower(cfg.Store.Driver)
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "studio.sqlite"
	}
	if cfg.Store.MaxConns <= 0 {
		cfg.Store.MaxConns = 10
	}

	if cfg.Settings.Path == "" {
		cfg.Settings.Path = "studio-settings.yaml"
	}

	if cfg.Providers.Replicate.Upstream == "" {
		cfg.Providers.Replicate.Upstream = "https://api.replicate.com"
	}
	if cfg.Providers.Replicate.RelayBase == "" {
		cfg.Providers.Replicate.RelayBase = cfg.Server.PublicURL + "/proxy/replicate"
	}
	if cfg.Providers.Replicate.PollInterval <= 0 {
		cfg.Providers.Replicate.PollInterval = 500 * time.Millisecond
	}
	if cfg.Providers.HTTPTimeout <= 0 {
		cfg.Providers.HTTPTimeout = 5 * time.Minute
	}

	if cfg.Retry.MaxRetries <= 0 {
		cfg.Retry.MaxRetries = 3
	}
	if cfg.Retry.BaseBackoff <= 0 {
		cfg.Retry.BaseBackoff = time.Second
	}
	if cfg.Retry.DefaultRateLimitWait <= 0 {
		cfg.Retry.DefaultRateLimitWait = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Store.PostgresURL == "" {
			return errors.New("store.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
	if k := len(cfg.Security.EncryptionKey); k != 0 && k != 16 && k != 24 && k != 32 {
		return fmt.Errorf("security.encryption_key must be 16, 24 or 32 bytes; got %d", k)
	}
	return nil
}
