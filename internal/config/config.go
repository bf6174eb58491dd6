// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port        int           `yaml:"port"`
	TurnTimeout time.Duration `yaml:"turn_timeout"` // upper bound for one streamed turn
	WSOrigins   []string      `yaml:"ws_origins"`   // host patterns accepted for cross-origin websocket upgrades
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // redis|pebble
	Path   string `yaml:"path"`   // pebble data directory
}

type DatabaseConfig struct {
	URL           string `yaml:"url"` // empty disables the similarity index
	MaxConns      int32  `yaml:"max_conns"`
	EmbeddingDims int    `yaml:"embedding_dims"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	EmbeddingModel  string `yaml:"embedding_model"`
	MetisKey        string `yaml:"metis_key"`
	MetisBaseURL    string `yaml:"metis_base_url"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

type SessionConfig struct {
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 32 raw bytes or base64; empty stores sessions unsealed
}

type EventsConfig struct {
	NatsURL string `yaml:"nats_url"` // empty disables completion events
	Stream  string `yaml:"stream"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AI       AIConfig       `yaml:"ai"`
	Session  SessionConfig  `yaml:"session"`
	Security SecurityConfig `yaml:"security"`
	Events   EventsConfig   `yaml:"events"`

	Runtime RuntimeConfig `yaml:"-"`
}

// ParseFlags reads the common -config and -dev flags.
func ParseFlags(fs *flag.FlagSet, args []string) (configPath string, dev bool, err error) {
	fs.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	fs.BoolVar(&dev, "dev", false, "development mode")
	err = fs.Parse(args)
	return configPath, dev, err
}

// LoadConfig reads the YAML file, applies environment overrides and defaults, and validates.
// A missing file is allowed in dev mode so the service can run on defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && dev:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	cfg.Runtime.Dev = dev

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.AI.OpenAIKey, "OPENAI_API_KEY")
	override(&cfg.AI.GeminiKey, "GEMINI_API_KEY")
	override(&cfg.AI.MetisKey, "METIS_API_KEY")
	override(&cfg.Events.NatsURL, "NATS_URL")
	override(&cfg.Security.EncryptionKey, "SESSION_ENCRYPTION_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TurnTimeout <= 0 {
		cfg.Server.TurnTimeout = 2 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "redis"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data/sessions"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.EmbeddingDims <= 0 {
		cfg.Database.EmbeddingDims = 1536
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.EmbeddingModel == "" {
		cfg.AI.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.AI.MetisBaseURL == "" {
		cfg.AI.MetisBaseURL = "https://api.metisai.ir/openai/v1"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 512
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)
	if cfg.Session.LockTTL <= 0 {
		cfg.Session.LockTTL = cfg.Server.TurnTimeout
	}
	if cfg.Events.Stream == "" {
		cfg.Events.Stream = "EVENTS"
	}
}

func validate(cfg *Config) error {
	switch cfg.Store.Driver {
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required when store.driver is redis")
		}
	case "pebble":
	default:
		return fmt.Errorf("store.driver must be redis or pebble, got %q", cfg.Store.Driver)
	}
	if !cfg.Runtime.Dev && cfg.AI.OpenAIKey == "" && cfg.AI.GeminiKey == "" && cfg.AI.MetisKey == "" {
		return errors.New("at least one of ai.openai_key, ai.gemini_key, ai.metis_key is required")
	}
	return nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}
