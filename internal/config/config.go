// Package config provides unified configuration loading for vectorsync.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the vectorsync service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Worker        WorkerConfig        `yaml:"worker"`
	Agent         AgentConfig         `yaml:"agent"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds cache settings for the agent's question-embedding cache.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// WorkerConfig holds worker runtime settings.
type WorkerConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	Concurrency       int           `yaml:"concurrency"`
	OnceAndExit       bool          `yaml:"once_and_exit"`
}

// AgentConfig holds text-to-SQL agent settings.
type AgentConfig struct {
	Provider      string        `yaml:"provider"` // anthropic, openai, cohere, ollama
	Model         string        `yaml:"model"`
	Catalog       string        `yaml:"catalog"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxResults    int           `yaml:"max_results"`
	MaxVectorDist float64       `yaml:"max_vector_dist"`
	SearchPath    string        `yaml:"search_path"`
	Timeout       time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds the embedding model used for semantic catalog rows
// and agent questions. Vectorizers carry their own embedding settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai, ollama, voyageai
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ProvidersConfig holds model provider endpoints and credential names.
type ProvidersConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	Cohere    ProviderConfig `yaml:"cohere"`
	VoyageAI  ProviderConfig `yaml:"voyageai"`
	Ollama    ProviderConfig `yaml:"ollama"`
}

// ProviderConfig holds one vendor's endpoint settings. APIKeyName names a
// secret resolved through the secret store; APIKey is a literal override.
type ProviderConfig struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APIKeyName string        `yaml:"api_key_name"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		Worker: WorkerConfig{
			PollInterval:      5 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			Concurrency:       1,
		},
		Agent: AgentConfig{
			Provider:      "anthropic",
			Model:         "claude-3-5-sonnet-20241022",
			Catalog:       "default",
			MaxIterations: 10,
			MaxResults:    5,
			SearchPath:    "public",
			Timeout:       2 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				BaseURL:    "https://api.anthropic.com",
				APIKeyName: "ANTHROPIC_API_KEY",
				Timeout:    2 * time.Minute,
			},
			OpenAI: ProviderConfig{
				BaseURL:    "https://api.openai.com/v1",
				APIKeyName: "OPENAI_API_KEY",
				Timeout:    2 * time.Minute,
			},
			Cohere: ProviderConfig{
				BaseURL:    "https://api.cohere.com",
				APIKeyName: "COHERE_API_KEY",
				Timeout:    2 * time.Minute,
			},
			VoyageAI: ProviderConfig{
				BaseURL:    "https://api.voyageai.com/v1",
				APIKeyName: "VOYAGE_API_KEY",
				Timeout:    2 * time.Minute,
			},
			Ollama: ProviderConfig{
				BaseURL: "http://localhost:11434",
				Timeout: 5 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	switch c.Agent.Provider {
	case "anthropic", "openai", "cohere", "ollama":
	default:
		return fmt.Errorf("invalid agent provider: %s", c.Agent.Provider)
	}

	if c.Agent.MaxIterations < 1 || c.Agent.MaxIterations > 50 {
		return fmt.Errorf("max_iterations must be between 1 and 50")
	}

	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be at least 1")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("POSTGRES_URL"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("TEXT_TO_SQL_PROVIDER"); v != "" {
		cfg.Agent.Provider = v
	}

	if v := os.Getenv("TEXT_TO_SQL_MODEL"); v != "" {
		cfg.Agent.Model = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Providers.Anthropic.APIKey = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Providers.OpenAI.APIKey = v
	}

	if v := os.Getenv("COHERE_API_KEY"); v != "" {
		cfg.Providers.Cohere.APIKey = v
	}

	if v := os.Getenv("VOYAGE_API_KEY"); v != "" {
		cfg.Providers.VoyageAI.APIKey = v
	}

	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Providers.Ollama.BaseURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
