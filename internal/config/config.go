// ABOUTME: Configuration loading and parsing for nextturn
// ABOUTME: Supports YAML files with environment variable expansion, defaults and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend and provider names accepted in configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	ProviderScript = "script"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// LockTTLMargin is the time a generation claim must outlast
// generation.timeout by, covering the post and the release.
const LockTTLMargin = 30 * time.Second

// Config represents the complete nextturn configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Generation GenerationConfig `yaml:"generation"`
	Polling    PollingConfig    `yaml:"polling"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the shared Redis connection used by the redis scheduler backend
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SchedulerConfig selects the generation lock registry
type SchedulerConfig struct {
	Backend string        `yaml:"backend"` // memory | redis
	LockTTL time.Duration `yaml:"-"`

	LockTTLRaw string `yaml:"lock_ttl"`
}

// GenerationConfig holds content generator and chaining configuration
type GenerationConfig struct {
	Provider      string `yaml:"provider"` // script | openai | ollama
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	ScriptPath    string `yaml:"script_path"`
	AuthorPolicy  string `yaml:"author_policy"` // round_robin | generator
	MaxChainDepth int    `yaml:"max_chain_depth"`
	HistoryLimit  int    `yaml:"history_limit"`
	Workers       int    `yaml:"workers"`

	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// PollingConfig bounds how waiters re-check the store between notifications
type PollingConfig struct {
	Interval    time.Duration `yaml:"-"`
	MaxInterval time.Duration `yaml:"-"`

	IntervalRaw    string `yaml:"interval"`
	MaxIntervalRaw string `yaml:"max_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "nextturn.db"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "nextturn:"
	}
	if cfg.Scheduler.Backend == "" {
		cfg.Scheduler.Backend = BackendMemory
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 5 * time.Minute
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = ProviderScript
	}
	if cfg.Generation.AuthorPolicy == "" {
		cfg.Generation.AuthorPolicy = "round_robin"
	}
	if cfg.Generation.HistoryLimit == 0 {
		cfg.Generation.HistoryLimit = 20
	}
	if cfg.Generation.Workers == 0 {
		cfg.Generation.Workers = 2
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = 2 * time.Minute
	}
	if cfg.Polling.Interval == 0 {
		cfg.Polling.Interval = 100 * time.Millisecond
	}
	if cfg.Polling.MaxInterval == 0 {
		cfg.Polling.MaxInterval = 2 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Scheduler.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when scheduler.backend is redis")
		}
	default:
		return fmt.Errorf("scheduler.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Scheduler.Backend)
	}

	switch c.Generation.Provider {
	case ProviderScript:
		if c.Generation.ScriptPath == "" {
			return fmt.Errorf("generation.script_path is required for the script provider")
		}
	case ProviderOpenAI:
		if c.Generation.BaseURL == "" {
			return fmt.Errorf("generation.base_url is required for the openai provider")
		}
		if c.Generation.Model == "" {
			return fmt.Errorf("generation.model is required for the openai provider")
		}
	case ProviderOllama:
		if c.Generation.Model == "" {
			return fmt.Errorf("generation.model is required for the ollama provider")
		}
	default:
		return fmt.Errorf("unknown generation.provider %q", c.Generation.Provider)
	}

	switch c.Generation.AuthorPolicy {
	case "round_robin", "generator":
	default:
		return fmt.Errorf("generation.author_policy must be round_robin or generator, got %q", c.Generation.AuthorPolicy)
	}

	if c.Generation.MaxChainDepth < 0 {
		return fmt.Errorf("generation.max_chain_depth must not be negative")
	}
	if c.Generation.HistoryLimit < 0 {
		return fmt.Errorf("generation.history_limit must not be negative")
	}
	if c.Generation.Workers < 1 {
		return fmt.Errorf("generation.workers must be at least 1")
	}
	// A claim must outlive the generation it guards, or a second owner can
	// take the position while the first is still running.
	if c.Scheduler.LockTTL < c.Generation.Timeout+LockTTLMargin {
		return fmt.Errorf("scheduler.lock_ttl (%s) must be at least generation.timeout (%s) plus %s",
			c.Scheduler.LockTTL, c.Generation.Timeout, LockTTLMargin)
	}
	if c.Polling.MaxInterval < c.Polling.Interval {
		return fmt.Errorf("polling.max_interval (%s) must be >= polling.interval (%s)", c.Polling.MaxInterval, c.Polling.Interval)
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
		{"scheduler.lock_ttl", cfg.Scheduler.LockTTLRaw, &cfg.Scheduler.LockTTL},
		{"generation.timeout", cfg.Generation.TimeoutRaw, &cfg.Generation.Timeout},
		{"polling.interval", cfg.Polling.IntervalRaw, &cfg.Polling.Interval},
		{"polling.max_interval", cfg.Polling.MaxIntervalRaw, &cfg.Polling.MaxInterval},
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
