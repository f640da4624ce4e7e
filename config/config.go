package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"vigil/core"

	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (VIGIL_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file (VIGIL_SQLITE_PATH, default: ${DataDir}/vigil.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ProviderSettings configures one narrative completion endpoint. Credential
// is a reference (env:NAME, vault:key, aws:key) or a literal value; it is
// replaced by the resolved secret in LoadSecrets.
type ProviderSettings struct {
	Name              string  `mapstructure:"name"`
	Endpoint          string  `mapstructure:"endpoint"`
	ModelID           string  `mapstructure:"model_id"`
	Credential        string  `mapstructure:"credential"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
}

// Config holds all configuration for the vigil service
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	API struct {
		Host         string        `mapstructure:"host"`
		Port         int           `mapstructure:"port"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
		// RateLimit applies per client IP; 0 requests_per_second disables it
		RateLimit struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second"`
			Burst             int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Correlation struct {
		// Interval is the batch correlation period
		Interval time.Duration `mapstructure:"interval"`
		// OnIngest queues every ingested alert for an immediate single-alert run
		OnIngest     bool          `mapstructure:"on_ingest"`
		AttachWindow time.Duration `mapstructure:"attach_window"`
		Workers      int           `mapstructure:"workers"`
		LockTTL      time.Duration `mapstructure:"lock_ttl"`
		QueueSize    int           `mapstructure:"queue_size"`
	} `mapstructure:"correlation"`

	Narrative struct {
		Timeout        time.Duration             `mapstructure:"timeout"`
		CacheSize      int                       `mapstructure:"cache_size"`
		CacheTTL       time.Duration             `mapstructure:"cache_ttl"`
		CircuitBreaker core.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
		Providers      []ProviderSettings        `mapstructure:"providers"`
	} `mapstructure:"narrative"`

	Redis struct {
		Enabled   bool   `mapstructure:"enabled"`
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		PoolSize  int    `mapstructure:"pool_size"`
		KeyPrefix string `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Tracing struct {
		Enabled     bool    `mapstructure:"enabled"`
		SampleRatio float64 `mapstructure:"sample_ratio"`
	} `mapstructure:"tracing"`

	Secrets struct {
		Provider string `mapstructure:"provider"` // env, vault, aws
		Vault    struct {
			Address string `mapstructure:"address"`
			Token   string `mapstructure:"token"`
			Path    string `mapstructure:"path"`
		} `mapstructure:"vault"`
		AWS struct {
			Region    string `mapstructure:"region"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			SecretID  string `mapstructure:"secret_id"`
		} `mapstructure:"aws"`
	} `mapstructure:"secrets"`
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.read_timeout", "15s")
	viper.SetDefault("api.write_timeout", "60s") // narration can take a provider timeout
	viper.SetDefault("api.max_body_bytes", 1<<20)
	viper.SetDefault("api.rate_limit.requests_per_second", 50)
	viper.SetDefault("api.rate_limit.burst", 100)

	viper.SetDefault("logging.level", "info")

	viper.SetDefault("correlation.interval", "5m")
	viper.SetDefault("correlation.on_ingest", true)
	viper.SetDefault("correlation.attach_window", "24h")
	viper.SetDefault("correlation.workers", 4)
	viper.SetDefault("correlation.lock_ttl", "2m") // must outlast narration across every provider
	viper.SetDefault("correlation.queue_size", 256)

	viper.SetDefault("narrative.timeout", "20s")
	viper.SetDefault("narrative.cache_size", 512)
	viper.SetDefault("narrative.cache_ttl", "1h")
	viper.SetDefault("narrative.circuit_breaker.max_failures", 5)
	viper.SetDefault("narrative.circuit_breaker.cooldown", "60s")
	viper.SetDefault("narrative.circuit_breaker.half_open_probes", 1)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.key_prefix", "vigil:")

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.sample_ratio", 1.0)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.path", "secret/vigil")
	viper.SetDefault("secrets.aws.secret_id", "vigil/secrets")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("VIGIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the paths
	_ = viper.BindEnv("data_paths.data_dir", "VIGIL_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "VIGIL_SQLITE_PATH")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.ResolveDataPaths()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "vigil.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
	c.DataPaths.DataDir = dataDir
}

// ListenAddr returns the API listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", config.API.Port)
	}

	if config.API.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second cannot be negative")
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q: must be debug, info, warn or error", config.Logging.Level)
	}

	if config.Correlation.Interval <= 0 {
		return fmt.Errorf("correlation.interval must be positive")
	}
	if config.Correlation.AttachWindow < 0 {
		return fmt.Errorf("correlation.attach_window cannot be negative")
	}
	if config.Correlation.Workers < 1 {
		return fmt.Errorf("correlation.workers must be at least 1")
	}
	if config.Correlation.QueueSize < 1 {
		return fmt.Errorf("correlation.queue_size must be at least 1")
	}

	if config.Narrative.Timeout <= 0 {
		return fmt.Errorf("narrative.timeout must be positive")
	}
	if err := config.Narrative.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("narrative.circuit_breaker: %w", err)
	}

	seen := make(map[string]bool, len(config.Narrative.Providers))
	for i, p := range config.Narrative.Providers {
		if p.Name == "" {
			return fmt.Errorf("narrative.providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("narrative.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.ModelID == "" {
			return fmt.Errorf("narrative provider %s: model_id is required", p.Name)
		}
		u, err := url.Parse(p.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("narrative provider %s: endpoint must be an http(s) URL", p.Name)
		}
		if p.RequestsPerMinute < 0 {
			return fmt.Errorf("narrative provider %s: requests_per_minute cannot be negative", p.Name)
		}
	}

	// A claim that expires mid-narration lets another process take the same alerts.
	if config.Correlation.LockTTL <= 0 {
		return fmt.Errorf("correlation.lock_ttl must be positive")
	}
	if n := len(config.Narrative.Providers); n > 0 {
		worst := config.Narrative.Timeout * time.Duration(n)
		if config.Correlation.LockTTL <= worst {
			return fmt.Errorf("correlation.lock_ttl (%s) must exceed narrative.timeout x %d providers (%s)",
				config.Correlation.LockTTL, n, worst)
		}
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	switch config.Secrets.Provider {
	case "", "env":
	case "vault":
		if config.Secrets.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required for the vault provider")
		}
	case "aws":
		if config.Secrets.AWS.Region == "" {
			return fmt.Errorf("secrets.aws.region is required for the aws provider")
		}
	default:
		return fmt.Errorf("unsupported secrets.provider: %s", config.Secrets.Provider)
	}
	return nil
}
