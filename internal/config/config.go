// Package config loads the service configuration from an optional YAML
// file and CRAWLER_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// CRAWLER_SERVER_PORT or CRAWLER_CRAWL_BATCH_SIZE.
const EnvPrefix = "CRAWLER"

// Config stores all configuration for the service.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Crawl  CrawlConfig  `mapstructure:"crawl"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// RedisConfig enables the Redis job mirror and artifact store. An empty
// Addr keeps everything in memory.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	ArtifactTTL time.Duration `mapstructure:"artifact_ttl"`
}

type FetchConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	SignerURL         string        `mapstructure:"signer_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	Region            string        `mapstructure:"region"`
	MaxRetries        int           `mapstructure:"max_retries"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxTasks          int           `mapstructure:"max_tasks"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type CrawlConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchPause      time.Duration `mapstructure:"batch_pause"`
	CommentPause    time.Duration `mapstructure:"comment_pause"`
	ReplyPause      time.Duration `mapstructure:"reply_pause"`
	MaxPages        int           `mapstructure:"max_pages"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "crawler:")
	v.SetDefault("redis.artifact_ttl", 24*time.Hour)

	v.SetDefault("fetch.base_url", "https://www.tiktok.com")
	v.SetDefault("fetch.signer_url", "https://vm.vnice.great-fire.org/v1/xbogus")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.region", "US")
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.retry_backoff", 10*time.Second)
	v.SetDefault("fetch.max_connections", 50)
	v.SetDefault("fetch.max_tasks", 50)
	v.SetDefault("fetch.requests_per_second", 0.0)

	v.SetDefault("crawl.page_size", 20)
	v.SetDefault("crawl.batch_size", 8)
	v.SetDefault("crawl.batch_pause", 500*time.Millisecond)
	v.SetDefault("crawl.comment_pause", 300*time.Millisecond)
	v.SetDefault("crawl.reply_pause", 200*time.Millisecond)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.retention", time.Hour)
	v.SetDefault("crawl.cleanup_interval", 10*time.Minute)
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port == "":
		return fmt.Errorf("server.port is required")
	case c.Fetch.MaxRetries < 1:
		return fmt.Errorf("fetch.max_retries must be at least 1 (got %d)", c.Fetch.MaxRetries)
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("fetch.timeout must be positive (got %s)", c.Fetch.Timeout)
	case c.Fetch.MaxTasks < 1:
		return fmt.Errorf("fetch.max_tasks must be at least 1 (got %d)", c.Fetch.MaxTasks)
	case c.Crawl.BatchSize < 1:
		return fmt.Errorf("crawl.batch_size must be at least 1 (got %d)", c.Crawl.BatchSize)
	case c.Crawl.PageSize < 1 || c.Crawl.PageSize > 100:
		return fmt.Errorf("crawl.page_size must be between 1 and 100 (got %d)", c.Crawl.PageSize)
	case c.Crawl.MaxPages < 0:
		return fmt.Errorf("crawl.max_pages must not be negative (got %d)", c.Crawl.MaxPages)
	case c.Crawl.Retention <= 0:
		return fmt.Errorf("crawl.retention must be positive (got %s)", c.Crawl.Retention)
	}
	return nil
}
