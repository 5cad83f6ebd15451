package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("Server.Port = %q, want 8000", cfg.Server.Port)
	}
	if cfg.Fetch.MaxRetries != 3 || cfg.Fetch.Timeout != 10*time.Second {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Crawl.BatchSize != 8 || cfg.Crawl.Retention != time.Hour || cfg.Crawl.MaxPages != 0 {
		t.Errorf("Crawl = %+v", cfg.Crawl)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis should be disabled by default, got %q", cfg.Redis.Addr)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CRAWLER_SERVER_PORT", "9090")
	t.Setenv("CRAWLER_CRAWL_BATCH_SIZE", "4")
	t.Setenv("CRAWLER_FETCH_TIMEOUT", "2s")
	t.Setenv("CRAWLER_REDIS_ADDR", "redis:6379")
	t.Setenv("CRAWLER_CRAWL_MAX_PAGES", "200")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Crawl.BatchSize != 4 {
		t.Errorf("Crawl.BatchSize = %d", cfg.Crawl.BatchSize)
	}
	if cfg.Crawl.MaxPages != 200 {
		t.Errorf("Crawl.MaxPages = %d", cfg.Crawl.MaxPages)
	}
	if cfg.Fetch.Timeout != 2*time.Second {
		t.Errorf("Fetch.Timeout = %s", cfg.Fetch.Timeout)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crawler.yaml")
	content := `
server:
  port: "7000"
log:
  level: debug
  pretty: true
crawl:
  retention: 2h
  page_size: 50
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != "7000" || cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Crawl.Retention != 2*time.Hour || cfg.Crawl.PageSize != 50 {
		t.Errorf("Crawl = %+v", cfg.Crawl)
	}
	// Untouched keys keep their defaults.
	if cfg.Crawl.BatchSize != 8 {
		t.Errorf("Crawl.BatchSize = %d, want default 8", cfg.Crawl.BatchSize)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no port", func(c *Config) { c.Server.Port = "" }},
		{"zero retries", func(c *Config) { c.Fetch.MaxRetries = 0 }},
		{"zero timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"zero tasks", func(c *Config) { c.Fetch.MaxTasks = 0 }},
		{"zero batch", func(c *Config) { c.Crawl.BatchSize = 0 }},
		{"page size too big", func(c *Config) { c.Crawl.PageSize = 101 }},
		{"negative max pages", func(c *Config) { c.Crawl.MaxPages = -1 }},
		{"zero retention", func(c *Config) { c.Crawl.Retention = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
