package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
logging:
  development: false
  level: debug
auth:
  enabled: true
  mode: attribute
  attribute: role
  roles: ["operator"]
  keys:
    - key: Secret-Key
      principal: ops
      attributes:
        role: operator
scheduler:
  tick: 30s
  workers: 5
  max_attempts: 4
ratelimits:
  twitter:
    requests: 100
    window: 15m
    endpoints:
      search_recent:
        requests: 60
        window: 15m
pacing:
  reddit: 2
keyword:
  rules:
    - name: defi security
      keywords: ["defi", "hack"]
      platforms: ["reddit"]
      priority: high
      match_type: all
processing:
  min_content_length: 5
  max_content_length: 500
  save_raw_data: false
reddit:
  subreddits: ["defi", "ethereum"]
telegram:
  channels: ["@whale_alerts"]
  history_source: public_preview
ttl:
  backend: redis
  redis_addr: localhost:6379
storage:
  backend: gcs
  bucket: raw-posts
  archive_raw: true
pubsub:
  project_id: demo
  topic_name: crawl-events
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if len(cfg.Auth.Keys) != 1 || cfg.Auth.Keys[0].Key != "Secret-Key" {
		t.Fatalf("expected case-preserved api key, got %+v", cfg.Auth.Keys)
	}
	if cfg.Auth.Keys[0].Attributes["role"] != "operator" {
		t.Fatalf("expected role attribute, got %+v", cfg.Auth.Keys[0].Attributes)
	}
	if cfg.Scheduler.Tick != 30*time.Second || cfg.Scheduler.Workers != 5 || cfg.Scheduler.MaxAttempts != 4 {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	tw := cfg.RateLimits["twitter"]
	if tw.Requests != 100 || tw.Window != 15*time.Minute {
		t.Fatalf("unexpected twitter limits: %+v", tw)
	}
	if tw.Endpoints["search_recent"].Requests != 60 {
		t.Fatalf("unexpected endpoint limits: %+v", tw.Endpoints)
	}
	if cfg.Pacing["reddit"] != 2 {
		t.Fatalf("expected reddit pacing override, got %v", cfg.Pacing["reddit"])
	}
	if cfg.Pacing["telegram"] != 0.5 {
		t.Fatalf("expected telegram pacing default, got %v", cfg.Pacing["telegram"])
	}
	if len(cfg.Keyword.Rules) != 1 || cfg.Keyword.Rules[0].MatchType != "all" {
		t.Fatalf("unexpected seeded rules: %+v", cfg.Keyword.Rules)
	}
	if cfg.Processing.SaveRawData || cfg.Processing.MaxContentLength != 500 {
		t.Fatalf("unexpected processing config: %+v", cfg.Processing)
	}
	if strings.Join(cfg.Reddit.Subreddits, ",") != "defi,ethereum" {
		t.Fatalf("unexpected subreddits: %v", cfg.Reddit.Subreddits)
	}
	if cfg.Telegram.HistorySource != "public_preview" {
		t.Fatalf("unexpected history source %q", cfg.Telegram.HistorySource)
	}
	if cfg.TTL.Backend != "redis" || cfg.Storage.Bucket != "raw-posts" || !cfg.Storage.ArchiveRaw {
		t.Fatalf("unexpected backends: ttl=%+v storage=%+v", cfg.TTL, cfg.Storage)
	}
	if cfg.HTTPTimeout() != 30*time.Second {
		t.Fatalf("expected default http timeout, got %v", cfg.HTTPTimeout())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.Workers != 3 || cfg.Scheduler.MaxAttempts != 3 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.Processing.MinContentLength != 10 || cfg.Processing.MaxContentLength != 10000 || !cfg.Processing.SaveRawData {
		t.Fatalf("unexpected processing defaults: %+v", cfg.Processing)
	}
	if cfg.TTL.Backend != "memory" || cfg.Storage.Backend != "memory" {
		t.Fatalf("unexpected backend defaults: %s %s", cfg.TTL.Backend, cfg.Storage.Backend)
	}
	if cfg.Errors.ErrorRate != 0.5 || cfg.Errors.Cooldown != time.Hour {
		t.Fatalf("unexpected error thresholds: %+v", cfg.Errors)
	}
	if cfg.RequestTimeout() != time.Minute {
		t.Fatalf("expected 60s request timeout, got %v", cfg.RequestTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"workers", func(c *Config) { c.Scheduler.Workers = 0 }, "scheduler.workers"},
		{"auth keys", func(c *Config) { c.Auth.Enabled = true }, "auth.keys"},
		{"auth mode", func(c *Config) { c.Auth.Mode = "rbac" }, "auth.mode"},
		{"attribute name", func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.Mode = "attribute"
			c.Auth.Keys = []APIKey{{Key: "k", Principal: "p"}}
		}, "auth.attribute"},
		{"content bounds", func(c *Config) { c.Processing.MinContentLength = 20000 }, "content bounds"},
		{"redis addr", func(c *Config) { c.TTL.Backend = "redis" }, "ttl.redis_addr"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"history source", func(c *Config) { c.Telegram.HistorySource = "mtproto" }, "history_source"},
		{"rss template", func(c *Config) { c.Telegram.HistorySource = "rss_bridge" }, "rss_url_template"},
		{"platform name", func(c *Config) {
			c.RateLimits = map[string]PlatformLimitConfig{"mastodon": {Requests: 1, Window: time.Minute}}
		}, "ratelimits"},
		{"endpoint budget", func(c *Config) {
			c.RateLimits = map[string]PlatformLimitConfig{"reddit": {Endpoints: map[string]LimitConfig{"search": {}}}}
		}, "endpoints.search"},
		{"pacing", func(c *Config) { c.Pacing = map[string]float64{"twitter": -1} }, "pacing.twitter"},
		{"error rate", func(c *Config) { c.Errors.ErrorRate = 1.5 }, "errors.error_rate"},
		{"sentiment", func(c *Config) { c.Keyword.SentimentStrategy = "llm" }, "sentiment_strategy"},
		{"rule keywords", func(c *Config) { c.Keyword.Rules = []RuleConfig{{Name: "empty"}} }, "keyword.rules[0]"},
		{"rule match type", func(c *Config) {
			c.Keyword.Rules = []RuleConfig{{Keywords: []string{"defi"}, MatchType: "fuzzy"}}
		}, "match_type"},
		{"pubsub topic", func(c *Config) { c.PubSub.ProjectID = "demo" }, "pubsub.topic_name"},
		{"alert chat", func(c *Config) { c.Alerts.TelegramToken = "tok" }, "alerts.telegram"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.Auth.Keys = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SOCIAL_CRAWLER_SERVER_PORT", "7070")
	t.Setenv("SOCIAL_CRAWLER_TTL_BACKEND", "redis")
	t.Setenv("SOCIAL_CRAWLER_TTL_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.TTL.Backend != "redis" || cfg.TTL.RedisAddr != "cache:6379" {
		t.Fatalf("unexpected ttl config: %+v", cfg.TTL)
	}
}
