// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

// EnvPrefix prefixes environment overrides, e.g. SOCIAL_CRAWLER_DB_DSN.
const EnvPrefix = "SOCIAL_CRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig                   `mapstructure:"server"`
	Logging    LoggingConfig                  `mapstructure:"logging"`
	Auth       AuthConfig                     `mapstructure:"auth"`
	Scheduler  SchedulerConfig                `mapstructure:"scheduler"`
	HTTP       HTTPConfig                     `mapstructure:"http"`
	RateLimits map[string]PlatformLimitConfig `mapstructure:"ratelimits"`
	Pacing     map[string]float64             `mapstructure:"pacing"`
	Errors     ErrorsConfig                   `mapstructure:"errors"`
	Keyword    KeywordConfig                  `mapstructure:"keyword"`
	Processing ProcessingConfig               `mapstructure:"processing"`
	Twitter    TwitterConfig                  `mapstructure:"twitter"`
	Reddit     RedditConfig                   `mapstructure:"reddit"`
	Telegram   TelegramConfig                 `mapstructure:"telegram"`
	TTL        TTLConfig                      `mapstructure:"ttl"`
	DB         DBConfig                       `mapstructure:"db"`
	Storage    StorageConfig                  `mapstructure:"storage"`
	PubSub     PubSubConfig                   `mapstructure:"pubsub"`
	Alerts     AlertsConfig                   `mapstructure:"alerts"`
	Tracing    TracingConfig                  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// AuthConfig defines API authentication and the authorizer variant.
type AuthConfig struct {
	Enabled   bool                `mapstructure:"enabled"`
	Mode      string              `mapstructure:"mode"`
	Keys      []APIKey            `mapstructure:"keys"`
	Allowed   []string            `mapstructure:"allowed"`
	Attribute string              `mapstructure:"attribute"`
	Roles     []string            `mapstructure:"roles"`
	Owners    map[string][]string `mapstructure:"owners"`
}

// APIKey binds a key to a principal and its attributes.
type APIKey struct {
	Key        string            `mapstructure:"key"`
	Principal  string            `mapstructure:"principal"`
	Attributes map[string]string `mapstructure:"attributes"`
}

// SchedulerConfig governs the scheduled crawl loop.
type SchedulerConfig struct {
	Tick        time.Duration `mapstructure:"tick"`
	Workers     int           `mapstructure:"workers"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// HTTPConfig configures the provider HTTP client.
type HTTPConfig struct {
	TimeoutSeconds        int    `mapstructure:"timeout_seconds"`
	UserAgent             string `mapstructure:"user_agent"`
	BreakerFailures       uint32 `mapstructure:"breaker_failures"`
	BreakerTimeoutSeconds int    `mapstructure:"breaker_timeout_seconds"`
}

// LimitConfig is one request budget.
type LimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// PlatformLimitConfig overrides the built-in budgets of one platform.
type PlatformLimitConfig struct {
	Requests  int                    `mapstructure:"requests"`
	Window    time.Duration          `mapstructure:"window"`
	Endpoints map[string]LimitConfig `mapstructure:"endpoints"`
}

// ErrorsConfig sets the alert thresholds of the error classifier.
type ErrorsConfig struct {
	ErrorRate           float64       `mapstructure:"error_rate"`
	MinSamples          int64         `mapstructure:"min_samples"`
	ConsecutiveFailures int64         `mapstructure:"consecutive_failures"`
	ErrorsPerHour       int64         `mapstructure:"errors_per_hour"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
}

// KeywordConfig selects the keyword engine strategies.
type KeywordConfig struct {
	SentimentStrategy string `mapstructure:"sentiment_strategy"`
	// Rules seed the in-memory store. Postgres deployments manage rules in the database.
	Rules []RuleConfig `mapstructure:"rules"`
}

// RuleConfig is one seeded keyword rule.
type RuleConfig struct {
	Name            string   `mapstructure:"name"`
	Keywords        []string `mapstructure:"keywords"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	Platforms       []string `mapstructure:"platforms"`
	Priority        string   `mapstructure:"priority"`
	MatchType       string   `mapstructure:"match_type"`
	CaseSensitive   bool     `mapstructure:"case_sensitive"`
}

// ProcessingConfig bounds which posts are persisted.
type ProcessingConfig struct {
	MinContentLength int  `mapstructure:"min_content_length"`
	MaxContentLength int  `mapstructure:"max_content_length"`
	SaveRawData      bool `mapstructure:"save_raw_data"`
}

// TwitterConfig holds API v2 credentials.
type TwitterConfig struct {
	BearerToken string `mapstructure:"bearer_token"`
	BaseURL     string `mapstructure:"base_url"`
}

// RedditConfig holds OAuth client credentials.
type RedditConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	UserAgent    string   `mapstructure:"user_agent"`
	BaseURL      string   `mapstructure:"base_url"`
	AuthURL      string   `mapstructure:"auth_url"`
	Subreddits   []string `mapstructure:"subreddits"`
}

// TelegramConfig holds the bot token and channel history settings.
type TelegramConfig struct {
	BotToken       string   `mapstructure:"bot_token"`
	BaseURL        string   `mapstructure:"base_url"`
	Channels       []string `mapstructure:"channels"`
	HistorySource  string   `mapstructure:"history_source"`
	PreviewBaseURL string   `mapstructure:"preview_base_url"`
	RSSURLTemplate string   `mapstructure:"rss_url_template"`
}

// TTLConfig selects the self-expiring key-value backend.
type TTLConfig struct {
	Backend       string `mapstructure:"backend"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// DBConfig controls access to the relational database. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// StorageConfig selects where raw batches are archived.
type StorageConfig struct {
	Backend    string       `mapstructure:"backend"`
	Bucket     string       `mapstructure:"bucket"`
	Prefix     string       `mapstructure:"prefix"`
	Local      LocalStorage `mapstructure:"local"`
	ArchiveRaw bool         `mapstructure:"archive_raw"`
}

// LocalStorage configures the filesystem backend.
type LocalStorage struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
// An empty project disables publishing.
type PubSubConfig struct {
	ProjectID  string `mapstructure:"project_id"`
	TopicName  string `mapstructure:"topic_name"`
	AlertTopic string `mapstructure:"alert_topic"`
}

// AlertsConfig configures the Telegram alert chat.
type AlertsConfig struct {
	TelegramChatID int64  `mapstructure:"telegram_chat_id"`
	TelegramToken  string `mapstructure:"telegram_token"`
}

// TracingConfig names the service in trace resources.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment. Keys without a default are not
// bound to the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.mode", "static")
	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("scheduler.workers", 3)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "realtime-social-crawler/1.0")
	v.SetDefault("http.breaker_failures", 5)
	v.SetDefault("http.breaker_timeout_seconds", 60)
	v.SetDefault("pacing.twitter", 1.0)
	v.SetDefault("pacing.reddit", 1.0)
	v.SetDefault("pacing.telegram", 0.5)
	v.SetDefault("errors.error_rate", 0.5)
	v.SetDefault("errors.min_samples", 0)
	v.SetDefault("errors.consecutive_failures", 5)
	v.SetDefault("errors.errors_per_hour", 50)
	v.SetDefault("errors.cooldown", time.Hour)
	v.SetDefault("keyword.sentiment_strategy", "analyzer")
	v.SetDefault("processing.min_content_length", 10)
	v.SetDefault("processing.max_content_length", 10000)
	v.SetDefault("processing.save_raw_data", true)
	v.SetDefault("twitter.bearer_token", "")
	v.SetDefault("reddit.client_id", "")
	v.SetDefault("reddit.client_secret", "")
	v.SetDefault("reddit.user_agent", "realtime-social-crawler/1.0")
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.history_source", "bot_updates")
	v.SetDefault("telegram.rss_url_template", "")
	v.SetDefault("ttl.backend", "memory")
	v.SetDefault("ttl.redis_addr", "")
	v.SetDefault("ttl.redis_password", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.local.base_dir", "data/raw")
	v.SetDefault("storage.archive_raw", false)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.alert_topic", "")
	v.SetDefault("alerts.telegram_token", "")
	v.SetDefault("alerts.telegram_chat_id", 0)
	v.SetDefault("tracing.enabled", true)
	v.SetDefault("tracing.service_name", "realtime-social-crawler")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.Tick <= 0 {
		return fmt.Errorf("scheduler.tick must be > 0")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.MaxAttempts <= 0 {
		return fmt.Errorf("scheduler.max_attempts must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}
	for name, pl := range c.RateLimits {
		if _, err := crawler.ParsePlatform(name); err != nil {
			return fmt.Errorf("ratelimits: %w", err)
		}
		if pl.Requests < 0 || pl.Window < 0 {
			return fmt.Errorf("ratelimits.%s must not be negative", name)
		}
		for endpoint, lim := range pl.Endpoints {
			if lim.Requests <= 0 || lim.Window <= 0 {
				return fmt.Errorf("ratelimits.%s.endpoints.%s needs requests and window > 0", name, endpoint)
			}
		}
	}
	for name, rps := range c.Pacing {
		if _, err := crawler.ParsePlatform(name); err != nil {
			return fmt.Errorf("pacing: %w", err)
		}
		if rps < 0 {
			return fmt.Errorf("pacing.%s must be >= 0", name)
		}
	}
	if c.Errors.ErrorRate <= 0 || c.Errors.ErrorRate > 1 {
		return fmt.Errorf("errors.error_rate must be in (0, 1]")
	}
	switch c.Keyword.SentimentStrategy {
	case "", "analyzer", "lexicon":
	default:
		return fmt.Errorf("keyword.sentiment_strategy %q is not supported", c.Keyword.SentimentStrategy)
	}
	for i, r := range c.Keyword.Rules {
		if len(r.Keywords) == 0 {
			return fmt.Errorf("keyword.rules[%d] needs at least one keyword", i)
		}
		for _, p := range r.Platforms {
			if _, err := crawler.ParsePlatform(p); err != nil {
				return fmt.Errorf("keyword.rules[%d]: %w", i, err)
			}
		}
		switch r.MatchType {
		case "", "any", "all", "exact", "regex":
		default:
			return fmt.Errorf("keyword.rules[%d].match_type %q is not supported", i, r.MatchType)
		}
	}
	if c.Processing.MinContentLength < 0 || c.Processing.MaxContentLength <= 0 ||
		c.Processing.MinContentLength > c.Processing.MaxContentLength {
		return fmt.Errorf("processing content bounds [%d, %d] are invalid",
			c.Processing.MinContentLength, c.Processing.MaxContentLength)
	}
	switch c.Telegram.HistorySource {
	case "", "bot_updates", "public_preview", "rss_bridge":
	default:
		return fmt.Errorf("telegram.history_source %q is not supported", c.Telegram.HistorySource)
	}
	if c.Telegram.HistorySource == "rss_bridge" && c.Telegram.RSSURLTemplate == "" {
		return fmt.Errorf("telegram.rss_url_template must be set for the rss_bridge history source")
	}
	switch c.TTL.Backend {
	case "memory":
	case "redis":
		if c.TTL.RedisAddr == "" {
			return fmt.Errorf("ttl.redis_addr must be set when ttl.backend is redis")
		}
	default:
		return fmt.Errorf("ttl.backend %q is not supported", c.TTL.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	if (c.Alerts.TelegramToken == "") != (c.Alerts.TelegramChatID == 0) {
		return fmt.Errorf("alerts.telegram_token and alerts.telegram_chat_id must be set together")
	}
	return nil
}

func (a AuthConfig) validate() error {
	switch a.Mode {
	case "", "static", "attribute", "relationship":
	default:
		return fmt.Errorf("auth.mode %q is not supported", a.Mode)
	}
	if !a.Enabled {
		return nil
	}
	if len(a.Keys) == 0 {
		return fmt.Errorf("auth.keys must be set when auth is enabled")
	}
	for i, k := range a.Keys {
		if k.Key == "" || k.Principal == "" {
			return fmt.Errorf("auth.keys[%d] needs key and principal", i)
		}
	}
	if a.Mode == "attribute" && a.Attribute == "" {
		return fmt.Errorf("auth.attribute must be set for attribute authorization")
	}
	return nil
}

// HTTPTimeout converts the provider call timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout converts the API request timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}
