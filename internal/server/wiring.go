package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/adapter/reddit"
	"github.com/JakeFAU/realtime-social-crawler/internal/adapter/telegram"
	"github.com/JakeFAU/realtime-social-crawler/internal/adapter/twitter"
	"github.com/JakeFAU/realtime-social-crawler/internal/alert"
	"github.com/JakeFAU/realtime-social-crawler/internal/api"
	"github.com/JakeFAU/realtime-social-crawler/internal/authz"
	"github.com/JakeFAU/realtime-social-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-social-crawler/internal/config"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/errclass"
	"github.com/JakeFAU/realtime-social-crawler/internal/hash/sha256"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
	"github.com/JakeFAU/realtime-social-crawler/internal/id/uuid"
	"github.com/JakeFAU/realtime-social-crawler/internal/keyword"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
	memorypublisher "github.com/JakeFAU/realtime-social-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-social-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/realtime-social-crawler/internal/ratelimit"
	"github.com/JakeFAU/realtime-social-crawler/internal/storage"
	memorystorage "github.com/JakeFAU/realtime-social-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-social-crawler/internal/storage/postgres"
	memoryttl "github.com/JakeFAU/realtime-social-crawler/internal/ttl/memory"
	redisttl "github.com/JakeFAU/realtime-social-crawler/internal/ttl/redis"
)

// defaultCadence matches the seeded crawler_configs rows.
const defaultCadence = time.Hour

type pinger interface {
	Ping(ctx context.Context) error
}

type readiness struct {
	name  string
	check pinger
}

func (a *App) setupTTL(ctx context.Context) error {
	switch a.cfg.TTL.Backend {
	case "redis":
		store, err := redisttl.Dial(ctx, redisttl.Config{
			Addr:     a.cfg.TTL.RedisAddr,
			Password: a.cfg.TTL.RedisPassword,
			DB:       a.cfg.TTL.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("redis ttl store init failed: %w", err)
		}
		a.ttl = store
		a.onClose("redis", store.Close)
		a.logger.Info("using redis ttl store", zap.String("addr", a.cfg.TTL.RedisAddr))
	default:
		a.ttl = memoryttl.New()
		a.logger.Info("using in-memory ttl store")
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, using in-memory store")
		mem := memorystorage.NewStore()
		seedMemoryStore(mem, a.cfg.Keyword.Rules)
		a.store = mem
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = store
	a.onClose("postgres", func() error {
		store.Close()
		return nil
	})
	a.logger.Info("postgres store initialized")
	return nil
}

// seedMemoryStore mirrors the default crawler_configs migration and adds the configured rules.
func seedMemoryStore(mem *memorystorage.Store, rules []config.RuleConfig) {
	names := map[crawler.Platform]string{
		crawler.PlatformTwitter:  "Twitter recent search",
		crawler.PlatformReddit:   "Reddit search and subreddits",
		crawler.PlatformTelegram: "Telegram channels",
	}
	perHour := map[crawler.Platform]int{
		crawler.PlatformTwitter:  300,
		crawler.PlatformReddit:   600,
		crawler.PlatformTelegram: 1800,
	}
	for _, p := range crawler.Platforms {
		mem.PutConfig(crawler.CrawlerConfig{
			Name:             names[p],
			Platform:         p,
			Enabled:          true,
			MaxResultsPerRun: 100,
			RateLimitPerHour: perHour[p],
			Cadence:          defaultCadence,
		})
	}
	for _, r := range rules {
		mem.PutRule(ruleFromConfig(r))
	}
}

func ruleFromConfig(r config.RuleConfig) crawler.KeywordRule {
	rule := crawler.KeywordRule{
		Name:            r.Name,
		Keywords:        r.Keywords,
		ExcludeKeywords: r.ExcludeKeywords,
		Priority:        crawler.Priority(strings.ToLower(r.Priority)),
		MatchType:       crawler.MatchType(strings.ToLower(r.MatchType)),
		CaseSensitive:   r.CaseSensitive,
		Active:          true,
	}
	if rule.Priority == "" {
		rule.Priority = crawler.PriorityMedium
	}
	if rule.MatchType == "" {
		rule.MatchType = crawler.MatchAny
	}
	for _, p := range r.Platforms {
		if platform, err := crawler.ParsePlatform(p); err == nil {
			rule.Platforms = append(rule.Platforms, platform)
		}
	}
	return rule
}

// Limits merges configured budgets over the built-in provider limits.
func Limits(overrides map[string]config.PlatformLimitConfig) ratelimit.Limits {
	limits := ratelimit.DefaultLimits()
	for name, o := range overrides {
		platform, err := crawler.ParsePlatform(name)
		if err != nil {
			continue
		}
		pl := limits[platform]
		if o.Requests > 0 && o.Window > 0 {
			pl.Default = ratelimit.Limit{Requests: o.Requests, Window: o.Window}
		}
		if len(o.Endpoints) > 0 {
			endpoints := make(map[string]ratelimit.Limit, len(pl.Endpoints)+len(o.Endpoints))
			for k, v := range pl.Endpoints {
				endpoints[k] = v
			}
			for k, v := range o.Endpoints {
				endpoints[k] = ratelimit.Limit{Requests: v.Requests, Window: v.Window}
			}
			pl.Endpoints = endpoints
		}
		limits[platform] = pl
	}
	return limits
}

// PacerConfig merges configured spacing over the defaults.
func PacerConfig(rates map[string]float64) ratelimit.PacerConfig {
	cfg := ratelimit.DefaultPacerConfig()
	for name, rps := range rates {
		if platform, err := crawler.ParsePlatform(name); err == nil {
			cfg.Rates[platform] = rps
		}
	}
	return cfg
}

func (a *App) setupGovernor() error {
	hasher := sha256.New()
	gov, err := ratelimit.NewGovernor(a.ttl, Limits(a.cfg.RateLimits),
		ratelimit.WithLogger(a.logger),
		ratelimit.WithClock(system.New()),
		ratelimit.WithAnalytics(a.store),
		ratelimit.WithFingerprint(crawler.PlatformTwitter, hasher.Fingerprint(a.cfg.Twitter.BearerToken)),
		ratelimit.WithFingerprint(crawler.PlatformReddit, hasher.Fingerprint(a.cfg.Reddit.ClientID+":"+a.cfg.Reddit.ClientSecret)),
		ratelimit.WithFingerprint(crawler.PlatformTelegram, hasher.Fingerprint(a.cfg.Telegram.BotToken)),
	)
	if err != nil {
		return fmt.Errorf("rate limit governor init failed: %w", err)
	}
	a.governor = gov
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, nil,
		gcppublisher.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub", pub.Close)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func (a *App) alertSinks(publisher crawler.Publisher) ([]crawler.AlertSink, error) {
	sinks := []crawler.AlertSink{alert.NewLog(a.logger)}
	if a.cfg.Alerts.TelegramToken != "" {
		tg, err := alert.NewTelegram(a.cfg.Alerts.TelegramToken, a.cfg.Alerts.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram alert sink init failed: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if a.cfg.PubSub.AlertTopic != "" {
		ps, err := alert.NewPubSub(publisher, a.cfg.PubSub.AlertTopic)
		if err != nil {
			return nil, fmt.Errorf("pubsub alert sink init failed: %w", err)
		}
		sinks = append(sinks, ps)
	}
	return sinks, nil
}

func (a *App) setupTracker(publisher crawler.Publisher) error {
	sinks, err := a.alertSinks(publisher)
	if err != nil {
		return err
	}
	th := errclass.Thresholds{
		ErrorRate:           a.cfg.Errors.ErrorRate,
		MinSamples:          a.cfg.Errors.MinSamples,
		ConsecutiveFailures: a.cfg.Errors.ConsecutiveFailures,
		ErrorsPerHour:       a.cfg.Errors.ErrorsPerHour,
		Cooldown:            a.cfg.Errors.Cooldown,
	}
	a.tracker, err = errclass.NewTracker(a.ttl,
		errclass.WithLogger(a.logger),
		errclass.WithClock(system.New()),
		errclass.WithThresholds(th),
		errclass.WithAlertSink(alert.NewMulti(a.logger, sinks...)),
	)
	if err != nil {
		return fmt.Errorf("error tracker init failed: %w", err)
	}
	return nil
}

func (a *App) setupAdapters() ([]crawler.Adapter, error) {
	client := httpclient.New(httpclient.Config{
		Timeout:         a.cfg.HTTPTimeout(),
		UserAgent:       a.cfg.HTTP.UserAgent,
		BreakerFailures: a.cfg.HTTP.BreakerFailures,
		BreakerTimeout:  time.Duration(a.cfg.HTTP.BreakerTimeoutSeconds) * time.Second,
	}, httpclient.WithLogger(a.logger))
	pacer := ratelimit.NewPacer(PacerConfig(a.cfg.Pacing))

	newGate := func(extra ...adapter.GateOption) (*adapter.Gate, error) {
		opts := append([]adapter.GateOption{
			adapter.WithPacer(pacer),
			adapter.WithTimeout(a.cfg.HTTPTimeout()),
			adapter.WithLogger(a.logger),
		}, extra...)
		return adapter.NewGate(client, a.governor, opts...)
	}

	twitterGate, err := newGate()
	if err != nil {
		return nil, fmt.Errorf("twitter gate: %w", err)
	}
	redditGate, err := newGate()
	if err != nil {
		return nil, fmt.Errorf("reddit gate: %w", err)
	}
	telegramGate, err := newGate(adapter.WithResponseHook(telegram.LiftRetryAfter))
	if err != nil {
		return nil, fmt.Errorf("telegram gate: %w", err)
	}

	tw := twitter.New(twitter.Config{
		BearerToken: a.cfg.Twitter.BearerToken,
		BaseURL:     a.cfg.Twitter.BaseURL,
	}, twitterGate, twitter.WithLogger(a.logger), twitter.WithNow(system.New().Now))
	rd := reddit.New(reddit.Config{
		ClientID:     a.cfg.Reddit.ClientID,
		ClientSecret: a.cfg.Reddit.ClientSecret,
		UserAgent:    a.cfg.Reddit.UserAgent,
		BaseURL:      a.cfg.Reddit.BaseURL,
		AuthURL:      a.cfg.Reddit.AuthURL,
		Subreddits:   a.cfg.Reddit.Subreddits,
	}, redditGate, reddit.WithLogger(a.logger))
	tg, err := telegram.New(telegram.Config{
		BotToken:       a.cfg.Telegram.BotToken,
		BaseURL:        a.cfg.Telegram.BaseURL,
		Channels:       a.cfg.Telegram.Channels,
		HistorySource:  a.cfg.Telegram.HistorySource,
		PreviewBaseURL: a.cfg.Telegram.PreviewBaseURL,
		RSSURLTemplate: a.cfg.Telegram.RSSURLTemplate,
		UserAgent:      a.cfg.HTTP.UserAgent,
	}, telegramGate, telegram.WithLogger(a.logger), telegram.WithStore(a.ttl))
	if err != nil {
		return nil, fmt.Errorf("telegram adapter init failed: %w", err)
	}
	return []crawler.Adapter{tw, rd, tg}, nil
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	blobs, closeFn, err := storage.NewBlobStore(ctx, storage.Config{
		Backend: a.cfg.Storage.Backend,
		Bucket:  a.cfg.Storage.Bucket,
		Prefix:  a.cfg.Storage.Prefix,
		BaseDir: a.cfg.Storage.Local.BaseDir,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("blob store init failed: %w", err)
	}
	a.onClose("blob store", closeFn)
	a.logger.Info("blob store initialized", zap.String("backend", a.cfg.Storage.Backend))
	return blobs, nil
}

func (a *App) setupOrchestrator(adapters []crawler.Adapter, publisher crawler.Publisher, blobs crawler.BlobStore) error {
	sentiment, err := keyword.NewSentimentStrategy(a.cfg.Keyword.SentimentStrategy)
	if err != nil {
		return fmt.Errorf("sentiment strategy: %w", err)
	}
	a.service, err = orchestrator.New(a.store, adapters, a.tracker, a.ttl, uuid.New(), orchestrator.Config{
		Workers:          a.cfg.Scheduler.Workers,
		MaxAttempts:      a.cfg.Scheduler.MaxAttempts,
		MinContentLength: a.cfg.Processing.MinContentLength,
		MaxContentLength: a.cfg.Processing.MaxContentLength,
		SaveRawData:      a.cfg.Processing.SaveRawData,
		ArchiveRaw:       a.cfg.Storage.ArchiveRaw,
		EventTopic:       a.cfg.PubSub.TopicName,
	},
		orchestrator.WithLogger(a.logger),
		orchestrator.WithClock(system.New()),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithBlobStore(blobs),
		orchestrator.WithSentiment(sentiment),
	)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	return nil
}

func (a *App) setupAPI() error {
	authorizer, err := authz.New(authz.Config{
		Mode:      a.cfg.Auth.Mode,
		Allowed:   a.cfg.Auth.Allowed,
		Attribute: a.cfg.Auth.Attribute,
		Roles:     a.cfg.Auth.Roles,
		Owners:    a.cfg.Auth.Owners,
	})
	if err != nil {
		return fmt.Errorf("authorizer init failed: %w", err)
	}
	keys := make(map[string]authz.Principal, len(a.cfg.Auth.Keys))
	for _, k := range a.cfg.Auth.Keys {
		keys[k.Key] = authz.Principal{ID: k.Principal, Attributes: k.Attributes}
	}

	opts := []api.Option{api.WithClock(system.New())}
	for _, r := range a.readiness() {
		opts = append(opts, api.WithReadinessCheck(r.name, r.check.Ping))
	}
	a.apiServer = api.NewServer(a.service, a.governor, a.tracker, authorizer, api.Config{
		AuthEnabled:    a.cfg.Auth.Enabled,
		Keys:           keys,
		RequestTimeout: a.cfg.RequestTimeout(),
	}, a.logger, opts...)
	return nil
}

func (a *App) readiness() []readiness {
	var out []readiness
	if p, ok := a.store.(pinger); ok {
		out = append(out, readiness{name: "store", check: p})
	}
	if p, ok := a.ttl.(pinger); ok {
		out = append(out, readiness{name: "ttl", check: p})
	}
	return out
}
