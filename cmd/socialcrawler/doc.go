// Package main hosts the socialcrawler entrypoint.
//
// Architecture overview:
//   - Scheduler: a gocron tick runs orchestrator.Service.RunScheduled, which crawls every due
//     crawler_configs row through a bounded worker pool. A platform is never crawled twice at once.
//   - Adapters: Twitter, Reddit and Telegram adapters normalize provider payloads into crawler.RawPost.
//     Every provider call goes through adapter.Gate, which paces, admits against the Redis-backed
//     rate-limit governor and classifies non-2xx responses.
//   - Processing: posts are bounded by length, upserted, matched against keyword rules, scored for
//     sentiment and relevance and stored with their matches. Failures are recorded by the error
//     classifier, which drives retry backoff and threshold alerts.
//   - Fanout: finished jobs are published to Pub/Sub and raw batches can be archived to a blob store.
//   - Ops API: chi routes expose rate-limit state, error history, trends, statistics and manual
//     crawl, search and monitor triggers behind API-key authentication.
//
// Quick checklist:
//   - Configure env vars with the SOCIAL_CRAWLER_ prefix, e.g. SOCIAL_CRAWLER_DB_DSN,
//     SOCIAL_CRAWLER_TTL_REDIS_ADDR, SOCIAL_CRAWLER_TWITTER_BEARER_TOKEN.
//   - Apply the schema: socialcrawler migrate up --config config.yaml
//   - Run the service: socialcrawler serve --config config.yaml
//   - One-shot crawl: socialcrawler crawl reddit telegram
package main
