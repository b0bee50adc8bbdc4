// Package api hosts the ops HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/ratelimits, /v1/errors, /v1/trending, /v1/stats and /v1/jobs for inspection.
//   - POST /v1/crawl, /v1/search, /v1/monitor and DELETE /v1/ratelimits, which
//     are guarded by the configured authz.Authorizer.
package api
