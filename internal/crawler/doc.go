// Package crawler defines the shared vocabulary of the social crawler: platforms,
// keyword rules, posts, crawl jobs, the provider error taxonomy and the
// collaborator interfaces the adapters, stores and orchestrator implement.
package crawler
