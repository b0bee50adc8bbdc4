// Package adaptertest builds gates backed by in-memory stores for adapter tests.
package adaptertest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/adapter"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
	"github.com/JakeFAU/realtime-social-crawler/internal/ratelimit"
	ttlmemory "github.com/JakeFAU/realtime-social-crawler/internal/ttl/memory"
)

// Env bundles the pieces behind a test gate.
type Env struct {
	Gate     *adapter.Gate
	Governor *ratelimit.Governor
	Store    *ttlmemory.Store
}

// NewGate returns a gate with default limits, no pacing and a fresh memory TTL store.
func NewGate(t *testing.T, opts ...adapter.GateOption) Env {
	t.Helper()
	store := ttlmemory.New()
	gov, err := ratelimit.NewGovernor(store, nil)
	require.NoError(t, err)
	gate, err := adapter.NewGate(httpclient.New(httpclient.Config{UserAgent: "crawler-test"}), gov, opts...)
	require.NoError(t, err)
	t.Cleanup(gov.Wait)
	return Env{Gate: gate, Governor: gov, Store: store}
}
