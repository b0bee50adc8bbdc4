package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
)

var _ crawler.Clock = (*Clock)(nil)

func TestNowIsUTC(t *testing.T) {
	before := time.Now().Add(-time.Second)
	got := New().Now()
	after := time.Now().Add(time.Second)

	require.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(before) && got.Before(after), "now %v outside [%v, %v]", got, before, after)
}

func TestNowAdvances(t *testing.T) {
	c := New()
	first := c.Now()
	second := c.Now()
	assert.False(t, second.Before(first))
}
