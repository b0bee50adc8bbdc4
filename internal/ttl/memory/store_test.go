package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeNow) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeNow) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Unix(1700000000, 0)}
	s := New(WithNow(clock.Now))
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreIncrKeepsFirstTTL(t *testing.T) {
	t.Parallel()

	clock := &fakeNow{t: time.Unix(1700000000, 0)}
	s := New(WithNow(clock.Now))
	ctx := context.Background()

	n, err := s.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	clock.Advance(50 * time.Second)
	n, err = s.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	clock.Advance(10 * time.Second)
	n, err = s.Incr(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "window should have expired")
}

func TestStoreIncrConcurrent(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Incr(ctx, "c", time.Minute)
		}()
	}
	wg.Wait()
	v, _, err := s.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "50", v)
}

func TestStoreSetNX(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ok, err := s.SetNX(ctx, "k", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SetNX(ctx, "k", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	v, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "first", v)
}

func TestStorePushCappedAndRange(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for _, v := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.PushCapped(ctx, "l", v, 3, time.Hour))
	}
	all, err := s.Range(ctx, "l", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b"}, all)

	two, err := s.Range(ctx, "l", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, two)
}

func TestStoreKeysAndDelete(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "rate_limit:reddit:search:count", "1", time.Hour))
	require.NoError(t, s.Set(ctx, "rate_limit:reddit:search:reset", "1", time.Hour))
	require.NoError(t, s.Set(ctx, "rate_limit:twitter:search:count", "1", time.Hour))

	keys, err := s.Keys(ctx, "rate_limit:reddit:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"rate_limit:reddit:search:count", "rate_limit:reddit:search:reset"}, keys)

	require.NoError(t, s.Delete(ctx, keys...))
	keys, err = s.Keys(ctx, "rate_limit:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"rate_limit:twitter:search:count"}, keys)
}

func TestStoreKeysMatchesAcrossSlashes(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "rate_limit:twitter:users/*/tweets:count", "3", time.Hour))
	require.NoError(t, s.Set(ctx, "rate_limit:twitter:users/*/tweets:reset", "1", time.Hour))

	keys, err := s.Keys(ctx, "rate_limit:twitter:*:count")
	require.NoError(t, err)
	assert.Equal(t, []string{"rate_limit:twitter:users/*/tweets:count"}, keys)

	assert.True(t, globMatch("a?c", "abc"))
	assert.False(t, globMatch("a?c", "ac"))
}
