// Package memory provides an in-process TTL key-value store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value   string
	list    []string
	expires time.Time
}

// Store implements crawler.TTLStore with a mutex-guarded map.
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithNow overrides the time source used for expiry.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns a live entry, evicting it if expired. Callers hold mu.
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// Get returns the string value of key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key for ttl.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &entry{value: value, expires: s.expiry(ttl)}
	return nil
}

// SetNX stores value only when key is absent.
func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.data[key] = &entry{value: value, expires: s.expiry(ttl)}
	return true, nil
}

// Incr atomically increments key. A new key receives ttl; existing keys keep theirs.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		s.data[key] = &entry{value: "1", expires: s.expiry(ttl)}
		return 1, nil
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("incr %s: value is not an integer", key)
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	return n, nil
}

// Delete removes keys.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// PushCapped prepends value, trims the list to maxLen and refreshes ttl.
func (s *Store) PushCapped(_ context.Context, key, value string, maxLen int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	e.list = append([]string{value}, e.list...)
	if maxLen > 0 && len(e.list) > maxLen {
		e.list = e.list[:maxLen]
	}
	e.expires = s.expiry(ttl)
	return nil
}

// Range returns up to n list entries, newest first. n <= 0 returns all.
func (s *Store) Range(_ context.Context, key string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	if n <= 0 || n > len(e.list) {
		n = len(e.list)
	}
	return append([]string(nil), e.list[:n]...), nil
}

// Keys lists live keys matching a glob pattern, sorted.
func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if _, ok := s.lookup(k); !ok {
			continue
		}
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// globMatch implements the Redis subset of glob syntax: '*' matches any run of
// characters, slashes included, and '?' matches one character.
func globMatch(pattern, s string) bool {
	px, sx := 0, 0
	star, mark := -1, 0
	for sx < len(s) {
		switch {
		case px < len(pattern) && (pattern[px] == '?' || pattern[px] == s[sx]):
			px++
			sx++
		case px < len(pattern) && pattern[px] == '*':
			star, mark = px, sx
			px++
		case star >= 0:
			mark++
			px, sx = star+1, mark
		default:
			return false
		}
	}
	for px < len(pattern) && pattern[px] == '*' {
		px++
	}
	return px == len(pattern)
}
