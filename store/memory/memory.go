// Package memory provides an in-process store.Store.
//
// State is per instance and lost on restart. Expired keys are dropped lazily: on read, and in a
// sweep that runs whenever the number of keys exceeds MaxEntries.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/btcfi/gateway/store"
)

// DefaultMaxEntries is the key count above which a write triggers an expiry sweep.
const DefaultMaxEntries = 10000

type entry struct {
	value   string
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is a mutex-guarded map with per-key expiry.
type Store struct {
	// MaxEntries bounds the table before a sweep. Zero means DefaultMaxEntries.
	MaxEntries int

	// Now returns the current time. Tests replace it to move the clock.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]entry
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		MaxEntries: DefaultMaxEntries,
		Now:        time.Now,
		entries:    make(map[string]entry),
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// lookup returns a live entry. Caller holds mu.
func (s *Store) lookup(key string, now time.Time) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(now) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

// put writes an entry and sweeps when over the bound. Caller holds mu.
func (s *Store) put(key string, e entry, now time.Time) {
	if s.entries == nil {
		s.entries = make(map[string]entry)
	}
	s.entries[key] = e

	limit := s.MaxEntries
	if limit <= 0 {
		limit = DefaultMaxEntries
	}
	if len(s.entries) > limit {
		for k, v := range s.entries {
			if v.expired(now) {
				delete(s.entries, k)
			}
		}
	}
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Incr increments key, creating it with ttl when absent or expired.
func (s *Store) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.lookup(key, now)
	if !ok {
		s.put(key, entry{value: "1", expires: expiry(now, ttl)}, now)
		return 1, nil
	}

	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	s.entries[key] = e
	return n, nil
}

// Get returns the live value of key.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key, s.now())
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// Set stores value under key.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.put(key, entry{value: value, expires: expiry(now, ttl)}, now)
	return nil
}

// SetNX stores value only when key is absent or expired.
func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.put(key, entry{value: value, expires: expiry(now, ttl)}, now)
	return true, nil
}

// Expire resets the ttl of a live key.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.lookup(key, now)
	if !ok {
		return nil
	}
	e.expires = expiry(now, ttl)
	s.entries[key] = e
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored keys, including expired keys not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
