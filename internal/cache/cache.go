package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is a time-bounded, size-bounded resolution cache. It is a cache-aside
// optimization only: callers must treat the backing store as the source of
// truth and remain correct when the cache is disabled.
type Store[V any] struct {
	lru      *expirable.LRU[string, V]
	disabled bool
}

// Options control the cache bounds.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	Disabled   bool
}

// New constructs a Store. A disabled store accepts all calls and never hits.
func New[V any](opts Options) *Store[V] {
	if opts.Disabled {
		return &Store[V]{disabled: true}
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Store[V]{
		lru: expirable.NewLRU[string, V](maxEntries, nil, opts.TTL),
	}
}

// Get returns the cached value for key and whether it was present.
func (s *Store[V]) Get(key string) (V, bool) {
	if s == nil || s.disabled {
		var zero V
		return zero, false
	}
	return s.lru.Get(key)
}

// Set stores value under key, evicting the least recently used entry when
// full.
func (s *Store[V]) Set(key string, value V) {
	if s == nil || s.disabled {
		return
	}
	s.lru.Add(key, value)
}

// Delete removes key from the cache.
func (s *Store[V]) Delete(key string) {
	if s == nil || s.disabled {
		return
	}
	s.lru.Remove(key)
}

// Len reports the number of live entries.
func (s *Store[V]) Len() int {
	if s == nil || s.disabled {
		return 0
	}
	return s.lru.Len()
}
