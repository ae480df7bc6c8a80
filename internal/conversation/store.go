package conversation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	. "github.com/roelfdiedericks/companion/internal/logging"
)

// DefaultCapacity is the number of partner histories kept when no capacity
// is configured.
const DefaultCapacity = 10

// PreambleBuilder returns the two turns every new history starts with.
type PreambleBuilder func() (preamble, ack string)

// Store maps partner keys to histories with least-recently-used eviction.
// Evicted histories are discarded, not persisted.
type Store struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, *History]
	capacity int
	locks    *keyedMutex
}

// NewStore creates an empty store. capacity <= 0 uses DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: capacity,
		locks:    newKeyedMutex(),
	}
	// Only fails for a non-positive size, which is ruled out above.
	s.cache, _ = lru.NewWithEvict[string, *History](capacity, func(key string, h *History) {
		L_debug("conversation: evicted", "partner", key, "turns", h.Len())
	})
	return s
}

// GetOrCreate returns the history for key, promoting it to most recently
// used. A new history is seeded from preamble; if the store is full the least
// recently used partner is evicted first.
func (s *Store) GetOrCreate(key string, preamble PreambleBuilder) *History {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.cache.Get(key); ok {
		return h
	}
	p, ack := preamble()
	h := newHistory(key, p, ack)
	s.cache.Add(key, h)
	L_trace("conversation: created", "partner", key, "size", s.cache.Len())
	return h
}

// Peek returns the history for key without touching the access order.
func (s *Store) Peek(key string) (*History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Peek(key)
}

// Contains reports whether key has a history, without promoting it.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Contains(key)
}

// Forget drops a single partner's history.
func (s *Store) Forget(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(key)
}

// ResetAll clears every history and the access order.
func (s *Store) ResetAll() {
	s.mu.Lock()
	n := s.cache.Len()
	s.cache.Purge()
	s.mu.Unlock()
	if n > 0 {
		L_info("conversation: all histories cleared", "count", n)
	}
}

// Keys returns partner keys from least to most recently used.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Keys()
}

// Len returns the number of stored histories.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// Capacity returns the configured maximum number of histories.
func (s *Store) Capacity() int {
	return s.capacity
}

// Lock serializes whole calls for one partner. The returned func releases
// the lock and must be called exactly once.
func (s *Store) Lock(key string) (unlock func()) {
	return s.locks.lock(key)
}
