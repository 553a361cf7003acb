package cache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/guildgym/gymbot/types"
)

// Store is one namespace's fixed-capacity, TTL-aware key/value store with
// LRU eviction. All operations take the store's own mutex for their full
// duration, so distinct namespaces never contend with each other.
//
// Recency is tracked by an intrusive doubly-linked list threaded through
// the entries: head is the most recently used key, tail the least. Both
// move-to-front and pop-oldest are O(1).
type Store struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	head       *Entry
	tail       *Entry
	maxSize    int
	defaultTTL time.Duration
	clock      Clock

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

// NewStore builds a namespace store. A maxSize <= 0 means unbounded; a
// defaultTTL of zero means entries without an explicit TTL never expire.
// A nil clock falls back to time.Now.
func NewStore(maxSize int, defaultTTL time.Duration, clock Clock) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		entries:    make(map[string]*Entry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		clock:      clock,
	}
}

// Get returns the live value for key. Expired entries are removed and
// reported as a miss plus an expiration; a hit moves the key to the
// most-recently-used position.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		s.misses++
		return nil, false
	}

	now := s.clock()
	if entry.Expired(now) {
		s.removeLocked(entry)
		s.expirations++
		s.misses++
		return nil, false
	}

	s.moveToFrontLocked(entry)
	s.hits++
	return entry.Access(now), true
}

// Set inserts or replaces key. Replacing removes the old entry first so
// the new one gets fresh timestamps and the most-recent position. Room is
// always made before insert, so the capacity bound holds after every call.
func (s *Store) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, exists := s.entries[key]; exists {
		s.removeLocked(old)
	}

	if s.maxSize > 0 {
		for len(s.entries) >= s.maxSize {
			s.evictOldestLocked()
		}
	}

	entry := newEntry(key, value, ttl, s.clock())
	s.entries[key] = entry
	s.pushFrontLocked(entry)
	return nil
}

func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return false
	}

	s.removeLocked(entry)
	return true
}

// Clear drops every entry. Cumulative counters are kept; they only reset
// with the process.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*Entry)
	s.head = nil
	s.tail = nil
}

// Exists is a peek, not an access: it does not touch the hit/miss counters
// and does not update recency. An expired entry is removed and counted as
// an expiration only.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[key]
	if !exists {
		return false
	}

	if entry.Expired(s.clock()) {
		s.removeLocked(entry)
		s.expirations++
		return false
	}

	return true
}

// GetMany is equivalent to sequential Get calls; absent keys are omitted
// from the result. Not atomic across keys.
func (s *Store) GetMany(keys []string) map[string]interface{} {
	result := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		if value, ok := s.Get(key); ok {
			result[key] = value
		}
	}
	return result
}

func (s *Store) SetMany(items map[string]interface{}, ttl time.Duration) error {
	for key, value := range items {
		if err := s.Set(key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// CleanupExpired removes every expired entry and returns how many were
// dropped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	var expired []*Entry
	for _, entry := range s.entries {
		if entry.Expired(now) {
			expired = append(expired, entry)
		}
	}

	for _, entry := range expired {
		s.removeLocked(entry)
		s.expirations++
	}

	return len(expired)
}

// DeleteByPrefix removes every key that starts with prefix and returns the
// count. A full scan under the store lock; invalidation is rare relative
// to reads, so correctness wins over speed here.
func (s *Store) DeleteByPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*Entry
	for key, entry := range s.entries {
		if strings.HasPrefix(key, prefix) {
			matched = append(matched, entry)
		}
	}

	for _, entry := range matched {
		s.removeLocked(entry)
	}

	return len(matched)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

func (s *Store) Stats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	hitRate := "0%"
	if total := s.hits + s.misses; total > 0 {
		hitRate = fmt.Sprintf("%.2f%%", float64(s.hits)/float64(total)*100)
	}

	return types.CacheStats{
		Size:        len(s.entries),
		MaxSize:     s.maxSize,
		Hits:        s.hits,
		Misses:      s.misses,
		HitRate:     hitRate,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		DefaultTTL:  s.defaultTTL,
	}
}

func (s *Store) evictOldestLocked() {
	if s.tail == nil {
		return
	}
	s.removeLocked(s.tail)
	s.evictions++
}

func (s *Store) removeLocked(entry *Entry) {
	delete(s.entries, entry.key)
	s.unlinkLocked(entry)
}

func (s *Store) pushFrontLocked(entry *Entry) {
	entry.prev = nil
	entry.next = s.head
	if s.head != nil {
		s.head.prev = entry
	}
	s.head = entry
	if s.tail == nil {
		s.tail = entry
	}
}

func (s *Store) unlinkLocked(entry *Entry) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		s.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		s.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

func (s *Store) moveToFrontLocked(entry *Entry) {
	if s.head == entry {
		return
	}
	s.unlinkLocked(entry)
	s.pushFrontLocked(entry)
}
