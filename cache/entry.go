package cache

import (
	"time"
)

// Clock supplies the current time. Injectable so TTL behavior is
// deterministic under test.
type Clock func() time.Time

// Entry is a single cached value together with its bookkeeping. The LRU
// list links live on the entry itself so one allocation covers both the
// value slot and its position in recency order.
type Entry struct {
	key          string
	value        interface{}
	createdAt    time.Time
	ttl          time.Duration
	hits         uint64
	lastAccessed time.Time

	prev *Entry
	next *Entry
}

func newEntry(key string, value interface{}, ttl time.Duration, now time.Time) *Entry {
	return &Entry{
		key:          key,
		value:        value,
		createdAt:    now,
		ttl:          ttl,
		lastAccessed: now,
	}
}

// Expired reports whether the entry's TTL has elapsed at now. A zero TTL
// means the entry never expires by time. Pure: never mutates the entry.
func (e *Entry) Expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

// Access returns the value and records the read. The caller must already
// have ruled out expiry; Access does not check it.
func (e *Entry) Access(now time.Time) interface{} {
	e.hits++
	e.lastAccessed = now
	return e.value
}

func (e *Entry) Key() string { return e.key }

func (e *Entry) Hits() uint64 { return e.hits }

func (e *Entry) CreatedAt() time.Time { return e.createdAt }

func (e *Entry) LastAccessed() time.Time { return e.lastAccessed }

func (e *Entry) TTL() time.Duration { return e.ttl }
