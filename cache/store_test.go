package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgym/gymbot/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestStoreSetGet(t *testing.T) {
	store := NewStore(10, 0, nil)

	require.NoError(t, store.Set("a", 1, 0))

	value, ok := store.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, value)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestStoreEmptyKey(t *testing.T) {
	store := NewStore(10, 0, nil)
	assert.ErrorIs(t, store.Set("", 1, 0), types.ErrCacheKeyEmpty)
}

func TestStoreLRUEviction(t *testing.T) {
	store := NewStore(2, 0, nil)

	require.NoError(t, store.Set("a", 1, 0))
	require.NoError(t, store.Set("b", 2, 0))

	// Touch a so b becomes the oldest.
	_, ok := store.Get("a")
	require.True(t, ok)

	require.NoError(t, store.Set("c", 3, 0))

	_, ok = store.Get("b")
	assert.False(t, ok, "least recently used key should have been evicted")

	_, ok = store.Get("a")
	assert.True(t, ok)
	_, ok = store.Get("c")
	assert.True(t, ok)

	assert.Equal(t, 2, store.Len())
	assert.Equal(t, uint64(1), store.Stats().Evictions)
}

func TestStoreCapacityNeverExceeded(t *testing.T) {
	store := NewStore(3, 0, nil)

	for i := 0; i < 20; i++ {
		require.NoError(t, store.Set(fmt.Sprintf("key-%d", i), i, 0))
		assert.LessOrEqual(t, store.Len(), 3)
	}

	assert.Equal(t, uint64(17), store.Stats().Evictions)
}

func TestStoreUnboundedWhenMaxSizeZero(t *testing.T) {
	store := NewStore(0, 0, nil)

	for i := 0; i < 500; i++ {
		require.NoError(t, store.Set(fmt.Sprintf("key-%d", i), i, 0))
	}

	assert.Equal(t, 500, store.Len())
	assert.Equal(t, uint64(0), store.Stats().Evictions)
}

func TestStoreTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10, 0, clock.Now)

	require.NoError(t, store.Set("a", 1, time.Minute))

	value, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, value)

	clock.Advance(time.Minute + time.Second)

	_, ok = store.Get("a")
	assert.False(t, ok)

	stats := store.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Expirations)
	assert.Equal(t, 0, stats.Size)
}

func TestStoreDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10, 5*time.Minute, clock.Now)

	// ttl <= 0 picks up the store default.
	require.NoError(t, store.Set("a", 1, 0))

	clock.Advance(4 * time.Minute)
	_, ok := store.Get("a")
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = store.Get("a")
	assert.False(t, ok)
}

func TestStoreExplicitTTLOverridesDefault(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10, time.Minute, clock.Now)

	require.NoError(t, store.Set("long", 1, time.Hour))

	clock.Advance(30 * time.Minute)
	_, ok := store.Get("long")
	assert.True(t, ok)
}

func TestStoreResetRefreshesEntry(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(2, 0, clock.Now)

	require.NoError(t, store.Set("a", 1, time.Minute))
	require.NoError(t, store.Set("b", 2, 0))

	clock.Advance(50 * time.Second)

	// Re-setting a gives it fresh timestamps and the most recent slot.
	require.NoError(t, store.Set("a", 10, time.Minute))

	clock.Advance(30 * time.Second)

	value, ok := store.Get("a")
	require.True(t, ok, "replaced entry should use its new creation time")
	assert.Equal(t, 10, value)

	// b is now the oldest; inserting c evicts it.
	require.NoError(t, store.Set("c", 3, 0))
	_, ok = store.Get("b")
	assert.False(t, ok)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := NewStore(10, 0, nil)

	require.NoError(t, store.Set("a", 1, 0))

	assert.True(t, store.Delete("a"))
	assert.False(t, store.Delete("a"))
	assert.False(t, store.Delete("never-existed"))
}

func TestStoreExistsIsAPeek(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(2, 0, clock.Now)

	require.NoError(t, store.Set("a", 1, time.Minute))
	require.NoError(t, store.Set("b", 2, 0))

	assert.True(t, store.Exists("a"))
	assert.False(t, store.Exists("missing"))

	// Exists must not touch hit/miss counters.
	stats := store.Stats()
	assert.Equal(t, uint64(0), stats.Hits)
	assert.Equal(t, uint64(0), stats.Misses)

	// Nor recency: a stays oldest and gets evicted first.
	require.NoError(t, store.Set("c", 3, 0))
	_, ok := store.Get("a")
	assert.False(t, ok)

	// Peeking an expired entry removes it and counts the expiration.
	require.NoError(t, store.Set("d", 4, time.Second))
	clock.Advance(2 * time.Second)
	assert.False(t, store.Exists("d"))
	assert.Equal(t, uint64(1), store.Stats().Expirations)
}

func TestStoreClearKeepsCounters(t *testing.T) {
	store := NewStore(10, 0, nil)

	require.NoError(t, store.Set("a", 1, 0))
	_, _ = store.Get("a")
	_, _ = store.Get("missing")

	store.Clear()

	stats := store.Stats()
	assert.Equal(t, 0, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)

	// Store stays usable after Clear.
	require.NoError(t, store.Set("b", 2, 0))
	value, ok := store.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 2, value)
}

func TestStoreHitRate(t *testing.T) {
	store := NewStore(10, 0, nil)

	assert.Equal(t, "0%", store.Stats().HitRate)

	require.NoError(t, store.Set("a", 1, 0))
	for i := 0; i < 3; i++ {
		_, ok := store.Get("a")
		require.True(t, ok)
	}
	_, _ = store.Get("missing")

	assert.Equal(t, "75.00%", store.Stats().HitRate)
}

func TestStoreGetManySetMany(t *testing.T) {
	store := NewStore(10, 0, nil)

	require.NoError(t, store.SetMany(map[string]interface{}{
		"a": 1,
		"b": 2,
	}, 0))

	result := store.GetMany([]string{"a", "b", "missing"})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, result)
}

func TestStoreCleanupExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10, 0, clock.Now)

	require.NoError(t, store.Set("short-1", 1, time.Second))
	require.NoError(t, store.Set("short-2", 2, time.Second))
	require.NoError(t, store.Set("forever", 3, 0))

	clock.Advance(2 * time.Second)

	removed := store.CleanupExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, uint64(2), store.Stats().Expirations)

	assert.Equal(t, 0, store.CleanupExpired())
}

func TestStoreDeleteByPrefix(t *testing.T) {
	store := NewStore(0, 0, nil)

	require.NoError(t, store.Set("g:111:a", 1, 0))
	require.NoError(t, store.Set("g:111:b", 2, 0))
	require.NoError(t, store.Set("g:222:a", 3, 0))

	removed := store.DeleteByPrefix("g:111:")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	_, ok := store.Get("g:222:a")
	assert.True(t, ok)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore(100, 0, nil)

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%50)
				switch i % 3 {
				case 0:
					_ = store.Set(key, worker, 0)
				case 1:
					_, _ = store.Get(key)
				case 2:
					store.Delete(key)
				}
			}
		}(worker)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 100)
}
