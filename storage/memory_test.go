package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildgym/gymbot/types"
)

func newTestStorage(t *testing.T) types.StorageManager {
	t.Helper()

	ms, err := NewMemoryStorage(context.Background(), nil, &types.StorageConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	require.NoError(t, ms.Start())
	t.Cleanup(func() { _ = ms.Stop() })

	return ms
}

func TestMemoryCreateAndRead(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	ids, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "gyms",
		Data: []interface{}{
			map[string]interface{}{"guild_id": "111", "name": "water"},
			map[string]interface{}{"guild_id": "111", "name": "fire"},
			map[string]interface{}{"guild_id": "222", "name": "water"},
		},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	docs, total, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "gyms",
		Filter:     map[string]interface{}{"guild_id": "111"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, docs, 2)

	for _, doc := range docs {
		assert.NotEmpty(t, doc["internal_id"])
		assert.NotZero(t, doc["cr_time"])
		assert.Equal(t, doc["cr_time"], doc["ch_time"])
	}
}

func TestMemoryReadByInternalID(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	ids, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "gyms",
		Data:       []interface{}{map[string]interface{}{"name": "water"}},
	})
	require.NoError(t, err)

	docs, _, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "gyms",
		Filter:     map[string]interface{}{"internal_id": ids[0]},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "water", docs[0]["name"])
}

func TestMemoryFilterOperators(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "progress",
		Data: []interface{}{
			map[string]interface{}{"user_id": "a", "wins": 1},
			map[string]interface{}{"user_id": "b", "wins": 5},
			map[string]interface{}{"user_id": "c", "wins": 10},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter map[string]interface{}
		want   int
	}{
		{"gt", map[string]interface{}{"wins": map[string]interface{}{"$gt": 1}}, 2},
		{"gte", map[string]interface{}{"wins": map[string]interface{}{"$gte": 5}}, 2},
		{"lt", map[string]interface{}{"wins": map[string]interface{}{"$lt": 5}}, 1},
		{"lte", map[string]interface{}{"wins": map[string]interface{}{"$lte": 5}}, 2},
		{"ne", map[string]interface{}{"user_id": map[string]interface{}{"$ne": "a"}}, 2},
		{"eq", map[string]interface{}{"wins": map[string]interface{}{"$eq": 5}}, 1},
		{"in", map[string]interface{}{"user_id": map[string]interface{}{"$in": []interface{}{"a", "c"}}}, 2},
		{"numeric widening", map[string]interface{}{"wins": float64(5)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, _, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
				Collection: "progress",
				Filter:     tt.filter,
			})
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}
}

func TestMemorySortSkipLimit(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "gyms",
		Data: []interface{}{
			map[string]interface{}{"name": "charlie"},
			map[string]interface{}{"name": "alpha"},
			map[string]interface{}{"name": "bravo"},
		},
	})
	require.NoError(t, err)

	docs, total, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "gyms",
		Sort:       map[string]int{"name": 1},
		Skip:       1,
		Limit:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, docs, 1)
	assert.Equal(t, "bravo", docs[0]["name"])

	docs, _, err = ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "gyms",
		Sort:       map[string]int{"name": -1},
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "charlie", docs[0]["name"])
}

func TestMemoryUpdateSetAndInc(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "progress",
		Data:       []interface{}{map[string]interface{}{"user_id": "a", "wins": 1, "note": "x"}},
	})
	require.NoError(t, err)

	updated, err := ms.UpdateDocuments(ctx, types.UpdateDocumentsRequest{
		Collection: "progress",
		Filter:     map[string]interface{}{"user_id": "a"},
		Data: map[string]interface{}{
			"$set":   map[string]interface{}{"streak": 3},
			"$inc":   map[string]interface{}{"wins": 1},
			"$unset": map[string]interface{}{"note": ""},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	docs, _, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "progress",
		Filter:     map[string]interface{}{"user_id": "a"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	assert.Equal(t, float64(2), docs[0]["wins"])
	assert.Equal(t, 3, docs[0]["streak"])
	assert.NotContains(t, docs[0], "note")
}

func TestMemoryUpsert(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	// No match, no upsert: nothing happens.
	updated, err := ms.UpdateDocuments(ctx, types.UpdateDocumentsRequest{
		Collection: "progress",
		Filter:     map[string]interface{}{"user_id": "ghost"},
		Data:       map[string]interface{}{"$set": map[string]interface{}{"wins": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), updated)

	// No match with upsert: document is created.
	updated, err = ms.UpdateDocuments(ctx, types.UpdateDocumentsRequest{
		Collection: "progress",
		Filter:     map[string]interface{}{"user_id": "ghost"},
		Data:       map[string]interface{}{"$set": map[string]interface{}{"user_id": "ghost", "wins": 1}},
		Upsert:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated)

	docs, _, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: "progress",
		Filter:     map[string]interface{}{"user_id": "ghost"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotEmpty(t, docs[0]["internal_id"])
}

func TestMemoryDelete(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "moderation",
		Data: []interface{}{
			map[string]interface{}{"guild_id": "111", "list": "ban"},
			map[string]interface{}{"guild_id": "111", "list": "watch"},
			map[string]interface{}{"guild_id": "222", "list": "ban"},
		},
	})
	require.NoError(t, err)

	deleted, err := ms.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
		Collection: "moderation",
		Filter:     map[string]interface{}{"guild_id": "111"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, total, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{Collection: "moderation"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestMemoryCountSince(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Millisecond)

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "submissions",
		Data: []interface{}{
			map[string]interface{}{"guild_id": "111", "user_id": "a"},
			map[string]interface{}{"guild_id": "111", "user_id": "a"},
			map[string]interface{}{"guild_id": "111", "user_id": "b"},
		},
	})
	require.NoError(t, err)

	count, err := ms.CountSince(ctx, "submissions",
		map[string]interface{}{"guild_id": "111", "user_id": "a"}, before)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// A cutoff in the future counts nothing.
	count, err = ms.CountSince(ctx, "submissions",
		map[string]interface{}{"guild_id": "111", "user_id": "a"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// Unknown collection counts nothing.
	count, err = ms.CountSince(ctx, "nope", nil, before)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemoryReadCopiesDocuments(t *testing.T) {
	ms := newTestStorage(t)
	ctx := context.Background()

	_, err := ms.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: "gyms",
		Data:       []interface{}{map[string]interface{}{"name": "water"}},
	})
	require.NoError(t, err)

	docs, _, err := ms.ReadDocuments(ctx, types.ReadDocumentsRequest{Collection: "gyms"})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	// Mutating the returned document must not leak into the store.
	docs[0]["name"] = "tampered"

	docs, _, err = ms.ReadDocuments(ctx, types.ReadDocumentsRequest{Collection: "gyms"})
	require.NoError(t, err)
	assert.Equal(t, "water", docs[0]["name"])
}

func TestMemoryCollectionLifecycle(t *testing.T) {
	ms := newTestStorage(t)

	require.NoError(t, ms.CreateCollection("fresh"))
	assert.ErrorIs(t, ms.CreateCollection("fresh"), types.ErrStorageCollectionExists)
	require.NoError(t, ms.DropCollection("fresh"))
	require.NoError(t, ms.CreateCollection("fresh"))
}
