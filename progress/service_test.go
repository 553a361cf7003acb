package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/cache"
	"github.com/guildgym/gymbot/logger"
	"github.com/guildgym/gymbot/storage"
	"github.com/guildgym/gymbot/types"
)

func newTestService(t *testing.T) (*Service, types.CacheManager) {
	t.Helper()

	log := logger.NewZapWrapper(zap.NewNop())

	ms, err := storage.NewMemoryStorage(context.Background(), log, &types.StorageConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	require.NoError(t, ms.Start())
	t.Cleanup(func() { _ = ms.Stop() })

	cm := cache.NewManager(context.Background(), &types.CacheConfig{Enabled: true}, log, nil)

	return NewService(ms, cm, log), cm
}

func TestGetZeroRecord(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.Get(context.Background(), "111", "user-a")
	require.NoError(t, err)

	assert.Equal(t, "111", p.GuildID)
	assert.Equal(t, "user-a", p.UserID)
	assert.Empty(t, p.Badges)
	assert.Zero(t, p.Wins)
	assert.Zero(t, p.Attempts)
}

func TestRecordAttemptWin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.RecordAttempt(ctx, "111", "user-a", true, "water badge")
	require.NoError(t, err)

	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, 1, p.Attempts)
	assert.Equal(t, 1, p.Streak)
	assert.Equal(t, []string{"water badge"}, p.Badges)

	// Reading back goes through storage and agrees.
	got, err := svc.Get(ctx, "111", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Wins)
	assert.Equal(t, []string{"water badge"}, got.Badges)
}

func TestRecordAttemptLossResetsStreak(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.RecordAttempt(ctx, "111", "user-a", true, "")
		require.NoError(t, err)
	}

	p, err := svc.RecordAttempt(ctx, "111", "user-a", false, "")
	require.NoError(t, err)

	assert.Equal(t, 3, p.Wins)
	assert.Equal(t, 4, p.Attempts)
	assert.Zero(t, p.Streak)
}

func TestBadgeAwardedOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordAttempt(ctx, "111", "user-a", true, "water badge")
	require.NoError(t, err)

	p, err := svc.RecordAttempt(ctx, "111", "user-a", true, "water badge")
	require.NoError(t, err)

	assert.Equal(t, 2, p.Wins)
	assert.Equal(t, []string{"water badge"}, p.Badges)
}

func TestRecordAttemptInvalidatesCaches(t *testing.T) {
	svc, cm := newTestService(t)
	ctx := context.Background()

	// Warm both caches that a progress write makes stale.
	_, err := svc.Get(ctx, "111", "user-a")
	require.NoError(t, err)
	require.NoError(t, cm.SetLeaderboardPage("111", "top", "stale-board", 0))

	_, ok := cm.UserProgress("111", "user-a")
	require.True(t, ok)

	_, err = svc.RecordAttempt(ctx, "111", "user-a", true, "")
	require.NoError(t, err)

	_, ok = cm.UserProgress("111", "user-a")
	assert.False(t, ok)
	_, ok = cm.LeaderboardPage("111", "top")
	assert.False(t, ok)
}

func TestProgressScopedByGuild(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordAttempt(ctx, "111", "user-a", true, "")
	require.NoError(t, err)

	p, err := svc.Get(ctx, "222", "user-a")
	require.NoError(t, err)
	assert.Zero(t, p.Wins)
}

func TestReset(t *testing.T) {
	svc, cm := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordAttempt(ctx, "111", "user-a", true, "water badge")
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx, "111", "user-a"))

	_, ok := cm.UserProgress("111", "user-a")
	assert.False(t, ok)

	p, err := svc.Get(ctx, "111", "user-a")
	require.NoError(t, err)
	assert.Zero(t, p.Wins)
	assert.Empty(t, p.Badges)
}
