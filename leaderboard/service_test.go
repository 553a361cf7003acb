package leaderboard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/cache"
	"github.com/guildgym/gymbot/logger"
	"github.com/guildgym/gymbot/progress"
	"github.com/guildgym/gymbot/storage"
	"github.com/guildgym/gymbot/types"
)

func newTestService(t *testing.T, size int) (*Service, *progress.Service, types.CacheManager) {
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
	progressService := progress.NewService(ms, cm, log)
	svc := NewService(ms, cm, log, &types.LeaderboardConfig{Size: size})

	return svc, progressService, cm
}

func seedWins(t *testing.T, ps *progress.Service, guildID, userID string, wins int) {
	t.Helper()
	for i := 0; i < wins; i++ {
		_, err := ps.RecordAttempt(context.Background(), guildID, userID, true, "")
		require.NoError(t, err)
	}
}

func TestTopRanksByWins(t *testing.T) {
	svc, ps, _ := newTestService(t, 10)
	ctx := context.Background()

	seedWins(t, ps, "111", "bronze", 1)
	seedWins(t, ps, "111", "gold", 5)
	seedWins(t, ps, "111", "silver", 3)

	rows, err := svc.Top(ctx, "111")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, Row{Rank: 1, UserID: "gold", Wins: 5, Badges: 0, Streak: 5}, rows[0])
	assert.Equal(t, "silver", rows[1].UserID)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, "bronze", rows[2].UserID)
}

func TestTopTieBrokenByUserID(t *testing.T) {
	svc, ps, _ := newTestService(t, 10)

	seedWins(t, ps, "111", "zeta", 2)
	seedWins(t, ps, "111", "alpha", 2)

	rows, err := svc.Top(context.Background(), "111")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Equal wins and badges: deterministic order by user id.
	assert.Equal(t, "alpha", rows[0].UserID)
	assert.Equal(t, "zeta", rows[1].UserID)
}

func TestTopTruncatesToSize(t *testing.T) {
	svc, ps, _ := newTestService(t, 2)

	seedWins(t, ps, "111", "a", 1)
	seedWins(t, ps, "111", "b", 2)
	seedWins(t, ps, "111", "c", 3)

	rows, err := svc.Top(context.Background(), "111")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].UserID)
	assert.Equal(t, "b", rows[1].UserID)
}

func TestTopUsesCachedPage(t *testing.T) {
	svc, ps, cm := newTestService(t, 10)
	ctx := context.Background()

	seedWins(t, ps, "111", "a", 1)

	rows, err := svc.Top(ctx, "111")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	cached, ok := cm.LeaderboardPage("111", TopPage)
	require.True(t, ok)
	assert.Equal(t, rows, cached)

	// A progress write drops the page; the next Top rebuilds it.
	seedWins(t, ps, "111", "b", 2)

	_, ok = cm.LeaderboardPage("111", TopPage)
	require.False(t, ok)

	rows, err = svc.Top(ctx, "111")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].UserID)
}

func TestTopEmptyGuild(t *testing.T) {
	svc, _, _ := newTestService(t, 10)

	rows, err := svc.Top(context.Background(), "empty")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRecomputeAllWarmsEveryGuild(t *testing.T) {
	svc, ps, cm := newTestService(t, 10)
	ctx := context.Background()

	seedWins(t, ps, "111", "a", 1)
	seedWins(t, ps, "222", "b", 2)

	require.NoError(t, svc.RecomputeAll(ctx))

	_, ok := cm.LeaderboardPage("111", TopPage)
	assert.True(t, ok)
	_, ok = cm.LeaderboardPage("222", TopPage)
	assert.True(t, ok)
}
