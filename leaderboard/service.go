package leaderboard

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/progress"
	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// TopPage is the page key the standings live under in the leaderboard
// cache namespace. Progress writes delete it, so a recompute is at most
// one read away.
const TopPage = "top"

// Row is one leaderboard line.
type Row struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Wins   int    `json:"wins"`
	Badges int    `json:"badges"`
	Streak int    `json:"streak"`
}

// Service ranks a guild's users by wins. Standings are expensive to
// build, so they live in the leaderboard cache namespace with its short
// TTL and are recomputed on a schedule.
type Service struct {
	storage types.StorageManager
	cache   types.CacheManager
	logger  types.Logger
	size    int
}

func NewService(storage types.StorageManager, cacheManager types.CacheManager, logger types.Logger, config *types.LeaderboardConfig) *Service {
	size := 10
	if config != nil && config.Size > 0 {
		size = config.Size
	}

	return &Service{
		storage: storage,
		cache:   cacheManager,
		logger:  logger,
		size:    size,
	}
}

// Top returns the guild's standings, from cache when fresh.
func (s *Service) Top(ctx context.Context, guildID string) ([]Row, error) {
	if cached, ok := s.cache.LeaderboardPage(guildID, TopPage); ok {
		if rows, ok := cached.([]Row); ok {
			return rows, nil
		}
	}

	return s.rebuild(ctx, guildID)
}

// rebuild ranks the guild from storage and refreshes the cached page.
func (s *Service) rebuild(ctx context.Context, guildID string) ([]Row, error) {
	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionProgress,
		Filter:     map[string]interface{}{"guild_id": guildID},
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to read progress records")
	}

	records := make([]*progress.Progress, 0, len(docs))
	for _, doc := range docs {
		var p progress.Progress
		if err := utils.FromDocument(doc, &p); err != nil {
			continue
		}
		records = append(records, &p)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Wins != records[j].Wins {
			return records[i].Wins > records[j].Wins
		}
		if len(records[i].Badges) != len(records[j].Badges) {
			return len(records[i].Badges) > len(records[j].Badges)
		}
		return records[i].UserID < records[j].UserID
	})

	if len(records) > s.size {
		records = records[:s.size]
	}

	rows := make([]Row, 0, len(records))
	for i, p := range records {
		rows = append(rows, Row{
			Rank:   i + 1,
			UserID: p.UserID,
			Wins:   p.Wins,
			Badges: len(p.Badges),
			Streak: p.Streak,
		})
	}

	if err := s.cache.SetLeaderboardPage(guildID, TopPage, rows, 0); err != nil {
		s.logger.Warn("Failed to cache leaderboard", zap.Error(err))
	}

	return rows, nil
}

// RecomputeAll rebuilds the standings of every guild that has progress
// records. Runs on the cron schedule so pages are warm before anyone
// asks.
func (s *Service) RecomputeAll(ctx context.Context) error {
	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionProgress,
	})
	if err != nil {
		return types.WrapError(err, "failed to scan progress records")
	}

	guilds := make(map[string]struct{})
	for _, doc := range docs {
		if guildID, ok := doc["guild_id"].(string); ok && guildID != "" {
			guilds[guildID] = struct{}{}
		}
	}

	for guildID := range guilds {
		if _, err := s.rebuild(ctx, guildID); err != nil {
			s.logger.Error("Failed to recompute leaderboard",
				zap.String("guild_id", guildID),
				zap.Error(err))
		}
	}

	s.logger.Debug("Leaderboards recomputed", zap.Int("guilds", len(guilds)))
	return nil
}

// Register schedules the periodic recompute.
func (s *Service) Register(ctx context.Context, cronManager types.CronManager, config *types.LeaderboardConfig) error {
	if config == nil || config.RecomputeSpec == "" {
		return nil
	}

	jobID := config.RecomputeJobID
	if jobID == "" {
		jobID = "leaderboard_recompute"
	}

	return cronManager.Add(jobID, config.RecomputeSpec, func() {
		if err := s.RecomputeAll(ctx); err != nil {
			s.logger.Error("Scheduled leaderboard recompute failed", zap.Error(err))
		}
	})
}
