package progress

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// Progress is one user's record inside one guild.
type Progress struct {
	GuildID   string   `json:"guild_id"`
	UserID    string   `json:"user_id"`
	Badges    []string `json:"badges"`
	Wins      int      `json:"wins"`
	Attempts  int      `json:"attempts"`
	Streak    int      `json:"streak"`
	UpdatedAt int64    `json:"updated_at"`
}

// HasBadge reports whether the badge was already earned.
func (p *Progress) HasBadge(badge string) bool {
	for _, b := range p.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// Service tracks per-user progress. Reads go through the progress cache
// namespace; every write deletes the user's cache entry and the guild's
// cached leaderboard pages, which a progress change makes stale.
type Service struct {
	storage types.StorageManager
	cache   types.CacheManager
	logger  types.Logger
}

func NewService(storage types.StorageManager, cacheManager types.CacheManager, logger types.Logger) *Service {
	return &Service{
		storage: storage,
		cache:   cacheManager,
		logger:  logger,
	}
}

// Get returns the user's progress, a zero record if none exists yet.
func (s *Service) Get(ctx context.Context, guildID, userID string) (*Progress, error) {
	if cached, ok := s.cache.UserProgress(guildID, userID); ok {
		if p, ok := cached.(*Progress); ok {
			return p, nil
		}
	}

	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionProgress,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"user_id":  userID,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to read progress")
	}

	p := &Progress{GuildID: guildID, UserID: userID, Badges: []string{}}
	if len(docs) > 0 {
		if err := utils.FromDocument(docs[0], p); err != nil {
			return nil, types.WrapError(err, "failed to decode progress")
		}
	}

	if err := s.cache.SetUserProgress(guildID, userID, p, 0); err != nil {
		s.logger.Warn("Failed to cache progress", zap.Error(err))
	}

	return p, nil
}

// RecordAttempt folds one challenge attempt into the user's record. A
// win extends the streak and may award a badge; a loss resets the
// streak.
func (s *Service) RecordAttempt(ctx context.Context, guildID, userID string, won bool, badge string) (*Progress, error) {
	p, err := s.Get(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	updated := &Progress{
		GuildID:   guildID,
		UserID:    userID,
		Badges:    append([]string{}, p.Badges...),
		Wins:      p.Wins,
		Attempts:  p.Attempts + 1,
		Streak:    p.Streak,
		UpdatedAt: time.Now().UnixNano(),
	}

	if won {
		updated.Wins++
		updated.Streak++
		if badge != "" && !updated.HasBadge(badge) {
			updated.Badges = append(updated.Badges, badge)
		}
	} else {
		updated.Streak = 0
	}

	doc, err := utils.ToDocument(updated)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode progress")
	}

	if _, err := s.storage.UpdateDocuments(ctx, types.UpdateDocumentsRequest{
		Collection: types.CollectionProgress,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"user_id":  userID,
		},
		Data:   map[string]interface{}{"$set": doc},
		Upsert: true,
	}); err != nil {
		return nil, types.WrapError(err, "failed to update progress")
	}

	s.invalidate(guildID, userID)

	s.logger.Debug("Progress recorded",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Bool("won", won),
		zap.Int("wins", updated.Wins))

	return updated, nil
}

// Reset wipes one user's record inside a guild.
func (s *Service) Reset(ctx context.Context, guildID, userID string) error {
	if _, err := s.storage.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
		Collection: types.CollectionProgress,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"user_id":  userID,
		},
	}); err != nil {
		return types.WrapError(err, "failed to reset progress")
	}

	s.invalidate(guildID, userID)
	return nil
}

func (s *Service) invalidate(guildID, userID string) {
	s.cache.DeleteUserProgress(guildID, userID)
	s.cache.DeleteLeaderboardPage(guildID, "top")
}
