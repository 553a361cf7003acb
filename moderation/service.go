package moderation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/cache"
	"github.com/guildgym/gymbot/types"
)

// List names. Each guild keeps one document per user per list.
const (
	ListBan   = "ban"
	ListWatch = "watch"
)

// Entry is one user's membership in a moderation list.
type Entry struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	List    string `json:"list"`
	Reason  string `json:"reason,omitempty"`
	AddedBy string `json:"added_by,omitempty"`
}

// Service maintains per-guild ban and watch lists. Membership checks run
// on every incoming event, so results sit in the user cache namespace
// under the "{guildID}:{userID}" compound key; any list mutation deletes
// that entry.
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

// status is what the user cache holds per guild member.
type status struct {
	Banned  bool `json:"banned"`
	Watched bool `json:"watched"`
}

// Status reports list membership for one user, through the cache.
func (s *Service) Status(ctx context.Context, guildID, userID string) (banned, watched bool, err error) {
	key := cache.GuildKey(guildID, userID)
	if cached, ok := s.cache.Get(types.NamespaceUser, key); ok {
		if st, ok := cached.(*status); ok {
			return st.Banned, st.Watched, nil
		}
	}

	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionModeration,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"user_id":  userID,
		},
	})
	if err != nil {
		return false, false, types.WrapError(err, "failed to read moderation lists")
	}

	st := &status{}
	for _, doc := range docs {
		switch doc["list"] {
		case ListBan:
			st.Banned = true
		case ListWatch:
			st.Watched = true
		}
	}

	if err := s.cache.Set(types.NamespaceUser, key, st, 0); err != nil {
		s.logger.Warn("Failed to cache moderation status", zap.Error(err))
	}

	return st.Banned, st.Watched, nil
}

// Add puts a user on a list. Adding twice is a no-op.
func (s *Service) Add(ctx context.Context, entry *Entry) error {
	if entry.GuildID == "" || entry.UserID == "" {
		return types.ErrInvalidParameter
	}
	if entry.List != ListBan && entry.List != ListWatch {
		return types.Errorf(types.ErrInvalidParameter, "list: %s", entry.List)
	}

	existing, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionModeration,
		Filter: map[string]interface{}{
			"guild_id": entry.GuildID,
			"user_id":  entry.UserID,
			"list":     entry.List,
		},
		Limit: 1,
	})
	if err != nil {
		return types.WrapError(err, "failed to check list membership")
	}
	if len(existing) > 0 {
		return nil
	}

	if _, err := s.storage.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionModeration,
		Data: []interface{}{map[string]interface{}{
			"guild_id": entry.GuildID,
			"user_id":  entry.UserID,
			"list":     entry.List,
			"reason":   entry.Reason,
			"added_by": entry.AddedBy,
		}},
	}); err != nil {
		return types.WrapError(err, "failed to add list entry")
	}

	s.cache.Delete(types.NamespaceUser, cache.GuildKey(entry.GuildID, entry.UserID))

	s.logger.Info("Moderation list entry added",
		zap.String("guild_id", entry.GuildID),
		zap.String("user_id", entry.UserID),
		zap.String("list", entry.List))

	return nil
}

// Remove takes a user off a list. Removing a user who is not on the list
// is a no-op.
func (s *Service) Remove(ctx context.Context, guildID, userID, list string) error {
	if _, err := s.storage.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
		Collection: types.CollectionModeration,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"user_id":  userID,
			"list":     list,
		},
	}); err != nil {
		return types.WrapError(err, "failed to remove list entry")
	}

	s.cache.Delete(types.NamespaceUser, cache.GuildKey(guildID, userID))
	return nil
}

// Members returns every entry of one guild list.
func (s *Service) Members(ctx context.Context, guildID, list string) ([]*Entry, error) {
	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionModeration,
		Filter: map[string]interface{}{
			"guild_id": guildID,
			"list":     list,
		},
		Sort: map[string]int{"cr_time": 1},
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to list members")
	}

	entries := make([]*Entry, 0, len(docs))
	for _, doc := range docs {
		entry := &Entry{GuildID: guildID, List: list}
		if userID, ok := doc["user_id"].(string); ok {
			entry.UserID = userID
		}
		if reason, ok := doc["reason"].(string); ok {
			entry.Reason = reason
		}
		if addedBy, ok := doc["added_by"].(string); ok {
			entry.AddedBy = addedBy
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Touch records the user's last interaction in the session namespace, so
// recently active members can be answered without a storage read.
func (s *Service) Touch(guildID, userID string) {
	key := cache.GuildKey(guildID, userID)
	if err := s.cache.Set(types.NamespaceSession, key, time.Now().UnixNano(), 0); err != nil {
		s.logger.Warn("Failed to record session activity", zap.Error(err))
	}
}
