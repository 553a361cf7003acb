package gym

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/gate"
	"github.com/guildgym/gymbot/types"
	"github.com/guildgym/gymbot/utils"
)

// listKey is the pseudo-entity under which a guild's gym roster is
// cached. It lives next to the per-gym entries, so guild invalidation
// sweeps it up too.
const listKey = "list"

// Gym is one challenge: a question a user answers to earn the badge.
type Gym struct {
	ID          string `json:"internal_id,omitempty"`
	GuildID     string `json:"guild_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	BadgeName   string `json:"badge_name"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	Active      bool   `json:"active"`
	CreatedBy   string `json:"created_by,omitempty"`
}

// SubmissionResult reports one challenge attempt.
type SubmissionResult struct {
	GymID     string `json:"gym_id"`
	GymName   string `json:"gym_name"`
	BadgeName string `json:"badge_name"`
	Correct   bool   `json:"correct"`
}

// Service owns gym CRUD and the challenge path. Reads go through the gym
// cache namespace; every write deletes the matching cache keys right
// after the storage write commits, since the cache never learns about
// writes on its own.
type Service struct {
	storage types.StorageManager
	cache   types.CacheManager
	gate    *gate.SubmissionGate
	logger  types.Logger
}

func NewService(storage types.StorageManager, cacheManager types.CacheManager, submissionGate *gate.SubmissionGate, logger types.Logger) *Service {
	return &Service{
		storage: storage,
		cache:   cacheManager,
		gate:    submissionGate,
		logger:  logger,
	}
}

func (s *Service) Create(ctx context.Context, g *Gym) (string, error) {
	if g.GuildID == "" || g.Name == "" {
		return "", types.ErrInvalidParameter
	}

	existing, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionGyms,
		Filter: map[string]interface{}{
			"guild_id": g.GuildID,
			"name":     g.Name,
		},
		Limit: 1,
	})
	if err != nil {
		return "", types.WrapError(err, "failed to check gym existence")
	}
	if len(existing) > 0 {
		return "", types.ErrGymExists
	}

	doc, err := utils.ToDocument(g)
	if err != nil {
		return "", types.WrapError(err, "failed to encode gym")
	}
	delete(doc, "internal_id")

	ids, err := s.storage.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: types.CollectionGyms,
		Data:       []interface{}{doc},
	})
	if err != nil {
		return "", types.WrapError(err, "failed to create gym")
	}

	s.invalidate(g.GuildID, ids[0])

	s.logger.Info("Gym created",
		zap.String("guild_id", g.GuildID),
		zap.String("gym_id", ids[0]),
		zap.String("name", g.Name))

	return ids[0], nil
}

// Get reads one gym through the cache.
func (s *Service) Get(ctx context.Context, guildID, gymID string) (*Gym, error) {
	if cached, ok := s.cache.GymData(guildID, gymID); ok {
		if g, ok := cached.(*Gym); ok {
			return g, nil
		}
	}

	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionGyms,
		Filter: map[string]interface{}{
			"guild_id":    guildID,
			"internal_id": gymID,
		},
		Limit: 1,
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to read gym")
	}
	if len(docs) == 0 {
		return nil, types.ErrGymNotFound
	}

	var g Gym
	if err := utils.FromDocument(docs[0], &g); err != nil {
		return nil, types.WrapError(err, "failed to decode gym")
	}

	if err := s.cache.SetGymData(guildID, gymID, &g, 0); err != nil {
		s.logger.Warn("Failed to cache gym", zap.Error(err))
	}

	return &g, nil
}

// List returns all gyms of a guild, cached as a single roster entry.
func (s *Service) List(ctx context.Context, guildID string) ([]*Gym, error) {
	if cached, ok := s.cache.GymData(guildID, listKey); ok {
		if gyms, ok := cached.([]*Gym); ok {
			return gyms, nil
		}
	}

	docs, _, err := s.storage.ReadDocuments(ctx, types.ReadDocumentsRequest{
		Collection: types.CollectionGyms,
		Filter:     map[string]interface{}{"guild_id": guildID},
		Sort:       map[string]int{"name": 1},
	})
	if err != nil {
		return nil, types.WrapError(err, "failed to list gyms")
	}

	gyms := make([]*Gym, 0, len(docs))
	for _, doc := range docs {
		var g Gym
		if err := utils.FromDocument(doc, &g); err != nil {
			continue
		}
		gyms = append(gyms, &g)
	}

	if err := s.cache.SetGymData(guildID, listKey, gyms, 0); err != nil {
		s.logger.Warn("Failed to cache gym list", zap.Error(err))
	}

	return gyms, nil
}

func (s *Service) Update(ctx context.Context, guildID, gymID string, fields map[string]interface{}) error {
	updated, err := s.storage.UpdateDocuments(ctx, types.UpdateDocumentsRequest{
		Collection: types.CollectionGyms,
		Filter: map[string]interface{}{
			"guild_id":    guildID,
			"internal_id": gymID,
		},
		Data: map[string]interface{}{"$set": fields},
	})
	if err != nil {
		return types.WrapError(err, "failed to update gym")
	}
	if updated == 0 {
		return types.ErrGymNotFound
	}

	s.invalidate(guildID, gymID)
	return nil
}

// SetActive flips a gym open or closed for submissions.
func (s *Service) SetActive(ctx context.Context, guildID, gymID string, active bool) error {
	return s.Update(ctx, guildID, gymID, map[string]interface{}{"active": active})
}

func (s *Service) Delete(ctx context.Context, guildID, gymID string) error {
	deleted, err := s.storage.DeleteDocuments(ctx, types.DeleteDocumentsRequest{
		Collection: types.CollectionGyms,
		Filter: map[string]interface{}{
			"guild_id":    guildID,
			"internal_id": gymID,
		},
	})
	if err != nil {
		return types.WrapError(err, "failed to delete gym")
	}
	if deleted == 0 {
		return types.ErrGymNotFound
	}

	s.invalidate(guildID, gymID)

	s.logger.Info("Gym deleted",
		zap.String("guild_id", guildID),
		zap.String("gym_id", gymID))

	return nil
}

// Submit runs one challenge attempt: the gate decides whether the user
// still has attempts left in the window, the answer is checked, and the
// attempt is recorded either way.
func (s *Service) Submit(ctx context.Context, guildID, userID, gymID, answer string) (*SubmissionResult, error) {
	allowed, _, err := s.gate.Allow(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, types.ErrSubmissionLimit
	}

	g, err := s.Get(ctx, guildID, gymID)
	if err != nil {
		return nil, err
	}
	if !g.Active {
		return nil, types.ErrGymInactive
	}

	correct := strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(g.Answer))

	if _, err := s.gate.Record(ctx, guildID, userID, map[string]interface{}{
		"gym_id":  gymID,
		"correct": correct,
	}); err != nil {
		return nil, err
	}

	s.logger.Debug("Challenge submitted",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.String("gym_id", gymID),
		zap.Bool("correct", correct))

	return &SubmissionResult{
		GymID:     gymID,
		GymName:   g.Name,
		BadgeName: g.BadgeName,
		Correct:   correct,
	}, nil
}

// SubmissionsSince counts a guild's submissions in a trailing window,
// straight from storage.
func (s *Service) SubmissionsSince(ctx context.Context, guildID string, window time.Duration) (int64, error) {
	return s.storage.CountSince(ctx, types.CollectionSubmissions,
		map[string]interface{}{"guild_id": guildID},
		time.Now().Add(-window))
}

// invalidate drops the cache entries a gym mutation makes stale: the gym
// itself and the guild's roster.
func (s *Service) invalidate(guildID, gymID string) {
	s.cache.DeleteGymData(guildID, gymID)
	s.cache.DeleteGymData(guildID, listKey)
}
