package gate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
)

// SubmissionGate limits how many times one user may perform an action per
// guild inside a trailing window. Counts always come straight from
// storage: a gating decision needs fresh data, so the result is never
// cached and never trusted beyond the decision it was computed for.
type SubmissionGate struct {
	storage    types.StorageManager
	logger     types.Logger
	collection string
	window     time.Duration
	limit      int64
	clock      func() time.Time
}

// NewSubmissionGate builds a gate over one collection. A zero limit or
// window disables gating: Allow always passes.
func NewSubmissionGate(storage types.StorageManager, logger types.Logger, collection string, config *types.GateConfig, clock func() time.Time) *SubmissionGate {
	if clock == nil {
		clock = time.Now
	}

	g := &SubmissionGate{
		storage:    storage,
		logger:     logger,
		collection: collection,
		clock:      clock,
	}

	if config != nil {
		g.window = config.Window
		g.limit = config.Limit
	}

	return g
}

// Allow reports whether guildID/userID is under the limit and how many
// submissions the window currently holds.
func (g *SubmissionGate) Allow(ctx context.Context, guildID, userID string) (bool, int64, error) {
	if g.limit <= 0 || g.window <= 0 {
		return true, 0, nil
	}

	since := g.clock().Add(-g.window)
	count, err := g.storage.CountSince(ctx, g.collection, map[string]interface{}{
		"guild_id": guildID,
		"user_id":  userID,
	}, since)
	if err != nil {
		return false, 0, types.WrapError(err, "failed to count recent submissions")
	}

	allowed := count < g.limit
	if !allowed && g.logger != nil {
		g.logger.Debug("Submission limit reached",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Int64("count", count),
			zap.Int64("limit", g.limit))
	}

	return allowed, count, nil
}

// Record persists one submission row. The extra fields are stored next to
// the scope columns so later queries can break results down.
func (g *SubmissionGate) Record(ctx context.Context, guildID, userID string, fields map[string]interface{}) (string, error) {
	doc := map[string]interface{}{
		"guild_id": guildID,
		"user_id":  userID,
	}
	for key, value := range fields {
		doc[key] = value
	}

	ids, err := g.storage.CreateDocuments(ctx, types.CreateDocumentsRequest{
		Collection: g.collection,
		Data:       []interface{}{doc},
	})
	if err != nil {
		return "", types.WrapError(err, "failed to record submission")
	}

	return ids[0], nil
}

// Remaining returns how many submissions are left in the current window.
func (g *SubmissionGate) Remaining(ctx context.Context, guildID, userID string) (int64, error) {
	allowed, count, err := g.Allow(ctx, guildID, userID)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, nil
	}
	if g.limit <= 0 {
		return -1, nil
	}
	return g.limit - count, nil
}
