package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/cache"
	"github.com/guildgym/gymbot/feedback"
	"github.com/guildgym/gymbot/gate"
	"github.com/guildgym/gymbot/gym"
	"github.com/guildgym/gymbot/leaderboard"
	"github.com/guildgym/gymbot/logger"
	"github.com/guildgym/gymbot/moderation"
	"github.com/guildgym/gymbot/progress"
	"github.com/guildgym/gymbot/storage"
	"github.com/guildgym/gymbot/types"
)

// stubGateway records subscriptions and published replies.
type stubGateway struct {
	handlers  map[string]types.EventHandler
	published []*types.Event
}

func newStubGateway() *stubGateway {
	return &stubGateway{handlers: make(map[string]types.EventHandler)}
}

func (g *stubGateway) Start() error    { return nil }
func (g *stubGateway) Stop() error     { return nil }
func (g *stubGateway) IsRunning() bool { return true }

func (g *stubGateway) Subscribe(eventType string, handler types.EventHandler) error {
	if eventType == "" {
		return types.ErrEventTypeEmpty
	}
	g.handlers[eventType] = handler
	return nil
}

func (g *stubGateway) Publish(event *types.Event) error {
	g.published = append(g.published, event)
	return nil
}

func (g *stubGateway) lastReply(t *testing.T) *types.Event {
	t.Helper()
	require.NotEmpty(t, g.published)
	return g.published[len(g.published)-1]
}

type fixture struct {
	handlers   *Handlers
	gateway    *stubGateway
	gyms       *gym.Service
	progress   *progress.Service
	moderation *moderation.Service
}

func newFixture(t *testing.T) *fixture {
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
	submissionGate := gate.NewSubmissionGate(ms, log, types.CollectionSubmissions, nil, nil)
	feedbackGate := gate.NewSubmissionGate(ms, log, types.CollectionFeedback, nil, nil)

	gyms := gym.NewService(ms, cm, submissionGate, log)
	progressService := progress.NewService(ms, cm, log)
	leaderboardService := leaderboard.NewService(ms, cm, log, nil)
	moderationService := moderation.NewService(ms, cm, log)
	feedbackService := feedback.NewService(ms, feedbackGate, log)

	gw := newStubGateway()
	h := NewHandlers(gw, gyms, progressService, leaderboardService, moderationService, feedbackService, log)
	require.NoError(t, h.Register())

	return &fixture{
		handlers:   h,
		gateway:    gw,
		gyms:       gyms,
		progress:   progressService,
		moderation: moderationService,
	}
}

func event(eventType, guildID, userID string, payload map[string]interface{}) *types.Event {
	return &types.Event{
		Type:      eventType,
		GuildID:   guildID,
		UserID:    userID,
		ChannelID: "chan-1",
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

func (f *fixture) dispatch(t *testing.T, e *types.Event) {
	t.Helper()
	handler, ok := f.gateway.handlers[e.Type]
	require.True(t, ok, "no handler subscribed for %s", e.Type)
	require.NoError(t, handler(context.Background(), e))
}

func TestRegisterSubscribesAllEvents(t *testing.T) {
	f := newFixture(t)

	for _, eventType := range []string{
		types.EventGymChallenge,
		types.EventGymManage,
		types.EventProgressView,
		types.EventLeaderboardView,
		types.EventModerationCheck,
		types.EventFeedbackSubmit,
	} {
		assert.Contains(t, f.gateway.handlers, eventType)
	}
}

func TestGymChallengeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.gyms.Create(ctx, &gym.Gym{
		GuildID:   "111",
		Name:      "water",
		BadgeName: "water badge",
		Question:  "what?",
		Answer:    "that",
		Active:    true,
	})
	require.NoError(t, err)

	f.dispatch(t, event(types.EventGymChallenge, "111", "user-a", map[string]interface{}{
		"gym_id": id,
		"answer": "that",
	}))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, types.EventGymChallenge+"_response", reply.Type)
	assert.Equal(t, "chan-1", reply.ChannelID)
	assert.Equal(t, true, reply.Payload["correct"])
	assert.Equal(t, "water badge", reply.Payload["badge"])

	// The win landed in the user's progress record.
	p, err := f.progress.Get(ctx, "111", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Wins)
	assert.Equal(t, []string{"water badge"}, p.Badges)
}

func TestGymChallengeUnknownGym(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, event(types.EventGymChallenge, "111", "user-a", map[string]interface{}{
		"gym_id": "ghost",
		"answer": "that",
	}))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, "gym not found", reply.Payload["error"])
}

func TestBannedUserIsDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.moderation.Add(ctx, &moderation.Entry{
		GuildID: "111",
		UserID:  "user-a",
		List:    moderation.ListBan,
	}))

	f.dispatch(t, event(types.EventProgressView, "111", "user-a", nil))

	assert.Empty(t, f.gateway.published, "banned users get no reply")
}

func TestWatchedUserIsServed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.moderation.Add(ctx, &moderation.Entry{
		GuildID: "111",
		UserID:  "user-a",
		List:    moderation.ListWatch,
	}))

	f.dispatch(t, event(types.EventProgressView, "111", "user-a", nil))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, "user-a", reply.Payload["user_id"])
}

func TestModerationCheckBypassesAdmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.moderation.Add(ctx, &moderation.Entry{
		GuildID: "111",
		UserID:  "user-a",
		List:    moderation.ListBan,
	}))

	// Moderators can check a banned user's own status.
	f.dispatch(t, event(types.EventModerationCheck, "111", "mod-1", map[string]interface{}{
		"target_id": "user-a",
	}))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, true, reply.Payload["banned"])
	assert.Equal(t, false, reply.Payload["watched"])
}

func TestGymManageCreateAndList(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, event(types.EventGymManage, "111", "admin", map[string]interface{}{
		"action":     "create",
		"name":       "fire",
		"badge_name": "fire badge",
		"question":   "hot?",
		"answer":     "yes",
	}))

	reply := f.gateway.lastReply(t)
	assert.NotEmpty(t, reply.Payload["gym_id"])

	f.dispatch(t, event(types.EventGymManage, "111", "admin", map[string]interface{}{
		"action": "list",
	}))

	reply = f.gateway.lastReply(t)
	assert.Equal(t, []string{"fire"}, reply.Payload["gyms"])
}

func TestGymManageUnknownAction(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, event(types.EventGymManage, "111", "admin", map[string]interface{}{
		"action": "explode",
	}))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, "unknown action", reply.Payload["error"])
}

func TestLeaderboardView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.progress.RecordAttempt(ctx, "111", "user-a", true, "")
	require.NoError(t, err)

	f.dispatch(t, event(types.EventLeaderboardView, "111", "user-b", nil))

	reply := f.gateway.lastReply(t)
	rows, ok := reply.Payload["rows"].([]leaderboard.Row)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "user-a", rows[0].UserID)
}

func TestFeedbackSubmitEmptyText(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, event(types.EventFeedbackSubmit, "111", "user-a", map[string]interface{}{
		"text": "   ",
	}))

	reply := f.gateway.lastReply(t)
	assert.Equal(t, "feedback text is empty", reply.Payload["error"])
}

func TestFeedbackSubmitStored(t *testing.T) {
	f := newFixture(t)

	f.dispatch(t, event(types.EventFeedbackSubmit, "111", "user-a", map[string]interface{}{
		"text": "more gyms",
	}))

	reply := f.gateway.lastReply(t)
	assert.NotEmpty(t, reply.Payload["feedback_id"])
}
