package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/feedback"
	"github.com/guildgym/gymbot/gym"
	"github.com/guildgym/gymbot/leaderboard"
	"github.com/guildgym/gymbot/moderation"
	"github.com/guildgym/gymbot/progress"
	"github.com/guildgym/gymbot/types"
)

// Handlers binds gateway events to the domain services. Every handler
// follows the same shape: refuse banned users, record session activity,
// run the operation, publish the reply into the originating channel.
type Handlers struct {
	gateway     types.GatewayClient
	gyms        *gym.Service
	progress    *progress.Service
	leaderboard *leaderboard.Service
	moderation  *moderation.Service
	feedback    *feedback.Service
	logger      types.Logger
}

func NewHandlers(
	gateway types.GatewayClient,
	gyms *gym.Service,
	progressService *progress.Service,
	leaderboardService *leaderboard.Service,
	moderationService *moderation.Service,
	feedbackService *feedback.Service,
	logger types.Logger,
) *Handlers {
	return &Handlers{
		gateway:     gateway,
		gyms:        gyms,
		progress:    progressService,
		leaderboard: leaderboardService,
		moderation:  moderationService,
		feedback:    feedbackService,
		logger:      logger,
	}
}

// Register subscribes every handler. Must run before the gateway starts.
func (h *Handlers) Register() error {
	subscriptions := map[string]types.EventHandler{
		types.EventGymChallenge:    h.handleGymChallenge,
		types.EventGymManage:       h.handleGymManage,
		types.EventProgressView:    h.handleProgressView,
		types.EventLeaderboardView: h.handleLeaderboardView,
		types.EventModerationCheck: h.handleModerationCheck,
		types.EventFeedbackSubmit:  h.handleFeedbackSubmit,
	}

	for eventType, handler := range subscriptions {
		if err := h.gateway.Subscribe(eventType, handler); err != nil {
			return types.WrapError(err, "failed to subscribe handler")
		}
	}

	return nil
}

func (h *Handlers) handleGymChallenge(ctx context.Context, event *types.Event) error {
	if !h.admit(ctx, event) {
		return nil
	}

	gymID := payloadString(event.Payload, "gym_id")
	answer := payloadString(event.Payload, "answer")

	result, err := h.gyms.Submit(ctx, event.GuildID, event.UserID, gymID, answer)
	if err != nil {
		switch {
		case types.IsError(err, types.ErrSubmissionLimit):
			return h.reply(event, map[string]interface{}{"error": "submission limit reached, try again later"})
		case types.IsError(err, types.ErrGymNotFound):
			return h.reply(event, map[string]interface{}{"error": "gym not found"})
		case types.IsError(err, types.ErrGymInactive):
			return h.reply(event, map[string]interface{}{"error": "gym is closed"})
		default:
			return err
		}
	}

	badge := ""
	if result.Correct {
		badge = result.BadgeName
	}

	if _, err := h.progress.RecordAttempt(ctx, event.GuildID, event.UserID, result.Correct, badge); err != nil {
		h.logger.Error("Failed to record attempt",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.UserID),
			zap.Error(err))
	}

	return h.reply(event, map[string]interface{}{
		"gym_name": result.GymName,
		"correct":  result.Correct,
		"badge":    badge,
	})
}

func (h *Handlers) handleGymManage(ctx context.Context, event *types.Event) error {
	if !h.admit(ctx, event) {
		return nil
	}

	action := payloadString(event.Payload, "action")
	gymID := payloadString(event.Payload, "gym_id")

	switch action {
	case "create":
		id, err := h.gyms.Create(ctx, &gym.Gym{
			GuildID:     event.GuildID,
			Name:        payloadString(event.Payload, "name"),
			Description: payloadString(event.Payload, "description"),
			BadgeName:   payloadString(event.Payload, "badge_name"),
			Question:    payloadString(event.Payload, "question"),
			Answer:      payloadString(event.Payload, "answer"),
			Active:      true,
			CreatedBy:   event.UserID,
		})
		if err != nil {
			if types.IsError(err, types.ErrGymExists) {
				return h.reply(event, map[string]interface{}{"error": "a gym with that name already exists"})
			}
			return err
		}
		return h.reply(event, map[string]interface{}{"gym_id": id})

	case "open", "close":
		if err := h.gyms.SetActive(ctx, event.GuildID, gymID, action == "open"); err != nil {
			if types.IsError(err, types.ErrGymNotFound) {
				return h.reply(event, map[string]interface{}{"error": "gym not found"})
			}
			return err
		}
		return h.reply(event, map[string]interface{}{"gym_id": gymID, "active": action == "open"})

	case "delete":
		if err := h.gyms.Delete(ctx, event.GuildID, gymID); err != nil {
			if types.IsError(err, types.ErrGymNotFound) {
				return h.reply(event, map[string]interface{}{"error": "gym not found"})
			}
			return err
		}
		return h.reply(event, map[string]interface{}{"gym_id": gymID, "deleted": true})

	case "list":
		gyms, err := h.gyms.List(ctx, event.GuildID)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(gyms))
		for _, g := range gyms {
			names = append(names, g.Name)
		}
		return h.reply(event, map[string]interface{}{"gyms": names})

	default:
		return h.reply(event, map[string]interface{}{"error": "unknown action"})
	}
}

func (h *Handlers) handleProgressView(ctx context.Context, event *types.Event) error {
	if !h.admit(ctx, event) {
		return nil
	}

	targetID := payloadString(event.Payload, "target_id")
	if targetID == "" {
		targetID = event.UserID
	}

	p, err := h.progress.Get(ctx, event.GuildID, targetID)
	if err != nil {
		return err
	}

	return h.reply(event, map[string]interface{}{
		"user_id":  targetID,
		"badges":   p.Badges,
		"wins":     p.Wins,
		"attempts": p.Attempts,
		"streak":   p.Streak,
	})
}

func (h *Handlers) handleLeaderboardView(ctx context.Context, event *types.Event) error {
	if !h.admit(ctx, event) {
		return nil
	}

	rows, err := h.leaderboard.Top(ctx, event.GuildID)
	if err != nil {
		return err
	}

	return h.reply(event, map[string]interface{}{"rows": rows})
}

func (h *Handlers) handleModerationCheck(ctx context.Context, event *types.Event) error {
	targetID := payloadString(event.Payload, "target_id")
	if targetID == "" {
		targetID = event.UserID
	}

	banned, watched, err := h.moderation.Status(ctx, event.GuildID, targetID)
	if err != nil {
		return err
	}

	return h.reply(event, map[string]interface{}{
		"user_id": targetID,
		"banned":  banned,
		"watched": watched,
	})
}

func (h *Handlers) handleFeedbackSubmit(ctx context.Context, event *types.Event) error {
	if !h.admit(ctx, event) {
		return nil
	}

	id, err := h.feedback.Submit(ctx, event.GuildID, event.UserID, payloadString(event.Payload, "text"))
	if err != nil {
		switch {
		case types.IsError(err, types.ErrFeedbackEmpty):
			return h.reply(event, map[string]interface{}{"error": "feedback text is empty"})
		case types.IsError(err, types.ErrSubmissionLimit):
			return h.reply(event, map[string]interface{}{"error": "feedback limit reached, try again tomorrow"})
		default:
			return err
		}
	}

	return h.reply(event, map[string]interface{}{"feedback_id": id})
}

// admit rejects banned users and records the interaction in the session
// namespace. Watched users pass but get logged.
func (h *Handlers) admit(ctx context.Context, event *types.Event) bool {
	banned, watched, err := h.moderation.Status(ctx, event.GuildID, event.UserID)
	if err != nil {
		h.logger.Error("Failed to check moderation status",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.UserID),
			zap.Error(err))
		return false
	}

	if banned {
		h.logger.Debug("Ignoring event from banned user",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.UserID))
		return false
	}

	if watched {
		h.logger.Info("Event from watched user",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.Type))
	}

	h.moderation.Touch(event.GuildID, event.UserID)
	return true
}

func (h *Handlers) reply(event *types.Event, payload map[string]interface{}) error {
	return h.gateway.Publish(&types.Event{
		Type:      event.Type + "_response",
		GuildID:   event.GuildID,
		UserID:    event.UserID,
		ChannelID: event.ChannelID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

func payloadString(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}
