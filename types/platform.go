package types

import (
	"context"
	"time"
)

// Event types dispatched by the platform gateway.
const (
	EventGymChallenge    = "gym_challenge"
	EventGymManage       = "gym_manage"
	EventProgressView    = "progress_view"
	EventLeaderboardView = "leaderboard_view"
	EventModerationCheck = "moderation_check"
	EventFeedbackSubmit  = "feedback_submit"
)

// Event is one interaction delivered by the chat platform. Payload layout
// depends on Type; GuildID scopes every event to one community.
type Event struct {
	Type      string                 `json:"type"`
	GuildID   string                 `json:"guild_id"`
	UserID    string                 `json:"user_id"`
	ChannelID string                 `json:"channel_id"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

type EventHandler func(ctx context.Context, event *Event) error

type GatewayClient interface {
	LifecycleManager
	Subscribe(eventType string, handler EventHandler) error
	Publish(event *Event) error
}

type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	URL            string        `yaml:"url" json:"url" validate:"required_if=Enabled true"`
	Token          string        `yaml:"token" json:"token"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries"`
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
}
