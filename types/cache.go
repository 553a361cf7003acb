package types

import (
	"time"
)

// Well-known cache namespaces. Unknown names fall back to NamespaceGeneral.
const (
	NamespaceUser        = "user"
	NamespaceGym         = "gym"
	NamespaceProgress    = "progress"
	NamespaceLeaderboard = "leaderboard"
	NamespaceSession     = "session"
	NamespaceGeneral     = "general"
)

type CacheManager interface {
	LifecycleManager
	Get(namespace, key string) (interface{}, bool)
	Set(namespace, key string, value interface{}, ttl time.Duration) error
	Delete(namespace, key string) bool
	Exists(namespace, key string) bool
	Clear(namespace string)
	ClearAll()
	GetMany(namespace string, keys []string) map[string]interface{}
	SetMany(namespace string, items map[string]interface{}, ttl time.Duration) error
	Preload(namespace string, data map[string]interface{}, ttl time.Duration) error
	InvalidateGuild(guildID string) int
	Stats(namespace string) CacheStats
	AllStats() map[string]CacheStats

	// Typed wrappers over the "{guildID}:{entityID}" compound-key
	// convention. External invalidation logic depends on this exact
	// layout; see InvalidateGuild.
	GymData(guildID, gymID string) (interface{}, bool)
	SetGymData(guildID, gymID string, value interface{}, ttl time.Duration) error
	DeleteGymData(guildID, gymID string) bool
	UserProgress(guildID, userID string) (interface{}, bool)
	SetUserProgress(guildID, userID string, value interface{}, ttl time.Duration) error
	DeleteUserProgress(guildID, userID string) bool
	LeaderboardPage(guildID, page string) (interface{}, bool)
	SetLeaderboardPage(guildID, page string, value interface{}, ttl time.Duration) error
	DeleteLeaderboardPage(guildID, page string) bool
}

type CacheManagerCreator func(config interface{}) (CacheManager, error)

// CacheStats is a point-in-time snapshot of one namespace store. The
// counters are cumulative for the process lifetime; Clear does not reset
// them.
type CacheStats struct {
	Size        int           `json:"size"`
	MaxSize     int           `json:"max_size"`
	Hits        uint64        `json:"hits"`
	Misses      uint64        `json:"misses"`
	HitRate     string        `json:"hit_rate"`
	Evictions   uint64        `json:"evictions"`
	Expirations uint64        `json:"expirations"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

type NamespaceConfig struct {
	MaxSize    int           `yaml:"max_size" json:"max_size" validate:"min=0"`
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type CacheConfig struct {
	Enabled       bool                       `yaml:"enabled" json:"enabled"`
	Type          string                     `yaml:"type" json:"type"`
	SweepInterval time.Duration              `yaml:"sweep_interval" json:"sweep_interval"`
	Namespaces    map[string]NamespaceConfig `yaml:"namespaces" json:"namespaces"`
}
