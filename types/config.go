package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name        string             `yaml:"name" json:"name" validate:"required"`
	Version     string             `yaml:"version" json:"version" validate:"required"`
	Logger      *LoggerConfig      `yaml:"logger" json:"logger"`
	Cache       *CacheConfig       `yaml:"cache" json:"cache"`
	Storage     *StorageConfig     `yaml:"storage" json:"storage"`
	Gates       *GatesConfig       `yaml:"gates" json:"gates"`
	Cron        *CronConfig        `yaml:"cron" json:"cron"`
	Metrics     *MetricsConfig     `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig      `yaml:"health" json:"health"`
	Gateway     *GatewayConfig     `yaml:"gateway" json:"gateway"`
	Leaderboard *LeaderboardConfig `yaml:"leaderboard" json:"leaderboard"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

// GateConfig bounds how many submissions one user may make per guild inside
// a trailing window.
type GateConfig struct {
	Window time.Duration `yaml:"window" json:"window" validate:"min=0"`
	Limit  int64         `yaml:"limit" json:"limit" validate:"min=0"`
}

type GatesConfig struct {
	Enabled     bool        `yaml:"enabled" json:"enabled"`
	Submissions *GateConfig `yaml:"submissions" json:"submissions"`
	Feedback    *GateConfig `yaml:"feedback" json:"feedback"`
}

type LeaderboardConfig struct {
	Size           int    `yaml:"size" json:"size" validate:"min=1"`
	RecomputeSpec  string `yaml:"recompute_spec" json:"recompute_spec"`
	RecomputeJobID string `yaml:"recompute_job_id" json:"recompute_job_id"`
}
