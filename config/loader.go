package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/guildgym/gymbot/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	// Secrets like the gateway token come from the environment.
	data = []byte(os.ExpandEnv(string(data)))

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	rawData := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, nil, types.WrapError(err, "config validation failed")
	}

	return config, rawData, nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Level: "debug",
		},
		Cache: &types.CacheConfig{
			Enabled:       true,
			SweepInterval: time.Minute,
			Namespaces: map[string]types.NamespaceConfig{
				types.NamespaceUser:        {MaxSize: 2000, DefaultTTL: 15 * time.Minute},
				types.NamespaceGym:         {MaxSize: 1000, DefaultTTL: 30 * time.Minute},
				types.NamespaceProgress:    {MaxSize: 5000, DefaultTTL: 10 * time.Minute},
				types.NamespaceLeaderboard: {MaxSize: 500, DefaultTTL: 2 * time.Minute},
				types.NamespaceSession:     {MaxSize: 2000, DefaultTTL: 5 * time.Minute},
				types.NamespaceGeneral:     {MaxSize: 1000, DefaultTTL: 10 * time.Minute},
			},
		},
		Storage: &types.StorageConfig{
			Enabled: true,
			Type:    "memory",
		},
		Gates: &types.GatesConfig{
			Enabled: true,
			Submissions: &types.GateConfig{
				Window: time.Hour,
				Limit:  10,
			},
			Feedback: &types.GateConfig{
				Window: 24 * time.Hour,
				Limit:  3,
			},
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Health: &types.HealthConfig{
			Enabled: false,
		},
		Gateway: &types.GatewayConfig{
			Enabled:        false,
			ReconnectDelay: 5 * time.Second,
			MaxRetries:     10,
			PingInterval:   30 * time.Second,
		},
		Leaderboard: &types.LeaderboardConfig{
			Size:          10,
			RecomputeSpec: "0 */5 * * * *",
		},
	}
}
