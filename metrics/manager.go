package metrics

import (
	"context"

	"github.com/guildgym/gymbot/types"
)

var customMetricsCreators = make(map[string]types.MetricsManagerCreator)

func RegisterMetricsManager(metricsType string, creator types.MetricsManagerCreator) {
	customMetricsCreators[metricsType] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.MetricsManager, error) {
	metricsConfig := config.GetConfig().Metrics

	if metricsConfig == nil || !metricsConfig.Enabled {
		return nil, types.ErrMetricsIsDisabled
	}

	switch metricsConfig.Type {
	case "memory":
		return NewMemoryMetrics(logger, metricsConfig)
	case "prometheus":
		return NewPrometheusMetrics(ctx, logger, metricsConfig)
	default:
		if creator, exists := customMetricsCreators[metricsConfig.Type]; exists {
			return creator(metricsConfig)
		}
		return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", metricsConfig.Type)
	}
}
