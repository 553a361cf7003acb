package cache

import (
	"context"
	"time"

	"github.com/guildgym/gymbot/types"
)

var customCacheCreators = make(map[string]types.CacheManagerCreator)

func RegisterCacheManager(name string, creator types.CacheManagerCreator) {
	customCacheCreators[name] = creator
}

// NewCacheManager resolves the cache implementation from service config
// and wraps it with operation metrics when a metrics manager is
// available. An empty type means the built-in namespace manager;
// anything else must have been registered through RegisterCacheManager.
func NewCacheManager(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CacheManager, error) {
	cacheConfig := config.GetConfig().Cache

	if cacheConfig == nil || !cacheConfig.Enabled {
		return nil, types.ErrCacheIsDisabled
	}

	var impl types.CacheManager

	switch cacheConfig.Type {
	case "", "memory":
		impl = NewManager(ctx, cacheConfig, logger, nil)
	default:
		creator, exists := customCacheCreators[cacheConfig.Type]
		if !exists {
			return nil, types.Errorf(types.ErrCacheTypeUnknown, "type: %s", cacheConfig.Type)
		}

		custom, err := creator(cacheConfig)
		if err != nil {
			return nil, err
		}
		impl = custom
	}

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedCacheManager(metrics, impl), nil
}

type instrumentedCacheManager struct {
	impl    types.CacheManager
	metrics types.MetricsManager
}

func newInstrumentedCacheManager(metrics types.MetricsManager, impl types.CacheManager) types.CacheManager {
	return &instrumentedCacheManager{
		impl:    impl,
		metrics: metrics,
	}
}

func (icm *instrumentedCacheManager) Get(namespace, key string) (interface{}, bool) {
	start := time.Now()
	value, exists := icm.impl.Get(namespace, key)

	result := "miss"
	if exists {
		result = "hit"
	}

	icm.recordMetric("get", namespace, result, time.Since(start))
	return value, exists
}

func (icm *instrumentedCacheManager) Set(namespace, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := icm.impl.Set(namespace, key, value, ttl)

	result := "success"
	if err != nil {
		result = "error"
	}

	icm.recordMetric("set", namespace, result, time.Since(start))
	return err
}

func (icm *instrumentedCacheManager) Delete(namespace, key string) bool {
	start := time.Now()
	removed := icm.impl.Delete(namespace, key)

	result := "absent"
	if removed {
		result = "removed"
	}

	icm.recordMetric("delete", namespace, result, time.Since(start))
	return removed
}

func (icm *instrumentedCacheManager) InvalidateGuild(guildID string) int {
	start := time.Now()
	removed := icm.impl.InvalidateGuild(guildID)
	icm.recordMetric("invalidate_guild", "all", "success", time.Since(start))
	return removed
}

func (icm *instrumentedCacheManager) Exists(namespace, key string) bool {
	return icm.impl.Exists(namespace, key)
}

func (icm *instrumentedCacheManager) Clear(namespace string) {
	icm.impl.Clear(namespace)
}

func (icm *instrumentedCacheManager) ClearAll() {
	icm.impl.ClearAll()
}

func (icm *instrumentedCacheManager) GetMany(namespace string, keys []string) map[string]interface{} {
	return icm.impl.GetMany(namespace, keys)
}

func (icm *instrumentedCacheManager) SetMany(namespace string, items map[string]interface{}, ttl time.Duration) error {
	return icm.impl.SetMany(namespace, items, ttl)
}

func (icm *instrumentedCacheManager) Preload(namespace string, data map[string]interface{}, ttl time.Duration) error {
	return icm.impl.Preload(namespace, data, ttl)
}

func (icm *instrumentedCacheManager) Stats(namespace string) types.CacheStats {
	return icm.impl.Stats(namespace)
}

func (icm *instrumentedCacheManager) AllStats() map[string]types.CacheStats {
	return icm.impl.AllStats()
}

func (icm *instrumentedCacheManager) GymData(guildID, gymID string) (interface{}, bool) {
	return icm.impl.GymData(guildID, gymID)
}

func (icm *instrumentedCacheManager) SetGymData(guildID, gymID string, value interface{}, ttl time.Duration) error {
	return icm.impl.SetGymData(guildID, gymID, value, ttl)
}

func (icm *instrumentedCacheManager) DeleteGymData(guildID, gymID string) bool {
	return icm.impl.DeleteGymData(guildID, gymID)
}

func (icm *instrumentedCacheManager) UserProgress(guildID, userID string) (interface{}, bool) {
	return icm.impl.UserProgress(guildID, userID)
}

func (icm *instrumentedCacheManager) SetUserProgress(guildID, userID string, value interface{}, ttl time.Duration) error {
	return icm.impl.SetUserProgress(guildID, userID, value, ttl)
}

func (icm *instrumentedCacheManager) DeleteUserProgress(guildID, userID string) bool {
	return icm.impl.DeleteUserProgress(guildID, userID)
}

func (icm *instrumentedCacheManager) LeaderboardPage(guildID, page string) (interface{}, bool) {
	return icm.impl.LeaderboardPage(guildID, page)
}

func (icm *instrumentedCacheManager) SetLeaderboardPage(guildID, page string, value interface{}, ttl time.Duration) error {
	return icm.impl.SetLeaderboardPage(guildID, page, value, ttl)
}

func (icm *instrumentedCacheManager) DeleteLeaderboardPage(guildID, page string) bool {
	return icm.impl.DeleteLeaderboardPage(guildID, page)
}

func (icm *instrumentedCacheManager) Start() error {
	return icm.impl.Start()
}

func (icm *instrumentedCacheManager) Stop() error {
	return icm.impl.Stop()
}

func (icm *instrumentedCacheManager) IsRunning() bool {
	return icm.impl.IsRunning()
}

func (icm *instrumentedCacheManager) recordMetric(operation, namespace, result string, duration time.Duration) {
	opCounter := icm.metrics.Counter("cache_operations_total", map[string]string{
		"operation": operation,
		"namespace": namespace,
		"result":    result,
	})
	opCounter.Inc()

	opDuration := icm.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	opDuration.Observe(duration.Seconds())
}
