package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

const DefaultSweepInterval = time.Minute

// namespacePrefixes maps each known namespace to the prefix applied to
// every key before it touches the underlying store. Prefixes keep keys
// collision-free across namespaces and give guild invalidation a stable
// scan pattern.
var namespacePrefixes = map[string]string{
	types.NamespaceUser:        "u:",
	types.NamespaceGym:         "g:",
	types.NamespaceProgress:    "p:",
	types.NamespaceLeaderboard: "lb:",
	types.NamespaceSession:     "s:",
	types.NamespaceGeneral:     "gen:",
}

// GuildKey builds the compound key "{guildID}:{entityID}". Guild-scoped
// invalidation scans for this exact layout, so every call site that caches
// guild-owned data must build keys through here.
func GuildKey(guildID, entityID string) string {
	return guildID + ":" + entityID
}

// Manager owns one Store per namespace. The store set is fixed at
// construction; only immutable references are held afterwards, so reads
// never race with topology changes.
type Manager struct {
	parentCtx       context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	stores          map[string]*Store
	prefixes        map[string]string
	sweepInterval   time.Duration
	state           atomic.Value
	stopSweep       chan struct{}
	sweepDone       chan struct{}
	shutdownTimeout time.Duration
}

// NewManager builds the namespace stores from config. Namespaces missing
// from config get a zero config, meaning unbounded size and no default
// expiry. Extra configured namespaces beyond the well-known set are
// created with a "{name}:" prefix. A nil clock falls back to time.Now.
func NewManager(ctx context.Context, config *types.CacheConfig, logger types.Logger, clock Clock) *Manager {
	sweepInterval := DefaultSweepInterval
	if config != nil && config.SweepInterval > 0 {
		sweepInterval = config.SweepInterval
	}

	stores := make(map[string]*Store)
	prefixes := make(map[string]string)

	for namespace, prefix := range namespacePrefixes {
		var nsConfig types.NamespaceConfig
		if config != nil {
			nsConfig = config.Namespaces[namespace]
		}
		stores[namespace] = NewStore(nsConfig.MaxSize, nsConfig.DefaultTTL, clock)
		prefixes[namespace] = prefix
	}

	if config != nil {
		for namespace, nsConfig := range config.Namespaces {
			if _, known := stores[namespace]; known {
				continue
			}
			stores[namespace] = NewStore(nsConfig.MaxSize, nsConfig.DefaultTTL, clock)
			prefixes[namespace] = namespace + ":"
		}
	}

	m := &Manager{
		parentCtx:       ctx,
		logger:          logger,
		stores:          stores,
		prefixes:        prefixes,
		sweepInterval:   sweepInterval,
		shutdownTimeout: 10 * time.Second,
	}

	m.state.Store(ManagerStateStopped)
	return m
}

// resolve maps a namespace name to its store and key prefix. Unknown
// names fall back to the general store rather than failing, so call sites
// stay resilient to typos and future namespace additions.
func (m *Manager) resolve(namespace string) (*Store, string) {
	if store, exists := m.stores[namespace]; exists {
		return store, m.prefixes[namespace]
	}
	return m.stores[types.NamespaceGeneral], m.prefixes[types.NamespaceGeneral]
}

func (m *Manager) Get(namespace, key string) (interface{}, bool) {
	store, prefix := m.resolve(namespace)
	return store.Get(prefix + key)
}

func (m *Manager) Set(namespace, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}
	store, prefix := m.resolve(namespace)
	return store.Set(prefix+key, value, ttl)
}

func (m *Manager) Delete(namespace, key string) bool {
	store, prefix := m.resolve(namespace)
	return store.Delete(prefix + key)
}

func (m *Manager) Exists(namespace, key string) bool {
	store, prefix := m.resolve(namespace)
	return store.Exists(prefix + key)
}

func (m *Manager) Clear(namespace string) {
	store, _ := m.resolve(namespace)
	store.Clear()
}

func (m *Manager) ClearAll() {
	for _, store := range m.stores {
		store.Clear()
	}
}

func (m *Manager) GetMany(namespace string, keys []string) map[string]interface{} {
	store, prefix := m.resolve(namespace)

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = prefix + key
	}

	raw := store.GetMany(prefixed)
	result := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		result[key[len(prefix):]] = value
	}
	return result
}

func (m *Manager) SetMany(namespace string, items map[string]interface{}, ttl time.Duration) error {
	store, prefix := m.resolve(namespace)
	for key, value := range items {
		if err := store.Set(prefix+key, value, ttl); err != nil {
			return err
		}
	}
	return nil
}

// Preload bulk-sets a mapping into one namespace for cache warming.
func (m *Manager) Preload(namespace string, data map[string]interface{}, ttl time.Duration) error {
	return m.SetMany(namespace, data, ttl)
}

// InvalidateGuild removes every key belonging to guildID from every
// namespace and returns the number of entries dropped. Each store is
// scanned in full under its own lock.
func (m *Manager) InvalidateGuild(guildID string) int {
	if guildID == "" {
		return 0
	}

	total := 0
	for namespace, store := range m.stores {
		removed := store.DeleteByPrefix(m.prefixes[namespace] + guildID + ":")
		total += removed
	}

	if total > 0 && m.logger != nil {
		m.logger.Debug("Guild cache invalidated",
			zap.String("guild_id", guildID),
			zap.Int("removed", total))
	}

	return total
}

func (m *Manager) Stats(namespace string) types.CacheStats {
	store, _ := m.resolve(namespace)
	return store.Stats()
}

func (m *Manager) AllStats() map[string]types.CacheStats {
	stats := make(map[string]types.CacheStats, len(m.stores))
	for namespace, store := range m.stores {
		stats[namespace] = store.Stats()
	}
	return stats
}

func (m *Manager) GymData(guildID, gymID string) (interface{}, bool) {
	return m.Get(types.NamespaceGym, GuildKey(guildID, gymID))
}

func (m *Manager) SetGymData(guildID, gymID string, value interface{}, ttl time.Duration) error {
	return m.Set(types.NamespaceGym, GuildKey(guildID, gymID), value, ttl)
}

func (m *Manager) DeleteGymData(guildID, gymID string) bool {
	return m.Delete(types.NamespaceGym, GuildKey(guildID, gymID))
}

func (m *Manager) UserProgress(guildID, userID string) (interface{}, bool) {
	return m.Get(types.NamespaceProgress, GuildKey(guildID, userID))
}

func (m *Manager) SetUserProgress(guildID, userID string, value interface{}, ttl time.Duration) error {
	return m.Set(types.NamespaceProgress, GuildKey(guildID, userID), value, ttl)
}

func (m *Manager) DeleteUserProgress(guildID, userID string) bool {
	return m.Delete(types.NamespaceProgress, GuildKey(guildID, userID))
}

func (m *Manager) LeaderboardPage(guildID, page string) (interface{}, bool) {
	return m.Get(types.NamespaceLeaderboard, GuildKey(guildID, page))
}

func (m *Manager) SetLeaderboardPage(guildID, page string, value interface{}, ttl time.Duration) error {
	return m.Set(types.NamespaceLeaderboard, GuildKey(guildID, page), value, ttl)
}

func (m *Manager) DeleteLeaderboardPage(guildID, page string) bool {
	return m.Delete(types.NamespaceLeaderboard, GuildKey(guildID, page))
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		if m.logger != nil {
			m.logger.Warn("Cache manager is already running")
		}
		return types.ErrAlreadyRunning
	}

	defer func() {
		if m.getState() == ManagerStateStarting {
			m.setState(ManagerStateRunning)
		}
	}()

	// Each run gets its own context and sweep channels so a stopped
	// manager can be started again.
	sweepCtx, cancel := context.WithCancel(m.parentCtx)
	m.cancel = cancel
	m.stopSweep = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go m.sweepLoop(sweepCtx, m.stopSweep, m.sweepDone)

	if m.logger != nil {
		m.logger.Info("Cache manager started",
			zap.Int("namespaces", len(m.stores)),
			zap.Duration("sweep_interval", m.sweepInterval))
	}
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		if m.logger != nil {
			m.logger.Warn("Cache manager is not running")
		}
		return types.ErrNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
	}()

	m.cancel()

	select {
	case m.stopSweep <- struct{}{}:
	case <-time.After(time.Second):
	}

	select {
	case <-m.sweepDone:
		if m.logger != nil {
			m.logger.Debug("Sweep loop stopped")
		}
	case <-time.After(m.shutdownTimeout):
		if m.logger != nil {
			m.logger.Warn("Sweep loop stop timeout")
		}
	}

	if m.logger != nil {
		m.logger.Info("Cache manager stopped gracefully")
	}
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

// sweepLoop wakes on a fixed interval and cleans expired entries out of
// every store. The loop only holds a store's lock inside CleanupExpired,
// never across the sleep, and re-checks the stop signals between cycles.
// The context and channels belong to one Start/Stop cycle.
func (m *Manager) sweepLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep runs one cleanup cycle. A failure in one store is logged and must
// not stop the remaining stores or kill the loop.
func (m *Manager) sweep() {
	total := 0
	for namespace, store := range m.stores {
		total += m.sweepStore(namespace, store)
	}

	if total > 0 && m.logger != nil {
		m.logger.Debug("Cache sweep removed expired entries", zap.Int("removed", total))
	}
}

func (m *Manager) sweepStore(namespace string, store *Store) (removed int) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("Cache sweep failed for namespace",
				zap.String("namespace", namespace),
				zap.Any("panic", r))
		}
	}()

	return store.CleanupExpired()
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}
