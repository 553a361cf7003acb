package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
)

const checkTimeout = 5 * time.Second

// Manager runs named health checkers on demand and folds the results
// into a single report. Checkers run concurrently under one timeout; a
// checker that panics counts as unhealthy rather than taking the
// process down.
type Manager struct {
	logger    types.Logger
	name      string
	version   string
	checkers  map[string]types.HealthChecker
	startedAt time.Time
	running   int32
	mu        sync.RWMutex
}

func NewManager(config types.ConfigManager, logger types.Logger) (types.HealthManager, error) {
	serviceConfig := config.GetConfig()

	return &Manager{
		logger:   logger,
		name:     serviceConfig.Name,
		version:  serviceConfig.Version,
		checkers: make(map[string]types.HealthChecker),
	}, nil
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	m.startedAt = time.Now()
	m.logger.Info("Health manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrNotRunning
	}

	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *Manager) RegisterChecker(name string, checker types.HealthChecker) {
	if name == "" || checker == nil {
		return
	}

	m.mu.Lock()
	m.checkers[name] = checker
	m.mu.Unlock()

	m.logger.Debug("Health checker registered", zap.String("checker", name))
}

func (m *Manager) Check(ctx context.Context) types.HealthReport {
	m.mu.RLock()
	checkers := make(map[string]types.HealthChecker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make(map[string]types.HealthCheck, len(checkers))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker types.HealthChecker) {
			defer wg.Done()
			check := m.runChecker(checkCtx, name, checker)

			resultsMu.Lock()
			results[name] = check
			resultsMu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	report := types.HealthReport{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startedAt),
		Service: types.ServiceInfo{
			Name:    m.name,
			Version: m.version,
		},
		Checks: results,
	}

	for _, check := range results {
		report.Summary.Total++
		switch check.Status {
		case types.StatusHealthy:
			report.Summary.Healthy++
		case types.StatusUnhealthy:
			report.Summary.Unhealthy++
			report.Status = types.StatusUnhealthy
		default:
			report.Summary.Unknown++
			if report.Status == types.StatusHealthy {
				report.Status = types.StatusUnknown
			}
		}
	}

	return report
}

func (m *Manager) runChecker(ctx context.Context, name string, checker types.HealthChecker) (check types.HealthCheck) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Health checker panicked",
				zap.String("checker", name),
				zap.Any("panic", r))

			check = types.HealthCheck{
				Name:    name,
				Status:  types.StatusUnhealthy,
				Message: "checker panicked",
			}
		}

		check.LastCheck = start
		check.Duration = time.Since(start)
	}()

	return checker(ctx)
}

// RunningChecker reports healthy while the component answers IsRunning.
func RunningChecker(name string, component types.LifecycleManager) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		check := types.HealthCheck{Name: name}
		if component.IsRunning() {
			check.Status = types.StatusHealthy
		} else {
			check.Status = types.StatusUnhealthy
			check.Message = "component not running"
		}
		return check
	}
}
