package cron

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/guildgym/gymbot/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Manager schedules recurring jobs on a robfig cron scheduler. Specs use
// six fields, seconds first.
type Manager struct {
	logger  types.Logger
	metrics types.MetricsManager
	cron    *cron.Cron
	jobs    map[string]*types.JobEntry
	state   atomic.Value
	mu      sync.RWMutex
}

func NewManager(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.CronManager, error) {
	timezone := time.UTC
	if cronConfig := config.GetConfig().Cron; cronConfig != nil && cronConfig.Timezone != "" {
		loc, err := time.LoadLocation(cronConfig.Timezone)
		if err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, falling back to UTC",
				zap.String("timezone", cronConfig.Timezone))
		}
	}

	manager := &Manager{
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithLocation(timezone),
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cronLogger{logger: logger})),
		),
		jobs: make(map[string]*types.JobEntry),
	}

	manager.state.Store(StateStopped)
	return manager, nil
}

func (m *Manager) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	wrapped := m.wrapJob(jobName, job)
	entryID, err := m.cron.AddFunc(spec, wrapped)
	if err != nil {
		return types.WrapError(err, "failed to add cron job")
	}

	m.jobs[jobName] = &types.JobEntry{
		ID:      entryID,
		Name:    jobName,
		Spec:    spec,
		Job:     wrapped,
		AddedAt: time.Now(),
	}

	m.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (m *Manager) Remove(jobName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[jobName]
	if !exists {
		return types.ErrCronJobNotFound
	}

	m.cron.Remove(entry.ID)
	delete(m.jobs, jobName)

	m.logger.Info("Cron job removed", zap.String("job_name", jobName))
	return nil
}

func (m *Manager) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	m.cron.Start()
	m.setState(StateRunning)
	m.setSchedulerStatus(1)

	m.logger.Info("Cron manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer m.setState(StateStopped)

	// Stop returns once scheduled entries are no longer fired; jobs
	// already in flight run to completion first.
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()

	m.setSchedulerStatus(0)
	m.logger.Info("Cron manager stopped gracefully")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *Manager) wrapJob(jobName string, job func()) func() {
	return func() {
		startTime := time.Now()
		m.logger.Debug("Cron job started", zap.String("job_name", jobName))

		var failed bool
		func() {
			defer func() {
				if r := recover(); r != nil {
					failed = true
					m.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
			}()
			job()
		}()

		duration := time.Since(startTime)

		m.mu.Lock()
		if entry, exists := m.jobs[jobName]; exists {
			entry.LastRun = startTime
			entry.RunCount++
		}
		m.mu.Unlock()

		result := "success"
		if failed {
			result = "error"
		}
		m.incJobExecutionsCounter(jobName, result)
		m.observeJobDuration(jobName, duration.Seconds())

		m.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

func (m *Manager) incJobExecutionsCounter(jobName, result string) {
	if m.metrics == nil {
		return
	}

	m.metrics.Counter("cron_job_executions_total", map[string]string{
		"job_name": jobName,
		"result":   result,
	}).Inc()
}

func (m *Manager) observeJobDuration(jobName string, seconds float64) {
	if m.metrics == nil {
		return
	}

	m.metrics.Histogram("cron_job_duration_seconds",
		[]float64{0.1, 1.0, 10.0, 60.0, 300.0},
		map[string]string{"job_name": jobName},
	).Observe(seconds)
}

func (m *Manager) setSchedulerStatus(value float64) {
	if m.metrics == nil {
		return
	}
	m.metrics.Gauge("cron_scheduler_running", nil).Set(value)
}

func (m *Manager) getState() State {
	return m.state.Load().(State)
}

func (m *Manager) setState(newState State) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

// cronLogger adapts types.Logger to the cron.Logger the Recover chain
// wants.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, toZapFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := toZapFields(keysAndValues)
	fields = append(fields, zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toZapFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		fields = append(fields, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
