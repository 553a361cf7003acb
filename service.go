package gymbot

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/guildgym/gymbot/bot"
	"github.com/guildgym/gymbot/cache"
	"github.com/guildgym/gymbot/config"
	"github.com/guildgym/gymbot/cron"
	"github.com/guildgym/gymbot/feedback"
	"github.com/guildgym/gymbot/gate"
	"github.com/guildgym/gymbot/gym"
	"github.com/guildgym/gymbot/health"
	"github.com/guildgym/gymbot/leaderboard"
	"github.com/guildgym/gymbot/logger"
	"github.com/guildgym/gymbot/metrics"
	"github.com/guildgym/gymbot/moderation"
	"github.com/guildgym/gymbot/platform"
	"github.com/guildgym/gymbot/progress"
	"github.com/guildgym/gymbot/storage"
	"github.com/guildgym/gymbot/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service assembles and runs every component of the bot. Components are
// held as explicit fields and started in dependency order; the optional
// ones (metrics, cron, gateway) stay nil when their config block is
// disabled.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration

	Config  types.ConfigManager
	Logger  types.Logger
	Metrics types.MetricsManager
	Health  types.HealthManager
	Storage types.StorageManager
	Cache   types.CacheManager
	Cron    types.CronManager
	Gateway types.GatewayClient

	Gyms        *gym.Service
	Progress    *progress.Service
	Leaderboard *leaderboard.Service
	Moderation  *moderation.Service
	Feedback    *feedback.Service
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "config file does not exist")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
	}
	service.state.Store(StateStopped)

	if err := service.build(configPath); err != nil {
		cancel()
		return nil, err
	}

	return service, nil
}

// build wires the component graph bottom-up: config and logger first,
// then the infrastructure managers, then the domain services, and the
// gateway handlers last.
func (s *Service) build(configPath string) error {
	configManager, err := config.NewConfigurationManager(s.ctx, configPath)
	if err != nil {
		return types.WrapError(err, "failed to build config manager")
	}
	s.Config = configManager

	serviceConfig := configManager.GetConfig()

	loggerManager, err := logger.NewDefaultLogger(serviceConfig.Logger)
	if err != nil {
		return types.WrapError(err, "failed to build logger")
	}
	s.Logger = loggerManager

	if serviceConfig.Metrics != nil && serviceConfig.Metrics.Enabled {
		s.Metrics, err = metrics.NewManager(s.ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to build metrics manager")
		}
	}

	if serviceConfig.Health == nil || serviceConfig.Health.Enabled {
		s.Health, err = health.NewManager(configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to build health manager")
		}
	}

	s.Storage, err = storage.NewManager(s.ctx, configManager, loggerManager)
	if err != nil {
		return types.WrapError(err, "failed to build storage manager")
	}

	s.Cache, err = cache.NewCacheManager(s.ctx, configManager, loggerManager, s.Metrics)
	if err != nil {
		return types.WrapError(err, "failed to build cache manager")
	}

	if serviceConfig.Cron != nil && serviceConfig.Cron.Enabled {
		s.Cron, err = cron.NewManager(configManager, loggerManager, s.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build cron manager")
		}
	}

	var submissionGate, feedbackGate *gate.SubmissionGate
	if serviceConfig.Gates != nil && serviceConfig.Gates.Enabled {
		submissionGate = gate.NewSubmissionGate(s.Storage, loggerManager,
			types.CollectionSubmissions, serviceConfig.Gates.Submissions, nil)
		feedbackGate = gate.NewSubmissionGate(s.Storage, loggerManager,
			types.CollectionFeedback, serviceConfig.Gates.Feedback, nil)
	} else {
		submissionGate = gate.NewSubmissionGate(s.Storage, loggerManager,
			types.CollectionSubmissions, nil, nil)
		feedbackGate = gate.NewSubmissionGate(s.Storage, loggerManager,
			types.CollectionFeedback, nil, nil)
	}

	s.Gyms = gym.NewService(s.Storage, s.Cache, submissionGate, loggerManager)
	s.Progress = progress.NewService(s.Storage, s.Cache, loggerManager)
	s.Leaderboard = leaderboard.NewService(s.Storage, s.Cache, loggerManager, serviceConfig.Leaderboard)
	s.Moderation = moderation.NewService(s.Storage, s.Cache, loggerManager)
	s.Feedback = feedback.NewService(s.Storage, feedbackGate, loggerManager)

	if s.Cron != nil {
		if err := s.Leaderboard.Register(s.ctx, s.Cron, serviceConfig.Leaderboard); err != nil {
			return types.WrapError(err, "failed to schedule leaderboard recompute")
		}
	}

	if serviceConfig.Gateway != nil && serviceConfig.Gateway.Enabled {
		s.Gateway, err = platform.NewGateway(s.ctx, loggerManager, serviceConfig.Gateway, s.Metrics)
		if err != nil {
			return types.WrapError(err, "failed to build gateway")
		}

		handlers := bot.NewHandlers(s.Gateway, s.Gyms, s.Progress, s.Leaderboard,
			s.Moderation, s.Feedback, loggerManager)
		if err := handlers.Register(); err != nil {
			return types.WrapError(err, "failed to register event handlers")
		}
	}

	if s.Health != nil {
		s.Health.RegisterChecker("storage", health.RunningChecker("storage", s.Storage))
		s.Health.RegisterChecker("cache", health.RunningChecker("cache", s.Cache))
		if s.Cron != nil {
			s.Health.RegisterChecker("cron", health.RunningChecker("cron", s.Cron))
		}
		if s.Gateway != nil {
			s.Health.RegisterChecker("gateway", health.RunningChecker("gateway", s.Gateway))
		}
	}

	return nil
}

// Run starts every component, blocks until shutdown is requested, then
// stops them in reverse order.
func (s *Service) Run() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	if err := s.startComponents(); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.Logger.Info("Service started",
		zap.String("name", s.Config.GetConfig().Name),
		zap.String("version", s.Config.GetConfig().Version))

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.Logger.Error("Error during shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.Logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	s.Logger.Info("Stopping service...")
	s.cancel()
	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) startComponents() error {
	ordered := []struct {
		name    string
		manager types.LifecycleManager
	}{
		{"health", s.Health},
		{"metrics", s.Metrics},
		{"storage", s.Storage},
		{"cache", s.Cache},
		{"cron", s.Cron},
		{"gateway", s.Gateway},
	}

	started := make([]types.LifecycleManager, 0, len(ordered))

	for _, component := range ordered {
		if component.manager == nil {
			continue
		}

		if err := component.manager.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop()
			}
			return types.WrapError(err, "failed to start "+component.name)
		}
		started = append(started, component.manager)
	}

	return nil
}

func (s *Service) stopComponents() error {
	s.Logger.Info("Stopping service components...")

	// The gateway goes first so no new events arrive while the rest
	// shuts down; storage goes last so in-flight handlers keep their
	// backend.
	if s.Gateway != nil {
		if err := s.Gateway.Stop(); err != nil {
			s.Logger.Error("Failed to stop gateway", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, _ := errgroup.WithContext(ctx)

	for _, manager := range []types.LifecycleManager{s.Cron, s.Cache, s.Metrics, s.Health} {
		if manager == nil {
			continue
		}
		m := manager
		g.Go(func() error {
			return m.Stop()
		})
	}

	var errs []error
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := s.Storage.Stop(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return types.Errorf(types.ErrComponentStopFailed, "%v", errs)
	}

	s.Logger.Info("All components stopped")
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.Logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}
		case <-s.ctx.Done():
		}

		signal.Stop(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	if types.IsError(s.ctx.Err(), context.Canceled) {
		s.Logger.Info("Service shutdown: context cancelled")
	} else {
		s.Logger.Warn("Service shutdown: context done", zap.Error(s.ctx.Err()))
	}
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}
