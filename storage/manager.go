package storage

import (
	"context"
	"sync/atomic"
	"time"

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

var customStorageCreators = make(map[string]types.StorageManagerCreator)

func RegisterStorageManager(storageType string, creator types.StorageManagerCreator) {
	customStorageCreators[storageType] = creator
}

func NewManager(ctx context.Context, config types.ConfigManager, logger types.Logger) (types.StorageManager, error) {
	storageConfig := config.GetConfig().Storage

	if storageConfig == nil || !storageConfig.Enabled {
		return nil, types.ErrStorageIsDisabled
	}

	var impl types.StorageManager
	var err error

	switch storageConfig.Type {
	case "memory":
		impl, err = NewMemoryStorage(ctx, logger, storageConfig)
	case "clover":
		impl, err = NewCloverStorage(ctx, logger, storageConfig)
	case "sqlite":
		impl, err = NewSQLiteStorage(ctx, logger, storageConfig)
	default:
		if creator, exists := customStorageCreators[storageConfig.Type]; exists {
			impl, err = creator(storageConfig)
		} else {
			return nil, types.Errorf(types.ErrStorageTypeUnknown, "type: %s", storageConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	return newInstrumentedStorageManager(logger, impl), nil
}

type instrumentedStorageManager struct {
	impl   types.StorageManager
	logger types.Logger
	state  atomic.Value
}

func newInstrumentedStorageManager(logger types.Logger, impl types.StorageManager) types.StorageManager {
	instrumented := &instrumentedStorageManager{
		impl:   impl,
		logger: logger,
	}

	instrumented.state.Store(StateStopped)
	return instrumented
}

func (sm *instrumentedStorageManager) Start() error {
	if !sm.transitionState(StateStopped, StateStarting) {
		return types.ErrAlreadyRunning
	}

	defer func() {
		if sm.getState() == StateStarting {
			sm.setState(StateRunning)
		}
	}()

	if err := sm.impl.Start(); err != nil {
		sm.setState(StateStopped)
		return err
	}

	sm.logger.Info("Storage manager started")
	return nil
}

func (sm *instrumentedStorageManager) Stop() error {
	if !sm.transitionState(StateRunning, StateStopping) {
		return types.ErrNotRunning
	}

	defer func() {
		sm.setState(StateStopped)
	}()

	if err := sm.impl.Stop(); err != nil {
		sm.logger.Error("Failed to stop storage implementation", zap.Error(err))
		return err
	}

	sm.logger.Info("Storage manager stopped gracefully")
	return nil
}

func (sm *instrumentedStorageManager) IsRunning() bool {
	return sm.getState() == StateRunning
}

func (sm *instrumentedStorageManager) CreateDocuments(ctx context.Context, request types.CreateDocumentsRequest) ([]string, error) {
	return sm.impl.CreateDocuments(ctx, request)
}

func (sm *instrumentedStorageManager) ReadDocuments(ctx context.Context, request types.ReadDocumentsRequest) ([]map[string]interface{}, int64, error) {
	return sm.impl.ReadDocuments(ctx, request)
}

func (sm *instrumentedStorageManager) UpdateDocuments(ctx context.Context, request types.UpdateDocumentsRequest) (int64, error) {
	return sm.impl.UpdateDocuments(ctx, request)
}

func (sm *instrumentedStorageManager) DeleteDocuments(ctx context.Context, request types.DeleteDocumentsRequest) (int64, error) {
	return sm.impl.DeleteDocuments(ctx, request)
}

func (sm *instrumentedStorageManager) CountSince(ctx context.Context, collection string, filter map[string]interface{}, since time.Time) (int64, error) {
	return sm.impl.CountSince(ctx, collection, filter, since)
}

func (sm *instrumentedStorageManager) CreateCollection(collectionName string) error {
	return sm.impl.CreateCollection(collectionName)
}

func (sm *instrumentedStorageManager) DropCollection(collectionName string) error {
	return sm.impl.DropCollection(collectionName)
}

func (sm *instrumentedStorageManager) getState() State {
	return sm.state.Load().(State)
}

func (sm *instrumentedStorageManager) setState(newState State) bool {
	currentState := sm.getState()
	return sm.state.CompareAndSwap(currentState, newState)
}

func (sm *instrumentedStorageManager) transitionState(from, to State) bool {
	return sm.state.CompareAndSwap(from, to)
}
