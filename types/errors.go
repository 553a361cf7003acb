package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheNamespaceEmpty  = errors.New("cache namespace empty")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheIsDisabled      = errors.New("cache manager is disabled")
	ErrCacheTypeUnknown     = errors.New("cache type unknown")
)

var (
	ErrStorageIsDisabled       = errors.New("storage manager is disabled")
	ErrStorageTypeUnknown      = errors.New("storage type unknown")
	ErrStorageCollectionExists = errors.New("storage collection exists")
	ErrStorageInvalidDocument  = errors.New("storage invalid document")
	ErrStorageQueryFailed      = errors.New("storage query failed")
)

var (
	ErrGateIsDisabled      = errors.New("submission gate is disabled")
	ErrSubmissionLimit     = errors.New("submission limit reached")
	ErrGymNotFound         = errors.New("gym not found")
	ErrGymExists           = errors.New("gym exists")
	ErrGymInactive         = errors.New("gym inactive")
	ErrProgressNotFound    = errors.New("progress not found")
	ErrFeedbackEmpty       = errors.New("feedback text empty")
	ErrLeaderboardNotReady = errors.New("leaderboard not ready")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
	ErrMetricsIsDisabled  = errors.New("metrics manager is disabled")
)

var (
	ErrGatewayNotConnected  = errors.New("gateway not connected")
	ErrGatewayConfigInvalid = errors.New("gateway config invalid")
	ErrEventTypeEmpty       = errors.New("event type empty")
	ErrHandlerIsNil         = errors.New("handler is nil")
	ErrHandlerPanicked      = errors.New("handler panicked")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrAlreadyRunning       = errors.New("already running")
	ErrNotRunning           = errors.New("not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNotFound             = errors.New("not found")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
