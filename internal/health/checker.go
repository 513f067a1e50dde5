package health

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ReadinessChecker tracks the process lifecycle: not ready until the
// ledger is loaded, and not ready again once shutdown begins.
type ReadinessChecker struct {
	logger       *zap.Logger
	loaded       atomic.Bool
	shuttingDown atomic.Bool
}

// NewReadinessChecker creates a readiness checker.
func NewReadinessChecker(logger *zap.Logger) *ReadinessChecker {
	return &ReadinessChecker{logger: logger}
}

// Name returns the name of the health check.
func (r *ReadinessChecker) Name() string {
	return "readiness"
}

// SetLoaded marks the ledger as loaded.
func (r *ReadinessChecker) SetLoaded(loaded bool) {
	r.loaded.Store(loaded)
}

// SetShuttingDown marks the service as shutting down.
func (r *ReadinessChecker) SetShuttingDown(shuttingDown bool) {
	r.shuttingDown.Store(shuttingDown)
}

// Check performs the health check.
func (r *ReadinessChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      r.Name(),
		Status:    StatusOK,
		Message:   "Ledger loaded",
		Timestamp: start,
	}

	switch {
	case r.shuttingDown.Load():
		result.Status = StatusNotReady
		result.Message = "Service shutting down"
	case !r.loaded.Load():
		result.Status = StatusStarting
		result.Message = "Ledger not loaded"
	}

	result.Duration = time.Since(start)
	return result
}

// Writable is implemented by storage that can verify it accepts writes.
type Writable interface {
	Writable() error
}

// StorageChecker reports whether the snapshot storage accepts writes, so
// a shutdown flush is expected to succeed.
type StorageChecker struct {
	logger  *zap.Logger
	storage Writable
}

// NewStorageChecker creates a storage checker.
func NewStorageChecker(logger *zap.Logger, storage Writable) *StorageChecker {
	return &StorageChecker{logger: logger, storage: storage}
}

// Name returns the name of the health check.
func (s *StorageChecker) Name() string {
	return "storage"
}

// Check performs the health check.
func (s *StorageChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      s.Name(),
		Status:    StatusOK,
		Message:   "Data directory writable",
		Timestamp: start,
	}

	if err := s.storage.Writable(); err != nil {
		result.Status = StatusError
		result.Message = fmt.Sprintf("Data directory not writable: %v", err)
		s.logger.Warn("Storage health check failed", zap.Error(err))
	}

	result.Duration = time.Since(start)
	return result
}
