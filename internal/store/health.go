package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/health"
)

// ConnectionHealthChecker reports whether the Olric listener answers.
type ConnectionHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewConnectionHealthChecker creates a connection checker for s.
func NewConnectionHealthChecker(logger *zap.Logger, s Store) *ConnectionHealthChecker {
	return &ConnectionHealthChecker{logger: logger, store: s}
}

// Name returns the name of the health check.
func (c *ConnectionHealthChecker) Name() string {
	return "olric-connection"
}

// Check pings the store.
func (c *ConnectionHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := c.store.Ping(checkCtx)

	result := health.CheckResult{
		Name:      c.Name(),
		Status:    health.StatusOK,
		Message:   "Olric connection healthy",
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Olric connection failed: %v", err)
		c.logger.Warn("Olric connection check failed", zap.Error(err))
	}
	return result
}

// ClusterHealthChecker reports whether enough members are present for
// snapshots to be shared.
type ClusterHealthChecker struct {
	logger     *zap.Logger
	store      Store
	quorum     int
	singleNode bool
}

// NewClusterHealthChecker creates a cluster checker. In single-node mode
// the check always passes.
func NewClusterHealthChecker(logger *zap.Logger, s Store, quorum int, singleNode bool) *ClusterHealthChecker {
	return &ClusterHealthChecker{
		logger:     logger,
		store:      s,
		quorum:     quorum,
		singleNode: singleNode,
	}
}

// Name returns the name of the health check.
func (c *ClusterHealthChecker) Name() string {
	return "olric-cluster"
}

// Check compares the member count against the quorum.
func (c *ClusterHealthChecker) Check(ctx context.Context) (result health.CheckResult) {
	start := time.Now()
	result = health.CheckResult{
		Name:      c.Name(),
		Timestamp: start,
	}
	defer func() { result.Duration = time.Since(start) }()

	if c.singleNode {
		result.Status = health.StatusOK
		result.Message = "Running in single-node mode"
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := c.store.Stats(checkCtx)
	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to get cluster stats: %v", err)
		c.logger.Warn("Cluster health check failed", zap.Error(err))
		return result
	}

	if stats.ClusterMembers < c.quorum {
		result.Status = health.StatusNotReady
		result.Message = fmt.Sprintf("Cluster has %d members, quorum requires %d", stats.ClusterMembers, c.quorum)
		return result
	}

	result.Status = health.StatusOK
	result.Message = fmt.Sprintf("Cluster healthy with %d members (quorum: %d)", stats.ClusterMembers, c.quorum)
	return result
}

// StorageHealthChecker writes, reads back and deletes a probe key.
type StorageHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewStorageHealthChecker creates a read/write checker for s.
func NewStorageHealthChecker(logger *zap.Logger, s Store) *StorageHealthChecker {
	return &StorageHealthChecker{logger: logger, store: s}
}

// Name returns the name of the health check.
func (s *StorageHealthChecker) Name() string {
	return "olric-storage"
}

// Check performs the round trip.
func (s *StorageHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()
	result := health.CheckResult{
		Name:      s.Name(),
		Timestamp: start,
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	key := fmt.Sprintf("health-check-%d", start.UnixNano())
	const want = "healthy"

	fail := func(msg string, err error) health.CheckResult {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("%s: %v", msg, err)
		result.Duration = time.Since(start)
		s.logger.Warn("Storage health check failed", zap.String("step", msg), zap.Error(err))
		return result
	}

	if err := s.store.Put(checkCtx, key, want, 5*time.Second); err != nil {
		return fail("Failed to write test key", err)
	}
	defer func() { _ = s.store.Delete(context.Background(), key) }()

	got, err := s.store.Get(checkCtx, key)
	if err != nil {
		return fail("Failed to read test key", err)
	}
	if got != want {
		return fail("Test key value mismatch", fmt.Errorf("got %q, want %q", got, want))
	}

	result.Status = health.StatusOK
	result.Message = "Storage read/write operations working"
	result.Duration = time.Since(start)
	return result
}
