package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/metrics"
)

// Manager runs registered checks concurrently and caches their results.
type Manager struct {
	logger        *zap.Logger
	metrics       *metrics.Metrics
	cacheDuration time.Duration
	checkTimeout  time.Duration

	mu       sync.RWMutex
	checkers map[string]Checker

	cacheMutex sync.RWMutex
	cache      map[string]*cachedResult

	readiness *ReadinessChecker
}

type cachedResult struct {
	result    CheckResult
	expiresAt time.Time
}

// NewManager creates a manager. m may be nil.
func NewManager(logger *zap.Logger, m *metrics.Metrics, cacheDuration, checkTimeout time.Duration) *Manager {
	return &Manager{
		logger:        logger,
		metrics:       m,
		cacheDuration: cacheDuration,
		checkTimeout:  checkTimeout,
		checkers:      make(map[string]Checker),
		cache:         make(map[string]*cachedResult),
	}
}

// RegisterChecker adds a checker, replacing any with the same name.
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkers[checker.Name()] = checker
	if r, ok := checker.(*ReadinessChecker); ok {
		m.readiness = r
	}
}

// SetLoaded forwards to the registered readiness checker.
func (m *Manager) SetLoaded(loaded bool) {
	if r := m.readinessChecker(); r != nil {
		r.SetLoaded(loaded)
	}
}

// SetShuttingDown forwards to the registered readiness checker.
func (m *Manager) SetShuttingDown(shuttingDown bool) {
	if r := m.readinessChecker(); r != nil {
		r.SetShuttingDown(shuttingDown)
	}
}

func (m *Manager) readinessChecker() *ReadinessChecker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readiness
}

// CheckAll runs every registered check concurrently.
func (m *Manager) CheckAll(ctx context.Context) []CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	resultChan := make(chan CheckResult, len(checkers))
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			resultChan <- m.runCheck(ctx, c)
		}(c)
	}
	wg.Wait()
	close(resultChan)

	results := make([]CheckResult, 0, len(checkers))
	for r := range resultChan {
		results = append(results, r)
	}
	return results
}

// runCheck runs a single check with timeout and caching.
func (m *Manager) runCheck(ctx context.Context, checker Checker) CheckResult {
	name := checker.Name()
	if cached := m.getCachedResult(name); cached != nil {
		return *cached
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	done := make(chan CheckResult, 1)
	go func() { done <- checker.Check(checkCtx) }()

	var result CheckResult
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = CheckResult{
			Name:      name,
			Status:    StatusError,
			Message:   "Health check timed out",
			Timestamp: time.Now(),
			Duration:  m.checkTimeout,
		}
	}

	m.record(result)
	m.cacheResult(name, result)
	return result
}

func (m *Manager) record(result CheckResult) {
	if m.metrics == nil {
		return
	}
	if result.Status == StatusOK {
		m.metrics.HealthCheckStatus.WithLabelValues(result.Name).Set(1)
		return
	}
	m.metrics.HealthCheckStatus.WithLabelValues(result.Name).Set(0)
	if result.Status == StatusError {
		m.metrics.HealthCheckFailuresTotal.WithLabelValues(result.Name).Inc()
	}
}

func (m *Manager) getCachedResult(name string) *CheckResult {
	m.cacheMutex.RLock()
	defer m.cacheMutex.RUnlock()

	if cached, ok := m.cache[name]; ok && time.Now().Before(cached.expiresAt) {
		r := cached.result
		return &r
	}
	return nil
}

func (m *Manager) cacheResult(name string, result CheckResult) {
	m.cacheMutex.Lock()
	defer m.cacheMutex.Unlock()

	m.cache[name] = &cachedResult{
		result:    result,
		expiresAt: time.Now().Add(m.cacheDuration),
	}
}

// GetLivenessStatus confirms the process is alive.
func (m *Manager) GetLivenessStatus() LivenessResponse {
	return LivenessResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
	}
}

// GetReadinessStatus aggregates every check. The service is ready only
// when all of them pass; an error in any check takes precedence over a
// check that is still starting.
func (m *Manager) GetReadinessStatus(ctx context.Context) ReadinessResponse {
	results := m.CheckAll(ctx)

	resp := ReadinessResponse{
		Status:    StatusOK,
		Timestamp: time.Now(),
		Checks:    make(map[string]Status, len(results)),
	}
	for _, r := range results {
		resp.Checks[r.Name] = r.Status
		switch {
		case r.Status == StatusError:
			resp.Status = StatusError
		case r.Status != StatusOK && resp.Status != StatusError:
			resp.Status = r.Status
		}
	}
	resp.Ready = resp.Status == StatusOK
	return resp
}
