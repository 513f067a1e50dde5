// Package scheduler runs the periodic release scan.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/n3tuk/time-locked-savings/internal/health"
	"github.com/n3tuk/time-locked-savings/internal/ledger"
	"github.com/n3tuk/time-locked-savings/internal/metrics"
	"github.com/n3tuk/time-locked-savings/internal/model"
)

// Ledger is the part of the ledger the scanner drives.
type Ledger interface {
	ScanAll(ctx context.Context) []model.ReleaseEvent
	Totals() ledger.Totals
}

// Scanner calls ScanAll on a fixed interval until stopped.
type Scanner struct {
	logger   *zap.Logger
	ledger   Ledger
	metrics  *metrics.Metrics
	interval time.Duration

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	startedAt time.Time
	lastRun   time.Time
	lastN     int
}

// NewScanner creates a scanner. m may be nil.
func NewScanner(logger *zap.Logger, l Ledger, m *metrics.Metrics, interval time.Duration) *Scanner {
	return &Scanner{
		logger:   logger,
		ledger:   l,
		metrics:  m,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins scanning in the background.
func (s *Scanner) Start() {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Starting release scanner", zap.Duration("interval", s.interval))
	go s.run()
}

// Stop halts the scanner and waits for an in-flight scan to finish. It
// is safe to call more than once, and before Start.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })

	s.mu.RLock()
	started := !s.startedAt.IsZero()
	s.mu.RUnlock()
	if started {
		<-s.doneChan
	}
}

func (s *Scanner) run() {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunOnce(context.Background(), "timer")
		case <-s.stopChan:
			s.logger.Info("Stopping release scanner")
			return
		}
	}
}

// RunOnce performs a single scan over every account and returns the
// releases it made. trigger labels the scan in metrics.
func (s *Scanner) RunOnce(ctx context.Context, trigger string) []model.ReleaseEvent {
	start := time.Now()
	released := s.ledger.ScanAll(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.lastRun = start
	s.lastN = len(released)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordScan(trigger, elapsed)
		t := s.ledger.Totals()
		s.metrics.SetLedgerGauges(t.Accounts, t.ActiveLockBoxes)
	}

	if len(released) > 0 {
		s.logger.Info("Release scan completed",
			zap.String("trigger", trigger),
			zap.Int("released", len(released)),
			zap.Duration("duration", elapsed),
		)
	} else {
		s.logger.Debug("Release scan completed",
			zap.String("trigger", trigger),
			zap.Duration("duration", elapsed),
		)
	}
	return released
}

// LastRun returns when the last scan started and how many boxes it
// released. The time is zero before the first scan.
func (s *Scanner) LastRun() (time.Time, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastN
}

// Name returns the name of the health check.
func (s *Scanner) Name() string {
	return "scanner"
}

// Check reports the scanner as stalled when no scan has started within
// three intervals.
func (s *Scanner) Check(ctx context.Context) health.CheckResult {
	now := time.Now()

	s.mu.RLock()
	startedAt, last := s.startedAt, s.lastRun
	s.mu.RUnlock()

	result := health.CheckResult{
		Name:      s.Name(),
		Status:    health.StatusOK,
		Timestamp: now,
	}

	switch {
	case startedAt.IsZero():
		result.Status = health.StatusStarting
		result.Message = "Scanner not started"
	case last.IsZero():
		if now.Sub(startedAt) > 3*s.interval {
			result.Status = health.StatusError
			result.Message = "Scanner has not run"
		} else {
			result.Message = "Waiting for first scan"
		}
	case now.Sub(last) > 3*s.interval:
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Last scan ran %s ago", now.Sub(last).Round(time.Second))
	default:
		result.Message = fmt.Sprintf("Last scan ran at %s", last.Format(time.RFC3339))
	}

	result.Duration = time.Since(now)
	return result
}
