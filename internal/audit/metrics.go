package audit

import (
	"context"

	"github.com/n3tuk/time-locked-savings/internal/metrics"
)

// MetricsSink turns audit events into Prometheus counters.
type MetricsSink struct {
	metrics *metrics.Metrics
}

// NewMetricsSink creates a MetricsSink.
func NewMetricsSink(m *metrics.Metrics) *MetricsSink {
	return &MetricsSink{metrics: m}
}

// Record implements Sink.
func (s *MetricsSink) Record(_ context.Context, ev Event) error {
	s.metrics.AuditEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	amount := ev.Amount.InexactFloat64()
	switch ev.Kind {
	case KindCreateLockBox:
		s.metrics.LockBoxesCreatedTotal.Inc()
		s.metrics.LockedAmountTotal.Add(amount)
	case KindReleaseLockBox:
		s.metrics.LockBoxesReleasedTotal.Inc()
		s.metrics.ReleasedAmountTotal.Add(amount)
	}
	return nil
}
