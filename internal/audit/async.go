package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 256

// AsyncSink delivers events to the wrapped Sink on a single background
// goroutine, preserving event order. Delivery errors are logged.
type AsyncSink struct {
	next   Sink
	logger *zap.Logger
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts a worker delivering to next. If queueSize <= 0,
// defaultQueueSize is used.
func NewAsyncSink(next Sink, queueSize int, logger *zap.Logger) *AsyncSink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &AsyncSink{
		next:   next,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record queues ev for delivery. It blocks while the queue is full unless
// ctx is cancelled first; a cancelled ctx never drops an event that fits.
func (s *AsyncSink) Record(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSinkClosed
	}

	// A free slot always wins over a cancelled context.
	select {
	case s.queue <- ev:
		return nil
	default:
	}

	select {
	case s.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and blocks until every queued event has
// been delivered.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)

	for ev := range s.queue {
		if err := s.next.Record(context.Background(), ev); err != nil {
			s.logger.Warn("Failed to record audit event",
				zap.String("kind", string(ev.Kind)),
				zap.String("username", ev.Username),
				zap.Error(err),
			)
		}
	}
}
