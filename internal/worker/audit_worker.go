package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/dualauth/internal/events"
	"github.com/spec-kit/dualauth/internal/observability"
	"github.com/spec-kit/dualauth/internal/service"
)

// StartAuditWorker registers the audit handlers.
func StartAuditWorker(audit *service.SecurityAuditService) {
	if audit == nil {
		return
	}
	audit.RegisterHandlers()
}

// AuditQueue is an AuditSink that hands records to one background writer.
// Record never blocks: when the buffer is full the record is dropped and
// counted, so a flood of rejected tokens cannot stall requests on the sink.
type AuditQueue struct {
	sink    service.AuditSink
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	closed  bool
	queue   chan events.Event
	done    chan struct{}
	dropped atomic.Int64
	warn    rate.Sometimes
}

// NewAuditQueue wraps sink. size is the buffer length and timeout bounds
// each write.
func NewAuditQueue(sink service.AuditSink, size int, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *AuditQueue {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &AuditQueue{
		sink:    sink,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		queue:   make(chan events.Event, size),
		done:    make(chan struct{}),
		warn:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	go q.run()
	return q
}

// Record implements service.AuditSink.
func (q *AuditQueue) Record(_ context.Context, event events.Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(event)
		return nil
	}
	select {
	case q.queue <- event:
	default:
		q.drop(event)
	}
	return nil
}

// Dropped returns the number of records discarded so far.
func (q *AuditQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting records and waits until the buffered ones are
// written or ctx ends.
func (q *AuditQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.queue)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *AuditQueue) run() {
	defer close(q.done)
	for event := range q.queue {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.sink.Record(ctx, event)
		cancel()
		if err != nil {
			q.metrics.RecordAudit("failed")
			q.logger.Warn("audit sink write failed",
				zap.String("event_id", event.ID),
				zap.String("type", string(event.Type)),
				zap.Error(err))
			continue
		}
		q.metrics.RecordAudit("written")
	}
}

func (q *AuditQueue) drop(event events.Event) {
	total := q.dropped.Add(1)
	q.metrics.RecordAudit("dropped")
	q.warn.Do(func() {
		q.logger.Warn("audit queue full, dropping records",
			zap.String("event_id", event.ID),
			zap.Int64("dropped_total", total))
	})
}
