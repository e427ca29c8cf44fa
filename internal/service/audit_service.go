package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/dualauth/internal/config"
	"github.com/spec-kit/dualauth/internal/events"
)

// AuditSink stores auth events outside the process log.
type AuditSink interface {
	Record(ctx context.Context, event events.Event) error
}

// RedisAuditSink appends events to a capped Redis stream.
type RedisAuditSink struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisAuditSink creates a sink writing to cfg.StreamKey.
func NewRedisAuditSink(client *redis.Client, cfg config.AuditConfig) *RedisAuditSink {
	return &RedisAuditSink{client: client, key: cfg.StreamKey, maxLen: cfg.MaxLen}
}

// Record implements AuditSink.
func (s *RedisAuditSink) Record(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":      event.ID,
			"type":    string(event.Type),
			"domain":  string(event.Domain),
			"subject": event.Subject,
			"ts":      event.Timestamp.UnixMilli(),
			"payload": string(payload),
		},
	}).Err()
}

// SecurityAuditService records auth events. Security violations are logged
// apart from ordinary failures so they can be alerted on.
type SecurityAuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	sink       AuditSink
}

// NewSecurityAuditService creates the service. sink may be nil.
func NewSecurityAuditService(dispatcher events.Dispatcher, logger *zap.Logger, sink AuditSink) *SecurityAuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditService{
		dispatcher: dispatcher,
		logger:     logger,
		sink:       sink,
	}
}

// RegisterHandlers subscribes to events.
func (a *SecurityAuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventSecurityViolation, a.handleSecurityViolation)
	for _, t := range []events.EventType{
		events.EventLoginSucceeded,
		events.EventLoginFailed,
		events.EventMFAChallengeIssued,
		events.EventMFAFailed,
		events.EventTokenRejected,
		events.EventRefreshFailed,
	} {
		a.dispatcher.Subscribe(t, a.handleAuthEvent)
	}
}

func (a *SecurityAuditService) handleSecurityViolation(ctx context.Context, event events.Event) error {
	a.logger.Warn("security violation",
		zap.Bool("security", true),
		zap.String("event_id", event.ID),
		zap.String("domain", string(event.Domain)),
		zap.Any("payload", event.Payload))
	return a.record(ctx, event)
}

func (a *SecurityAuditService) handleAuthEvent(ctx context.Context, event events.Event) error {
	a.logger.Info(string(event.Type),
		zap.String("event_id", event.ID),
		zap.String("domain", string(event.Domain)),
		zap.String("subject", event.Subject),
		zap.Any("payload", event.Payload))
	return a.record(ctx, event)
}

func (a *SecurityAuditService) record(ctx context.Context, event events.Event) error {
	if a.sink == nil {
		return nil
	}
	if err := a.sink.Record(ctx, event); err != nil {
		a.logger.Debug("audit sink write failed", zap.String("event_id", event.ID), zap.Error(err))
		return err
	}
	return nil
}
