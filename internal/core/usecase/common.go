package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
)

const publishTimeout = 5 * time.Second

// Metrics receives coordinator outcomes. The observability package implements it.
type Metrics interface {
	ObserveUpload(status string, bytes int64)
	ObserveAnalysis(action, status string, elapsed time.Duration)
	ObserveBulkItem(verb, status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveUpload(string, int64) {}
func (noopMetrics) ObserveAnalysis(string, string, time.Duration) {}
func (noopMetrics) ObserveBulkItem(string, string) {}

type noopPublisher struct{}

func (noopPublisher) PublishLifecycle(context.Context, domain.LifecycleEvent) error { return nil }

// common carries the optional collaborators shared by every use case.
type common struct {
	events         ports.EventPublisher
	metrics        Metrics
	logger         *slog.Logger
	now            func() time.Time
	onUnauthorized ports.UnauthorizedHandler
	authMu         *sync.Mutex
}

type Option func(*common)

func WithEvents(p ports.EventPublisher) Option {
	return func(c *common) {
		if p != nil {
			c.events = p
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *common) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *common) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *common) {
		if now != nil {
			c.now = now
		}
	}
}

// WithUnauthorizedHandler installs the global session-expiry hook.
func WithUnauthorizedHandler(fn ports.UnauthorizedHandler) Option {
	return func(c *common) {
		c.onUnauthorized = fn
	}
}

func newCommon(opts []Option) common {
	c := common{
		events:  noopPublisher{},
		metrics: noopMetrics{},
		logger:  slog.Default(),
		now:     time.Now,
		authMu:  &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *common) publish(ctx context.Context, eventType domain.EventType, documentID string, status domain.DocumentStatus, detail string) {
	event := domain.LifecycleEvent{
		Type:       eventType,
		DocumentID: documentID,
		Status:     status,
		Detail:     detail,
		At:         c.now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := c.events.PublishLifecycle(pubCtx, event); err != nil {
		c.logger.Warn("lifecycle_publish_failed", "type", string(eventType), "document_id", documentID, "error", err)
	}
}

// unauthorized reports an abandoned operation to the global handler.
func (c *common) unauthorized(err error) {
	c.logger.Warn("operation_abandoned_unauthorized", "error", err)
	if c.onUnauthorized == nil {
		return
	}
	c.authMu.Lock()
	defer c.authMu.Unlock()
	c.onUnauthorized(err)
}
