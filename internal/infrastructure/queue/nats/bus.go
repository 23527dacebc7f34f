package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
)

const defaultSubject = "casefile.documents.lifecycle"

// Bus publishes and receives document lifecycle events over NATS core subjects.
type Bus struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	// QueueGroup makes subscribers share deliveries; empty means every subscriber sees every event.
	QueueGroup         string
	ResilienceExecutor *resilience.Executor
	Logger             *slog.Logger
}

func New(url, subject string) (*Bus, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Bus, error) {
	if subject == "" {
		subject = defaultSubject
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("casefile"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:     conn,
		subject:  subject,
		group:    options.QueueGroup,
		executor: options.ResilienceExecutor,
		logger:   logger,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishLifecycle sends event as JSON on the bus subject.
func (b *Bus) PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	msg := &nats.Msg{
		Subject: b.subject,
		Data:    payload,
		Header:  nats.Header{},
	}
	msg.Header.Set("Casefile-Event", string(event.Type))

	call := func(_ context.Context) error {
		if err := b.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if b.executor != nil {
		err = b.executor.Execute(ctx, resilience.OpPublishEvent, call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return publishError(b.subject, event, err)
	}
	return nil
}

// SubscribeLifecycle delivers events to handler until ctx is done.
// Malformed payloads are logged and skipped.
func (b *Bus) SubscribeLifecycle(ctx context.Context, handler func(context.Context, domain.LifecycleEvent) error) error {
	onMsg := func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}
		var event domain.LifecycleEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Warn("nats_lifecycle_decode_failed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, event); err != nil {
			b.logger.Error("lifecycle_handler_failed", "document_id", event.DocumentID, "type", string(event.Type), "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.group != "" {
		sub, err = b.conn.QueueSubscribe(b.subject, b.group, onMsg)
	} else {
		sub, err = b.conn.Subscribe(b.subject, onMsg)
	}
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := b.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}
