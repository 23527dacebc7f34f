package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
)

// classifyPublishError decides whether a lifecycle publish is worth another attempt.
// Connection churn is retried; a malformed event never is and never trips the breaker.
func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), connectionLost(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	case rejectedEvent(err):
		return resilience.ErrorClassification{}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func connectionLost(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrDisconnected)
}

func rejectedEvent(err error) bool {
	return errors.Is(err, nats.ErrMaxPayload) || errors.Is(err, nats.ErrBadSubject)
}

// publishError names the event and subject of a failed publish. A lost connection is
// domain.ErrTemporary; an event the server cannot accept is domain.ErrInvalidInput.
func publishError(subject string, event domain.LifecycleEvent, err error) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf("publish %s event for document %s on %s", event.Type, event.DocumentID, subject)
	switch {
	case domain.IsKind(err, domain.ErrTemporary):
		return err
	case resilience.IsCircuitOpen(err), connectionLost(err):
		return domain.WrapError(domain.ErrTemporary, op, err)
	case rejectedEvent(err):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
