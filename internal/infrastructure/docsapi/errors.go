package docsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
)

// APIError is a non-2xx response. Message is the server's text, verbatim.
type APIError struct {
	Operation  string
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return "docsapi status error"
	}
	if e.Message == "" {
		return fmt.Sprintf("docsapi %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("docsapi %s status: %s: %s", e.Operation, e.Status, e.Message)
}

// Unwrap exposes the domain kind of the status code.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrDocumentNotFound
	case e.StatusCode == http.StatusConflict:
		return domain.ErrConflict
	case isRetryableHTTPStatus(e.StatusCode):
		return domain.ErrTemporary
	case e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusForbidden:
		return domain.ErrInvalidInput
	default:
		return nil
	}
}

// UserMessage is what the user sees for this failure.
func (e *APIError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Status
}

func newAPIError(operation string, resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    serverMessage(raw),
	}
}

// serverMessage extracts {"message"} or {"error"} from a JSON body, else returns the trimmed text.
func serverMessage(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return text
	}
	if payload.Message != "" {
		return payload.Message
	}
	switch v := payload.Error.(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return text
}

func classifierFor(idempotent bool) resilience.ErrorClassifier {
	return func(err error) resilience.ErrorClassification {
		class := classifyAPIError(err)
		if !idempotent {
			class.Retryable = false
		}
		return class
	}
}

func classifyAPIError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}
	if resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if isRetryableHTTPStatus(apiErr.StatusCode) {
			return resilience.ErrorClassification{
				Retryable:     true,
				RecordFailure: true,
			}
		}
		return resilience.ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{
			Retryable:     true,
			RecordFailure: true,
		}
	}

	return resilience.ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}

// wrapTemporaryIfNeeded tags transport failures with domain.ErrTemporary so callers can offer a retry.
func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}
	class := classifyAPIError(err)
	if class.Retryable || resilience.IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
