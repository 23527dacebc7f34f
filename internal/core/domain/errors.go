package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAnalysisInFlight  = errors.New("analysis already in flight")
	ErrDocumentDeleted   = errors.New("document deleted")
	ErrUploadCanceled    = errors.New("upload canceled")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Validation builds an ErrInvalidInput error without an underlying cause.
func Validation(operation, message string) error {
	return fmt.Errorf("%s: %w: %s", operation, ErrInvalidInput, message)
}

// UserMessage returns the text to show for err: the server's message when the
// error carries one, otherwise err.Error().
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}
