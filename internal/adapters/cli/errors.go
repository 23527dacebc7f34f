package cli

import (
	"fmt"

	"github.com/kirillkom/casefile/internal/core/domain"
)

const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitUnauthorized = 3
	ExitNotFound     = 4
	ExitTemporary    = 5
)

// ExitCode maps an error kind to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case domain.IsKind(err, domain.ErrInvalidInput), domain.IsKind(err, domain.ErrInvalidTransition):
		return ExitInvalidInput
	case domain.IsKind(err, domain.ErrUnauthorized):
		return ExitUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound), domain.IsKind(err, domain.ErrDocumentDeleted):
		return ExitNotFound
	case domain.IsKind(err, domain.ErrTemporary):
		return ExitTemporary
	default:
		return ExitFailure
	}
}

// partialFailure is returned when a bulk verb finished with per-item failures.
type partialFailure struct {
	verb   string
	failed int
	total  int
}

func (e *partialFailure) Error() string {
	return fmt.Sprintf("%s: %d of %d documents failed", e.verb, e.failed, e.total)
}
