package ports

import (
	"context"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// MetadataPrompter is the modal that collects metadata before a batch transfers.
// Returning domain.ErrUploadCanceled dismisses the batch.
type MetadataPrompter interface {
	PromptMetadata(ctx context.Context, item domain.UploadQueueItem) (domain.UploadMetadata, error)
}

// UnauthorizedHandler is the global session-expiry hook.
type UnauthorizedHandler func(err error)
