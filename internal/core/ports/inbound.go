package ports

import (
	"context"
	"io"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// UploadQueue is the inbound contract for multi-file uploads.
type UploadQueue interface {
	Enqueue(ctx context.Context, files []FileSource, defaults *domain.UploadMetadata) ([]string, []domain.Rejection)
	Retry(ctx context.Context, itemID string) error
	Cancel(itemID string) bool
	Items() []domain.UploadQueueItem
	Wait()
}

// DocumentAnalyzer is the inbound contract for analysis and question answering.
type DocumentAnalyzer interface {
	Analyze(ctx context.Context, documentID string, opts domain.AnalyzeOptions) (*domain.Analysis, error)
	Ask(ctx context.Context, documentID, question string, tags []string) (domain.QAEntry, error)
}

// BulkOperator is the inbound contract for bulk verbs over a selection.
type BulkOperator interface {
	BulkDelete(ctx context.Context, ids []string) (domain.BulkResult, error)
	BulkAnalyze(ctx context.Context, ids []string) (domain.BulkResult, error)
	BulkTag(ctx context.Context, ids, tags []string) (domain.BulkResult, error)
	BulkDownload(ctx context.Context, ids []string) (domain.BulkResult, error)
	DownloadArchive(ctx context.Context, ids []string, w io.Writer) error
}
