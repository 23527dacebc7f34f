package ports

import (
	"context"
	"io"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// ProgressFunc receives the cumulative number of bytes sent.
type ProgressFunc func(sent int64)

// FileSource is a local file handle accepted by the upload queue.
type FileSource interface {
	Name() string
	Size() int64
	ContentType() string
	Open() (io.ReadCloser, error)
}

// DocumentLister fetches one page of the document list.
type DocumentLister interface {
	ListDocuments(ctx context.Context, q domain.ListQuery) (domain.DocumentPage, error)
	GetDocument(ctx context.Context, id string) (*domain.DocumentDetail, error)
}

// DocumentUploader transfers one file with its metadata.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, file FileSource, md domain.UploadMetadata, extra map[string]string, progress ProgressFunc) (*domain.Document, error)
}

// AnalysisAPI triggers AI analysis and question answering.
type AnalysisAPI interface {
	AnalyzeDocument(ctx context.Context, id string, regenerate bool) (*domain.Analysis, error)
	ListQuestions(ctx context.Context, id string) ([]domain.QAEntry, error)
	AskQuestion(ctx context.Context, id, question string, tags []string) (*domain.QAEntry, error)
}

// DocumentMutator covers single-document writes and downloads.
type DocumentMutator interface {
	UpdateDocument(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	DownloadDocument(ctx context.Context, id string) (io.ReadCloser, string, error)
	BulkDownload(ctx context.Context, ids []string) (io.ReadCloser, error)
	BulkAddTags(ctx context.Context, ids, tags []string) error
}

// DocumentAPI is the full remote document surface.
type DocumentAPI interface {
	DocumentLister
	DocumentUploader
	AnalysisAPI
	DocumentMutator
}

// EventPublisher broadcasts committed lifecycle changes.
type EventPublisher interface {
	PublishLifecycle(ctx context.Context, event domain.LifecycleEvent) error
}

// EventSubscriber consumes lifecycle changes until ctx is done.
type EventSubscriber interface {
	SubscribeLifecycle(ctx context.Context, handler func(context.Context, domain.LifecycleEvent) error) error
}

// DownloadSink stores downloaded document content.
type DownloadSink interface {
	Save(ctx context.Context, key string, data io.Reader) error
}

// PageCounter is the document viewer black box: it reports a file's page count.
type PageCounter interface {
	CountPages(ctx context.Context, file FileSource) (int, error)
}
