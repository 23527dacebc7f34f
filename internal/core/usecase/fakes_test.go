package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"testing"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
)

// apiFake is an in-memory document server.
type apiFake struct {
	mu   sync.Mutex
	docs []domain.Document

	uploadFn   func(ctx context.Context, file ports.FileSource, md domain.UploadMetadata, extra map[string]string, progress ports.ProgressFunc) (*domain.Document, error)
	uploads    []uploadCall
	analyzeFn  func(ctx context.Context, id string, regenerate bool) (*domain.Analysis, error)
	analyzes   int
	askFn      func(ctx context.Context, id, question string) (*domain.QAEntry, error)
	questions  map[string][]domain.QAEntry
	deleteErr  map[string]error
	updateErr  map[string]error
	patches    map[string]domain.DocumentPatch
	bulkTagErr error
	bulkTags   int
	contents   map[string]string
}

type uploadCall struct {
	filename string
	metadata domain.UploadMetadata
	extra    map[string]string
}

func newAPIFake(docs ...domain.Document) *apiFake {
	return &apiFake{
		docs:      docs,
		questions: make(map[string][]domain.QAEntry),
		deleteErr: make(map[string]error),
		updateErr: make(map[string]error),
		patches:   make(map[string]domain.DocumentPatch),
		contents:  make(map[string]string),
	}
}

func (f *apiFake) ListDocuments(_ context.Context, q domain.ListQuery) (domain.DocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	start := (q.Page - 1) * limit
	end := min(start+limit, len(f.docs))
	var page []domain.Document
	if start < len(f.docs) {
		for _, d := range f.docs[start:end] {
			page = append(page, d.Clone())
		}
	}
	return domain.DocumentPage{
		Documents:  page,
		Pagination: domain.Pagination{Page: q.Page, Limit: limit, Total: len(f.docs)},
	}, nil
}

func (f *apiFake) GetDocument(_ context.Context, id string) (*domain.DocumentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return &domain.DocumentDetail{Document: f.docs[i].Clone(), Questions: slices.Clone(f.questions[id])}, nil
}

func (f *apiFake) UploadDocument(ctx context.Context, file ports.FileSource, md domain.UploadMetadata, extra map[string]string, progress ports.ProgressFunc) (*domain.Document, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, uploadCall{filename: file.Name(), metadata: md.Clone(), extra: extra})
	fn := f.uploadFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, file, md, extra, progress)
	}
	progress(file.Size())
	return &domain.Document{ID: "doc-" + file.Name(), OriginalFilename: file.Name(), Size: file.Size(), Tags: md.Tags}, nil
}

func (f *apiFake) AnalyzeDocument(ctx context.Context, id string, regenerate bool) (*domain.Analysis, error) {
	f.mu.Lock()
	f.analyzes++
	fn := f.analyzeFn
	f.mu.Unlock()
	var (
		analysis *domain.Analysis
		err      error
	)
	if fn != nil {
		analysis, err = fn(ctx, id, regenerate)
	} else {
		analysis = &domain.Analysis{Summary: "summary of " + id}
	}
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	if i := f.indexLocked(id); i >= 0 {
		stored := analysis.Clone()
		f.docs[i].Status = domain.StatusAnalyzed
		f.docs[i].Analysis = &stored
	}
	f.mu.Unlock()
	return analysis, nil
}

func (f *apiFake) ListQuestions(_ context.Context, id string) ([]domain.QAEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.questions[id]), nil
}

func (f *apiFake) AskQuestion(ctx context.Context, id, question string, _ []string) (*domain.QAEntry, error) {
	f.mu.Lock()
	fn := f.askFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, id, question)
	}
	answer := "answer to " + question
	return &domain.QAEntry{ID: "q-" + id, Question: question, Answer: &answer}, nil
}

func (f *apiFake) UpdateDocument(_ context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErr[id]; err != nil {
		return nil, err
	}
	i := f.indexLocked(id)
	if i < 0 {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "update document", errors.New(id))
	}
	f.patches[id] = patch
	if patch.Tags != nil {
		f.docs[i].Tags = slices.Clone(patch.Tags)
	}
	updated := f.docs[i].Clone()
	return &updated, nil
}

func (f *apiFake) DeleteDocument(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	i := f.indexLocked(id)
	if i < 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, "delete document", errors.New(id))
	}
	f.docs = slices.Delete(f.docs, i, i+1)
	return nil
}

func (f *apiFake) DownloadDocument(_ context.Context, id string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(id)
	if i < 0 {
		return nil, "", domain.WrapError(domain.ErrDocumentNotFound, "download document", errors.New(id))
	}
	return io.NopCloser(bytes.NewBufferString(f.contents[id])), f.docs[i].OriginalFilename, nil
}

func (f *apiFake) BulkDownload(_ context.Context, ids []string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewBufferString(fmt.Sprintf("zip:%v", ids))), nil
}

func (f *apiFake) BulkAddTags(_ context.Context, ids, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulkTags++
	if f.bulkTagErr != nil {
		return f.bulkTagErr
	}
	for _, id := range ids {
		if i := f.indexLocked(id); i >= 0 {
			f.docs[i].Tags = domain.MergeTags(f.docs[i].Tags, tags)
		}
	}
	return nil
}

func (f *apiFake) indexLocked(id string) int {
	return slices.IndexFunc(f.docs, func(d domain.Document) bool { return d.ID == id })
}

func (f *apiFake) uploadCalls() []uploadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.uploads)
}

func (f *apiFake) analyzeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.analyzes
}

// serverError carries the server's message like the API client does.
type serverError struct {
	status int
	msg    string
}

func (e *serverError) Error() string       { return fmt.Sprintf("status %d: %s", e.status, e.msg) }
func (e *serverError) UserMessage() string { return e.msg }

type eventsFake struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (f *eventsFake) PublishLifecycle(_ context.Context, ev domain.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *eventsFake) types() []domain.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.EventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

type authCounter struct {
	mu    sync.Mutex
	calls int
}

func (a *authCounter) handle(error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
}

func (a *authCounter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type memFile struct {
	name        string
	contentType string
	data        []byte
}

func (f *memFile) Name() string        { return f.name }
func (f *memFile) Size() int64         { return int64(len(f.data)) }
func (f *memFile) ContentType() string { return f.contentType }
func (f *memFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func pdfFile(name string, size int) *memFile {
	return &memFile{name: name, contentType: "application/pdf", data: bytes.Repeat([]byte("x"), size)}
}

type sinkFake struct {
	mu    sync.Mutex
	saved map[string]string
}

func (s *sinkFake) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]string)
	}
	s.saved[key] = string(raw)
	return nil
}

func testDoc(id string, status domain.DocumentStatus) domain.Document {
	return domain.Document{ID: id, OriginalFilename: id + ".pdf", Size: 1024, Status: status}
}

func loadedRegistry(t *testing.T, api *apiFake, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg := registry.New(api, opts...)
	if err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}
