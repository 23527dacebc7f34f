package docsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/infrastructure/resilience"
)

type testFile struct {
	name string
	data []byte
}

func (f testFile) Name() string        { return f.name }
func (f testFile) Size() int64         { return int64(len(f.data)) }
func (f testFile) ContentType() string { return "application/pdf" }
func (f testFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		RetryMultiplier:     2,
	})
}

func TestListDocumentsSendsFilterAndSort(t *testing.T) {
	var query map[string][]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents" {
			http.NotFound(w, r)
			return
		}
		query = r.URL.Query()
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data":[{"id":"d1","originalFilename":"NDA.pdf","size":2048,"status":"analyzed","tags":["nda"],"analysis":{"summary":"ok"}}],"pagination":{"page":2,"limit":10,"total":11}}`))
	}))
	defer server.Close()

	from := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	client := New(server.URL, "secret")
	page, err := client.ListDocuments(context.Background(), domain.ListQuery{
		Filter: domain.Filter{
			Search:        "acme",
			MatterID:      "M-1",
			DocumentTypes: []string{"contract", "nda"},
			Status:        domain.StatusAnalyzed,
			DateFrom:      &from,
		},
		Sort:  domain.Sort{Key: "name", Order: domain.SortAsc},
		Page:  2,
		Limit: 10,
	})
	if err != nil {
		t.Fatalf("ListDocuments() error = %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", auth)
	}
	checks := map[string]string{
		"search": "acme", "matterId": "M-1", "status": "analyzed", "dateFrom": "2026-01-02",
		"sortBy": "name", "sortOrder": "asc", "page": "2", "limit": "10",
	}
	for k, want := range checks {
		if got := query[k]; len(got) != 1 || got[0] != want {
			t.Fatalf("query %s = %v, want %q", k, got, want)
		}
	}
	if got := query["documentType"]; len(got) != 2 {
		t.Fatalf("expected repeated documentType, got %v", got)
	}
	if len(page.Documents) != 1 || page.Documents[0].Extension != "pdf" || page.Documents[0].Analysis == nil {
		t.Fatalf("unexpected documents: %+v", page.Documents)
	}
	if page.Pagination.Pages() != 2 {
		t.Fatalf("expected 2 pages, got %d", page.Pagination.Pages())
	}
}

func TestUnauthorizedMapsToDomainKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token expired"}`))
	}))
	defer server.Close()

	client := New(server.URL, "stale", WithExecutor(fastExecutor()))
	_, err := client.GetDocument(context.Background(), "d1")
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if msg := domain.UserMessage(err); msg != "Token expired" {
		t.Fatalf("expected server message, got %q", msg)
	}
}

func TestServerMessageIsKeptVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"Matter M-9 is closed for new documents"}}`))
	}))
	defer server.Close()

	client := New(server.URL, "")
	err := client.DeleteDocument(context.Background(), "d1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if msg := domain.UserMessage(err); msg != "Matter M-9 is closed for new documents" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestIdempotentCallsRetryServerErrors(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"document":{"id":"d1","originalFilename":"a.pdf","status":"uploaded"},"questions":[]}`))
	}))
	defer server.Close()

	client := New(server.URL, "", WithExecutor(fastExecutor()))
	detail, err := client.GetDocument(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if detail.Document.ID != "d1" || hits.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d hits", detail.Document, hits.Load())
	}
}

func TestAnalyzeIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := New(server.URL, "", WithExecutor(fastExecutor()))
	_, err := client.AnalyzeDocument(context.Background(), "d1", true)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestAnalyzeSendsRegenerateFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/documents/d%201/analyze" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		var body map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body["regenerate"] {
			t.Errorf("expected regenerate=true, got %v (%v)", body, err)
		}
		_, _ = w.Write([]byte(`{"analysis":{"summary":"Mutual NDA","risks":[{"severity":"high","description":"no term"}],"confidence":0.9}}`))
	}))
	defer server.Close()

	client := New(server.URL, "")
	analysis, err := client.AnalyzeDocument(context.Background(), "d 1", true)
	if err != nil {
		t.Fatalf("AnalyzeDocument() error = %v", err)
	}
	if analysis.Summary != "Mutual NDA" || len(analysis.Risks) != 1 {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
}

func TestUploadSendsMultipartFields(t *testing.T) {
	var fields map[string][]string
	var fileBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		fields = r.MultipartForm.Value
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		raw, _ := io.ReadAll(f)
		fileBody = hdr.Filename + ":" + string(raw)
		_, _ = w.Write([]byte(`{"document":{"id":"new-1","originalFilename":"NDA.pdf","size":7}}`))
	}))
	defer server.Close()

	matter := "M-7"
	var lastProgress atomic.Int64
	client := New(server.URL, "")
	doc, err := client.UploadDocument(context.Background(), testFile{name: "NDA.pdf", data: []byte("%PDF-1.")},
		domain.UploadMetadata{MatterID: &matter, DocumentType: "nda", Tags: []string{"a", "b", "a"}, Notes: "signed copy"},
		map[string]string{"pageCount": "3"},
		func(sent int64) { lastProgress.Store(sent) },
	)
	if err != nil {
		t.Fatalf("UploadDocument() error = %v", err)
	}
	if doc.ID != "new-1" || doc.Status != domain.StatusUploaded {
		t.Fatalf("unexpected document %+v", doc)
	}
	if fileBody != "NDA.pdf:%PDF-1." {
		t.Fatalf("unexpected file part %q", fileBody)
	}
	if got := fields["matterId"]; len(got) != 1 || got[0] != "M-7" {
		t.Fatalf("unexpected matterId %v", got)
	}
	if got := fields["tags"]; len(got) != 2 {
		t.Fatalf("expected de-duplicated tags, got %v", got)
	}
	if got := fields["metadata.pageCount"]; len(got) != 1 || got[0] != "3" {
		t.Fatalf("unexpected page count field %v", got)
	}
	if got := fields["metadata.notes"]; len(got) != 1 || got[0] != "signed copy" {
		t.Fatalf("unexpected notes field %v", got)
	}
	if lastProgress.Load() != 7 {
		t.Fatalf("expected progress to reach 7 bytes, got %d", lastProgress.Load())
	}
}

// trackedFile counts how often the upload opens its content.
type trackedFile struct {
	testFile
	opened atomic.Int32
}

func (f *trackedFile) Open() (io.ReadCloser, error) {
	f.opened.Add(1)
	return f.testFile.Open()
}

func TestUploadTokenFailureLeavesFileUnopened(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := New(server.URL, "", WithTokenSource(func(context.Context) (string, error) {
		return "", errors.New("keyring locked")
	}))
	file := &trackedFile{testFile: testFile{name: "NDA.pdf", data: []byte("%PDF-1.")}}
	_, err := client.UploadDocument(context.Background(), file, domain.UploadMetadata{}, nil, func(int64) {})
	if err == nil || !strings.Contains(err.Error(), "keyring locked") {
		t.Fatalf("expected token error, got %v", err)
	}
	if n := file.opened.Load(); n != 0 {
		t.Fatalf("file opened %d times without a request", n)
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("expected no request, got %d", n)
	}
}

func TestDownloadUsesAttachmentName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="Master Agreement.pdf"`)
		_, _ = w.Write([]byte("content"))
	}))
	defer server.Close()

	client := New(server.URL, "", WithExecutor(fastExecutor()))
	body, name, err := client.DownloadDocument(context.Background(), "d1")
	if err != nil {
		t.Fatalf("DownloadDocument() error = %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if name != "Master Agreement.pdf" || string(raw) != "content" {
		t.Fatalf("unexpected download %q %q", name, raw)
	}
}

func TestBulkDownloadRejectsEmptyIDs(t *testing.T) {
	client := New("http://127.0.0.1:0", "")
	if _, err := client.BulkDownload(context.Background(), nil); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTransportFailureIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	var observed []int
	client := New(url, "", WithRequestObserver(func(_ string, status int, _ time.Duration) {
		observed = append(observed, status)
	}))
	err := client.BulkAddTags(context.Background(), []string{"d1"}, []string{"x"})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
	if len(observed) != 1 || observed[0] != 0 {
		t.Fatalf("expected one transport error observation, got %v", observed)
	}
}

func TestServerMessageFallbacks(t *testing.T) {
	cases := map[string]string{
		``:                           "",
		`plain text failure`:         "plain text failure",
		`{"message":"m"}`:            "m",
		`{"error":"e"}`:              "e",
		`{"error":{"message":"n"}}`:  "n",
		`{"detail":"unknown shape"}`: `{"detail":"unknown shape"}`,
	}
	for raw, want := range cases {
		if got := serverMessage([]byte(raw)); got != want {
			t.Fatalf("serverMessage(%q) = %q, want %q", raw, got, want)
		}
	}
	if !strings.Contains((&APIError{Operation: "op", Status: "500 Internal Server Error"}).Error(), "500") {
		t.Fatalf("expected status in error text")
	}
	if !errors.Is(&APIError{StatusCode: http.StatusNotFound}, domain.ErrDocumentNotFound) {
		t.Fatalf("expected 404 to unwrap to ErrDocumentNotFound")
	}
}
