package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
)

const defaultUploadConcurrency = 3

type UploadQueueConfig struct {
	Policy      domain.UploadPolicy
	Concurrency int
}

type QueueEventType string

const (
	QueueItemAdded     QueueEventType = "added"
	QueueItemUpdated   QueueEventType = "updated"
	QueueItemCompleted QueueEventType = "completed"
	QueueItemRemoved   QueueEventType = "removed"
)

// QueueEvent reports a change to one queue item. Document is set on completion.
type QueueEvent struct {
	Type     QueueEventType
	Item     domain.UploadQueueItem
	Document *domain.Document
}

// cancelToken belongs to one transfer attempt. Results from a canceled attempt are discarded.
type cancelToken struct {
	canceled bool
	cancel   context.CancelFunc
}

type queueEntry struct {
	item    domain.UploadQueueItem
	file    ports.FileSource
	token   *cancelToken
	running bool
}

// UploadQueueManager validates, collects metadata for, and transfers files.
// Items leave the queue on success and become documents in the registry.
type UploadQueueManager struct {
	common
	api      ports.DocumentUploader
	registry *registry.Registry
	prompter ports.MetadataPrompter
	pages    ports.PageCounter
	policy   domain.UploadPolicy
	slots    *semaphore.Weighted

	// promptMu keeps a single metadata prompt open at a time.
	promptMu sync.Mutex

	mu        sync.Mutex
	order     []string
	entries   map[string]*queueEntry
	listeners []func(QueueEvent)
	wg        sync.WaitGroup
}

func NewUploadQueueManager(
	api ports.DocumentUploader,
	reg *registry.Registry,
	prompter ports.MetadataPrompter,
	pages ports.PageCounter,
	cfg UploadQueueConfig,
	opts ...Option,
) *UploadQueueManager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &UploadQueueManager{
		common:   newCommon(opts),
		api:      api,
		registry: reg,
		prompter: prompter,
		pages:    pages,
		policy:   cfg.Policy,
		slots:    semaphore.NewWeighted(int64(concurrency)),
		entries:  make(map[string]*queueEntry),
	}
}

// Subscribe registers fn for queue changes. fn runs outside the queue lock.
func (m *UploadQueueManager) Subscribe(fn func(QueueEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Enqueue validates files and starts a transfer for each accepted one. Files failing
// validation are returned as rejections and never reach the network. When defaults is
// nil the batch waits for the metadata prompt before transferring.
func (m *UploadQueueManager) Enqueue(ctx context.Context, files []ports.FileSource, defaults *domain.UploadMetadata) ([]string, []domain.Rejection) {
	batchID := uuid.NewString()
	var (
		ids        []string
		rejections []domain.Rejection
		added      []domain.UploadQueueItem
	)

	m.mu.Lock()
	for _, f := range files {
		if reason := m.policy.Check(f.Name(), f.ContentType(), f.Size()); reason != "" {
			rejections = append(rejections, domain.Rejection{Filename: f.Name(), Reason: reason})
			continue
		}
		item := domain.UploadQueueItem{
			ID:       uuid.NewString(),
			BatchID:  batchID,
			Filename: f.Name(),
			Size:     f.Size(),
			MimeType: f.ContentType(),
			Status:   domain.QueuePending,
		}
		if defaults != nil {
			item.Metadata = defaults.Clone()
			item.MetadataConfirmed = true
		}
		m.entries[item.ID] = &queueEntry{item: item, file: f}
		m.order = append(m.order, item.ID)
		ids = append(ids, item.ID)
		added = append(added, item)
	}
	m.mu.Unlock()

	for _, r := range rejections {
		m.logger.Info("upload_rejected", "filename", r.Filename, "reason", r.Reason)
	}
	for _, item := range added {
		m.emit(QueueEvent{Type: QueueItemAdded, Item: item})
	}
	for _, id := range ids {
		m.start(ctx, id)
	}
	return ids, rejections
}

// Retry restarts an item that failed or was abandoned.
func (m *UploadQueueManager) Retry(ctx context.Context, itemID string) error {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok {
		m.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "retry upload", fmt.Errorf("queue item %s not found", itemID))
	}
	if entry.running {
		m.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "retry upload", fmt.Errorf("queue item %s is still in progress", itemID))
	}
	entry.item.Status = domain.QueuePending
	entry.item.Progress = 0
	entry.item.Error = ""
	item := entry.item
	m.mu.Unlock()

	m.emit(QueueEvent{Type: QueueItemUpdated, Item: item})
	m.start(ctx, itemID)
	return nil
}

// Cancel removes an item. A transfer already on the wire is aborted and its result ignored.
func (m *UploadQueueManager) Cancel(itemID string) bool {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if entry.token != nil {
		entry.token.canceled = true
		entry.token.cancel()
	}
	delete(m.entries, itemID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == itemID })
	item := entry.item
	m.mu.Unlock()

	m.logger.Info("upload_canceled", "item_id", itemID, "filename", item.Filename)
	m.metrics.ObserveUpload("canceled", item.Size)
	m.emit(QueueEvent{Type: QueueItemRemoved, Item: item})
	return true
}

// UpdateMetadata confirms metadata for a single item that has not started transferring.
func (m *UploadQueueManager) UpdateMetadata(itemID string, md domain.UploadMetadata) error {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok {
		m.mu.Unlock()
		return domain.WrapError(domain.ErrInvalidInput, "update upload metadata", fmt.Errorf("queue item %s not found", itemID))
	}
	if entry.item.Status == domain.QueueUploading {
		m.mu.Unlock()
		return domain.Validation("update upload metadata", "item is already uploading")
	}
	entry.item.Metadata = md.Clone()
	entry.item.MetadataConfirmed = true
	item := entry.item
	m.mu.Unlock()

	m.emit(QueueEvent{Type: QueueItemUpdated, Item: item})
	return nil
}

// Items returns the queue in insertion order.
func (m *UploadQueueManager) Items() []domain.UploadQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.UploadQueueItem, 0, len(m.order))
	for _, id := range m.order {
		if entry, ok := m.entries[id]; ok {
			item := entry.item
			item.Metadata = item.Metadata.Clone()
			out = append(out, item)
		}
	}
	return out
}

// Wait blocks until every started transfer has finished.
func (m *UploadQueueManager) Wait() {
	m.wg.Wait()
}

func (m *UploadQueueManager) start(ctx context.Context, itemID string) {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok || entry.running {
		m.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	token := &cancelToken{cancel: cancel}
	entry.token = token
	entry.running = true
	file := entry.file
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(taskCtx, itemID, file, token)
	}()
}

func (m *UploadQueueManager) run(ctx context.Context, itemID string, file ports.FileSource, token *cancelToken) {
	defer m.stopped(itemID, token)

	extra := m.inspect(ctx, itemID, file, token)

	md, err := m.awaitMetadata(ctx, itemID, token)
	if err != nil {
		if domain.IsKind(err, domain.ErrUploadCanceled) {
			return
		}
		m.fail(itemID, token, err)
		return
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		m.fail(itemID, token, err)
		return
	}
	defer m.slots.Release(1)

	if !m.update(itemID, token, func(item *domain.UploadQueueItem) bool {
		item.Status = domain.QueueUploading
		item.Progress = 0
		item.Error = ""
		return true
	}) {
		return
	}

	size := file.Size()
	doc, err := m.api.UploadDocument(ctx, file, md, extra, func(sent int64) {
		m.progress(itemID, token, sent, size)
	})
	if err != nil {
		switch {
		case m.isCanceled(token):
			m.logger.Debug("upload_result_discarded", "item_id", itemID, "error", err)
		case domain.IsKind(err, domain.ErrUnauthorized):
			m.abandon(itemID, token)
			m.unauthorized(err)
		default:
			m.fail(itemID, token, err)
		}
		return
	}
	m.complete(ctx, itemID, token, *doc)
}

// inspect collects file facts sent alongside the upload. Failures are logged and ignored.
func (m *UploadQueueManager) inspect(ctx context.Context, itemID string, file ports.FileSource, token *cancelToken) map[string]string {
	if m.pages == nil || !isPDF(file) {
		return nil
	}
	count, err := m.pages.CountPages(ctx, file)
	if err != nil {
		m.logger.Warn("upload_page_count_failed", "item_id", itemID, "filename", file.Name(), "error", err)
		return nil
	}
	m.update(itemID, token, func(item *domain.UploadQueueItem) bool {
		item.PageCount = count
		return true
	})
	return map[string]string{"pageCount": strconv.Itoa(count)}
}

// awaitMetadata returns the item's confirmed metadata, prompting for it when needed.
// The first unconfirmed item of the batch is shown and the answer applies to the whole batch.
func (m *UploadQueueManager) awaitMetadata(ctx context.Context, itemID string, token *cancelToken) (domain.UploadMetadata, error) {
	if md, ok, err := m.confirmedMetadata(itemID, token); ok || err != nil {
		return md, err
	}

	m.promptMu.Lock()
	defer m.promptMu.Unlock()

	md, ok, err := m.confirmedMetadata(itemID, token)
	if ok || err != nil {
		return md, err
	}
	if m.prompter == nil {
		return domain.UploadMetadata{}, domain.Validation("upload", "document metadata is required")
	}

	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok {
		m.mu.Unlock()
		return domain.UploadMetadata{}, domain.WrapError(domain.ErrUploadCanceled, "upload", fmt.Errorf("queue item %s", itemID))
	}
	batchID := entry.item.BatchID
	shown := m.firstUnconfirmedLocked(batchID)
	m.mu.Unlock()

	// The prompt answers for the batch, so it outlives this item while siblings still wait on it.
	promptCtx, stopPrompt := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPrompt()
	stopWatch := context.AfterFunc(ctx, func() {
		if !m.isCanceled(token) || !m.hasUnconfirmed(batchID) {
			stopPrompt()
		}
	})
	defer stopWatch()

	md, err = m.prompter.PromptMetadata(promptCtx, shown)
	if m.isCanceled(token) {
		if err == nil {
			m.confirmBatch(batchID, md)
		}
		return domain.UploadMetadata{}, domain.WrapError(domain.ErrUploadCanceled, "upload", fmt.Errorf("queue item %s", itemID))
	}
	if err != nil {
		if domain.IsKind(err, domain.ErrUploadCanceled) || errors.Is(err, context.Canceled) {
			m.cancelBatch(batchID)
			return domain.UploadMetadata{}, domain.WrapError(domain.ErrUploadCanceled, "upload", err)
		}
		return domain.UploadMetadata{}, fmt.Errorf("prompt metadata: %w", err)
	}

	m.confirmBatch(batchID, md)
	return md.Clone(), nil
}

// confirmBatch applies md to every item of the batch still waiting for metadata.
func (m *UploadQueueManager) confirmBatch(batchID string, md domain.UploadMetadata) {
	var confirmed []domain.UploadQueueItem
	m.mu.Lock()
	for _, id := range m.order {
		entry := m.entries[id]
		if entry == nil || entry.item.BatchID != batchID || entry.item.MetadataConfirmed {
			continue
		}
		entry.item.Metadata = md.Clone()
		entry.item.MetadataConfirmed = true
		confirmed = append(confirmed, entry.item)
	}
	m.mu.Unlock()

	for _, item := range confirmed {
		m.emit(QueueEvent{Type: QueueItemUpdated, Item: item})
	}
}

func (m *UploadQueueManager) hasUnconfirmed(batchID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstUnconfirmedLocked(batchID).ID != ""
}

func (m *UploadQueueManager) confirmedMetadata(itemID string, token *cancelToken) (domain.UploadMetadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[itemID]
	if !ok || entry.token != token || token.canceled {
		return domain.UploadMetadata{}, false, domain.WrapError(domain.ErrUploadCanceled, "upload", fmt.Errorf("queue item %s", itemID))
	}
	if entry.item.MetadataConfirmed {
		return entry.item.Metadata.Clone(), true, nil
	}
	return domain.UploadMetadata{}, false, nil
}

func (m *UploadQueueManager) firstUnconfirmedLocked(batchID string) domain.UploadQueueItem {
	for _, id := range m.order {
		entry := m.entries[id]
		if entry != nil && entry.item.BatchID == batchID && !entry.item.MetadataConfirmed {
			return entry.item
		}
	}
	return domain.UploadQueueItem{}
}

// cancelBatch drops every item of the batch still waiting for metadata.
func (m *UploadQueueManager) cancelBatch(batchID string) {
	m.mu.Lock()
	var ids []string
	for _, id := range m.order {
		entry := m.entries[id]
		if entry != nil && entry.item.BatchID == batchID && !entry.item.MetadataConfirmed {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Cancel(id)
	}
}

// progress records a monotonic percentage; 100 is reserved for a confirmed success.
func (m *UploadQueueManager) progress(itemID string, token *cancelToken, sent, size int64) {
	if size <= 0 {
		return
	}
	pct := int(sent * 100 / size)
	if pct > 99 {
		pct = 99
	}
	m.update(itemID, token, func(item *domain.UploadQueueItem) bool {
		if pct <= item.Progress {
			return false
		}
		item.Progress = pct
		return true
	})
}

// complete removes the item and hands the document to the registry. A canceled
// attempt is discarded; a document deleted meanwhile is refused by the registry.
func (m *UploadQueueManager) complete(ctx context.Context, itemID string, token *cancelToken, doc domain.Document) {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok || entry.token != token || token.canceled {
		m.mu.Unlock()
		m.logger.Debug("upload_result_discarded", "item_id", itemID, "document_id", doc.ID)
		return
	}
	entry.item.Progress = 100
	entry.running = false
	item := entry.item
	delete(m.entries, itemID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == itemID })
	m.mu.Unlock()

	if !m.registry.Prepend(doc) {
		m.logger.Info("uploaded_document_not_listed", "document_id", doc.ID, "filename", item.Filename)
	}
	m.logger.Info("upload_completed", "item_id", itemID, "document_id", doc.ID, "filename", item.Filename, "size", item.Size)
	m.metrics.ObserveUpload("success", item.Size)
	m.publish(ctx, domain.EventUploaded, doc.ID, doc.Status, item.Filename)

	document := doc.Clone()
	m.emit(QueueEvent{Type: QueueItemCompleted, Item: item, Document: &document})
}

func (m *UploadQueueManager) fail(itemID string, token *cancelToken, err error) {
	if m.isCanceled(token) {
		return
	}
	msg := domain.UserMessage(err)
	var size int64
	if !m.update(itemID, token, func(item *domain.UploadQueueItem) bool {
		item.Status = domain.QueueError
		item.Error = msg
		size = item.Size
		return true
	}) {
		return
	}
	m.logger.Warn("upload_failed", "item_id", itemID, "error", err)
	m.metrics.ObserveUpload("error", size)
}

// abandon puts the item back to pending without an error after a session expiry.
func (m *UploadQueueManager) abandon(itemID string, token *cancelToken) {
	m.update(itemID, token, func(item *domain.UploadQueueItem) bool {
		item.Status = domain.QueuePending
		item.Progress = 0
		item.Error = ""
		return true
	})
}

func (m *UploadQueueManager) stopped(itemID string, token *cancelToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[itemID]; ok && entry.token == token {
		entry.running = false
	}
}

func (m *UploadQueueManager) isCanceled(token *cancelToken) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return token.canceled
}

// update applies fn to the item owned by token and emits the result when fn reports a change.
func (m *UploadQueueManager) update(itemID string, token *cancelToken, fn func(*domain.UploadQueueItem) bool) bool {
	m.mu.Lock()
	entry, ok := m.entries[itemID]
	if !ok || entry.token != token || token.canceled {
		m.mu.Unlock()
		return false
	}
	if !fn(&entry.item) {
		m.mu.Unlock()
		return false
	}
	item := entry.item
	m.mu.Unlock()

	m.emit(QueueEvent{Type: QueueItemUpdated, Item: item})
	return true
}

func (m *UploadQueueManager) emit(ev QueueEvent) {
	m.mu.Lock()
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

func isPDF(file ports.FileSource) bool {
	if domain.ExtensionOf(file.Name()) == "pdf" {
		return true
	}
	return strings.HasPrefix(strings.ToLower(file.ContentType()), "application/pdf")
}
