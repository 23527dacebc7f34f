package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
)

const (
	defaultPageSize = 20
	defaultCacheTTL = 2 * time.Minute
)

type cachedPage struct {
	ids       []string
	total     int
	fetchedAt time.Time
}

// Registry is the canonical paginated view of known documents.
// All mutation goes through its methods; callers only ever receive copies.
type Registry struct {
	lister   ports.DocumentLister
	logger   *slog.Logger
	now      func() time.Time
	cacheTTL time.Duration

	mu         sync.Mutex
	filter     domain.Filter
	sort       domain.Sort
	page       int
	limit      int
	total      int
	generation uint64
	visible    []string
	pages      map[int]cachedPage
	docs       map[string]domain.Document
	tombstones map[string]time.Time
	txns       map[string]*Txn
	stale      map[string]*domain.Analysis
	lastErr    error

	removeListeners []func(id string)
	pageListeners   []func(visible []string)
}

type Option func(*Registry)

func WithPageSize(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.limit = n
		}
	}
}

func WithCacheTTL(d time.Duration) Option {
	return func(r *Registry) {
		r.cacheTTL = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

func New(lister ports.DocumentLister, opts ...Option) *Registry {
	r := &Registry{
		lister:     lister,
		logger:     slog.Default(),
		now:        time.Now,
		cacheTTL:   defaultCacheTTL,
		sort:       domain.DefaultSort(),
		page:       1,
		limit:      defaultPageSize,
		pages:      make(map[int]cachedPage),
		docs:       make(map[string]domain.Document),
		tombstones: make(map[string]time.Time),
		txns:       make(map[string]*Txn),
		stale:      make(map[string]*domain.Analysis),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnRemove registers fn to run after a document is removed.
func (r *Registry) OnRemove(fn func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeListeners = append(r.removeListeners, fn)
}

// OnPageChange registers fn to run after the visible page is replaced.
func (r *Registry) OnPageChange(fn func(visible []string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageListeners = append(r.pageListeners, fn)
}

// Load makes the current page visible, from cache when fresh, otherwise from the API.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	gen, page := r.generation, r.page
	if cp, ok := r.pages[page]; ok && r.now().Sub(cp.fetchedAt) < r.cacheTTL {
		r.visible = append([]string(nil), cp.ids...)
		r.total = cp.total
		visible, listeners := r.pageNotificationLocked()
		r.mu.Unlock()
		notifyPage(listeners, visible)
		return nil
	}
	q := r.queryLocked()
	r.mu.Unlock()

	res, err := r.lister.ListDocuments(ctx, q)

	r.mu.Lock()
	if err != nil {
		if !domain.IsKind(err, domain.ErrUnauthorized) {
			r.lastErr = err
		}
		r.mu.Unlock()
		return fmt.Errorf("load documents page %d: %w", page, err)
	}
	if gen != r.generation || page != r.page {
		r.mu.Unlock()
		r.logger.Debug("registry_page_superseded", "page", page)
		return nil
	}

	ids := make([]string, 0, len(res.Documents))
	skipped := 0
	for _, fetched := range res.Documents {
		fetched.Normalize()
		if _, dead := r.tombstones[fetched.ID]; dead {
			skipped++
			continue
		}
		r.docs[fetched.ID] = r.mergeFetchedLocked(fetched)
		ids = append(ids, fetched.ID)
	}
	total := res.Pagination.Total - skipped
	if total < len(ids) {
		total = len(ids)
	}
	r.pages[page] = cachedPage{ids: ids, total: total, fetchedAt: r.now()}
	r.visible = append([]string(nil), ids...)
	r.total = total
	r.lastErr = nil
	visible, listeners := r.pageNotificationLocked()
	r.mu.Unlock()

	notifyPage(listeners, visible)
	return nil
}

// Refresh drops every cached page and reloads the current one from the server.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.invalidateLocked()
	r.mu.Unlock()
	return r.Load(ctx)
}

// Invalidate drops cached pages without reloading.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidateLocked()
}

// SetFilter replaces the filter; a change resets to page 1 and invalidates cached pages.
func (r *Registry) SetFilter(f domain.Filter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filter.Equal(f) {
		return false
	}
	r.filter = f
	r.page = 1
	r.invalidateLocked()
	return true
}

// SetSort replaces the sort; a change resets to page 1 and invalidates cached pages.
func (r *Registry) SetSort(s domain.Sort) bool {
	if s.Key == "" {
		s.Key = domain.DefaultSort().Key
	}
	if s.Order != domain.SortAsc {
		s.Order = domain.SortDesc
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sort == s {
		return false
	}
	r.sort = s
	r.page = 1
	r.invalidateLocked()
	return true
}

// SetPageSize changes the page size, resetting to page 1.
func (r *Registry) SetPageSize(n int) bool {
	if n <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit == n {
		return false
	}
	r.limit = n
	r.page = 1
	r.invalidateLocked()
	return true
}

// SetPage moves to page n; cached pages stay valid.
func (r *Registry) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = n
}

func (r *Registry) Query() domain.ListQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queryLocked()
}

func (r *Registry) Pagination() domain.Pagination {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Pagination{Page: r.page, Limit: r.limit, Total: r.total}
}

// LastError is the most recent list-level error; analysis errors are reported elsewhere.
func (r *Registry) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Registry) VisibleIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.visible...)
}

func (r *Registry) Visible() []domain.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Document, 0, len(r.visible))
	for _, id := range r.visible {
		if doc, ok := r.docs[id]; ok {
			out = append(out, doc.Clone())
		}
	}
	return out
}

func (r *Registry) Get(id string) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return domain.Document{}, false
	}
	return doc.Clone(), true
}

// Known reports whether id is on the visible page or any cached page.
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[id]; dead {
		return false
	}
	if slices.Contains(r.visible, id) {
		return true
	}
	for _, cp := range r.pages {
		if slices.Contains(cp.ids, id) {
			return true
		}
	}
	return false
}

func (r *Registry) Tombstoned(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, dead := r.tombstones[id]
	return dead
}

// StaleAnalysis returns the analysis hidden by an in-flight regeneration or a failed one.
func (r *Registry) StaleAnalysis(id string) *domain.Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.stale[id]
	if !ok || a == nil {
		return nil
	}
	cp := a.Clone()
	return &cp
}

// Prepend inserts a freshly uploaded document at the head of the current page.
func (r *Registry) Prepend(doc domain.Document) bool {
	doc.Normalize()
	r.mu.Lock()
	if _, dead := r.tombstones[doc.ID]; dead || doc.ID == "" {
		r.mu.Unlock()
		return false
	}
	if _, exists := r.docs[doc.ID]; exists && slices.Contains(r.visible, doc.ID) {
		r.mu.Unlock()
		return false
	}
	r.docs[doc.ID] = doc.Clone()
	r.visible = append([]string{doc.ID}, r.visible...)
	r.total++
	current := r.pages[r.page]
	clear(r.pages)
	if current.ids != nil {
		current.ids = append([]string(nil), r.visible...)
		current.total = r.total
		r.pages[r.page] = current
	}
	visible, listeners := r.pageNotificationLocked()
	r.mu.Unlock()

	notifyPage(listeners, visible)
	return true
}

// Remove drops id everywhere and tombstones it so late results are discarded.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	if _, dead := r.tombstones[id]; dead {
		r.mu.Unlock()
		return false
	}
	r.tombstones[id] = r.now()
	_, known := r.docs[id]
	delete(r.docs, id)
	delete(r.stale, id)
	if i := slices.Index(r.visible, id); i >= 0 {
		r.visible = slices.Delete(r.visible, i, i+1)
		known = true
	}
	for p, cp := range r.pages {
		if i := slices.Index(cp.ids, id); i >= 0 {
			cp.ids = slices.Delete(slices.Clone(cp.ids), i, i+1)
			cp.total--
			r.pages[p] = cp
		}
	}
	if known && r.total > 0 {
		r.total--
	}
	listeners := slices.Clone(r.removeListeners)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
	return true
}

// Detail fetches the document with its question thread and merges it.
func (r *Registry) Detail(ctx context.Context, id string) (domain.Document, error) {
	detail, err := r.lister.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}
	doc, ok := r.ApplyDetail(*detail)
	if !ok {
		return domain.Document{}, domain.WrapError(domain.ErrDocumentDeleted, "get document", fmt.Errorf("document %s was deleted", id))
	}
	return doc, nil
}

// Reconcile refetches a document so server-computed fields replace optimistic ones.
func (r *Registry) Reconcile(ctx context.Context, id string) error {
	_, err := r.Detail(ctx, id)
	return err
}

// ApplyDetail merges a server detail view. Tombstoned ids are ignored.
func (r *Registry) ApplyDetail(detail domain.DocumentDetail) (domain.Document, bool) {
	fetched := detail.Document
	fetched.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[fetched.ID]; dead {
		return domain.Document{}, false
	}
	merged := r.mergeFetchedLocked(fetched)
	if detail.Questions != nil {
		merged.Questions = mergeQuestions(detail.Questions, merged.Questions)
	}
	r.docs[fetched.ID] = merged
	return merged.Clone(), true
}

// Upsert applies a document returned by a write call, if still known.
func (r *Registry) Upsert(doc domain.Document) bool {
	doc.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[doc.ID]; dead {
		return false
	}
	r.docs[doc.ID] = r.mergeFetchedLocked(doc)
	return true
}

// AddTags unions tags into a known document.
func (r *Registry) AddTags(id string, tags []string) (domain.Document, bool) {
	return r.mutate(id, func(d *domain.Document) {
		d.Tags = domain.MergeTags(d.Tags, tags)
	})
}

// SetQuestions replaces the thread, keeping local entries still waiting for the server.
func (r *Registry) SetQuestions(id string, entries []domain.QAEntry) bool {
	_, ok := r.mutate(id, func(d *domain.Document) {
		d.Questions = mergeQuestions(entries, d.Questions)
	})
	return ok
}

func (r *Registry) AppendQuestion(id string, entry domain.QAEntry) bool {
	_, ok := r.mutate(id, func(d *domain.Document) {
		d.Questions = append(d.Questions, entry.Clone())
	})
	return ok
}

// ResolveQuestion replaces the pending entry with localID in place.
func (r *Registry) ResolveQuestion(id, localID string, resolved domain.QAEntry) bool {
	found := false
	_, ok := r.mutate(id, func(d *domain.Document) {
		for i := range d.Questions {
			if d.Questions[i].LocalID != localID {
				continue
			}
			entry := resolved.Clone()
			entry.LocalID = localID
			entry.Normalize()
			d.Questions[i] = entry
			found = true
			return
		}
	})
	return ok && found
}

func (r *Registry) FailQuestion(id, localID, message string) bool {
	found := false
	_, ok := r.mutate(id, func(d *domain.Document) {
		for i := range d.Questions {
			if d.Questions[i].LocalID == localID && d.Questions[i].Answer == nil {
				d.Questions[i].Status = domain.QuestionFailed
				d.Questions[i].Error = message
				found = true
				return
			}
		}
	})
	return ok && found
}

// DropQuestion removes a local entry that was abandoned.
func (r *Registry) DropQuestion(id, localID string) bool {
	found := false
	_, ok := r.mutate(id, func(d *domain.Document) {
		d.Questions = slices.DeleteFunc(d.Questions, func(q domain.QAEntry) bool {
			if q.LocalID == localID {
				found = true
				return true
			}
			return false
		})
	})
	return ok && found
}

func (r *Registry) mutate(id string, fn func(*domain.Document)) (domain.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dead := r.tombstones[id]; dead {
		return domain.Document{}, false
	}
	doc, ok := r.docs[id]
	if !ok {
		return domain.Document{}, false
	}
	doc = doc.Clone()
	fn(&doc)
	r.docs[id] = doc
	return doc.Clone(), true
}

// mergeFetchedLocked keeps local lifecycle state for ids with an open transition
// and keeps the local question thread when the server view omits it.
func (r *Registry) mergeFetchedLocked(fetched domain.Document) domain.Document {
	local, hasLocal := r.docs[fetched.ID]
	merged := fetched.Clone()
	if !hasLocal {
		return merged
	}
	if _, open := r.txns[fetched.ID]; open {
		merged.Status = local.Status
		merged.Analysis = local.Analysis
	}
	if merged.Questions == nil {
		merged.Questions = local.Questions
	}
	return merged
}

func (r *Registry) invalidateLocked() {
	r.generation++
	clear(r.pages)
	for id := range r.docs {
		if _, open := r.txns[id]; open {
			continue
		}
		if slices.Contains(r.visible, id) {
			continue
		}
		delete(r.docs, id)
	}
}

func (r *Registry) queryLocked() domain.ListQuery {
	f := r.filter
	f.DocumentTypes = slices.Clone(f.DocumentTypes)
	return domain.ListQuery{Filter: f, Sort: r.sort, Page: r.page, Limit: r.limit}
}

func (r *Registry) pageNotificationLocked() ([]string, []func([]string)) {
	return append([]string(nil), r.visible...), slices.Clone(r.pageListeners)
}

func notifyPage(listeners []func([]string), visible []string) {
	for _, fn := range listeners {
		fn(visible)
	}
}

// mergeQuestions returns server entries followed by local entries the server does not know yet.
func mergeQuestions(server, local []domain.QAEntry) []domain.QAEntry {
	out := make([]domain.QAEntry, 0, len(server)+len(local))
	known := make(map[string]struct{}, len(server))
	for _, q := range server {
		q = q.Clone()
		q.Normalize()
		for _, l := range local {
			if l.ID != "" && l.ID == q.ID {
				q.LocalID = l.LocalID
			}
		}
		if q.ID != "" {
			known[q.ID] = struct{}{}
		}
		out = append(out, q)
	}
	for _, l := range local {
		if l.ID != "" {
			if _, ok := known[l.ID]; ok {
				continue
			}
		}
		out = append(out, l.Clone())
	}
	return out
}
