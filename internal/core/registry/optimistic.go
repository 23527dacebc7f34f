package registry

import (
	"fmt"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// lifecycleSnapshot is the part of a document a transition may change.
type lifecycleSnapshot struct {
	status   domain.DocumentStatus
	analysis *domain.Analysis
}

// Txn is an optimistic status transition: snapshot-before, apply, then Commit or Rollback.
// At most one Txn is open per document id.
type Txn struct {
	r      *Registry
	id     string
	before lifecycleSnapshot
	done   bool
}

// BeginTransition applies action to the document and holds its transition slot until
// the returned Txn is finished.
func (r *Registry) BeginTransition(id string, action domain.LifecycleAction) (*Txn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dead := r.tombstones[id]; dead {
		return nil, domain.WrapError(domain.ErrDocumentDeleted, "begin transition", fmt.Errorf("document %s", id))
	}
	if _, open := r.txns[id]; open {
		return nil, domain.WrapError(domain.ErrAnalysisInFlight, "begin transition", fmt.Errorf("document %s", id))
	}
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "begin transition", fmt.Errorf("document %s", id))
	}

	doc = doc.Clone()
	before := lifecycleSnapshot{status: doc.Status, analysis: doc.Analysis}
	hidden, err := doc.BeginAnalysis(action)
	if err != nil {
		return nil, err
	}
	if hidden != nil {
		r.stale[id] = hidden
	}
	r.docs[id] = doc

	txn := &Txn{r: r, id: id, before: before}
	r.txns[id] = txn
	return txn, nil
}

func (t *Txn) DocumentID() string {
	return t.id
}

// Commit applies the successful analysis. It is a no-op returning ErrDocumentDeleted
// when the document was deleted while the transition was open.
func (t *Txn) Commit(result domain.Analysis) error {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if !t.finishLocked() {
		return nil
	}
	if _, dead := r.tombstones[t.id]; dead {
		return domain.WrapError(domain.ErrDocumentDeleted, "commit transition", fmt.Errorf("document %s", t.id))
	}
	doc, ok := r.docs[t.id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "commit transition", fmt.Errorf("document %s", t.id))
	}
	doc = doc.Clone()
	if err := doc.CompleteAnalysis(result.Clone()); err != nil {
		return err
	}
	delete(r.stale, t.id)
	r.docs[t.id] = doc
	return nil
}

// Rollback restores the snapshot. With markFailed the document lands in failed and the
// previous analysis stays reachable through StaleAnalysis; otherwise the snapshot is
// restored exactly, as for an abandoned operation.
func (t *Txn) Rollback(markFailed bool) error {
	r := t.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if !t.finishLocked() {
		return nil
	}
	if _, dead := r.tombstones[t.id]; dead {
		return domain.WrapError(domain.ErrDocumentDeleted, "rollback transition", fmt.Errorf("document %s", t.id))
	}
	doc, ok := r.docs[t.id]
	if !ok {
		return domain.WrapError(domain.ErrDocumentNotFound, "rollback transition", fmt.Errorf("document %s", t.id))
	}
	doc = doc.Clone()
	if !markFailed {
		doc.Status = t.before.status
		doc.Analysis = t.before.analysis
		delete(r.stale, t.id)
		r.docs[t.id] = doc
		return nil
	}
	if err := doc.FailAnalysis(); err != nil {
		return err
	}
	if t.before.analysis != nil {
		r.stale[t.id] = t.before.analysis
	}
	r.docs[t.id] = doc
	return nil
}

func (t *Txn) finishLocked() bool {
	if t.done {
		return false
	}
	t.done = true
	if t.r.txns[t.id] == t {
		delete(t.r.txns, t.id)
	}
	return true
}

// InFlight reports whether a transition is open for id.
func (r *Registry) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, open := r.txns[id]
	return open
}
