package usecase

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
)

const (
	defaultAnalysisTimeout = 5 * time.Minute
	defaultAskTimeout      = 2 * time.Minute
)

type AnalysisConfig struct {
	Timeout    time.Duration
	AskTimeout time.Duration
}

// AnalysisFailure is the last analysis error recorded for a document.
type AnalysisFailure struct {
	DocumentID string
	Action     domain.LifecycleAction
	Message    string
	Err        error
	At         time.Time
}

// AnalysisFailures keeps analysis errors apart from list-level errors.
type AnalysisFailures struct {
	mu        sync.Mutex
	last      map[string]AnalysisFailure
	listeners []func(AnalysisFailure)
}

func NewAnalysisFailures() *AnalysisFailures {
	return &AnalysisFailures{last: make(map[string]AnalysisFailure)}
}

func (f *AnalysisFailures) Subscribe(fn func(AnalysisFailure)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *AnalysisFailures) Record(failure AnalysisFailure) {
	f.mu.Lock()
	f.last[failure.DocumentID] = failure
	listeners := slices.Clone(f.listeners)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(failure)
	}
}

func (f *AnalysisFailures) Last(documentID string) (AnalysisFailure, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	failure, ok := f.last[documentID]
	return failure, ok
}

// All returns recorded failures, newest first.
func (f *AnalysisFailures) All() []AnalysisFailure {
	f.mu.Lock()
	out := make([]AnalysisFailure, 0, len(f.last))
	for _, failure := range f.last {
		out = append(out, failure)
	}
	f.mu.Unlock()
	slices.SortFunc(out, func(a, b AnalysisFailure) int {
		return b.At.Compare(a.At)
	})
	return out
}

func (f *AnalysisFailures) Clear(documentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, documentID)
}

// AnalysisOrchestrator triggers AI analysis with optimistic status updates and
// answers questions against analyzed documents.
type AnalysisOrchestrator struct {
	common
	api        ports.AnalysisAPI
	registry   *registry.Registry
	failures   *AnalysisFailures
	flights    singleflight.Group
	timeout    time.Duration
	askTimeout time.Duration
}

func NewAnalysisOrchestrator(
	api ports.AnalysisAPI,
	reg *registry.Registry,
	cfg AnalysisConfig,
	opts ...Option,
) *AnalysisOrchestrator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAnalysisTimeout
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = defaultAskTimeout
	}
	o := &AnalysisOrchestrator{
		common:     newCommon(opts),
		api:        api,
		registry:   reg,
		failures:   NewAnalysisFailures(),
		timeout:    cfg.Timeout,
		askTimeout: cfg.AskTimeout,
	}
	reg.OnRemove(o.failures.Clear)
	return o
}

func (o *AnalysisOrchestrator) Failures() *AnalysisFailures {
	return o.failures
}

// Analyze runs analysis for documentID. Concurrent calls for the same id share one
// request and one result. The request outlives ctx; ctx only bounds the wait.
func (o *AnalysisOrchestrator) Analyze(ctx context.Context, documentID string, opts domain.AnalyzeOptions) (*domain.Analysis, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, domain.Validation("analyze document", "document id is required")
	}
	// The flight runs detached, so a caller that is already gone must not start one.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := o.flights.DoChan(documentID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.runAnalysis(flightCtx, documentID, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		analysis := res.Val.(*domain.Analysis).Clone()
		return &analysis, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *AnalysisOrchestrator) runAnalysis(ctx context.Context, documentID string, opts domain.AnalyzeOptions) (*domain.Analysis, error) {
	doc, err := o.ensureDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == domain.StatusProcessing {
		return nil, domain.WrapError(domain.ErrAnalysisInFlight, "analyze document", fmt.Errorf("document %s", documentID))
	}
	allowed := domain.CanAnalyze(doc)
	if opts.Regenerate {
		allowed = domain.CanRegenerate(doc)
	}
	action := opts.Action()
	if !allowed {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "analyze document",
			fmt.Errorf("cannot %s document %s in status %q", action, documentID, doc.Status))
	}

	txn, err := o.registry.BeginTransition(documentID, action)
	if err != nil {
		return nil, err
	}
	o.publish(ctx, domain.EventAnalysisStarted, documentID, domain.StatusProcessing, string(action))
	o.logger.Info("analysis_started", "document_id", documentID, "action", string(action))

	start := o.now()
	analysis, err := o.api.AnalyzeDocument(ctx, documentID, opts.Regenerate)
	elapsed := o.now().Sub(start)
	if err != nil {
		return nil, o.rollback(ctx, txn, action, elapsed, err)
	}

	if err := txn.Commit(*analysis); err != nil {
		if domain.IsKind(err, domain.ErrDocumentDeleted) {
			o.logger.Info("analysis_result_discarded", "document_id", documentID)
			o.metrics.ObserveAnalysis(string(action), "discarded", elapsed)
		}
		return nil, err
	}
	o.failures.Clear(documentID)
	o.metrics.ObserveAnalysis(string(action), "success", elapsed)
	o.publish(ctx, domain.EventAnalyzed, documentID, domain.StatusAnalyzed, "")
	o.logger.Info("analysis_completed", "document_id", documentID, "action", string(action), "elapsed_ms", elapsed.Milliseconds())

	if err := o.registry.Reconcile(ctx, documentID); err != nil {
		o.logger.Warn("analysis_reconcile_failed", "document_id", documentID, "error", err)
	}
	return analysis, nil
}

func (o *AnalysisOrchestrator) rollback(ctx context.Context, txn *registry.Txn, action domain.LifecycleAction, elapsed time.Duration, cause error) error {
	documentID := txn.DocumentID()
	if domain.IsKind(cause, domain.ErrUnauthorized) {
		_ = txn.Rollback(false)
		o.metrics.ObserveAnalysis(string(action), "abandoned", elapsed)
		o.unauthorized(cause)
		return cause
	}
	if err := txn.Rollback(true); err != nil {
		if domain.IsKind(err, domain.ErrDocumentDeleted) {
			o.logger.Info("analysis_failure_discarded", "document_id", documentID, "error", cause)
			return err
		}
		o.logger.Error("analysis_rollback_failed", "document_id", documentID, "error", err)
	}

	o.failures.Record(AnalysisFailure{
		DocumentID: documentID,
		Action:     action,
		Message:    domain.UserMessage(cause),
		Err:        cause,
		At:         o.now().UTC(),
	})
	o.metrics.ObserveAnalysis(string(action), "failed", elapsed)
	o.publish(ctx, domain.EventAnalysisFailed, documentID, domain.StatusFailed, domain.UserMessage(cause))
	o.logger.Warn("analysis_failed", "document_id", documentID, "action", string(action), "error", cause)
	return fmt.Errorf("analyze document %s: %w", documentID, cause)
}

func (o *AnalysisOrchestrator) ensureDocument(ctx context.Context, documentID string) (domain.Document, error) {
	if o.registry.Tombstoned(documentID) {
		return domain.Document{}, domain.WrapError(domain.ErrDocumentDeleted, "analyze document", fmt.Errorf("document %s", documentID))
	}
	if doc, ok := o.registry.Get(documentID); ok {
		return doc, nil
	}
	return o.registry.Detail(ctx, documentID)
}

// Ask appends a pending entry to the document's thread, then resolves that same
// entry with the answer or marks it failed.
func (o *AnalysisOrchestrator) Ask(ctx context.Context, documentID, question string, tags []string) (domain.QAEntry, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.QAEntry{}, domain.Validation("ask question", "question is required")
	}
	if _, err := o.ensureDocument(ctx, documentID); err != nil {
		return domain.QAEntry{}, err
	}

	entry := domain.QAEntry{
		LocalID:  uuid.NewString(),
		Question: question,
		Tags:     domain.MergeTags(nil, tags),
		AskedAt:  o.now().UTC(),
		Status:   domain.QuestionPending,
	}
	if !o.registry.AppendQuestion(documentID, entry) {
		return domain.QAEntry{}, domain.WrapError(domain.ErrDocumentDeleted, "ask question", fmt.Errorf("document %s", documentID))
	}

	askCtx, cancel := context.WithTimeout(ctx, o.askTimeout)
	defer cancel()
	answered, err := o.api.AskQuestion(askCtx, documentID, question, entry.Tags)
	if err != nil {
		if domain.IsKind(err, domain.ErrUnauthorized) {
			o.registry.DropQuestion(documentID, entry.LocalID)
			o.unauthorized(err)
			return entry, err
		}
		msg := domain.UserMessage(err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			msg = fmt.Sprintf("no answer within %s", o.askTimeout)
		}
		o.registry.FailQuestion(documentID, entry.LocalID, msg)
		o.logger.Warn("question_failed", "document_id", documentID, "error", err)
		failed := entry
		failed.Status = domain.QuestionFailed
		failed.Error = msg
		return failed, fmt.Errorf("ask question on %s: %w", documentID, err)
	}

	resolved := answered.Clone()
	resolved.LocalID = entry.LocalID
	if resolved.Question == "" {
		resolved.Question = question
	}
	if resolved.AskedAt.IsZero() {
		resolved.AskedAt = entry.AskedAt
	}
	resolved.Normalize()
	if !o.registry.ResolveQuestion(documentID, entry.LocalID, resolved) {
		return resolved, domain.WrapError(domain.ErrDocumentDeleted, "ask question", fmt.Errorf("document %s", documentID))
	}
	if resolved.Status == domain.QuestionAnswered {
		o.publish(ctx, domain.EventQuestionAnswered, documentID, "", resolved.ID)
	}
	return resolved, nil
}

// LoadQuestions fetches the question thread of a document into the registry.
func (o *AnalysisOrchestrator) LoadQuestions(ctx context.Context, documentID string) ([]domain.QAEntry, error) {
	if _, err := o.ensureDocument(ctx, documentID); err != nil {
		return nil, err
	}
	entries, err := o.api.ListQuestions(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrUnauthorized) {
			o.unauthorized(err)
		}
		return nil, fmt.Errorf("list questions for %s: %w", documentID, err)
	}
	if !o.registry.SetQuestions(documentID, entries) {
		return nil, domain.WrapError(domain.ErrDocumentDeleted, "list questions", fmt.Errorf("document %s", documentID))
	}
	doc, _ := o.registry.Get(documentID)
	return doc.Questions, nil
}
