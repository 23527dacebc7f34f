package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/casefile/internal/core/domain"
)

func TestAnalyzeCommitsAndPublishes(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusUploaded))
	reg := loadedRegistry(t, api)
	events := &eventsFake{}
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{}, WithEvents(events))

	analysis, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "summary of d1", analysis.Summary)

	got, ok := reg.Get("d1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusAnalyzed, got.Status)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, []domain.EventType{domain.EventAnalysisStarted, domain.EventAnalyzed}, events.types())
}

func TestAnalyzeCoalescesConcurrentCalls(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusUploaded))
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		once.Do(func() { close(started) })
		<-release
		return &domain.Analysis{Summary: "shared"}, nil
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	const callers = 4
	results := make(chan string, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	call := func() {
		defer wg.Done()
		a, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
		if err != nil {
			errs <- err
			return
		}
		results <- a.Summary
	}

	wg.Add(1)
	go call()
	<-started
	for range callers - 1 {
		wg.Add(1)
		go call()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	count := 0
	for summary := range results {
		assert.Equal(t, "shared", summary)
		count++
	}
	assert.Equal(t, callers, count)
	assert.Equal(t, 1, api.analyzeCalls())
}

func TestAnalyzeRejectsDisallowedTransitionWithoutCalling(t *testing.T) {
	analyzed := testDoc("d1", domain.StatusAnalyzed)
	analyzed.Analysis = &domain.Analysis{Summary: "v1"}
	api := newAPIFake(analyzed, testDoc("d2", domain.StatusUploaded))
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	_, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = o.Analyze(context.Background(), "d2", domain.AnalyzeOptions{Regenerate: true})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = o.Analyze(context.Background(), " ", domain.AnalyzeOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Zero(t, api.analyzeCalls())
}

func TestRegenerateFailureKeepsPreviousAnalysisReachable(t *testing.T) {
	analyzed := testDoc("d1", domain.StatusAnalyzed)
	analyzed.Analysis = &domain.Analysis{Summary: "v1"}
	api := newAPIFake(analyzed)
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		return nil, &serverError{status: 500, msg: "model unavailable"}
	}
	reg := loadedRegistry(t, api)
	events := &eventsFake{}
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{}, WithEvents(events))

	_, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{Regenerate: true})
	require.Error(t, err)

	got, _ := reg.Get("d1")
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Nil(t, got.Analysis)
	require.NotNil(t, reg.StaleAnalysis("d1"))
	assert.Equal(t, "v1", reg.StaleAnalysis("d1").Summary)

	failure, ok := o.Failures().Last("d1")
	require.True(t, ok)
	assert.Equal(t, "model unavailable", failure.Message)
	assert.Equal(t, domain.ActionRegenerate, failure.Action)
	assert.NoError(t, reg.LastError(), "analysis errors stay out of the list error")
	assert.Equal(t, []domain.EventType{domain.EventAnalysisStarted, domain.EventAnalysisFailed}, events.types())

	// a failed document can be analyzed again
	api.analyzeFn = nil
	_, err = o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
	require.NoError(t, err)
	_, ok = o.Failures().Last("d1")
	assert.False(t, ok)
}

func TestUnauthorizedAnalysisRestoresExactly(t *testing.T) {
	analyzed := testDoc("d1", domain.StatusAnalyzed)
	analyzed.Analysis = &domain.Analysis{Summary: "v1"}
	api := newAPIFake(analyzed)
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		return nil, domain.WrapError(domain.ErrUnauthorized, "analyze", errors.New("401"))
	}
	reg := loadedRegistry(t, api)
	auth := &authCounter{}
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{}, WithUnauthorizedHandler(auth.handle))

	_, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{Regenerate: true})
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	got, _ := reg.Get("d1")
	assert.Equal(t, domain.StatusAnalyzed, got.Status)
	assert.Equal(t, "v1", got.Analysis.Summary)
	assert.Equal(t, 1, auth.count())
	assert.Empty(t, o.Failures().All())
}

func TestDeleteDuringAnalysisDiscardsResult(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusUploaded))
	started := make(chan struct{})
	release := make(chan struct{})
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		close(started)
		<-release
		return &domain.Analysis{Summary: "late"}, nil
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
		done <- err
	}()
	<-started
	reg.Remove("d1")
	close(release)

	require.ErrorIs(t, <-done, domain.ErrDocumentDeleted)
	_, ok := reg.Get("d1")
	assert.False(t, ok)
	assert.Empty(t, reg.VisibleIDs())
	assert.Empty(t, o.Failures().All())
}

func TestAnalyzeOutlivesCallerContext(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusUploaded))
	release := make(chan struct{})
	finished := make(chan struct{})
	api.analyzeFn = func(ctx context.Context, _ string, _ bool) (*domain.Analysis, error) {
		defer close(finished)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &domain.Analysis{Summary: "kept"}, nil
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := o.Analyze(ctx, "d1", domain.AnalyzeOptions{})
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-finished
	require.Eventually(t, func() bool {
		got, _ := reg.Get("d1")
		return got.Status == domain.StatusAnalyzed
	}, time.Second, 10*time.Millisecond)
}

func TestAskResolvesTheSamePendingEntry(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusAnalyzed))
	started := make(chan struct{})
	release := make(chan struct{})
	api.askFn = func(_ context.Context, id, question string) (*domain.QAEntry, error) {
		close(started)
		<-release
		answer := "Two years from signature."
		return &domain.QAEntry{ID: "q1", Question: question, Answer: &answer}, nil
	}
	reg := loadedRegistry(t, api)
	events := &eventsFake{}
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{}, WithEvents(events))

	done := make(chan domain.QAEntry, 1)
	go func() {
		entry, err := o.Ask(context.Background(), "d1", "What is the term?", []string{"term"})
		assert.NoError(t, err)
		done <- entry
	}()
	<-started

	pending, _ := reg.Get("d1")
	require.Len(t, pending.Questions, 1)
	assert.Equal(t, domain.QuestionPending, pending.Questions[0].Status)
	assert.Nil(t, pending.Questions[0].Answer)
	localID := pending.Questions[0].LocalID

	close(release)
	entry := <-done

	got, _ := reg.Get("d1")
	require.Len(t, got.Questions, 1, "the answer replaces the pending entry")
	assert.Equal(t, localID, got.Questions[0].LocalID)
	assert.Equal(t, "q1", got.Questions[0].ID)
	assert.Equal(t, domain.QuestionAnswered, got.Questions[0].Status)
	assert.Equal(t, "Two years from signature.", *entry.Answer)
	assert.Equal(t, []domain.EventType{domain.EventQuestionAnswered}, events.types())
}

func TestAskFailureMarksEntry(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusAnalyzed))
	api.askFn = func(context.Context, string, string) (*domain.QAEntry, error) {
		return nil, &serverError{status: 503, msg: "assistant busy"}
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	entry, err := o.Ask(context.Background(), "d1", "Who signs?", nil)
	require.Error(t, err)
	assert.Equal(t, domain.QuestionFailed, entry.Status)

	got, _ := reg.Get("d1")
	require.Len(t, got.Questions, 1)
	assert.Equal(t, domain.QuestionFailed, got.Questions[0].Status)
	assert.Equal(t, "assistant busy", got.Questions[0].Error)
}

func TestAskTimeoutMessage(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusAnalyzed))
	api.askFn = func(ctx context.Context, _, _ string) (*domain.QAEntry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{AskTimeout: 20 * time.Millisecond})

	entry, err := o.Ask(context.Background(), "d1", "Renewal?", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "no answer within 20ms", entry.Error)
}

func TestAskValidatesQuestion(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusAnalyzed))
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	_, err := o.Ask(context.Background(), "d1", "   ", nil)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	got, _ := reg.Get("d1")
	assert.Empty(t, got.Questions)
}

func TestLoadQuestionsMergesServerThread(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusAnalyzed))
	answer := "Acme and Beta"
	api.questions["d1"] = []domain.QAEntry{{ID: "q0", Question: "Parties?", Answer: &answer}}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	entries, err := o.LoadQuestions(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.QuestionAnswered, entries[0].Status)
}

func TestRemovingDocumentClearsFailure(t *testing.T) {
	api := newAPIFake(testDoc("d1", domain.StatusUploaded))
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		return nil, errors.New("boom")
	}
	reg := loadedRegistry(t, api)
	o := NewAnalysisOrchestrator(api, reg, AnalysisConfig{})

	_, err := o.Analyze(context.Background(), "d1", domain.AnalyzeOptions{})
	require.Error(t, err)
	require.Len(t, o.Failures().All(), 1)

	reg.Remove("d1")
	assert.Empty(t, o.Failures().All())
}
