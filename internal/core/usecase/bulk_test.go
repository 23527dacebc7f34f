package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/registry"
)

func newBulk(t *testing.T, api *apiFake, cfg BulkConfig, opts ...Option) (*BulkCoordinator, *registry.Registry, *sinkFake) {
	t.Helper()
	reg := loadedRegistry(t, api, registry.WithPageSize(2))
	sink := &sinkFake{}
	analyzer := NewAnalysisOrchestrator(api, reg, AnalysisConfig{}, opts...)
	return NewBulkCoordinator(api, reg, analyzer, nil, sink, cfg, opts...), reg, sink
}

func TestBulkDeleteReportsPartialFailure(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded), testDoc("c", domain.StatusUploaded))
	api.deleteErr["b"] = &serverError{status: 500, msg: "storage offline"}
	events := &eventsFake{}
	bulk, reg, _ := newBulk(t, api, BulkConfig{Concurrency: 2}, WithEvents(events))
	bulk.Selection().Select("a", "b", "c")

	res, err := bulk.BulkDelete(context.Background(), bulk.Selection().IDs())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Requested)
	assert.Equal(t, []string{"a", "c"}, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "b", res.Failures[0].ID)
	assert.Equal(t, "storage offline", domain.UserMessage(res.Failures[0].Err))

	assert.Equal(t, []string{"b"}, reg.VisibleIDs())
	assert.True(t, reg.Tombstoned("a"))
	assert.Zero(t, bulk.Selection().Len(), "selection is cleared after a bulk verb")
	assert.Len(t, events.types(), 2)
}

func TestDeleteOfMissingDocumentCountsAsDeleted(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded))
	bulk, reg, _ := newBulk(t, api, BulkConfig{})

	require.NoError(t, bulk.Delete(context.Background(), "ghost"))
	assert.True(t, reg.Tombstoned("ghost"))
}

func TestBulkStopsWhenSessionExpires(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded), testDoc("c", domain.StatusUploaded))
	api.deleteErr["a"] = domain.WrapError(domain.ErrUnauthorized, "delete", errors.New("401"))
	auth := &authCounter{}
	bulk, reg, _ := newBulk(t, api, BulkConfig{Concurrency: 1}, WithUnauthorizedHandler(auth.handle))

	res, err := bulk.BulkDelete(context.Background(), []string{"a", "b", "c"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, res.Succeeded)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, auth.count())
	assert.Equal(t, []string{"a", "b"}, reg.VisibleIDs())
}

func TestBulkAnalyzeStopsWhenSessionExpires(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded), testDoc("c", domain.StatusUploaded))
	api.analyzeFn = func(context.Context, string, bool) (*domain.Analysis, error) {
		return nil, domain.WrapError(domain.ErrUnauthorized, "analyze", errors.New("401"))
	}
	auth := &authCounter{}
	bulk, _, _ := newBulk(t, api, BulkConfig{Concurrency: 1}, WithUnauthorizedHandler(auth.handle))

	res, err := bulk.BulkAnalyze(context.Background(), []string{"a", "b", "c"})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, res.Failures)
	assert.Equal(t, 1, api.analyzeCalls(), "no analysis starts after the session expired")
	assert.Positive(t, auth.count())
}

func TestBulkTagRejectsEmptyTagsBeforeAnyCall(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded))
	bulk, _, _ := newBulk(t, api, BulkConfig{BatchTags: true})

	_, err := bulk.BulkTag(context.Background(), []string{"a"}, []string{"", "  "})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, api.bulkTags)
	assert.Empty(t, api.patches)
}

func TestBulkTagUnionsWithExistingTags(t *testing.T) {
	tagged := testDoc("a", domain.StatusUploaded)
	tagged.Tags = []string{"x"}
	api := newAPIFake(tagged, testDoc("b", domain.StatusUploaded))
	bulk, reg, _ := newBulk(t, api, BulkConfig{})

	res, err := bulk.BulkTag(context.Background(), []string{"a", "b"}, []string{"y", "x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, res.Succeeded)

	assert.Equal(t, []string{"x", "y"}, api.patches["a"].Tags)
	assert.Equal(t, []string{"y", "x"}, api.patches["b"].Tags)
	got, _ := reg.Get("a")
	assert.Equal(t, []string{"x", "y"}, got.Tags)
}

func TestAddTagsUnionsWithServerTags(t *testing.T) {
	tagged := testDoc("a", domain.StatusUploaded)
	tagged.Tags = []string{"x"}
	api := newAPIFake(tagged)
	bulk, reg, _ := newBulk(t, api, BulkConfig{})

	api.mu.Lock()
	api.docs[0].Tags = []string{"x", "z"}
	api.mu.Unlock()

	require.NoError(t, bulk.AddTags(context.Background(), "a", []string{"y"}))
	assert.ElementsMatch(t, []string{"x", "z", "y"}, api.patches["a"].Tags, "a tag added elsewhere survives")
	got, _ := reg.Get("a")
	assert.ElementsMatch(t, []string{"x", "z", "y"}, got.Tags)
}

func TestBulkTagBatchFallsBackToPerDocument(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded))
	api.bulkTagErr = &serverError{status: 404, msg: "not found"}
	bulk, _, _ := newBulk(t, api, BulkConfig{BatchTags: true})

	res, err := bulk.BulkTag(context.Background(), []string{"a", "b"}, []string{"urgent"})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded, 2)
	assert.Equal(t, 1, api.bulkTags)
	assert.Len(t, api.patches, 2)
}

func TestBulkTagBatchSucceeds(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded))
	bulk, reg, _ := newBulk(t, api, BulkConfig{BatchTags: true})

	res, err := bulk.BulkTag(context.Background(), []string{"a", "b"}, []string{"urgent"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Succeeded)
	assert.Empty(t, api.patches)
	got, _ := reg.Get("b")
	assert.Equal(t, []string{"urgent"}, got.Tags)
}

func TestSelectAllTakesOnlyVisiblePage(t *testing.T) {
	api := newAPIFake(
		testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded),
		testDoc("c", domain.StatusUploaded), testDoc("d", domain.StatusUploaded),
	)
	bulk, reg, _ := newBulk(t, api, BulkConfig{})
	require.Equal(t, 4, reg.Pagination().Total)

	bulk.SelectAll()
	assert.Equal(t, []string{"a", "b"}, bulk.Selection().IDs())
}

func TestSelectionFollowsRegistry(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded))
	bulk, reg, _ := newBulk(t, api, BulkConfig{})
	bulk.Selection().Select("a", "b", "stale")

	reg.Remove("a")
	assert.False(t, bulk.Selection().Contains("a"))

	require.NoError(t, reg.Refresh(context.Background()))
	assert.Equal(t, []string{"b"}, bulk.Selection().IDs())
}

func TestBulkAnalyzeRunsEachDocument(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusAnalyzed))
	bulk, reg, _ := newBulk(t, api, BulkConfig{})

	res, err := bulk.BulkAnalyze(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.Succeeded)
	require.Len(t, res.Failures, 1)
	assert.ErrorIs(t, res.Failures[0].Err, domain.ErrInvalidTransition)
	got, _ := reg.Get("a")
	assert.Equal(t, domain.StatusAnalyzed, got.Status)
}

func TestDownloadsGoToSink(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded), testDoc("b", domain.StatusUploaded))
	api.contents["a"] = "alpha"
	api.contents["b"] = "beta"
	bulk, _, sink := newBulk(t, api, BulkConfig{})

	res, err := bulk.BulkDownload(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requested)
	assert.Equal(t, map[string]string{"a_a.pdf": "alpha", "b_b.pdf": "beta"}, sink.saved)
}

func TestDownloadArchiveStreamsToWriter(t *testing.T) {
	api := newAPIFake(testDoc("a", domain.StatusUploaded))
	bulk, _, _ := newBulk(t, api, BulkConfig{})

	var buf bytes.Buffer
	require.NoError(t, bulk.DownloadArchive(context.Background(), []string{"a", "b"}, &buf))
	assert.Equal(t, "zip:[a b]", buf.String())

	err := bulk.DownloadArchive(context.Background(), nil, &buf)
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSanitizedDownloadKey(t *testing.T) {
	assert.Equal(t, "d1_Master_Agreement__v2_.pdf", downloadKey("d1", "../Master Agreement (v2).pdf"))
	assert.Equal(t, "d1_document.bin", downloadKey("d1", ""))
}
