package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
)

const defaultBulkConcurrency = 4

type BulkConfig struct {
	Concurrency int
	// BatchTags sends one bulk tag request first and falls back to per-document updates.
	BatchTags bool
}

// BulkCoordinator fans bulk verbs out to single-document operations. One item
// failing never aborts the others; failures are reported per id.
type BulkCoordinator struct {
	common
	api       ports.DocumentMutator
	registry  *registry.Registry
	analyzer  ports.DocumentAnalyzer
	selection *Selection
	sink      ports.DownloadSink
	cfg       BulkConfig
}

func NewBulkCoordinator(
	api ports.DocumentMutator,
	reg *registry.Registry,
	analyzer ports.DocumentAnalyzer,
	selection *Selection,
	sink ports.DownloadSink,
	cfg BulkConfig,
	opts ...Option,
) *BulkCoordinator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultBulkConcurrency
	}
	if selection == nil {
		selection = NewSelection()
	}
	reg.OnRemove(selection.Deselect)
	reg.OnPageChange(func([]string) {
		selection.Prune(reg.Known)
	})
	return &BulkCoordinator{
		common:    newCommon(opts),
		api:       api,
		registry:  reg,
		analyzer:  analyzer,
		selection: selection,
		sink:      sink,
		cfg:       cfg,
	}
}

func (c *BulkCoordinator) Selection() *Selection {
	return c.selection
}

// SelectAll selects the documents on the visible page, never the whole filtered set.
func (c *BulkCoordinator) SelectAll() {
	c.selection.SelectAll(c.registry.VisibleIDs())
}

// Delete removes one document on the server and then locally.
// A document the server no longer knows is treated as deleted.
func (c *BulkCoordinator) Delete(ctx context.Context, documentID string) error {
	if err := c.api.DeleteDocument(ctx, documentID); err != nil && !domain.IsKind(err, domain.ErrDocumentNotFound) {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	c.registry.Remove(documentID)
	c.publish(ctx, domain.EventDeleted, documentID, "", "")
	c.logger.Info("document_deleted", "document_id", documentID)
	return nil
}

// AddTags unions tags into one document's tag set.
func (c *BulkCoordinator) AddTags(ctx context.Context, documentID string, tags []string) error {
	tags = domain.MergeTags(nil, tags)
	if len(tags) == 0 {
		return domain.Validation("add tags", "at least one tag is required")
	}
	// The union is built on the server's tags; the cached copy may miss tags added elsewhere.
	current, err := c.registry.Detail(ctx, documentID)
	if err != nil {
		return err
	}
	union := domain.MergeTags(current.Tags, tags)
	updated, err := c.api.UpdateDocument(ctx, documentID, domain.DocumentPatch{Tags: union})
	if err != nil {
		return fmt.Errorf("tag document %s: %w", documentID, err)
	}
	if updated != nil {
		c.registry.Upsert(*updated)
	}
	c.registry.AddTags(documentID, tags)
	c.publish(ctx, domain.EventTagged, documentID, "", fmt.Sprint(tags))
	return nil
}

// Download copies one document into the sink.
func (c *BulkCoordinator) Download(ctx context.Context, documentID string) error {
	if c.sink == nil {
		return domain.Validation("download document", "no download destination configured")
	}
	body, filename, err := c.api.DownloadDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("download document %s: %w", documentID, err)
	}
	defer body.Close()
	if err := c.sink.Save(ctx, downloadKey(documentID, filename), body); err != nil {
		return fmt.Errorf("save document %s: %w", documentID, err)
	}
	return nil
}

func (c *BulkCoordinator) BulkDelete(ctx context.Context, ids []string) (domain.BulkResult, error) {
	return c.fanOut(ctx, "delete", ids, c.Delete)
}

func (c *BulkCoordinator) BulkAnalyze(ctx context.Context, ids []string) (domain.BulkResult, error) {
	return c.fanOut(ctx, "analyze", ids, func(ctx context.Context, id string) error {
		_, err := c.analyzer.Analyze(ctx, id, domain.AnalyzeOptions{})
		return err
	})
}

// BulkTag adds tags to every id. An empty tag list is rejected before any call.
func (c *BulkCoordinator) BulkTag(ctx context.Context, ids, tags []string) (domain.BulkResult, error) {
	tags = domain.MergeTags(nil, tags)
	if len(tags) == 0 {
		return domain.BulkResult{Verb: "tag"}, domain.Validation("bulk tag", "at least one tag is required")
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return domain.BulkResult{Verb: "tag"}, domain.Validation("bulk tag", "no documents selected")
	}

	if c.cfg.BatchTags {
		err := c.api.BulkAddTags(ctx, ids, tags)
		if err == nil {
			for _, id := range ids {
				c.registry.AddTags(id, tags)
				c.publish(ctx, domain.EventTagged, id, "", fmt.Sprint(tags))
				c.metrics.ObserveBulkItem("tag", "success")
			}
			c.finish(ctx, "tag")
			return domain.BulkResult{Verb: "tag", Requested: len(ids), Succeeded: ids}, nil
		}
		if domain.IsKind(err, domain.ErrUnauthorized) {
			c.unauthorized(err)
			return domain.BulkResult{Verb: "tag", Requested: len(ids)}, err
		}
		c.logger.Warn("bulk_tags_batch_failed", "error", err, "fallback", "per_document")
	}

	return c.fanOut(ctx, "tag", ids, func(ctx context.Context, id string) error {
		return c.AddTags(ctx, id, tags)
	})
}

func (c *BulkCoordinator) BulkDownload(ctx context.Context, ids []string) (domain.BulkResult, error) {
	if c.sink == nil {
		return domain.BulkResult{Verb: "download"}, domain.Validation("bulk download", "no download destination configured")
	}
	return c.fanOut(ctx, "download", ids, c.Download)
}

// DownloadArchive streams the server-built archive of ids into w.
func (c *BulkCoordinator) DownloadArchive(ctx context.Context, ids []string, w io.Writer) error {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return domain.Validation("download archive", "no documents selected")
	}
	body, err := c.api.BulkDownload(ctx, ids)
	if err != nil {
		if domain.IsKind(err, domain.ErrUnauthorized) {
			c.unauthorized(err)
		}
		return fmt.Errorf("download archive: %w", err)
	}
	defer body.Close()
	n, err := io.Copy(w, body)
	if err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	c.logger.Info("archive_downloaded", "documents", len(ids), "bytes", n)
	c.finish(ctx, "download")
	return nil
}

// fanOut runs op for every id with bounded concurrency. Items run independently;
// a session expiry stops the rest and abandons the whole verb.
func (c *BulkCoordinator) fanOut(ctx context.Context, verb string, ids []string, op func(context.Context, string) error) (domain.BulkResult, error) {
	ids = uniqueIDs(ids)
	result := domain.BulkResult{Verb: verb, Requested: len(ids)}
	if len(ids) == 0 {
		return result, domain.Validation("bulk "+verb, "no documents selected")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		succeeded = make(map[string]bool, len(ids))
		failures  = make(map[string]error)
		authErr   error
	)
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Concurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := runCtx.Err()
			if err == nil {
				err = op(runCtx, id)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded[id] = true
				c.metrics.ObserveBulkItem(verb, "success")
			case domain.IsKind(err, domain.ErrUnauthorized):
				if authErr == nil {
					authErr = err
				}
				cancel()
			case authErr != nil && errors.Is(err, context.Canceled):
				// stopped after the session expired
			default:
				failures[id] = err
				c.metrics.ObserveBulkItem(verb, "failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, id := range ids {
		if succeeded[id] {
			result.Succeeded = append(result.Succeeded, id)
		} else if err, ok := failures[id]; ok {
			result.Failures = append(result.Failures, domain.BulkFailure{ID: id, Err: err})
		}
	}

	if authErr != nil {
		c.unauthorized(authErr)
		return result, authErr
	}
	c.logger.Info("bulk_completed",
		"verb", verb,
		"requested", result.Requested,
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failures),
	)
	c.finish(ctx, verb)
	return result, nil
}

// finish clears the selection and reloads the list after a bulk verb.
func (c *BulkCoordinator) finish(ctx context.Context, verb string) {
	c.selection.Clear()
	if err := c.registry.Refresh(ctx); err != nil {
		if domain.IsKind(err, domain.ErrUnauthorized) {
			c.unauthorized(err)
			return
		}
		c.logger.Warn("bulk_refresh_failed", "verb", verb, "error", err)
	}
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
