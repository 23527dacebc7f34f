package docsapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kirillkom/casefile/internal/core/domain"
)

type listResponse struct {
	Data       []domain.Document `json:"data"`
	Pagination domain.Pagination `json:"pagination"`
}

type documentEnvelope struct {
	Document domain.Document `json:"document"`
}

type detailResponse struct {
	Document  domain.Document  `json:"document"`
	Questions []domain.QAEntry `json:"questions"`
}

// ListDocuments fetches one filtered, sorted page.
func (c *Client) ListDocuments(ctx context.Context, q domain.ListQuery) (domain.DocumentPage, error) {
	var resp listResponse
	err := c.doJSON(ctx, call{
		operation:  "list_documents",
		method:     http.MethodGet,
		path:       "/api/documents",
		query:      listValues(q),
		idempotent: true,
	}, &resp)
	if err != nil {
		return domain.DocumentPage{}, err
	}
	for i := range resp.Data {
		resp.Data[i].Normalize()
	}
	if resp.Pagination.Page == 0 {
		resp.Pagination.Page = q.Page
	}
	if resp.Pagination.Limit == 0 {
		resp.Pagination.Limit = q.Limit
	}
	return domain.DocumentPage{Documents: resp.Data, Pagination: resp.Pagination}, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*domain.DocumentDetail, error) {
	var resp detailResponse
	err := c.doJSON(ctx, call{
		operation:  "get_document",
		method:     http.MethodGet,
		path:       documentPath(id),
		idempotent: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Document.Normalize()
	for i := range resp.Questions {
		resp.Questions[i].Normalize()
	}
	return &domain.DocumentDetail{Document: resp.Document, Questions: resp.Questions}, nil
}

// UpdateDocument applies a metadata patch.
func (c *Client) UpdateDocument(ctx context.Context, id string, patch domain.DocumentPatch) (*domain.Document, error) {
	var resp documentEnvelope
	err := c.doJSON(ctx, call{
		operation:  "update_document",
		method:     http.MethodPut,
		path:       documentPath(id),
		jsonBody:   patch,
		idempotent: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Document.Normalize()
	return &resp.Document, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.doJSON(ctx, call{
		operation:  "delete_document",
		method:     http.MethodDelete,
		path:       documentPath(id),
		idempotent: true,
	}, nil)
}

func (c *Client) BulkAddTags(ctx context.Context, ids, tags []string) error {
	return c.doJSON(ctx, call{
		operation: "bulk_tags",
		method:    http.MethodPost,
		path:      "/api/documents/bulk/tags",
		jsonBody: map[string][]string{
			"ids":  ids,
			"tags": tags,
		},
		idempotent: true,
	}, nil)
}

func listValues(q domain.ListQuery) url.Values {
	v := url.Values{}
	f := q.Filter
	if f.Search != "" {
		v.Set("search", f.Search)
	}
	if f.MatterID != "" {
		v.Set("matterId", f.MatterID)
	}
	for _, t := range f.DocumentTypes {
		v.Add("documentType", t)
	}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.DateFrom != nil {
		v.Set("dateFrom", f.DateFrom.UTC().Format("2006-01-02"))
	}
	if f.DateTo != nil {
		v.Set("dateTo", f.DateTo.UTC().Format("2006-01-02"))
	}
	if q.Sort.Key != "" {
		v.Set("sortBy", q.Sort.Key)
	}
	if q.Sort.Order != "" {
		v.Set("sortOrder", string(q.Sort.Order))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}
