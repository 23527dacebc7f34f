package docsapi

import (
	"context"
	"io"
	"mime"
	"net/http"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// DownloadDocument streams the original file. The caller closes the reader.
func (c *Client) DownloadDocument(ctx context.Context, id string) (io.ReadCloser, string, error) {
	resp, err := c.doStream(ctx, call{
		operation:  "download_document",
		method:     http.MethodGet,
		path:       documentPath(id, "download"),
		idempotent: true,
	})
	if err != nil {
		return nil, "", err
	}
	return resp.Body, attachmentName(resp.Header.Get("Content-Disposition"), id), nil
}

// BulkDownload streams a zip archive of ids.
func (c *Client) BulkDownload(ctx context.Context, ids []string) (io.ReadCloser, error) {
	if len(ids) == 0 {
		return nil, domain.Validation("bulk download", "no document ids")
	}
	resp, err := c.doStream(ctx, call{
		operation: "bulk_download",
		method:    http.MethodPost,
		path:      "/api/documents/bulk/download",
		jsonBody: map[string][]string{
			"ids": ids,
		},
		idempotent: true,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func attachmentName(header, fallback string) string {
	if header == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return fallback
	}
	if name := params["filename"]; name != "" {
		return name
	}
	return fallback
}
