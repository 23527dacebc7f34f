package docsapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
)

// UploadDocument streams file as multipart form data. extra entries are sent as
// metadata.<key> fields. progress receives the cumulative file bytes written.
// Uploads are not retried automatically; the queue offers a manual retry.
func (c *Client) UploadDocument(
	ctx context.Context,
	file ports.FileSource,
	md domain.UploadMetadata,
	extra map[string]string,
	progress ports.ProgressFunc,
) (*domain.Document, error) {
	var resp documentEnvelope
	err := c.doJSON(ctx, call{
		operation: "upload_document",
		method:    http.MethodPost,
		path:      "/api/documents/upload",
		body: func() (io.Reader, string, error) {
			return multipartBody(file, md, extra, progress)
		},
		streaming: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Document.Normalize()
	return &resp.Document, nil
}

func multipartBody(file ports.FileSource, md domain.UploadMetadata, extra map[string]string, progress ports.ProgressFunc) (io.Reader, string, error) {
	src, err := file.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", file.Name(), err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer src.Close()
		err := writeUploadForm(mw, file, src, md, extra, progress)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()
	return pr, mw.FormDataContentType(), nil
}

func writeUploadForm(
	mw *multipart.Writer,
	file ports.FileSource,
	src io.Reader,
	md domain.UploadMetadata,
	extra map[string]string,
	progress ports.ProgressFunc,
) error {
	if md.MatterID != nil && *md.MatterID != "" {
		if err := mw.WriteField("matterId", *md.MatterID); err != nil {
			return err
		}
	}
	if md.DocumentType != "" {
		if err := mw.WriteField("documentType", md.DocumentType); err != nil {
			return err
		}
	}
	for _, tag := range domain.MergeTags(nil, md.Tags) {
		if err := mw.WriteField("tags", tag); err != nil {
			return err
		}
	}
	if md.Notes != "" {
		if err := mw.WriteField("metadata.notes", md.Notes); err != nil {
			return err
		}
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField("metadata."+k, extra[k]); err != nil {
			return err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(file.Name())))
	contentType := file.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}

	var reader io.Reader = src
	if progress != nil {
		reader = &progressReader{r: src, report: progress}
	}
	if _, err := io.Copy(part, reader); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	return nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

type progressReader struct {
	r      io.Reader
	sent   int64
	report ports.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.report(p.sent)
	}
	return n, err
}
