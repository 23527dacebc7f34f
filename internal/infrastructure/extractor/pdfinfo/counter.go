package pdfinfo

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/casefile/internal/core/ports"
)

const defaultMaxInMemory = 64 << 20

// Counter reads the page count of PDF files before upload.
type Counter struct {
	maxInMemory int64
}

func NewCounter() *Counter {
	return &Counter{maxInMemory: defaultMaxInMemory}
}

// CountPages opens file and returns its number of pages. Sources that are not
// seekable are buffered in memory up to a limit.
func (c *Counter) CountPages(ctx context.Context, file ports.FileSource) (pages int, err error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rc, err := file.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", file.Name(), err)
	}
	defer rc.Close()

	readerAt, size, err := c.readerAt(rc, file.Size())
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", file.Name(), err)
	}

	// The parser panics on some malformed documents.
	defer func() {
		if r := recover(); r != nil {
			pages, err = 0, fmt.Errorf("parse pdf %s: %v", file.Name(), r)
		}
	}()
	reader, err := pdf.NewReader(readerAt, size)
	if err != nil {
		return 0, fmt.Errorf("parse pdf %s: %w", file.Name(), err)
	}
	return reader.NumPage(), nil
}

func (c *Counter) readerAt(rc io.Reader, size int64) (io.ReaderAt, int64, error) {
	if ra, ok := rc.(io.ReaderAt); ok && size > 0 {
		return ra, size, nil
	}
	if size > c.maxInMemory {
		return nil, 0, fmt.Errorf("file of %d bytes is too large to inspect", size)
	}
	raw, err := io.ReadAll(io.LimitReader(rc, c.maxInMemory+1))
	if err != nil {
		return nil, 0, err
	}
	if int64(len(raw)) > c.maxInMemory {
		return nil, 0, fmt.Errorf("file is too large to inspect")
	}
	return bytes.NewReader(raw), int64(len(raw)), nil
}
