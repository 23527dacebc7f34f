package localfs

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// File is a file on disk offered to the upload queue.
type File struct {
	path        string
	size        int64
	contentType string
}

// OpenFile stats path and detects its content type from the extension,
// falling back to content sniffing.
func OpenFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if contentType == "" {
		contentType, err = sniff(path)
		if err != nil {
			return nil, err
		}
	}
	return &File{path: path, size: info.Size(), contentType: contentType}, nil
}

func (f *File) Name() string        { return filepath.Base(f.path) }
func (f *File) Size() int64         { return f.size }
func (f *File) ContentType() string { return f.contentType }
func (f *File) Path() string        { return f.path }

func (f *File) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func sniff(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer fh.Close()
	head := make([]byte, 512)
	n, err := io.ReadFull(fh, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return http.DetectContentType(head[:n]), nil
}
