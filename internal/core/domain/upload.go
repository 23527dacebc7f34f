package domain

import (
	"fmt"
	"strings"
)

type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueUploading QueueStatus = "uploading"
	QueueError     QueueStatus = "error"
)

// UploadMetadata is attached to every file before transfer.
type UploadMetadata struct {
	MatterID     *string  `json:"matterId,omitempty" yaml:"matter_id"`
	DocumentType string   `json:"documentType,omitempty" yaml:"document_type"`
	Tags         []string `json:"tags,omitempty" yaml:"tags"`
	Notes        string   `json:"notes,omitempty" yaml:"notes"`
}

func (m UploadMetadata) Clone() UploadMetadata {
	out := m
	if m.MatterID != nil {
		id := *m.MatterID
		out.MatterID = &id
	}
	out.Tags = MergeTags(nil, m.Tags)
	return out
}

// UploadQueueItem is one file in flight; it is replaced by a Document on success.
type UploadQueueItem struct {
	ID                string
	BatchID           string
	Filename          string
	Size              int64
	MimeType          string
	Metadata          UploadMetadata
	MetadataConfirmed bool
	Progress          int
	Status            QueueStatus
	Error             string
	PageCount         int
}

// Rejection describes a file refused before any network call.
type Rejection struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Filename, r.Reason)
}

// UploadPolicy bounds which files may be enqueued.
type UploadPolicy struct {
	AllowedMimeTypes []string
	MaxSizeBytes     int64
}

// Check returns a rejection reason, or "" when the file is acceptable.
func (p UploadPolicy) Check(filename, mimeType string, size int64) string {
	if size <= 0 {
		return "file is empty"
	}
	if p.MaxSizeBytes > 0 && size > p.MaxSizeBytes {
		return fmt.Sprintf("file size %d exceeds limit of %d bytes", size, p.MaxSizeBytes)
	}
	if len(p.AllowedMimeTypes) == 0 {
		return ""
	}
	mt := normalizeMime(mimeType)
	for _, allowed := range p.AllowedMimeTypes {
		if normalizeMime(allowed) == mt {
			return ""
		}
	}
	if mt == "" {
		return "unknown file type"
	}
	return fmt.Sprintf("file type %s is not allowed", mt)
}

func normalizeMime(v string) string {
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(strings.TrimSpace(v))
}
