package domain

import "time"

type EventType string

const (
	EventUploaded         EventType = "document.uploaded"
	EventAnalysisStarted  EventType = "document.analysis_started"
	EventAnalyzed         EventType = "document.analyzed"
	EventAnalysisFailed   EventType = "document.analysis_failed"
	EventDeleted          EventType = "document.deleted"
	EventTagged           EventType = "document.tagged"
	EventQuestionAnswered EventType = "document.question_answered"
)

// LifecycleEvent is broadcast after a local state change is committed.
type LifecycleEvent struct {
	Type       EventType      `json:"type"`
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	At         time.Time      `json:"at"`
}

// BulkFailure is one id that failed inside a bulk operation.
type BulkFailure struct {
	ID  string
	Err error
}

// BulkResult reports the per-item outcome of a bulk verb.
type BulkResult struct {
	Verb      string
	Requested int
	Succeeded []string
	Failures  []BulkFailure
}

func (r BulkResult) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.ID)
	}
	return ids
}
