package domain

import "time"

type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "pending"
	QuestionAnswered QuestionStatus = "answered"
	QuestionFailed   QuestionStatus = "failed"
)

// QAEntry is one question in a document's thread. Answer stays nil until resolved.
type QAEntry struct {
	LocalID    string         `json:"-"`
	ID         string         `json:"id,omitempty"`
	Question   string         `json:"question"`
	Tags       []string       `json:"tags,omitempty"`
	Answer     *string        `json:"answer"`
	AskedAt    time.Time      `json:"askedAt"`
	AnsweredAt *time.Time     `json:"answeredAt,omitempty"`
	Status     QuestionStatus `json:"status,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Awaiting reports whether a pending entry is still inside the patience window.
// Such an entry is shown as in progress rather than as an error.
func (q QAEntry) Awaiting(now time.Time, window time.Duration) bool {
	if q.Answer != nil || q.Status == QuestionFailed {
		return false
	}
	return now.Sub(q.AskedAt) <= window
}

func (q QAEntry) Clone() QAEntry {
	out := q
	out.Tags = append([]string(nil), q.Tags...)
	if q.Answer != nil {
		a := *q.Answer
		out.Answer = &a
	}
	if q.AnsweredAt != nil {
		t := *q.AnsweredAt
		out.AnsweredAt = &t
	}
	return out
}

// Normalize derives Status from the answer when the server omits it.
func (q *QAEntry) Normalize() {
	if q.Status != "" {
		return
	}
	if q.Answer != nil {
		q.Status = QuestionAnswered
		return
	}
	q.Status = QuestionPending
}
