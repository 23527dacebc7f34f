package docsapi

import (
	"context"
	"net/http"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// AnalyzeDocument is not retried: the server may already be running the analysis.
func (c *Client) AnalyzeDocument(ctx context.Context, id string, regenerate bool) (*domain.Analysis, error) {
	var resp struct {
		Analysis domain.Analysis `json:"analysis"`
	}
	err := c.doJSON(ctx, call{
		operation: "analyze_document",
		method:    http.MethodPost,
		path:      documentPath(id, "analyze"),
		jsonBody: map[string]bool{
			"regenerate": regenerate,
		},
		streaming: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Analysis, nil
}

func (c *Client) ListQuestions(ctx context.Context, id string) ([]domain.QAEntry, error) {
	var resp struct {
		Entries []domain.QAEntry `json:"entries"`
	}
	err := c.doJSON(ctx, call{
		operation:  "list_questions",
		method:     http.MethodGet,
		path:       documentPath(id, "questions"),
		idempotent: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	for i := range resp.Entries {
		resp.Entries[i].Normalize()
	}
	return resp.Entries, nil
}

func (c *Client) AskQuestion(ctx context.Context, id, question string, tags []string) (*domain.QAEntry, error) {
	if tags == nil {
		tags = []string{}
	}
	var resp struct {
		Entry domain.QAEntry `json:"entry"`
	}
	err := c.doJSON(ctx, call{
		operation: "ask_question",
		method:    http.MethodPost,
		path:      documentPath(id, "questions"),
		jsonBody: map[string]any{
			"question": question,
			"tags":     tags,
		},
		streaming: true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	resp.Entry.Normalize()
	return &resp.Entry, nil
}
