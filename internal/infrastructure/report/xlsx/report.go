package xlsx

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/casefile/internal/core/domain"
)

const (
	documentsSheet = "Documents"
	risksSheet     = "Risks"
	questionsSheet = "Questions"
)

var (
	documentsHeader = []any{"ID", "Name", "Type", "Matter", "Status", "Size", "Uploaded", "Tags", "Summary", "Confidence"}
	risksHeader     = []any{"Document ID", "Document", "Severity", "Risk"}
	questionsHeader = []any{"Document ID", "Document", "Question", "Answer", "Status", "Asked"}
)

// Write renders docs as a workbook with one sheet per view.
func Write(w io.Writer, docs []domain.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{risksSheet, questionsSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	docRows := [][]any{documentsHeader}
	riskRows := [][]any{risksHeader}
	questionRows := [][]any{questionsHeader}
	for _, d := range docs {
		docRows = append(docRows, documentRow(d))
		if d.Analysis != nil {
			for _, r := range d.Analysis.Risks {
				riskRows = append(riskRows, []any{d.ID, d.Name, r.Severity, r.Description})
			}
		}
		for _, q := range d.Questions {
			answer := ""
			if q.Answer != nil {
				answer = *q.Answer
			}
			questionRows = append(questionRows, []any{d.ID, d.Name, q.Question, answer, string(q.Status), formatTime(q.AskedAt)})
		}
	}

	for sheet, rows := range map[string][][]any{
		documentsSheet: docRows,
		risksSheet:     riskRows,
		questionsSheet: questionRows,
	} {
		if err := writeRows(f, sheet, rows); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func documentRow(d domain.Document) []any {
	matter := ""
	if d.MatterID != nil {
		matter = *d.MatterID
	}
	summary := ""
	var confidence any = ""
	if d.Analysis != nil {
		summary = d.Analysis.Summary
		confidence = d.Analysis.Confidence
	}
	return []any{
		d.ID,
		d.Name,
		d.DocumentType,
		matter,
		string(d.Status),
		d.DisplaySize(),
		formatTime(d.UploadedAt),
		strings.Join(d.Tags, ", "),
		summary,
		confidence,
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
