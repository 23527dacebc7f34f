package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kirillkom/casefile/internal/core/domain"
)

var (
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = cellStyle.Bold(true)

	statusColors = map[domain.DocumentStatus]lipgloss.Color{
		domain.StatusProcessing: lipgloss.Color("214"),
		domain.StatusAnalyzed:   lipgloss.Color("42"),
		domain.StatusFailed:     lipgloss.Color("196"),
	}
)

const statusColumn = 3

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDocuments(w io.Writer, docs []domain.Document, page domain.Pagination) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "TYPE", "STATUS", "SIZE", "UPLOADED", "TAGS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == statusColumn && row >= 0 && row < len(docs) {
				if c, ok := statusColors[docs[row].Status]; ok {
					return cellStyle.Foreground(c)
				}
			}
			return cellStyle
		})
	for _, d := range docs {
		t.Row(d.ID, d.Name, d.DocumentType, string(d.Status), d.DisplaySize(),
			d.UploadedAt.Local().Format(time.DateTime), strings.Join(d.Tags, ","))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "page %d of %d (%d documents)\n", page.Page, page.Pages(), page.Total)
}

func printDocument(w io.Writer, d domain.Document, stale *domain.Analysis, now time.Time, window time.Duration) {
	fmt.Fprintf(w, "%s  %s\n", d.ID, d.Name)
	fmt.Fprintf(w, "  status:   %s\n", d.Status)
	fmt.Fprintf(w, "  file:     %s (%s)\n", d.OriginalFilename, d.DisplaySize())
	if d.MatterID != nil {
		fmt.Fprintf(w, "  matter:   %s\n", *d.MatterID)
	}
	if d.DocumentType != "" {
		fmt.Fprintf(w, "  type:     %s\n", d.DocumentType)
	}
	if len(d.Tags) > 0 {
		fmt.Fprintf(w, "  tags:     %s\n", strings.Join(d.Tags, ", "))
	}

	switch {
	case d.Analysis != nil:
		printAnalysis(w, *d.Analysis)
	case stale != nil:
		fmt.Fprintln(w, "  previous analysis (outdated):")
		printAnalysis(w, *stale)
	}

	if len(d.Questions) > 0 {
		fmt.Fprintln(w, "  questions:")
		for _, q := range d.Questions {
			printQuestion(w, q, now, window)
		}
	}
}

func printAnalysis(w io.Writer, a domain.Analysis) {
	fmt.Fprintf(w, "  summary:  %s\n", a.Summary)
	for _, kp := range a.KeyPoints {
		fmt.Fprintf(w, "    - %s\n", kp)
	}
	if len(a.Risks) > 0 {
		fmt.Fprintln(w, "  risks:")
		for _, r := range a.Risks {
			fmt.Fprintf(w, "    [%s] %s\n", r.Severity, r.Description)
		}
	}
	fmt.Fprintf(w, "  confidence: %.0f%%\n", a.Confidence*100)
}

func printQuestion(w io.Writer, q domain.QAEntry, now time.Time, window time.Duration) {
	fmt.Fprintf(w, "    Q: %s\n", q.Question)
	switch {
	case q.Answer != nil:
		fmt.Fprintf(w, "    A: %s\n", *q.Answer)
	case q.Status == domain.QuestionFailed:
		fmt.Fprintf(w, "    ! %s\n", q.Error)
	case q.Awaiting(now, window):
		fmt.Fprintln(w, "    … awaiting answer")
	default:
		fmt.Fprintln(w, "    … no answer yet")
	}
}

func printBulkResult(w io.Writer, res domain.BulkResult) {
	fmt.Fprintf(w, "%s: %d of %d succeeded\n", res.Verb, len(res.Succeeded), res.Requested)
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  %s: %s\n", f.ID, domain.UserMessage(f.Err))
	}
}

func bulkError(res domain.BulkResult) error {
	if len(res.Failures) == 0 {
		return nil
	}
	return &partialFailure{verb: res.Verb, failed: len(res.Failures), total: res.Requested}
}
