package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
)

// NewPrompter returns a form prompter on an interactive terminal and a
// line-oriented one for piped input.
func NewPrompter(in io.Reader, out io.Writer) ports.MetadataPrompter {
	if f, ok := in.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return &FormPrompter{in: f, out: out}
	}
	return NewStdinPrompter(in, out)
}

// FormPrompter collects batch metadata with a terminal form. Aborting the form dismisses the batch.
type FormPrompter struct {
	in  io.Reader
	out io.Writer
}

func (p *FormPrompter) PromptMetadata(ctx context.Context, item domain.UploadQueueItem) (domain.UploadMetadata, error) {
	var matter, docType, tags, notes string

	description := "Applies to every file of this batch."
	if item.PageCount > 0 {
		description = fmt.Sprintf("%d pages. %s", item.PageCount, description)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Matter ID").Value(&matter),
			huh.NewInput().Title("Document type").Value(&docType),
			huh.NewInput().Title("Tags").Description("comma separated").Value(&tags),
			huh.NewText().Title("Notes").Value(&notes),
		).Title("Metadata for "+item.Filename).Description(description),
	).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return domain.UploadMetadata{}, domain.ErrUploadCanceled
		}
		return domain.UploadMetadata{}, fmt.Errorf("metadata form: %w", err)
	}

	md := domain.UploadMetadata{
		DocumentType: docType,
		Tags:         splitTags(tags),
		Notes:        notes,
	}
	if matter != "" {
		md.MatterID = &matter
	}
	return md, nil
}
