package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/usecase"
	"github.com/kirillkom/casefile/internal/infrastructure/storage/localfs"
)

// StdinPrompter asks for batch metadata on a line-oriented terminal.
// Answering "q" to the first question, or closing the input, dismisses the batch.
type StdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func NewStdinPrompter(in io.Reader, out io.Writer) *StdinPrompter {
	return &StdinPrompter{in: bufio.NewReader(in), out: out}
}

func (p *StdinPrompter) PromptMetadata(ctx context.Context, item domain.UploadQueueItem) (domain.UploadMetadata, error) {
	fmt.Fprintf(p.out, "metadata for %s (applies to the whole batch, q to cancel)\n", item.Filename)
	if item.PageCount > 0 {
		fmt.Fprintf(p.out, "  %d pages\n", item.PageCount)
	}

	matter, err := p.ask(ctx, "  matter id: ")
	if err != nil {
		return domain.UploadMetadata{}, err
	}
	if matter == "q" {
		return domain.UploadMetadata{}, domain.ErrUploadCanceled
	}
	docType, err := p.ask(ctx, "  document type: ")
	if err != nil {
		return domain.UploadMetadata{}, err
	}
	tags, err := p.ask(ctx, "  tags (comma separated): ")
	if err != nil {
		return domain.UploadMetadata{}, err
	}
	notes, err := p.ask(ctx, "  notes: ")
	if err != nil {
		return domain.UploadMetadata{}, err
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

func (p *StdinPrompter) ask(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", domain.ErrUploadCanceled
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func splitTags(v string) []string {
	var tags []string
	for _, t := range strings.Split(v, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func (r *runner) uploadCommand() *cobra.Command {
	var (
		matter string
		docTyp string
		tags   []string
		notes  string
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "upload <file>...",
		Short: "Upload files with matter, type and tags",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			var defaults *domain.UploadMetadata
			var prompter ports.MetadataPrompter
			if prompt {
				prompter = NewPrompter(cmd.InOrStdin(), out)
			} else {
				md := domain.UploadMetadata{DocumentType: docTyp, Tags: tags, Notes: notes}
				if matter != "" {
					md.MatterID = &matter
				}
				defaults = &md
			}

			files := make([]ports.FileSource, 0, len(args))
			var rejected []domain.Rejection
			for _, path := range args {
				f, err := localfs.OpenFile(path)
				if err != nil {
					rejected = append(rejected, domain.Rejection{Filename: path, Reason: err.Error()})
					continue
				}
				files = append(files, f)
			}

			return r.with(cmd, prompter, func(deps *Deps) error {
				var mu sync.Mutex
				deps.Uploads.Subscribe(func(ev usecase.QueueEvent) {
					mu.Lock()
					defer mu.Unlock()
					switch {
					case ev.Type == usecase.QueueItemCompleted && ev.Document != nil:
						fmt.Fprintf(out, "uploaded %s as %s\n", ev.Item.Filename, ev.Document.ID)
					case ev.Type == usecase.QueueItemUpdated && ev.Item.Status == domain.QueueError:
						fmt.Fprintf(out, "failed %s: %s\n", ev.Item.Filename, ev.Item.Error)
					}
				})

				ids, queueRejected := deps.Uploads.Enqueue(cmd.Context(), files, defaults)
				rejected = append(rejected, queueRejected...)
				for _, rej := range rejected {
					fmt.Fprintf(out, "rejected %s\n", rej.Error())
				}
				deps.Uploads.Wait()

				failed := 0
				for _, item := range deps.Uploads.Items() {
					if item.Status == domain.QueueError {
						failed++
					}
				}
				total := len(ids) + len(rejected)
				if failed+len(rejected) > 0 {
					return &partialFailure{verb: "upload", failed: failed + len(rejected), total: total}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&matter, "matter", "", "matter id")
	cmd.Flags().StringVar(&docTyp, "type", "", "document type")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags (comma separated)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "ask for metadata interactively")
	return cmd
}
