package cli

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/ports"
	"github.com/kirillkom/casefile/internal/core/registry"
	"github.com/kirillkom/casefile/internal/core/usecase"
)

// Deps are the coordinators the commands drive.
type Deps struct {
	Registry   *registry.Registry
	Uploads    *usecase.UploadQueueManager
	Analysis   *usecase.AnalysisOrchestrator
	Bulk       *usecase.BulkCoordinator
	Subscriber ports.EventSubscriber

	AskPendingWindow time.Duration
}

// Factory builds Deps for one command run. prompter is nil unless the command collects metadata interactively.
type Factory func(ctx context.Context, prompter ports.MetadataPrompter) (*Deps, func(), error)

type runner struct {
	factory Factory
	in      io.Reader
}

func NewRootCommand(factory Factory, in io.Reader, out io.Writer) *cobra.Command {
	r := &runner{factory: factory, in: in}

	root := &cobra.Command{
		Use:           "casefile",
		Short:         "Upload, analyze and manage case documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)

	root.AddCommand(
		r.uploadCommand(),
		r.listCommand(),
		r.showCommand(),
		r.reportCommand(),
		r.analyzeCommand(),
		r.askCommand(),
		r.questionsCommand(),
		r.deleteCommand(),
		r.tagCommand(),
		r.downloadCommand(),
		r.watchCommand(),
	)
	return root
}

// with builds Deps, runs fn and releases them.
func (r *runner) with(cmd *cobra.Command, prompter ports.MetadataPrompter, fn func(*Deps) error) error {
	deps, closeFn, err := r.factory(cmd.Context(), prompter)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}
	return fn(deps)
}
