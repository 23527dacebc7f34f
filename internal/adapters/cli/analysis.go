package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/domain"
)

func (r *runner) analyzeCommand() *cobra.Command {
	var (
		regenerate bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <document-id>...",
		Short: "Run AI analysis on one or more documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				out := cmd.OutOrStdout()
				if len(args) > 1 {
					if regenerate {
						return domain.Validation("analyze", "--regenerate takes a single document")
					}
					res, err := deps.Bulk.BulkAnalyze(cmd.Context(), args)
					if err != nil {
						return err
					}
					printBulkResult(out, res)
					return bulkError(res)
				}

				analysis, err := deps.Analysis.Analyze(cmd.Context(), args[0], domain.AnalyzeOptions{Regenerate: regenerate})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, analysis)
				}
				printAnalysis(out, *analysis)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "replace an existing analysis")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (r *runner) askCommand() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "ask <document-id> <question>",
		Short: "Ask a question about an analyzed document",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args[1:], " ")
			return r.with(cmd, nil, func(deps *Deps) error {
				entry, err := deps.Analysis.Ask(cmd.Context(), args[0], question, tags)
				if err != nil && entry.Status != domain.QuestionFailed {
					return err
				}
				printQuestion(cmd.OutOrStdout(), entry, time.Now(), deps.AskPendingWindow)
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags for the question")
	return cmd
}

func (r *runner) questionsCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "questions <document-id>",
		Short: "List the question thread of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				entries, err := deps.Analysis.LoadQuestions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "no questions yet")
					return nil
				}
				now := time.Now()
				for _, q := range entries {
					printQuestion(out, q, now, deps.AskPendingWindow)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
