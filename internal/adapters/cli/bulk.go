package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/domain"
)

// selectIDs loads the current selection, or the visible page with --all.
func selectIDs(cmd *cobra.Command, deps *Deps, args []string, all bool, flags *listFlags) ([]string, error) {
	sel := deps.Bulk.Selection()
	if all {
		if len(args) > 0 {
			return nil, domain.Validation(cmd.Name(), "pass ids or --all, not both")
		}
		if err := flags.apply(cmd, deps); err != nil {
			return nil, err
		}
		deps.Bulk.SelectAll()
	} else {
		sel.Select(args...)
	}
	if sel.Len() == 0 {
		return nil, domain.Validation(cmd.Name(), "no documents selected")
	}
	return sel.IDs(), nil
}

func bindSelection(cmd *cobra.Command, all *bool, flags *listFlags) {
	cmd.Flags().BoolVar(all, "all", false, "act on every document of the listed page")
	flags.bind(cmd)
}

func (r *runner) deleteCommand() *cobra.Command {
	var (
		all   bool
		flags listFlags
	)
	cmd := &cobra.Command{
		Use:   "delete [document-id...]",
		Short: "Delete documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				ids, err := selectIDs(cmd, deps, args, all, &flags)
				if err != nil {
					return err
				}
				res, err := deps.Bulk.BulkDelete(cmd.Context(), ids)
				if err != nil {
					return err
				}
				printBulkResult(cmd.OutOrStdout(), res)
				return bulkError(res)
			})
		},
	}
	bindSelection(cmd, &all, &flags)
	return cmd
}

func (r *runner) tagCommand() *cobra.Command {
	var (
		all   bool
		tags  []string
		flags listFlags
	)
	cmd := &cobra.Command{
		Use:   "tag [document-id...] --tags a,b",
		Short: "Add tags to documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(domain.MergeTags(nil, tags)) == 0 {
				return domain.Validation("tag", "--tags is required")
			}
			return r.with(cmd, nil, func(deps *Deps) error {
				ids, err := selectIDs(cmd, deps, args, all, &flags)
				if err != nil {
					return err
				}
				res, err := deps.Bulk.BulkTag(cmd.Context(), ids, tags)
				if err != nil {
					return err
				}
				printBulkResult(cmd.OutOrStdout(), res)
				return bulkError(res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "tags to add")
	bindSelection(cmd, &all, &flags)
	return cmd
}

func (r *runner) downloadCommand() *cobra.Command {
	var (
		all     bool
		archive string
		flags   listFlags
	)
	cmd := &cobra.Command{
		Use:   "download [document-id...]",
		Short: "Download documents to the configured destination, or as one archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				ids, err := selectIDs(cmd, deps, args, all, &flags)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if archive != "" {
					f, err := os.Create(archive)
					if err != nil {
						return fmt.Errorf("create archive: %w", err)
					}
					if err := deps.Bulk.DownloadArchive(cmd.Context(), ids, f); err != nil {
						f.Close()
						_ = os.Remove(archive)
						return err
					}
					if err := f.Close(); err != nil {
						return fmt.Errorf("close archive: %w", err)
					}
					fmt.Fprintf(out, "wrote %d documents to %s\n", len(ids), archive)
					return nil
				}
				res, err := deps.Bulk.BulkDownload(cmd.Context(), ids)
				if err != nil {
					return err
				}
				printBulkResult(out, res)
				return bulkError(res)
			})
		},
	}
	cmd.Flags().StringVar(&archive, "archive", "", "write one zip archive to this file")
	bindSelection(cmd, &all, &flags)
	return cmd
}
