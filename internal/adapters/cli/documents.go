package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/casefile/internal/core/domain"
	"github.com/kirillkom/casefile/internal/infrastructure/report/xlsx"
)

type listFlags struct {
	search string
	matter string
	types  []string
	status string
	from   string
	to     string
	sortBy string
	order  string
	page   int
	limit  int
	asJSON bool
}

func (f *listFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.search, "search", "", "full-text search")
	cmd.Flags().StringVar(&f.matter, "matter", "", "matter id")
	cmd.Flags().StringSliceVar(&f.types, "type", nil, "document type (repeatable)")
	cmd.Flags().StringVar(&f.status, "status", "", "uploaded, processing, analyzed or failed")
	cmd.Flags().StringVar(&f.from, "from", "", "uploaded on or after (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "uploaded on or before (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.sortBy, "sort", domain.DefaultSort().Key, "sort key")
	cmd.Flags().StringVar(&f.order, "order", string(domain.DefaultSort().Order), "asc or desc")
	cmd.Flags().IntVar(&f.page, "page", 1, "page number")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "page size")
}

func (f *listFlags) filter() (domain.Filter, error) {
	filter := domain.Filter{
		Search:        f.search,
		MatterID:      f.matter,
		DocumentTypes: f.types,
		Status:        domain.DocumentStatus(f.status),
	}
	if f.status != "" && !filter.Status.Valid() {
		return domain.Filter{}, domain.Validation("list", fmt.Sprintf("unknown status %q", f.status))
	}
	var err error
	if filter.DateFrom, err = parseDate("from", f.from); err != nil {
		return domain.Filter{}, err
	}
	if filter.DateTo, err = parseDate("to", f.to); err != nil {
		return domain.Filter{}, err
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return domain.Filter{}, domain.Validation("list", "--to is before --from")
	}
	return filter, nil
}

// apply configures the registry and loads the requested page.
func (f *listFlags) apply(cmd *cobra.Command, deps *Deps) error {
	filter, err := f.filter()
	if err != nil {
		return err
	}
	if f.order != string(domain.SortAsc) && f.order != string(domain.SortDesc) {
		return domain.Validation("list", fmt.Sprintf("unknown sort order %q", f.order))
	}
	deps.Registry.SetFilter(filter)
	deps.Registry.SetSort(domain.Sort{Key: f.sortBy, Order: domain.SortOrder(f.order)})
	if f.limit > 0 {
		deps.Registry.SetPageSize(f.limit)
	}
	deps.Registry.SetPage(f.page)
	return deps.Registry.Load(cmd.Context())
}

func parseDate(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil, domain.Validation("list", fmt.Sprintf("--%s must be YYYY-MM-DD", name))
	}
	return &t, nil
}

func (r *runner) listCommand() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents, one page at a time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				if err := flags.apply(cmd, deps); err != nil {
					return err
				}
				docs := deps.Registry.Visible()
				page := deps.Registry.Pagination()
				if flags.asJSON {
					return writeJSON(cmd.OutOrStdout(), domain.DocumentPage{Documents: docs, Pagination: page})
				}
				printDocuments(cmd.OutOrStdout(), docs, page)
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print JSON")
	return cmd
}

func (r *runner) showCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Show a document with its analysis and questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.with(cmd, nil, func(deps *Deps) error {
				doc, err := deps.Registry.Detail(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), doc)
				}
				printDocument(cmd.OutOrStdout(), doc, deps.Registry.StaleAnalysis(doc.ID), time.Now(), deps.AskPendingWindow)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (r *runner) reportCommand() *cobra.Command {
	var (
		flags listFlags
		out   string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the listed documents and their analyses to a spreadsheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return domain.Validation("report", "--out is required")
			}
			return r.with(cmd, nil, func(deps *Deps) error {
				if err := flags.apply(cmd, deps); err != nil {
					return err
				}
				docs := make([]domain.Document, 0, len(deps.Registry.VisibleIDs()))
				for _, id := range deps.Registry.VisibleIDs() {
					doc, err := deps.Registry.Detail(cmd.Context(), id)
					if err != nil {
						return err
					}
					docs = append(docs, doc)
				}

				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create report: %w", err)
				}
				if err := xlsx.Write(f, docs); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return fmt.Errorf("close report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d documents to %s\n", len(docs), out)
				return nil
			})
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "xlsx file to write")
	return cmd
}
