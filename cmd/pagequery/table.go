package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/pagequery"
	"github.com/unkn0wn-root/pagequery/internal/config"
	"github.com/unkn0wn-root/pagequery/internal/demo"
)

type tableOptions struct {
	page       int
	size       int
	search     string
	sort       []string
	invalidate bool
	timeout    time.Duration
}

func newTableCommand(root *rootOptions) *cobra.Command {
	opts := &tableOptions{}

	cmd := &cobra.Command{
		Use:   "table",
		Short: "Render one page of the user table",
		Long: `Render one page of the user table.

Every --sort is one click on a column header: clicking the active column flips
its order, clicking another column sorts it ascending. Any sort, search or
page size change starts again from page 1, so --page is applied last.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			return runTable(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVar(&opts.page, "page", 1, "Page to show")
	cmd.Flags().IntVar(&opts.size, "size", 0, "Page size (defaults to the first configured size)")
	cmd.Flags().StringVar(&opts.search, "search", "", "Search term")
	cmd.Flags().StringSliceVar(&opts.sort, "sort", nil, "Column header click; repeat to toggle")
	cmd.Flags().BoolVar(&opts.invalidate, "invalidate", false, "Invalidate the table namespace and render again")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "How long to wait for a page")

	return cmd
}

func runTable(ctx context.Context, cfg *config.Config, opts *tableOptions, out, errOut io.Writer) error {
	sess, err := openSession(ctx, cfg, errOut)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	q, err := pagequery.NewTableQuery(sess.cache, sess.dir.Table, pagequery.TableOptions{
		Namespace:   cfg.Table.Namespace,
		SearchDelay: cfg.Table.SearchDelay,
		PageSizes:   cfg.Table.PageSizes,
		SortBy:      cfg.Table.SortBy,
		SortOrder:   pagequery.SortOrder(cfg.Table.SortOrder),
		Sortable:    demo.Sortable,
	})
	if err != nil {
		return err
	}
	defer q.Close()

	for _, col := range opts.sort {
		if !q.ToggleSort(col) {
			return fmt.Errorf("column %q is not sortable (want one of %s)", col, strings.Join(demo.Sortable, ", "))
		}
	}
	if opts.size > 0 {
		if err := q.SetPageSize(opts.size); err != nil {
			return err
		}
	}
	if opts.search != "" {
		q.SetSearch(opts.search)
		q.FlushSearch()
	}
	q.SetPage(opts.page)

	if err := settle(ctx, q, opts.timeout); err != nil {
		return err
	}
	if err := renderTable(out, q.View()); err != nil {
		return err
	}

	if opts.invalidate {
		q.Invalidate()
		if err := settle(ctx, q, opts.timeout); err != nil {
			return err
		}
		fmt.Fprintln(out)
		if err := renderTable(out, q.View()); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "fetches: %d\n", sess.dir.Calls())
	return nil
}

func settle(ctx context.Context, s interface{ Settle(context.Context) error }, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := s.Settle(ctx); err != nil {
		return fmt.Errorf("waiting for data: %w", err)
	}
	return nil
}

func renderTable(w io.Writer, v pagequery.TableView[demo.User]) error {
	if v.Err != nil && len(v.Items) == 0 {
		return v.Err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tCREATED")
	for _, u := range v.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.CreatedAt.Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	p := v.Pagination
	fmt.Fprintf(w, "rows %d-%d of %d | page %d/%d | %s | sort %s %s\n",
		p.StartRow, p.EndRow, p.Total, p.Page, p.TotalPages, window(p.Window), v.Params.SortBy, v.Params.SortOrder)
	if v.Err != nil {
		fmt.Fprintf(w, "refresh failed: %v\n", v.Err)
	}
	return nil
}

func window(pages []int) string {
	parts := make([]string, len(pages))
	for i, n := range pages {
		if n == pagequery.Ellipsis {
			parts[i] = "..."
			continue
		}
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
