package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/pagequery"
	"github.com/unkn0wn-root/pagequery/internal/config"
	"github.com/unkn0wn-root/pagequery/internal/demo"
)

type scrollOptions struct {
	search  string
	filter  string
	pages   int
	size    int
	timeout time.Duration
}

func newScrollCommand(root *rootOptions) *cobra.Command {
	opts := &scrollOptions{}

	cmd := &cobra.Command{
		Use:   "scroll",
		Short: "Scroll a user selector",
		Long: `Scroll a user selector: load page 1 of the list for --search, then keep
reaching the last item until --pages pages are loaded or the list ends.

--filter narrows the loaded options locally without another fetch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return err
			}
			return runScroll(cmd.Context(), cfg, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.search, "search", "", "Server-side search term")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Local filter over loaded options")
	cmd.Flags().IntVar(&opts.pages, "pages", 1, "Pages to load")
	cmd.Flags().IntVar(&opts.size, "size", 0, "Page size (defaults to scroll.page_size)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "How long to wait for each page")

	return cmd
}

func runScroll(ctx context.Context, cfg *config.Config, opts *scrollOptions, out, errOut io.Writer) error {
	sess, err := openSession(ctx, cfg, errOut)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	size := cfg.Scroll.PageSize
	if opts.size > 0 {
		size = opts.size
	}
	q, err := pagequery.NewScrollQuery(sess.cache, sess.dir.Scroll, pagequery.ScrollOptions[demo.User]{
		Namespace:   cfg.Scroll.Namespace,
		PageSize:    size,
		SearchDelay: cfg.Scroll.SearchDelay,
		ItemID:      func(u demo.User) string { return u.ID },
	})
	if err != nil {
		return err
	}
	defer q.Close()

	if opts.search != "" {
		q.SetSearch(opts.search)
		q.FlushSearch()
	}
	if err := settle(ctx, q, opts.timeout); err != nil {
		return err
	}
	for loaded := 1; loaded < opts.pages; loaded++ {
		v := q.View()
		if !v.HasNextPage || !q.Reached(v.LastItemID) {
			break
		}
		if err := settle(ctx, q, opts.timeout); err != nil {
			return err
		}
	}

	v := q.View()
	if v.Err != nil && len(v.Items) == 0 {
		return v.Err
	}
	options := pagequery.FilterOptions(pagequery.PresentAll[demo.User, pagequery.Option](demo.Options, v.Items), opts.filter)
	for _, o := range options {
		fmt.Fprintf(out, "%s  %s <%s>\n", o.Value, o.Label, o.SubLabel)
	}
	more := "no"
	if v.HasNextPage {
		more = "yes"
	}
	fmt.Fprintf(out, "loaded %d, showing %d, more: %s\n", len(v.Items), len(options), more)
	if v.Err != nil {
		fmt.Fprintf(out, "last page failed: %v\n", v.Err)
	}
	return nil
}
