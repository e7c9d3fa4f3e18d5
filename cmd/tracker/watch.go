package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/tui"
)

func newWatchCmd(configPath *string) *cobra.Command {
	var (
		request requestFlags
		filter  filterFlags
	)

	cmd := &cobra.Command{
		Use:   "watch [root]",
		Short: "Follow the dependency graph in an interactive table",
		Long: `Watch fetches the graph below root and redraws the table as results
arrive. Press r to refetch, f to toggle the flag columns and q to quit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The alt screen owns the terminal; keep log lines off it.
			a, err := newApp(cmd.Context(), *configPath, io.Discard)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			return runWatch(cmd.Context(), a, args, request, filter, cmd.OutOrStdout())
		},
	}

	request.bind(cmd.Flags())
	filter.bind(cmd.Flags())
	return cmd
}

func runWatch(ctx context.Context, a *app, args []string, request requestFlags, filter filterFlags, out io.Writer) error {
	bridge := tui.NewBridge()
	opts := a.controllerOptions()
	opts.Notifier = bridge
	opts.Status = bridge
	opts.Observer = bridge
	ctrl := fetch.NewController(a.client, opts)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return ctrl.Run(gctx) })

	f := filter.filter()
	summary, err := tui.RunWatch(ctx, ctrl, bridge, tui.WatchOptions{
		Request:   request.request(ctrl, args, f.Flags),
		Projector: a.projector(),
		Filter:    f,
	})
	stopLoop()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	if summary != nil {
		fmt.Fprintln(out, tui.SummaryView(*summary, tui.DefaultStyles()))
	}
	return nil
}
