package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/bugtracker/internal/depgraph"
	"github.com/efebarandurmaz/bugtracker/internal/fetch"
	"github.com/efebarandurmaz/bugtracker/internal/metrics"
	"github.com/efebarandurmaz/bugtracker/internal/table"
)

// Output formats for fetch.
const (
	formatTable   = "table"
	formatJSON    = "json"
	formatYAML    = "yaml"
	formatDOT     = "dot"
	formatMermaid = "mermaid"
)

// requestFlags select the cycle to run.
type requestFlags struct {
	maxDepth  int
	chunkSize int
}

func (f *requestFlags) bind(fs *pflag.FlagSet) {
	fs.IntVar(&f.maxDepth, "max-depth", -1, "Maximum query depth (default from config)")
	fs.IntVar(&f.chunkSize, "chunk-size", 0, "IDs per query (default from config)")
}

func (f *requestFlags) request(ctrl *fetch.Controller, args []string, flags bool) fetch.Request {
	root := ""
	if len(args) > 0 {
		root = args[0]
	}
	req := ctrl.Request(root)
	if f.maxDepth >= 0 {
		req.MaxDepth = f.maxDepth
	}
	if f.chunkSize > 0 {
		req.ChunkSize = f.chunkSize
	}
	req.Flags = flags
	return req
}

// filterFlags mirror the dashboard's table filters.
type filterFlags struct {
	resolved     string
	product      string
	hideMeta     bool
	hideDevalued bool
	whiteboard   string
	flags        bool
	sort         string
	desc         bool
}

func (f *filterFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.resolved, "resolved", "", "Resolved filter: empty for any, 0 to hide resolved, 1 for resolved only")
	fs.StringVar(&f.product, "product", "", "Only show this product")
	fs.BoolVar(&f.hideMeta, "hide-meta", false, "Hide bugs with the meta keyword")
	fs.BoolVar(&f.hideDevalued, "hide-devalued", false, "Hide M-/P- bugs")
	fs.StringVar(&f.whiteboard, "whiteboard", "", "Whiteboard or keyword substring; [m and [p expand to the project tag")
	fs.BoolVar(&f.flags, "flags", false, "Fetch and show the flag and attachment columns")
	fs.StringVar(&f.sort, "sort", "", "Sort column key")
	fs.BoolVar(&f.desc, "desc", false, "Sort descending")
}

func (f *filterFlags) filter() table.Filter {
	out := table.DefaultFilter()
	switch f.resolved {
	case table.ResolvedNo, table.ResolvedYes:
		out.Resolved = f.resolved
	}
	out.Product = f.product
	out.Meta = !f.hideMeta
	out.MMinus = !f.hideDevalued
	out.Whiteboard = f.whiteboard
	out.Flags = f.flags
	out.Sort = f.sort
	if f.sort != "" {
		out.SortDir = table.SortAsc
		if f.desc {
			out.SortDir = table.SortDesc
		}
	}
	return out
}

type fetchOptions struct {
	request requestFlags
	filter  filterFlags
	format  string
	report  string
	timeout time.Duration
}

func newFetchCmd(configPath *string) *cobra.Command {
	var opts fetchOptions

	cmd := &cobra.Command{
		Use:   "fetch [root]",
		Short: "Fetch the dependency graph once and print it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			return runFetch(cmd.Context(), a, args, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	opts.request.bind(cmd.Flags())
	opts.filter.bind(cmd.Flags())
	cmd.Flags().StringVar(&opts.format, "format", formatTable, "Output format: table, json, yaml, dot or mermaid")
	cmd.Flags().StringVar(&opts.report, "report", metrics.FormatText, "Cycle report on stderr: text, json, yaml or none")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Give up on a cycle that has not finished")
	return cmd
}

// bugsOutput is the json/yaml shape of fetch.
type bugsOutput struct {
	Cycle     fetch.Summary         `json:"cycle"`
	TreeURL   string                `json:"tree_url"`
	Columns   []table.Column        `json:"columns"`
	Rows      []table.Row           `json:"rows"`
	Reporters []table.ReporterCount `json:"reporters"`
}

func runFetch(ctx context.Context, a *app, args []string, opts fetchOptions, out, errOut io.Writer) error {
	switch opts.format {
	case formatTable, formatJSON, formatYAML, formatDOT, formatMermaid:
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	fopts := a.controllerOptions()
	fopts.Status = statusLog{logger: a.logger}
	ctrl := fetch.NewController(a.client, fopts)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return ctrl.Run(gctx) })

	filter := opts.filter.filter()
	cy := ctrl.Start(opts.request.request(ctrl, args, filter.Flags))

	waitCtx := ctx
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	_, err := cy.Wait(waitCtx)
	stopLoop()
	if werr := g.Wait(); werr != nil {
		return werr
	}
	if err != nil {
		return fmt.Errorf("cycle %s did not finish: %w", cy.ID(), err)
	}
	summary := cy.Summary()

	nodes := cy.Store().All()
	p := a.projector()
	rows := table.Select(p, p.Rows(nodes), filter)
	graph := depgraph.Analyze(summary.BlockedBy, nodes)

	if err := writeBugs(out, opts.format, a, summary, filter, rows, graph); err != nil {
		return err
	}

	if opts.report != "none" {
		report := metrics.New(summary, graph)
		report.SetRows(len(rows))
		if err := report.Write(errOut, opts.report); err != nil {
			return err
		}
	}
	return nil
}

func writeBugs(w io.Writer, format string, a *app, s fetch.Summary, f table.Filter, rows []table.Row, g *depgraph.Graph) error {
	switch format {
	case formatDOT:
		return depgraph.WriteDOT(w, g)
	case formatMermaid:
		return depgraph.WriteMermaid(w, g)
	case formatTable:
		cols := table.Columns(f.Flags)
		fmt.Fprintln(w, table.Render(cols, rows, table.RenderOptions{}))
		fmt.Fprintf(w, "%d bug(s). Dependency tree: %s\n", len(rows), a.client.TreeURL(s.BlockedBy, s.MaxDepth))
		if reporters := table.Reporters(rows); len(reporters) > 0 {
			names := make([]string, len(reporters))
			for i, r := range reporters {
				names[i] = fmt.Sprintf("%s (%d)", r.Name, r.Bugs)
			}
			fmt.Fprintf(w, "Reporters: %s\n", strings.Join(names, ", "))
		}
		return nil
	}

	view := bugsOutput{
		Cycle:     s,
		TreeURL:   a.client.TreeURL(s.BlockedBy, s.MaxDepth),
		Columns:   table.Columns(f.Flags),
		Rows:      rows,
		Reporters: table.Reporters(rows),
	}
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	if format == formatJSON {
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	// Re-encode through a generic value so YAML keys match the JSON names.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
