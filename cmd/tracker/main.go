package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "tracker",
		Short:        "Follow Bugzilla dependency graphs below a root bug",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML); environment uses the TRACKER_ prefix")

	rootCmd.AddCommand(
		newFetchCmd(&configPath),
		newWatchCmd(&configPath),
		newServeCmd(&configPath),
		newAliasesCmd(&configPath),
	)
	return rootCmd
}

func newAliasesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "aliases",
		Short: "List the root aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath, io.Discard)
			if err != nil {
				return err
			}
			defer a.close(context.Background())
			printAliases(cmd.OutOrStdout(), a)
			return nil
		},
	}
}

func printAliases(w io.Writer, a *app) {
	fmt.Fprintln(w, "Root aliases:")
	fmt.Fprintln(w)
	for _, name := range a.aliases.Names() {
		marker := ""
		if name == a.cfg.Graph.DefaultRoot {
			marker = " (default)"
		}
		fmt.Fprintf(w, "  %-20s %s%s\n", name, a.aliases[name], marker)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Any other root is sent to Bugzilla as a bug ID or alias.")
	fmt.Fprintln(w, "Configure in tracker.yaml under graph.aliases.")
}
