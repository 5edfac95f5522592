// Package main provides the tracklight command: the dashboard server plus ingestion and
// record maintenance subcommands over the same store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type globalOptions struct {
	configPath   string
	storePath    string
	logLevel     string
	resetCorrupt bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "tracklight",
		Short:         "Fraud article analyzer and dashboard",
		Long:          "tracklight collects news articles from URLs, pasted text, a mailbox, a spreadsheet or feeds, extracts fraud indicators with a language model and keeps the results in a local store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to config file")
	pf.StringVar(&opts.storePath, "store", "", "path to the record store (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&opts.resetCorrupt, "reset-corrupt", false, "move an unreadable store aside and start empty")

	root.AddCommand(
		newServeCommand(opts),
		newIngestCommand(opts),
		newReanalyzeCommand(opts),
		newListCommand(opts),
		newShowCommand(opts),
		newNoteCommand(opts),
		newStatusCommand(opts),
		newDeleteCommand(opts),
		newGroupCommand(opts),
		newExportCommand(opts),
		newBriefCommand(opts),
		newEmailCommand(opts),
		newBlockCommand(opts),
		newLogsCommand(opts),
		newConfigCommand(opts),
		newHashPasswordCommand(),
		newVersionCommand(),
	)

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tracklight %s (commit: %s)\n", version, commit)
		},
	}
}
