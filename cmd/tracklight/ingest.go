package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tracklight/internal/feeds"
	"tracklight/internal/ingest"
	"tracklight/internal/mailbox"
	"tracklight/internal/models"
	"tracklight/internal/sheets"
)

func newIngestCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Analyze articles from a URL, pasted text, the mailbox, a sheet or feeds",
	}

	cmd.AddCommand(
		newIngestURLCommand(opts),
		newIngestTextCommand(opts),
		newIngestMailCommand(opts),
		newIngestSheetCommand(opts),
		newIngestFeedCommand(opts),
	)

	return cmd
}

func newIngestURLCommand(opts *globalOptions) *cobra.Command {
	var (
		prompt       string
		note         string
		force        bool
		keepAnalysis bool
	)

	cmd := &cobra.Command{
		Use:   "url URL...",
		Short: "Fetch and analyze one or more article URLs",
		Long: `Fetch and analyze article URLs. A single URL is always (re)analyzed; with several
URLs, those already stored are skipped unless --force is set. With --keep-analysis a
stored record only gets its text refreshed and keeps its analysis.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			var urlOpts []ingest.URLOption
			if keepAnalysis {
				urlOpts = append(urlOpts, ingest.KeepAnalysis())
			}

			if cmd.Flags().Changed("note") {
				urlOpts = append(urlOpts, ingest.WithNote(note))
			}

			if len(args) == 1 {
				rec, created, err := a.pipeline.IngestURL(cmd.Context(), args[0], models.SourceURL, prompt, urlOpts...)
				if err != nil {
					return err
				}

				verb := "Updated"
				if created {
					verb = "Added"
				}

				fmt.Fprintf(out, "%s %s: %s\n", verb, rec.Identity, rec.Title())

				return nil
			}

			report, err := a.pipeline.IngestURLs(cmd.Context(), args, models.SourceURL, force, urlOpts...)
			printReport(out, report)

			return err
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "extra instructions for the analysis")
	cmd.Flags().StringVar(&note, "note", "", "note to set on the record, replacing any stored note")
	cmd.Flags().BoolVar(&force, "force", false, "reanalyze URLs that are already stored")
	cmd.Flags().BoolVar(&keepAnalysis, "keep-analysis", false, "refresh the text of stored records without reanalyzing them")

	return cmd
}

func newIngestTextCommand(opts *globalOptions) *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "text [FILE]",
		Short: "Analyze pasted article text read from FILE or standard input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.pipeline.IngestText(cmd.Context(), text, prompt)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added %s: %s\n", rec.Identity, rec.Title())

			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "extra instructions for the analysis")

	return cmd
}

func newIngestMailCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mail",
		Short: "Harvest article links from the mailbox and analyze new ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			poller := mailbox.NewPoller(a.cfg.Mail, a.log)

			res, err := poller.Poll(cmd.Context(), mailbox.NewLinkExtractor(a.prefs.BlockedDomains()))
			if err != nil {
				return err
			}

			scope := "recent"
			if res.Unseen {
				scope = "unseen"
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanned %d %s messages in %s, found %d links\n",
				res.Scanned, scope, res.Mailbox, len(res.Links))

			if len(res.Links) == 0 {
				return nil
			}

			report, err := a.pipeline.IngestURLs(cmd.Context(), res.Links, models.SourceMail, false)
			printReport(out, report)

			return err
		},
	}
}

func newIngestSheetCommand(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sheet [NAME|ID|URL]",
		Short: "Import the URLs in column A of a Google Sheet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			identifier := a.cfg.Sheet.Identifier
			if len(args) == 1 {
				identifier = args[0]
			}

			reader, err := sheets.NewReader(cmd.Context(), a.cfg.Sheet, a.log)
			if err != nil {
				return err
			}

			urls, err := reader.URLs(cmd.Context(), identifier)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Found %d URLs in %s\n", len(urls), identifier)

			report, err := a.pipeline.IngestURLs(cmd.Context(), urls, models.SourceSheet, force)
			printReport(out, report)

			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "reanalyze URLs that are already stored")

	return cmd
}

func newIngestFeedCommand(opts *globalOptions) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Analyze new items of the configured RSS/Atom feeds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			enabled := a.cfg.GetEnabledFeeds()
			if len(enabled) == 0 {
				return fmt.Errorf("no enabled feeds in config")
			}

			ua := ""
			if len(a.cfg.Crawler.UserAgents) > 0 {
				ua = a.cfg.Crawler.UserAgents[0]
			}

			client := &http.Client{Timeout: a.cfg.Crawler.Retry.GetTimeout(1)}
			res := feeds.NewReader(client, ua, maxAge, a.log).FetchAll(cmd.Context(), enabled)

			out := cmd.OutOrStdout()
			for _, ferr := range res.Errors {
				fmt.Fprintf(out, "feed error: %v\n", ferr)
			}

			links := res.Links()
			fmt.Fprintf(out, "Found %d items in %d feeds\n", len(links), len(enabled))

			if len(links) == 0 {
				return nil
			}

			report, err := a.pipeline.IngestURLs(cmd.Context(), links, models.SourceFeed, false)
			printReport(out, report)

			return err
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", feeds.DefaultMaxAge, "ignore items published before this window (0 keeps all)")

	return cmd
}

func readText(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)

	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(stdin)
	}

	if err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("no text to analyze")
	}

	return text, nil
}

func printReport(w io.Writer, report *ingest.Report) {
	if report == nil {
		return
	}

	fmt.Fprintln(w, report.String())
}
