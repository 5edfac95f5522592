package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"tracklight/internal/activity"
	"tracklight/internal/config"
	"tracklight/internal/export"
	"tracklight/internal/formatter"
	"tracklight/internal/grouping"
	"tracklight/internal/mailbox"
)

func newGroupCommand(opts *globalOptions) *cobra.Command {
	var show bool

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Cluster analyzed records into trend groups and label them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			if !show {
				az, err := a.requireAnalyzer()
				if err != nil {
					return err
				}

				res, err := grouping.New(a.store, az, a.log).Run(cmd.Context())
				if err != nil {
					_ = a.journal.Record(cmd.Context(), activity.LevelError, "grouping", "", err.Error())

					return err
				}

				msg := fmt.Sprintf("%d groups, %d records labelled", len(res.Groups), res.Applied)
				_ = a.journal.Record(cmd.Context(), activity.LevelInfo, "grouping", "", msg)
				fmt.Fprintln(out, msg)
			}

			for _, g := range grouping.ByLabel(a.store.ListAll()) {
				fmt.Fprintf(out, "\n%s (%d)\n", g.Title, len(g.Records))

				for _, r := range g.Records {
					fmt.Fprintf(out, "  %s  %s\n", r.Identity, formatter.Truncate(r.Title(), formatter.TitleWidth))
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&show, "show", false, "only print the current groups")

	return cmd
}

func newExportCommand(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every record to an xlsx workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if out == "" {
				out = export.WorkbookName(time.Now())
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}

			records := a.store.ListAll()
			if err := export.WriteWorkbook(f, records); err != nil {
				_ = f.Close()

				return err
			}

			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), out)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default articles_export_YYYYMMDD.xlsx)")

	return cmd
}

func newBriefCommand(opts *globalOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "brief ID",
		Short: "Write a docx brief of one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Get(args[0])
			if err != nil {
				return err
			}

			if out == "" {
				out = export.BriefName(rec)
			}

			if err := export.WriteBrief(out, rec); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default brief_<id>.docx)")

	return cmd
}

func newEmailCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "email ID RECIPIENT",
		Short: "Email the summary of a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.Get(args[0])
			if err != nil {
				return err
			}

			if err := mailbox.NewSender(a.cfg.Mail, a.log).Send(cmd.Context(), args[1], rec); err != nil {
				_ = a.journal.Record(cmd.Context(), activity.LevelError, "email", rec.Title(), err.Error())

				return err
			}

			_ = a.journal.Record(cmd.Context(), activity.LevelInfo, "email", rec.Title(), "sent to "+args[1])
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s to %s\n", rec.Identity, args[1])

			return nil
		},
	}
}

func newBlockCommand(opts *globalOptions) *cobra.Command {
	var unblock, list bool

	cmd := &cobra.Command{
		Use:   "block [DOMAIN]",
		Short: "Block a domain from mail link harvesting",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				var changed bool
				if unblock {
					changed, err = a.prefs.UnblockDomain(args[0])
				} else {
					changed, err = a.prefs.BlockDomain(args[0])
				}

				if err != nil {
					return err
				}

				verb := "Blocked"
				if unblock {
					verb = "Unblocked"
				}

				if !changed {
					verb = "Unchanged"
				}

				fmt.Fprintf(out, "%s %s\n", verb, args[0])
			} else if !list {
				return fmt.Errorf("name a domain or pass --list")
			}

			for _, d := range a.prefs.BlockedDomains() {
				fmt.Fprintln(out, d)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&unblock, "unblock", false, "remove the domain from the blocked list")
	cmd.Flags().BoolVar(&list, "list", false, "print the blocked domains")

	return cmd
}

func newLogsCommand(opts *globalOptions) *cobra.Command {
	var (
		limit    int
		clearAll bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or clear the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			if clearAll {
				n, err := a.journal.Clear(cmd.Context())
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "Cleared %d entries\n", n)

				return nil
			}

			entries, err := a.journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Fprintln(out, "No activity recorded.")

				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Time.Local().Format("2006-01-02 15:04:05"),
					string(e.Level),
					e.Action,
					formatter.Truncate(e.Subject, 50),
					e.Message,
				})
			}

			fmt.Fprintln(out, formatter.Table([]string{"Time", "Level", "Action", "Subject", "Message"}, rows))

			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of entries (0 for all)")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "delete every entry")

	return cmd
}

func newConfigCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cfg.String())
			fmt.Fprintf(out, "analysis: %s\nmail: %s\nsheet: %s\nfeeds: %d enabled\n",
				enabled(cfg.AnalysisEnabled()), enabled(cfg.MailEnabled()), enabled(cfg.SheetEnabled()), len(cfg.GetEnabledFeeds()))

			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init [PATH]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := config.NewDefaultConfig().SaveConfig(path); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)

			return nil
		},
	})

	return cmd
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from standard input and print its bcrypt hash for server.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading password: %w", err)
			}

			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return fmt.Errorf("empty password")
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(hash))

			return nil
		},
	}
}

func enabled(ok bool) string {
	return map[bool]string{true: "enabled", false: "disabled"}[ok]
}
