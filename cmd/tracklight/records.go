package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"tracklight/internal/formatter"
	"tracklight/internal/models"
	"tracklight/internal/server"
)

func newReanalyzeCommand(opts *globalOptions) *cobra.Command {
	var (
		all      bool
		prompt   string
		textFile string
	)

	cmd := &cobra.Command{
		Use:   "reanalyze [ID...]",
		Short: "Refresh the analysis of stored records",
		Long: `Fetch each record again and replace its analysis. Notes, group labels and status
are kept. With --text the single given record is analyzed from pasted text instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("name at least one record id or pass --all")
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()

			if textFile != "" {
				if len(args) != 1 {
					return fmt.Errorf("--text needs exactly one record id")
				}

				text, err := readText(cmd.InOrStdin(), []string{textFile})
				if err != nil {
					return err
				}

				rec, err := a.pipeline.ReanalyzeText(cmd.Context(), args[0], text, prompt)
				if err != nil {
					return err
				}

				fmt.Fprintf(out, "Reanalyzed %s: %s\n", rec.Identity, rec.Title())

				return nil
			}

			ids := args
			if all {
				ids = nil
				for _, r := range a.store.ListAll() {
					ids = append(ids, r.Identity)
				}
			}

			report, err := a.pipeline.Reanalyze(cmd.Context(), ids, prompt)
			printReport(out, report)

			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reanalyze every record")
	cmd.Flags().StringVar(&prompt, "prompt", "", "extra instructions for the analysis")
	cmd.Flags().StringVar(&textFile, "text", "", "analyze text from this file (- for stdin) instead of refetching")

	return cmd
}

func newListCommand(opts *globalOptions) *cobra.Command {
	var (
		statuses []string
		sortKey  string
		asc      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			v := url.Values{"sort": {sortKey}}
			if asc {
				v.Set("order", "asc")
			}

			if len(statuses) > 0 {
				v["status"] = statuses
			}

			records := server.ParseListQuery(v).Apply(a.store.ListAll())

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No records.")

				return nil
			}

			fmt.Fprintln(out, formatter.RecordTable(records))
			fmt.Fprintf(out, "%d of %d records\n", len(records), a.store.Len())

			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, `statuses to show ("all" for every record; default Not Started, In Process, Qualified)`)
	cmd.Flags().StringVar(&sortKey, "sort", server.SortAdded, "sort by added, indicator, title, date or status")
	cmd.Flags().BoolVar(&asc, "asc", false, "ascending order")

	return cmd
}

func newShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show one record",
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

			fmt.Fprint(cmd.OutOrStdout(), formatter.Detail(rec))

			return nil
		},
	}
}

func newNoteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "note ID TEXT",
		Short: `Replace the note of a record ("" clears it)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.store.UpdateNote(args[0], args[1]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Note saved for %s\n", args[0])

			return nil
		},
	}
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var status, priority string

	cmd := &cobra.Command{
		Use:   "status ID",
		Short: "Set the status and priority of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if status == "" && priority == "" {
				return fmt.Errorf("set --status or --priority")
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.store.UpdateStatus(args[0], models.Status(status), models.Priority(priority))
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: status %s, priority %s\n", rec.Identity, rec.Status, rec.Priority)

			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Not Started, In Process, Qualified, Disqualified, Completed or Archived")
	cmd.Flags().StringVar(&priority, "priority", "", "High, Medium or Low")

	return cmd
}

func newDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Delete(args...)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d of %d\n", n, len(args))

			return nil
		},
	}
}
