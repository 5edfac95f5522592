package main

import (
	"github.com/spf13/cobra"

	"tracklight/internal/grouping"
	"tracklight/internal/mailbox"
	"tracklight/internal/server"
	"tracklight/internal/sheets"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		addr     string
		autoMail bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			deps := server.Deps{
				Store:           a.store,
				Pipeline:        a.pipeline,
				Prefs:           a.prefs,
				Journal:         a.journal,
				SheetIdentifier: a.cfg.Sheet.Identifier,
				Config:          a.cfg.Server,
				Log:             a.log,
			}

			if a.analyzer != nil {
				deps.Grouping = grouping.New(a.store, a.analyzer, a.log)
				deps.People = a.analyzer
			}

			if a.cfg.MailEnabled() {
				deps.Poller = mailbox.NewPoller(a.cfg.Mail, a.log)
				deps.Sender = mailbox.NewSender(a.cfg.Mail, a.log)
				deps.AutoCheckMail = autoMail
			}

			if a.cfg.SheetEnabled() {
				reader, err := sheets.NewReader(cmd.Context(), a.cfg.Sheet, a.log)
				if err != nil {
					a.log.Warn("sheet import disabled", "error", err)
				} else {
					deps.Sheets = reader
				}
			}

			srv, err := server.New(deps)
			if err != nil {
				return err
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&autoMail, "auto-mail", true, "check the mailbox when the list is opened and the poll interval has passed")

	return cmd
}
