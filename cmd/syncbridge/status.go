package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracos/syncbridge/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and directory status",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		st, err := collectStatus(cmd.Context(), a)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading status: %v\n", err)
			a.Close()
			os.Exit(1)
		}
		a.printer.Status(st)
	},
}

func collectStatus(ctx context.Context, a *app) (ui.Status, error) {
	st := ui.Status{
		Store:       redact(a.cfg.StoreURI),
		InboundDir:  a.cfg.InboundDir,
		OutboundDir: a.cfg.OutboundDir,
		MarkPolicy:  a.cfg.Mark(),
	}

	if err := a.store.Connect(ctx); err != nil {
		return st, err
	}
	defer func() { _ = a.store.Disconnect(context.WithoutCancel(ctx)) }()

	total, err := a.store.Count(ctx)
	if err != nil {
		return st, err
	}
	st.Total = total

	unsynced, err := a.store.Unsynced(ctx)
	if err != nil {
		return st, err
	}
	st.Unsynced = len(unsynced)

	// A missing inbound dir is reported as empty here; inbound passes fail on it.
	if records, err := a.repo.ListInbound(ctx); err == nil {
		for _, rec := range records {
			if rec.Rejected() {
				st.Rejected++
			} else {
				st.Inbound++
			}
		}
	}
	return st, nil
}

// redact hides credentials in a store URI.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return u.Redacted()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
