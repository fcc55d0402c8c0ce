package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracos/syncbridge/internal/bridge"
	"github.com/tracos/syncbridge/internal/daemon"
)

var verbosePasses bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep syncing until interrupted",
	Long: `Run the sync daemon.

The daemon runs both passes on start, then:
  - runs an inbound pass whenever inbound files appear or change
  - runs an outbound pass every --outbound-interval

Press Ctrl+C to stop.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		if err := os.MkdirAll(a.cfg.InboundDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating inbound directory: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		cfg := daemon.DefaultConfig()
		cfg.OutboundInterval = a.cfg.OutboundInterval
		cfg.Match = a.repo.Matches
		cfg.Logger = a.log
		cfg.OnPass = func(rep bridge.Report, err error) {
			if verbosePasses || err != nil || rep.Failed > 0 {
				a.printer.Report(rep, err)
			}
		}

		d, err := daemon.New(a.syncer, a.cfg.InboundDir, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating daemon: %v\n", err)
			a.Close()
			os.Exit(1)
		}

		a.printer.Printf("%s Starting sync daemon...\n", a.printer.RenderAccent("🚀"))
		a.printer.Printf("   Inbound:  %s\n", a.cfg.InboundDir)
		a.printer.Printf("   Outbound: %s (every %v)\n", a.cfg.OutboundDir, a.cfg.OutboundInterval)
		a.printer.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(cmd.Context()); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			a.Close()
			os.Exit(1)
		}
	},
}

func init() {
	watchCmd.Flags().BoolVarP(&verbosePasses, "verbose", "v", false, "print a summary after every pass")
	rootCmd.AddCommand(watchCmd)
}
