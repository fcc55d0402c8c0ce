package main

import (
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one inbound pass followed by one outbound pass",
	Long: `Run both sync passes once:
  1. Reads inbound customer files and upserts them into TracOS
  2. Writes unsynced TracOS work orders to the outbound directory
  3. Marks them as synced according to the mark policy

A pass that cannot reach the store or the inbound directory is reported and
does not stop the other pass. Records that fail individually are logged.`,
	Run: runBoth,
}

func runBoth(cmd *cobra.Command, args []string) {
	a := mustSetup(cmd)
	defer a.Close()

	rep := a.syncer.Run(cmd.Context())
	a.printer.RunReport(rep)
	if !rep.OK() {
		a.Close()
		os.Exit(1)
	}
}

var inboundCmd = &cobra.Command{
	Use:   "inbound",
	Short: "Import customer files into TracOS",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		rep, err := a.syncer.Inbound(cmd.Context())
		a.printer.Report(rep, err)
		if err != nil {
			a.Close()
			os.Exit(1)
		}
	},
}

var outboundCmd = &cobra.Command{
	Use:   "outbound",
	Short: "Export unsynced TracOS work orders as customer files",
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		rep, err := a.syncer.Outbound(cmd.Context())
		a.printer.Report(rep, err)
		if err != nil {
			a.Close()
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inboundCmd)
	rootCmd.AddCommand(outboundCmd)
}
