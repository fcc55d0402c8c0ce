package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracos/syncbridge/internal/bridge"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>...",
	Short: "Load TracOS work orders from Extended JSON files",
	Long: `Upsert TracOS work orders from JSON files into the store.

Each file holds one document or an array of documents. Dates may be plain
ISO-8601 strings or {"$date": ...} wrappers; identities may be {"$oid": ...}.
Documents without isSynced are picked up by the next outbound pass.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		rep, err := bridge.Seed(cmd.Context(), a.store, args, a.log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error seeding store: %v\n", err)
			a.Close()
			os.Exit(1)
		}
		a.printer.Seed(rep)
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
