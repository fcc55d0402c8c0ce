// Command syncbridge keeps TracOS work orders and customer work-order files
// in sync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tracos/syncbridge/internal/bridge"
	"github.com/tracos/syncbridge/internal/config"
	"github.com/tracos/syncbridge/internal/customer"
	"github.com/tracos/syncbridge/internal/logging"
	"github.com/tracos/syncbridge/internal/store"
	"github.com/tracos/syncbridge/internal/translate"
	"github.com/tracos/syncbridge/internal/ui"
)

var (
	configFile string
	envFile    string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "syncbridge",
	Short: "Bidirectional work-order sync between TracOS and customer files",
	Long: `syncbridge moves work orders between a customer system that exchanges
JSON files and the TracOS document store.

Inbound:  customer files in the inbound directory are translated and upserted
          into TracOS by work-order number.
Outbound: TracOS work orders not yet synced are written to the outbound
          directory and marked as synced.

Without a subcommand, syncbridge runs one inbound and one outbound pass.`,
	SilenceUsage: true,
	Run:          runBoth,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file (.toml, .yaml or .yml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file with environment overrides")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")

	d := config.Default()
	pf.String(config.FlagName("inbound_dir"), d.InboundDir, "directory with inbound customer files")
	pf.String(config.FlagName("outbound_dir"), d.OutboundDir, "directory for outbound customer files")
	pf.String(config.FlagName("inbound_pattern"), d.InboundPattern, "glob selecting inbound files (supports **)")
	pf.String(config.FlagName("store_uri"), d.StoreURI, "store URI: mongodb://, sqlite://, postgres:// or memory://")
	pf.String(config.FlagName("database"), d.Database, "store database name")
	pf.String(config.FlagName("collection"), d.Collection, "store collection or table name")
	pf.Int(config.FlagName("retry_attempts"), d.RetryAttempts, "store attempts per operation")
	pf.Duration(config.FlagName("retry_delay"), d.RetryDelay, "pause between store attempts")
	pf.String(config.FlagName("mark_policy"), d.MarkPolicy, "outbound mark policy: always or on-save")
	pf.Duration(config.FlagName("outbound_interval"), d.OutboundInterval, "outbound pass interval in watch mode")
	pf.String(config.FlagName("log_level"), d.LogLevel, "log level: debug, info, warn, error")
	pf.String(config.FlagName("log_file"), d.LogFile, "write logs to this file instead of stderr")
	pf.String(config.FlagName("log_format"), d.LogFormat, "log format: console or json")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// app is everything a command needs, built from the resolved config.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	repo    *customer.Repository
	syncer  *bridge.Syncer
	printer *ui.Printer
	closeFn func()
}

func (a *app) Close() { a.closeFn() }

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: configFile,
		EnvFile:    envFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(cfg.Logging())
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.StoreURI, store.Options{
		Database:   cfg.Database,
		Collection: cfg.Collection,
		Logger:     log,
	})
	if err != nil {
		closeLog()
		return nil, err
	}
	retrying := store.WithRetry(st, cfg.Retry(), log)

	repo, err := customer.New(customer.Options{
		InboundDir:  cfg.InboundDir,
		OutboundDir: cfg.OutboundDir,
		Pattern:     cfg.InboundPattern,
		Logger:      log,
	})
	if err != nil {
		closeLog()
		return nil, err
	}

	syncer := bridge.New(retrying, repo, translate.New(log), bridge.Options{
		MarkPolicy: cfg.Mark(),
		Logger:     log,
	})

	return &app{
		cfg:     cfg,
		log:     log,
		store:   retrying,
		repo:    repo,
		syncer:  syncer,
		printer: ui.NewPrinter(cmd.OutOrStdout(), noColor),
		closeFn: closeLog,
	}, nil
}

func mustSetup(cmd *cobra.Command) *app {
	a, err := setup(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}
