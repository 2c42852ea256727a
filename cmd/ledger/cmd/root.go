// Package cmd provides CLI commands for the ledger.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/category"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/config"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/db"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/ledger"
)

var (
	envFile string
	cfgFile string
	debug   bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Personal finance transaction ledger",
	Long: `ledger keeps multi-account transaction books with balances that
always match their transactions.

It supports:
- Serving the ledger over HTTP
- Draining and inspecting the audit trail
- Verifying stored balances against transactions
- Seeding default categories

Example:
  ledger serve --config ledger.yaml
  ledger verify --owner alice
  ledger audit log --owner alice --entity-id <id>`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup logging
		logLevel := slog.LevelInfo
		if debug {
			logLevel = slog.LevelDebug
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file (default is .env)")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default is $LEDGER_CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(categoriesCmd)
}

// loadConfig loads and validates the configuration shared by all commands.
func loadConfig() *config.Config {
	slog.Info("Loading configuration")

	cfg, err := config.Load(config.Options{EnvFile: envFile, ConfigFile: cfgFile})
	exitOnError(err, "failed to load configuration")

	if err := cfg.Validate([]string{"database", "path"}); err != nil {
		exitOnError(err, "invalid configuration")
	}

	if cfg.Debug && !debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	return cfg
}

// services is the wired ledger stack over one database connection.
type services struct {
	conn       *db.Connection
	clock      clock.Clock
	accounts   *account.Store
	categories *category.Store
	recorder   *audit.Recorder
	outbox     *audit.Outbox
	dispatcher *audit.Dispatcher
	engine     *ledger.Engine
}

func openServices(cfg *config.Config, logger *slog.Logger) *services {
	slog.Debug("Opening database", "path", cfg.Database.Path)

	conn, err := db.Open(cfg.Database.Path)
	exitOnError(err, "failed to open database")

	c := clock.NewReal()
	s := &services{
		conn:       conn,
		clock:      c,
		accounts:   account.NewStore(conn, c),
		categories: category.NewStore(conn, c),
		recorder:   audit.NewRecorder(conn, c),
		outbox:     audit.NewOutbox(conn, c),
	}
	s.dispatcher = audit.NewDispatcher(conn, s.outbox, s.recorder, c, audit.DispatcherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
		RetryBase:    cfg.Outbox.RetryBase,
		RetryMax:     cfg.Outbox.RetryMax,
	}, logger)
	s.engine = ledger.NewEngine(conn, ledger.Config{
		Accounts:   s.accounts,
		Categories: s.categories,
		Audit:      s.outbox,
		Notifier:   s.dispatcher,
		Clock:      c,
		Logger:     logger,
	})

	return s
}

func (s *services) close() {
	if err := s.conn.Close(); err != nil {
		slog.Error("failed to close database", "error", err)
	}
}

// requireOwner exits when the --owner flag is missing.
func requireOwner(owner string) {
	if owner == "" {
		exitOnError(fmt.Errorf("--owner is required"), "invalid arguments")
	}
}

// Helper function to handle errors and exit.
func exitOnError(err error, msg string) {
	if err != nil {
		slog.Error(msg, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
		os.Exit(1)
	}
}
