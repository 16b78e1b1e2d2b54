// Package cmd implements the nxt-catalog command line: the catalog API server
// and the product administration commands that talk to it.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banux/nxt-catalog/internal/config"
	"github.com/banux/nxt-catalog/internal/logging"
)

// app carries the state shared by every subcommand once the root pre-run
// has loaded it.
type app struct {
	configPath string
	logLevel   string

	cfg config.Config
	log *zap.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "nxt-catalog",
		Short: "Product catalog server and administration tool",
		Long: `nxt-catalog serves a product catalog over HTTP and manages it from the
command line: listing with search, filters and sorting, and creating or
editing products together with their thumbnail and feature images.

Configuration is read from nxt-catalog.yaml (or the file given with --config),
then overridden by environment variables. A .env file in the working directory
is loaded first if present.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the config file (default: search standard locations)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newProductsCmd(a))

	return cmd
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	if path != "" {
		logger.Debug("config loaded", zap.String("path", path))
	}
	a.cfg = cfg
	a.log = logger
	return nil
}
