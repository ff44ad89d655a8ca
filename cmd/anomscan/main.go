package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/anomscan/internal/config"
	applog "github.com/sawpanic/anomscan/internal/log"
)

const (
	appName = "anomscan"
	version = "v0.4.0"
)

// app carries state shared by all subcommands once the root pre-run has
// loaded the configuration
type app struct {
	configPath string
	envPath    string
	logLevel   string

	cfg       *config.Config
	logCloser io.Closer
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Flag statistical outliers in multi-metric series",
		Version: version,
		Long: `anomscan computes per-metric z-scores over a series of data points, flags
points whose |z| exceeds a threshold and reports contiguous anomalous segments.

Series can be read from JSON, YAML or CSV files, PostgreSQL or SQLite queries,
or S3 objects, and served over HTTP with 'anomscan serve'.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logCloser != nil {
				a.logCloser.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.envPath, "env", ".env", "dotenv file with ANOMSCAN_* overrides")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug|info|warn|error)")

	rootCmd.AddCommand(newComputeCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// setup loads configuration and installs the configured logger
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath, a.envPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}

	closer, err := applog.Setup(cfg.LogOptions(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logCloser = closer
	log.Debug().Str("config", a.configPath).Msg("Configuration loaded")
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}
}
