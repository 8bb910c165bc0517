package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/yairfalse/kartta/internal/config"
	"github.com/yairfalse/kartta/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	debug      bool

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "kartta",
		Short: "Multi-account AWS resource inventory",
		Long: `Kartta - multi-account AWS resource inventory

Kartta discovers every tagged resource across your registered AWS accounts
and regions, enriches it with live state and health, and reconciles it into
a searchable inventory.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Kartta {{.Version}} - multi-account AWS resource inventory
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = c
	setupLogging(cmd.ErrOrStderr(), cfg.Log.Level, debug)
	return nil
}

// setupLogging installs the global logger. Terminals and --debug get the
// console writer; everything else gets JSON with trace correlation.
func setupLogging(w io.Writer, level string, debugMode bool) {
	lvl := telemetry.ParseLevel(level)
	if debugMode {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if debugMode || isTerminal(w) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).
			With().Timestamp().Logger().
			Hook(telemetry.OTELHook{})
		return
	}
	log.Logger = telemetry.NewLogger(w, "kartta", lvl)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
