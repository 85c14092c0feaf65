package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dantte-lp/bgplab/internal/config"
)

var (
	// configPath is the optional YAML configuration file.
	configPath string

	// cfg and logger are initialized in PersistentPreRunE and shared by
	// all commands.
	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd is the top-level cobra command for bgplab.
var rootCmd = &cobra.Command{
	Use:   "bgplab",
	Short: "Virtual BGP test topology builder",
	Long:  "bgplab builds BGP test topologies from YAML: Linux bridges, docker containers, and gobgpd peerings.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		logger = newLogger(cfg.Log)
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to configuration file (YAML)")

	rootCmd.AddCommand(upCmd())
	rootCmd.AddCommand(destroyCmd())
	rootCmd.AddCommand(versionCmd())
}

// newLogger builds the process logger per the log configuration.
func newLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(lc.Level)}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
