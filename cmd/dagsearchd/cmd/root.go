package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dagsearch/dagsearch/pkg/utils"
)

var (
	// Global flags
	verbose    bool
	logLevel   string
	logFile    string
	configPath string

	logger utils.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "dagsearchd",
	Short: "A parallel beam-search engine for DAG-structured sequence decoding",
	Long: `dagsearchd drives the parallel beam-expansion engine that decodes a
non-autoregressive DAG-structured sequence model.

It loads an engine configuration (arena sizes, worker count, nucleus top-p),
wires an optional run ledger and language model blob, and runs a decode
session against candidate tensors supplied per step.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := utils.ParseLogLevel(logLevel)
		if verbose {
			level = utils.LevelDebug
		}
		if logFile != "" {
			fileLogger, err := utils.NewFileLogger(level, logFile)
			if err != nil {
				return err
			}
			logger = fileLogger
			return nil
		}
		logger = utils.NewDefaultLogger(level, os.Stdout)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (shorthand for --log-level debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stdout")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a config file (default: ./config.yaml, ./configs/config.yaml, /etc/dagsearch/config.yaml)")

	binName := BinName()
	rootCmd.Example = `  # Run a synthetic decode session against a small engine configuration
  ` + binName + ` run --batch-size 4 --steps 6

  # Run against a config file with a configured run ledger and LM blob
  ` + binName + ` run --config ./configs/config.yaml`
}

// GetLogger returns the configured logger.
func GetLogger() utils.Logger {
	return logger
}

// BinName returns the base name of the current executable.
func BinName() string {
	return filepath.Base(os.Args[0])
}
