// Package main is the mythicls command line tool: a headless client for the
// MythicYAML language server.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/0tickpulse/mythicls/internal/config"
	"github.com/0tickpulse/mythicls/internal/lsp"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

var (
	flagConfig    string
	flagWorkspace string
	flagTrace     string
	flagLogLevel  string
)

func main() {
	lsp.Version = version

	rootCmd := &cobra.Command{
		Use:   "mythicls",
		Short: "Client tooling for the MythicYAML language server",
		Long: `mythicls drives a MythicYAML language server from the command line.
It speaks the same session, document sync and crash recovery machinery an
editor integration uses, which makes it useful for CI linting and for
debugging a server outside any editor.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagConfig, "config", "", "path to mythicls.toml (default: workspace root, then user config dir)")
	flags.StringVarP(&flagWorkspace, "workspace", "w", ".", "workspace root directory")
	flags.StringVar(&flagTrace, "trace", "", "protocol trace level: off, messages or verbose")
	flags.StringVar(&flagLogLevel, "log-level", "", "log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(newCheckCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mythicls %s (%s)\n", version, commit)
		},
	}
}

// loadConfig resolves the effective configuration, then applies command
// line flags on top. The second return is the config file path actually
// used, empty when running on defaults.
func loadConfig() (config.Config, string, error) {
	loader := config.NewLoader()

	path := flagConfig
	if path == "" {
		path = loader.Resolve(flagWorkspace)
	}

	cfg, err := loader.Load(path)
	if err != nil {
		return cfg, path, err
	}

	if flagTrace != "" {
		cfg.Trace = flagTrace
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, path, cfg.Validate()
}

// newLogger builds the client logger: pretty console output on a terminal,
// JSON otherwise, rotated file output when configured.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	switch {
	case cfg.File != "":
		logger = zerolog.New(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	case isatty.IsTerminal(os.Stderr.Fd()):
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	default:
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
