package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unknown-philosopher/kgraph/internal/config"
)

var (
	flagConfig string
	flagHome   string
	flagDebug  bool

	// cfg is loaded once in the persistent pre-run and shared by all
	// subcommands for this invocation.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kgraph",
	Short: "kgraph - LLM-assisted knowledge graph maintenance",
	Long: `kgraph ingests documents into a knowledge graph, using an LLM to
extract entities and relationships, and keeps the graph clean by finding
and merging duplicate entities.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig resolves the config file, loads it (or defaults), and
// configures logging before any command runs.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	homeDir := flagHome
	if homeDir == "" {
		homeDir = os.Getenv("KGRAPH_HOME")
	}
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}

	configFile := flagConfig
	if configFile == "" {
		configFile = config.DefaultConfigPath(homeDir)
	}

	loaded, err := config.NewLoader(config.NewValidator()).LoadWithDefaults(configFile)
	if err != nil {
		return err
	}
	if flagDebug {
		loaded.Core.Debug = true
		loaded.Logging.Level = "debug"
	}
	cfg = loaded

	setupLogging(cfg.Logging)
	return nil
}

// setupLogging installs the process-wide slog default per configuration.
func setupLogging(lc config.LoggingConfig) {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "kgraph home directory (default ~/.kgraph)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(dedupCmd)
	rootCmd.AddCommand(versionCmd)
}
