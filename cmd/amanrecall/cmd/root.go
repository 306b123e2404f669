// Package cmd provides the CLI commands for amanrecall.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrecall/internal/config"
	rerrors "github.com/Aman-CERP/amanrecall/internal/errors"
	"github.com/Aman-CERP/amanrecall/internal/logging"
	"github.com/Aman-CERP/amanrecall/pkg/recall"
	"github.com/Aman-CERP/amanrecall/pkg/version"
)

// Persistent flags
var (
	debugMode      bool
	configDir      string
	logFile        string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amanrecall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amanrecall",
		Short: "Recursive retrieval over conversation history",
		Long: `amanrecall finds the parts of a user's history that answer a message.

It searches past conversation turns, known facts, journal entries and
conversation summaries, asks a reasoning model whether the gathered
context is enough, and searches again with follow-up queries when it
is not.

Run 'amanrecall serve' to expose recall as MCP tools, or use the
search, ask and ingest commands directly.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amanrecall version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding .amanrecall.yaml and .env")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", logging.DefaultLogPath(), "Log file path (empty disables file logging)")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the file logger. stdout is left untouched so
// that serve can own it.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.FilePath = logFile
	if debugMode {
		cfg.Level = "debug"
	}
	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug_logging_enabled", slog.String("log_file", logFile))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, rerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads the effective configuration for --config-dir.
func loadConfig() (*config.Config, error) {
	return config.Load(configDir)
}

// openEngine loads the configuration and builds an engine from it.
func openEngine(ctx context.Context, opts ...recall.Option) (*recall.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts = append([]recall.Option{recall.WithLogger(slog.Default())}, opts...)
	return recall.New(ctx, cfg, opts...)
}

// requireOwner rejects a blank --owner before any engine is built.
func requireOwner(owner string) error {
	if owner == "" {
		return rerrors.New(rerrors.ErrCodeMissingOwner, "--owner is required", nil).
			WithSuggestion("pass the id of the user whose history to search")
	}
	return nil
}
