package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jarimakinen/gdrivesync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// CLIFlags bundles the root command's persistent flags.
type CLIFlags struct {
	ConfigPath string
	WorkingDir string
	Verbose    bool
	Debug      bool
	Quiet      bool
}

// Global persistent flags, bound in newRootCmd().
var flags CLIFlags

// skipConfigAnnotation marks commands that handle config loading themselves.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles resolved config and logger, stashed in the command
// context by PersistentPreRunE so subcommands never repeat config loading.
type CLIContext struct {
	Cfg    *config.Config
	Flags  CLIFlags
	Logger *slog.Logger
}

type cliContextKey struct{}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("BUG: CLIContext not found in context — ensure the command " +
			"does not skip config loading (no skipConfigAnnotation)")
	}

	return cc
}

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gdrivesync",
		Short:         "Bidirectional Google Drive ↔ local filesystem synchronizer",
		Long:          "gdrivesync watches a Google Drive hierarchy and a local directory, replaying changes from each side onto the other.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Conflicting verbosity flags are reported before config loading.
			if err := cmd.ValidateFlagGroups(); err != nil {
				return err
			}

			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "config file path (default: platform config dir)")
	cmd.PersistentFlags().StringVar(&flags.WorkingDir, "working-dir", "", "directory for manifests, change queue, and crash logs")
	cmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "show info-level diagnostics")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "show debug-level diagnostics")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "suppress all but error-level diagnostics")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newConsoleCmd())
	cmd.AddCommand(newServiceCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores it, alongside
// a configured logger, in the command's context.
func loadConfig(cmd *cobra.Command) error {
	path := flags.ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	logger := buildLogger(nil, flags)

	cfg, err := config.Load(path, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if flags.WorkingDir != "" {
		cfg.Sync.WorkingDir = flags.WorkingDir
	}

	finalLogger := buildLogger(cfg, flags)

	cc := &CLIContext{Cfg: cfg, Flags: flags, Logger: finalLogger}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates the diagnostic-stream logger, the sole user surface
// during steady-state operation. Pass nil cfg for pre-config bootstrap.
// Config-file log level is the baseline; CLI flags always win (enforced
// mutually exclusive by Cobra).
func buildLogger(cfg *config.Config, f CLIFlags) *slog.Logger {
	level := slog.LevelWarn

	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		case "warn":
			level = slog.LevelWarn
		}
	}

	if f.Verbose {
		level = slog.LevelInfo
	}

	if f.Debug {
		level = slog.LevelDebug
	}

	if f.Quiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
