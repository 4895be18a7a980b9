package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/synckit/manager"
	"github.com/tonimelisma/synckit/storage/sqlitestore"
	"github.com/tonimelisma/synckit/transport/httpremote"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagRemoteURL  string
	flagUser       string
	flagJSON       bool
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// skipConfigAnnotation marks commands that handle setup themselves — none
// currently do, kept for parity with the teacher's command-tree shape so
// new commands can opt out without touching PersistentPreRunE.
const skipConfigAnnotation = "skipConfig"

// CLIContext bundles the resolved config, logger and wired Manager. Built
// once in PersistentPreRunE and threaded through the command's context.
type CLIContext struct {
	Cfg     fileConfig
	Logger  *slog.Logger
	Manager *manager.Manager
	Store   *sqlitestore.Store
	Remote  *httpremote.Adapter
	UserID  string
	JSON    bool
	Quiet   bool
}

// cliContextKey is the context key for CLIContext.
type cliContextKey struct{}

func cliContextFrom(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		return nil
	}

	return cc
}

func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("BUG: CLIContext not found in context — ensure PersistentPreRunE ran")
	}

	return cc
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "syncdemo",
		Short:   "Offline-first sync engine demo CLI",
		Long:    "A reference command-line client exercising the sync engine's Manager facade against a local SQLite store and an HTTP remote.",
		Version: version,
		// Silence Cobra's default error/usage printing — handled in main().
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}

			return setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path (TOML)")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "local SQLite database path (overrides config)")
	cmd.PersistentFlags().StringVar(&flagRemoteURL, "remote", "", "remote service base URL (overrides config)")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "default-user", "user ID to operate as")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "show detailed output")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPauseCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSwitchUserCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

// setup resolves configuration through the four-layer override chain, opens
// the local store, and wires a Manager, storing the result in the command's
// context for use by subcommands (spec §2 control-flow diagram: Manager
// Facade sits in front of the queue and engine).
func setup(cmd *cobra.Command) error {
	bootLogger := buildLogger(nil)

	fc, err := loadFileConfig(flagConfigPath, bootLogger)
	if err != nil {
		return err
	}

	fc = applyEnvOverrides(fc)

	if cmd.Flags().Changed("db") {
		fc.LocalPath = flagDBPath
	}

	if cmd.Flags().Changed("remote") {
		fc.RemoteURL = flagRemoteURL
	}

	logger := buildLogger(&fc)

	store, err := sqlitestore.Open(fc.LocalPath, logger)
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}

	mgrCfg, err := fc.toManagerConfig(logger)
	if err != nil {
		store.Dispose(cmd.Context())

		return err
	}

	remote, err := newRemoteAdapter(fc, logger)
	if err != nil {
		store.Dispose(cmd.Context())

		return err
	}

	mgr := manager.New(store, remote, mgrCfg)

	cc := &CLIContext{
		Cfg:     fc,
		Logger:  logger,
		Manager: mgr,
		Store:   store,
		Remote:  remote,
		UserID:  flagUser,
		JSON:    flagJSON,
		Quiet:   flagQuiet,
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cc))

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Pass nil for pre-config bootstrap. Config-file log level is
// the baseline; --verbose/--debug/--quiet override it because CLI flags
// always win (mutually exclusive, enforced by Cobra).
func buildLogger(fc *fileConfig) *slog.Logger {
	level := slog.LevelWarn

	if fc != nil {
		switch fc.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelInfo
	}

	if flagDebug {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
