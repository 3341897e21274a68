// Command autolearn runs the incremental learning loop and inspects its
// knowledge store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"autolearn/internal/config"
	"autolearn/internal/system"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	verbose    bool
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "autolearn",
		Short: "autolearn - incremental knowledge ingestion",
		Long: `autolearn repeatedly researches a goal topic: it plans search queries,
fetches and splits the results into passages, keeps only passages that are
novel with respect to its knowledge store, and distills each cycle into an
insight that steers the next one.

Create a STOP file (see checkpoint.stop_file) to end a running loop
gracefully; progress is checkpointed after every cycle.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "autolearn.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newStatsCmd(opts),
		newSearchCmd(opts),
		newInsightsCmd(opts),
		newIngestCmd(opts),
		newAskCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if config.IsConfigError(err) {
			return nil, err
		}
		return nil, config.Wrap("config", err)
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// bootSystem loads the configuration and wires a System.
func bootSystem(ctx context.Context, opts *globalOptions) (*system.System, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return system.Boot(ctx, cfg)
}

// inspectSystem opens the store and checkpoint for read-only commands.
func inspectSystem(ctx context.Context, opts *globalOptions) (*system.System, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return system.Inspect(ctx, cfg)
}

// exitCode maps an error to the process exit status. Only configuration
// errors get a distinct status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case config.IsConfigError(err):
		return exitConfigError
	default:
		return exitFailure
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}
