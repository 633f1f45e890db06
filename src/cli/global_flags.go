package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"virt-backup/src/archive/borg"
	"virt-backup/src/config"
	"virt-backup/src/logging"
)

// addGlobalFlags adds the persistent flags shared by every subcommand.
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")
	cmd.PersistentFlags().BoolP("yes", "y", false, "Assume 'yes' to prompts and run non-interactively")
	cmd.PersistentFlags().Bool("dry-run", false, "Show planned actions without making changes")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

func newLogger(cmd *cobra.Command, w io.Writer) (*slog.Logger, error) {
	levelStr, _ := cmd.Root().PersistentFlags().GetString("log-level")
	jsonMode, _ := cmd.Root().PersistentFlags().GetBool("log-json")
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	return logging.New(w, level, jsonMode), nil
}

func assumeYes(cmd *cobra.Command) bool {
	yes, _ := cmd.Root().PersistentFlags().GetBool("yes")
	return yes
}

func dryRun(cmd *cobra.Command) bool {
	dry, _ := cmd.Root().PersistentFlags().GetBool("dry-run")
	return dry
}

// openRepo detects the borg binary, gates on the minimum version, and returns
// the archive repository adapter.
func openRepo(ctx context.Context, cfg *config.Config, progress io.Writer) (*borg.Repo, error) {
	bin, err := borg.Detect(ctx)
	if err != nil {
		return nil, err
	}
	if !borg.IsCompatible(bin.Version) {
		return nil, fmt.Errorf("borg %s is too old, need at least %s", bin.Version, borg.RequiredVersion)
	}
	return &borg.Repo{
		Bin:            bin,
		Location:       cfg.Repository,
		Passphrase:     cfg.Passphrase,
		NonInteractive: cfg.NonInteractive,
		Progress:       progress,
	}, nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
