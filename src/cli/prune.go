package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"virt-backup/src/archive"
)

func newPruneCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune GLOB",
		Short: "Apply the retention policy to archive entries matching GLOB, then compact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			glob := args[0]
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			repo, err := openRepo(ctx, &cfg, nil)
			if err != nil {
				return err
			}

			entries, err := repo.List(ctx, glob)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTIME")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Time.UTC().Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if len(entries) == 0 || dryRun(cmd) {
				return nil
			}
			if !assumeYes(cmd) {
				ok, err := confirm(os.Stdin, stdout, fmt.Sprintf(
					"Apply retention (keep %dd/%dw/%dm) to %d entries matching %q?",
					cfg.Retention.Daily, cfg.Retention.Weekly, cfg.Retention.Monthly, len(entries), glob))
				if err != nil || !ok {
					return err
				}
			}
			policy := archive.Policy{
				Daily:   cfg.Retention.Daily,
				Weekly:  cfg.Retention.Weekly,
				Monthly: cfg.Retention.Monthly,
			}
			if err := repo.Prune(ctx, glob, policy); err != nil {
				return err
			}
			return repo.Compact(ctx)
		},
	}
	return cmd
}
