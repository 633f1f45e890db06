package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newCheckCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run an archive repository consistency check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			repo, err := openRepo(ctx, &cfg, stderr)
			if err != nil {
				return err
			}
			if err := repo.Check(ctx); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "repository check passed")
			return nil
		},
	}
}
