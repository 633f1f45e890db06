package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newListCmd(stdout, stderr io.Writer) *cobra.Command {
	var glob string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archive entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&glob, "glob", "", "Restrict to entries matching this glob (e.g. vm1-vda-*)")
	return cmd
}
