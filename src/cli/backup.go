package cli

import (
	"io"

	"github.com/spf13/cobra"

	"virt-backup/src/backup"
	"virt-backup/src/lockfile"
	"virt-backup/src/rbd"
	"virt-backup/src/virt"
)

func newBackupCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run snapshot-coordinated backups",
	}
	cmd.AddCommand(newBackupDomainsCmd(stdout, stderr))
	cmd.AddCommand(newBackupImagesCmd(stdout, stderr))
	return cmd
}

func newBackupDomainsCmd(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "domains [NAME]",
		Short: "Back up libvirt domains (all, or the one named)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, stderr)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			store, err := openRepo(ctx, &cfg, nil)
			if err != nil {
				return err
			}
			client, err := virt.Connect(cfg.LibvirtURI)
			if err != nil {
				return err
			}
			defer client.Close()

			o := &backup.Orchestrator{
				Lock:   lockfile.New(cfg.LockPath),
				Virt:   client,
				Store:  store,
				Config: &cfg,
				Logger: logger,
			}
			return o.RunDomains(ctx, filter)
		},
	}
}

func newBackupImagesCmd(stdout, stderr io.Writer) *cobra.Command {
	var pool string
	cmd := &cobra.Command{
		Use:   "images [NAME]",
		Short: "Back up RBD pool images through named snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := ""
			if len(args) == 1 {
				filter = args[0]
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if pool != "" {
				cfg.Pool = pool
			}
			logger, err := newLogger(cmd, stderr)
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			store, err := openRepo(ctx, &cfg, nil)
			if err != nil {
				return err
			}
			o := &backup.Orchestrator{
				Lock:   lockfile.New(cfg.LockPath),
				Store:  store,
				Config: &cfg,
				Logger: logger,
			}
			return o.RunImages(ctx, &rbd.CLIClient{Pool: cfg.Pool}, filter)
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "", "RBD pool (overrides configuration)")
	return cmd
}
