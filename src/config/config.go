// Package config holds the explicit run configuration. It is constructed
// once at process start and passed by reference; there is no package-level
// mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Retention expresses keep-counts per period for archive pruning. The archive
// store owns the exact bucketing; these are forwarded verbatim.
type Retention struct {
	Daily   int `yaml:"daily"`
	Weekly  int `yaml:"weekly"`
	Monthly int `yaml:"monthly"`
}

// Config is the full run configuration for the backup tool.
type Config struct {
	// Repository is the archive store location (borg repository URL or path).
	Repository string `yaml:"repository"`
	// Passphrase is forwarded to the archive tool; normally supplied via the
	// BORG_PASSPHRASE environment variable rather than the file.
	Passphrase string `yaml:"passphrase"`
	// NonInteractive answers the archive tool's safety prompts with "yes" so
	// unattended runs never block on a terminal.
	NonInteractive bool `yaml:"non_interactive"`

	Retention Retention `yaml:"retention"`

	// LibvirtURI selects the hypervisor connection, e.g. qemu:///system.
	LibvirtURI string `yaml:"libvirt_uri"`
	// ImageDir is the managed image directory. In image-file mode, disk
	// sources outside this directory are skipped as unmanaged.
	ImageDir string `yaml:"image_dir"`
	// BaseExtension is the expected extension of committed base images.
	BaseExtension string `yaml:"base_extension"`
	// OverlaySuffix is the extension given to external snapshot overlays. A
	// disk source carrying it at run start marks an interrupted prior run.
	OverlaySuffix string `yaml:"overlay_suffix"`
	// SnapshotName is the fixed name used for external snapshots.
	SnapshotName string `yaml:"snapshot_name"`

	// Pool is the RBD pool backed up by the images variant.
	Pool string `yaml:"pool"`
	// KeepPoolSnapshots is how many named RBD snapshots survive per image.
	KeepPoolSnapshots int `yaml:"keep_pool_snapshots"`

	LockPath string `yaml:"lock_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Retention:         Retention{Daily: 7, Weekly: 4, Monthly: 6},
		LibvirtURI:        "qemu:///system",
		ImageDir:          "/var/lib/libvirt/images",
		BaseExtension:     ".qcow2",
		OverlaySuffix:     ".backup",
		SnapshotName:      "backup",
		Pool:              "rbd",
		KeepPoolSnapshots: 7,
		LockPath:          "/run/virt-backup.lock",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and the
// environment, in that precedence order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BORG_REPO"); v != "" {
		c.Repository = v
	}
	if v := os.Getenv("BORG_PASSPHRASE"); v != "" {
		c.Passphrase = v
	}
	if v := os.Getenv("VIRT_BACKUP_LOCK"); v != "" {
		c.LockPath = v
	}
	if v := os.Getenv("LIBVIRT_DEFAULT_URI"); v != "" {
		c.LibvirtURI = v
	}
}

func (c *Config) normalize() error {
	c.Repository = strings.TrimSpace(c.Repository)
	if c.Repository == "" {
		return errors.New("config: repository is required (set BORG_REPO or the repository key)")
	}
	if !strings.HasPrefix(c.BaseExtension, ".") {
		c.BaseExtension = "." + c.BaseExtension
	}
	if !strings.HasPrefix(c.OverlaySuffix, ".") {
		c.OverlaySuffix = "." + c.OverlaySuffix
	}
	if c.BaseExtension == c.OverlaySuffix {
		return fmt.Errorf("config: base extension and overlay suffix must differ (both %q)", c.BaseExtension)
	}
	if c.SnapshotName == "" {
		return errors.New("config: snapshot name must not be empty")
	}
	if c.Retention.Daily < 0 || c.Retention.Weekly < 0 || c.Retention.Monthly < 0 {
		return errors.New("config: retention keep-counts must not be negative")
	}
	if c.Retention.Daily+c.Retention.Weekly+c.Retention.Monthly == 0 {
		return errors.New("config: retention must keep at least one period")
	}
	if c.KeepPoolSnapshots < 1 {
		return errors.New("config: keep_pool_snapshots must be at least 1")
	}
	if c.LockPath == "" {
		return errors.New("config: lock path must not be empty")
	}
	return nil
}
