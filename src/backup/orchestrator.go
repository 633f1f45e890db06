package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"virt-backup/src/archive"
	"virt-backup/src/config"
	"virt-backup/src/lockfile"
	"virt-backup/src/logging"
	"virt-backup/src/virt"
)

// Orchestrator drives a whole backup run: lock, enumerate, per-device
// coordinator, descriptor export, final compact. Execution is strictly
// sequential; overlapping commits on one hypervisor could corrupt a chain.
type Orchestrator struct {
	Lock   *lockfile.Lock
	Virt   virt.Client
	Store  archive.Store
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

// RunDomains backs up every eligible device of every domain (or of the one
// named by filter). Any fatal error aborts the run; the lock is released on
// every path.
func (o *Orchestrator) RunDomains(ctx context.Context, filter string) error {
	logger := logging.Ensure(o.Logger).With("run_id", shortRunID())

	if err := o.Lock.Acquire(); err != nil {
		return err
	}
	defer o.Lock.Release()

	domains, err := o.Virt.ListDomains()
	if err != nil {
		return fmt.Errorf("%w: list domains: %v", ErrInventory, err)
	}
	domains = filterDomains(domains, filter)
	if len(domains) == 0 {
		logger.Info("no matching domains, nothing to do", "filter", filter)
		return nil
	}

	coord := o.coordinator(logger)
	for _, dom := range domains {
		domLogger := logger.With("domain", dom.Name)
		disks, err := o.Virt.ListDisks(dom.Name)
		if err != nil {
			return fmt.Errorf("%w: list devices of %s: %v", ErrInventory, dom.Name, err)
		}
		for _, disk := range disks {
			if reason := skipReason(disk, o.Config.ImageDir); reason != "" {
				domLogger.Info("skipping device", "device", disk.Target, "source", disk.Source, "reason", reason)
				continue
			}
			if err := coord.BackupDevice(ctx, dom, disk); err != nil {
				return err
			}
		}
		if err := coord.BackupDomainConfig(ctx, dom); err != nil {
			return err
		}
	}

	logger.Info("compacting archive store")
	if err := o.Store.Compact(ctx); err != nil {
		return fmt.Errorf("compact archive store: %w", err)
	}
	logger.Info("backup run complete", "domains", len(domains))
	return nil
}

func (o *Orchestrator) coordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Virt:          o.Virt,
		Store:         o.Store,
		Policy:        policyFrom(o.Config.Retention),
		BaseExtension: o.Config.BaseExtension,
		OverlaySuffix: o.Config.OverlaySuffix,
		SnapshotName:  o.Config.SnapshotName,
		Logger:        logger,
		Now:           o.Now,
	}
}

func policyFrom(r config.Retention) archive.Policy {
	return archive.Policy{Daily: r.Daily, Weekly: r.Weekly, Monthly: r.Monthly}
}

func filterDomains(domains []virt.Domain, filter string) []virt.Domain {
	if filter == "" {
		return domains
	}
	// An unmatched filter yields an empty work list, not an error.
	for _, d := range domains {
		if d.Name == filter {
			return []virt.Domain{d}
		}
	}
	return nil
}

// skipReason classifies a device as backup-eligible or not. ISO media and
// sources outside the managed image directory are skipped in image-file mode.
func skipReason(disk virt.Disk, imageDir string) string {
	if disk.Device == "cdrom" {
		return "cdrom device"
	}
	if disk.Source == "" {
		return "no backing image"
	}
	if strings.EqualFold(filepath.Ext(disk.Source), ".iso") {
		return "iso media"
	}
	if !strings.HasPrefix(disk.Source, strings.TrimSuffix(imageDir, "/")+"/") {
		return "unmanaged path"
	}
	return ""
}

func shortRunID() string {
	return uuid.New().String()[:8]
}
