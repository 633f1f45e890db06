package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"virt-backup/src/archive"
	"virt-backup/src/logging"
	"virt-backup/src/virt"
)

// Coordinator runs the per-device backup cycle: detect a crashed prior run,
// snapshot, export the frozen base, prune, commit. One coordinator is used
// for a whole run; it keeps no per-device state between calls.
type Coordinator struct {
	Virt   virt.Client
	Store  archive.Store
	Policy archive.Policy

	// BaseExtension is the expected extension of committed base images and
	// OverlaySuffix the one carried by snapshot overlays. A device locator
	// wearing the overlay suffix at cycle start marks an interrupted run.
	BaseExtension string
	OverlaySuffix string
	// SnapshotName is the fixed external snapshot name.
	SnapshotName string

	Logger *slog.Logger
	Now    func() time.Time

	// Test seams for the local filesystem; nil means the real thing.
	StatFile   func(path string) error
	OpenFile   func(path string) (io.ReadCloser, error)
	RemoveFile func(path string) error
}

// BackupDevice runs one full cycle for a single device. On any fatal error
// the device's chain has either been committed back to base format or the
// error says loudly that it could not be.
func (c *Coordinator) BackupDevice(ctx context.Context, domain virt.Domain, disk virt.Disk) error {
	logger := logging.Ensure(c.Logger).With("domain", domain.Name, "device", disk.Target)

	source, err := c.recoverFromCrash(domain, disk, logger)
	if err != nil {
		return err
	}

	if domain.State != virt.StateRunning {
		// A stopped domain's disk is already quiescent; read it directly.
		logger.Info("domain stopped, exporting backing file directly", "source", source)
		if err := c.exportFile(ctx, domain.Name, disk.Target, source, logger); err != nil {
			return err
		}
		return c.pruneDevice(ctx, domain.Name, disk.Target, logger)
	}

	overlay := c.overlayPath(source)
	logger.Info("creating external snapshot", "source", source, "overlay", overlay)
	if err := c.Virt.CreateExternalSnapshot(domain.Name, disk.Target, overlay, c.SnapshotName); err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrSnapshotCreate, domain.Name, disk.Target, err)
	}

	// From here on the domain writes into the overlay. Whatever happens to
	// export or prune, the overlay must be committed back before returning.
	stepErr := c.exportFile(ctx, domain.Name, disk.Target, source, logger)
	if stepErr == nil {
		stepErr = c.pruneDevice(ctx, domain.Name, disk.Target, logger)
	}

	if err := c.commitOverlay(domain.Name, disk.Target, overlay, logger); err != nil {
		if stepErr != nil {
			logger.Error("commit failed after an earlier step already failed", "step_error", stepErr)
		}
		return err
	}
	return stepErr
}

// BackupDomainConfig exports the domain descriptor and applies retention to
// its key prefix. Failures are fatal but do not implicate disk integrity.
func (c *Coordinator) BackupDomainConfig(ctx context.Context, domain virt.Domain) error {
	logger := logging.Ensure(c.Logger).With("domain", domain.Name)
	doc, err := c.Virt.DumpXML(domain.Name)
	if err != nil {
		return fmt.Errorf("%w: dump config for %s: %v", ErrExport, domain.Name, err)
	}
	key := configKey(domain.Name, c.now())
	logger.Info("exporting domain descriptor", "key", key)
	if err := c.Store.Create(ctx, key, strings.NewReader(string(doc))); err != nil {
		return fmt.Errorf("%w: descriptor of %s: %v", ErrExport, domain.Name, err)
	}
	if err := c.Store.Prune(ctx, configGlob(domain.Name), c.Policy); err != nil {
		return fmt.Errorf("%w: descriptors of %s: %v", ErrPrune, domain.Name, err)
	}
	return nil
}

// recoverFromCrash inspects the device locator for the overlay suffix left by
// an interrupted run. When found, the pending commit runs before anything
// else; the cycle then continues from the restored base locator.
func (c *Coordinator) recoverFromCrash(domain virt.Domain, disk virt.Disk, logger *slog.Logger) (string, error) {
	if !strings.HasSuffix(disk.Source, c.OverlaySuffix) {
		return disk.Source, nil
	}
	logger.Warn("device still on snapshot overlay from an interrupted run, committing it first",
		"overlay", disk.Source)
	if err := c.commitOverlay(domain.Name, disk.Target, disk.Source, logger); err != nil {
		return "", err
	}
	base := strings.TrimSuffix(disk.Source, c.OverlaySuffix) + c.BaseExtension
	if err := c.stat(base); err != nil {
		return "", fmt.Errorf("%w: base image %s missing after recovery commit of %s/%s, refusing to guess",
			ErrCorruptChain, base, domain.Name, disk.Target)
	}
	logger.Info("recovery commit complete", "base", base)
	return base, nil
}

// commitOverlay merges the overlay into the base, pivots the domain back, and
// removes the overlay file. This is the one step that must never be retried
// blindly: failure means the live chain may be broken.
func (c *Coordinator) commitOverlay(domainName, target, overlay string, logger *slog.Logger) error {
	if err := c.Virt.CommitDisk(domainName, target); err != nil {
		logger.Error("COMMIT FAILED, domain may reference a broken disk chain, manual intervention required",
			"overlay", overlay, "error", err)
		return fmt.Errorf("%w: %s/%s: %v", ErrCommit, domainName, target, err)
	}
	if err := c.remove(overlay); err != nil && !os.IsNotExist(err) {
		// The chain is already safe; a stray overlay file is only clutter.
		logger.Warn("could not remove committed overlay file", "overlay", overlay, "error", err)
	}
	return nil
}

func (c *Coordinator) exportFile(ctx context.Context, domainName, target, source string, logger *slog.Logger) error {
	key := deviceKey(domainName, target, c.now())
	f, err := c.open(source)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrExport, source, err)
	}
	defer f.Close()
	logger.Info("exporting image to archive", "key", key, "source", source)
	if err := c.Store.Create(ctx, key, f); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrExport, key, err)
	}
	return nil
}

func (c *Coordinator) pruneDevice(ctx context.Context, domainName, target string, logger *slog.Logger) error {
	glob := deviceGlob(domainName, target)
	logger.Debug("applying retention policy", "glob", glob)
	if err := c.Store.Prune(ctx, glob, c.Policy); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPrune, glob, err)
	}
	return nil
}

// overlayPath derives the overlay locator from a base locator by swapping the
// extension for the overlay suffix.
func (c *Coordinator) overlayPath(source string) string {
	base := strings.TrimSuffix(source, c.BaseExtension)
	if base == source {
		base = strings.TrimSuffix(source, filepath.Ext(source))
	}
	return base + c.OverlaySuffix
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) stat(path string) error {
	if c.StatFile != nil {
		return c.StatFile(path)
	}
	_, err := os.Stat(path)
	return err
}

func (c *Coordinator) open(path string) (io.ReadCloser, error) {
	if c.OpenFile != nil {
		return c.OpenFile(path)
	}
	return os.Open(path)
}

func (c *Coordinator) remove(path string) error {
	if c.RemoveFile != nil {
		return c.RemoveFile(path)
	}
	return os.Remove(path)
}
