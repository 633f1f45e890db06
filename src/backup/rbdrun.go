package backup

import (
	"context"
	"fmt"
	"time"

	"virt-backup/src/logging"
	"virt-backup/src/rbd"
)

// RunImages backs up every image of the configured pool (or the one named by
// filter) through named RBD snapshots. There is no local overlay file, so the
// image-file crash-detection step does not apply here.
func (o *Orchestrator) RunImages(ctx context.Context, pool rbd.Client, filter string) error {
	logger := logging.Ensure(o.Logger).With("run_id", shortRunID(), "pool", o.Config.Pool)

	if err := o.Lock.Acquire(); err != nil {
		return err
	}
	defer o.Lock.Release()

	images, err := pool.ListImages(ctx)
	if err != nil {
		return fmt.Errorf("%w: list pool images: %v", ErrInventory, err)
	}
	images = filterImages(images, filter)
	if len(images) == 0 {
		logger.Info("no matching images, nothing to do", "filter", filter)
		return nil
	}

	policy := policyFrom(o.Config.Retention)
	for _, image := range images {
		imgLogger := logger.With("image", image)
		now := o.nowFunc()
		snapshot := poolSnapshotName(now)

		imgLogger.Info("creating pool snapshot", "snapshot", snapshot)
		if err := pool.CreateSnapshot(ctx, image, snapshot); err != nil {
			return fmt.Errorf("%w: %s@%s: %v", ErrSnapshotCreate, image, snapshot, err)
		}

		key := imageKey(image, now)
		imgLogger.Info("exporting snapshot to archive", "key", key)
		if err := o.exportPoolSnapshot(ctx, pool, image, snapshot, key); err != nil {
			return err
		}

		if err := o.Store.Prune(ctx, imageGlob(image), policy); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPrune, imageGlob(image), err)
		}

		if err := prunePoolSnapshots(ctx, pool, image, o.Config.KeepPoolSnapshots); err != nil {
			return err
		}
	}

	logger.Info("compacting archive store")
	if err := o.Store.Compact(ctx); err != nil {
		return fmt.Errorf("compact archive store: %w", err)
	}
	logger.Info("backup run complete", "images", len(images))
	return nil
}

func (o *Orchestrator) exportPoolSnapshot(ctx context.Context, pool rbd.Client, image, snapshot, key string) error {
	rc, err := pool.ExportSnapshot(ctx, image, snapshot)
	if err != nil {
		return fmt.Errorf("%w: export %s@%s: %v", ErrExport, image, snapshot, err)
	}
	createErr := o.Store.Create(ctx, key, rc)
	// Close reports the export tool's exit status; a truncated stream the
	// archive accepted is still a failed export.
	closeErr := rc.Close()
	if createErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrExport, key, createErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrExport, key, closeErr)
	}
	return nil
}

func filterImages(images []string, filter string) []string {
	if filter == "" {
		return images
	}
	for _, img := range images {
		if img == filter {
			return []string{img}
		}
	}
	return nil
}

// prunePoolSnapshots keeps exactly the keep most recent named snapshots of
// the image and deletes the rest, oldest first.
func prunePoolSnapshots(ctx context.Context, pool rbd.Client, image string, keep int) error {
	snaps, err := pool.ListSnapshots(ctx, image)
	if err != nil {
		return fmt.Errorf("%w: list snapshots of %s: %v", ErrPrune, image, err)
	}
	if len(snaps) <= keep {
		return nil
	}
	for _, snap := range snaps[:len(snaps)-keep] {
		if err := pool.DeleteSnapshot(ctx, image, snap); err != nil {
			return fmt.Errorf("%w: delete snapshot %s@%s: %v", ErrPrune, image, snap, err)
		}
	}
	return nil
}

func (o *Orchestrator) nowFunc() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
