package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"virt-backup/src/archive"
	"virt-backup/src/virt"
)

var fixedNow = time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)

func newTestCoordinator(vc virt.Client, store archive.Store) *Coordinator {
	return &Coordinator{
		Virt:          vc,
		Store:         store,
		Policy:        archive.Policy{Daily: 7, Weekly: 4, Monthly: 6},
		BaseExtension: ".qcow2",
		OverlaySuffix: ".backup",
		SnapshotName:  "backup",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:           func() time.Time { return fixedNow },
	}
}

// writeImage creates a backing file and returns its path.
func writeImage(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBackupDeviceFullCycle(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "frozen base content")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: base, Format: "qcow2", Device: "disk"})
	vc.OnCommit = func(domain, target string) { vc.SetDiskSource(domain, target, base) }
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	disk, _ := vc.ListDisks("vm1")
	if err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning}, disk[0]); err != nil {
		t.Fatalf("BackupDevice: %v", err)
	}

	// Exactly one snapshot, then one commit, in that order.
	wantCalls := []string{
		"snapshot vm1 vda " + filepath.Join(dir, "vm1.backup") + " backup",
		"commit vm1 vda",
	}
	if len(vc.Calls) != 2 || vc.Calls[0] != wantCalls[0] || vc.Calls[1] != wantCalls[1] {
		t.Fatalf("virt calls = %v, want %v", vc.Calls, wantCalls)
	}

	// The frozen base content landed under the expected key.
	key := "vm1-vda-2024-03-01T01:00:00"
	if string(store.Entries[key]) != "frozen base content" {
		t.Fatalf("archive entry %q = %q", key, store.Entries[key])
	}
	if store.Calls[1] != "prune vm1-vda-*" {
		t.Fatalf("expected device-scoped prune, calls = %v", store.Calls)
	}

	// After the cycle the locator resolves to base format again.
	disks, _ := vc.ListDisks("vm1")
	if !strings.HasSuffix(disks[0].Source, ".qcow2") {
		t.Fatalf("device left on %q after cycle", disks[0].Source)
	}
}

func TestBackupDeviceStoppedDomainReadsDirectly(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "quiescent disk")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateStopped, virt.Disk{Target: "vda", Source: base, Format: "qcow2", Device: "disk"})
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateStopped},
		virt.Disk{Target: "vda", Source: base, Format: "qcow2", Device: "disk"})
	if err != nil {
		t.Fatalf("BackupDevice: %v", err)
	}
	if len(vc.Calls) != 0 {
		t.Fatalf("stopped domain must see no snapshot/commit calls, got %v", vc.Calls)
	}
	if string(store.Entries["vm1-vda-2024-03-01T01:00:00"]) != "quiescent disk" {
		t.Fatal("backing file was not exported directly")
	}
}

func TestBackupDeviceCrashRecoveryCommitsFirst(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "recovered base")
	overlay := filepath.Join(dir, "vm1.backup")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: overlay, Format: "qcow2", Device: "disk"})
	vc.OnCommit = func(domain, target string) { vc.SetDiskSource(domain, target, base) }
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: overlay, Format: "qcow2", Device: "disk"})
	if err != nil {
		t.Fatalf("BackupDevice with crash recovery: %v", err)
	}

	// Recovery commit runs before any new snapshot; the normal cycle follows.
	if len(vc.Calls) != 3 {
		t.Fatalf("calls = %v", vc.Calls)
	}
	if !strings.HasPrefix(vc.Calls[0], "commit ") {
		t.Fatalf("first call must be the recovery commit, got %q", vc.Calls[0])
	}
	if !strings.HasPrefix(vc.Calls[1], "snapshot ") || !strings.HasPrefix(vc.Calls[2], "commit ") {
		t.Fatalf("expected snapshot then commit after recovery, got %v", vc.Calls)
	}
	if string(store.Entries["vm1-vda-2024-03-01T01:00:00"]) != "recovered base" {
		t.Fatal("recovered base was not exported")
	}
}

func TestBackupDeviceCrashRecoveryMissingBase(t *testing.T) {
	dir := t.TempDir()
	overlay := writeImage(t, dir, "vm1.backup", "orphan overlay")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: overlay, Format: "qcow2", Device: "disk"})
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: overlay, Format: "qcow2", Device: "disk"})
	if !errors.Is(err, ErrCorruptChain) {
		t.Fatalf("err = %v, want ErrCorruptChain", err)
	}
	if len(store.Calls) != 0 {
		t.Fatalf("no archive calls expected on corrupt chain, got %v", store.Calls)
	}
}

func TestBackupDeviceSnapshotFailureIsFatalWithoutCommit(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "content")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: base, Device: "disk"})
	vc.SnapshotErr = errors.New("boom")
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: base, Device: "disk"})
	if !errors.Is(err, ErrSnapshotCreate) {
		t.Fatalf("err = %v, want ErrSnapshotCreate", err)
	}
	if len(vc.CommitCalls()) != 0 {
		t.Fatal("no commit is owed when the snapshot never existed")
	}
	if len(store.Calls) != 0 {
		t.Fatalf("no archive calls expected, got %v", store.Calls)
	}
}

func TestBackupDeviceExportFailureStillCommits(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "content")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: base, Device: "disk"})
	store := archive.NewFake()
	store.CreateErr = errors.New("archive down")
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: base, Device: "disk"})
	if !errors.Is(err, ErrExport) {
		t.Fatalf("err = %v, want ErrExport", err)
	}
	if len(vc.CommitCalls()) != 1 {
		t.Fatalf("commit must still run after a failed export, calls = %v", vc.Calls)
	}
}

func TestBackupDevicePruneFailureStillCommits(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "content")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: base, Device: "disk"})
	store := archive.NewFake()
	store.PruneErr = errors.New("retention exploded")
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: base, Device: "disk"})
	if !errors.Is(err, ErrPrune) {
		t.Fatalf("err = %v, want ErrPrune", err)
	}
	if len(vc.CommitCalls()) != 1 {
		t.Fatalf("commit must still run after a failed prune, calls = %v", vc.Calls)
	}
}

func TestBackupDeviceCommitFailureOutranksExportFailure(t *testing.T) {
	dir := t.TempDir()
	base := writeImage(t, dir, "vm1.qcow2", "content")

	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning, virt.Disk{Target: "vda", Source: base, Device: "disk"})
	vc.CommitErr = errors.New("pivot refused")
	store := archive.NewFake()
	store.CreateErr = errors.New("archive down")
	c := newTestCoordinator(vc, store)

	err := c.BackupDevice(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning},
		virt.Disk{Target: "vda", Source: base, Device: "disk"})
	if !errors.Is(err, ErrCommit) {
		t.Fatalf("err = %v, want ErrCommit", err)
	}
}

func TestBackupDomainConfig(t *testing.T) {
	vc := virt.NewFake()
	vc.AddDomain("vm1", virt.StateRunning)
	store := archive.NewFake()
	c := newTestCoordinator(vc, store)

	if err := c.BackupDomainConfig(context.Background(), virt.Domain{Name: "vm1", State: virt.StateRunning}); err != nil {
		t.Fatalf("BackupDomainConfig: %v", err)
	}
	key := "vm1-xml-2024-03-01T01:00:00"
	if !strings.Contains(string(store.Entries[key]), "<name>vm1</name>") {
		t.Fatalf("descriptor entry missing, entries = %v", store.Entries)
	}
	if store.Calls[1] != "prune vm1-xml-*" {
		t.Fatalf("expected xml-scoped prune, calls = %v", store.Calls)
	}
}

func TestOverlayPath(t *testing.T) {
	c := &Coordinator{BaseExtension: ".qcow2", OverlaySuffix: ".backup"}
	cases := map[string]string{
		"/data/vm1.qcow2": "/data/vm1.backup",
		"/data/vm1.raw":   "/data/vm1.backup",
	}
	for source, want := range cases {
		if got := c.overlayPath(source); got != want {
			t.Fatalf("overlayPath(%q) = %q, want %q", source, got, want)
		}
	}
}
