package rbd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// fakeRBD writes a shell script standing in for the rbd binary and returns
// its path.
func fakeRBD(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rbd")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake rbd: %v", err)
	}
	return path
}

func TestExportStreamCloseUnblocksAbandonedExport(t *testing.T) {
	// Emit far more than a pipe buffer holds so the child blocks writing
	// once the reader stops draining.
	bin := fakeRBD(t, "head -c 4194304 /dev/zero")
	client := &CLIClient{Binary: bin, Pool: "rbd"}

	rc, err := client.ExportSnapshot(context.Background(), "vm1", "backup-20240301T010000")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	buf := make([]byte, 1024)
	if _, err := io.ReadFull(rc, buf); err != nil {
		t.Fatalf("reading export prefix: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- rc.Close() }()

	select {
	case <-done:
		// The stream was abandoned mid-export, so any exit status the
		// child reports is acceptable; what matters is that Close
		// returned at all.
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return while the export child was still writing")
	}
}

func TestExportStreamCloseReportsCleanExit(t *testing.T) {
	bin := fakeRBD(t, "printf data")
	client := &CLIClient{Binary: bin, Pool: "rbd"}

	rc, err := client.ExportSnapshot(context.Background(), "vm1", "backup-20240301T010000")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if string(got) != "data" {
		t.Fatalf("export payload = %q, want %q", got, "data")
	}
	if err := rc.Close(); err != nil {
		t.Fatalf("Close after full read: %v", err)
	}
}

func TestExportStreamCloseReportsFailedExit(t *testing.T) {
	bin := fakeRBD(t, "echo 'export failed' >&2; exit 2")
	client := &CLIClient{Binary: bin, Pool: "rbd"}

	rc, err := client.ExportSnapshot(context.Background(), "vm1", "backup-20240301T010000")
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}
	if _, err := io.ReadAll(rc); err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if err := rc.Close(); err == nil {
		t.Fatal("expected Close to surface the non-zero exit status")
	}
}
