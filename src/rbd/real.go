package rbd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"

	"github.com/tidwall/gjson"
)

// CLIClient implements Client by shelling out to the rbd binary.
type CLIClient struct {
	// Binary is the rbd executable, resolved via PATH when left empty.
	Binary string
	// Pool scopes every operation.
	Pool string
}

var _ Client = (*CLIClient)(nil)

func (c *CLIClient) bin() string {
	if c.Binary != "" {
		return c.Binary
	}
	return "rbd"
}

func (c *CLIClient) spec(image string) string {
	return c.Pool + "/" + image
}

func (c *CLIClient) ListImages(ctx context.Context) ([]string, error) {
	stdout, stderr, err := c.run(ctx, "ls", "--pool", c.Pool, "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("rbd: list images in %s: %w: %s", c.Pool, err, stderr)
	}
	parsed := gjson.ParseBytes(stdout)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("rbd: unexpected ls output for %s: %s", c.Pool, stdout)
	}
	var names []string
	parsed.ForEach(func(_, value gjson.Result) bool {
		names = append(names, value.String())
		return true
	})
	return names, nil
}

func (c *CLIClient) ListSnapshots(ctx context.Context, image string) ([]string, error) {
	stdout, stderr, err := c.run(ctx, "snap", "ls", c.spec(image), "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("rbd: list snapshots of %s: %w: %s", c.spec(image), err, stderr)
	}
	parsed := gjson.ParseBytes(stdout)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("rbd: unexpected snap ls output for %s: %s", c.spec(image), stdout)
	}
	type snap struct {
		id   int64
		name string
	}
	var snaps []snap
	parsed.ForEach(func(_, value gjson.Result) bool {
		snaps = append(snaps, snap{id: value.Get("id").Int(), name: value.Get("name").String()})
		return true
	})
	// Snapshot ids are monotonically assigned; ascending id is oldest first.
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].id < snaps[j].id })
	names := make([]string, len(snaps))
	for i, s := range snaps {
		names[i] = s.name
	}
	return names, nil
}

func (c *CLIClient) CreateSnapshot(ctx context.Context, image, snapshot string) error {
	if _, stderr, err := c.run(ctx, "snap", "create", c.spec(image)+"@"+snapshot); err != nil {
		return fmt.Errorf("rbd: create snapshot %s@%s: %w: %s", c.spec(image), snapshot, err, stderr)
	}
	return nil
}

func (c *CLIClient) DeleteSnapshot(ctx context.Context, image, snapshot string) error {
	if _, stderr, err := c.run(ctx, "snap", "rm", c.spec(image)+"@"+snapshot); err != nil {
		return fmt.Errorf("rbd: delete snapshot %s@%s: %w: %s", c.spec(image), snapshot, err, stderr)
	}
	return nil
}

func (c *CLIClient) ExportSnapshot(ctx context.Context, image, snapshot string) (io.ReadCloser, error) {
	spec := c.spec(image) + "@" + snapshot
	cmd := exec.CommandContext(ctx, c.bin(), "export", spec, "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("rbd: capture export stdout for %s: %w", spec, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("rbd: start export %s: %w", spec, err)
	}
	return &exportStream{spec: spec, r: stdout, cmd: cmd, stderr: &stderr}, nil
}

// exportStream defers the export's exit status to Close so a dying rbd
// process cannot pass off a truncated stream as success.
type exportStream struct {
	spec   string
	r      io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
	closed bool
	err    error
}

func (s *exportStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *exportStream) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	// Close the pipe before waiting: a caller abandoning the stream
	// mid-export leaves the child blocked writing into a full pipe, and
	// Wait would never return. Closing the read end gives it EPIPE.
	s.r.Close()
	if err := s.cmd.Wait(); err != nil {
		s.err = fmt.Errorf("rbd: export %s: %w: %s", s.spec, err, s.stderr.String())
	}
	return s.err
}

func (c *CLIClient) run(ctx context.Context, args ...string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, c.bin(), args...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()
	return stdoutBuf.Bytes(), stderrBuf.String(), err
}
