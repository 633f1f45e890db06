// Package borg wraps the external borg binary behind the archive.Store
// contract. Every exit status is surfaced to the caller; no retries happen
// here.
package borg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"virt-backup/src/archive"
)

// Repo is an archive.Store backed by one borg repository.
type Repo struct {
	Bin        BinaryInfo
	Location   string
	Passphrase string
	// NonInteractive answers borg's safety prompts with yes so unattended
	// runs never block on a terminal.
	NonInteractive bool
	// Progress receives borg's own progress/stat output when non-nil.
	Progress io.Writer
}

var _ archive.Store = (*Repo)(nil)

// Create runs `borg create` reading the entry content from the stream.
func (r *Repo) Create(ctx context.Context, key string, src io.Reader) error {
	args := []string{"create", "--stdin-name", key + ".img", "::" + key, "-"}
	cmd := exec.CommandContext(ctx, r.Bin.Path, args...)
	cmd.Env = r.env()
	if r.Progress != nil {
		cmd.Stdout = r.Progress
		cmd.Stderr = r.Progress
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("borg: acquire stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("borg: start create %s: %w", key, err)
	}
	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, src)
		stdin.Close()
		copyErr <- err
	}()
	waitErr := cmd.Wait()
	streamErr := <-copyErr
	// A dying borg breaks the stdin pipe, so the copy error is usually
	// just EPIPE fallout; the exit status carries the real diagnostic.
	if waitErr != nil {
		return fmt.Errorf("borg: create %s: %w", key, waitErr)
	}
	if streamErr != nil {
		return fmt.Errorf("borg: stream entry %s: %w", key, streamErr)
	}
	return nil
}

// Prune applies the keep-counts to archives matching glob. Zero counts are
// omitted so borg never sees --keep-daily 0.
func (r *Repo) Prune(ctx context.Context, glob string, policy archive.Policy) error {
	args := pruneArgs(glob, policy.Daily, policy.Weekly, policy.Monthly)
	if _, stderr, err := r.run(ctx, args, nil); err != nil {
		return fmt.Errorf("borg: prune %s: %w: %s", glob, err, stderr)
	}
	return nil
}

func pruneArgs(glob string, daily, weekly, monthly int) []string {
	args := []string{"prune", "--glob-archives", glob}
	if daily > 0 {
		args = append(args, "--keep-daily", strconv.Itoa(daily))
	}
	if weekly > 0 {
		args = append(args, "--keep-weekly", strconv.Itoa(weekly))
	}
	if monthly > 0 {
		args = append(args, "--keep-monthly", strconv.Itoa(monthly))
	}
	return args
}

// Compact reclaims repository space freed by pruned archives.
func (r *Repo) Compact(ctx context.Context) error {
	if _, stderr, err := r.run(ctx, []string{"compact"}, nil); err != nil {
		return fmt.Errorf("borg: compact: %w: %s", err, stderr)
	}
	return nil
}

// Check runs a repository consistency check.
func (r *Repo) Check(ctx context.Context) error {
	if _, stderr, err := r.run(ctx, []string{"check"}, nil); err != nil {
		return fmt.Errorf("borg: check: %w: %s", err, stderr)
	}
	return nil
}

type listOutput struct {
	Archives []struct {
		Name string `json:"name"`
		Time string `json:"time"`
	} `json:"archives"`
}

// List returns archives matching glob, oldest first.
func (r *Repo) List(ctx context.Context, glob string) ([]archive.Entry, error) {
	args := []string{"list", "--json"}
	if glob != "" {
		args = append(args, "--glob-archives", glob)
	}
	stdout, stderr, err := r.run(ctx, args, nil)
	if err != nil {
		return nil, fmt.Errorf("borg: list: %w: %s", err, stderr)
	}
	entries, err := parseList([]byte(stdout))
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func parseList(data []byte) ([]archive.Entry, error) {
	var out listOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("borg: parse list json: %w", err)
	}
	entries := make([]archive.Entry, 0, len(out.Archives))
	for _, a := range out.Archives {
		ts, err := time.Parse("2006-01-02T15:04:05.000000", a.Time)
		if err != nil {
			// Older borg releases emit second precision.
			ts, err = time.Parse("2006-01-02T15:04:05", a.Time)
		}
		if err != nil {
			return nil, fmt.Errorf("borg: parse archive time %q: %w", a.Time, err)
		}
		entries = append(entries, archive.Entry{Name: a.Name, Time: ts})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Time.Before(entries[j].Time) })
	return entries, nil
}

func (r *Repo) run(ctx context.Context, args []string, stdin io.Reader) (string, string, error) {
	cmd := exec.CommandContext(ctx, r.Bin.Path, args...)
	cmd.Env = r.env()
	if stdin != nil {
		cmd.Stdin = stdin
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()
	return stdoutBuf.String(), stderrBuf.String(), err
}

func (r *Repo) env() []string {
	env := append(os.Environ(), "BORG_REPO="+r.Location)
	if r.Passphrase != "" {
		env = append(env, "BORG_PASSPHRASE="+r.Passphrase)
	}
	if r.NonInteractive {
		env = append(env,
			"BORG_UNKNOWN_UNENCRYPTED_REPO_ACCESS_IS_OK=yes",
			"BORG_RELOCATED_REPO_ACCESS_IS_OK=yes",
		)
	}
	return env
}
