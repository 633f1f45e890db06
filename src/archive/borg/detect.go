package borg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RequiredVersion is the minimum borg release we support; --glob-archives and
// compact both exist from the 1.2 line onward.
const RequiredVersion = "1.2.0"

// BinaryInfo describes a detected borg CLI binary.
type BinaryInfo struct {
	Path    string
	Version string
}

var versionRegexp = regexp.MustCompile(`borg\s+([0-9]+\.[0-9]+\.[0-9]+(?:[a-z][0-9]+)?)`)

// Detect locates the borg binary on PATH and queries its version. The context
// bounds the version subprocess.
func Detect(ctx context.Context) (BinaryInfo, error) {
	exe, err := exec.LookPath("borg")
	if err != nil {
		return BinaryInfo{}, fmt.Errorf("borg binary not found on PATH: %w", err)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, exe, "--version")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return BinaryInfo{}, fmt.Errorf("borg: version command failed: %w", err)
	}
	ver, err := ExtractVersion(out.String())
	if err != nil {
		return BinaryInfo{}, err
	}
	return BinaryInfo{Path: exe, Version: ver}, nil
}

// ExtractVersion derives the borg version string from `borg --version`
// output. Exposed for testing.
func ExtractVersion(output string) (string, error) {
	if matches := versionRegexp.FindStringSubmatch(output); len(matches) == 2 {
		return matches[1], nil
	}
	return "", fmt.Errorf("borg: could not parse version from %q", strings.TrimSpace(output))
}

// IsCompatible reports whether version satisfies RequiredVersion.
func IsCompatible(version string) bool {
	left, ok := parseVersion(version)
	if !ok {
		return false
	}
	right, _ := parseVersion(RequiredVersion)
	return !left.less(right)
}

type semVersion struct {
	major, minor, patch int
}

func (a semVersion) less(b semVersion) bool {
	if a.major != b.major {
		return a.major < b.major
	}
	if a.minor != b.minor {
		return a.minor < b.minor
	}
	return a.patch < b.patch
}

func parseVersion(s string) (semVersion, bool) {
	// Drop pre-release tails like 2.0.0b8.
	core := strings.TrimSpace(s)
	if i := strings.IndexFunc(core, func(r rune) bool { return r != '.' && (r < '0' || r > '9') }); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return semVersion{}, false
	}
	var v semVersion
	var err error
	if v.major, err = strconv.Atoi(parts[0]); err != nil {
		return semVersion{}, false
	}
	if v.minor, err = strconv.Atoi(parts[1]); err != nil {
		return semVersion{}, false
	}
	if v.patch, err = strconv.Atoi(parts[2]); err != nil {
		return semVersion{}, false
	}
	return v, true
}
