package cli

import (
	"bytes"
	"strings"
	"testing"

	"virt-backup/src/version"
)

func TestRootHelpListsSubcommands(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"--help"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute --help: %v", err)
	}
	out := stdout.String()
	for _, want := range []string{"backup", "list", "prune", "check", "version"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute version: %v", err)
	}
	if got := strings.TrimSpace(stdout.String()); got != version.Version {
		t.Fatalf("version output = %q, want %q", got, version.Version)
	}
}

func TestUnknownCommandFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"restore"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for unknown subcommand")
	}
}

func TestBackupDomainsRejectsExtraArgs(t *testing.T) {
	var stdout, stderr bytes.Buffer
	root := NewRootCmd(&stdout, &stderr)
	root.SetArgs([]string{"backup", "domains", "vm1", "vm2"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected error for more than one domain argument")
	}
}

func TestConfirm(t *testing.T) {
	cases := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"yes\n", true},
		{"Y\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		got, err := confirm(strings.NewReader(tc.input), &out, "Proceed?")
		if err != nil {
			t.Fatalf("confirm(%q): %v", tc.input, err)
		}
		if got != tc.want {
			t.Fatalf("confirm(%q) = %v, want %v", tc.input, got, tc.want)
		}
		if !strings.Contains(out.String(), "Proceed? [y/N]:") {
			t.Fatalf("prompt not written: %q", out.String())
		}
	}
}
