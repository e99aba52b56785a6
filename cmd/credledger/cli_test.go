package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

type result struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, dir string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	argv := append([]string{"credledger", "--dir", dir}, args...)
	code := run(argv, &stdout, &stderr)
	return result{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	res := runCLI(t, dir, args...)
	if res.code != 0 {
		t.Fatalf("%v exited %d: %s", args, res.code, res.stderr)
	}
	return res.stdout
}

func initLedger(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	out := mustRun(t, dir, "blockchain", "init")
	if !strings.Contains(out, "Initialized new blockchain") {
		t.Fatalf("unexpected init output: %q", out)
	}
	return dir
}

func TestBlockchainInitCreatesFiles(t *testing.T) {
	dir := initLedger(t)
	for _, name := range []string{"blockchain.json", "block.json", "credentials.json", "issuers.json", "subjects.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing file %s: %v", name, err)
		}
	}
	res := runCLI(t, dir, "blockchain", "init")
	if res.code == 0 || !strings.Contains(res.stderr, "--force") {
		t.Fatalf("expected re-init to be refused, got %d %q", res.code, res.stderr)
	}
	mustRun(t, dir, "blockchain", "init", "--force")
}

func TestIssuerAndSubjectListing(t *testing.T) {
	dir := initLedger(t)
	if out := mustRun(t, dir, "issuers", "add", "TestIssuer"); !strings.Contains(out, "Created new issuer") {
		t.Fatalf("unexpected output: %q", out)
	}
	if out := mustRun(t, dir, "issuers", "list"); !strings.Contains(out, "0: TestIssuer") {
		t.Fatalf("expected issuer listing, got %q", out)
	}
	if out := mustRun(t, dir, "subjects", "add", "John", "Doe"); !strings.Contains(out, "Created new subject") {
		t.Fatalf("unexpected output: %q", out)
	}
	out := mustRun(t, dir, "subjects", "list")
	if !strings.Contains(out, "John") || !strings.Contains(out, "Doe") {
		t.Fatalf("expected subject listing, got %q", out)
	}
}

func TestIssueFinalizeVerifyRevoke(t *testing.T) {
	dir := initLedger(t)
	mustRun(t, dir, "issuers", "add", "Gov")
	mustRun(t, dir, "subjects", "add", "Alice", "Smith")
	out := mustRun(t, dir, "credentials", "add", "0", "0", "age_over_18", "true", "2020-01-01", "--description", "checked passport")
	if !strings.Contains(out, "Created new credential") {
		t.Fatalf("unexpected output: %q", out)
	}
	list := mustRun(t, dir, "credentials", "list")
	if !strings.Contains(list, "age_over_18=true") || !strings.Contains(list, "checked passport") {
		t.Fatalf("unexpected credential listing: %q", list)
	}

	if out := mustRun(t, dir, "blockchain", "verify", "0"); !strings.Contains(out, "not_found") {
		t.Fatalf("expected not_found before inclusion, got %q", out)
	}

	mustRun(t, dir, "block", "new", "0")
	mustRun(t, dir, "block", "add", "0")
	if out := mustRun(t, dir, "block", "display"); !strings.Contains(out, "age_over_18=true") {
		t.Fatalf("expected staged credential, got %q", out)
	}
	mustRun(t, dir, "block", "finalize")

	if out := mustRun(t, dir, "blockchain", "verify", "0"); !strings.Contains(out, "valid") || strings.Contains(out, "revoked") {
		t.Fatalf("expected valid credential, got %q", out)
	}

	mustRun(t, dir, "block", "new", "0")
	mustRun(t, dir, "block", "revoke", "0", "--reason", "superseded")
	mustRun(t, dir, "block", "finalize")

	out = mustRun(t, dir, "blockchain", "verify", "0")
	if !strings.Contains(out, "revoked") || !strings.Contains(out, "superseded") {
		t.Fatalf("expected revoked credential, got %q", out)
	}
	if out := mustRun(t, dir, "blockchain", "validate"); !strings.Contains(out, "Blockchain is valid (2 blocks") {
		t.Fatalf("unexpected validate output: %q", out)
	}
	display := mustRun(t, dir, "blockchain", "display")
	if !strings.Contains(display, "Block 0") || !strings.Contains(display, "Block 1") {
		t.Fatalf("unexpected display output: %q", display)
	}
}

func TestVerifyExpiredAndAt(t *testing.T) {
	dir := initLedger(t)
	mustRun(t, dir, "issuers", "add", "Gov")
	mustRun(t, dir, "subjects", "add", "Alice", "Smith")
	mustRun(t, dir, "credentials", "add", "0", "0", "student", "yes", "2020-01-01", "2020-12-31")
	mustRun(t, dir, "block", "new", "0")
	mustRun(t, dir, "block", "add", "0")
	mustRun(t, dir, "block", "finalize")

	if out := mustRun(t, dir, "blockchain", "verify", "0"); !strings.Contains(out, "expired") {
		t.Fatalf("expected expired, got %q", out)
	}
	if out := mustRun(t, dir, "blockchain", "verify", "0", "--at", "2020-06-01"); !strings.Contains(out, "Result: valid") {
		t.Fatalf("expected valid at mid-2020, got %q", out)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := initLedger(t)
	mustRun(t, dir, "issuers", "add", "Gov")
	mustRun(t, dir, "subjects", "add", "Alice", "Smith")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown issuer index", args: []string{"block", "new", "5"}, want: "no issuer"},
		{name: "finalize without block", args: []string{"block", "finalize"}, want: "no open block"},
		{name: "inverted range", args: []string{"credentials", "add", "0", "0", "a", "b", "2026-02-01", "2026-01-01"}, want: "invalid validity range"},
		{name: "bad date", args: []string{"credentials", "add", "0", "0", "a", "b", "yesterday"}, want: "parse from"},
		{name: "unknown credential", args: []string{"blockchain", "verify", "9"}, want: "no credential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, dir, tt.args...)
			if res.code == 0 {
				t.Fatalf("expected failure, got success: %q", res.stdout)
			}
			if !strings.Contains(res.stderr, tt.want) {
				t.Fatalf("expected %q in stderr, got %q", tt.want, res.stderr)
			}
		})
	}

	res := runCLI(t, dir, "nonsense", "cmd")
	if res.code == 0 || !strings.Contains(res.stderr, "usage:") {
		t.Fatalf("expected usage, got %d %q", res.code, res.stderr)
	}
}

func TestUninitializedDirectory(t *testing.T) {
	res := runCLI(t, t.TempDir(), "issuers", "list")
	if res.code == 0 || !strings.Contains(res.stderr, "blockchain init") {
		t.Fatalf("expected init hint, got %d %q", res.code, res.stderr)
	}
}

func TestReferencesAcceptIDs(t *testing.T) {
	dir := initLedger(t)
	out := mustRun(t, dir, "issuers", "add", "Gov")
	start := strings.LastIndex(out, "(")
	end := strings.LastIndex(out, ")")
	if start < 0 || end <= start {
		t.Fatalf("cannot find issuer id in %q", out)
	}
	id := out[start+1 : end]
	if out := mustRun(t, dir, "block", "new", id); !strings.Contains(out, "signed by Gov") {
		t.Fatalf("unexpected output: %q", out)
	}
}
