package sync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// newClone returns a clone of a fresh bare repository with one commit on
// main already pushed. The clone has no user identity configured.
func newClone(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	origin := filepath.Join(t.TempDir(), "origin.git")
	git(t, "", "init", "--bare", "--initial-branch=main", origin)

	clone := filepath.Join(t.TempDir(), "clone")
	git(t, "", "clone", origin, clone)
	git(t, clone, "symbolic-ref", "HEAD", "refs/heads/main")
	if err := os.WriteFile(filepath.Join(clone, "README"), []byte("backups\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git(t, clone, "add", "README")
	git(t, clone, "-c", "user.name=t", "-c", "user.email=t@example.com", "commit", "-m", "init")
	git(t, clone, "push", "origin", "main")
	return clone
}

// git runs git in dir and returns trimmed stdout.
func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = string(ee.Stderr)
		}
		t.Fatalf("git %s: %v %s", strings.Join(args, " "), err, stderr)
	}
	return strings.TrimSpace(string(out))
}

func readBackup(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	return string(b)
}

func TestGitDestination_CommitsAndPushes(t *testing.T) {
	clone := newClone(t)
	dest := NewGitDestination(clone, "panels.jsonl", "main")
	ctx := context.Background()

	first := &Snapshot{Data: []byte(`{"type":"header"}` + "\n"), Dashboards: 1, Digest: "0123456789abcdef"}
	if err := dest.Write(ctx, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if got := readBackup(t, filepath.Join(clone, "panels.jsonl")); got != string(first.Data) {
		t.Fatalf("backup = %q", got)
	}
	if msg := git(t, clone, "log", "-1", "--format=%s"); msg != "backup: 1 dashboards, 0 components (0123456789ab)" {
		t.Fatalf("commit message = %q", msg)
	}
	if author := git(t, clone, "log", "-1", "--format=%an <%ae>"); author != "panels <panels@localhost>" {
		t.Fatalf("author = %q", author)
	}
	if local, remote := git(t, clone, "rev-parse", "HEAD"), git(t, clone, "rev-parse", "origin/main"); local != remote {
		t.Fatalf("HEAD %s not pushed (origin/main %s)", local, remote)
	}
}

func TestGitDestination_UnchangedMakesNoCommit(t *testing.T) {
	clone := newClone(t)
	dest := NewGitDestination(clone, "panels.jsonl", "main")
	ctx := context.Background()
	snap := &Snapshot{Data: []byte("{}\n")}

	if err := dest.Write(ctx, snap); err != nil {
		t.Fatal(err)
	}
	head := git(t, clone, "rev-parse", "HEAD")
	if err := dest.Write(ctx, snap); err != nil {
		t.Fatalf("repeat write: %v", err)
	}
	if again := git(t, clone, "rev-parse", "HEAD"); again != head {
		t.Fatal("identical snapshot made a commit")
	}

	if err := dest.Write(ctx, &Snapshot{Data: []byte("{\"changed\":true}\n"), Components: 3}); err != nil {
		t.Fatal(err)
	}
	if git(t, clone, "rev-parse", "HEAD") == head {
		t.Fatal("changed snapshot was not committed")
	}
	if n := git(t, clone, "rev-list", "--count", "HEAD"); n != "3" {
		t.Fatalf("commit count = %s, want 3", n)
	}
}

func TestGitDestination_NestedFile(t *testing.T) {
	clone := newClone(t)
	dest := NewGitDestination(clone, "backups/nightly/panels.jsonl", "main")

	if err := dest.Write(context.Background(), &Snapshot{Data: []byte("{}\n")}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := readBackup(t, filepath.Join(clone, "backups", "nightly", "panels.jsonl")); got != "{}\n" {
		t.Fatalf("backup = %q", got)
	}
	if want := "git:" + filepath.Join(clone, "backups/nightly/panels.jsonl"); dest.Name() != want {
		t.Fatalf("Name() = %q, want %q", dest.Name(), want)
	}
}

func TestGitDestination_UnknownBranch(t *testing.T) {
	clone := newClone(t)
	dest := NewGitDestination(clone, "panels.jsonl", "release")

	err := dest.Write(context.Background(), &Snapshot{Data: []byte("{}\n")})
	if err == nil || !strings.HasPrefix(err.Error(), "git checkout") {
		t.Fatalf("err = %v, want git checkout failure", err)
	}
	if _, statErr := os.Stat(filepath.Join(clone, "panels.jsonl")); !os.IsNotExist(statErr) {
		t.Fatal("backup written despite checkout failure")
	}
}

func TestCommitMessage(t *testing.T) {
	tests := []struct {
		snap Snapshot
		want string
	}{
		{Snapshot{Dashboards: 2, Components: 5}, "backup: 2 dashboards, 5 components"},
		{Snapshot{Digest: "abc"}, "backup: 0 dashboards, 0 components"},
		{Snapshot{Dashboards: 1, Digest: "ffffffffffffffff"}, "backup: 1 dashboards, 0 components (ffffffffffff)"},
	}
	for _, tt := range tests {
		if got := commitMessage(&tt.snap); got != tt.want {
			t.Errorf("commitMessage(%+v) = %q, want %q", tt.snap, got, tt.want)
		}
	}
}
