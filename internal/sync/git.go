package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// Commit identity used when the clone has none configured.
const (
	gitAuthorName  = "panels"
	gitAuthorEmail = "panels@localhost"
)

// GitDestination keeps the backup as one file in a local clone and pushes
// each change to origin.
type GitDestination struct {
	clone  string
	file   string // relative to clone
	branch string
	ident  []string // -c flags supplying a commit identity
}

func NewGitDestination(clone, file, branch string) *GitDestination {
	return &GitDestination{clone: clone, file: filepath.Clean(file), branch: branch}
}

func (d *GitDestination) Name() string {
	return "git:" + filepath.Join(d.clone, d.file)
}

// Write brings the branch up to date, replaces the backup file and pushes a
// commit. Nothing is committed when the file already holds the snapshot.
func (d *GitDestination) Write(ctx context.Context, snap *Snapshot) error {
	if d.ident == nil {
		d.ident = []string{
			"-c", "user.name=" + gitConfig(ctx, d.clone, "user.name", gitAuthorName),
			"-c", "user.email=" + gitConfig(ctx, d.clone, "user.email", gitAuthorEmail),
		}
	}
	if _, err := d.run(ctx, "checkout", d.branch); err != nil {
		return err
	}
	// A branch that was never pushed has nothing to pull.
	_, _ = d.run(ctx, "pull", "--ff-only", "origin", d.branch)

	target := filepath.Join(d.clone, d.file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.WriteFile(target, snap.Data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	status, err := d.run(ctx, "status", "--porcelain", "--", d.file)
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}

	if _, err := d.run(ctx, "add", "--", d.file); err != nil {
		return err
	}
	if _, err := d.run(ctx, "commit", "-m", commitMessage(snap)); err != nil {
		return err
	}
	_, err = d.run(ctx, "push", "origin", d.branch)
	return err
}

func commitMessage(snap *Snapshot) string {
	msg := fmt.Sprintf("backup: %d dashboards, %d components", snap.Dashboards, snap.Components)
	if len(snap.Digest) >= 12 {
		msg += " (" + snap.Digest[:12] + ")"
	}
	return msg
}

// run executes git in the clone and returns its trimmed stdout.
func (d *GitDestination) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append(slices.Clone(d.ident), args...)...)
	cmd.Dir = d.clone
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// gitConfig returns the configured value for key, or fallback.
func gitConfig(ctx context.Context, dir, key, fallback string) string {
	cmd := exec.CommandContext(ctx, "git", "config", "--get", key)
	cmd.Dir = dir
	out, err := cmd.Output()
	if v := strings.TrimSpace(string(out)); err == nil && v != "" {
		return v
	}
	return fallback
}
