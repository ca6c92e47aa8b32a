// Package markdownindex maintains the append-only markdown knowledge index
// and its optional git history, grounded on the teacher's
// internal/infra/markdown/git.go (bare exec.Command wrapper around the git
// CLI, -C/-c flags to avoid touching global config).
package markdownindex

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"pkm-assistant/internal/logging"
)

type gitOperations struct {
	dir    string
	logger logging.Logger
}

func newGitOperations(dir string, logger logging.Logger) *gitOperations {
	return &gitOperations{dir: dir, logger: logging.OrNop(logger)}
}

func (g *gitOperations) init(ctx context.Context) error {
	if g.isRepo() {
		return nil
	}
	_, err := g.run(ctx, "init")
	return err
}

func (g *gitOperations) isRepo() bool {
	info, err := os.Stat(filepath.Join(g.dir, ".git"))
	return err == nil && info.IsDir()
}

func (g *gitOperations) add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := g.run(ctx, args...)
	return err
}

func (g *gitOperations) commit(ctx context.Context, msg string) error {
	_, err := g.run(ctx, "commit", "-m", msg)
	return err
}

func (g *gitOperations) hasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (g *gitOperations) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := []string{
		"-C", g.dir,
		"-c", "user.name=pkm-assistant",
		"-c", "user.email=ingest@pkm-assistant.local",
	}
	fullArgs = append(fullArgs, args...)

	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		g.logger.Debug("git %v failed: %s", args, stderrStr)
		return "", fmt.Errorf("git %s: %s", args[0], stderrStr)
	}
	return stdout.String(), nil
}
