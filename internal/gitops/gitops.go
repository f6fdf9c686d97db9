// Package gitops wraps the git CLI for the read-only operations the
// scope pipeline needs: revision resolution, baseline diffs, and
// depth-limited fetches. All commands run non-interactively; git is
// never allowed to prompt for credentials.
package gitops

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Git runs git commands against a single repository.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string

	// repoDir is the repository working directory for all commands
	repoDir string
}

// New creates a new Git instance rooted at repoDir.
// It verifies that git is available on the system.
func New(ctx context.Context, repoDir string) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	if repoDir == "" {
		repoDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
	}

	return &Git{gitPath: gitPath, repoDir: repoDir}, nil
}

// output runs a git command and returns its trimmed stdout.
// GIT_TERMINAL_PROMPT=0 guarantees git fails instead of prompting.
func (g *Git) output(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", g.repoDir}, args...)
	cmd := exec.CommandContext(ctx, g.gitPath, fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s failed in %s: %w", args[0], g.repoDir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether repoDir is inside a git repository.
func (g *Git) IsRepo(ctx context.Context) bool {
	_, err := g.output(ctx, "rev-parse", "--git-dir")
	return err == nil
}

// RepoRoot returns the absolute path to the repository root.
func (g *Git) RepoRoot(ctx context.Context) (string, error) {
	root, err := g.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", fmt.Errorf("failed to locate repository root: %w", err)
	}
	return root, nil
}

// RevParse resolves a revision reference to a full commit hash.
func (g *Git) RevParse(ctx context.Context, ref string) (string, error) {
	hash, err := g.output(ctx, "rev-parse", "--verify", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("cannot resolve revision %q: %w", ref, err)
	}
	return hash, nil
}

// HasRevision reports whether ref resolves to a commit in the local repository.
func (g *Git) HasRevision(ctx context.Context, ref string) bool {
	_, err := g.RevParse(ctx, ref)
	return err == nil
}

// HasHistory reports whether the repository has at least one commit.
func (g *Git) HasHistory(ctx context.Context) bool {
	return g.HasRevision(ctx, "HEAD")
}

// CurrentBranch returns the current branch name, or an empty string
// when HEAD is detached.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	branch, err := g.output(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	if branch == "HEAD" {
		return "", nil
	}
	return branch, nil
}

// DiffNameOnly returns the sorted list of paths changed between base
// and head, compared from their merge base (three-dot semantics), which
// is what affected-scope analysis wants on a feature branch.
func (g *Git) DiffNameOnly(ctx context.Context, base, head string) ([]string, error) {
	out, err := g.output(ctx, "diff", "--name-only", base+"..."+head)
	if err != nil {
		return nil, fmt.Errorf("diff %s...%s failed: %w", base, head, err)
	}

	var paths []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			paths = append(paths, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse diff output: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// FetchShallow fetches a single ref at depth 1 so the baseline becomes
// diffable locally. Remote-tracking refs like "origin/main" are split
// into remote and branch; anything else is fetched from origin as-is.
// Returns false on any failure; the caller falls back rather than fails.
func (g *Git) FetchShallow(ctx context.Context, ref string) bool {
	remote := "origin"
	target := ref
	if remoteName, rest, ok := strings.Cut(ref, "/"); ok {
		remote = remoteName
		target = rest
	}

	fullArgs := []string{"-C", g.repoDir, "fetch", "--depth=1", remote, target}
	cmd := exec.CommandContext(ctx, g.gitPath, fullArgs...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.Run() == nil
}
