// Package revision determines the comparison baseline and head for an
// invocation. Resolution never fails: when no better source is
// available it falls through to the conventional default branch.
package revision

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultBase is the baseline used when nothing else is configured.
const DefaultBase = "origin/main"

// PointerFileName is the persisted upstream pointer file read from the
// repository root. It contains a single revision reference string and
// is never written by this tool.
const PointerFileName = ".scopeguard-base"

// Source identifies which rung of the precedence chain produced the base.
type Source string

const (
	// SourceOverride means the caller supplied the base explicitly.
	SourceOverride Source = "override"

	// SourceCI means a CI-provided base branch variable was used.
	SourceCI Source = "ci"

	// SourcePointerFile means the persisted upstream pointer file was used.
	SourcePointerFile Source = "pointer-file"

	// SourceDefault means resolution fell through to DefaultBase.
	SourceDefault Source = "default"
)

// Ref is the immutable base/head pair for one invocation.
type Ref struct {
	Base   string
	Head   string
	Source Source
}

// Resolver picks the baseline with precedence: explicit override, CI
// base branch, pointer file, default. Head defaults to HEAD.
type Resolver struct {
	// OverrideBase and OverrideHead come from flags or environment.
	OverrideBase string
	OverrideHead string

	// CIBase is the CI-supplied base branch name, e.g. GITHUB_BASE_REF.
	// It is normalized to a remote-tracking ref if not already qualified.
	CIBase string

	// RepoRoot is where the pointer file is looked up.
	RepoRoot string

	// DefaultBaseBranch replaces DefaultBase as the last-resort
	// baseline, typically from the repository config file.
	DefaultBaseBranch string

	// Log receives informational messages about the fallthrough; nil
	// disables logging.
	Log io.Writer
}

// Resolve returns the base/head pair. It never fails.
func (r *Resolver) Resolve() Ref {
	head := r.OverrideHead
	if head == "" {
		head = "HEAD"
	}

	if r.OverrideBase != "" {
		return Ref{Base: r.OverrideBase, Head: head, Source: SourceOverride}
	}

	if r.CIBase != "" {
		base := normalizeCIBase(r.CIBase)
		r.logf("using CI base branch %s", base)
		return Ref{Base: base, Head: head, Source: SourceCI}
	}

	if base := r.readPointerFile(); base != "" {
		r.logf("using upstream pointer %s from %s", base, PointerFileName)
		return Ref{Base: base, Head: head, Source: SourcePointerFile}
	}

	base := r.DefaultBaseBranch
	if base == "" {
		base = DefaultBase
	}
	r.logf("no base configured, defaulting to %s", base)
	return Ref{Base: base, Head: head, Source: SourceDefault}
}

// readPointerFile returns the first non-empty line of the pointer file,
// or an empty string when the file is absent or unreadable.
func (r *Resolver) readPointerFile() string {
	if r.RepoRoot == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(r.RepoRoot, PointerFileName))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if ref := strings.TrimSpace(line); ref != "" {
			return ref
		}
	}
	return ""
}

// normalizeCIBase qualifies a bare branch name as a remote-tracking ref.
// CI systems hand out names like "main"; diffing wants "origin/main".
func normalizeCIBase(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.TrimPrefix(branch, "refs/heads/")
	if strings.Contains(branch, "/") {
		return branch
	}
	return "origin/" + branch
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.Log == nil {
		return
	}
	fmt.Fprintf(r.Log, "revision: "+format+"\n", args...)
}
