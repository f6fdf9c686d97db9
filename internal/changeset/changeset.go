// Package changeset lists the files changed against the baseline and
// classifies the result as empty, doc-only, or source-relevant.
package changeset

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scopeguard/scopeguard/internal/revision"
)

// ChangeSet is the deterministic (sorted) list of changed paths plus
// its classification against a non-source filter.
type ChangeSet struct {
	// Paths is sorted for reproducibility; order carries no meaning.
	Paths []string

	// SourceRelevant is true iff at least one path survives the
	// non-source filter.
	SourceRelevant bool
}

// Empty reports whether no changed paths were found.
func (cs *ChangeSet) Empty() bool {
	return len(cs.Paths) == 0
}

// DocOnly reports whether there are changes but none of them are
// source-relevant. Doc-only change sets are safe to skip for
// build/test/lint/typecheck targets.
func (cs *ChangeSet) DocOnly() bool {
	return len(cs.Paths) > 0 && !cs.SourceRelevant
}

// Classifier decides which paths cannot affect build output.
type Classifier struct {
	// NonSourceSuffixes are file suffixes excluded from source
	// relevance, e.g. ".md".
	NonSourceSuffixes []string

	// NonSourceNames are exact basenames excluded from source
	// relevance, e.g. "LICENSE".
	NonSourceNames []string
}

// DefaultClassifier returns the stock documentation filter.
func DefaultClassifier() Classifier {
	return Classifier{
		NonSourceSuffixes: []string{".md", ".markdown", ".txt", ".rst", ".adoc"},
		NonSourceNames:    []string{"LICENSE", "NOTICE", "CODEOWNERS", "AUTHORS"},
	}
}

// IsSource reports whether a single path is source-relevant.
func (c Classifier) IsSource(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range c.NonSourceSuffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return false
		}
	}
	base := filepath.Base(path)
	for _, name := range c.NonSourceNames {
		if base == name {
			return false
		}
	}
	return true
}

// Classify builds a ChangeSet from raw diff paths.
func (c Classifier) Classify(paths []string) *ChangeSet {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	cs := &ChangeSet{Paths: sorted}
	for _, p := range sorted {
		if c.IsSource(p) {
			cs.SourceRelevant = true
			break
		}
	}
	return cs
}

// VersionControl is the narrow slice of git the provider needs.
type VersionControl interface {
	DiffNameOnly(ctx context.Context, base, head string) ([]string, error)
	HasRevision(ctx context.Context, ref string) bool
	FetchShallow(ctx context.Context, ref string) bool
}

// Provider produces the ChangeSet for a revision pair.
type Provider struct {
	VCS        VersionControl
	Classifier Classifier

	// AllowFetch permits a best-effort depth-limited fetch of a missing
	// baseline. Disabled in restricted network environments.
	AllowFetch bool

	// Log receives informational messages; nil disables logging.
	Log io.Writer
}

// Diff lists the files changed between ref.Base and ref.Head. If the
// baseline is not reachable locally it attempts one shallow fetch; if
// that is disabled or fails, it returns an empty change set. An empty
// change set is a signal to fall back, never an error.
func (p *Provider) Diff(ctx context.Context, ref revision.Ref) *ChangeSet {
	if !p.VCS.HasRevision(ctx, ref.Base) {
		if !p.AllowFetch {
			p.logf("baseline %s not available locally and fetch is disabled", ref.Base)
			return p.Classifier.Classify(nil)
		}
		p.logf("baseline %s not available locally, fetching (depth-limited)", ref.Base)
		if !p.VCS.FetchShallow(ctx, ref.Base) {
			p.logf("fetch of %s failed, returning empty change set", ref.Base)
			return p.Classifier.Classify(nil)
		}
	}

	paths, err := p.VCS.DiffNameOnly(ctx, ref.Base, ref.Head)
	if err != nil {
		p.logf("diff %s...%s failed: %v", ref.Base, ref.Head, err)
		return p.Classifier.Classify(nil)
	}
	return p.Classifier.Classify(paths)
}

func (p *Provider) logf(format string, args ...interface{}) {
	if p.Log == nil {
		return
	}
	fmt.Fprintf(p.Log, "changeset: "+format+"\n", args...)
}
