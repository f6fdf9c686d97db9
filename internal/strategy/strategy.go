// Package strategy decides how much of the monorepo a target run must
// cover: the affected subset, everything (full fallback), or nothing
// (skip). The decision is constructed exactly once and never mutated
// downstream.
package strategy

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/scopeguard/scopeguard/internal/changeset"
	"github.com/scopeguard/scopeguard/internal/focus"
	"github.com/scopeguard/scopeguard/internal/graph"
	"github.com/scopeguard/scopeguard/internal/revision"
)

// Strategy is the terminal state of the selector.
type Strategy string

const (
	// Affected runs the target over the resolved project subset.
	Affected Strategy = "affected"

	// FullFallback runs the target over every project because the
	// minimal scope could not be determined with confidence.
	FullFallback Strategy = "full-fallback"

	// Skip runs nothing; the change set cannot affect the target.
	Skip Strategy = "skip"
)

// Reason explains a Skip or FullFallback. The doc-only and no-affected
// skips are deliberately distinct: doc-only is safe by construction,
// no-affected trusts the graph tool, and telemetry needs to tell them
// apart to catch a systematically wrong graph provider.
type Reason string

const (
	ReasonDocOnly          Reason = "doc-only"
	ReasonNoAffected       Reason = "no-affected"
	ReasonGraphQueryFailed Reason = "graph-query-failed"
	ReasonNoHistory        Reason = "no-history"
	ReasonEmptyDiff        Reason = "empty-diff"
)

// Decision is the single, immutable outcome of an invocation.
type Decision struct {
	Strategy Strategy `json:"strategy"`
	Projects []string `json:"projects,omitempty"`
	Reason   Reason   `json:"reason,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Skipped reports whether no work will run.
func (d Decision) Skipped() bool {
	return d.Strategy == Skip
}

// Inputs carries everything the selector needs from earlier stages.
type Inputs struct {
	Ref     revision.Ref
	Changes *changeset.ChangeSet

	// NoHistory is true when the resolver degraded to the default base
	// and the repository has no usable history to diff against.
	NoHistory bool

	// Focus is the caller's narrowing request; empty means none.
	Focus []string

	// StrictFocus escalates dependency-omission warnings to an error.
	StrictFocus bool

	// Target is the task being scoped, e.g. "build" or "test".
	Target string
}

// Selector runs the terminal-state decision process.
type Selector struct {
	Graph graph.Provider

	// Log receives informational messages; nil disables logging.
	Log io.Writer
}

// Select walks the state machine to exactly one terminal state. The
// only error it can return is a focus *StrictError; every external
// failure resolves to a FullFallback decision instead.
func (s *Selector) Select(ctx context.Context, in Inputs) (Decision, error) {
	if in.Changes.DocOnly() {
		s.logf("change set is doc-only, skipping %s", in.Target)
		return Decision{Strategy: Skip, Reason: ReasonDocOnly}, nil
	}

	if in.NoHistory {
		s.logf("no usable baseline history, falling back to full scope")
		return Decision{Strategy: FullFallback, Reason: ReasonNoHistory}, nil
	}

	if in.Changes.Empty() {
		s.logf("empty change set, falling back to full scope")
		return Decision{Strategy: FullFallback, Reason: ReasonEmptyDiff}, nil
	}

	affected, err := s.Graph.Affected(ctx, in.Ref.Base, in.Ref.Head, in.Target)
	if err != nil {
		s.logf("affected query failed (%v), falling back to full scope", err)
		return Decision{Strategy: FullFallback, Reason: ReasonGraphQueryFailed}, nil
	}

	if len(affected) == 0 {
		// The graph authoritatively reports nothing affected; trust it
		// over re-scanning.
		s.logf("graph reports no affected projects for %s, skipping", in.Target)
		return Decision{Strategy: Skip, Reason: ReasonNoAffected}, nil
	}

	sort.Strings(affected)

	if len(in.Focus) == 0 {
		return Decision{Strategy: Affected, Projects: affected}, nil
	}

	g, gerr := s.Graph.FullGraph(ctx)
	if gerr != nil {
		// Without the graph we cannot prove the focus is safe. Ignore
		// it in normal mode; refuse to proceed in strict mode.
		warning := fmt.Sprintf("cannot validate focus, graph unavailable (%v); ignoring focus", gerr)
		if in.StrictFocus {
			return Decision{}, &focus.StrictError{Warnings: []string{warning}}
		}
		return Decision{Strategy: Affected, Projects: affected, Warnings: []string{warning}}, nil
	}

	result, ferr := focus.Narrow(affected, in.Focus, g, in.StrictFocus)
	if ferr != nil {
		return Decision{}, ferr
	}

	return Decision{Strategy: Affected, Projects: result.Projects, Warnings: result.Warnings}, nil
}

func (s *Selector) logf(format string, args ...interface{}) {
	if s.Log == nil {
		return
	}
	fmt.Fprintf(s.Log, "strategy: "+format+"\n", args...)
}
