// Package focus narrows an affected project set to a caller-supplied
// subset, verifying that narrowing never silently drops an affected
// project the focused projects transitively depend on.
package focus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scopeguard/scopeguard/internal/graph"
)

// Parse splits a comma-separated focus flag into a deduplicated,
// sorted project list.
func Parse(s string) []string {
	seen := make(map[string]struct{})
	var projects []string
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		projects = append(projects, name)
	}
	sort.Strings(projects)
	return projects
}

// Result is the outcome of narrowing: the project scope to run plus any
// warnings, in deterministic order.
type Result struct {
	Projects []string
	Warnings []string
}

// StrictError is returned in strict mode when focusing would omit an
// affected dependency. The warnings name every omitted edge.
type StrictError struct {
	Warnings []string
}

func (e *StrictError) Error() string {
	return fmt.Sprintf("focused scope omits %d affected dependency edge(s); first: %s",
		len(e.Warnings), e.Warnings[0])
}

// Narrow intersects the focus request with the affected set and
// validates dependency safety.
//
// An empty intersection ignores the focus entirely and returns the full
// affected set with a warning. Otherwise, for every focused project the
// forward dependency closure is checked: any affected dependency
// falling outside the intersection is reported as an omission warning.
// In strict mode any omission is a *StrictError; otherwise the
// intersection proceeds with warnings surfaced.
func Narrow(affected, request []string, g *graph.Graph, strict bool) (Result, error) {
	if len(request) == 0 {
		return Result{Projects: sortedCopy(affected)}, nil
	}

	affectedSet := toSet(affected)
	var intersection []string
	for _, p := range request {
		if _, ok := affectedSet[p]; ok {
			intersection = append(intersection, p)
		}
	}
	sort.Strings(intersection)

	if len(intersection) == 0 {
		return Result{
			Projects: sortedCopy(affected),
			Warnings: []string{fmt.Sprintf(
				"focus requested (%s) but no overlap with affected projects; ignoring focus",
				strings.Join(request, ", "))},
		}, nil
	}

	focusSet := toSet(intersection)
	var warnings []string
	for _, p := range intersection {
		closure := g.Closure(p, graph.Down)
		for _, d := range sortedKeys(closure) {
			_, isAffected := affectedSet[d]
			_, isFocused := focusSet[d]
			if isAffected && !isFocused {
				warnings = append(warnings, fmt.Sprintf(
					"focus omits affected dependency: %s -> %s", p, d))
			}
		}
	}

	if strict && len(warnings) > 0 {
		return Result{}, &StrictError{Warnings: warnings}
	}

	return Result{Projects: intersection, Warnings: warnings}, nil
}

func toSet(items []string) map[string]struct{} {
	s := make(map[string]struct{}, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func sortedCopy(items []string) []string {
	cp := append([]string(nil), items...)
	sort.Strings(cp)
	return cp
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
