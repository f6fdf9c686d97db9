package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// Provider answers affected-set and full-graph queries. Both can fail:
// the external tool may be slow, absent, or produce garbage. Failures
// come back as *QueryError, never as a silently empty result.
type Provider interface {
	// Affected returns the projects whose target output could change
	// between base and head, deduplicated and sorted.
	Affected(ctx context.Context, base, head, target string) ([]string, error)

	// FullGraph materializes the whole project graph. Implementations
	// cache it for the remainder of the invocation.
	FullGraph(ctx context.Context) (*Graph, error)
}

// DefaultTimeout bounds a single graph tool invocation.
const DefaultTimeout = 60 * time.Second

// CLIProvider queries the workspace tool (nx-compatible CLI) via
// subprocess. The full graph is exported to a temporary JSON file,
// parsed, and the file removed.
type CLIProvider struct {
	// Tool is the workspace tool binary, e.g. "nx".
	Tool string

	// WorkDir is the monorepo root the tool runs in.
	WorkDir string

	// Timeout bounds each tool invocation. Zero means DefaultTimeout.
	Timeout time.Duration

	mu     sync.Mutex
	cached *Graph
}

// Affected shells out for the affected project list between base and head.
func (p *CLIProvider) Affected(ctx context.Context, base, head, target string) ([]string, error) {
	out, err := p.run(ctx,
		"show", "projects",
		"--affected",
		"--base", base,
		"--head", head,
		"--with-target", target,
		"--json",
	)
	if err != nil {
		return nil, err
	}

	projects, perr := parseAffectedOutput(out)
	if perr != nil {
		return nil, &QueryError{Kind: KindParse, Tool: p.Tool, Err: perr}
	}
	return projects, nil
}

// FullGraph exports and parses the complete project graph. The export
// file is created by us and removed before returning; it is the only
// temporary resource this package holds.
func (p *CLIProvider) FullGraph(ctx context.Context) (*Graph, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != nil {
		return p.cached, nil
	}

	tmp, err := os.CreateTemp("", "scopeguard-graph-*.json")
	if err != nil {
		return nil, &QueryError{Kind: KindUnavailable, Tool: p.Tool, Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if _, err := p.run(ctx, "graph", "--file", tmpPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, &QueryError{Kind: KindUnavailable, Tool: p.Tool, Err: err}
	}

	g, perr := parseGraphExport(data)
	if perr != nil {
		return nil, &QueryError{Kind: KindParse, Tool: p.Tool, Err: perr}
	}

	p.cached = g
	return g, nil
}

// run executes the tool with a bounded deadline and returns stdout.
func (p *CLIProvider) run(ctx context.Context, args ...string) ([]byte, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Tool, args...)
	cmd.Dir = p.WorkDir
	cmd.Stdin = nil
	out, err := cmd.Output()
	if err != nil {
		kind := KindUnavailable
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return nil, &QueryError{Kind: kind, Tool: p.Tool, Err: err}
	}
	return out, nil
}

// parseAffectedOutput decodes the tool's --json project list: a JSON
// array of project names. The result is deduplicated and sorted.
func parseAffectedOutput(out []byte) ([]string, error) {
	var names []string
	if err := json.Unmarshal(out, &names); err != nil {
		return nil, fmt.Errorf("unexpected affected output: %w", err)
	}

	seen := make(map[string]struct{}, len(names))
	var projects []string
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		projects = append(projects, n)
	}
	sort.Strings(projects)
	return projects, nil
}

// graphExport mirrors the tool's graph export file shape.
type graphExport struct {
	Graph struct {
		Nodes        map[string]json.RawMessage `json:"nodes"`
		Dependencies map[string][]struct {
			Target string `json:"target"`
		} `json:"dependencies"`
	} `json:"graph"`
}

// parseGraphExport decodes an exported graph file into a Graph.
func parseGraphExport(data []byte) (*Graph, error) {
	var export graphExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("unexpected graph export: %w", err)
	}
	if export.Graph.Nodes == nil && export.Graph.Dependencies == nil {
		return nil, fmt.Errorf("graph export missing graph.nodes and graph.dependencies")
	}

	nodes := make([]string, 0, len(export.Graph.Nodes))
	for name := range export.Graph.Nodes {
		nodes = append(nodes, name)
	}

	edges := make(map[string][]string, len(export.Graph.Dependencies))
	for from, deps := range export.Graph.Dependencies {
		for _, d := range deps {
			if d.Target == "" {
				continue
			}
			edges[from] = append(edges[from], d.Target)
		}
	}

	return NewGraph(nodes, edges), nil
}
