package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scopeguard/scopeguard/internal/config"
	"github.com/scopeguard/scopeguard/internal/gitops"
	"github.com/scopeguard/scopeguard/internal/graph"
	"github.com/scopeguard/scopeguard/internal/revision"
)

var graphCmd = &cobra.Command{
	Use:   "graph [project]",
	Short: "Inspect the workspace dependency graph",
	Long: `Query the workspace graph tool and print what scopeguard sees.

With no arguments, prints every project with its direct dependency
count. With a project name, prints that project's transitive
dependencies (or dependents with --dependents). With --affected,
prints the projects the graph tool reports as affected between the
resolved base and head revisions.

This is the same data the run command bases its scope decisions on,
so a surprising decision is usually explained here.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dependents, _ := cmd.Flags().GetBool("dependents")
		affected, _ := cmd.Flags().GetBool("affected")
		target, _ := cmd.Flags().GetString("target")
		baseFlag, _ := cmd.Flags().GetString("base")
		headFlag, _ := cmd.Flags().GetString("head")

		ctx := cmd.Context()

		git, err := gitops.New(ctx, repoDir)
		if err != nil {
			return err
		}
		repoRoot, err := git.RepoRoot(ctx)
		if err != nil {
			return fmt.Errorf("not inside a git repository: %w", err)
		}

		cfg, err := config.Load(repoRoot)
		if err != nil {
			return err
		}
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			return err
		}

		provider := newGraphProvider(cfg, repoRoot)

		if affected {
			resolver := &revision.Resolver{
				OverrideBase:      baseFlag,
				OverrideHead:      headFlag,
				CIBase:            os.Getenv("GITHUB_BASE_REF"),
				RepoRoot:          repoRoot,
				DefaultBaseBranch: cfg.BaseBranch,
			}
			ref := resolver.Resolve()
			return printAffected(ctx, cmd.OutOrStdout(), provider, ref, target)
		}

		g, err := provider.FullGraph(ctx)
		if err != nil {
			return describeGraphError(err)
		}

		if len(args) == 1 {
			return printClosure(cmd.OutOrStdout(), g, args[0], dependents)
		}
		printNodes(cmd.OutOrStdout(), g)
		return nil
	},
}

func init() {
	graphCmd.Flags().Bool("dependents", false, "Show projects that depend on the given project")
	graphCmd.Flags().Bool("affected", false, "Show the affected project set between base and head")
	graphCmd.Flags().String("target", "build", "Target to query affected projects for (with --affected)")
	graphCmd.Flags().String("base", "", "Explicit comparison baseline")
	graphCmd.Flags().String("head", "", "Explicit head revision")
	rootCmd.AddCommand(graphCmd)
}

func printAffected(ctx context.Context, w io.Writer, provider graph.Provider, ref revision.Ref, target string) error {
	projects, err := provider.Affected(ctx, ref.Base, ref.Head, target)
	if err != nil {
		return describeGraphError(err)
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(w, "Affected projects for %s (%s...%s):\n", cyan(target), ref.Base, ref.Head)
	if len(projects) == 0 {
		fmt.Fprintf(w, "  (none)\n")
		return nil
	}
	sort.Strings(projects)
	for _, p := range projects {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

func printNodes(w io.Writer, g *graph.Graph) {
	cyan := color.New(color.FgCyan).SprintFunc()
	nodes := g.SortedNodes()
	fmt.Fprintf(w, "%s %d project(s)\n\n", cyan("→"), len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(w, "  %-40s %d dep(s)\n", n, len(g.Edges[n]))
	}
}

func printClosure(w io.Writer, g *graph.Graph, project string, dependents bool) error {
	if _, ok := g.Nodes[project]; !ok {
		return fmt.Errorf("unknown project %q", project)
	}

	dir := graph.Down
	label := "dependencies"
	if dependents {
		dir = graph.Up
		label = "dependents"
	}

	closure := g.Closure(project, dir)
	names := make([]string, 0, len(closure))
	for n := range closure {
		names = append(names, n)
	}
	sort.Strings(names)

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Fprintf(w, "%s has %d transitive %s:\n", cyan(project), len(names), label)
	for _, n := range names {
		fmt.Fprintf(w, "  %s\n", n)
	}
	return nil
}

// describeGraphError unwraps a graph query failure into an actionable
// message instead of raw tool stderr.
func describeGraphError(err error) error {
	var qerr *graph.QueryError
	if errors.As(err, &qerr) {
		switch qerr.Kind {
		case graph.KindTimeout:
			return fmt.Errorf("graph tool %q timed out; raise graph.timeout_seconds in %s", qerr.Tool, config.FileName)
		case graph.KindParse:
			return fmt.Errorf("graph tool %q produced unparseable output: %w", qerr.Tool, qerr.Err)
		default:
			return fmt.Errorf("graph tool %q unavailable: %w", qerr.Tool, qerr.Err)
		}
	}
	return err
}
