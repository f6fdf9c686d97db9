// scopeguard selects the minimal necessary project scope for a
// monorepo build/test/lint/typecheck run, falling back to full-scope
// execution when the minimal scope cannot be determined with
// confidence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// repoDir is the working directory override (-C), empty for cwd.
	repoDir string

	// verbose enables debug logging; SCOPEGUARD_DEBUG works too.
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "scopeguard",
	Short: "Minimal-scope selection for monorepo task runs",
	Long: `scopeguard decides how much of a monorepo a build/test/lint/typecheck
invocation actually has to cover.

It diffs the working tree against a baseline revision, maps the changed
files onto affected projects through the workspace dependency graph,
and then either runs the task for just those projects, skips entirely
(doc-only or no-affected changes), or falls back to a full run when the
minimal scope cannot be trusted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoDir, "repo", "C", "", "Repository directory (default: current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// debugEnabled reports whether informational stage logging is on.
func debugEnabled() bool {
	return verbose || os.Getenv("SCOPEGUARD_DEBUG") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
