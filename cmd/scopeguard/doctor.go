package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"
	"golang.org/x/sync/errgroup"

	"github.com/scopeguard/scopeguard/internal/config"
	"github.com/scopeguard/scopeguard/internal/gitops"
	"github.com/scopeguard/scopeguard/internal/revision"
)

// minGitVersion is the oldest git that supports the negotiation
// behavior shallow baseline fetches depend on.
const minGitVersion = "v2.28.0"

// toolProbe is one external binary check, run concurrently.
type toolProbe struct {
	name    string
	bin     string
	args    []string
	out     string
	err     error
	elapsed time.Duration
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check scopeguard installation and environment health",
	Long: `Run health checks to diagnose common scopeguard configuration and
environment issues.

This command checks for:
- Git availability and version
- Git repository status and commit history
- The workspace graph tool responding to queries
- The task runner binary being on PATH
- Configuration file validity
- Baseline revision resolvability
- Telemetry output directory writability

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent scopeguard from running`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running scopeguard health checks...\n\n")

		var failures []string
		var warnings []string
		var criticalFailures []string

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		// Check 1: Git availability
		fmt.Printf("%s Git installation\n", cyan("→"))
		git, err := gitops.New(ctx, repoDir)
		if err != nil {
			criticalFailures = append(criticalFailures, fmt.Sprintf("Git not available: %v", err))
			fmt.Printf("  %s Git binary not found on PATH\n", red("✗"))
			printDoctorSummary(criticalFailures, failures, warnings)
			return
		}
		gitVersion, err := gitVersionString(ctx)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Cannot determine git version: %v", err))
			fmt.Printf("  %s Git present, version unknown\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s Git %s\n", green("✓"), strings.TrimPrefix(gitVersion, "v"))
			if semver.Compare(gitVersion, minGitVersion) < 0 {
				warnings = append(warnings, fmt.Sprintf("Git %s is older than %s; shallow baseline fetches may fail",
					strings.TrimPrefix(gitVersion, "v"), strings.TrimPrefix(minGitVersion, "v")))
				fmt.Printf("  %s Git older than %s\n", yellow("⚠"), strings.TrimPrefix(minGitVersion, "v"))
			}
		}

		// Check 2: Repository status
		fmt.Printf("%s Git repository\n", cyan("→"))
		repoRoot, err := git.RepoRoot(ctx)
		if err != nil {
			criticalFailures = append(criticalFailures, "Not inside a git repository")
			fmt.Printf("  %s Not inside a git repository\n", red("✗"))
			printDoctorSummary(criticalFailures, failures, warnings)
			return
		}
		fmt.Printf("  %s Repository root: %s\n", green("✓"), repoRoot)

		if !git.HasHistory(ctx) {
			warnings = append(warnings, "Repository has no commit history (every run will be full-scope)")
			fmt.Printf("  %s No commit history; runs will fall back to full scope\n", yellow("⚠"))
		} else {
			fmt.Printf("  %s Commit history present\n", green("✓"))
		}

		// Check 3: Configuration file
		fmt.Printf("%s Configuration\n", cyan("→"))
		cfg, err := config.Load(repoRoot)
		if err != nil {
			failures = append(failures, fmt.Sprintf("Invalid configuration: %v", err))
			fmt.Printf("  %s Cannot load %s\n", red("✗"), config.FileName)
			if debugEnabled() {
				fmt.Printf("    Error: %v\n", err)
			}
			cfg = config.Default()
		} else if _, statErr := os.Stat(filepath.Join(repoRoot, config.FileName)); statErr == nil {
			fmt.Printf("  %s Loaded %s\n", green("✓"), config.FileName)
		} else {
			fmt.Printf("  %s No %s, using defaults\n", green("✓"), config.FileName)
		}
		if err := cfg.ApplyEnv(os.Getenv); err != nil {
			warnings = append(warnings, fmt.Sprintf("Environment overrides ignored: %v", err))
			fmt.Printf("  %s Invalid environment override: %v\n", yellow("⚠"), err)
		}

		// Check 4: External tools, probed concurrently
		fmt.Printf("%s External tools\n", cyan("→"))
		probes := []*toolProbe{
			{name: "graph tool", bin: cfg.Graph.Tool, args: []string{"--version"}},
		}
		if cfg.Runner.Tool != cfg.Graph.Tool {
			probes = append(probes, &toolProbe{name: "task runner", bin: cfg.Runner.Tool, args: []string{"--version"}})
		}
		g, probeCtx := errgroup.WithContext(ctx)
		for _, p := range probes {
			g.Go(func() error {
				start := time.Now()
				out, err := exec.CommandContext(probeCtx, p.bin, p.args...).Output()
				p.elapsed = time.Since(start)
				p.out = strings.TrimSpace(string(out))
				p.err = err
				return nil
			})
		}
		_ = g.Wait()
		for _, p := range probes {
			if p.err != nil {
				failures = append(failures, fmt.Sprintf("%s %q not working: %v", p.name, p.bin, p.err))
				fmt.Printf("  %s %s %q not responding\n", red("✗"), p.name, p.bin)
				fmt.Printf("    Affected-scope queries will fall back to full runs\n")
				if debugEnabled() {
					fmt.Printf("    Error: %v\n", p.err)
				}
			} else {
				fmt.Printf("  %s %s: %s %s (%v)\n", green("✓"), p.name, p.bin, firstLine(p.out), p.elapsed.Round(time.Millisecond))
			}
		}
		if cfg.Runner.Tool == cfg.Graph.Tool {
			fmt.Printf("  %s task runner shares the graph tool binary\n", green("✓"))
		}

		// Check 5: Baseline resolvability
		fmt.Printf("%s Baseline revision\n", cyan("→"))
		resolver := &revision.Resolver{
			CIBase:            os.Getenv("GITHUB_BASE_REF"),
			RepoRoot:          repoRoot,
			DefaultBaseBranch: cfg.BaseBranch,
		}
		ref := resolver.Resolve()
		fmt.Printf("  %s Baseline %s (source: %s)\n", green("✓"), ref.Base, ref.Source)
		if !git.HasRevision(ctx, ref.Base) {
			if cfg.Fetch {
				warnings = append(warnings, fmt.Sprintf("Baseline %s not present locally; a shallow fetch will be attempted at run time", ref.Base))
				fmt.Printf("  %s Baseline not present locally (fetch enabled)\n", yellow("⚠"))
			} else {
				failures = append(failures, fmt.Sprintf("Baseline %s not present locally and fetching is disabled", ref.Base))
				fmt.Printf("  %s Baseline not present and fetching is disabled\n", red("✗"))
			}
		} else {
			fmt.Printf("  %s Baseline resolvable locally\n", green("✓"))
		}

		// Check 6: Telemetry output
		fmt.Printf("%s Telemetry output\n", cyan("→"))
		if cfg.Telemetry.Path == "" {
			fmt.Printf("  %s Telemetry artifact disabled\n", green("✓"))
		} else {
			dir := filepath.Dir(resolvePath(repoRoot, cfg.Telemetry.Path))
			if err := checkWritableDir(dir); err != nil {
				warnings = append(warnings, fmt.Sprintf("Telemetry directory not writable: %v", err))
				fmt.Printf("  %s Cannot write to %s\n", yellow("⚠"), dir)
			} else {
				fmt.Printf("  %s Telemetry directory writable: %s\n", green("✓"), dir)
			}
		}

		printDoctorSummary(criticalFailures, failures, warnings)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// gitVersionString returns the installed git version as a semver
// string, e.g. "v2.39.2".
func gitVersionString(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "--version").Output()
	if err != nil {
		return "", err
	}
	// "git version 2.39.2" or "git version 2.39.2.windows.1"
	fields := strings.Fields(strings.TrimSpace(string(out)))
	raw := fields[len(fields)-1]
	parts := strings.Split(raw, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return "", fmt.Errorf("unrecognized git version output: %q", strings.TrimSpace(string(out)))
	}
	return v, nil
}

// checkWritableDir creates dir if needed and verifies write access.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".scopeguard-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func printDoctorSummary(criticalFailures, failures, warnings []string) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Printf("\n%s\n", strings.Repeat("─", 60))

	if len(criticalFailures)+len(failures)+len(warnings) == 0 {
		fmt.Printf("%s All checks passed! scopeguard is ready to run.\n", green("✓"))
		os.Exit(0)
	}

	if len(criticalFailures) > 0 {
		fmt.Printf("\n%s Critical failures (%d):\n", red("✗"), len(criticalFailures))
		for _, failure := range criticalFailures {
			fmt.Printf("  • %s\n", failure)
		}
	}
	if len(failures) > 0 {
		fmt.Printf("\n%s Failures (%d):\n", red("✗"), len(failures))
		for _, failure := range failures {
			fmt.Printf("  • %s\n", failure)
		}
	}
	if len(warnings) > 0 {
		fmt.Printf("\n%s Warnings (%d):\n", yellow("⚠"), len(warnings))
		for _, warning := range warnings {
			fmt.Printf("  • %s\n", warning)
		}
	}

	if len(criticalFailures) > 0 {
		fmt.Printf("\n%s scopeguard cannot run until critical issues are resolved.\n", red("✗"))
		os.Exit(2)
	}
	if len(failures) > 0 {
		fmt.Printf("\n%s scopeguard may not work correctly. Please address the failures above.\n", yellow("⚠"))
		os.Exit(1)
	}
	fmt.Printf("\n%s scopeguard should work, but some warnings were detected.\n", green("✓"))
	os.Exit(0)
}
