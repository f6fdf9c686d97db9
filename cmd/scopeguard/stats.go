package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/scopeguard/scopeguard/internal/config"
	"github.com/scopeguard/scopeguard/internal/gitops"
	"github.com/scopeguard/scopeguard/internal/strategy"
	"github.com/scopeguard/scopeguard/internal/telemetry"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show recorded scope-decision history",
	Long: `Display aggregated run history from the local telemetry database.

Each row groups runs by target, strategy, and reason, so a graph tool
that keeps timing out (or doc-only commits that keep skipping work)
shows up as a trend rather than a one-off.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

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

		if cfg.Telemetry.HistoryPath == "" {
			fmt.Println("Run history is disabled")
			fmt.Printf("Set telemetry.history_path in %s to enable it\n", config.FileName)
			return nil
		}

		historyPath := resolvePath(repoRoot, cfg.Telemetry.HistoryPath)
		if _, err := os.Stat(historyPath); os.IsNotExist(err) {
			fmt.Println("No run history recorded yet")
			return nil
		}

		history, err := telemetry.OpenHistory(historyPath)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer history.Close()

		summaries, err := history.Summarize(ctx)
		if err != nil {
			return err
		}

		if jsonOut {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summaries)
		}

		if len(summaries) == 0 {
			fmt.Println("No run history recorded yet")
			return nil
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Scope Decision History ==="))
		fmt.Printf("%-20s %-15s %-22s %6s %12s\n", "TARGET", "STRATEGY", "REASON", "RUNS", "AVG MS")
		for _, s := range summaries {
			fmt.Printf("%-20s %-15s %-22s %6d %12.0f\n",
				s.Target, colorStrategy(s.Strategy), s.Reason, s.Runs, s.AvgDurationMs)
		}
		fmt.Println()
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "Emit the summary as JSON")
	rootCmd.AddCommand(statsCmd)
}

func colorStrategy(s string) string {
	switch s {
	case string(strategy.Affected):
		return color.GreenString("%-15s", s)
	case string(strategy.Skip):
		return color.CyanString("%-15s", s)
	case string(strategy.FullFallback):
		return color.YellowString("%-15s", s)
	default:
		return fmt.Sprintf("%-15s", s)
	}
}
