package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/scopeguard/scopeguard/internal/revision"
	"github.com/scopeguard/scopeguard/internal/strategy"
)

// jsonOutput is the single machine-readable decision object. Embedding
// Decision keeps strategy/projects/reason/warnings round-trippable.
type jsonOutput struct {
	Target string `json:"target"`
	Base   string `json:"base"`
	Head   string `json:"head"`
	strategy.Decision
	ChangedCount int  `json:"changedCount"`
	Skipped      bool `json:"skipped"`
}

func (p *Pipeline) printJSON(w io.Writer, target string, ref revision.Ref, d strategy.Decision, changedCount int) {
	out := jsonOutput{
		Target:       target,
		Base:         ref.Base,
		Head:         ref.Head,
		Decision:     d,
		ChangedCount: changedCount,
		Skipped:      d.Skipped(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(p.stderr(), "Error: failed to marshal decision: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

func (p *Pipeline) printHuman(stdout, stderr io.Writer, opts Options, ref revision.Ref, d strategy.Decision, changedCount int) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Fprintf(stdout, "%s Comparing %s...%s (%s base), %d changed file(s)\n",
		cyan("→"), ref.Base, ref.Head, ref.Source, changedCount)

	switch d.Strategy {
	case strategy.Skip:
		fmt.Fprintf(stdout, "%s Skipping %s: %s\n", green("✓"), opts.Target, d.Reason)
	case strategy.FullFallback:
		fmt.Fprintf(stdout, "%s Running %s across all projects (%s)\n", green("✓"), opts.Target, d.Reason)
	case strategy.Affected:
		fmt.Fprintf(stdout, "%s Running %s for %d affected project(s): %s\n",
			green("✓"), opts.Target, len(d.Projects), strings.Join(d.Projects, ", "))
	}

	for _, w := range d.Warnings {
		fmt.Fprintf(stderr, "%s %s\n", warnSign(), w)
	}

	if opts.DryRun {
		fmt.Fprintf(stdout, "%s Dry run: not executing\n", cyan("→"))
	}
}

func warnSign() string {
	return color.New(color.FgYellow).Sprint("⚠")
}
