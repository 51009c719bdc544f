package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

var resultsJSON bool

var resultsCmd = &cobra.Command{
	Use:   "results [id]",
	Short: "Show detailed results for a test",
	Long: `Show per-variant users, click-through rates with 95% confidence intervals,
accumulated metrics, and significance against the control variant.

Without an id you pick the test from a list.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print the results object as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
		var id string
		if len(args) == 1 {
			id = args[0]
		} else {
			picked, err := pickTest(engine.ListTests(cmd.Context()), "Show results for")
			if err != nil {
				return err
			}
			id = picked
		}

		res, err := engine.GetResults(cmd.Context(), id)
		if err != nil {
			return err
		}

		if resultsJSON {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printResults(cmd.OutOrStdout(), res)
		return nil
	})
}

func printResults(out io.Writer, res *experiment.Results) {
	fmt.Fprintf(out, "TEST: %s (%s)\n", res.TestID, res.Name)
	fmt.Fprintf(out, "STATUS: %s\n", res.Status)
	if res.Description != "" {
		fmt.Fprintf(out, "DESCRIPTION: %s\n", res.Description)
	}
	fmt.Fprintf(out, "RUNNING: %s to %s\n", res.StartDate.Format("2006-01-02"), res.EndDate.Format("2006-01-02"))
	fmt.Fprintf(out, "USERS: %s\n", formatNumber(res.TotalUsers))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "VARIANT           USERS    SHARE    CTR      95% CI")
	fmt.Fprintln(out, strings.Repeat("─", 64))

	for _, v := range res.Variants {
		name := v.VariantID
		if len(name) > 16 {
			name = name[:13] + "..."
		}

		ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.CILower*100, v.CIUpper*100)
		if v.Users == 0 {
			ciStr = "N/A"
		}

		fmt.Fprintf(out, "%-16s  %-7d  %-7s  %-7s  %s\n",
			name,
			v.Users,
			formatPercent(v.ConversionRate),
			formatPercent(v.ClickThroughRate),
			ciStr,
		)
	}

	for _, v := range res.Variants {
		if len(v.Metrics) == 0 {
			continue
		}
		names := make([]string, 0, len(v.Metrics))
		for m := range v.Metrics {
			names = append(names, m)
		}
		sort.Strings(names)

		fmt.Fprintln(out)
		fmt.Fprintf(out, "%s metrics:\n", v.VariantID)
		for _, m := range names {
			s := v.Metrics[m]
			fmt.Fprintf(out, "  %-20s total %-10.2f count %-6d avg %.3f\n", m, s.Total, s.Count, s.Average)
		}
	}

	fmt.Fprintln(out)
	comparisons := res.Comparisons
	if len(comparisons) == 0 {
		comparisons = append(comparisons, res.Significance)
	}
	for _, c := range comparisons {
		switch {
		case c.Message != "":
			fmt.Fprintf(out, "%s vs %s: %s\n", c.Treatment, c.Control, c.Message)
		case c.Significant:
			fmt.Fprintf(out, "%s vs %s: significant, %.1f%% confident, effect %+.1f%%\n", c.Treatment, c.Control, c.Confidence, c.Effect)
		default:
			fmt.Fprintf(out, "%s vs %s: not yet significant, %.1f%% confident, effect %+.1f%%\n", c.Treatment, c.Control, c.Confidence, c.Effect)
		}
	}
}
