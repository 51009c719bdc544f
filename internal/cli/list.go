package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

var listActive bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List A/B tests in merge precedence order with their status and user counts.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().BoolVar(&listActive, "active", false, "only tests that are active and not past their end date")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
		tests := engine.ListTests(cmd.Context())
		if listActive {
			tests = engine.ListActive(cmd.Context())
		}

		if len(tests) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tests yet.")
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "Create one with:")
			fmt.Fprintln(cmd.OutOrStdout(), "  riff create shelf --variant grid:1 --variant carousel:1 --metric clicks")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tVARIANTS\tUSERS\tSTARTED\tENDS")

		for _, t := range tests {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
				t.ID,
				strings.ToUpper(string(t.Status)),
				t.Priority,
				len(t.Variants),
				formatNumber(t.TotalUsers),
				t.StartDate.Format("2006-01-02"),
				t.EndDate.Format("2006-01-02"),
			)
		}

		return w.Flush()
	})
}
