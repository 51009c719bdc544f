package cli

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

func init() {
	rootCmd.AddCommand(newStopCmd())
}

func newStopCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a running test",
		Long: `Stop an A/B test and print its final results.

Existing assignments keep their variant; new subjects are refused and
further events are ignored. Without an id you pick from active tests.

Example:
  riff stop shelf --yes`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
				var id string
				if len(args) == 1 {
					id = args[0]
				} else {
					picked, err := pickTest(engine.ListActive(cmd.Context()), "Stop which test")
					if err != nil {
						return err
					}
					id = picked
				}

				t, err := engine.Test(cmd.Context(), id)
				if err != nil {
					return err
				}
				if t.Status != store.StatusActive {
					return fmt.Errorf("test is not active (current status: %s)", t.Status)
				}

				if !yes {
					ok, err := confirm(fmt.Sprintf("Stop '%s' with %d users", id, t.TotalUsers))
					if err != nil {
						return err
					}
					if !ok {
						fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
						return nil
					}
				}

				res, err := engine.StopTest(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("failed to stop test: %w", err)
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Stopped test '%s'.\n\n", id)
				printResults(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

// pickTest asks the user to choose one of tests.
func pickTest(tests []experiment.TestSummary, label string) (string, error) {
	if len(tests) == 0 {
		return "", errors.New("no tests to choose from")
	}

	items := make([]string, len(tests))
	for i, t := range tests {
		items[i] = fmt.Sprintf("%s (%s, %d users)", t.ID, t.Status, t.TotalUsers)
	}

	prompt := promptui.Select{
		Label: label,
		Items: items,
		Size:  10,
	}

	idx, _, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return tests[idx].ID, nil
}

func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
