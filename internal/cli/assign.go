package cli

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

func init() {
	rootCmd.AddCommand(newAssignCmd(), newTrackCmd(), newSubjectConfigCmd())
}

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <test> <subject>",
		Short: "Assign a subject to a test variant",
		Long: `Assign a subject to a variant, or show the variant they already have.

Example:
  riff assign shelf user-42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID, subjectID := args[0], args[1]

			return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
				a, err := engine.Assign(cmd.Context(), subjectID, testID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (assigned %s)\n", a.SubjectID, a.VariantID, a.AssignedAt.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func newTrackCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "track <test> <subject> <event>",
		Short: "Record an event for an assigned subject",
		Long: `Record an event against the subject's assignment.

Events for unassigned subjects or stopped tests are logged and ignored.

Example:
  riff track shelf user-42 track_play --data '{"duration": 183}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if data != "" {
				if err := json.Unmarshal([]byte(data), &payload); err != nil {
					return fmt.Errorf("invalid --data JSON: %w", err)
				}
			}

			return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
				engine.Track(cmd.Context(), args[1], args[0], args[2], payload)
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s in %s\n", args[2], args[1], args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "event payload as a JSON object")

	return cmd
}

func newSubjectConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config <subject>",
		Short: "Show the merged variant config for a subject",
		Long: `Assign the subject to every active test and print the merged variant
configuration as JSON. Higher-priority tests override lower ones.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
				merged, err := engine.MergedConfig(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), merged)
			})
		},
	}
}
