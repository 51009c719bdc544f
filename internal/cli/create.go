package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		name        string
		description string
		variants    []string
		metrics     []string
		priority    int
		control     string
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test with weighted variants.

Each --variant is id:weight with an optional JSON config merged into the
subject's configuration when they land in that variant.

Examples:
  riff create shelf --variant grid:1 --variant carousel:1 --metric clicks
  riff create ranking --variant a:9:'{"diversity":0.2}' --variant b:1:'{"diversity":0.5}' \
      --metric clicks --metric listening_time --priority 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def := experiment.Definition{
				ID:             args[0],
				Name:           name,
				Description:    description,
				Metrics:        metrics,
				Priority:       priority,
				ControlVariant: control,
			}
			if def.Name == "" {
				def.Name = def.ID
			}
			for _, raw := range variants {
				v, err := parseVariant(raw)
				if err != nil {
					return err
				}
				def.Variants = append(def.Variants, v)
			}
			if duration > 0 {
				def.StartDate = time.Now()
				def.EndDate = def.StartDate.Add(duration)
			}

			return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
				test, err := engine.CreateTest(cmd.Context(), def)
				if err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created test '%s' with %d variants:\n", test.ID, len(test.Variants))
				for _, v := range test.Variants {
					marker := ""
					if v.ID == test.ControlVariant {
						marker = " (control)"
					}
					fmt.Fprintf(out, "  %s: weight %d%s\n", v.ID, v.Weight, marker)
				}
				if len(test.Metrics) > 0 {
					fmt.Fprintf(out, "  Metrics: %v\n", test.Metrics)
				}
				fmt.Fprintf(out, "  Ends: %s\n", test.EndDate.Format("2006-01-02"))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&description, "description", "", "what the test is for")
	cmd.Flags().StringArrayVarP(&variants, "variant", "v", nil, "variant as id:weight[:json] (repeatable, required)")
	cmd.Flags().StringSliceVarP(&metrics, "metric", "m", nil, "metric to accumulate (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher priority wins merged config collisions")
	cmd.Flags().StringVar(&control, "control", "", "control variant id (defaults to the first variant)")
	cmd.Flags().DurationVar(&duration, "duration", 0, "how long the test runs (defaults to experiment.default_duration)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
