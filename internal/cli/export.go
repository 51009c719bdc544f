package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export assignments and events",
	Long: `Export a test's assignments and their event logs in CSV or JSON format.

CSV has one row per event; subjects with no events get a single row with
empty event columns.

Examples:
  riff export shelf --format csv > shelf.csv
  riff export shelf --format json > shelf.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withEngine(cmd.Context(), func(engine *experiment.Engine, _ *store.SQLiteStore) error {
		assignments, err := engine.Assignments(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if exportFormat == "csv" {
			return exportCSV(cmd.OutOrStdout(), assignments)
		}
		return exportJSON(cmd.OutOrStdout(), args[0], assignments)
	})
}

func exportCSV(out io.Writer, assignments []*store.Assignment) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"subject_id", "variant_id", "assigned_at", "event_type", "event_at", "data"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, a := range assignments {
		base := []string{a.SubjectID, a.VariantID, strconv.FormatInt(a.AssignedAt.Unix(), 10)}
		if len(a.Events) == 0 {
			if err := w.Write(append(base, "", "", "")); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
			continue
		}
		for _, e := range a.Events {
			var data string
			if len(e.Data) > 0 {
				b, err := json.Marshal(e.Data)
				if err != nil {
					return fmt.Errorf("failed to encode event data: %w", err)
				}
				data = string(b)
			}
			row := append(append([]string(nil), base...), e.Type, strconv.FormatInt(e.Timestamp.Unix(), 10), data)
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write row: %w", err)
			}
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	TestID      string           `json:"test_id"`
	Assignments []jsonAssignment `json:"assignments"`
}

type jsonAssignment struct {
	SubjectID  string      `json:"subject_id"`
	VariantID  string      `json:"variant_id"`
	AssignedAt int64       `json:"assigned_at"`
	Events     []jsonEvent `json:"events"`
}

type jsonEvent struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func exportJSON(out io.Writer, testID string, assignments []*store.Assignment) error {
	export := jsonExport{
		TestID:      testID,
		Assignments: make([]jsonAssignment, len(assignments)),
	}

	for i, a := range assignments {
		ja := jsonAssignment{
			SubjectID:  a.SubjectID,
			VariantID:  a.VariantID,
			AssignedAt: a.AssignedAt.Unix(),
			Events:     make([]jsonEvent, len(a.Events)),
		}
		for j, e := range a.Events {
			ja.Events[j] = jsonEvent{Type: e.Type, Timestamp: e.Timestamp.Unix(), Data: e.Data}
		}
		export.Assignments[i] = ja
	}

	return printJSON(out, export)
}
