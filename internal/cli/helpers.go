package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/logging"
	"github.com/gkobilansky/riff/internal/stats"
	"github.com/gkobilansky/riff/internal/store"
)

// withEngine opens the database, rebuilds engine state from it, executes the
// function, and handles cleanup.
func withEngine(ctx context.Context, fn func(*experiment.Engine, *store.SQLiteStore) error) error {
	s, err := store.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	engine := newEngine(s)
	if err := engine.Load(ctx); err != nil {
		return err
	}
	return fn(engine, s)
}

func newEngine(s store.Store) *experiment.Engine {
	return experiment.New(
		experiment.WithStore(s),
		experiment.WithLogger(logging.Component("experiment")),
		experiment.WithAnalysis(stats.Options{
			MinSampleSize: cfg.Experiment.MinSampleSize,
			Threshold:     cfg.Experiment.SignificanceThreshold,
		}),
		experiment.WithPrimaryEvent(cfg.Experiment.PrimaryEvent),
		experiment.WithDefaultDuration(cfg.Experiment.DefaultDuration),
		experiment.WithCollisionPolicy(experiment.CollisionPolicy(cfg.Experiment.CollisionPolicy)),
	)
}

// parseVariant reads a --variant value of the form id:weight[:json-config].
func parseVariant(s string) (experiment.VariantDefinition, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return experiment.VariantDefinition{}, fmt.Errorf("variant %q: want id:weight[:config]", s)
	}

	v := experiment.VariantDefinition{ID: strings.TrimSpace(parts[0])}
	weight, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return experiment.VariantDefinition{}, fmt.Errorf("variant %q: weight must be an integer", s)
	}
	v.Weight = weight

	if len(parts) == 3 && parts[2] != "" {
		if err := json.Unmarshal([]byte(parts[2]), &v.Config); err != nil {
			return experiment.VariantDefinition{}, fmt.Errorf("variant %q: invalid config JSON: %w", s, err)
		}
	}
	return v, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatNumber(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
