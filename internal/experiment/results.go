package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gkobilansky/riff/internal/stats"
	"github.com/gkobilansky/riff/internal/store"
)

// Results is a point-in-time report for one test.
type Results struct {
	TestID       string               `json:"test_id"`
	Name         string               `json:"name"`
	Description  string               `json:"description"`
	Status       store.TestStatus     `json:"status"`
	StartDate    time.Time            `json:"start_date"`
	EndDate      time.Time            `json:"end_date"`
	TotalUsers   int                  `json:"total_users"`
	Variants     []VariantResult      `json:"variants"`
	Significance stats.Significance   `json:"significance"`
	Comparisons  []stats.Significance `json:"comparisons,omitempty"`
}

type VariantResult struct {
	VariantID string `json:"variant_id"`
	Name      string `json:"name"`
	Weight    int    `json:"weight"`
	Users     int    `json:"users"`
	// ConversionRate is the variant's share of all assigned users.
	ConversionRate float64 `json:"conversion_rate"`
	// ClickThroughRate is primary events per assigned user. The 95% Wilson
	// interval is zero when repeat events push the rate above 1.
	ClickThroughRate float64                  `json:"click_through_rate"`
	CILower          float64                  `json:"ci_lower"`
	CIUpper          float64                  `json:"ci_upper"`
	Events           map[string]int           `json:"events"`
	Metrics          map[string]MetricSummary `json:"metrics"`
}

type MetricSummary struct {
	Total   float64 `json:"total"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// GetResults snapshots the test under its read lock and reports per-variant
// breakdowns plus significance of each treatment against the control.
func (e *Engine) GetResults(ctx context.Context, testID string) (*Results, error) {
	t, err := e.Test(ctx, testID)
	if err != nil {
		return nil, err
	}
	return e.buildResults(t), nil
}

func (e *Engine) buildResults(t *store.Test) *Results {
	r := &Results{
		TestID:      t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		TotalUsers:  t.TotalUsers,
		Variants:    make([]VariantResult, 0, len(t.Variants)),
	}

	arms := make([]stats.Arm, 0, len(t.Variants))
	for _, v := range t.Variants {
		vs := t.Conversions[v.ID]
		if vs == nil {
			vs = store.NewVariantStats(t.Metrics)
		}

		clicks := vs.Events[e.primaryEvent]
		vr := VariantResult{
			VariantID: v.ID,
			Name:      v.Name,
			Weight:    v.Weight,
			Users:     vs.Users,
			Events:    vs.Events,
			Metrics:   make(map[string]MetricSummary, len(vs.Metrics)),
		}
		if t.TotalUsers > 0 {
			vr.ConversionRate = float64(vs.Users) / float64(t.TotalUsers)
		}
		if vs.Users > 0 {
			vr.ClickThroughRate = float64(clicks) / float64(vs.Users)
		}
		// No interval once repeat clicks push the rate past 1.
		if vs.Users > 0 && clicks <= vs.Users {
			vr.CILower, vr.CIUpper = stats.WilsonInterval(clicks, vs.Users, 0.95)
		}
		for name, mv := range vs.Metrics {
			vr.Metrics[name] = MetricSummary{Total: mv.Total, Count: mv.Count, Average: mv.Average}
		}

		r.Variants = append(r.Variants, vr)
		arms = append(arms, stats.Arm{ID: v.ID, Users: vs.Users, Conversions: clicks})
	}

	r.Significance, r.Comparisons = stats.Analyze(arms, t.ControlVariant, e.analysis)
	return r
}

// MergedConfig assigns the subject to every live test (reusing existing
// assignments) and shallow-merges the chosen variants' configs. Tests are
// applied in precedence order (priority, then creation time, then ID) so a
// higher-priority test overrides keys set by a lower one; under
// CollisionError any key set by two tests fails with ErrConfigConflict.
func (e *Engine) MergedConfig(ctx context.Context, subjectID string) (map[string]any, error) {
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}

	merged := make(map[string]any)
	owner := make(map[string]string)

	for _, s := range e.ListActive(ctx) {
		a, err := e.Assign(ctx, subjectID, s.ID)
		if err != nil {
			// Stopped between listing and assignment.
			if errors.Is(err, ErrTestNotActive) {
				continue
			}
			return nil, fmt.Errorf("failed to assign %s to %s: %w", subjectID, s.ID, err)
		}

		v, ok := e.variant(s.ID, a.VariantID)
		if !ok {
			continue
		}

		for k, val := range v.Config {
			if prev, taken := owner[k]; taken && e.collisions == CollisionError {
				return nil, fmt.Errorf("%w: %q set by tests %s and %s", ErrConfigConflict, k, prev, s.ID)
			}
			merged[k] = val
			owner[k] = s.ID
		}
	}

	return merged, nil
}

func (e *Engine) variant(testID, variantID string) (store.Variant, bool) {
	entry := e.entry(testID)
	if entry == nil {
		return store.Variant{}, false
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.test.Variant(variantID)
}
