package experiment_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gkobilansky/riff/internal/experiment"
	"github.com/gkobilansky/riff/internal/stats"
)

func TestGetResults_SignificantLift(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if _, err := e.CreateTest(ctx, abDefinition("shelf")); err != nil {
		t.Fatal(err)
	}

	byVariant := map[string][]string{}
	for i := 0; i < 1000; i++ {
		subject := fmt.Sprintf("listener-%d", i)
		a, err := e.Assign(ctx, subject, "shelf")
		if err != nil {
			t.Fatal(err)
		}
		byVariant[a.VariantID] = append(byVariant[a.VariantID], subject)
	}

	rates := map[string]float64{"a": 0.4, "b": 0.6}
	for id, subjects := range byVariant {
		clicks := int(rates[id] * float64(len(subjects)))
		for _, s := range subjects[:clicks] {
			e.Track(ctx, s, "shelf", experiment.EventRecommendationClick, nil)
		}
	}

	res, err := e.GetResults(ctx, "shelf")
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalUsers != 1000 {
		t.Fatalf("total users = %d, want 1000", res.TotalUsers)
	}
	if len(res.Variants) != 2 || res.Variants[0].VariantID != "a" {
		t.Fatalf("variants out of declaration order: %+v", res.Variants)
	}

	sig := res.Significance
	if sig.Control != "a" || sig.Treatment != "b" {
		t.Errorf("compared %s vs %s, want a vs b", sig.Control, sig.Treatment)
	}
	if !sig.Significant {
		t.Errorf("expected significant result, got %+v", sig)
	}
	if sig.Confidence <= 95 {
		t.Errorf("confidence = %.2f, want > 95", sig.Confidence)
	}
	if math.Abs(sig.Effect-50) > 3 {
		t.Errorf("effect = %.2f, want about 50", sig.Effect)
	}

	for _, v := range res.Variants {
		if v.CILower > v.ClickThroughRate || v.CIUpper < v.ClickThroughRate {
			t.Errorf("variant %s rate %.3f outside interval [%.3f, %.3f]", v.VariantID, v.ClickThroughRate, v.CILower, v.CIUpper)
		}
		if math.Abs(v.ConversionRate-0.5) > 0.06 {
			t.Errorf("variant %s share = %.3f, want about 0.5", v.VariantID, v.ConversionRate)
		}
	}
}

func TestGetResults_InsufficientSample(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if _, err := e.CreateTest(ctx, abDefinition("shelf")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := e.Assign(ctx, fmt.Sprintf("u%d", i), "shelf"); err != nil {
			t.Fatal(err)
		}
	}

	res, err := e.GetResults(ctx, "shelf")
	if err != nil {
		t.Fatal(err)
	}
	if res.Significance.Significant || res.Significance.Message != stats.MsgInsufficientSample {
		t.Errorf("significance = %+v, want insufficient sample", res.Significance)
	}
}

func TestGetResults_ExplicitControl(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	def := abDefinition("shelf")
	def.Variants = append(def.Variants, experiment.VariantDefinition{ID: "c", Weight: 50})
	def.ControlVariant = "b"
	if _, err := e.CreateTest(ctx, def); err != nil {
		t.Fatal(err)
	}

	res, err := e.GetResults(ctx, "shelf")
	if err != nil {
		t.Fatal(err)
	}
	var pairs []string
	for _, c := range res.Comparisons {
		pairs = append(pairs, c.Control+"/"+c.Treatment)
	}
	if diff := cmp.Diff([]string{"b/a", "b/c"}, pairs); diff != "" {
		t.Errorf("comparisons (-want +got):\n%s", diff)
	}
	if res.Significance.Treatment != "a" {
		t.Errorf("headline treatment = %s, want first non-control variant", res.Significance.Treatment)
	}
}

func singleVariant(id string, priority int, config map[string]any) experiment.Definition {
	return experiment.Definition{
		ID:       id,
		Name:     id,
		Priority: priority,
		Variants: []experiment.VariantDefinition{{ID: id + "-only", Weight: 1, Config: config}},
		Metrics:  []string{experiment.MetricClicks},
	}
}

func TestMergedConfig(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	for _, def := range []experiment.Definition{
		singleVariant("layout", 0, map[string]any{"x": 1}),
		singleVariant("ranking", 0, map[string]any{"y": 2}),
	} {
		if _, err := e.CreateTest(ctx, def); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.MergedConfig(ctx, "user-7")
	if err != nil {
		t.Fatalf("MergedConfig: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"x": 1, "y": 2}, got); diff != "" {
		t.Errorf("merged config (-want +got):\n%s", diff)
	}

	for _, id := range []string{"layout", "ranking"} {
		if _, err := e.Assignment(ctx, "user-7", id); err != nil {
			t.Errorf("MergedConfig did not assign to %s: %v", id, err)
		}
	}
}

func TestMergedConfig_MatchesAssignedVariants(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	if _, err := e.CreateTest(ctx, abDefinition("shelf")); err != nil {
		t.Fatal(err)
	}
	ranking := experiment.Definition{
		ID:   "ranking",
		Name: "Ranking",
		Variants: []experiment.VariantDefinition{
			{ID: "c", Weight: 1, Config: map[string]any{"y": 2}},
			{ID: "d", Weight: 1, Config: map[string]any{"y": 3}},
		},
		Metrics: []string{experiment.MetricPlays},
	}
	if _, err := e.CreateTest(ctx, ranking); err != nil {
		t.Fatal(err)
	}

	want := map[string]map[string]any{
		"a": {"x": 1}, "b": {"x": 2},
		"c": {"y": 2}, "d": {"y": 3},
	}
	for i := 0; i < 50; i++ {
		subject := fmt.Sprintf("user-%d", i)
		got, err := e.MergedConfig(ctx, subject)
		if err != nil {
			t.Fatal(err)
		}
		a1, _ := e.Assignment(ctx, subject, "shelf")
		a2, _ := e.Assignment(ctx, subject, "ranking")
		expected := map[string]any{
			"x": want[a1.VariantID]["x"],
			"y": want[a2.VariantID]["y"],
		}
		if diff := cmp.Diff(expected, got); diff != "" {
			t.Fatalf("%s merged config (-want +got):\n%s", subject, diff)
		}
	}
}

func TestMergedConfig_PriorityOverride(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	// Created high priority first so creation order alone would pick the wrong winner.
	for _, def := range []experiment.Definition{
		singleVariant("urgent", 10, map[string]any{"mode": "urgent"}),
		singleVariant("baseline", 0, map[string]any{"mode": "baseline", "extra": true}),
	} {
		if _, err := e.CreateTest(ctx, def); err != nil {
			t.Fatal(err)
		}
	}

	got, err := e.MergedConfig(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"mode": "urgent", "extra": true}, got); diff != "" {
		t.Errorf("merged config (-want +got):\n%s", diff)
	}
}

func TestMergedConfig_CollisionError(t *testing.T) {
	e := newEngine(t, experiment.WithCollisionPolicy(experiment.CollisionError))
	ctx := context.Background()
	for _, def := range []experiment.Definition{
		singleVariant("one", 0, map[string]any{"mode": "a"}),
		singleVariant("two", 0, map[string]any{"mode": "b"}),
	} {
		if _, err := e.CreateTest(ctx, def); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := e.MergedConfig(ctx, "user-1"); !errors.Is(err, experiment.ErrConfigConflict) {
		t.Fatalf("err = %v, want ErrConfigConflict", err)
	}
}

func TestMergedConfig_SkipsInactive(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	for _, def := range []experiment.Definition{
		singleVariant("live", 0, map[string]any{"x": 1}),
		singleVariant("done", 0, map[string]any{"y": 2}),
	} {
		if _, err := e.CreateTest(ctx, def); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.StopTest(ctx, "done"); err != nil {
		t.Fatal(err)
	}

	got, err := e.MergedConfig(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]any{"x": 1}, got); diff != "" {
		t.Errorf("merged config (-want +got):\n%s", diff)
	}

	if _, err := e.MergedConfig(ctx, ""); !errors.Is(err, experiment.ErrInvalidSubject) {
		t.Errorf("empty subject: err = %v, want ErrInvalidSubject", err)
	}
}
