package stats_test

import (
	"math"
	"testing"

	"github.com/gkobilansky/riff/internal/stats"
)

func TestNormalCDF_KnownValues(t *testing.T) {
	cases := []struct {
		x    float64
		want float64
	}{
		{0, 0.5},
		{1, 0.841345},
		{1.96, 0.975002},
		{-1.96, 0.024998},
		{3, 0.998650},
	}

	for _, c := range cases {
		got := stats.NormalCDF(c.x)
		if math.Abs(got-c.want) > 1e-5 {
			t.Errorf("NormalCDF(%v) = %f, want %f", c.x, got, c.want)
		}
	}
}

func TestNormalCDF_Symmetric(t *testing.T) {
	for _, x := range []float64{0.3, 1.1, 2.5} {
		if sum := stats.NormalCDF(x) + stats.NormalCDF(-x); math.Abs(sum-1) > 1e-7 {
			t.Errorf("CDF(%v)+CDF(-%v) = %f, want 1", x, x, sum)
		}
	}
}

func TestCompare_ClearWinner(t *testing.T) {
	control := stats.Arm{ID: "a", Users: 100, Conversions: 40}
	treatment := stats.Arm{ID: "b", Users: 100, Conversions: 60}

	res := stats.Compare(control, treatment, stats.DefaultOptions())

	if !res.Significant {
		t.Fatalf("expected significant result, got %+v", res)
	}
	if math.Abs(res.ZScore-2.828427) > 1e-4 {
		t.Errorf("z = %f, want ~2.8284", res.ZScore)
	}
	if res.Confidence < 99 || res.Confidence > 100 {
		t.Errorf("confidence = %f, want in (99, 100]", res.Confidence)
	}
	if math.Abs(res.Effect-50) > 1e-9 {
		t.Errorf("effect = %f, want 50", res.Effect)
	}
	if res.Control != "a" || res.Treatment != "b" {
		t.Errorf("pair = %s/%s, want a/b", res.Control, res.Treatment)
	}
}

func TestCompare_InsufficientSample(t *testing.T) {
	// Wildly different rates still don't count below the threshold.
	res := stats.Compare(
		stats.Arm{ID: "a", Users: 10, Conversions: 0},
		stats.Arm{ID: "b", Users: 10, Conversions: 10},
		stats.DefaultOptions(),
	)

	if res.Significant {
		t.Error("expected not significant")
	}
	if res.Confidence != 0 {
		t.Errorf("confidence = %f, want 0", res.Confidence)
	}
	if res.Message != stats.MsgInsufficientSample {
		t.Errorf("message = %q, want %q", res.Message, stats.MsgInsufficientSample)
	}
}

func TestCompare_IdenticalRates(t *testing.T) {
	res := stats.Compare(
		stats.Arm{ID: "a", Users: 100, Conversions: 50},
		stats.Arm{ID: "b", Users: 100, Conversions: 50},
		stats.DefaultOptions(),
	)

	if res.Significant {
		t.Error("expected not significant")
	}
	if math.Abs(res.ZScore) > 1e-9 {
		t.Errorf("z = %f, want 0", res.ZScore)
	}
	if res.Confidence > 1e-3 {
		t.Errorf("confidence = %f, want ~0", res.Confidence)
	}
}

func TestCompare_NoVariance(t *testing.T) {
	for _, conv := range []int{0, 40} {
		res := stats.Compare(
			stats.Arm{ID: "a", Users: 40, Conversions: conv},
			stats.Arm{ID: "b", Users: 40, Conversions: conv},
			stats.DefaultOptions(),
		)
		if res.Significant || res.Message != stats.MsgNoVariance {
			t.Errorf("conversions=%d: got %+v, want no-variance result", conv, res)
		}
	}
}

func TestCompare_RepeatConversions(t *testing.T) {
	// Raw event counts may exceed users; the pooled test uses them as-is.
	res := stats.Compare(
		stats.Arm{ID: "a", Users: 50, Conversions: 10},
		stats.Arm{ID: "b", Users: 50, Conversions: 60},
		stats.DefaultOptions(),
	)
	if res.Message != "" {
		t.Fatalf("unexpected message %q", res.Message)
	}
	if math.Abs(res.ZScore-10.910895) > 1e-4 {
		t.Errorf("z = %f, want 10.910895", res.ZScore)
	}
	if math.Abs(res.Effect-500) > 1e-9 {
		t.Errorf("effect = %f, want 500", res.Effect)
	}
	if !res.Significant {
		t.Error("expected significant result")
	}
}

func TestCompare_PooledRateAboveOne(t *testing.T) {
	res := stats.Compare(
		stats.Arm{ID: "a", Users: 40, Conversions: 50},
		stats.Arm{ID: "b", Users: 40, Conversions: 90},
		stats.DefaultOptions(),
	)
	if res.Message != stats.MsgRateOutOfRange {
		t.Errorf("message = %q, want %q", res.Message, stats.MsgRateOutOfRange)
	}
	if res.Significant || math.IsNaN(res.ZScore) || math.IsNaN(res.Confidence) {
		t.Errorf("got %+v, want an empty non-significant result", res)
	}
}

func TestCompare_ZeroControlRate(t *testing.T) {
	res := stats.Compare(
		stats.Arm{ID: "a", Users: 100, Conversions: 0},
		stats.Arm{ID: "b", Users: 100, Conversions: 10},
		stats.DefaultOptions(),
	)
	if res.Effect != 0 {
		t.Errorf("effect = %f, want 0 when control rate is 0", res.Effect)
	}
	if res.ZScore <= 0 {
		t.Errorf("z = %f, want positive", res.ZScore)
	}
}

func TestCompare_CustomThreshold(t *testing.T) {
	control := stats.Arm{ID: "a", Users: 200, Conversions: 40}
	treatment := stats.Arm{ID: "b", Users: 200, Conversions: 55}

	loose := stats.Compare(control, treatment, stats.Options{MinSampleSize: 30, Threshold: 80})
	strict := stats.Compare(control, treatment, stats.Options{MinSampleSize: 30, Threshold: 99.9})

	if !loose.Significant {
		t.Errorf("expected significant at 80%%, confidence %f", loose.Confidence)
	}
	if strict.Significant {
		t.Errorf("expected not significant at 99.9%%, confidence %f", strict.Confidence)
	}
}

func TestAnalyze_ControlAgainstEachTreatment(t *testing.T) {
	arms := []stats.Arm{
		{ID: "a", Users: 100, Conversions: 30},
		{ID: "b", Users: 100, Conversions: 50},
		{ID: "c", Users: 100, Conversions: 31},
	}

	headline, all := stats.Analyze(arms, "a", stats.DefaultOptions())

	if len(all) != 2 {
		t.Fatalf("got %d comparisons, want 2", len(all))
	}
	if headline.Treatment != "b" {
		t.Errorf("headline treatment = %s, want b", headline.Treatment)
	}
	if all[1].Treatment != "c" || all[1].Control != "a" {
		t.Errorf("second comparison = %s vs %s, want a vs c", all[1].Control, all[1].Treatment)
	}
}

func TestAnalyze_ExplicitControl(t *testing.T) {
	arms := []stats.Arm{
		{ID: "a", Users: 100, Conversions: 30},
		{ID: "b", Users: 100, Conversions: 50},
	}

	headline, _ := stats.Analyze(arms, "b", stats.DefaultOptions())
	if headline.Control != "b" || headline.Treatment != "a" {
		t.Errorf("got %s vs %s, want b vs a", headline.Control, headline.Treatment)
	}
	if headline.Effect >= 0 {
		t.Errorf("effect = %f, want negative lift", headline.Effect)
	}
}

func TestAnalyze_SingleVariant(t *testing.T) {
	headline, all := stats.Analyze([]stats.Arm{{ID: "a", Users: 100}}, "a", stats.DefaultOptions())
	if headline.Significant || headline.Message != stats.MsgTooFewVariants {
		t.Errorf("got %+v, want too-few-variants result", headline)
	}
	if all != nil {
		t.Errorf("expected no comparisons, got %d", len(all))
	}
}
