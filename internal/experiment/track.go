package experiment

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/gkobilansky/riff/internal/metrics"
	"github.com/gkobilansky/riff/internal/store"
)

// Event types with metric effects.
const (
	EventRecommendationView  = "recommendation_view"
	EventRecommendationClick = "recommendation_click"
	EventTrackPlay           = "track_play"
	EventTrackSkip           = "track_skip"
	EventTrackLike           = "track_like"
	EventTrackDislike        = "track_dislike"
	EventPlaylistSave        = "playlist_save"
	EventSessionEnd          = "session_end"
)

// Metric names a test may track.
const (
	MetricImpressions      = "impressions"
	MetricClicks           = "clicks"
	MetricClickThroughRate = "click_through_rate"
	MetricPlays            = "plays"
	MetricListeningTime    = "listening_time"
	MetricSkips            = "skips"
	MetricSkipRate         = "skip_rate"
	MetricLikes            = "likes"
	MetricDislikes         = "dislikes"
	MetricSatisfaction     = "satisfaction"
	MetricSaves            = "saves"
	MetricSessionLength    = "session_length"
)

// metricUpdate adds one observation to a named metric. value reports false
// when the event lacks what the metric needs.
type metricUpdate struct {
	metric string
	value  func(data map[string]any) (float64, bool)
}

func constant(v float64) func(map[string]any) (float64, bool) {
	return func(map[string]any) (float64, bool) { return v, true }
}

func field(name string) func(map[string]any) (float64, bool) {
	return func(data map[string]any) (float64, bool) {
		return number(data[name])
	}
}

// Rate-style metrics take 1 for a hit and 0 for a miss, so their Average is
// the rate itself.
var eventMetrics = map[string][]metricUpdate{
	EventRecommendationView: {
		{MetricImpressions, constant(1)},
		{MetricClickThroughRate, constant(0)},
	},
	EventRecommendationClick: {
		{MetricClicks, constant(1)},
		{MetricClickThroughRate, constant(1)},
	},
	EventTrackPlay: {
		{MetricPlays, constant(1)},
		{MetricListeningTime, field("duration")},
		{MetricSkipRate, constant(0)},
	},
	EventTrackSkip: {
		{MetricSkips, constant(1)},
		{MetricSkipRate, constant(1)},
	},
	EventTrackLike: {
		{MetricLikes, constant(1)},
		{MetricSatisfaction, constant(1)},
	},
	EventTrackDislike: {
		{MetricDislikes, constant(1)},
		{MetricSatisfaction, constant(0)},
	},
	EventPlaylistSave: {
		{MetricSaves, constant(1)},
	},
	EventSessionEnd: {
		{MetricSessionLength, field("duration")},
	},
}

var knownMetrics = func() map[string]bool {
	m := make(map[string]bool)
	for _, updates := range eventMetrics {
		for _, u := range updates {
			m[u.metric] = true
		}
	}
	return m
}()

// KnownMetrics lists every metric some event type updates, sorted.
func KnownMetrics() []string {
	out := make([]string, 0, len(knownMetrics))
	for m := range knownMetrics {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func IsKnownMetric(name string) bool {
	return knownMetrics[name]
}

// Track records an event against the subject's existing assignment and folds
// it into the variant's counters. It never assigns and never fails: events for
// unknown tests, unassigned subjects or stopped tests are logged and dropped
// so event delivery can't break the caller's request.
func (e *Engine) Track(ctx context.Context, subjectID, testID, eventType string, data map[string]any) {
	logEvt := func(reason string) {
		metrics.EventsIgnored.WithLabelValues(reason).Inc()
		e.log.Warn().
			Str("test_id", testID).
			Str("subject_id", subjectID).
			Str("event", eventType).
			Str("reason", reason).
			Msg("event ignored")
	}

	if eventType == "" {
		logEvt(metrics.ReasonInvalidEvent)
		return
	}
	entry := e.entry(testID)
	if entry == nil {
		logEvt(metrics.ReasonUnknownTest)
		return
	}

	sh := e.shard(testID, subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.m[assignmentKey{testID: testID, subjectID: subjectID}]
	if !ok {
		logEvt(metrics.ReasonUnassigned)
		return
	}

	// The read lock holds off StopTest while the event is written, without
	// serializing other subjects' events behind the insert.
	entry.mu.RLock()
	defer entry.mu.RUnlock()

	if entry.test.Status != store.StatusActive {
		logEvt(metrics.ReasonStoppedTest)
		return
	}

	ev := store.Event{Type: eventType, Data: data, Timestamp: e.now()}
	if e.store != nil {
		if err := e.store.AppendEvent(ctx, testID, subjectID, ev); err != nil {
			metrics.EventsIgnored.WithLabelValues(metrics.ReasonPersistError).Inc()
			e.log.Error().Err(err).Str("test_id", testID).Str("subject_id", subjectID).Str("event", eventType).Msg("failed to persist event, dropping it")
			return
		}
	}

	a.Events = append(a.Events, ev)

	entry.statsMu.Lock()
	e.fold(entry.test, a.VariantID, ev)
	entry.statsMu.Unlock()

	metrics.Events.WithLabelValues(testID, eventType).Inc()
}

// fold applies one event to the variant's stats. Callers hold the test's
// write lock, or its read lock plus statsMu.
func (e *Engine) fold(t *store.Test, variantID string, ev store.Event) {
	vs, ok := t.Conversions[variantID]
	if !ok {
		return
	}
	vs.Events[ev.Type]++

	for _, u := range eventMetrics[ev.Type] {
		if !t.Tracks(u.metric) {
			continue
		}
		v, ok := u.value(ev.Data)
		if !ok {
			e.log.Debug().Str("test_id", t.ID).Str("event", ev.Type).Str("metric", u.metric).Msg("event has no value for metric")
			continue
		}
		mv := vs.Metrics[u.metric]
		if mv == nil {
			mv = &store.MetricValue{}
			vs.Metrics[u.metric] = mv
		}
		mv.Add(v)
	}
}

// number accepts the numeric shapes event data arrives in: Go numbers from
// callers and json.Number from decoders using UseNumber.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
