package store

import "time"

type TestStatus string

const (
	StatusActive  TestStatus = "active"
	StatusStopped TestStatus = "stopped"
)

type Test struct {
	ID             string
	Name           string
	Description    string
	Variants       []Variant // Declaration order drives bucketing
	Metrics        []string
	Priority       int    // Higher priority wins merged-config collisions
	ControlVariant string // Baseline for significance comparisons
	StartDate      time.Time
	EndDate        time.Time
	Status         TestStatus
	TotalUsers     int
	Conversions    map[string]*VariantStats // Keyed by variant ID
	CreatedAt      time.Time
}

type Variant struct {
	ID     string
	Name   string
	Weight int
	Config map[string]any
}

type VariantStats struct {
	Users   int
	Events  map[string]int
	Metrics map[string]*MetricValue
}

// MetricValue is a running accumulator; Average is always Total/Count.
type MetricValue struct {
	Total   float64
	Count   int
	Average float64
}

// Add folds one observation into the accumulator.
func (m *MetricValue) Add(v float64) {
	m.Total += v
	m.Count++
	m.Average = m.Total / float64(m.Count)
}

type Assignment struct {
	SubjectID  string
	TestID     string
	VariantID  string
	AssignedAt time.Time
	Events     []Event
}

type Event struct {
	Type      string
	Data      map[string]any
	Timestamp time.Time
}

// NewVariantStats returns zeroed stats with an accumulator for every metric.
func NewVariantStats(metrics []string) *VariantStats {
	vs := &VariantStats{
		Events:  make(map[string]int),
		Metrics: make(map[string]*MetricValue, len(metrics)),
	}
	for _, m := range metrics {
		vs.Metrics[m] = &MetricValue{}
	}
	return vs
}

// Clone returns a deep copy safe to hand out after the owner's lock is released.
func (vs *VariantStats) Clone() *VariantStats {
	out := &VariantStats{
		Users:   vs.Users,
		Events:  make(map[string]int, len(vs.Events)),
		Metrics: make(map[string]*MetricValue, len(vs.Metrics)),
	}
	for k, v := range vs.Events {
		out.Events[k] = v
	}
	for k, v := range vs.Metrics {
		mv := *v
		out.Metrics[k] = &mv
	}
	return out
}

// Clone deep-copies the test including its stats. Variant configs are shared;
// they are never mutated after creation.
func (t *Test) Clone() *Test {
	out := *t
	out.Variants = append([]Variant(nil), t.Variants...)
	out.Metrics = append([]string(nil), t.Metrics...)
	out.Conversions = make(map[string]*VariantStats, len(t.Conversions))
	for id, vs := range t.Conversions {
		out.Conversions[id] = vs.Clone()
	}
	return &out
}

// Clone copies the assignment and its event log.
func (a *Assignment) Clone() *Assignment {
	out := *a
	out.Events = append([]Event(nil), a.Events...)
	return &out
}

// Variant returns the variant with the given ID.
func (t *Test) Variant(id string) (Variant, bool) {
	for _, v := range t.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Tracks reports whether the test accumulates the named metric.
func (t *Test) Tracks(metric string) bool {
	for _, m := range t.Metrics {
		if m == metric {
			return true
		}
	}
	return false
}
