// Package experiment is the A/B testing engine: a registry of tests, the
// idempotent subject assignment store, the event tracker, and results.
//
// An Engine is an explicit handle; create as many as needed. State lives in
// memory and is written through to an optional store.Store, from which Load
// rebuilds counters and metric accumulators on startup.
package experiment

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gkobilansky/riff/internal/bucket"
	"github.com/gkobilansky/riff/internal/logging"
	"github.com/gkobilansky/riff/internal/metrics"
	"github.com/gkobilansky/riff/internal/stats"
	"github.com/gkobilansky/riff/internal/store"
)

const shardCount = 64

// CollisionPolicy decides what MergedConfig does when two tests' variant
// configs set the same key.
type CollisionPolicy string

const (
	CollisionOverride CollisionPolicy = "override" // later test in precedence order wins
	CollisionError    CollisionPolicy = "error"
)

type Engine struct {
	mu    sync.RWMutex // guards tests
	tests map[string]*testEntry

	shards [shardCount]assignmentShard

	store           store.Store
	log             zerolog.Logger
	analysis        stats.Options
	primaryEvent    string
	defaultDuration time.Duration
	collisions      CollisionPolicy
	now             func() time.Time
}

// testEntry guards one test's mutable state. Lock order is always
// assignment shard, then mu, then statsMu.
//
// Assign and Track hold mu for reading across their store write, so a
// concurrent StopTest waits for in-flight writes and what is in memory
// matches what Load replays. Counter updates under the read lock take
// statsMu; holding mu for writing excludes both.
type testEntry struct {
	mu      sync.RWMutex
	statsMu sync.Mutex // TotalUsers and Conversions while mu is read-held
	test    *store.Test
}

type assignmentKey struct {
	testID    string
	subjectID string
}

type assignmentShard struct {
	mu sync.Mutex
	m  map[assignmentKey]*store.Assignment
}

type Option func(*Engine)

// WithStore writes tests, assignments and events through to s.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithAnalysis sets the significance thresholds used by results.
func WithAnalysis(opts stats.Options) Option {
	return func(e *Engine) { e.analysis = opts }
}

// WithPrimaryEvent sets the event type counted as a conversion.
func WithPrimaryEvent(eventType string) Option {
	return func(e *Engine) {
		if eventType != "" {
			e.primaryEvent = eventType
		}
	}
}

// WithDefaultDuration sets how long a test runs when its definition has no end date.
func WithDefaultDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.defaultDuration = d
		}
	}
}

func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(e *Engine) { e.collisions = p }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(opts ...Option) *Engine {
	e := &Engine{
		tests:           make(map[string]*testEntry),
		log:             logging.Component("experiment"),
		analysis:        stats.DefaultOptions(),
		primaryEvent:    EventRecommendationClick,
		defaultDuration: 30 * 24 * time.Hour,
		collisions:      CollisionOverride,
		now:             time.Now,
	}
	for i := range e.shards {
		e.shards[i].m = make(map[assignmentKey]*store.Assignment)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TestSummary is the list view of a test.
type TestSummary struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Status      store.TestStatus `json:"status"`
	Priority    int              `json:"priority"`
	StartDate   time.Time        `json:"start_date"`
	EndDate     time.Time        `json:"end_date"`
	TotalUsers  int              `json:"total_users"`
	Variants    []VariantSummary `json:"variants"`
	createdAt   time.Time
}

type VariantSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Weight int    `json:"weight"`
}

// CreateTest validates def and registers a new active test. Nothing is
// mutated when validation or persistence fails.
func (e *Engine) CreateTest(ctx context.Context, def Definition) (*store.Test, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := e.now()
	t := &store.Test{
		ID:             def.ID,
		Name:           def.Name,
		Description:    def.Description,
		Metrics:        append([]string(nil), def.Metrics...),
		Priority:       def.Priority,
		ControlVariant: def.ControlVariant,
		StartDate:      def.StartDate,
		EndDate:        def.EndDate,
		Status:         store.StatusActive,
		Conversions:    make(map[string]*store.VariantStats, len(def.Variants)),
		CreatedAt:      now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.StartDate.IsZero() {
		t.StartDate = now
	}
	if t.EndDate.IsZero() {
		t.EndDate = t.StartDate.Add(e.defaultDuration)
	}
	if !t.EndDate.After(t.StartDate) {
		return nil, fmt.Errorf("%w: end date must be after start date", ErrInvalidDefinition)
	}
	for _, v := range def.Variants {
		name := v.Name
		if name == "" {
			name = v.ID
		}
		t.Variants = append(t.Variants, store.Variant{ID: v.ID, Name: name, Weight: v.Weight, Config: maps.Clone(v.Config)})
		t.Conversions[v.ID] = store.NewVariantStats(t.Metrics)
	}
	if t.ControlVariant == "" {
		t.ControlVariant = t.Variants[0].ID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tests[t.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTestExists, t.ID)
	}
	if e.store != nil {
		if err := e.store.SaveTest(ctx, t); err != nil {
			return nil, fmt.Errorf("failed to persist test: %w", err)
		}
	}
	e.tests[t.ID] = &testEntry{test: t}
	metrics.ActiveTests.Inc()

	e.log.Info().Str("test_id", t.ID).Int("variants", len(t.Variants)).Msg("test created")
	return t.Clone(), nil
}

// Test returns a snapshot of the test.
func (e *Engine) Test(ctx context.Context, testID string) (*store.Test, error) {
	entry := e.entry(testID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	entry.statsMu.Lock()
	defer entry.statsMu.Unlock()
	return entry.test.Clone(), nil
}

// ListTests returns every test in merge precedence order.
func (e *Engine) ListTests(ctx context.Context) []TestSummary {
	return e.summaries(func(*store.Test) bool { return true })
}

// ListActive returns active tests whose end date has not passed, in merge
// precedence order.
func (e *Engine) ListActive(ctx context.Context) []TestSummary {
	now := e.now()
	return e.summaries(func(t *store.Test) bool { return isLive(t, now) })
}

// StopTest moves the test to stopped and returns its final results.
// Stopping an already stopped test keeps the original end date.
func (e *Engine) StopTest(ctx context.Context, testID string) (*Results, error) {
	entry := e.entry(testID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}

	entry.mu.Lock()
	if entry.test.Status != store.StatusStopped {
		end := e.now()
		if e.store != nil {
			if err := e.store.UpdateTestStatus(ctx, testID, store.StatusStopped, end); err != nil {
				entry.mu.Unlock()
				return nil, fmt.Errorf("failed to persist test status: %w", err)
			}
		}
		entry.test.Status = store.StatusStopped
		entry.test.EndDate = end
		metrics.ActiveTests.Dec()
		e.log.Info().Str("test_id", testID).Int("total_users", entry.test.TotalUsers).Msg("test stopped")
	}
	entry.mu.Unlock()

	return e.GetResults(ctx, testID)
}

// Load rebuilds engine state from the configured store. It expects an empty
// engine; counters are recomputed by replaying assignments and events.
func (e *Engine) Load(ctx context.Context) error {
	if e.store == nil {
		return nil
	}

	tests, err := e.store.ListTests(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tests: %w", err)
	}

	e.mu.Lock()
	for _, t := range tests {
		t.Conversions = make(map[string]*store.VariantStats, len(t.Variants))
		for _, v := range t.Variants {
			t.Conversions[v.ID] = store.NewVariantStats(t.Metrics)
		}
		if t.ControlVariant == "" && len(t.Variants) > 0 {
			t.ControlVariant = t.Variants[0].ID
		}
		e.tests[t.ID] = &testEntry{test: t}
		if t.Status == store.StatusActive {
			metrics.ActiveTests.Inc()
		}
	}
	e.mu.Unlock()

	assignments, err := e.store.ListAssignments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load assignments: %w", err)
	}

	replayed := 0
	for _, a := range assignments {
		entry := e.entry(a.TestID)
		if entry == nil {
			e.log.Warn().Str("test_id", a.TestID).Str("subject_id", a.SubjectID).Msg("assignment references unknown test, skipping")
			continue
		}

		sh := e.shard(a.TestID, a.SubjectID)
		sh.mu.Lock()
		sh.m[assignmentKey{a.TestID, a.SubjectID}] = a
		sh.mu.Unlock()

		entry.mu.Lock()
		if vs, ok := entry.test.Conversions[a.VariantID]; ok {
			entry.test.TotalUsers++
			vs.Users++
			for _, ev := range a.Events {
				e.fold(entry.test, a.VariantID, ev)
				replayed++
			}
		}
		entry.mu.Unlock()
	}

	e.log.Info().
		Int("tests", len(tests)).
		Int("assignments", len(assignments)).
		Int("events", replayed).
		Msg("state loaded")
	return nil
}

func (e *Engine) entry(testID string) *testEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tests[testID]
}

func (e *Engine) shard(testID, subjectID string) *assignmentShard {
	return &e.shards[xxhash.Sum64String(bucket.Key(testID, subjectID))%shardCount]
}

func (e *Engine) summaries(keep func(*store.Test) bool) []TestSummary {
	e.mu.RLock()
	entries := make([]*testEntry, 0, len(e.tests))
	for _, entry := range e.tests {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	out := make([]TestSummary, 0, len(entries))
	for _, entry := range entries {
		entry.mu.RLock()
		entry.statsMu.Lock()
		if keep(entry.test) {
			out = append(out, summarize(entry.test))
		}
		entry.statsMu.Unlock()
		entry.mu.RUnlock()
	}

	sort.Slice(out, func(i, j int) bool {
		return precedes(out[i], out[j])
	})
	return out
}

// precedes orders tests for config merging: lower priority first so higher
// priority tests are applied last, then creation time, then ID.
func precedes(a, b TestSummary) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.ID < b.ID
}

func summarize(t *store.Test) TestSummary {
	s := TestSummary{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		StartDate:   t.StartDate,
		EndDate:     t.EndDate,
		TotalUsers:  t.TotalUsers,
		createdAt:   t.CreatedAt,
	}
	for _, v := range t.Variants {
		s.Variants = append(s.Variants, VariantSummary{ID: v.ID, Name: v.Name, Weight: v.Weight})
	}
	return s
}

func isLive(t *store.Test, now time.Time) bool {
	return t.Status == store.StatusActive && now.Before(t.EndDate)
}
