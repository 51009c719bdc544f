package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gkobilansky/riff/internal/store"
)

func setupTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

var created = time.UnixMilli(1767268800000)

func sampleTest(id string) *store.Test {
	return &store.Test{
		ID:          id,
		Name:        "Discovery shelf",
		Description: "grid vs carousel",
		Variants: []store.Variant{
			{ID: "a", Name: "Grid", Weight: 3, Config: map[string]any{"layout": "grid"}},
			{ID: "b", Name: "Carousel", Weight: 1},
		},
		Metrics:        []string{"clicks", "listening_time"},
		Priority:       2,
		ControlVariant: "a",
		StartDate:      created,
		EndDate:        created.Add(30 * 24 * time.Hour),
		Status:         store.StatusActive,
		CreatedAt:      created,
	}
}

func TestOpen(t *testing.T) {
	s := setupTestDB(t)
	if err := s.DB().Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTest(context.Background(), sampleTest("shelf")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = store.Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	tests, err := s.ListTests(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tests) != 1 {
		t.Errorf("got %d tests after reopen, want 1", len(tests))
	}
}

func TestSaveTest_RoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	want := sampleTest("shelf")
	if err := s.SaveTest(ctx, want); err != nil {
		t.Fatalf("failed to save test: %v", err)
	}

	tests, err := s.ListTests(ctx)
	if err != nil {
		t.Fatalf("failed to list tests: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("got %d tests, want 1", len(tests))
	}
	if diff := cmp.Diff(want, tests[0]); diff != "" {
		t.Errorf("test mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveTest_Duplicate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.SaveTest(ctx, sampleTest("shelf")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTest(ctx, sampleTest("shelf")); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestListTests_Order(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	later := sampleTest("later")
	later.CreatedAt = created.Add(time.Hour)
	for _, test := range []*store.Test{later, sampleTest("zeta"), sampleTest("alpha")} {
		if err := s.SaveTest(ctx, test); err != nil {
			t.Fatal(err)
		}
	}

	tests, err := s.ListTests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, test := range tests {
		ids = append(ids, test.ID)
	}
	if diff := cmp.Diff([]string{"alpha", "zeta", "later"}, ids); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}

func TestUpdateTestStatus(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.SaveTest(ctx, sampleTest("shelf")); err != nil {
		t.Fatal(err)
	}

	end := created.Add(48 * time.Hour)
	if err := s.UpdateTestStatus(ctx, "shelf", store.StatusStopped, end); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}

	tests, _ := s.ListTests(ctx)
	if tests[0].Status != store.StatusStopped {
		t.Errorf("got status %s, want stopped", tests[0].Status)
	}
	if !tests[0].EndDate.Equal(end) {
		t.Errorf("got end date %s, want %s", tests[0].EndDate, end)
	}
}

func TestUpdateTestStatus_NotFound(t *testing.T) {
	s := setupTestDB(t)

	err := s.UpdateTestStatus(context.Background(), "missing", store.StatusStopped, created)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAssignmentsWithEvents(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.SaveTest(ctx, sampleTest("shelf")); err != nil {
		t.Fatal(err)
	}
	for i, subject := range []string{"u1", "u2"} {
		a := &store.Assignment{SubjectID: subject, TestID: "shelf", VariantID: "a", AssignedAt: created.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveAssignment(ctx, a); err != nil {
			t.Fatalf("failed to save assignment: %v", err)
		}
	}

	events := []store.Event{
		{Type: "track_play", Data: map[string]any{"duration": 212.5}, Timestamp: created.Add(time.Second)},
		{Type: "recommendation_click", Timestamp: created.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := s.AppendEvent(ctx, "shelf", "u2", e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	got, err := s.ListAssignments(ctx)
	if err != nil {
		t.Fatalf("failed to list assignments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d assignments, want 2", len(got))
	}
	if got[0].SubjectID != "u1" || len(got[0].Events) != 0 {
		t.Errorf("first assignment = %+v, want u1 with no events", got[0])
	}
	if diff := cmp.Diff(events, got[1].Events); diff != "" {
		t.Errorf("u2 events (-want +got):\n%s", diff)
	}
}

func TestSaveAssignment_Duplicate(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if err := s.SaveTest(ctx, sampleTest("shelf")); err != nil {
		t.Fatal(err)
	}
	a := &store.Assignment{SubjectID: "u1", TestID: "shelf", VariantID: "a", AssignedAt: created}
	if err := s.SaveAssignment(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAssignment(ctx, a); err == nil {
		t.Fatal("expected error for second assignment of the same pair")
	}
}
