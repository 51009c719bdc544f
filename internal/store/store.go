package store

import (
	"context"
	"time"
)

// Store persists the durable experiment records. Counters and metric
// accumulators are derived data and are rebuilt from assignments and events.
type Store interface {
	// Test operations
	SaveTest(ctx context.Context, test *Test) error
	UpdateTestStatus(ctx context.Context, id string, status TestStatus, endDate time.Time) error
	ListTests(ctx context.Context) ([]*Test, error)

	// Assignment operations
	SaveAssignment(ctx context.Context, a *Assignment) error
	AppendEvent(ctx context.Context, testID, subjectID string, e Event) error
	ListAssignments(ctx context.Context) ([]*Assignment, error)

	// Lifecycle
	Close() error
}
