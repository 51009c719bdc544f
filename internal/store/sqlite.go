package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    variants TEXT NOT NULL,
    metrics TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    control_variant TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    start_date INTEGER NOT NULL,
    end_date INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS assignments (
    test_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL,
    PRIMARY KEY (test_id, subject_id),
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE TABLE IF NOT EXISTS assignment_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    data TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (test_id, subject_id) REFERENCES assignments(test_id, subject_id)
);

CREATE INDEX IF NOT EXISTS idx_events_assignment ON assignment_events(test_id, subject_id);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// storedVariant is the JSON shape of a variant inside the tests.variants column.
type storedVariant struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Weight int            `json:"weight"`
	Config map[string]any `json:"config,omitempty"`
}

func (s *SQLiteStore) SaveTest(ctx context.Context, test *Test) error {
	variants := make([]storedVariant, len(test.Variants))
	for i, v := range test.Variants {
		variants[i] = storedVariant{ID: v.ID, Name: v.Name, Weight: v.Weight, Config: v.Config}
	}
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}
	metricsJSON, err := json.Marshal(test.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tests (id, name, description, variants, metrics, priority, control_variant, status, start_date, end_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.Name, test.Description, string(variantsJSON), string(metricsJSON),
		test.Priority, test.ControlVariant, string(test.Status),
		test.StartDate.UnixMilli(), test.EndDate.UnixMilli(), test.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateTestStatus(ctx context.Context, id string, status TestStatus, endDate time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = ?, end_date = ? WHERE id = ?`,
		string(status), endDate.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListTests(ctx context.Context) ([]*Test, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, variants, metrics, priority, control_variant, status, start_date, end_date, created_at
		 FROM tests ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*Test
	for rows.Next() {
		var test Test
		var variantsJSON, metricsJSON string
		var startDate, endDate, createdAt int64

		err := rows.Scan(&test.ID, &test.Name, &test.Description, &variantsJSON, &metricsJSON,
			&test.Priority, &test.ControlVariant, &test.Status, &startDate, &endDate, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}

		var variants []storedVariant
		if err := json.Unmarshal([]byte(variantsJSON), &variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
		for _, v := range variants {
			test.Variants = append(test.Variants, Variant{ID: v.ID, Name: v.Name, Weight: v.Weight, Config: v.Config})
		}
		if err := json.Unmarshal([]byte(metricsJSON), &test.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}

		test.StartDate = time.UnixMilli(startDate)
		test.EndDate = time.UnixMilli(endDate)
		test.CreatedAt = time.UnixMilli(createdAt)
		tests = append(tests, &test)
	}

	return tests, rows.Err()
}

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a *Assignment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (test_id, subject_id, variant_id, assigned_at) VALUES (?, ?, ?, ?)`,
		a.TestID, a.SubjectID, a.VariantID, a.AssignedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, testID, subjectID string, e Event) error {
	var data []byte
	if len(e.Data) > 0 {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignment_events (test_id, subject_id, event_type, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		testID, subjectID, e.Type, nullableString(data), e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListAssignments returns every assignment with its event log in insertion order.
func (s *SQLiteStore) ListAssignments(ctx context.Context) ([]*Assignment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id, subject_id, variant_id, assigned_at FROM assignments ORDER BY assigned_at, test_id, subject_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	type key struct{ test, subject string }
	var assignments []*Assignment
	byKey := make(map[key]*Assignment)
	for rows.Next() {
		var a Assignment
		var assignedAt int64
		if err := rows.Scan(&a.TestID, &a.SubjectID, &a.VariantID, &assignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.AssignedAt = time.UnixMilli(assignedAt)
		assignments = append(assignments, &a)
		byKey[key{a.TestID, a.SubjectID}] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := s.db.QueryContext(ctx,
		`SELECT test_id, subject_id, event_type, data, created_at FROM assignment_events ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer evRows.Close()

	for evRows.Next() {
		var testID, subjectID string
		var e Event
		var data sql.NullString
		var createdAt int64
		if err := evRows.Scan(&testID, &subjectID, &e.Type, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &e.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
			}
		}
		e.Timestamp = time.UnixMilli(createdAt)

		a, ok := byKey[key{testID, subjectID}]
		if !ok {
			continue
		}
		a.Events = append(a.Events, e)
	}

	return assignments, evRows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
