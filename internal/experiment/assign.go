package experiment

import (
	"context"
	"fmt"
	"sort"

	"github.com/gkobilansky/riff/internal/bucket"
	"github.com/gkobilansky/riff/internal/metrics"
	"github.com/gkobilansky/riff/internal/store"
)

// Assign returns the subject's assignment for the test, creating it on first
// call. Once created the variant never changes; repeat calls have no side
// effects. Concurrent first calls for the same pair serialize on the pair's
// shard lock, so exactly one of them buckets the subject and bumps counters.
//
// A stopped test still returns existing assignments but refuses new ones with
// ErrTestNotActive.
func (e *Engine) Assign(ctx context.Context, subjectID, testID string) (*store.Assignment, error) {
	if subjectID == "" {
		return nil, ErrInvalidSubject
	}
	entry := e.entry(testID)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}

	key := assignmentKey{testID: testID, subjectID: subjectID}
	sh := e.shard(testID, subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if a, ok := sh.m[key]; ok {
		return a.Clone(), nil
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	if entry.test.Status != store.StatusActive {
		return nil, fmt.Errorf("%w: %s", ErrTestNotActive, testID)
	}

	v := bucket.Select(entry.test.Variants, bucket.Key(testID, subjectID))
	a := &store.Assignment{
		SubjectID:  subjectID,
		TestID:     testID,
		VariantID:  v.ID,
		AssignedAt: e.now(),
	}

	if e.store != nil {
		if err := e.store.SaveAssignment(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to persist assignment: %w", err)
		}
	}
	sh.m[key] = a

	entry.statsMu.Lock()
	entry.test.TotalUsers++
	entry.test.Conversions[v.ID].Users++
	entry.statsMu.Unlock()

	metrics.Assignments.WithLabelValues(testID, v.ID).Inc()
	e.log.Debug().Str("test_id", testID).Str("subject_id", subjectID).Str("variant", v.ID).Msg("subject assigned")

	return a.Clone(), nil
}

// Assignment looks up an existing assignment without creating one.
func (e *Engine) Assignment(ctx context.Context, subjectID, testID string) (*store.Assignment, error) {
	if e.entry(testID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}

	sh := e.shard(testID, subjectID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	a, ok := sh.m[assignmentKey{testID: testID, subjectID: subjectID}]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotAssigned, subjectID, testID)
	}
	return a.Clone(), nil
}

// Assignments returns copies of every assignment in the test, ordered by
// assignment time then subject.
func (e *Engine) Assignments(ctx context.Context, testID string) ([]*store.Assignment, error) {
	if e.entry(testID) == nil {
		return nil, fmt.Errorf("%w: %s", ErrTestNotFound, testID)
	}

	var out []*store.Assignment
	for i := range e.shards {
		sh := &e.shards[i]
		sh.mu.Lock()
		for k, a := range sh.m {
			if k.testID == testID {
				out = append(out, a.Clone())
			}
		}
		sh.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	return out, nil
}
