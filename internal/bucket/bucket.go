// Package bucket maps identifiers onto weighted variants.
//
// Selection is a pure function of the variant list and the key: the same
// inputs pick the same variant in every process, so callers can recompute a
// bucket without consulting storage. The hash is xxhash64; it only needs to be
// fast and uniform, not collision resistant.
package bucket

import (
	"github.com/cespare/xxhash/v2"
	"github.com/gkobilansky/riff/internal/store"
)

// Key builds the bucketing key for a subject within a test. Salting with the
// test ID keeps a subject's buckets independent across tests.
func Key(testID, subjectID string) string {
	return testID + ":" + subjectID
}

// Point reduces key to a position in [1, total].
func Point(key string, total int) int {
	if total <= 0 {
		return 1
	}
	return int(xxhash.Sum64String(key)%uint64(total)) + 1
}

// TotalWeight sums the positive weights of variants.
func TotalWeight(variants []store.Variant) int {
	total := 0
	for _, v := range variants {
		if v.Weight > 0 {
			total += v.Weight
		}
	}
	return total
}

// Select returns the variant whose cumulative weight first reaches the key's
// point. The point range is the total weight, so weights that do not sum to
// 100 are honoured proportionally. variants must be non-empty.
func Select(variants []store.Variant, key string) store.Variant {
	point := Point(key, TotalWeight(variants))

	cumulative := 0
	for _, v := range variants {
		if v.Weight <= 0 {
			continue
		}
		cumulative += v.Weight
		if cumulative >= point {
			return v
		}
	}

	return variants[0]
}
