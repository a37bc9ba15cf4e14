// Package kv wraps the external in-memory data store's scored-set and
// field-map primitives behind a small typed interface, per spec.md §4.A.
// The conditional-remove primitive is the one piece of business logic
// that must execute atomically inside the store; everything else is a
// thin pass-through.
package kv

import (
	"context"
	"time"
)

// RemoveOutcome is the result of a conditional remove.
type RemoveOutcome int

const (
	// Removed means the member's score was strictly below the threshold
	// and the member was atomically removed.
	Removed RemoveOutcome = iota
	// Aborted means the member's score was at or above the threshold (or
	// the member was already absent); nothing was removed.
	Aborted
)

// RemoveResult reports the outcome of ScoredSet.RemoveIfScoreBelow along
// with the score observed by the store at the time of the check, when one
// existed.
type RemoveResult struct {
	Outcome       RemoveOutcome
	ObservedScore *float64
}

// Client is the typed KV adapter described in spec.md §4.A. All methods
// may block on I/O and may return ErrTransient or ErrFatal.
type Client interface {
	// ScoredSetUpsert inserts or updates member's score in key. O(log n).
	ScoredSetUpsert(ctx context.Context, key, member string, score float64) error

	// ScoredSetRangeByScore returns up to limit members of key with score
	// <= upper, in non-decreasing score order.
	ScoredSetRangeByScore(ctx context.Context, key string, upper float64, limit int64) ([]string, error)

	// ScoredSetRemoveIfScoreBelow atomically removes member from key iff
	// its current score is strictly less than threshold. This MUST
	// execute as a single transactional unit inside the store.
	ScoredSetRemoveIfScoreBelow(ctx context.Context, key, member string, threshold float64) (RemoveResult, error)

	// ScoredSetScore returns member's current score. ok is false if the
	// member is absent. Each call is one round trip; it is not pipelined.
	ScoredSetScore(ctx context.Context, key, member string) (score float64, ok bool, err error)

	// MapSetFields writes fields into the hash at key. A positive ttl
	// resets the hash's expiry; zero leaves it unmanaged/unchanged.
	MapSetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// MapGetAll returns every field of the hash at key. Returns
	// ErrNotFound if the hash does not exist.
	MapGetAll(ctx context.Context, key string) (map[string]string, error)

	// MapGetField returns a single field's value. Returns ErrNotFound if
	// the hash or field is absent.
	MapGetField(ctx context.Context, key, field string) (string, error)
}
