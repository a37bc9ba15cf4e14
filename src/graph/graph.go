// Package graph answers "are these two users mutual follows?" against the
// durable social-graph store, per spec.md §4.B. The durable store itself
// is an external collaborator (spec.md §1); this package only adapts it
// and adds the bounded positive-result cache spec.md requires.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ErrTransient indicates the follow store was unreachable; spec.md §4.B
// requires the caller to treat this as authorization denied, never as an
// ambiguous "maybe."
var ErrTransient = errors.New("graph: transient")

// FollowStore answers single-direction follow-edge queries against the
// durable social graph. It is the external collaborator named in
// spec.md §1.
type FollowStore interface {
	// Follows reports whether `from` follows `to`.
	Follows(ctx context.Context, from, to int64) (bool, error)
}

// Adapter implements spec.md §4.B's IsMutual with a short-circuiting
// check and a bounded, TTL-limited positive cache.
type Adapter struct {
	store FollowStore
	cache *ttlcache.Cache[string, struct{}]
}

// New constructs a graph adapter. cacheTTL and capacity follow spec.md
// §4.B ("MAY cache positive answers in a bounded LRU for up to 60s").
func New(store FollowStore, cacheTTL time.Duration, capacity int) *Adapter {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](cacheTTL),
		ttlcache.WithCapacity[string, struct{}](uint64(capacity)),
	)
	go cache.Start()
	return &Adapter{store: store, cache: cache}
}

// Close stops the cache's background janitor goroutine.
func (a *Adapter) Close() {
	a.cache.Stop()
}

// IsMutual reports whether a and b mutually follow each other, per
// spec.md §4.B: short-circuit false if a→b is absent, otherwise check
// b→a. Cached negatives are never stored, since they could spuriously
// deny a follow that was just reciprocated.
func (a *Adapter) IsMutual(ctx context.Context, x, y int64) (bool, error) {
	key := pairKey(x, y)
	if item := a.cache.Get(key); item != nil {
		return true, nil
	}

	aToB, err := a.store.Follows(ctx, x, y)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if !aToB {
		return false, nil
	}

	bToA, err := a.store.Follows(ctx, y, x)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if !bToA {
		return false, nil
	}

	a.cache.Set(key, struct{}{}, ttlcache.DefaultTTL)
	return true, nil
}

// pairKey is order-independent: mutuality of (x,y) and (y,x) is the same
// fact, so both cache to one entry.
func pairKey(x, y int64) string {
	if x > y {
		x, y = y, x
	}
	return fmt.Sprintf("%d:%d", x, y)
}
