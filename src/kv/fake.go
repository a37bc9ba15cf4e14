package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory Client for unit tests that don't need a real (or
// miniredis-backed) store. It implements the same atomicity contract for
// ScoredSetRemoveIfScoreBelow by holding a single mutex across the whole
// check-then-remove, mirroring the Lua script's server-side atomicity.
type Fake struct {
	mu     sync.Mutex
	scores map[string]map[string]float64
	maps   map[string]map[string]string
}

// NewFake constructs an empty in-memory KV.
func NewFake() *Fake {
	return &Fake{
		scores: make(map[string]map[string]float64),
		maps:   make(map[string]map[string]string),
	}
}

func (f *Fake) ScoredSetUpsert(_ context.Context, key, member string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.scores[key]
	if !ok {
		set = make(map[string]float64)
		f.scores[key] = set
	}
	set[member] = score
	return nil
}

func (f *Fake) ScoredSetRangeByScore(_ context.Context, key string, upper float64, limit int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.scores[key]
	type pair struct {
		member string
		score  float64
	}
	var matches []pair
	for m, s := range set {
		if s <= upper {
			matches = append(matches, pair{m, s})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score < matches[j].score })
	if limit > 0 && int64(len(matches)) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i, p := range matches {
		out[i] = p.member
	}
	return out, nil
}

func (f *Fake) ScoredSetRemoveIfScoreBelow(_ context.Context, key, member string, threshold float64) (RemoveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := f.scores[key]
	score, ok := set[member]
	if !ok {
		return RemoveResult{Outcome: Aborted}, nil
	}
	observed := score
	if score < threshold {
		delete(set, member)
		return RemoveResult{Outcome: Removed, ObservedScore: &observed}, nil
	}
	return RemoveResult{Outcome: Aborted, ObservedScore: &observed}, nil
}

func (f *Fake) MapSetFields(_ context.Context, key string, fields map[string]string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[key]
	if !ok {
		m = make(map[string]string)
		f.maps[key] = m
	}
	for k, v := range fields {
		m[k] = v
	}
	return nil
}

func (f *Fake) MapGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[key]
	if !ok || len(m) == 0 {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out, nil
}

func (f *Fake) MapGetField(_ context.Context, key, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.maps[key]
	if !ok {
		return "", ErrNotFound
	}
	v, ok := m[field]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *Fake) ScoredSetScore(_ context.Context, key, member string) (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.scores[key][member]
	return s, ok, nil
}

var _ Client = (*Fake)(nil)
