// Package presencestore implements spec.md §4.D: a stateless façade over
// the KV adapter exposing heartbeat recording, semantic transitions,
// offline confirmation, and effective-status reads. It is grounded on the
// teacher's store.PresenceStore shape, generalized from an in-memory map
// with direct broadcast side effects to a façade that delegates all state
// to kv.Client and returns an Effect for the caller to publish.
package presencestore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"presence/src/kv"
)

// Status is the semantic status field of a presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// EffectKind classifies what, if anything, a store operation changed.
type EffectKind int

const (
	// EffectRefreshed means a heartbeat renewed liveness without a status
	// transition; nothing should be published.
	EffectRefreshed EffectKind = iota
	// EffectIgnored means the call was dropped (rate-limited heartbeat,
	// or a semantic transition on a user who is not effectively online).
	EffectIgnored
	// EffectUnchanged means the target status already held; no transition.
	EffectUnchanged
	// EffectTransitioned means the user's effective status changed to To.
	EffectTransitioned
)

// Effect is the result of a presence store write. Callers publish to the
// bus only when Kind == EffectTransitioned, per spec.md §4.D's debounce
// rule.
type Effect struct {
	Kind EffectKind
	To   Status
	Ts   int64
}

// Store is the façade described in spec.md §4.D. Params governs the
// heartbeat window, rate limit interval, key prefixes, and state TTL; all
// of it is supplied by the caller so the same Store works unsharded or
// sharded.
type Store struct {
	kv kv.Client

	heartbeatWindow time.Duration
	minInterval     time.Duration
	scoredSetPrefix string
	stateTTL        time.Duration
}

// Params bundles the configuration knobs Store needs from the service's
// configuration surface (spec.md §6).
type Params struct {
	HeartbeatWindow time.Duration
	MinInterval     time.Duration
	ScoredSetPrefix string
	StateTTL        time.Duration
}

func New(client kv.Client, p Params) *Store {
	return &Store{
		kv:              client,
		heartbeatWindow: p.HeartbeatWindow,
		minInterval:     p.MinInterval,
		scoredSetPrefix: p.ScoredSetPrefix,
		stateTTL:        p.StateTTL,
	}
}

const (
	fieldStatus          = "status"
	fieldUpdatedTs       = "updated_ts"
	fieldLastHeartbeatTs = "last_heartbeat_ts"
	fieldLastSeenTs      = "last_seen_ts"
)

// RecordHeartbeat implements spec.md §4.D recordHeartbeat. now and the
// computed expiry are Unix epoch seconds.
func (s *Store) RecordHeartbeat(ctx context.Context, shardKey, stateKey string, userID int64, now int64) (Effect, error) {
	member := strconv.FormatInt(userID, 10)

	last, err := s.kv.MapGetField(ctx, stateKey, fieldLastHeartbeatTs)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Effect{}, err
	}
	if err == nil {
		if lastTs, perr := strconv.ParseInt(last, 10, 64); perr == nil {
			if now-lastTs < int64(s.minInterval/time.Second) {
				return Effect{Kind: EffectIgnored}, nil
			}
		}
	}

	wasOnline, err := s.isEffectivelyOnline(ctx, shardKey, member, now)
	if err != nil {
		return Effect{}, err
	}

	expiry := float64(now) + s.heartbeatWindow.Seconds()
	if err := s.kv.ScoredSetUpsert(ctx, shardKey, member, expiry); err != nil {
		return Effect{}, err
	}

	fields := map[string]string{
		fieldLastHeartbeatTs: strconv.FormatInt(now, 10),
	}
	if !wasOnline {
		fields[fieldStatus] = string(StatusOnline)
		fields[fieldUpdatedTs] = strconv.FormatInt(now, 10)
	}
	if err := s.kv.MapSetFields(ctx, stateKey, fields, s.stateTTL); err != nil {
		return Effect{}, err
	}

	if !wasOnline {
		return Effect{Kind: EffectTransitioned, To: StatusOnline, Ts: now}, nil
	}
	return Effect{Kind: EffectRefreshed}, nil
}

// SetSemantic implements spec.md §4.D setSemantic. target must be
// StatusOnline or StatusAway.
func (s *Store) SetSemantic(ctx context.Context, shardKey, stateKey string, userID int64, target Status, now int64) (Effect, error) {
	member := strconv.FormatInt(userID, 10)

	online, err := s.isEffectivelyOnline(ctx, shardKey, member, now)
	if err != nil {
		return Effect{}, err
	}
	if !online {
		return Effect{Kind: EffectIgnored}, nil
	}

	current, err := s.kv.MapGetField(ctx, stateKey, fieldStatus)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Effect{}, err
	}
	if current == string(target) {
		return Effect{Kind: EffectUnchanged}, nil
	}

	fields := map[string]string{
		fieldStatus:    string(target),
		fieldUpdatedTs: strconv.FormatInt(now, 10),
	}
	if err := s.kv.MapSetFields(ctx, stateKey, fields, s.stateTTL); err != nil {
		return Effect{}, err
	}
	return Effect{Kind: EffectTransitioned, To: target, Ts: now}, nil
}

// ConfirmOffline implements spec.md §4.D confirmOffline, invoked by the
// reaper. threshold is conventionally now.
func (s *Store) ConfirmOffline(ctx context.Context, shardKey, stateKey string, userID int64, now int64) (Effect, error) {
	member := strconv.FormatInt(userID, 10)

	result, err := s.kv.ScoredSetRemoveIfScoreBelow(ctx, shardKey, member, float64(now))
	if err != nil {
		return Effect{}, err
	}
	if result.Outcome == kv.Aborted {
		return Effect{Kind: EffectUnchanged}, nil
	}

	fields := map[string]string{
		fieldStatus:     string(StatusOffline),
		fieldUpdatedTs:  strconv.FormatInt(now, 10),
		fieldLastSeenTs: strconv.FormatInt(now, 10),
	}
	if err := s.kv.MapSetFields(ctx, stateKey, fields, s.stateTTL); err != nil {
		return Effect{}, err
	}
	return Effect{Kind: EffectTransitioned, To: StatusOffline, Ts: now}, nil
}

// EffectiveStatus implements spec.md §4.D effectiveStatus.
func (s *Store) EffectiveStatus(ctx context.Context, shardKey, stateKey string, userID int64, now int64) (Status, int64, error) {
	member := strconv.FormatInt(userID, 10)

	score, ok, err := s.kv.ScoredSetScore(ctx, shardKey, member)
	if err != nil {
		return "", 0, err
	}
	if !ok || int64(score) < now {
		ts := now
		if lastSeen, err := s.kv.MapGetField(ctx, stateKey, fieldLastSeenTs); err == nil {
			if parsed, perr := strconv.ParseInt(lastSeen, 10, 64); perr == nil {
				ts = parsed
			}
		} else if !errors.Is(err, kv.ErrNotFound) {
			return "", 0, err
		}
		return StatusOffline, ts, nil
	}

	fields, err := s.kv.MapGetAll(ctx, stateKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return "", 0, err
	}
	status := StatusOnline
	ts := now
	if st, ok := fields[fieldStatus]; ok && st != "" {
		status = Status(st)
	}
	if tsStr, ok := fields[fieldUpdatedTs]; ok {
		if parsed, perr := strconv.ParseInt(tsStr, 10, 64); perr == nil {
			ts = parsed
		}
	}
	return status, ts, nil
}

// RangeExpired returns up to limit members of the shard's scored set with
// an expiry at or before now, for the reaper's per-tick scan (spec.md
// §4.F step 2).
func (s *Store) RangeExpired(ctx context.Context, shardKey string, now int64, limit int64) ([]string, error) {
	return s.kv.ScoredSetRangeByScore(ctx, shardKey, float64(now), limit)
}

func (s *Store) isEffectivelyOnline(ctx context.Context, shardKey, member string, now int64) (bool, error) {
	score, ok, err := s.kv.ScoredSetScore(ctx, shardKey, member)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return int64(score) >= now, nil
}
