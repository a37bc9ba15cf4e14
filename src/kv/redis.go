package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// removeIfScoreBelowScript is the server-side conditional remove from
// spec.md §4.A. It must be a single transactional unit: reading the score
// and removing the member cannot be split across a round trip, or a
// heartbeat racing the reaper could be removed after it just renewed.
//
// Returns {removed (0/1), score-or-false}.
var removeIfScoreBelowScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score == false then
	return {0, false}
end
if tonumber(score) < tonumber(ARGV[2]) then
	redis.call('ZREM', KEYS[1], ARGV[1])
	return {1, score}
end
return {0, score}
`)

// Redis is the production kv.Client, backed by go-redis against a
// Redis-compatible store.
type Redis struct {
	rdb *goredis.Client
}

// NewRedis wires a kv.Client against the given address/db.
func NewRedis(addr string, db int) *Redis {
	return &Redis{rdb: goredis.NewClient(&goredis.Options{Addr: addr, DB: db})}
}

// NewRedisFromClient wraps an already-constructed client, used by tests
// that point at a miniredis instance.
func NewRedisFromClient(rdb *goredis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) ScoredSetUpsert(ctx context.Context, key, member string, score float64) error {
	err := r.rdb.ZAdd(ctx, key, goredis.Z{Score: score, Member: member}).Err()
	return translate(err)
}

func (r *Redis) ScoredSetRangeByScore(ctx context.Context, key string, upper float64, limit int64) ([]string, error) {
	members, err := r.rdb.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   formatScore(upper),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, translate(err)
	}
	return members, nil
}

func (r *Redis) ScoredSetScore(ctx context.Context, key, member string) (float64, bool, error) {
	score, err := r.rdb.ZScore(ctx, key, member).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, false, nil
		}
		return 0, false, translate(err)
	}
	return score, true, nil
}

func (r *Redis) ScoredSetRemoveIfScoreBelow(ctx context.Context, key, member string, threshold float64) (RemoveResult, error) {
	raw, err := removeIfScoreBelowScript.Run(ctx, r.rdb, []string{key}, member, threshold).Result()
	if err != nil {
		return RemoveResult{}, translate(err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return RemoveResult{}, fmt.Errorf("%w: malformed script reply %v", ErrFatal, raw)
	}

	removed, _ := reply[0].(int64)
	result := RemoveResult{Outcome: Aborted}
	if removed == 1 {
		result.Outcome = Removed
	}
	if scoreStr, ok := reply[1].(string); ok {
		if score, perr := parseScore(scoreStr); perr == nil {
			result.ObservedScore = &score
		}
	}
	return result, nil
}

func (r *Redis) MapSetFields(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	pipe := r.rdb.TxPipeline()
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	pipe.HSet(ctx, key, args)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return translate(err)
}

func (r *Redis) MapGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, translate(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return fields, nil
}

func (r *Redis) MapGetField(ctx context.Context, key, field string) (string, error) {
	v, err := r.rdb.HGet(ctx, key, field).Result()
	if err != nil {
		return "", translate(err)
	}
	return v, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, goredis.Nil) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	// Connection-refused / pool-exhaustion style errors are transient:
	// the store may come back before the next caller trigger fires.
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func parseScore(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
