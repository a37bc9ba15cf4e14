package graph

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// RedisFollowStore is a minimal FollowStore backed by a Redis set per
// follower (`follows:<follower>`), used for local development and
// integration tests when no separate durable graph service is deployed.
// Production deployments should inject the real social-graph service's
// client instead; RedisFollowStore exists so the presence core is
// runnable standalone.
type RedisFollowStore struct {
	rdb *goredis.Client
}

func NewRedisFollowStore(rdb *goredis.Client) *RedisFollowStore {
	return &RedisFollowStore{rdb: rdb}
}

func (s *RedisFollowStore) Follows(ctx context.Context, from, to int64) (bool, error) {
	key := followsKey(from)
	member := strconv.FormatInt(to, 10)
	ok, err := s.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return ok, nil
}

// Follow records that `from` follows `to`, used by tests and local
// bootstrapping; the durable graph service owns this write path in
// production.
func (s *RedisFollowStore) Follow(ctx context.Context, from, to int64) error {
	return s.rdb.SAdd(ctx, followsKey(from), strconv.FormatInt(to, 10)).Err()
}

// Mutuals enumerates userID's mutual follows, satisfying
// leaderboard.MutualsStore. It fetches userID's followees, then pipelines
// a reverse membership check per followee so the round count stays at 2
// regardless of followee count.
func (s *RedisFollowStore) Mutuals(ctx context.Context, userID int64) ([]int64, error) {
	followees, err := s.rdb.SMembers(ctx, followsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(followees) == 0 {
		return nil, nil
	}

	self := strconv.FormatInt(userID, 10)
	ids := make([]int64, 0, len(followees))
	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.BoolCmd, 0, len(followees))
	for _, f := range followees {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		cmds = append(cmds, pipe.SIsMember(ctx, followsKey(id), self))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	mutuals := make([]int64, 0, len(ids))
	for i, id := range ids {
		reciprocated, err := cmds[i].Result()
		if err != nil || !reciprocated {
			continue
		}
		mutuals = append(mutuals, id)
	}
	return mutuals, nil
}

func followsKey(userID int64) string {
	return "follows:" + strconv.FormatInt(userID, 10)
}

var _ FollowStore = (*RedisFollowStore)(nil)
