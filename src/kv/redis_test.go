package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"presence/src/kv"
)

func newTestRedis(t *testing.T) *kv.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return kv.NewRedisFromClient(client)
}

func TestScoredSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	require.NoError(t, r.ScoredSetUpsert(ctx, "onlineUsers", "7", 1030))

	members, err := r.ScoredSetRangeByScore(ctx, "onlineUsers", 2000, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"7"}, members)

	score, ok, err := r.ScoredSetScore(ctx, "onlineUsers", "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(1030), score)
}

func TestRemoveIfScoreBelowRemovesExpired(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	require.NoError(t, r.ScoredSetUpsert(ctx, "onlineUsers", "7", 1030))

	result, err := r.ScoredSetRemoveIfScoreBelow(ctx, "onlineUsers", "7", 1031)
	require.NoError(t, err)
	require.Equal(t, kv.Removed, result.Outcome)
	require.NotNil(t, result.ObservedScore)
	require.Equal(t, float64(1030), *result.ObservedScore)

	_, ok, err := r.ScoredSetScore(ctx, "onlineUsers", "7")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestRemoveIfScoreBelowAbortsOnRace reproduces spec.md scenario 4: a
// heartbeat renews the score to a value at or above the reaper's
// threshold before the conditional remove runs, so the remove must abort.
func TestRemoveIfScoreBelowAbortsOnRace(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	require.NoError(t, r.ScoredSetUpsert(ctx, "onlineUsers", "7", 1030))

	// Heartbeat wins the race before the reaper's conditional remove.
	require.NoError(t, r.ScoredSetUpsert(ctx, "onlineUsers", "7", 1061))

	result, err := r.ScoredSetRemoveIfScoreBelow(ctx, "onlineUsers", "7", 1031)
	require.NoError(t, err)
	require.Equal(t, kv.Aborted, result.Outcome)
	require.NotNil(t, result.ObservedScore)
	require.Equal(t, float64(1061), *result.ObservedScore)

	score, ok, err := r.ScoredSetScore(ctx, "onlineUsers", "7")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, float64(1061), score)
}

func TestRemoveIfScoreBelowOnAbsentMember(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	result, err := r.ScoredSetRemoveIfScoreBelow(ctx, "onlineUsers", "nope", 1000)
	require.NoError(t, err)
	require.Equal(t, kv.Aborted, result.Outcome)
	require.Nil(t, result.ObservedScore)
}

func TestMapFieldsRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	fields := map[string]string{
		"status":             "online",
		"updated_ts":         "1000",
		"last_heartbeat_ts":  "1000",
	}
	require.NoError(t, r.MapSetFields(ctx, "presence:state:7", fields, time.Hour))

	got, err := r.MapGetAll(ctx, "presence:state:7")
	require.NoError(t, err)
	require.Equal(t, fields, got)

	status, err := r.MapGetField(ctx, "presence:state:7", "status")
	require.NoError(t, err)
	require.Equal(t, "online", status)
}

func TestMapGetAllNotFound(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	_, err := r.MapGetAll(ctx, "presence:state:missing")
	require.ErrorIs(t, err, kv.ErrNotFound)
}
