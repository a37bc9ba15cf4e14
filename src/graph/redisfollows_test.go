package graph_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"presence/src/graph"
)

func newTestFollowStore(t *testing.T) *graph.RedisFollowStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return graph.NewRedisFollowStore(client)
}

func TestRedisFollowStoreFollowsReflectsRecordedEdges(t *testing.T) {
	ctx := context.Background()
	store := newTestFollowStore(t)

	require.NoError(t, store.Follow(ctx, 1, 2))

	ok, err := store.Follows(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Follows(ctx, 2, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisFollowStoreMutualsOnlyReturnsReciprocated(t *testing.T) {
	ctx := context.Background()
	store := newTestFollowStore(t)

	require.NoError(t, store.Follow(ctx, 1, 2))
	require.NoError(t, store.Follow(ctx, 1, 3))
	require.NoError(t, store.Follow(ctx, 2, 1))

	mutuals, err := store.Mutuals(ctx, 1)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{2}, mutuals)
}

func TestRedisFollowStoreMutualsEmptyWhenNoFollows(t *testing.T) {
	ctx := context.Background()
	store := newTestFollowStore(t)

	mutuals, err := store.Mutuals(ctx, 99)
	require.NoError(t, err)
	require.Empty(t, mutuals)
}
